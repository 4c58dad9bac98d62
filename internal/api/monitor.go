package api

import (
	"net/http"
	"strconv"

	"github.com/signalsfoundry/satlink/internal/monitor"
)

// MonitorServer exposes log ingestion and the log, alert and overview reads.
type MonitorServer struct {
	base
	monitor *monitor.Monitor
}

// NewMonitorServer builds the monitoring tier HTTP surface.
func NewMonitorServer(m *monitor.Monitor, opts ...Option) *MonitorServer {
	return &MonitorServer{base: newBase("monitoring", opts), monitor: m}
}

// Handler returns the routed, instrumented handler.
func (s *MonitorServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /log", s.handleIngest)
	mux.HandleFunc("POST /api/logs", s.handleIngest)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/overview", s.handleOverview)
	mux.HandleFunc("GET /health", s.health)
	return s.handler(mux)
}

func (s *MonitorServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, CodeLogIngestFail, err.Error())
		return
	}
	in, err := monitor.DecodeIngest(body)
	if err != nil {
		s.fail(w, r, CodeLogIngestFail, err.Error())
		return
	}
	s.monitor.Ingest(r.Context(), in)
	s.ok(w, map[string]any{"ingested": true})
}

func (s *MonitorServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{"logs": s.monitor.Store().Logs(limit(r))})
}

func (s *MonitorServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]any{"alerts": s.monitor.Store().Alerts(limit(r))})
}

func (s *MonitorServer) handleOverview(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, s.monitor.Store().Overview())
}

// limit parses ?limit=N; absent or invalid means everything retained.
func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
