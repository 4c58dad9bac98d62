package api

import (
	"fmt"
	"net/http"

	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/internal/satellite"
)

// SatelliteServer exposes the command executor and telemetry service.
type SatelliteServer struct {
	base
	exec      *satellite.Executor
	telemetry *satellite.Telemetry
}

// NewSatelliteServer builds the satellite tier HTTP surface.
func NewSatelliteServer(exec *satellite.Executor, telemetry *satellite.Telemetry, opts ...Option) *SatelliteServer {
	return &SatelliteServer{base: newBase("satellite", opts), exec: exec, telemetry: telemetry}
}

// Handler returns the routed, instrumented handler.
func (s *SatelliteServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/telemetry_ccsds", s.handleTelemetryPacket)
	mux.HandleFunc("GET /api/satellite/{id}", s.handleSpacecraft)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/satellite_logs", s.handleLocalLogs)
	return s.handler(mux)
}

func (s *SatelliteServer) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, s.telemetry.Report())
}

// handleTelemetryPacket serves the enveloped packet, or the bare packet
// with ?raw=1.
func (s *SatelliteServer) handleTelemetryPacket(w http.ResponseWriter, r *http.Request) {
	p, err := s.telemetry.Packet()
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("raw"); raw == "1" || raw == "true" {
		s.write(w, http.StatusOK, p)
		return
	}
	s.write(w, http.StatusOK, packet.Wrap(p, s.clock.Now().Unix()))
}

func (s *SatelliteServer) handleSpacecraft(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sc, ok := s.telemetry.Spacecraft(id)
	if !ok {
		s.fail(w, r, CodeNotFound, fmt.Sprintf("satellite %q not found", id))
		return
	}
	s.ok(w, sc)
}

func (s *SatelliteServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		// An unreadable or empty body carries no packet.
		s.fail(w, r, CodeNoPacket, err.Error())
		return
	}
	resp, err := s.exec.Handle(r.Context(), body)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, struct {
		Accepted bool `json:"accepted"`
		satellite.Response
	}{Accepted: true, Response: resp})
}

func (s *SatelliteServer) handleState(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, s.exec.State())
}

func (s *SatelliteServer) handleLocalLogs(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, map[string]any{"logs": s.exec.LocalLogs()})
}
