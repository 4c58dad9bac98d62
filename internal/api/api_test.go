package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/satlink/internal/authority"
	"github.com/signalsfoundry/satlink/internal/monitor"
	"github.com/signalsfoundry/satlink/internal/observability"
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/internal/satellite"
)

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details string          `json:"details"`
	TS      int64           `json:"ts"`
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode envelope: %v (%q)", method, path, err, rec.Body.String())
	}
	return rec, env
}

func TestCodeForAndStatus(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{authority.ErrMissingOpcode, CodeMissingOpcode, http.StatusBadRequest},
		{fmt.Errorf("%w: SELF_DESTRUCT", authority.ErrUnknownOpcode), CodeUnknownOpcode, http.StatusBadRequest},
		{satellite.ErrUnknownOpcode, CodeUnknownOpcode, http.StatusBadRequest},
		{fmt.Errorf("%w: needs ADMIN", authority.ErrUnauthorized), CodeUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("%w: timeout", authority.ErrUplinkFailed), CodeUplinkFailed, http.StatusBadGateway},
		{satellite.ErrReplay, CodeReplayDetected, http.StatusConflict},
		{satellite.ErrCRCMismatch, CodeCRCMismatch, http.StatusBadRequest},
		{packet.ErrMalformed, CodeCRCComputeFail, http.StatusBadRequest},
		{satellite.ErrNoPacket, CodeNoPacket, http.StatusBadRequest},
		{satellite.ErrInvalidParams, CodeInvalidParams, http.StatusBadRequest},
		{monitor.ErrInvalidEntry, CodeLogIngestFail, http.StatusBadRequest},
		{errNotFound, CodeNotFound, http.StatusNotFound},
		{errors.New("boom"), CodeServerError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code := CodeFor(tc.err)
		if code != tc.code {
			t.Errorf("CodeFor(%v) = %s, want %s", tc.err, code, tc.code)
		}
		if got := StatusFor(code); got != tc.status {
			t.Errorf("StatusFor(%s) = %d, want %d", code, got, tc.status)
		}
	}
}

func TestClientIPAndCredential(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	if got := ClientIP(r); got != "10.1.2.3" {
		t.Fatalf("ClientIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Fatalf("ClientIP with forwarding = %q", got)
	}

	if got := Credential(r); got != "" {
		t.Fatalf("Credential without headers = %q", got)
	}
	r.Header.Set("Authorization", "Bearer ops-key-5678")
	if got := Credential(r); got != "ops-key-5678" {
		t.Fatalf("bearer credential = %q", got)
	}
	r.Header.Set("X-Auth-Key", "admin-key-9012")
	if got := Credential(r); got != "admin-key-9012" {
		t.Fatalf("X-Auth-Key should win, got %q", got)
	}
}

func TestPanicsBecomeServerError(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	b := newBase("test", []Option{WithMetrics(metrics)})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /explode", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec, env := do(t, b.handler(mux), http.MethodGet, "/explode", "", map[string]string{RequestIDHeader: "req-42"})
	if rec.Code != http.StatusInternalServerError || env.Error != CodeServerError || env.Details != "kaboom" {
		t.Fatalf("response = %d %+v", rec.Code, env)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("request id = %q", got)
	}
	if got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("test", "GET /explode", "500")); got != 1 {
		t.Fatalf("panicking route not counted: %v", got)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	h := newBase("ground", []Option{WithMetrics(metrics)}).handler(http.NewServeMux())

	rec, env := do(t, h, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || env.Status != "ok" || !strings.Contains(string(env.Data), `"service":"ground"`) {
		t.Fatalf("health = %d %+v", rec.Code, env)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("missing generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	h.ServeHTTP(mrec, req)
	if mrec.Code != http.StatusOK || !strings.Contains(mrec.Body.String(), "satlink_http_requests_total") {
		t.Fatalf("metrics endpoint = %d", mrec.Code)
	}
}
