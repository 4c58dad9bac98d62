// Package api serves the HTTP surface of the three tiers. Every response is
// a {status, data, ts} envelope, or {status:"error", error, details, ts}
// with a stable error code.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/observability"
	"github.com/signalsfoundry/satlink/timectrl"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Envelope is the common response shape.
type Envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
	TS      int64  `json:"ts"`
}

// base carries what every tier server shares.
type base struct {
	service string
	clock   timectrl.Clock
	log     logging.Logger
	metrics *observability.Collector
}

// Option configures a tier server.
type Option func(*base)

// WithClock sets the clock stamped into envelopes.
func WithClock(c timectrl.Clock) Option {
	return func(b *base) { b.clock = timectrl.OrWall(c) }
}

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(b *base) { b.log = logging.OrNoop(l) }
}

// WithMetrics attaches HTTP metrics and enables GET /metrics.
func WithMetrics(c *observability.Collector) Option {
	return func(b *base) { b.metrics = c }
}

func newBase(service string, opts []Option) base {
	b := base{service: service, clock: timectrl.Wall{}, log: logging.Noop()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b base) ok(w http.ResponseWriter, data any) {
	b.write(w, http.StatusOK, Envelope{Status: "ok", Data: data, TS: b.clock.Now().Unix()})
}

func (b base) fail(w http.ResponseWriter, r *http.Request, code, details string) {
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		b.log.Error(r.Context(), "request failed",
			logging.String("request_id", logging.RequestIDFromContext(r.Context())),
			logging.String("route", r.URL.Path),
			logging.String("code", code),
			logging.String("details", details),
		)
	}
	b.write(w, status, Envelope{Status: "error", Error: code, Details: details, TS: b.clock.Now().Unix()})
}

// failErr classifies err and writes the matching error envelope.
func (b base) failErr(w http.ResponseWriter, r *http.Request, err error) {
	b.fail(w, r, CodeFor(err), err.Error())
}

func (b base) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		b.log.Warn(context.Background(), "encode response", logging.Err(err))
	}
}

// handler assembles the middleware chain around mux and adds /metrics.
func (b base) handler(mux *http.ServeMux) http.Handler {
	if b.metrics != nil {
		mux.Handle("GET /metrics", b.metrics.Handler())
	}
	mux.HandleFunc("GET /api/health", b.health)
	return RequestID(b.log, b.metrics.Middleware(b.service, recoverer(b, mux)))
}

func (b base) health(w http.ResponseWriter, _ *http.Request) {
	b.ok(w, map[string]any{"service": b.service, "healthy": true})
}

var (
	errEmptyBody = errors.New("empty request body")
	errBadJSON   = errors.New("invalid JSON body")
)

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	return body, nil
}

// decodeJSON decodes an object body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return nil
}
