// Package monitor implements the monitoring tier: bounded log and alert
// buffers, alert promotion, and the connection-rate anomaly detector.
//
// Tests in this package use testify, as do the events and ring packages it
// builds on.
package monitor

import (
	"context"
	"time"

	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// Source and event names for alerts raised by the monitor itself.
const (
	SelfSource              = "monitor"
	EventHighConnectionRate = "HighConnectionRate"
	DefaultSummaryInterval  = 30 * time.Second
)

// Metrics receives monitor measurements.
type Metrics interface {
	ObserveLog(level string)
	IncAlerts()
	IncHighConnectionRate()
}

// Monitor ingests events into a Store and runs the connection-rate detector.
type Monitor struct {
	store    *Store
	detector *Detector
	clock    timectrl.Clock
	log      logging.Logger
	metrics  Metrics
}

// Config sizes a Monitor.
type Config struct {
	LogCapacity   int
	AlertCapacity int
	RateWindow    time.Duration
	RateLimit     int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock used for timestamps and the sliding window.
func WithClock(c timectrl.Clock) Option {
	return func(m *Monitor) { m.clock = timectrl.OrWall(c) }
}

// WithLogger sets the process logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.log = logging.OrNoop(l) }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(mt Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// New builds a Monitor.
func New(cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		store: NewStore(cfg.LogCapacity, cfg.AlertCapacity),
		clock: timectrl.Wall{},
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.detector = NewDetector(cfg.RateWindow, cfg.RateLimit, m.clock)
	return m
}

// Store exposes the underlying buffers for read APIs.
func (m *Monitor) Store() *Store { return m.store }

// Ingest records one event, promotes it when it qualifies, and feeds
// connection events to the rate detector.
func (m *Monitor) Ingest(ctx context.Context, in Ingest) model.LogEntry {
	entry := m.add(ctx, in.Level, in.Source, in.Event, in.Details)

	if IsConnEvent(entry.Event) {
		identity := ConnIdentity(entry)
		rate, tripped := m.detector.Observe(identity)
		if tripped {
			if m.metrics != nil {
				m.metrics.IncHighConnectionRate()
			}
			m.add(ctx, model.LevelAlert, SelfSource, EventHighConnectionRate, map[string]any{
				"src_ip": identity,
				"rate":   rate,
			})
		}
	}
	return entry
}

// Publish lets the monitor act as an in-process event publisher.
func (m *Monitor) Publish(level model.Level, source, event string, details map[string]any) {
	m.Ingest(context.Background(), Ingest{Level: level, Source: source, Event: event, Details: details})
}

func (m *Monitor) add(ctx context.Context, level model.Level, source, event string, details map[string]any) model.LogEntry {
	if details == nil {
		details = map[string]any{}
	}
	entry := model.LogEntry{
		Timestamp: m.clock.Now().UTC(),
		Level:     level,
		Source:    source,
		Event:     event,
		Details:   details,
	}
	promoted := m.store.Append(entry)

	if m.metrics != nil {
		m.metrics.ObserveLog(string(level))
		if promoted {
			m.metrics.IncAlerts()
		}
	}
	m.log.Debug(ctx, "log ingested",
		logging.String("level", string(level)),
		logging.String("source", source),
		logging.String("event", event),
		logging.Bool("promoted", promoted),
	)
	return entry
}

// RunSummary logs buffer counts every interval until ctx is done.
func (m *Monitor) RunSummary(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSummaryInterval
	}
	for {
		if err := timectrl.Sleep(ctx, m.clock, interval); err != nil {
			return
		}
		swept := m.detector.Sweep()
		ov := m.store.Overview()
		m.log.Info(ctx, "monitor summary",
			logging.Int("logs", ov.LogCount),
			logging.Int("alerts", ov.AlertCount),
			logging.Int("tracked_sources", m.detector.Identities()),
			logging.Int("idle_sources_dropped", swept),
		)
	}
}
