// Package runtime owns the lifecycle shared by every tier process: the
// logger, metrics, tracing, the event forwarder, background loops and the
// HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/satlink/internal/config"
	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/observability"
)

// ShutdownTimeout bounds graceful HTTP shutdown and final event flush.
const ShutdownTimeout = 5 * time.Second

// Process is one tier process.
type Process struct {
	Name    string
	Config  config.Config
	Log     logging.Logger
	Metrics *observability.Collector

	ctx    context.Context
	cancel context.CancelFunc
	// the forwarder outlives ctx so Close can drain it
	workerCtx    context.Context
	workerCancel context.CancelFunc

	mu              sync.Mutex
	tasks           sync.WaitGroup
	forwarder       *events.Forwarder
	conns           []*nats.Conn
	tracingShutdown func(context.Context) error
}

// Option customises a Process.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	log        logging.Logger
}

// WithRegisterer registers metrics somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger replaces the logger built from configuration.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// New builds the process shell: logger, metrics collector and tracing. The
// process stops when ctx is done or Close is called.
func New(ctx context.Context, name string, cfg config.Config, opts ...Option) (*Process, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	tracing := observability.TracingConfigFromEnv(name)
	log := o.log
	if log == nil {
		log = logging.New(logging.Config{
			Level:    cfg.Logging.Level,
			Format:   cfg.Logging.Format,
			Tier:     name,
			Instance: tracing.InstanceID,
		})
	}

	collector, err := observability.NewCollector(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("metrics collector: %w", err)
	}
	shutdown, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}

	pctx, cancel := context.WithCancel(ctx)
	wctx, wcancel := context.WithCancel(context.Background())
	return &Process{
		Name:            name,
		Config:          cfg,
		Log:             log,
		Metrics:         collector,
		ctx:             pctx,
		cancel:          cancel,
		workerCtx:       wctx,
		workerCancel:    wcancel,
		tracingShutdown: shutdown,
	}, nil
}

// Context is cancelled when the process shuts down.
func (p *Process) Context() context.Context { return p.ctx }

// Forwarder builds, once, the event forwarder described by the events
// configuration and starts its worker.
func (p *Process) Forwarder() (*events.Forwarder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.forwarder != nil {
		return p.forwarder, nil
	}

	ec := p.Config.Events
	var sink events.Sink
	switch ec.Sink {
	case "nats":
		conn, err := events.DialNATS(ec.NATSURL, "satlink-"+p.Name)
		if err != nil {
			return nil, err
		}
		p.conns = append(p.conns, conn)
		sink = events.NewNATSSink(conn, ec.NATSSubject)
	default:
		sink = events.NewHTTPSink(ec.MonitorURL, events.NewHTTPClient(ec.ConnectTimeout, ec.ReadTimeout))
	}

	f := events.NewForwarder(sink,
		events.WithCapacity(ec.QueueCapacity),
		events.WithMaxRetries(ec.MaxRetries),
		events.WithBackoff(ec.BackoffInitial, ec.BackoffMultiplier, ec.BackoffMax),
		events.WithLogger(p.Log.With(logging.String("component", "forwarder"))),
		events.WithMetrics(p.Metrics),
	)
	f.Start(p.workerCtx)
	p.forwarder = f
	p.Log.Info(p.ctx, "event forwarder ready",
		logging.String("sink", ec.Sink),
		logging.Int("capacity", ec.QueueCapacity),
	)
	return f, nil
}

// DialNATS opens a NATS connection closed with the process.
func (p *Process) DialNATS(url string) (*nats.Conn, error) {
	conn, err := events.DialNATS(url, "satlink-"+p.Name)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
	return conn, nil
}

// Go runs a background loop until the process stops. fn must return once
// its context is done.
func (p *Process) Go(name string, fn func(ctx context.Context)) {
	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		p.Log.Debug(p.ctx, "background task started", logging.String("task", name))
		fn(p.ctx)
		p.Log.Debug(context.Background(), "background task stopped", logging.String("task", name))
	}()
}

// Serve listens on addr and serves h until the process stops, then shuts
// the server down gracefully.
func (p *Process) Serve(addr string, h http.Handler) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return p.ServeListener(lis, h)
}

// ServeListener is Serve on an existing listener.
func (p *Process) ServeListener(lis net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return p.ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	p.Log.Info(p.ctx, "serving HTTP", logging.String("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-p.ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		p.Log.Warn(shutdownCtx, "http shutdown", logging.Err(err))
	}
	return nil
}

// ServeMetrics also exposes /metrics on a dedicated address. An empty
// addr disables it.
func (p *Process) ServeMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", p.Metrics.Handler())
	p.Go("metrics", func(ctx context.Context) {
		if err := p.Serve(addr, mux); err != nil {
			p.Log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	})
}

// Close stops background loops, gives queued events a bounded chance to
// drain, and releases connections and the tracer.
func (p *Process) Close() {
	p.cancel()
	p.tasks.Wait()

	p.mu.Lock()
	f := p.forwarder
	p.mu.Unlock()
	if f != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		if err := f.Flush(flushCtx); err != nil {
			p.Log.Warn(context.Background(), "events still queued at shutdown", logging.Int("pending", f.Pending()))
		}
		cancel()
	}
	p.workerCancel()

	p.mu.Lock()
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
	p.mu.Unlock()

	observability.ShutdownWithTimeout(context.Background(), p.tracingShutdown, p.Log)
	p.Log.Info(context.Background(), "process stopped", logging.String("service", p.Name))
}
