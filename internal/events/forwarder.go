package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/ring"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// Forwarder defaults.
const (
	DefaultQueueCapacity   = 500
	DefaultMaxRetries      = 3
	DefaultBackoffInitial  = 1500 * time.Millisecond
	DefaultBackoffMultiple = 1.5
	DefaultBackoffMax      = 6 * time.Second
)

// Forwarder outcome labels.
const (
	OutcomeDelivered        = "delivered"
	OutcomeRetried          = "retried"
	OutcomeDroppedOverflow  = "dropped_overflow"
	OutcomeDroppedExhausted = "dropped_exhausted"
)

// Metrics receives forwarder measurements.
type Metrics interface {
	SetQueueDepth(n int)
	ObserveForwarded(outcome string)
}

type task struct {
	payload  Payload
	body     []byte
	attempts int
	backoff  *backoff.ExponentialBackOff
}

// Forwarder is a Publisher backed by a bounded queue and a single delivery
// worker. The worker must be started once with Start; events published
// before that are held in the queue.
type Forwarder struct {
	sink    Sink
	queue   *ring.Buffer[*task]
	wake    chan struct{}
	started atomic.Bool

	// inflight counts tasks taken off the queue and not yet settled.
	inflight atomic.Int64

	log        logging.Logger
	metrics    Metrics
	clock      timectrl.Clock
	maxRetries int
	initial    time.Duration
	multiplier float64
	maxBackoff time.Duration
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithCapacity sets the queue capacity.
func WithCapacity(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.queue = ring.New[*task](n)
		}
	}
}

// WithMaxRetries sets how many redeliveries a failed event gets.
func WithMaxRetries(n int) Option {
	return func(f *Forwarder) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithBackoff overrides the retry schedule.
func WithBackoff(initial time.Duration, multiplier float64, max time.Duration) Option {
	return func(f *Forwarder) {
		if initial > 0 {
			f.initial = initial
		}
		if multiplier >= 1 {
			f.multiplier = multiplier
		}
		if max > 0 {
			f.maxBackoff = max
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(f *Forwarder) { f.log = logging.OrNoop(l) }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

// WithClock sets the clock used for timestamps and backoff sleeps.
func WithClock(c timectrl.Clock) Option {
	return func(f *Forwarder) { f.clock = timectrl.OrWall(c) }
}

// NewForwarder builds a forwarder delivering to sink.
func NewForwarder(sink Sink, opts ...Option) *Forwarder {
	f := &Forwarder{
		sink:       sink,
		queue:      ring.New[*task](DefaultQueueCapacity),
		wake:       make(chan struct{}, 1),
		log:        logging.Noop(),
		clock:      timectrl.Wall{},
		maxRetries: DefaultMaxRetries,
		initial:    DefaultBackoffInitial,
		multiplier: DefaultBackoffMultiple,
		maxBackoff: DefaultBackoffMax,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the delivery worker. Only the first call has any effect;
// it reports whether this call started the worker. The worker exits when
// ctx is cancelled.
func (f *Forwarder) Start(ctx context.Context) bool {
	if !f.started.CompareAndSwap(false, true) {
		return false
	}
	go f.run(ctx)
	return true
}

// Publish implements Publisher. It never blocks: when the queue is full the
// oldest pending event is evicted.
func (f *Forwarder) Publish(level model.Level, source, event string, details map[string]any) {
	p := NewPayload(level, source, event, details, f.clock.Now())
	body, err := p.Encode()
	if err != nil {
		f.log.Warn(context.Background(), "event not encodable; dropped",
			logging.String("event", event),
			logging.Err(err),
		)
		return
	}
	f.enqueue(&task{payload: p, body: body})
}

// Len returns the number of queued events, excluding one being delivered.
func (f *Forwarder) Len() int { return f.queue.Len() }

// Pending returns queued plus in-flight events.
func (f *Forwarder) Pending() int { return f.queue.Len() + int(f.inflight.Load()) }

// Flush waits until every queued event has been delivered or dropped.
func (f *Forwarder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for f.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (f *Forwarder) enqueue(t *task) {
	if old, evicted := f.queue.Push(t); evicted {
		f.observe(OutcomeDroppedOverflow)
		f.log.Debug(context.Background(), "event queue full; dropped oldest",
			logging.String("event", old.payload.Data.Event),
			logging.String("event_id", old.payload.ID),
		)
	}
	f.setDepth()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Forwarder) run(ctx context.Context) {
	f.log.Info(ctx, "event forwarder started", logging.Int("capacity", f.queue.Cap()))
	for {
		f.inflight.Add(1)
		t, ok := f.queue.PopFront()
		if !ok {
			f.inflight.Add(-1)
			select {
			case <-ctx.Done():
				return
			case <-f.wake:
				continue
			}
		}
		f.setDepth()
		f.deliver(ctx, t)
		f.inflight.Add(-1)
		if ctx.Err() != nil {
			return
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, t *task) {
	err := f.sink.Deliver(ctx, t.body)
	if err == nil {
		f.observe(OutcomeDelivered)
		return
	}

	t.attempts++
	if t.attempts > f.maxRetries {
		f.observe(OutcomeDroppedExhausted)
		f.log.Warn(ctx, "event dropped after max retries",
			logging.String("event", t.payload.Data.Event),
			logging.String("event_id", t.payload.ID),
			logging.Int("attempts", t.attempts),
			logging.Err(err),
		)
		return
	}

	if t.backoff == nil {
		t.backoff = f.newBackoff()
	}
	wait := t.backoff.NextBackOff()
	f.log.Debug(ctx, "event delivery failed; retrying",
		logging.String("event", t.payload.Data.Event),
		logging.Int("attempt", t.attempts),
		logging.Int("max_retries", f.maxRetries),
		logging.Duration("backoff", wait),
		logging.Err(err),
	)
	if err := timectrl.Sleep(ctx, f.clock, wait); err != nil {
		return
	}
	f.observe(OutcomeRetried)
	f.enqueue(t)
}

func (f *Forwarder) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initial
	b.Multiplier = f.multiplier
	b.MaxInterval = f.maxBackoff
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func (f *Forwarder) observe(outcome string) {
	if f.metrics != nil {
		f.metrics.ObserveForwarded(outcome)
	}
}

func (f *Forwarder) setDepth() {
	if f.metrics != nil {
		f.metrics.SetQueueDepth(f.queue.Len())
	}
}
