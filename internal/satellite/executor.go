// Package satellite implements the satellite tier: the command executor
// pipeline and the telemetry packet service.
package satellite

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/observability"
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/internal/ring"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// EventSource is the source attached to satellite events.
const EventSource = "satellite"

// DefaultLocalLogCapacity bounds the on-board log that WIPE_LOGS clears.
const DefaultLocalLogCapacity = 200

var (
	ErrNoPacket      = errors.New("no packet")
	ErrReplay        = errors.New("replay detected")
	ErrCRCMismatch   = errors.New("crc mismatch")
	ErrMissingOpcode = errors.New("missing opcode")
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrInvalidParams = errors.New("invalid params")
)

// ReplayPolicy selects how inbound sequence numbers are compared with the
// last accepted one.
type ReplayPolicy int

const (
	// ReplayExact rejects only a sequence equal to the last accepted one.
	ReplayExact ReplayPolicy = iota
	// ReplayMonotonic rejects any sequence not above the last accepted one.
	ReplayMonotonic
)

// ParseReplayPolicy resolves "exact" or "monotonic".
func ParseReplayPolicy(s string) (ReplayPolicy, error) {
	switch s {
	case "", "exact":
		return ReplayExact, nil
	case "monotonic":
		return ReplayMonotonic, nil
	default:
		return ReplayExact, fmt.Errorf("unknown replay policy %q", s)
	}
}

func (p ReplayPolicy) String() string {
	if p == ReplayMonotonic {
		return "monotonic"
	}
	return "exact"
}

func (p ReplayPolicy) rejects(seq int64, last *int64) bool {
	if last == nil {
		return false
	}
	if p == ReplayMonotonic {
		return seq <= *last
	}
	return seq == *last
}

// Response is returned for an executed command.
type Response struct {
	Opcode string               `json:"opcode"`
	Seq    int64                `json:"seq"`
	Result map[string]any       `json:"result"`
	State  model.SatelliteState `json:"state"`
}

// Metrics receives executor measurements.
type Metrics interface {
	ObserveCommand(opcode, result string)
}

// Executor validates and executes inbound command packets against the
// satellite state. All state mutation happens under one lock.
type Executor struct {
	events  events.Publisher
	log     logging.Logger
	metrics Metrics
	clock   timectrl.Clock
	policy  ReplayPolicy

	mu    sync.Mutex
	state model.SatelliteState

	localLog *ring.Buffer[model.LogEntry]
}

// Option configures an Executor.
type Option func(*Executor)

// WithPublisher sets where events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Executor) { e.events = events.OrDiscard(p) }
}

// WithLogger sets the process logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Executor) { e.log = logging.OrNoop(l) }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithClock sets the clock stamped on local log entries.
func WithClock(c timectrl.Clock) Option {
	return func(e *Executor) { e.clock = timectrl.OrWall(c) }
}

// WithReplayPolicy selects the replay comparison.
func WithReplayPolicy(p ReplayPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithLocalLogCapacity bounds the on-board log.
func WithLocalLogCapacity(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.localLog = ring.New[model.LogEntry](n)
		}
	}
}

// NewExecutor builds an executor in the power-on state.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		events:   events.Discard,
		log:      logging.Noop(),
		clock:    timectrl.Wall{},
		state:    model.NewSatelliteState(),
		localLog: ring.New[model.LogEntry](DefaultLocalLogCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns a snapshot of the satellite state.
func (e *Executor) State() model.SatelliteState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// LocalLogs returns the on-board log, oldest first.
func (e *Executor) LocalLogs() []model.LogEntry {
	return e.localLog.Snapshot()
}

// Handle runs one inbound payload through unwrap, replay, integrity and
// opcode checks, then executes it. Rejections wrap one of the package
// sentinels.
func (e *Executor) Handle(ctx context.Context, payload []byte) (Response, error) {
	ctx, span := observability.StartSpan(ctx, "satellite.Handle")
	defer span.End()

	resp, err := e.handle(ctx, payload)
	span.SetAttributes(attribute.String("satlink.opcode", resp.Opcode), attribute.Int64("satlink.seq", resp.Seq))
	if err != nil {
		observability.RecordError(span, err)
	}
	return resp, err
}

func (e *Executor) handle(ctx context.Context, payload []byte) (Response, error) {
	frame, err := packet.DecodeFrame(payload)
	if err != nil || (frame.Shape != packet.ShapeRaw && frame.Shape != packet.ShapeEnveloped) {
		if err == nil {
			err = fmt.Errorf("shape %s", frame.Shape)
		}
		e.reject(ctx, "", "NO_PACKET", model.LevelWarn, "Command rejected: no packet", map[string]any{"reason": err.Error()})
		return Response{}, fmt.Errorf("%w: %v", ErrNoPacket, err)
	}
	pkt := frame.Packet
	seq := pkt.Header.Seq
	opcode, hasOpcode := pkt.Opcode()
	resp := Response{Opcode: opcode, Seq: seq}

	e.mu.Lock()
	replay := e.policy.rejects(seq, e.state.LastAcceptedSeq)
	e.mu.Unlock()
	if replay {
		e.reject(ctx, opcode, "REPLAY_DETECTED", model.LevelWarn, fmt.Sprintf("Replay detected seq=%d", seq), map[string]any{
			"seq":    seq,
			"opcode": opcode,
			"policy": e.policy.String(),
		})
		return resp, fmt.Errorf("%w: seq %d", ErrReplay, seq)
	}

	if err := packet.Verify(pkt); err != nil {
		e.reject(ctx, opcode, "CRC_MISMATCH", model.LevelAlert, fmt.Sprintf("CRC mismatch on command seq=%d", seq), map[string]any{
			"seq":    seq,
			"opcode": opcode,
			"error":  err.Error(),
		})
		return resp, fmt.Errorf("%w: %v", ErrCRCMismatch, err)
	}

	if !hasOpcode {
		e.reject(ctx, "", "MISSING_OPCODE", model.LevelWarn, "Command rejected: missing opcode", map[string]any{"seq": seq})
		return resp, ErrMissingOpcode
	}
	handler, ok := handlers[opcode]
	if !ok {
		e.reject(ctx, opcode, "UNKNOWN_OPCODE", model.LevelWarn, fmt.Sprintf("Unknown opcode %s", opcode), map[string]any{
			"seq":    seq,
			"opcode": opcode,
		})
		return resp, fmt.Errorf("%w: %s", ErrUnknownOpcode, opcode)
	}

	params := pkt.Params()
	e.mu.Lock()
	// Replay is re-checked under the lock so two concurrent copies of the
	// same packet cannot both execute.
	if e.policy.rejects(seq, e.state.LastAcceptedSeq) {
		e.mu.Unlock()
		e.reject(ctx, opcode, "REPLAY_DETECTED", model.LevelWarn, fmt.Sprintf("Replay detected seq=%d", seq), map[string]any{"seq": seq, "opcode": opcode})
		return resp, fmt.Errorf("%w: seq %d", ErrReplay, seq)
	}
	out, err := handler(e, params)
	if err != nil {
		e.state.RejectCount++
		e.mu.Unlock()
		e.emit(ctx, model.LevelWarn, fmt.Sprintf("Invalid params for %s", opcode), map[string]any{
			"seq":    seq,
			"opcode": opcode,
			"error":  err.Error(),
		})
		e.observe(opcode, "INVALID_PARAMS")
		return resp, fmt.Errorf("%w: %s: %v", ErrInvalidParams, opcode, err)
	}
	accepted := seq
	e.state.LastAcceptedSeq = &accepted
	e.state.ExecCount++
	snapshot := e.state.Clone()
	e.mu.Unlock()

	if out.wipe {
		e.localLog.Clear()
	}
	details := map[string]any{"seq": seq, "opcode": opcode, "mode": snapshot.Mode}
	for k, v := range out.details {
		details[k] = v
	}
	e.emit(ctx, out.level, out.event, details)
	e.observe(opcode, "OK")
	e.log.Info(ctx, "command executed",
		logging.String("opcode", opcode),
		logging.Int64("seq", seq),
		logging.String("severity", string(out.level)),
	)

	resp.Result = out.result
	resp.State = snapshot
	return resp, nil
}

func (e *Executor) reject(ctx context.Context, opcode, code string, level model.Level, event string, details map[string]any) {
	e.mu.Lock()
	e.state.RejectCount++
	e.mu.Unlock()

	e.emit(ctx, level, event, details)
	e.observe(opcodeLabel(opcode), code)
	e.log.Warn(ctx, "command rejected",
		logging.String("opcode", opcode),
		logging.String("code", code),
		logging.String("event", event),
	)
}

func (e *Executor) emit(_ context.Context, level model.Level, event string, details map[string]any) {
	e.localLog.Push(model.LogEntry{
		Timestamp: e.clock.Now().UTC(),
		Level:     level,
		Source:    EventSource,
		Event:     event,
		Details:   details,
	})
	e.events.Publish(level, EventSource, event, details)
}

func (e *Executor) observe(opcode, result string) {
	if e.metrics != nil {
		e.metrics.ObserveCommand(opcode, result)
	}
}

// opcodeLabel keeps metric cardinality bounded to the allow-list.
func opcodeLabel(opcode string) string {
	if opcode == "" {
		return "none"
	}
	if _, ok := handlers[opcode]; !ok {
		return "unknown"
	}
	return opcode
}
