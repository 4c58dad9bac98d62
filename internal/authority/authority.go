// Package authority implements the ground-side command authority: the
// opcode tier registry, shared-secret credentials, the time-limited
// override, command history, and packet uplink to the satellite tier.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/observability"
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/internal/ring"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// Defaults.
const (
	DefaultOverrideUses    = 10
	DefaultHistoryCapacity = 100
	EventSource            = "ground-station"
)

// Denial reasons.
const (
	ReasonUnknownOpcode = "UNKNOWN_OPCODE"
	ReasonUnauthorized  = "UNAUTHORIZED"
)

// Dispatch outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomeDenied       = "denied"
	OutcomeOverride     = "override_activated"
	OutcomeUplinkFailed = "uplink_failed"
	OutcomeBuildFailed  = "build_failed"
)

var (
	// ErrMissingOpcode is returned when no opcode was supplied.
	ErrMissingOpcode = errors.New("missing opcode")
	// ErrUnknownOpcode is returned for opcodes absent from the registry.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrUnauthorized is returned when the credential does not meet the tier.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUplinkFailed wraps transport failures delivering a command.
	ErrUplinkFailed = errors.New("uplink failed")
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed  bool                 `json:"allowed"`
	Level    model.PrivilegeLevel `json:"level"`
	Required model.PrivilegeLevel `json:"required"`
	Reason   string               `json:"reason,omitempty"`
	Override bool                 `json:"override,omitempty"`
}

// OverrideState is the authorization bypass budget.
type OverrideState struct {
	Active        bool `json:"active"`
	RemainingUses int  `json:"remaining_uses"`
}

// HistoryEntry is one retained command submission.
type HistoryEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Opcode     string         `json:"opcode"`
	Params     map[string]any `json:"params"`
	Credential string         `json:"credential"`
	Level      string         `json:"level"`
	Packet     *packet.Packet `json:"packet,omitempty"`
}

// Result is returned by a successful Dispatch.
type Result struct {
	Accepted bool            `json:"accepted"`
	Opcode   string          `json:"opcode"`
	Seq      *int64          `json:"seq,omitempty"`
	Override *OverrideState  `json:"override,omitempty"`
	Uplink   json.RawMessage `json:"uplink,omitempty"`
}

// Uplinker delivers a command packet to the satellite and returns its reply.
type Uplinker interface {
	Uplink(ctx context.Context, p *packet.Packet) (json.RawMessage, error)
}

// Metrics receives authority measurements.
type Metrics interface {
	ObserveDispatch(opcode, outcome string)
	SetOverrideRemaining(n int)
}

// Authority gates and dispatches commands. One Authority is built per
// ground process; its override and history are guarded by a single lock.
type Authority struct {
	registry     Registry
	credentials  Credentials
	codec        *packet.Codec
	uplink       Uplinker
	events       events.Publisher
	log          logging.Logger
	metrics      Metrics
	clock        timectrl.Clock
	overrideUses int

	mu       sync.Mutex
	override OverrideState
	// override uses held by dispatches whose uplink has not returned
	reserved int
	history  *ring.Buffer[HistoryEntry]
}

// Option configures an Authority.
type Option func(*Authority)

// WithRegistry replaces the opcode tier table.
func WithRegistry(r Registry) Option {
	return func(a *Authority) {
		if r != nil {
			a.registry = r
		}
	}
}

// WithCredentials replaces the credential table.
func WithCredentials(c Credentials) Option {
	return func(a *Authority) {
		if c != nil {
			a.credentials = c
		}
	}
}

// WithCodec sets the packet codec used to build commands.
func WithCodec(c *packet.Codec) Option {
	return func(a *Authority) {
		if c != nil {
			a.codec = c
		}
	}
}

// WithPublisher sets where domain events go.
func WithPublisher(p events.Publisher) Option {
	return func(a *Authority) { a.events = events.OrDiscard(p) }
}

// WithLogger sets the process logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Authority) { a.log = logging.OrNoop(l) }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(a *Authority) { a.metrics = m }
}

// WithClock sets the clock stamped on history entries.
func WithClock(c timectrl.Clock) Option {
	return func(a *Authority) { a.clock = timectrl.OrWall(c) }
}

// WithOverrideUses sets the override budget.
func WithOverrideUses(n int) Option {
	return func(a *Authority) {
		if n > 0 {
			a.overrideUses = n
		}
	}
}

// WithHistoryCapacity bounds the command history.
func WithHistoryCapacity(n int) Option {
	return func(a *Authority) {
		if n > 0 {
			a.history = ring.New[HistoryEntry](n)
		}
	}
}

// New builds an Authority that delivers commands through up.
func New(up Uplinker, opts ...Option) *Authority {
	a := &Authority{
		registry:     DefaultRegistry(),
		credentials:  DemoCredentials(),
		uplink:       up,
		events:       events.Discard,
		log:          logging.Noop(),
		clock:        timectrl.Wall{},
		overrideUses: DefaultOverrideUses,
		history:      ring.New[HistoryEntry](DefaultHistoryCapacity),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.codec == nil {
		a.codec = packet.NewCodec(packet.WithClock(a.clock))
	}
	return a
}

// Authorize decides whether credential may issue opcode. It holds no
// override use; Dispatch reserves one when it relies on the override.
func (a *Authority) Authorize(opcode, credential string) Decision {
	return a.decide(opcode, credential, false)
}

// decide is Authorize that, with reserve set, takes an override use in the
// same critical section that grants it. The use is either spent by
// spendOverride or handed back by releaseOverride.
func (a *Authority) decide(opcode, credential string, reserve bool) Decision {
	required, ok := a.registry.Required(opcode)
	if !ok {
		return Decision{Reason: ReasonUnknownOpcode}
	}
	if required == model.Public {
		lvl, _ := a.credentials.Lookup(credential)
		return Decision{Allowed: true, Level: lvl, Required: required}
	}

	a.mu.Lock()
	overridden := a.override.Active && a.override.RemainingUses > a.reserved
	if overridden && reserve {
		a.reserved++
	}
	a.mu.Unlock()
	if overridden {
		return Decision{Allowed: true, Level: model.Root, Required: required, Override: true}
	}

	lvl, known := a.credentials.Lookup(credential)
	if !known || !lvl.Satisfies(required) {
		return Decision{Level: lvl, Required: required, Reason: ReasonUnauthorized}
	}
	return Decision{Allowed: true, Level: lvl, Required: required}
}

// Dispatch authorizes and executes one command. OVERRIDE_AUTH only arms the
// override; every other opcode is framed and uplinked. Failures wrap
// ErrMissingOpcode, ErrUnknownOpcode, ErrUnauthorized or ErrUplinkFailed.
func (a *Authority) Dispatch(ctx context.Context, opcode string, params map[string]any, credential string) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "authority.Dispatch", attribute.String("satlink.opcode", opcode))
	defer span.End()

	if opcode == "" {
		a.observe("", OutcomeDenied)
		return Result{}, ErrMissingOpcode
	}
	if params == nil {
		params = map[string]any{}
	}

	decision := a.decide(opcode, credential, true)
	span.SetAttributes(
		attribute.Bool("satlink.allowed", decision.Allowed),
		attribute.Bool("satlink.override", decision.Override),
	)
	if !decision.Allowed {
		a.deny(ctx, opcode, credential, decision)
		err := fmt.Errorf("%w: %s requires %s", ErrUnauthorized, opcode, decision.Required)
		if decision.Reason == ReasonUnknownOpcode {
			err = fmt.Errorf("%w: %s", ErrUnknownOpcode, opcode)
		}
		observability.RecordError(span, err)
		return Result{}, err
	}

	if opcode == OpOverrideAuth {
		a.releaseOverride(decision)
		return a.armOverride(ctx, params, credential, decision), nil
	}

	pkt, err := a.codec.BuildCommand(opcode, params)
	if err != nil {
		a.releaseOverride(decision)
		a.observe(opcode, OutcomeBuildFailed)
		observability.RecordError(span, err)
		return Result{}, fmt.Errorf("build %s: %w", opcode, err)
	}
	seq := pkt.Header.Seq
	span.SetAttributes(attribute.Int64("satlink.seq", seq))

	a.mu.Lock()
	a.history.Push(HistoryEntry{
		Timestamp:  a.clock.Now().UTC(),
		Opcode:     opcode,
		Params:     params,
		Credential: Mask(credential),
		Level:      decision.Level.String(),
		Packet:     pkt,
	})
	a.mu.Unlock()

	a.events.Publish(model.LevelInfo, EventSource, fmt.Sprintf("Command %s dispatched seq=%d", opcode, seq), map[string]any{
		"opcode":   opcode,
		"seq":      seq,
		"level":    decision.Level.String(),
		"override": decision.Override,
	})

	reply, err := a.uplink.Uplink(ctx, pkt)
	if err != nil {
		a.releaseOverride(decision)
		a.observe(opcode, OutcomeUplinkFailed)
		a.events.Publish(model.LevelError, EventSource, fmt.Sprintf("Uplink of %s failed", opcode), map[string]any{
			"opcode": opcode,
			"seq":    seq,
			"error":  err.Error(),
		})
		observability.RecordError(span, err)
		if !errors.Is(err, ErrUplinkFailed) {
			err = fmt.Errorf("%w: %v", ErrUplinkFailed, err)
		}
		return Result{}, err
	}

	a.spendOverride(ctx, decision)
	a.observe(opcode, OutcomeOK)
	a.log.Info(ctx, "command uplinked",
		logging.String("opcode", opcode),
		logging.Int64("seq", seq),
		logging.String("level", decision.Level.String()),
	)
	return Result{Accepted: true, Opcode: opcode, Seq: &seq, Uplink: reply}, nil
}

func (a *Authority) deny(ctx context.Context, opcode, credential string, d Decision) {
	a.observe(opcode, OutcomeDenied)
	level := model.LevelAlert
	if d.Reason == ReasonUnknownOpcode {
		level = model.LevelWarn
	}
	a.events.Publish(level, EventSource, fmt.Sprintf("Command %s denied: %s", opcode, d.Reason), map[string]any{
		"opcode":     opcode,
		"reason":     d.Reason,
		"required":   d.Required.String(),
		"credential": Mask(credential),
	})
	a.log.Warn(ctx, "command denied",
		logging.String("opcode", opcode),
		logging.String("reason", d.Reason),
	)
}

func (a *Authority) armOverride(ctx context.Context, params map[string]any, credential string, d Decision) Result {
	a.mu.Lock()
	a.override = OverrideState{Active: true, RemainingUses: a.overrideUses}
	state := a.override
	a.history.Push(HistoryEntry{
		Timestamp:  a.clock.Now().UTC(),
		Opcode:     OpOverrideAuth,
		Params:     params,
		Credential: Mask(credential),
		Level:      d.Level.String(),
	})
	a.mu.Unlock()

	a.setRemaining(state.RemainingUses)
	a.observe(OpOverrideAuth, OutcomeOverride)
	a.events.Publish(model.LevelAlert, EventSource, "Authorization override activated", map[string]any{
		"remaining_uses": state.RemainingUses,
		"credential":     Mask(credential),
	})
	a.log.Warn(ctx, "authorization override activated", logging.Int("remaining_uses", state.RemainingUses))
	return Result{Accepted: true, Opcode: OpOverrideAuth, Override: &state}
}

// releaseOverride hands back a use reserved by decide.
func (a *Authority) releaseOverride(d Decision) {
	if !d.Override {
		return
	}
	a.mu.Lock()
	if a.reserved > 0 {
		a.reserved--
	}
	a.mu.Unlock()
}

// spendOverride turns a reserved use into a spent one after a successful
// uplink and expires the override on its last use.
func (a *Authority) spendOverride(ctx context.Context, d Decision) {
	if !d.Override {
		return
	}
	a.mu.Lock()
	if a.reserved > 0 {
		a.reserved--
	}
	if !a.override.Active || a.override.RemainingUses <= 0 {
		a.mu.Unlock()
		return
	}
	a.override.RemainingUses--
	remaining := a.override.RemainingUses
	expired := remaining == 0
	if expired {
		a.override.Active = false
	}
	a.mu.Unlock()

	a.setRemaining(remaining)
	if expired {
		a.events.Publish(model.LevelInfo, EventSource, "Authorization override expired", map[string]any{})
		a.log.Info(ctx, "authorization override expired")
	}
}

// Override returns a copy of the override state.
func (a *Authority) Override() OverrideState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.override
}

// History returns retained submissions, oldest first.
func (a *Authority) History() []HistoryEntry {
	return a.history.Snapshot()
}

// Registry returns the opcode tier table.
func (a *Authority) Registry() Registry { return a.registry }

func (a *Authority) observe(opcode, outcome string) {
	if a.metrics != nil {
		a.metrics.ObserveDispatch(opcode, outcome)
	}
}

func (a *Authority) setRemaining(n int) {
	if a.metrics != nil {
		a.metrics.SetOverrideRemaining(n)
	}
}
