// Package ground implements the ground tier: the telemetry link poller and
// the operator journal that feeds the monitoring tier.
package ground

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/internal/ring"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// EventSource is the source attached to events raised by the ground tier.
const EventSource = "ground-station"

const (
	// DefaultJournalCapacity bounds the retained journal lines.
	DefaultJournalCapacity = 200
	// DefaultJournalTail is how many lines the logs endpoint returns.
	DefaultJournalTail = 50
)

// ForwardPolicy decides whether a journal record is also sent to the
// monitoring tier.
type ForwardPolicy int

const (
	// ForwardAuto forwards WARN, ERROR and ALERT records only.
	ForwardAuto ForwardPolicy = iota
	// ForwardAlways forwards every record.
	ForwardAlways
	// ForwardNever keeps the record local.
	ForwardNever
)

func (p ForwardPolicy) forwards(level model.Level) bool {
	switch p {
	case ForwardAlways:
		return true
	case ForwardNever:
		return false
	default:
		return level.Important()
	}
}

// Journal is the ground station's human-readable log. Every record is kept
// as a "<RFC3339> [LEVEL] msg" line, written to the process logger and,
// depending on its policy, forwarded as a structured event.
type Journal struct {
	lines   *ring.Buffer[string]
	forward events.Publisher
	log     logging.Logger
	clock   timectrl.Clock
}

// NewJournal builds a journal retaining capacity lines. forward may be nil.
func NewJournal(capacity int, forward events.Publisher, log logging.Logger, clock timectrl.Clock) *Journal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}
	return &Journal{
		lines:   ring.New[string](capacity),
		forward: events.OrDiscard(forward),
		log:     logging.OrNoop(log),
		clock:   timectrl.OrWall(clock),
	}
}

// Record appends one line and forwards it according to policy.
func (j *Journal) Record(ctx context.Context, level model.Level, msg string, details map[string]any, policy ForwardPolicy) {
	line := fmt.Sprintf("%s [%s] %s", j.clock.Now().UTC().Format(time.RFC3339), level, msg)
	j.lines.Push(line)

	fields := []logging.Field{logging.String("level", string(level))}
	for k, v := range details {
		fields = append(fields, logging.Any(k, v))
	}
	switch level {
	case model.LevelError, model.LevelAlert:
		j.log.Error(ctx, msg, fields...)
	case model.LevelWarn:
		j.log.Warn(ctx, msg, fields...)
	default:
		j.log.Info(ctx, msg, fields...)
	}

	if policy.forwards(level) {
		if details == nil {
			details = map[string]any{}
		}
		j.forward.Publish(level, EventSource, msg, details)
	}
}

// Publish records an event from another ground component with the Auto
// policy. The source is kept in the journal line when it is not the ground
// station itself.
func (j *Journal) Publish(level model.Level, source, event string, details map[string]any) {
	msg := event
	if source != "" && source != EventSource {
		msg = source + ": " + event
	}
	j.Record(context.Background(), level, msg, details, ForwardAuto)
}

// Tail returns up to n of the most recent lines, oldest first. n <= 0
// returns everything retained.
func (j *Journal) Tail(n int) []string {
	if n <= 0 {
		return j.lines.Snapshot()
	}
	return j.lines.Tail(n)
}

// Len reports how many lines are retained.
func (j *Journal) Len() int { return j.lines.Len() }
