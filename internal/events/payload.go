package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/satlink/model"
)

// Record is the event body shared by every producer and the monitor.
type Record struct {
	Level   model.Level    `json:"level"`
	Source  string         `json:"source"`
	Event   string         `json:"event"`
	Details map[string]any `json:"details"`
}

// Payload is the envelope posted to the monitoring tier.
type Payload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Data   Record `json:"data"`
	TS     int64  `json:"ts"`
}

// NewPayload wraps an event in the ingest envelope. Nil details become an
// empty object.
func NewPayload(level model.Level, source, event string, details map[string]any, now time.Time) Payload {
	if details == nil {
		details = map[string]any{}
	}
	return Payload{
		ID:     uuid.NewString(),
		Status: "ok",
		Data: Record{
			Level:   level,
			Source:  source,
			Event:   event,
			Details: details,
		},
		TS: now.Unix(),
	}
}

// Encode renders the payload as JSON.
func (p Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", p.Data.Event, err)
	}
	return b, nil
}

// Publisher accepts events for asynchronous delivery. Implementations must
// not block the caller and never report delivery failure.
type Publisher interface {
	Publish(level model.Level, source, event string, details map[string]any)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(level model.Level, source, event string, details map[string]any)

// Publish implements Publisher.
func (f PublisherFunc) Publish(level model.Level, source, event string, details map[string]any) {
	f(level, source, event, details)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(model.Level, string, string, map[string]any) {})

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard
	}
	return p
}
