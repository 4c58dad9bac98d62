package monitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/signalsfoundry/satlink/model"
)

// IngestShape identifies which form an ingested body arrived in.
type IngestShape int

const (
	// ShapeBare is {level, source, event, details}.
	ShapeBare IngestShape = iota + 1
	// ShapeEnvelope is the forwarder form {status, data:{...}, ts}.
	ShapeEnvelope
)

func (s IngestShape) String() string {
	switch s {
	case ShapeBare:
		return "bare"
	case ShapeEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// ErrInvalidEntry is returned for bodies that are neither shape.
var ErrInvalidEntry = errors.New("invalid log entry")

// Ingest is a decoded ingest request.
type Ingest struct {
	Shape   IngestShape
	Level   model.Level
	Source  string
	Event   string
	Details map[string]any
}

type rawEntry struct {
	Level   *string         `json:"level"`
	Source  *string         `json:"source"`
	Event   *string         `json:"event"`
	Details json.RawMessage `json:"details"`
}

type rawEnvelope struct {
	Status *string         `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// DecodeIngest decodes body as either a bare entry or a forwarder envelope.
// Missing level becomes INFO and missing source "unknown".
func DecodeIngest(body []byte) (Ingest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return Ingest{}, fmt.Errorf("%w: body is not a JSON object", ErrInvalidEntry)
	}

	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Ingest{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if env.Status != nil && isObject(env.Data) {
		in, err := decodeEntry(env.Data)
		in.Shape = ShapeEnvelope
		return in, err
	}

	in, err := decodeEntry(body)
	in.Shape = ShapeBare
	return in, err
}

func decodeEntry(raw []byte) (Ingest, error) {
	var e rawEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Ingest{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.Level == nil && e.Event == nil && e.Source == nil {
		return Ingest{}, fmt.Errorf("%w: no level, source or event", ErrInvalidEntry)
	}

	in := Ingest{Level: model.LevelInfo, Source: "unknown", Details: map[string]any{}}
	if e.Level != nil {
		in.Level = model.ParseLevel(*e.Level)
	}
	if e.Source != nil && *e.Source != "" {
		in.Source = *e.Source
	}
	if e.Event != nil {
		in.Event = *e.Event
	}
	if len(e.Details) > 0 && !bytes.Equal(bytes.TrimSpace(e.Details), []byte("null")) {
		if !isObject(e.Details) {
			return Ingest{}, fmt.Errorf("%w: details must be an object", ErrInvalidEntry)
		}
		if err := json.Unmarshal(e.Details, &in.Details); err != nil {
			return Ingest{}, fmt.Errorf("%w: details: %v", ErrInvalidEntry, err)
		}
	}
	return in, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
