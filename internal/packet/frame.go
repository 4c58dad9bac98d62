package packet

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Shape names the transport form a packet arrived in.
type Shape int

const (
	// ShapeRaw is a bare packet object.
	ShapeRaw Shape = iota + 1
	// ShapeEnveloped is {"status":"ok","data":{"ccsds_packet":{...}}}.
	ShapeEnveloped
	// ShapeInline is {"status":"ok","data":{...packet...}}.
	ShapeInline
)

func (s Shape) String() string {
	switch s {
	case ShapeRaw:
		return "raw"
	case ShapeEnveloped:
		return "enveloped"
	case ShapeInline:
		return "inline"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidJSON indicates the payload is not a JSON object.
	ErrInvalidJSON = errors.New("payload is not a JSON object")
	// ErrUnrecognizedShape indicates valid JSON that matches no known packet form.
	ErrUnrecognizedShape = errors.New("unrecognized packet shape")
)

// Frame is the result of decoding a transport payload.
type Frame struct {
	Shape  Shape
	Packet *Packet
}

// Envelope is the wrapped transport form.
type Envelope struct {
	Status string       `json:"status"`
	Data   EnvelopeData `json:"data"`
	TS     int64        `json:"ts"`
}

// EnvelopeData carries the wrapped packet.
type EnvelopeData struct {
	Packet *Packet `json:"ccsds_packet"`
}

// Wrap encloses p in the enveloped transport form.
func Wrap(p *Packet, ts int64) Envelope {
	return Envelope{Status: "ok", Data: EnvelopeData{Packet: p}, TS: ts}
}

// DecodeFrame classifies and decodes a payload. It never returns a nil
// packet without an error.
func DecodeFrame(data []byte) (Frame, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return Frame{}, ErrInvalidJSON
	}

	if status, ok := stringField(top, "status"); ok && status == "ok" {
		var inner map[string]json.RawMessage
		if raw, ok := top["data"]; ok && json.Unmarshal(raw, &inner) == nil && inner != nil {
			if pkt, ok := inner["ccsds_packet"]; ok {
				return decodeAs(ShapeEnveloped, pkt)
			}
			if looksLikePacket(inner) {
				return decodeAs(ShapeInline, top["data"])
			}
		}
	}

	if looksLikePacket(top) {
		return decodeAs(ShapeRaw, data)
	}
	return Frame{}, ErrUnrecognizedShape
}

func decodeAs(shape Shape, raw json.RawMessage) (Frame, error) {
	var p Packet
	if err := decodeUseNumber(raw, &p); err != nil {
		return Frame{Shape: shape}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Frame{Shape: shape, Packet: &p}, nil
}

func looksLikePacket(m map[string]json.RawMessage) bool {
	_, hasHeader := m["header"]
	_, hasBody := m["body"]
	return hasHeader || hasBody
}

func stringField(m map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
