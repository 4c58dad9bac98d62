package packet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync/atomic"

	"github.com/signalsfoundry/satlink/timectrl"
)

// Version is the only header version this codec produces or accepts.
const Version = 1

// Type distinguishes telemetry from command packets.
type Type string

const (
	TypeTelemetry Type = "TELEMETRY"
	TypeCommand   Type = "COMMAND"
)

// CommandSeqModulus bounds command sequence numbers derived from wall time.
const CommandSeqModulus = 65536

var (
	// ErrMalformed indicates a packet whose structure prevents computing a checksum.
	ErrMalformed = errors.New("malformed packet")
	// ErrChecksumMismatch indicates the carried checksum differs from the recomputed one.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Header carries framing metadata.
type Header struct {
	Version   int   `json:"version"`
	Type      Type  `json:"type"`
	Seq       int64 `json:"seq"`
	Timestamp int64 `json:"timestamp"`
}

// Packet is header + body + checksum. Packets are built per send and
// validated once per receipt.
type Packet struct {
	Header   Header         `json:"header"`
	Body     map[string]any `json:"body"`
	Checksum uint32         `json:"checksum"`
}

// Opcode returns the command opcode carried in the body.
func (p *Packet) Opcode() (string, bool) {
	if p == nil || p.Body == nil {
		return "", false
	}
	op, ok := p.Body["opcode"].(string)
	return op, ok && op != ""
}

// Params returns the command parameters carried in the body. Missing or
// non-object params yield an empty map.
func (p *Packet) Params() map[string]any {
	if p == nil || p.Body == nil {
		return map[string]any{}
	}
	if params, ok := p.Body["params"].(map[string]any); ok {
		return params
	}
	return map[string]any{}
}

type canonicalPacket struct {
	Header   Header         `json:"header"`
	Body     map[string]any `json:"body"`
	Checksum uint32         `json:"checksum"`
}

// Canonical returns the bytes the checksum is computed over.
func Canonical(p *Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrMalformed)
	}
	body, err := Normalize(p.Body)
	if err != nil {
		return nil, err
	}
	return encode(canonicalPacket{Header: p.Header, Body: body})
}

// Checksum computes the packet checksum with the checksum field treated as zero.
func Checksum(p *Packet) (uint32, error) {
	b, err := Canonical(p)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(b), nil
}

// Verify checks structure and checksum. It returns an error wrapping
// ErrMalformed or ErrChecksumMismatch.
func Verify(p *Packet) error {
	if p == nil {
		return fmt.Errorf("%w: nil packet", ErrMalformed)
	}
	switch {
	case p.Header.Version != Version:
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, p.Header.Version)
	case p.Header.Type != TypeTelemetry && p.Header.Type != TypeCommand:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, p.Header.Type)
	case p.Header.Seq < 0:
		return fmt.Errorf("%w: negative seq %d", ErrMalformed, p.Header.Seq)
	}
	sum, err := Checksum(p)
	if err != nil {
		return err
	}
	if sum != p.Checksum {
		return fmt.Errorf("%w: computed %d, carried %d", ErrChecksumMismatch, sum, p.Checksum)
	}
	return nil
}

// Validate reports whether the packet is well formed and its checksum matches.
func Validate(p *Packet) bool {
	return Verify(p) == nil
}

// Normalize converts an arbitrary JSON-encodable object into the map form a
// receiver would decode, so builders and validators agree on key order and
// number formatting. A nil value becomes an empty map.
func Normalize(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	raw, err := encode(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode body: %v", ErrMalformed, err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := decodeUseNumber(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: body is not an object: %v", ErrMalformed, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decodeUseNumber(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// Codec builds packets. The telemetry sequence is a per-process monotonic
// counter; command sequences are derived from wall time.
type Codec struct {
	clock      timectrl.Clock
	telemSeq   atomic.Int64
	commandSeq func() int64
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock sets the time source used for timestamps and command sequences.
func WithClock(c timectrl.Clock) Option {
	return func(codec *Codec) { codec.clock = c }
}

// WithCommandSeq overrides how command sequence numbers are chosen.
func WithCommandSeq(fn func() int64) Option {
	return func(codec *Codec) { codec.commandSeq = fn }
}

// NewCodec constructs a codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{clock: timectrl.Wall{}}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = timectrl.OrWall(c.clock)
	if c.commandSeq == nil {
		c.commandSeq = func() int64 {
			return c.clock.Now().UnixMilli() % CommandSeqModulus
		}
	}
	return c
}

// BuildTelemetry frames payload as the next telemetry packet.
func (c *Codec) BuildTelemetry(payload any) (*Packet, error) {
	body, err := Normalize(payload)
	if err != nil {
		return nil, err
	}
	return c.seal(Header{
		Version:   Version,
		Type:      TypeTelemetry,
		Seq:       c.telemSeq.Add(1),
		Timestamp: c.clock.Now().Unix(),
	}, body)
}

// BuildCommand frames an opcode and its parameters as a command packet.
// The sequence is not monotonic; two commands built within the same
// millisecond share a sequence number.
func (c *Codec) BuildCommand(opcode string, params map[string]any) (*Packet, error) {
	if opcode == "" {
		return nil, fmt.Errorf("%w: empty opcode", ErrMalformed)
	}
	if params == nil {
		params = map[string]any{}
	}
	body, err := Normalize(map[string]any{"opcode": opcode, "params": params})
	if err != nil {
		return nil, err
	}
	return c.seal(Header{
		Version:   Version,
		Type:      TypeCommand,
		Seq:       c.commandSeq(),
		Timestamp: c.clock.Now().Unix(),
	}, body)
}

func (c *Codec) seal(h Header, body map[string]any) (*Packet, error) {
	p := &Packet{Header: h, Body: body}
	sum, err := Checksum(p)
	if err != nil {
		return nil, err
	}
	p.Checksum = sum
	return p, nil
}
