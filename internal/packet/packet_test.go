package packet

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

func testCodec() *Codec {
	clk := timectrl.NewManual(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	return NewCodec(WithClock(clk))
}

func TestFreshPacketsValidate(t *testing.T) {
	codec := testCodec()

	telem, err := codec.BuildTelemetry(map[string]any{"satellites": []any{}, "mode": "NOMINAL"})
	if err != nil {
		t.Fatalf("BuildTelemetry: %v", err)
	}
	cmd, err := codec.BuildCommand("SET_MODE", map[string]any{"mode": "SAFE"})
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}

	for _, p := range []*Packet{telem, cmd} {
		if !Validate(p) {
			t.Fatalf("fresh %s packet failed validation: %v", p.Header.Type, Verify(p))
		}
	}
}

func TestTelemetrySequenceIsMonotonic(t *testing.T) {
	codec := testCodec()
	var last int64
	for i := 0; i < 5; i++ {
		p, err := codec.BuildTelemetry(nil)
		if err != nil {
			t.Fatalf("BuildTelemetry: %v", err)
		}
		if p.Header.Seq <= last {
			t.Fatalf("seq %d not greater than %d", p.Header.Seq, last)
		}
		last = p.Header.Seq
	}
}

func TestCommandSequenceDerivedFromWallClock(t *testing.T) {
	clk := timectrl.NewManual(time.UnixMilli(3*CommandSeqModulus + 1234))
	codec := NewCodec(WithClock(clk))

	p, err := codec.BuildCommand("PING", nil)
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if p.Header.Seq != 1234 {
		t.Fatalf("seq = %d, want 1234", p.Header.Seq)
	}
	if p.Header.Type != TypeCommand || p.Header.Version != Version {
		t.Fatalf("unexpected header %+v", p.Header)
	}
	if op, ok := p.Opcode(); !ok || op != "PING" {
		t.Fatalf("Opcode() = %q, %v", op, ok)
	}
	if len(p.Params()) != 0 {
		t.Fatalf("Params() = %v, want empty", p.Params())
	}
}

func TestMutationAfterSealingFailsValidation(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(p *Packet)
	}{
		{"seq", func(p *Packet) { p.Header.Seq++ }},
		{"timestamp", func(p *Packet) { p.Header.Timestamp-- }},
		{"type", func(p *Packet) { p.Header.Type = TypeTelemetry }},
		{"opcode", func(p *Packet) { p.Body["opcode"] = "DISABLE_SAFETIES" }},
		{"param value", func(p *Packet) { p.Params()["mode"] = "NOMINAL" }},
		{"extra body key", func(p *Packet) { p.Body["injected"] = true }},
		{"checksum", func(p *Packet) { p.Checksum ^= 1 }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			p, err := testCodec().BuildCommand("SET_MODE", map[string]any{"mode": "SAFE"})
			if err != nil {
				t.Fatalf("BuildCommand: %v", err)
			}
			tt.mutate(p)
			if Validate(p) {
				t.Fatalf("mutated packet still validates")
			}
		})
	}
}

func TestVerifyClassifiesFailures(t *testing.T) {
	if err := Verify(nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Verify(nil) = %v, want ErrMalformed", err)
	}

	p, _ := testCodec().BuildTelemetry(map[string]any{"a": 1})
	p.Header.Version = 2
	if err := Verify(p); !errors.Is(err, ErrMalformed) {
		t.Fatalf("unsupported version: %v, want ErrMalformed", err)
	}

	p, _ = testCodec().BuildTelemetry(map[string]any{"a": 1})
	p.Body["a"] = 2
	if err := Verify(p); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("changed body: %v, want ErrChecksumMismatch", err)
	}
}

func TestWireRoundTripPreservesChecksum(t *testing.T) {
	codec := testCodec()
	payload := map[string]any{
		"satellites": []model.Spacecraft{{
			ID: "SAT-1", Name: "ISS (ZARYA)", Lat: 51.6421, Lon: -12.5, AltKM: 418.25, VelocityKMS: 7.66, Status: "ACTIVE", Timestamp: 1740830400,
		}},
		"mode":  "NOMINAL",
		"label": "<ground&sat>",
		"big":   int64(1) << 60,
	}
	p, err := codec.BuildTelemetry(payload)
	if err != nil {
		t.Fatalf("BuildTelemetry: %v", err)
	}

	wire, err := json.Marshal(Wrap(p, 1740830400))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	frame, err := DecodeFrame(wire)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Shape != ShapeEnveloped {
		t.Fatalf("shape = %v, want enveloped", frame.Shape)
	}
	if err := Verify(frame.Packet); err != nil {
		t.Fatalf("received packet failed validation: %v", err)
	}
}

func TestNormalizeRejectsNonObjects(t *testing.T) {
	if _, err := Normalize([]int{1, 2}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Normalize(slice) = %v, want ErrMalformed", err)
	}
	if _, err := testCodec().BuildTelemetry("just a string"); err == nil {
		t.Fatalf("BuildTelemetry accepted a non-object payload")
	}
	if _, err := testCodec().BuildCommand("", nil); err == nil {
		t.Fatalf("BuildCommand accepted an empty opcode")
	}
}
