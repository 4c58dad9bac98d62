package satellite

import (
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/kb"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// TelemetryReport is the plain position listing.
type TelemetryReport struct {
	Satellites []model.Spacecraft `json:"satellites"`
	Timestamp  int64              `json:"timestamp"`
}

// Telemetry frames catalogue positions and the on-board mode as telemetry
// packets.
type Telemetry struct {
	codec     *packet.Codec
	catalogue *kb.Catalogue
	exec      *Executor
	clock     timectrl.Clock
}

// NewTelemetry builds the telemetry service. exec may be nil, in which
// case the mode is omitted.
func NewTelemetry(codec *packet.Codec, catalogue *kb.Catalogue, exec *Executor, clock timectrl.Clock) *Telemetry {
	if codec == nil {
		codec = packet.NewCodec(packet.WithClock(clock))
	}
	return &Telemetry{codec: codec, catalogue: catalogue, exec: exec, clock: timectrl.OrWall(clock)}
}

// Report returns the current positions.
func (t *Telemetry) Report() TelemetryReport {
	return TelemetryReport{Satellites: t.catalogue.List(), Timestamp: t.clock.Now().Unix()}
}

// Spacecraft looks up one catalogue entry.
func (t *Telemetry) Spacecraft(id string) (model.Spacecraft, bool) {
	return t.catalogue.Get(id)
}

// Packet builds the next telemetry packet.
func (t *Telemetry) Packet() (*packet.Packet, error) {
	body := map[string]any{"satellites": t.catalogue.List()}
	if t.exec != nil {
		body["mode"] = t.exec.State().Mode
	}
	return t.codec.BuildTelemetry(body)
}
