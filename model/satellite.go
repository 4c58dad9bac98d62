package model

import "maps"

// Satellite operating modes.
const (
	ModeNominal = "NOMINAL"
	ModeSafe    = "SAFE"
)

// SatelliteState is the on-board state mutated by executed commands.
type SatelliteState struct {
	Mode             string         `json:"mode"`
	PayloadPower     string         `json:"payload_power"`
	AntennaMode      string         `json:"antenna_mode"`
	OrbitParams      map[string]any `json:"orbit_params"`
	LastAcceptedSeq  *int64         `json:"last_accepted_seq"`
	SafetiesDisabled bool           `json:"safeties_disabled"`
	FirmwareVersion  string         `json:"firmware_version"`
	ExecCount        int            `json:"exec_count"`
	RejectCount      int            `json:"reject_count"`
}

// NewSatelliteState returns the power-on state.
func NewSatelliteState() SatelliteState {
	return SatelliteState{
		Mode:            ModeNominal,
		PayloadPower:    "OFF",
		AntennaMode:     "OMNI",
		OrbitParams:     map[string]any{},
		FirmwareVersion: "1.0.0",
	}
}

// Clone returns a deep-enough copy for snapshots: the orbit map and the
// sequence pointer are not shared.
func (s SatelliteState) Clone() SatelliteState {
	out := s
	out.OrbitParams = maps.Clone(s.OrbitParams)
	if out.OrbitParams == nil {
		out.OrbitParams = map[string]any{}
	}
	if s.LastAcceptedSeq != nil {
		v := *s.LastAcceptedSeq
		out.LastAcceptedSeq = &v
	}
	return out
}

// Spacecraft is one entry of the tracked catalogue reported in telemetry.
type Spacecraft struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	NoradID     uint32  `json:"norad_id,omitempty"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	AltKM       float64 `json:"alt"`
	VelocityKMS float64 `json:"velocity"`
	Status      string  `json:"status"`
	Timestamp   int64   `json:"timestamp"`

	TLELine1 string `json:"-"`
	TLELine2 string `json:"-"`
}
