package authority

import (
	"fmt"
	"maps"
	"slices"

	"github.com/signalsfoundry/satlink/model"
)

// Opcodes known to the ground authority.
const (
	OpPing             = "PING"
	OpGetStatus        = "GET_STATUS"
	OpReqTelemetry     = "REQ_TELEMETRY"
	OpSetMode          = "SET_MODE"
	OpSetPayloadPower  = "SET_PAYLOAD_POWER"
	OpSetAntennaMode   = "SET_ANTENNA_MODE"
	OpSetThruster      = "SET_THRUSTER"
	OpAttitudeAdjust   = "ATTITUDE_ADJUST"
	OpUpdateOrbitParam = "UPDATE_ORBIT_PARAM"
	OpWipeLogs         = "WIPE_LOGS"
	OpDisableSafeties  = "DISABLE_SAFETIES"
	OpUploadFirmware   = "UPLOAD_FIRMWARE"
	OpDebugShell       = "DEBUG_SHELL"
	OpOverrideAuth     = "OVERRIDE_AUTH"
)

// Registry maps each opcode to the minimum tier allowed to issue it.
type Registry map[string]model.PrivilegeLevel

// DefaultRegistry returns the fixed command tier table.
func DefaultRegistry() Registry {
	return Registry{
		OpPing:             model.Public,
		OpGetStatus:        model.User,
		OpReqTelemetry:     model.User,
		OpSetMode:          model.Ops,
		OpSetPayloadPower:  model.Ops,
		OpSetAntennaMode:   model.Ops,
		OpSetThruster:      model.Admin,
		OpAttitudeAdjust:   model.Admin,
		OpUpdateOrbitParam: model.Admin,
		OpWipeLogs:         model.Root,
		OpDisableSafeties:  model.Root,
		OpUploadFirmware:   model.Root,
		OpDebugShell:       model.Root,
		OpOverrideAuth:     model.Root,
	}
}

// Required returns the tier needed for opcode.
func (r Registry) Required(opcode string) (model.PrivilegeLevel, bool) {
	lvl, ok := r[opcode]
	return lvl, ok
}

// Opcodes returns the registered opcodes in sorted order.
func (r Registry) Opcodes() []string {
	return slices.Sorted(maps.Keys(r))
}

// Credentials maps shared-secret keys to tiers.
type Credentials map[string]model.PrivilegeLevel

// DemoCredentials is the built-in key set used when none is configured.
func DemoCredentials() Credentials {
	return Credentials{
		"user-key-1234":  model.User,
		"ops-key-5678":   model.Ops,
		"admin-key-9012": model.Admin,
		"root-key-3456":  model.Root,
	}
}

// ParseCredentials converts a key → tier-name table.
func ParseCredentials(raw map[string]string) (Credentials, error) {
	out := make(Credentials, len(raw))
	for key, name := range raw {
		if key == "" {
			return nil, fmt.Errorf("credential with empty key")
		}
		lvl, err := model.ParsePrivilegeLevel(name)
		if err != nil {
			return nil, fmt.Errorf("credential %s: %w", Mask(key), err)
		}
		out[key] = lvl
	}
	return out, nil
}

// Lookup returns the tier registered for key.
func (c Credentials) Lookup(key string) (model.PrivilegeLevel, bool) {
	if key == "" {
		return model.Public, false
	}
	lvl, ok := c[key]
	return lvl, ok
}

// Mask hides all but the first few characters of a secret for display.
func Mask(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 4:
		return "****"
	default:
		return key[:4] + "****"
	}
}
