package satellite

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/signalsfoundry/satlink/model"
)

// outcome is what an opcode handler hands back to the pipeline.
type outcome struct {
	level   model.Level
	event   string
	result  map[string]any
	details map[string]any
	wipe    bool
}

// handlerFunc mutates e.state; it runs with e.mu held and must not block.
type handlerFunc func(e *Executor, params map[string]any) (outcome, error)

// handlers is the executor allow-list.
var handlers = map[string]handlerFunc{
	"PING":               execPing,
	"GET_STATUS":         execGetStatus,
	"REQ_TELEMETRY":      execReqTelemetry,
	"SET_MODE":           execSetMode,
	"SET_PAYLOAD_POWER":  execSetPayloadPower,
	"SET_ANTENNA_MODE":   execSetAntennaMode,
	"UPDATE_ORBIT_PARAM": execUpdateOrbitParam,
	"ATTITUDE_ADJUST":    execAttitudeAdjust,
	"WIPE_LOGS":          execWipeLogs,
	"DISABLE_SAFETIES":   execDisableSafeties,
	"UPLOAD_FIRMWARE":    execUploadFirmware,
	"DEBUG_SHELL":        execDebugShell,
	"OVERRIDE_AUTH":      execOverrideAuth,
}

// Opcodes returns the executable opcodes in sorted order.
func Opcodes() []string {
	return slices.Sorted(maps.Keys(handlers))
}

var (
	validModes        = []string{model.ModeNominal, model.ModeSafe}
	validPayloadPower = []string{"ON", "OFF"}
	validAntennaModes = []string{"OMNI", "DIRECTIONAL", "HIGH_GAIN"}
)

func execPing(e *Executor, _ map[string]any) (outcome, error) {
	return outcome{
		level:  model.LevelInfo,
		event:  "PING received",
		result: map[string]any{"alive": true, "mode": e.state.Mode},
	}, nil
}

func execGetStatus(e *Executor, _ map[string]any) (outcome, error) {
	snap := e.state.Clone()
	// The counters in the reply include this execution.
	snap.ExecCount++
	return outcome{
		level:  model.LevelInfo,
		event:  "Status requested",
		result: map[string]any{"status": snap},
	}, nil
}

func execReqTelemetry(e *Executor, _ map[string]any) (outcome, error) {
	return outcome{
		level:  model.LevelInfo,
		event:  "Telemetry downlink forced",
		result: map[string]any{"telemetry": "forced"},
	}, nil
}

func execSetMode(e *Executor, params map[string]any) (outcome, error) {
	mode, err := enumParam(params, "mode", validModes)
	if err != nil {
		return outcome{}, err
	}
	prev := e.state.Mode
	e.state.Mode = mode
	level := model.LevelInfo
	if mode == model.ModeSafe {
		level = model.LevelAlert
	}
	return outcome{
		level:   level,
		event:   fmt.Sprintf("Mode changed %s -> %s", prev, mode),
		result:  map[string]any{"mode": mode, "previous_mode": prev},
		details: map[string]any{"previous_mode": prev},
	}, nil
}

func execSetPayloadPower(e *Executor, params map[string]any) (outcome, error) {
	power, err := enumParam(params, "power", validPayloadPower)
	if err != nil {
		return outcome{}, err
	}
	e.state.PayloadPower = power
	return outcome{
		level:  model.LevelInfo,
		event:  fmt.Sprintf("Payload power %s", power),
		result: map[string]any{"payload_power": power},
	}, nil
}

func execSetAntennaMode(e *Executor, params map[string]any) (outcome, error) {
	mode, err := enumParam(params, "mode", validAntennaModes)
	if err != nil {
		return outcome{}, err
	}
	e.state.AntennaMode = mode
	return outcome{
		level:  model.LevelInfo,
		event:  fmt.Sprintf("Antenna mode %s", mode),
		result: map[string]any{"antenna_mode": mode},
	}, nil
}

func execUpdateOrbitParam(e *Executor, params map[string]any) (outcome, error) {
	if len(params) == 0 {
		return outcome{}, fmt.Errorf("at least one orbit parameter is required")
	}
	if e.state.OrbitParams == nil {
		e.state.OrbitParams = map[string]any{}
	}
	maps.Copy(e.state.OrbitParams, params)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	return outcome{
		level:   model.LevelAlert,
		event:   "Orbit parameters updated",
		result:  map[string]any{"orbit_params": maps.Clone(e.state.OrbitParams)},
		details: map[string]any{"updated": keys},
	}, nil
}

func execAttitudeAdjust(_ *Executor, params map[string]any) (outcome, error) {
	return outcome{
		level:   model.LevelAlert,
		event:   "Attitude adjustment executed",
		result:  map[string]any{"simulated": true, "params": params},
		details: map[string]any{"params": params},
	}, nil
}

func execWipeLogs(_ *Executor, _ map[string]any) (outcome, error) {
	return outcome{
		level:  model.LevelAlert,
		event:  "Satellite logs wiped",
		result: map[string]any{"wiped": true},
		wipe:   true,
	}, nil
}

func execDisableSafeties(e *Executor, _ map[string]any) (outcome, error) {
	e.state.SafetiesDisabled = true
	return outcome{
		level:  model.LevelAlert,
		event:  "Safeties disabled",
		result: map[string]any{"safeties_disabled": true},
	}, nil
}

func execUploadFirmware(e *Executor, params map[string]any) (outcome, error) {
	version, err := stringParam(params, "version")
	if err != nil {
		return outcome{}, err
	}
	prev := e.state.FirmwareVersion
	e.state.FirmwareVersion = version
	return outcome{
		level:   model.LevelAlert,
		event:   fmt.Sprintf("Firmware updated %s -> %s", prev, version),
		result:  map[string]any{"firmware_version": version, "previous_version": prev},
		details: map[string]any{"previous_version": prev, "firmware_version": version},
	}, nil
}

func execDebugShell(e *Executor, params map[string]any) (outcome, error) {
	cmd, _ := params["cmd"].(string)
	if strings.TrimSpace(cmd) == "" {
		cmd = "id"
	}
	return outcome{
		level:   model.LevelAlert,
		event:   "Debug shell opened",
		result:  map[string]any{"cmd": cmd, "output": shellOutput(cmd, e.state)},
		details: map[string]any{"cmd": cmd},
	}, nil
}

func execOverrideAuth(_ *Executor, _ map[string]any) (outcome, error) {
	return outcome{
		level:  model.LevelAlert,
		event:  "Override authorization received",
		result: map[string]any{"acknowledged": true},
	}, nil
}

func shellOutput(cmd string, st model.SatelliteState) string {
	name := strings.Fields(cmd)[0]
	switch name {
	case "id", "whoami":
		return "uid=0(root) gid=0(root) groups=0(root)"
	case "uname":
		return "satos 4.19.0-obc armv7l"
	case "status":
		b, _ := json.Marshal(st)
		return string(b)
	default:
		return "sh: " + name + ": command not found"
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("param %q is required", key)
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("param %q must be a non-empty string", key)
	}
	return strings.TrimSpace(s), nil
}

func enumParam(params map[string]any, key string, allowed []string) (string, error) {
	s, err := stringParam(params, key)
	if err != nil {
		return "", err
	}
	s = strings.ToUpper(s)
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("param %q must be one of %s", key, strings.Join(allowed, ", "))
}
