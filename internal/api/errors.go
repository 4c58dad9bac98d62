package api

import (
	"errors"
	"net/http"

	"github.com/signalsfoundry/satlink/internal/authority"
	"github.com/signalsfoundry/satlink/internal/monitor"
	"github.com/signalsfoundry/satlink/internal/packet"
	"github.com/signalsfoundry/satlink/internal/satellite"
)

// User-visible error codes.
const (
	CodeMissingOpcode  = "MISSING_OPCODE"
	CodeUnknownOpcode  = "UNKNOWN_OPCODE"
	CodeInvalidParams  = "INVALID_PARAMS"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNoPacket       = "NO_PACKET"
	CodeCRCComputeFail = "CRC_COMPUTE_FAIL"
	CodeCRCMismatch    = "CRC_MISMATCH"
	CodeReplayDetected = "REPLAY_DETECTED"
	CodeUplinkFailed   = "UPLINK_FAILED"
	CodeNotFound       = "NOT_FOUND"
	CodeLogIngestFail  = "LOG_INGEST_FAIL"
	CodeServerError    = "SERVER_ERROR"
)

// errNotFound is returned by handlers for unknown resources.
var errNotFound = errors.New("not found")

// CodeFor maps an error from any tier onto its code. Unclassified errors
// are SERVER_ERROR.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errNotFound):
		return CodeNotFound
	case errors.Is(err, authority.ErrMissingOpcode), errors.Is(err, satellite.ErrMissingOpcode):
		return CodeMissingOpcode
	case errors.Is(err, authority.ErrUnknownOpcode), errors.Is(err, satellite.ErrUnknownOpcode):
		return CodeUnknownOpcode
	case errors.Is(err, authority.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, authority.ErrUplinkFailed):
		return CodeUplinkFailed
	case errors.Is(err, satellite.ErrReplay):
		return CodeReplayDetected
	case errors.Is(err, satellite.ErrCRCMismatch), errors.Is(err, packet.ErrChecksumMismatch):
		return CodeCRCMismatch
	case errors.Is(err, packet.ErrMalformed):
		return CodeCRCComputeFail
	case errors.Is(err, satellite.ErrNoPacket):
		return CodeNoPacket
	case errors.Is(err, satellite.ErrInvalidParams), errors.Is(err, errEmptyBody):
		return CodeInvalidParams
	case errors.Is(err, monitor.ErrInvalidEntry):
		return CodeLogIngestFail
	default:
		return CodeServerError
	}
}

// StatusFor returns the HTTP status used for code.
func StatusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeReplayDetected:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUplinkFailed:
		return http.StatusBadGateway
	case CodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
