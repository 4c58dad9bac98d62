package model

import "time"

// LinkStatus is the ground tier's view of satellite reachability.
type LinkStatus string

const (
	LinkConnected    LinkStatus = "CONNECTED"
	LinkDisconnected LinkStatus = "DISCONNECTED"
)

// LinkState is owned by the telemetry link; callers only ever see copies.
type LinkState struct {
	Status         LinkStatus `json:"status"`
	LastSeq        *int64     `json:"last_seq"`
	LastUpdateTime *time.Time `json:"last_update_time"`
	CRCErrorCount  int        `json:"crc_error_count"`
}

// Clone returns a copy that shares no pointers with s.
func (s LinkState) Clone() LinkState {
	out := s
	if s.LastSeq != nil {
		v := *s.LastSeq
		out.LastSeq = &v
	}
	if s.LastUpdateTime != nil {
		v := *s.LastUpdateTime
		out.LastUpdateTime = &v
	}
	return out
}
