package monitor

import (
	"strings"

	"github.com/signalsfoundry/satlink/internal/ring"
	"github.com/signalsfoundry/satlink/model"
)

// Buffer capacities.
const (
	DefaultLogCapacity   = 500
	DefaultAlertCapacity = 200
)

// Promotion reasons recorded on AlertEntry.
const (
	ReasonLevel   = "level"
	ReasonContent = "content"
)

// Store holds the recent log and alert entries. The two buffers are
// independent and each guards itself.
type Store struct {
	logs   *ring.Buffer[model.LogEntry]
	alerts *ring.Buffer[model.AlertEntry]
}

// NewStore creates a store with the given capacities. Non-positive values
// use the defaults.
func NewStore(logCap, alertCap int) *Store {
	if logCap <= 0 {
		logCap = DefaultLogCapacity
	}
	if alertCap <= 0 {
		alertCap = DefaultAlertCapacity
	}
	return &Store{
		logs:   ring.New[model.LogEntry](logCap),
		alerts: ring.New[model.AlertEntry](alertCap),
	}
}

// Append records entry and copies it into the alert buffer when it
// qualifies. It reports whether the entry was promoted.
func (s *Store) Append(entry model.LogEntry) bool {
	s.logs.Push(entry)
	reason, ok := PromotionReason(entry)
	if !ok {
		return false
	}
	s.alerts.Push(model.AlertEntry{LogEntry: entry, Reason: reason})
	return true
}

// PromotionReason reports why entry belongs in the alert buffer: ALERT
// severity, or an event mentioning "scan" in any case.
func PromotionReason(entry model.LogEntry) (string, bool) {
	switch {
	case entry.Level == model.LevelAlert:
		return ReasonLevel, true
	case strings.Contains(strings.ToLower(entry.Event), "scan"):
		return ReasonContent, true
	default:
		return "", false
	}
}

// Logs returns up to limit of the newest log entries, oldest first. A
// non-positive limit returns all of them.
func (s *Store) Logs(limit int) []model.LogEntry {
	if limit <= 0 {
		limit = -1
	}
	return s.logs.Tail(limit)
}

// Alerts returns up to limit of the newest alerts, oldest first.
func (s *Store) Alerts(limit int) []model.AlertEntry {
	if limit <= 0 {
		limit = -1
	}
	return s.alerts.Tail(limit)
}

// Overview summarises both buffers.
type Overview struct {
	LogCount   int               `json:"log_count"`
	AlertCount int               `json:"alert_count"`
	LastLog    *model.LogEntry   `json:"last_log"`
	LastAlert  *model.AlertEntry `json:"last_alert"`
}

// Overview returns counts and the newest entry of each buffer.
func (s *Store) Overview() Overview {
	ov := Overview{LogCount: s.logs.Len(), AlertCount: s.alerts.Len()}
	if last, ok := s.logs.Last(); ok {
		ov.LastLog = &last
	}
	if last, ok := s.alerts.Last(); ok {
		ov.LastAlert = &last
	}
	return ov
}
