package model

import (
	"strings"
	"time"
)

// Level is the severity attached to a domain event.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelAlert Level = "ALERT"
)

// ParseLevel normalises a level name. Unknown or empty names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "ALERT":
		return LevelAlert
	default:
		return LevelInfo
	}
}

// Important reports whether events at this level are forwarded to the
// monitoring tier by default.
func (l Level) Important() bool {
	return l == LevelWarn || l == LevelError || l == LevelAlert
}

// LogEntry is one structured event held by the monitoring tier.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Source    string         `json:"source"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details"`
}

// AlertEntry is a LogEntry promoted into the alert buffer.
type AlertEntry struct {
	LogEntry
	// Reason is "level" when promoted for ALERT severity and "content"
	// when promoted by the event-text heuristic.
	Reason string `json:"reason"`
}
