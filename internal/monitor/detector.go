package monitor

import (
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// Connection-rate defaults.
const (
	ConnPrefix        = "conn:"
	DefaultRateWindow = 10 * time.Second
	DefaultRateLimit  = 30
)

// IsConnEvent reports whether event names a connection observation.
func IsConnEvent(event string) bool {
	return len(event) >= len(ConnPrefix) && strings.EqualFold(event[:len(ConnPrefix)], ConnPrefix)
}

// ConnIdentity returns the identity a connection event is counted under:
// details.src_ip when it is a non-empty string, else the source.
func ConnIdentity(entry model.LogEntry) string {
	if ip, ok := entry.Details["src_ip"].(string); ok && ip != "" {
		return ip
	}
	return entry.Source
}

// Detector tracks per-identity connection timestamps over a sliding window.
type Detector struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	lastSweep time.Time
	window    time.Duration
	limit     int
	clock     timectrl.Clock
}

// NewDetector builds a detector. Non-positive window or limit use defaults.
func NewDetector(window time.Duration, limit int, clock timectrl.Clock) *Detector {
	if window <= 0 {
		window = DefaultRateWindow
	}
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &Detector{
		windows: make(map[string][]time.Time),
		window:  window,
		limit:   limit,
		clock:   timectrl.OrWall(clock),
	}
}

// Observe records one connection for identity and returns the number of
// connections still inside the window, plus whether that exceeds the limit.
// Every observation above the limit trips again.
func (d *Detector) Observe(identity string) (int, bool) {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	times := append(d.windows[identity], now)
	kept := times[:0]
	for _, ts := range times {
		if now.Sub(ts) < d.window {
			kept = append(kept, ts)
		}
	}
	d.windows[identity] = kept
	if now.Sub(d.lastSweep) >= d.window {
		d.sweepLocked(now)
	}
	return len(kept), len(kept) > d.limit
}

// Sweep forgets identities with no connection inside the window and
// returns how many were dropped.
func (d *Detector) Sweep() int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweepLocked(now)
}

func (d *Detector) sweepLocked(now time.Time) int {
	d.lastSweep = now
	dropped := 0
	for id, times := range d.windows {
		// timestamps are appended in order, so the newest is last
		if len(times) == 0 || now.Sub(times[len(times)-1]) >= d.window {
			delete(d.windows, id)
			dropped++
		}
	}
	return dropped
}

// Rate returns the current in-window count for identity without recording.
func (d *Detector) Rate(identity string) int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ts := range d.windows[identity] {
		if now.Sub(ts) < d.window {
			n++
		}
	}
	return n
}

// Identities returns how many identities currently hold window state.
func (d *Detector) Identities() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}
