package timectrl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by pollers, forwarders and sliding windows.
// Production code uses Wall; tests drive a Manual clock explicitly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Wall is the process wall clock.
type Wall struct{}

// Now implements Clock.
func (Wall) Now() time.Time { return time.Now() }

// After implements Clock.
func (Wall) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OrWall returns c, or the wall clock when c is nil.
func OrWall(c Clock) Clock {
	if c == nil {
		return Wall{}
	}
	return c
}

// Sleep blocks for d on the given clock or until ctx is done. It returns
// ctx.Err() when interrupted.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-OrWall(c).After(d):
		return nil
	}
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// Manual is a Clock whose time only moves when Advance or Set is called.
type Manual struct {
	mu        sync.Mutex
	now       time.Time
	waiters   []waiter
	listeners []func(time.Time)
}

// NewManual constructs a manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After implements Clock. Non-positive durations fire immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: m.now.Add(d), ch: ch})
	return ch
}

// Pending reports how many After channels have not fired yet.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// AddListener registers a callback invoked after every Advance or Set.
func (m *Manual) AddListener(fn func(time.Time)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Advance moves the clock forward by d and fires every due waiter in
// deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	m.Set(target)
}

// Set moves the clock to t. Moving backwards never fires waiters.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t

	sort.SliceStable(m.waiters, func(i, j int) bool { return m.waiters[i].at.Before(m.waiters[j].at) })
	var due []waiter
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.at.After(t) {
			due = append(due, w)
			continue
		}
		kept = append(kept, w)
	}
	m.waiters = kept
	listeners := append([]func(time.Time){}, m.listeners...)
	m.mu.Unlock()

	for _, w := range due {
		w.ch <- t
	}
	for _, fn := range listeners {
		fn(t)
	}
}

// BlockUntil waits until at least n After channels are pending, or the
// timeout elapses. It reports whether the condition was met.
func (m *Manual) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Pending() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return m.Pending() >= n
}
