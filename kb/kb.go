// Package kb holds the satellite tier's catalogue of tracked spacecraft.
package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/satlink/model"
)

// EventType indicates what kind of change happened in the catalogue.
type EventType int

const (
	EventSpacecraftAdded EventType = iota
	EventPositionUpdated
)

// Event is emitted to subscribers when an entry changes.
type Event struct {
	Type       EventType
	Spacecraft model.Spacecraft
}

// Position is the propagated state written by UpdatePosition.
type Position struct {
	Lat         float64
	Lon         float64
	AltKM       float64
	VelocityKMS float64
	Timestamp   int64
}

// Catalogue is an in-memory, thread-safe store of tracked spacecraft.
type Catalogue struct {
	mu    sync.RWMutex
	craft map[string]*model.Spacecraft
	subs  map[int]func(Event)
	next  int
}

// NewCatalogue constructs an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{
		craft: make(map[string]*model.Spacecraft),
		subs:  make(map[int]func(Event)),
	}
}

// Add inserts a spacecraft. It returns an error if the ID already exists.
func (c *Catalogue) Add(sc model.Spacecraft) error {
	if sc.ID == "" {
		return fmt.Errorf("spacecraft ID is required")
	}
	c.mu.Lock()
	if _, exists := c.craft[sc.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("spacecraft with ID %q already exists", sc.ID)
	}
	stored := sc
	c.craft[sc.ID] = &stored
	subs := c.subscribers()
	c.mu.Unlock()

	notify(subs, Event{Type: EventSpacecraftAdded, Spacecraft: sc})
	return nil
}

// Get returns the spacecraft with the given ID.
func (c *Catalogue) Get(id string) (model.Spacecraft, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sc, ok := c.craft[id]
	if !ok {
		return model.Spacecraft{}, false
	}
	return *sc, true
}

// List returns a snapshot of every entry ordered by ID.
func (c *Catalogue) List() []model.Spacecraft {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]model.Spacecraft, 0, len(c.craft))
	for _, sc := range c.craft {
		res = append(res, *sc)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of entries.
func (c *Catalogue) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.craft)
}

// UpdatePosition stores a propagated position and notifies subscribers.
func (c *Catalogue) UpdatePosition(id string, pos Position) error {
	c.mu.Lock()
	sc, ok := c.craft[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("spacecraft with ID %q not found", id)
	}
	sc.Lat, sc.Lon = pos.Lat, pos.Lon
	sc.AltKM, sc.VelocityKMS = pos.AltKM, pos.VelocityKMS
	sc.Timestamp = pos.Timestamp
	event := Event{Type: EventPositionUpdated, Spacecraft: *sc}
	subs := c.subscribers()
	c.mu.Unlock()

	// Subscribers run outside the lock so they may call back in.
	notify(subs, event)
	return nil
}

// Subscribe registers a callback for catalogue events. It returns an
// unsubscribe function.
func (c *Catalogue) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Catalogue) subscribers() []func(Event) {
	out := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Event), e Event) {
	for _, fn := range subs {
		fn(e)
	}
}
