package orbit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/satlink/internal/logging"
	"github.com/signalsfoundry/satlink/kb"
	"github.com/signalsfoundry/satlink/model"
	"github.com/signalsfoundry/satlink/timectrl"
)

// DefaultRefreshInterval is how often tracked positions are recomputed.
const DefaultRefreshInterval = 30 * time.Second

// FallbackSpacecraft is served when no element set can be propagated.
func FallbackSpacecraft(now time.Time) []model.Spacecraft {
	ts := now.Unix()
	return []model.Spacecraft{
		{ID: "SAT-1", Name: "ISS (ZARYA)", Lat: 28.6, Lon: 77.2, AltKM: 408, VelocityKMS: 7.66, Status: "ACTIVE", Timestamp: ts},
		{ID: "SAT-2", Name: "NOAA-18", Lat: 15.3, Lon: 80.1, AltKM: 854, VelocityKMS: 7.35, Status: "ACTIVE", Timestamp: ts},
	}
}

// Tracker keeps a catalogue's positions current by propagating each entry's
// element set.
type Tracker struct {
	catalogue *kb.Catalogue
	clock     timectrl.Clock
	log       logging.Logger

	mu          sync.Mutex
	propagators map[string]*Propagator
}

// NewTracker loads elems into catalogue as SAT-1..SAT-n. Entries whose
// element set cannot be initialised are skipped; when none survive the
// static fallback entries are added instead.
func NewTracker(catalogue *kb.Catalogue, elems []Element, clock timectrl.Clock, log logging.Logger) (*Tracker, error) {
	t := &Tracker{
		catalogue:   catalogue,
		clock:       timectrl.OrWall(clock),
		log:         logging.OrNoop(log),
		propagators: make(map[string]*Propagator),
	}

	ctx := context.Background()
	for _, e := range elems {
		p, err := NewPropagator(e)
		if err != nil {
			t.log.Warn(ctx, "skipping element set", logging.String("name", e.Name), logging.Err(err))
			continue
		}
		id := fmt.Sprintf("SAT-%d", len(t.propagators)+1)
		sc := model.Spacecraft{
			ID:       id,
			Name:     e.Name,
			NoradID:  e.NoradID,
			Status:   "ACTIVE",
			TLELine1: e.Line1,
			TLELine2: e.Line2,
		}
		if err := catalogue.Add(sc); err != nil {
			return nil, err
		}
		t.propagators[id] = p
	}

	if len(t.propagators) == 0 {
		t.log.Warn(ctx, "no usable element sets; serving static positions")
		for _, sc := range FallbackSpacecraft(t.clock.Now()) {
			if err := catalogue.Add(sc); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// Tracked returns how many entries are propagated.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.propagators)
}

// Refresh propagates every tracked entry to the current time. A failing
// entry keeps its previous position. It returns how many were updated.
func (t *Tracker) Refresh(ctx context.Context) int {
	now := t.clock.Now()

	t.mu.Lock()
	props := make(map[string]*Propagator, len(t.propagators))
	for id, p := range t.propagators {
		props[id] = p
	}
	t.mu.Unlock()

	updated := 0
	for id, p := range props {
		pos, err := p.At(now)
		if err != nil {
			t.log.Warn(ctx, "propagation failed", logging.String("id", id), logging.Err(err))
			continue
		}
		if err := t.catalogue.UpdatePosition(id, kb.Position{
			Lat:         pos.Lat,
			Lon:         pos.Lon,
			AltKM:       pos.AltKM,
			VelocityKMS: pos.VelocityKMS,
			Timestamp:   now.Unix(),
		}); err != nil {
			t.log.Warn(ctx, "position update failed", logging.String("id", id), logging.Err(err))
			continue
		}
		updated++
	}
	return updated
}

// Run refreshes immediately and then every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	for {
		n := t.Refresh(ctx)
		t.log.Debug(ctx, "positions refreshed", logging.Int("updated", n))
		if err := timectrl.Sleep(ctx, t.clock, interval); err != nil {
			return
		}
	}
}
