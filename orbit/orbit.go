// Package orbit propagates two-line element sets into sub-satellite
// positions using SGP4.
package orbit

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

//go:embed data/stations.tle
var stationsTLE string

// ErrInvalidTLE is returned for element sets SGP4 cannot use.
var ErrInvalidTLE = errors.New("invalid TLE")

// Element is one named two-line element set.
type Element struct {
	Name    string
	NoradID uint32
	Line1   string
	Line2   string
}

// Position is a geodetic sub-satellite point. Altitude is in kilometres
// and velocity in km/s.
type Position struct {
	Lat         float64
	Lon         float64
	AltKM       float64
	VelocityKMS float64
}

// DefaultElements returns the embedded station catalogue.
func DefaultElements() []Element {
	elems, err := ParseTLE(strings.NewReader(stationsTLE))
	if err != nil {
		return nil
	}
	return elems
}

// ParseTLE reads three-line (name, line 1, line 2) element sets. Blank
// lines are ignored.
func ParseTLE(r io.Reader) ([]Element, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), " \r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read TLE: %w", err)
	}
	if len(lines)%3 != 0 {
		return nil, fmt.Errorf("%w: %d lines is not a multiple of three", ErrInvalidTLE, len(lines))
	}

	out := make([]Element, 0, len(lines)/3)
	for i := 0; i < len(lines); i += 3 {
		e := Element{Name: strings.TrimSpace(lines[i]), Line1: lines[i+1], Line2: lines[i+2]}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		id, _ := strconv.ParseUint(strings.TrimSpace(e.Line1[2:7]), 10, 32)
		e.NoradID = uint32(id)
		out = append(out, e)
	}
	return out, nil
}

// Validate checks the fixed-column layout SGP4 parsing relies on.
func (e Element) Validate() error {
	switch {
	case len(e.Line1) != 69 || !strings.HasPrefix(e.Line1, "1 "):
		return fmt.Errorf("%w: %s line 1", ErrInvalidTLE, e.Name)
	case len(e.Line2) != 69 || !strings.HasPrefix(e.Line2, "2 "):
		return fmt.Errorf("%w: %s line 2", ErrInvalidTLE, e.Name)
	case e.Line1[2:7] != e.Line2[2:7]:
		return fmt.Errorf("%w: %s catalogue numbers differ", ErrInvalidTLE, e.Name)
	}
	return nil
}

// Propagator computes positions for one element set.
type Propagator struct {
	elem Element
	sat  satellite.Satellite
}

// NewPropagator initialises SGP4 for e.
func NewPropagator(e Element) (p *Propagator, err error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	// The SGP4 parser panics on non-numeric columns.
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: %s: %v", ErrInvalidTLE, e.Name, r)
		}
	}()
	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS72)
	return &Propagator{elem: e, sat: sat}, nil
}

// Element returns the element set being propagated.
func (p *Propagator) Element() Element { return p.elem }

// At propagates to t and converts to geodetic coordinates in degrees.
func (p *Propagator) At(t time.Time) (Position, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	gmst := satellite.GSTimeFromDate(year, int(month), day, hour, min, sec)
	alt, vel, ll := satellite.ECIToLLA(posECI, gmst)
	deg := satellite.LatLongDeg(ll)

	pos := Position{
		Lat:         round(deg.Latitude, 4),
		Lon:         round(normaliseLon(deg.Longitude), 4),
		AltKM:       round(alt, 2),
		VelocityKMS: round(vel, 2),
	}
	for _, v := range []float64{pos.Lat, pos.Lon, pos.AltKM, pos.VelocityKMS} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Position{}, fmt.Errorf("propagate %s: non-finite result", p.elem.Name)
		}
	}
	if pos.AltKM <= 0 {
		return Position{}, fmt.Errorf("propagate %s: decayed (altitude %.1f km)", p.elem.Name, pos.AltKM)
	}
	return pos, nil
}

func normaliseLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
