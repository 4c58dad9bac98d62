package orbit

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultElementsParse(t *testing.T) {
	elems := DefaultElements()
	if len(elems) != 5 {
		t.Fatalf("embedded catalogue has %d entries, want 5", len(elems))
	}
	if elems[0].Name != "ISS (ZARYA)" || elems[0].NoradID != 25544 {
		t.Fatalf("first element = %+v", elems[0])
	}
}

func TestParseTLERejectsBrokenInput(t *testing.T) {
	cases := map[string]string{
		"short":      "ISS\n1 25544U\n2 25544\n",
		"incomplete": "ISS\n" + DefaultElements()[0].Line1 + "\n",
		"mismatch":   "X\n" + DefaultElements()[0].Line1 + "\n" + DefaultElements()[1].Line2 + "\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseTLE(strings.NewReader(in)); !errors.Is(err, ErrInvalidTLE) {
				t.Fatalf("err = %v, want ErrInvalidTLE", err)
			}
		})
	}
}

// Exact coordinates belong to go-satellite; we check ranges and motion.
func TestPropagatorProducesPlausibleLowEarthOrbit(t *testing.T) {
	p, err := NewPropagator(DefaultElements()[0])
	if err != nil {
		t.Fatalf("NewPropagator: %v", err)
	}

	t1 := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	pos1, err := p.At(t1)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if pos1.Lat < -52 || pos1.Lat > 52 {
		t.Fatalf("latitude %v outside inclination band", pos1.Lat)
	}
	if pos1.Lon < -180 || pos1.Lon > 180 {
		t.Fatalf("longitude %v out of range", pos1.Lon)
	}
	if pos1.AltKM < 300 || pos1.AltKM > 500 {
		t.Fatalf("altitude %v km not LEO", pos1.AltKM)
	}
	if pos1.VelocityKMS < 7 || pos1.VelocityKMS > 8 {
		t.Fatalf("velocity %v km/s implausible", pos1.VelocityKMS)
	}

	pos2, err := p.At(t1.Add(10 * time.Minute))
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if pos1.Lat == pos2.Lat && pos1.Lon == pos2.Lon {
		t.Fatalf("position did not change over 10 minutes")
	}
}
