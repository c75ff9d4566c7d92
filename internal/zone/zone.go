// Package zone holds the static set of drum zones defined in image space.
package zone

import (
	"errors"
	"fmt"

	geor2 "github.com/golang/geo/r2"
	"gonum.org/v1/gonum/spatial/r2"
)

// Down is the default strike direction: image y grows downward.
var Down = r2.Vec{X: 0, Y: 1}

// Region is an area of the image a marker can strike.
type Region interface {
	Contains(p r2.Vec) bool
	Center() r2.Vec
}

// Circle is a round region.
type Circle struct {
	C      r2.Vec
	Radius float64
}

// Contains reports whether p lies strictly inside the circle.
func (c Circle) Contains(p r2.Vec) bool {
	return r2.Norm(r2.Sub(p, c.C)) < c.Radius
}

// Center returns the circle center.
func (c Circle) Center() r2.Vec { return c.C }

// Rect is an axis-aligned rectangular region.
type Rect struct {
	r geor2.Rect
}

// NewRect builds a rectangle from two opposite corners in any order.
func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{r: geor2.RectFromPoints(geor2.Point{X: x0, Y: y0}, geor2.Point{X: x1, Y: y1})}
}

// Contains reports whether p lies inside the rectangle, edges included.
func (r Rect) Contains(p r2.Vec) bool {
	return r.r.ContainsPoint(geor2.Point{X: p.X, Y: p.Y})
}

// Center returns the rectangle center.
func (r Rect) Center() r2.Vec {
	c := r.r.Center()
	return r2.Vec{X: c.X, Y: c.Y}
}

// Corners returns the low and high corners.
func (r Rect) Corners() (lo, hi r2.Vec) {
	l, h := r.r.Lo(), r.r.Hi()
	return r2.Vec{X: l.X, Y: l.Y}, r2.Vec{X: h.X, Y: h.Y}
}

// DrumZone maps an image region to an instrument.
type DrumZone struct {
	Name       string
	Instrument string
	Region     Region
	// Normal is the unit direction a stick travels when striking the zone.
	Normal r2.Vec
}

// ErrEmptyMap is returned when a map is built with no zones.
var ErrEmptyMap = errors.New("zone map has no zones")

// Map is an immutable set of drum zones.
type Map struct {
	zones []DrumZone
}

// NewMap validates zones and returns an immutable map. A zero Normal defaults
// to Down; non-zero normals are normalized.
func NewMap(zones ...DrumZone) (*Map, error) {
	if len(zones) == 0 {
		return nil, ErrEmptyMap
	}

	seen := make(map[string]bool, len(zones))
	out := make([]DrumZone, len(zones))
	for i, z := range zones {
		if z.Name == "" {
			return nil, fmt.Errorf("zone %d: missing name", i)
		}
		if seen[z.Name] {
			return nil, fmt.Errorf("zone %q: duplicate name", z.Name)
		}
		seen[z.Name] = true
		if z.Instrument == "" {
			return nil, fmt.Errorf("zone %q: missing instrument", z.Name)
		}
		if z.Region == nil {
			return nil, fmt.Errorf("zone %q: missing region", z.Name)
		}
		if c, ok := z.Region.(Circle); ok && !(c.Radius > 0) {
			return nil, fmt.Errorf("zone %q: radius must be positive", z.Name)
		}
		if z.Normal == (r2.Vec{}) {
			z.Normal = Down
		} else {
			z.Normal = r2.Unit(z.Normal)
		}
		out[i] = z
	}

	return &Map{zones: out}, nil
}

// Zones returns a copy of the zones in declaration order.
func (m *Map) Zones() []DrumZone {
	out := make([]DrumZone, len(m.zones))
	copy(out, m.zones)
	return out
}

// Len returns the number of zones.
func (m *Map) Len() int { return len(m.zones) }

// At returns the zone containing p. When regions overlap the zone whose
// center is closest to p wins; exact ties keep declaration order.
func (m *Map) At(p r2.Vec) (DrumZone, bool) {
	best := -1
	bestDist := 0.0
	for i, z := range m.zones {
		if !z.Region.Contains(p) {
			continue
		}
		d := r2.Norm(r2.Sub(p, z.Region.Center()))
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return DrumZone{}, false
	}
	return m.zones[best], true
}

// Nearest returns the zone whose center is closest to p, contained or not.
func (m *Map) Nearest(p r2.Vec) DrumZone {
	best := 0
	bestDist := r2.Norm(r2.Sub(p, m.zones[0].Region.Center()))
	for i := 1; i < len(m.zones); i++ {
		d := r2.Norm(r2.Sub(p, m.zones[i].Region.Center()))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return m.zones[best]
}
