// Package marker defines tracked marker identities and their learned color models.
package marker

import (
	"errors"
	"fmt"
	"math"
)

// ID identifies a physical marker (stick tip or foot spot).
type ID string

const (
	LeftStick  ID = "left-stick"
	RightStick ID = "right-stick"
	LeftFoot   ID = "left-foot"
	RightFoot  ID = "right-foot"
)

// All returns every known marker identity in canonical order.
func All() []ID {
	return []ID{LeftStick, RightStick, LeftFoot, RightFoot}
}

// Valid reports whether id is one of the known marker identities.
func (id ID) Valid() bool {
	switch id {
	case LeftStick, RightStick, LeftFoot, RightFoot:
		return true
	}
	return false
}

// ParseID converts a configuration key into an ID.
func ParseID(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("unknown marker %q", s)
	}
	return id, nil
}

// Channel weights applied to ColorModel.Tolerance.
const (
	HueWeight        = 180.0 // degrees per unit of tolerance
	SaturationWeight = 2.0
	ValueWeight      = 3.0
)

var (
	// ErrInvalidTolerance is returned for a non-positive tolerance.
	ErrInvalidTolerance = errors.New("tolerance must be positive")
	// ErrInvalidRadius is returned for a non-positive radius.
	ErrInvalidRadius = errors.New("radius must be positive")
)

// HSV is a color with hue in degrees [0,360) and saturation/value in [0,1].
type HSV struct {
	H float64 `json:"hue"`
	S float64 `json:"saturation"`
	V float64 `json:"value"`
}

// FromCV converts 8-bit OpenCV HSV channels (H in 0..179) to HSV.
func FromCV(h, s, v uint8) HSV {
	return HSV{
		H: float64(h) * 2,
		S: float64(s) / 255,
		V: float64(v) / 255,
	}
}

// HueDistance returns the circular distance in degrees between two hues.
func HueDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// NormalizeHue wraps h into [0,360).
func NormalizeHue(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// ColorModel is the learned color signature and expected size of one marker.
type ColorModel struct {
	Center    HSV     `json:"center"`
	Tolerance float64 `json:"tolerance"`
	Radius    float64 `json:"radius"` // pixels
}

// Validate checks the model invariants.
func (m ColorModel) Validate() error {
	if !(m.Tolerance > 0) {
		return ErrInvalidTolerance
	}
	if !(m.Radius > 0) {
		return ErrInvalidRadius
	}
	return nil
}

func (m ColorModel) hueWindow() float64 { return m.Tolerance * HueWeight }
func (m ColorModel) satWindow() float64 { return m.Tolerance * SaturationWeight }
func (m ColorModel) valWindow() float64 { return m.Tolerance * ValueWeight }

// Matches reports whether c lies within the model's tolerance of its center.
func (m ColorModel) Matches(c HSV) bool {
	if HueDistance(c.H, m.Center.H) > m.hueWindow() {
		return false
	}
	if math.Abs(c.S-m.Center.S) > m.satWindow() {
		return false
	}
	return math.Abs(c.V-m.Center.V) <= m.valWindow()
}

// CVRange is an inclusive 8-bit OpenCV HSV range (H 0..179, S and V 0..255).
type CVRange struct {
	Low  [3]float64
	High [3]float64
}

// Bounds returns the OpenCV in-range bounds covering the model. Two ranges are
// returned when the hue window wraps around 0/360.
func (m ColorModel) Bounds() []CVRange {
	sLo, sHi := clampUnit(m.Center.S-m.satWindow()), clampUnit(m.Center.S+m.satWindow())
	vLo, vHi := clampUnit(m.Center.V-m.valWindow()), clampUnit(m.Center.V+m.valWindow())

	mk := func(hLo, hHi float64) CVRange {
		return CVRange{
			Low:  [3]float64{math.Floor(hLo / 2), math.Floor(sLo * 255), math.Floor(vLo * 255)},
			High: [3]float64{math.Min(179, math.Ceil(hHi/2)), math.Ceil(sHi * 255), math.Ceil(vHi * 255)},
		}
	}

	w := m.hueWindow()
	if w >= 180 {
		return []CVRange{mk(0, 360)}
	}

	h := NormalizeHue(m.Center.H)
	lo, hi := h-w, h+w
	switch {
	case lo < 0:
		return []CVRange{mk(0, hi), mk(lo+360, 360)}
	case hi >= 360:
		return []CVRange{mk(lo, 360), mk(0, hi-360)}
	default:
		return []CVRange{mk(lo, hi)}
	}
}

func clampUnit(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Set maps every configured marker to its color model.
type Set map[ID]ColorModel

// Covers reports whether the set holds a valid model for every id.
func (s Set) Covers(ids []ID) bool {
	for _, id := range ids {
		m, ok := s[id]
		if !ok || m.Validate() != nil {
			return false
		}
	}
	return true
}
