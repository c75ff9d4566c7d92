// Package strike turns continuous marker motion into discrete hit events.
//
// A hit is the moment a marker inside a drum zone stops moving toward the
// zone after approaching it fast enough. Detecting the direction reversal
// rather than zone entry keeps a stick that only passes through a zone from
// triggering it, and the refractory period keeps frame noise around a single
// physical strike from producing a roll.
package strike

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/track"
	"github.com/ayusman/airdrums/internal/zone"
)

// Config holds the strike tuning parameters.
type Config struct {
	// MinSpeed is the peak speed (px/s) the marker must reach before the
	// extremum for the strike to count.
	MinSpeed float64
	// MaxSpeed is the peak speed (px/s) mapped to full intensity.
	MaxSpeed float64
	// StopSpeed is the zone-normal speed (px/s) at or below which an
	// approaching marker is considered stopped or reversed.
	StopSpeed float64
	// Refractory is the minimum time between two hits of the same marker.
	Refractory time.Duration
	// Window is how far back the peak speed is searched from the extremum.
	Window time.Duration
	// MaxAccel is the acceleration magnitude (px/s²) mapped to full intensity.
	MaxAccel float64
	// AccelWeight blends acceleration into intensity, 0 uses speed only.
	AccelWeight float64
}

// DefaultConfig returns a Config tuned for a 640px wide, 30 FPS image.
func DefaultConfig() Config {
	return Config{
		MinSpeed:    300,
		MaxSpeed:    2500,
		StopSpeed:   0,
		Refractory:  120 * time.Millisecond,
		Window:      150 * time.Millisecond,
		MaxAccel:    60000,
		AccelWeight: 0,
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	switch {
	case !(c.MinSpeed > 0):
		return errors.New("strike: min speed must be positive")
	case !(c.MaxSpeed >= c.MinSpeed):
		return errors.New("strike: max speed must be at least min speed")
	case c.StopSpeed < 0:
		return errors.New("strike: stop speed must not be negative")
	case c.Refractory < 0:
		return errors.New("strike: refractory must not be negative")
	case c.Window <= 0:
		return errors.New("strike: window must be positive")
	case c.AccelWeight < 0 || c.AccelWeight > 1:
		return errors.New("strike: accel weight must be within [0,1]")
	case c.AccelWeight > 0 && !(c.MaxAccel > 0):
		return errors.New("strike: max accel must be positive when accel weight is set")
	}
	return nil
}

// Phase is the per-marker trigger state.
type Phase int

const (
	// PhaseIdle means the marker is not moving toward any zone.
	PhaseIdle Phase = iota
	// PhaseApproaching means the marker is moving along the strike direction.
	PhaseApproaching
	// PhaseRefractory means a hit fired recently and retriggers are suppressed.
	PhaseRefractory
)

func (p Phase) String() string {
	switch p {
	case PhaseApproaching:
		return "approaching"
	case PhaseRefractory:
		return "refractory"
	default:
		return "idle"
	}
}

// HitEvent is a discrete strike of a marker against a zone.
type HitEvent struct {
	Marker     marker.ID `json:"marker"`
	Zone       string    `json:"zone"`
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
	Intensity  float64   `json:"intensity"` // [0,1]
	PeakSpeed  float64   `json:"peak_speed"`
}

// markerState is the per-marker trigger state. approachStart is the time of
// the first sample of the current run of samples moving along the strike
// direction; zero when the marker is not moving that way.
type markerState struct {
	phase         Phase
	approachStart time.Time
}

// Detector evaluates the trigger rule once per marker per frame.
type Detector struct {
	cfg     Config
	markers map[marker.ID]*markerState
}

// NewDetector creates a Detector with the given config.
func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:     cfg,
		markers: make(map[marker.ID]*markerState),
	}
}

// Config returns the detector's config.
func (d *Detector) Config() Config { return d.cfg }

// Phase returns the current trigger phase of a marker.
func (d *Detector) Phase(id marker.ID) Phase {
	if ms, ok := d.markers[id]; ok {
		return ms.phase
	}
	return PhaseIdle
}

// Reset forgets the phase of every marker.
func (d *Detector) Reset() {
	d.markers = make(map[marker.ID]*markerState)
}

func (d *Detector) state(id marker.ID) *markerState {
	ms, ok := d.markers[id]
	if !ok {
		ms = &markerState{}
		d.markers[id] = ms
	}
	return ms
}

// Detect runs the trigger rule for one marker against the latest sample of
// its track. lastHit is the timestamp of the marker's previous hit, zero if
// none. At most one event is returned per call.
func (d *Detector) Detect(id marker.ID, st *track.State, zones *zone.Map, lastHit time.Time) (HitEvent, bool) {
	ms := d.state(id)
	if !st.Fresh() {
		if st.Idle() {
			ms.phase = PhaseIdle
			ms.approachStart = time.Time{}
		}
		return HitEvent{}, false
	}

	last, _ := st.Last()
	if !last.HasVelocity {
		ms.phase = PhaseIdle
		ms.approachStart = time.Time{}
		return HitEvent{}, false
	}

	// Outside every zone the approach is judged against the nearest one.
	z, inZone := zones.At(last.Point)
	toward := z
	if !inZone {
		toward = zones.Nearest(last.Point)
	}
	vn := r2.Dot(last.Velocity, toward.Normal)

	refractory := !lastHit.IsZero() && last.Time.Sub(lastHit) < d.cfg.Refractory
	if ms.phase == PhaseRefractory && !refractory {
		ms.phase = PhaseIdle
	}

	if vn > d.cfg.StopSpeed {
		if ms.approachStart.IsZero() {
			ms.approachStart = last.Time
		}
		if ms.phase != PhaseRefractory {
			ms.phase = PhaseApproaching
		}
		return HitEvent{}, false
	}

	// Stopped or reversed: the extremum of an approach, if there was one.
	wasApproaching := ms.phase == PhaseApproaching
	start := ms.approachStart
	ms.approachStart = time.Time{}
	if ms.phase != PhaseRefractory {
		ms.phase = PhaseIdle
	}

	if !wasApproaching || !inZone || refractory {
		return HitEvent{}, false
	}

	// Only the approach leading to this extremum counts toward the peak.
	from := last.Time.Add(-d.cfg.Window)
	if start.After(from) {
		from = start
	}
	peakSpeed, peakAccel := peaks(st.Since(from), z.Normal, d.cfg.StopSpeed)
	if peakSpeed < d.cfg.MinSpeed {
		return HitEvent{}, false
	}

	ms.phase = PhaseRefractory
	return HitEvent{
		Marker:     id,
		Zone:       z.Name,
		Instrument: z.Instrument,
		Timestamp:  last.Time,
		Intensity:  d.intensity(peakSpeed, peakAccel),
		PeakSpeed:  peakSpeed,
	}, true
}

func (d *Detector) intensity(peakSpeed, peakAccel float64) float64 {
	speedTerm := clamp01(peakSpeed / d.cfg.MaxSpeed)
	if d.cfg.AccelWeight == 0 {
		return speedTerm
	}
	accelTerm := clamp01(peakAccel / d.cfg.MaxAccel)
	return clamp01((1-d.cfg.AccelWeight)*speedTerm + d.cfg.AccelWeight*accelTerm)
}

// peaks returns the largest speed and acceleration magnitude among samples
// moving along normal faster than stop.
func peaks(samples []track.Sample, normal r2.Vec, stop float64) (speed, accel float64) {
	for _, s := range samples {
		if !s.HasVelocity || r2.Dot(s.Velocity, normal) <= stop {
			continue
		}
		speed = math.Max(speed, s.Speed())
		accel = math.Max(accel, r2.Norm(s.Accel))
	}
	return speed, accel
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}
