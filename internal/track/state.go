// Package track keeps the rolling motion history of a single marker.
package track

import (
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// Default tracking parameters.
const (
	DefaultCapacity      = 16
	DefaultLostThreshold = 3
)

// Config holds the history size and loss tolerance of a State.
type Config struct {
	// Capacity is the maximum number of samples kept.
	Capacity int
	// LostThreshold is the number of consecutive misses after which the
	// marker is considered idle and its motion is zeroed.
	LostThreshold int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Capacity:      DefaultCapacity,
		LostThreshold: DefaultLostThreshold,
	}
}

// Sample is one observed position with the motion derived at that instant.
type Sample struct {
	Point    r2.Vec
	Time     time.Time
	Velocity r2.Vec // pixels per second
	Accel    r2.Vec // pixels per second squared
	// HasVelocity is false for the first sample of a segment.
	HasVelocity bool
}

// Speed returns the magnitude of the sample velocity.
func (s Sample) Speed() float64 { return r2.Norm(s.Velocity) }

// State is a bounded ring of samples plus derived velocity and acceleration.
// It is not safe for concurrent use; the engine loop owns it.
type State struct {
	cfg Config

	buf  []Sample
	head int
	n    int

	velocity r2.Vec
	accel    r2.Vec

	tracked int
	lost    int
	idle    bool
	// newSegment makes the next found sample start a fresh motion segment.
	newSegment bool
}

// New creates an empty, idle State. Non-positive config values fall back to
// the defaults.
func New(cfg Config) *State {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.LostThreshold <= 0 {
		cfg.LostThreshold = DefaultLostThreshold
	}
	return &State{
		cfg:        cfg,
		buf:        make([]Sample, cfg.Capacity),
		idle:       true,
		newSegment: true,
	}
}

// Found records the marker at p at time t.
func (s *State) Found(p r2.Vec, t time.Time) {
	sample := Sample{Point: p, Time: t}

	if last, ok := s.Last(); ok && !s.newSegment {
		dt := t.Sub(last.Time).Seconds()
		if dt > 0 {
			sample.Velocity = r2.Scale(1/dt, r2.Sub(p, last.Point))
			sample.HasVelocity = true
			if last.HasVelocity {
				sample.Accel = r2.Scale(1/dt, r2.Sub(sample.Velocity, last.Velocity))
			}
		} else {
			// Non-increasing timestamps carry the previous motion forward.
			sample.Velocity = last.Velocity
			sample.Accel = last.Accel
			sample.HasVelocity = last.HasVelocity
		}
	}

	s.push(sample)
	s.velocity = sample.Velocity
	s.accel = sample.Accel
	s.tracked++
	s.lost = 0
	s.idle = false
	s.newSegment = false
}

// Missed records a frame where the marker was not found. History is left
// untouched; once the miss count reaches the threshold motion is zeroed and
// the marker becomes idle.
func (s *State) Missed() {
	s.lost++
	if s.lost >= s.cfg.LostThreshold {
		s.velocity = r2.Vec{}
		s.accel = r2.Vec{}
		s.idle = true
		s.tracked = 0
		s.newSegment = true
	}
}

func (s *State) push(sample Sample) {
	c := len(s.buf)
	if s.n < c {
		s.buf[(s.head+s.n)%c] = sample
		s.n++
		return
	}
	s.buf[s.head] = sample
	s.head = (s.head + 1) % c
}

// Len returns the number of samples held.
func (s *State) Len() int { return s.n }

// Cap returns the history capacity.
func (s *State) Cap() int { return len(s.buf) }

// Last returns the newest sample.
func (s *State) Last() (Sample, bool) {
	if s.n == 0 {
		return Sample{}, false
	}
	return s.buf[(s.head+s.n-1)%len(s.buf)], true
}

// Samples returns the history oldest first.
func (s *State) Samples() []Sample {
	out := make([]Sample, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	return out
}

// Since returns the samples at or after t, oldest first.
func (s *State) Since(t time.Time) []Sample {
	var out []Sample
	for i := 0; i < s.n; i++ {
		sample := s.buf[(s.head+i)%len(s.buf)]
		if !sample.Time.Before(t) {
			out = append(out, sample)
		}
	}
	return out
}

// Velocity returns the current velocity in pixels per second.
func (s *State) Velocity() r2.Vec { return s.velocity }

// Acceleration returns the current acceleration in pixels per second squared.
func (s *State) Acceleration() r2.Vec { return s.accel }

// Speed returns the magnitude of the current velocity.
func (s *State) Speed() float64 { return r2.Norm(s.velocity) }

// Lost returns the number of consecutive missed frames.
func (s *State) Lost() int { return s.lost }

// Tracked returns the number of found frames since the marker was last idle.
func (s *State) Tracked() int { return s.tracked }

// Idle reports whether the marker has been lost long enough to be ignored.
func (s *State) Idle() bool { return s.idle }

// Fresh reports whether the newest sample was observed in the latest frame.
func (s *State) Fresh() bool { return s.n > 0 && s.lost == 0 && !s.idle }

// Reset clears all history and returns the state to idle.
func (s *State) Reset() {
	*s = *New(s.cfg)
}
