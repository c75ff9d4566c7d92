// Package calibrate learns the color signature and size of each marker
// interactively before tracking starts.
//
// For every marker the user holds the marker under a target circle at a few
// points of the image and confirms each one. Pixels under the circle are
// sampled on every frame; on confirmation their dominant color and the
// current circle radius are folded into the marker's model.
package calibrate

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/ayusman/airdrums/internal/input"
	"github.com/ayusman/airdrums/internal/marker"
)

var (
	// ErrNoSamples is reported when a point is confirmed before any valid
	// pixel was sampled. The session is left unchanged.
	ErrNoSamples = errors.New("no valid samples for this point")
	// ErrAborted is returned when calibration was quit before completion.
	ErrAborted = errors.New("calibration aborted")
)

// State is the calibration phase.
type State int

const (
	// StateIdle waits for Advance to start collecting the current marker.
	StateIdle State = iota
	// StateCollecting samples pixels under the target circle.
	StateCollecting
	// StateConfirmed holds a confirmed point for one tick.
	StateConfirmed
	// StateDone means every marker has a model.
	StateDone
	// StateAborted means calibration was quit; no models are emitted.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateConfirmed:
		return "confirmed"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Config holds the calibration parameters.
type Config struct {
	// Markers are calibrated in this order.
	Markers []marker.ID
	// Points are the target circle centers. Empty means GridPoints of
	// FrameSize.
	Points    []image.Point
	FrameSize image.Point

	Radius     float64
	RadiusStep float64
	MinRadius  float64
	MaxRadius  float64
	// Tolerance is the smallest tolerance a learned model gets.
	Tolerance float64
	// MaxSamples bounds the pixels kept per point; the newest are kept.
	MaxSamples int
	// Pixels darker or greyer than these are not sampled.
	MinSaturation float64
	MinValue      float64

	Logger zerolog.Logger
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Markers:       marker.All(),
		FrameSize:     image.Pt(640, 480),
		Radius:        30,
		RadiusStep:    10,
		MinRadius:     5,
		MaxRadius:     120,
		Tolerance:     0.1,
		MaxSamples:    20000,
		MinSaturation: 0.15,
		MinValue:      0.1,
		Logger:        zerolog.Nop(),
	}
}

// GridPoints returns the default targets: a 2x2 grid inset 100px from the
// top-left corner with half-frame steps.
func GridPoints(size image.Point) []image.Point {
	const inset = 100
	dx, dy := size.X/2, size.Y/2
	return []image.Point{
		image.Pt(inset, inset),
		image.Pt(inset+dx, inset),
		image.Pt(inset, inset+dy),
		image.Pt(inset+dx, inset+dy),
	}
}

// Session is the mutable calibration progress.
type Session struct {
	State       State
	MarkerIndex int
	PointIndex  int
	Radius      float64
	Samples     []marker.HSV
}

// Outcome reports the result of one event.
type Outcome struct {
	State State
	// Err is ErrNoSamples when a confirmation was rejected.
	Err error
	// Models is set once, on the transition to StateDone.
	Models marker.Set
}

// Target describes what the overlay should draw.
type Target struct {
	Marker  marker.ID
	Point   image.Point
	Radius  float64
	Index   int
	Total   int
	Samples int
	State   State
}

// Calibrator runs the calibration state machine. It is owned by the engine
// loop and is not safe for concurrent use.
type Calibrator struct {
	cfg     Config
	session Session
	points  map[marker.ID][]pointColor
	models  marker.Set
	log     zerolog.Logger
}

// New validates cfg and returns a Calibrator in Idle for the first marker.
func New(cfg Config) (*Calibrator, error) {
	if len(cfg.Markers) == 0 {
		return nil, errors.New("calibrate: no markers configured")
	}
	for _, id := range cfg.Markers {
		if !id.Valid() {
			return nil, fmt.Errorf("calibrate: unknown marker %q", id)
		}
	}
	if len(cfg.Points) == 0 {
		if cfg.FrameSize.X <= 0 || cfg.FrameSize.Y <= 0 {
			cfg.FrameSize = DefaultConfig().FrameSize
		}
		cfg.Points = GridPoints(cfg.FrameSize)
	}
	switch {
	case !(cfg.Tolerance > 0):
		return nil, fmt.Errorf("calibrate: %w", marker.ErrInvalidTolerance)
	case !(cfg.MinRadius > 0), cfg.MaxRadius < cfg.MinRadius:
		return nil, fmt.Errorf("calibrate: %w", marker.ErrInvalidRadius)
	case !(cfg.RadiusStep > 0):
		return nil, errors.New("calibrate: radius step must be positive")
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultConfig().MaxSamples
	}

	c := &Calibrator{
		cfg:    cfg,
		points: make(map[marker.ID][]pointColor),
		models: make(marker.Set),
		log:    cfg.Logger.With().Str("component", "calibrate").Logger(),
	}
	c.session = Session{State: StateIdle, Radius: c.clampRadius(cfg.Radius)}
	return c, nil
}

// Session returns a copy of the current session.
func (c *Calibrator) Session() Session {
	s := c.session
	s.Samples = append([]marker.HSV(nil), c.session.Samples...)
	return s
}

// State returns the current state.
func (c *Calibrator) State() State { return c.session.State }

// Finished reports whether calibration reached Done or Aborted.
func (c *Calibrator) Finished() bool {
	return c.session.State == StateDone || c.session.State == StateAborted
}

// Models returns the learned models once Done, nil otherwise.
func (c *Calibrator) Models() marker.Set {
	if c.session.State != StateDone {
		return nil
	}
	out := make(marker.Set, len(c.models))
	for id, m := range c.models {
		out[id] = m
	}
	return out
}

// Partial returns the running estimate of a marker confirmed so far.
func (c *Calibrator) Partial(id marker.ID) (marker.ColorModel, bool) {
	pts := c.points[id]
	if len(pts) == 0 {
		return marker.ColorModel{}, false
	}
	return fold(pts, c.cfg.Tolerance), true
}

// Target returns the current marker and target circle, false once finished.
func (c *Calibrator) Target() (Target, bool) {
	if c.Finished() {
		return Target{}, false
	}
	return Target{
		Marker:  c.cfg.Markers[c.session.MarkerIndex],
		Point:   c.cfg.Points[c.session.PointIndex],
		Radius:  c.session.Radius,
		Index:   c.session.PointIndex,
		Total:   len(c.cfg.Points),
		Samples: len(c.session.Samples),
		State:   c.session.State,
	}, true
}

// Observe samples the frame under the target circle. A pending confirmation
// is advanced first.
func (c *Calibrator) Observe(frame gocv.Mat) Outcome {
	out := c.tick()
	if out.State != StateCollecting || frame.Empty() {
		return out
	}
	t, _ := c.Target()
	c.addSamples(SampleCircle(frame, t.Point, int(math.Round(t.Radius)), c.cfg.MinSaturation, c.cfg.MinValue))
	return Outcome{State: c.session.State}
}

// ObservePixels adds already sampled pixels, advancing a pending
// confirmation first.
func (c *Calibrator) ObservePixels(pixels []marker.HSV) Outcome {
	out := c.tick()
	if out.State != StateCollecting {
		return out
	}
	c.addSamples(pixels)
	return Outcome{State: c.session.State}
}

// Apply applies one user action. A pending confirmation is advanced first and
// the action then applies to the resulting state. Quit aborts from every
// non-terminal state, including a confirmation of the final point.
func (c *Calibrator) Apply(a input.Action) Outcome {
	s := &c.session
	if a == input.Quit && s.State != StateDone && s.State != StateAborted {
		s.State = StateAborted
		s.Samples = nil
		c.log.Info().Msg("calibration aborted")
		return Outcome{State: s.State}
	}

	if pre := c.tick(); pre.Models != nil {
		// Reached Done on this tick; terminal states ignore the action.
		return pre
	}

	if s.State == StateDone || s.State == StateAborted {
		return Outcome{State: s.State}
	}

	switch a {
	case input.Grow:
		s.Radius = c.clampRadius(s.Radius + c.cfg.RadiusStep)
	case input.Shrink:
		s.Radius = c.clampRadius(s.Radius - c.cfg.RadiusStep)
	case input.Reset:
		s.Samples = s.Samples[:0]
	case input.Advance:
		if s.State == StateIdle {
			s.State = StateCollecting
			s.PointIndex = 0
			s.Samples = s.Samples[:0]
			c.log.Info().
				Str("marker", string(c.cfg.Markers[s.MarkerIndex])).
				Msg("collecting")
			break
		}
		return c.confirm()
	}
	return Outcome{State: s.State}
}

func (c *Calibrator) confirm() Outcome {
	s := &c.session
	color, ok := DominantColor(s.Samples)
	if !ok {
		c.log.Warn().
			Str("marker", string(c.cfg.Markers[s.MarkerIndex])).
			Int("point", s.PointIndex).
			Msg("confirm rejected: no samples")
		return Outcome{State: s.State, Err: ErrNoSamples}
	}

	id := c.cfg.Markers[s.MarkerIndex]
	c.points[id] = append(c.points[id], pointColor{Color: color, Radius: s.Radius})
	c.models[id] = fold(c.points[id], c.cfg.Tolerance)
	s.State = StateConfirmed

	c.log.Info().
		Str("marker", string(id)).
		Int("point", s.PointIndex).
		Float64("hue", color.H).
		Float64("saturation", color.S).
		Float64("value", color.V).
		Float64("radius", s.Radius).
		Msg("point confirmed")
	return Outcome{State: s.State}
}

// tick moves a Confirmed session to its successor state.
func (c *Calibrator) tick() Outcome {
	s := &c.session
	if s.State != StateConfirmed {
		return Outcome{State: s.State}
	}

	s.Samples = s.Samples[:0]
	if s.PointIndex+1 < len(c.cfg.Points) {
		s.PointIndex++
		s.State = StateCollecting
		return Outcome{State: s.State}
	}
	if s.MarkerIndex+1 < len(c.cfg.Markers) {
		s.MarkerIndex++
		s.PointIndex = 0
		s.State = StateIdle
		return Outcome{State: s.State}
	}

	s.State = StateDone
	s.Samples = nil
	c.log.Info().Int("markers", len(c.models)).Msg("calibration done")
	return Outcome{State: s.State, Models: c.Models()}
}

func (c *Calibrator) addSamples(pixels []marker.HSV) {
	s := &c.session
	s.Samples = append(s.Samples, pixels...)
	if over := len(s.Samples) - c.cfg.MaxSamples; over > 0 {
		n := copy(s.Samples, s.Samples[over:])
		s.Samples = s.Samples[:n]
	}
}

func (c *Calibrator) clampRadius(r float64) float64 {
	return math.Max(c.cfg.MinRadius, math.Min(c.cfg.MaxRadius, r))
}
