// Package engine runs the air drums loop: calibration, then per-frame
// localization, tracking and strike detection, fanning hits out to the
// audio, storage and render sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ayusman/airdrums/internal/calibrate"
	"github.com/ayusman/airdrums/internal/capture"
	"github.com/ayusman/airdrums/internal/input"
	"github.com/ayusman/airdrums/internal/locate"
	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/strike"
	"github.com/ayusman/airdrums/internal/track"
	"github.com/ayusman/airdrums/internal/zone"
)

// StopReason says why Run returned.
type StopReason string

const (
	StopEndOfStream StopReason = "end-of-stream"
	StopQuit        StopReason = "quit"
	StopCancelled   StopReason = "cancelled"
	// StopFailed means the frame source could not be opened or kept failing.
	StopFailed StopReason = "failed"
)

// Defaults for optional Config fields.
const (
	DefaultRecentHits      = 8
	DefaultMaxReadFailures = 30
)

// Config wires the engine. Source, Input, Markers and Zones are required;
// nil sinks and stores are skipped.
type Config struct {
	Source  capture.Source
	Input   *input.Queue
	Markers []marker.ID
	Zones   *zone.Map

	Calibration calibrate.Config
	// Saved models, typically from the settings file. Models loaded from
	// the ModelStore take precedence per marker.
	Saved marker.Set
	// SkipIfSaved skips calibration when saved models cover every marker.
	SkipIfSaved bool

	Locate locate.Config
	Track  track.Config
	Strike strike.Config

	Audio    AudioSink
	Render   RenderSink
	Hits     HitSink
	Models   ModelStore
	Sessions SessionStore

	// SessionID identifies the run; generated when empty.
	SessionID string
	// RecentHits bounds the hits carried in each snapshot.
	RecentHits int
	// MaxReadFailures is the number of consecutive frame read errors
	// tolerated before Run gives up.
	MaxReadFailures int

	Meter  metric.Meter
	Logger zerolog.Logger
}

// Engine owns the per-marker track states and the strike detector. It is
// driven by a single goroutine in Run.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics

	loc      *locate.Localizer
	detector *strike.Detector

	phase   Phase
	calib   *calibrate.Calibrator
	calErr  error
	models  marker.Set
	tracks  map[marker.ID]*track.State
	lastHit map[marker.ID]time.Time
	results map[marker.ID]locate.Result
	recent  []strike.HitEvent
	frames  int
}

// New validates cfg and builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("engine: frame source is required")
	}
	if cfg.Zones == nil || cfg.Zones.Len() == 0 {
		return nil, fmt.Errorf("engine: %w", zone.ErrEmptyMap)
	}
	if len(cfg.Markers) == 0 {
		return nil, errors.New("engine: no markers configured")
	}
	for _, id := range cfg.Markers {
		if !id.Valid() {
			return nil, fmt.Errorf("engine: unknown marker %q", id)
		}
	}
	if err := cfg.Strike.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if cfg.Input == nil {
		cfg.Input = input.NewQueue()
	}
	if cfg.Audio == nil {
		cfg.Audio = nopAudio{}
	}
	if cfg.Render == nil {
		cfg.Render = nopRender{}
	}
	if cfg.Hits == nil {
		cfg.Hits = nopHits{}
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}
	if cfg.RecentHits <= 0 {
		cfg.RecentHits = DefaultRecentHits
	}
	if cfg.MaxReadFailures <= 0 {
		cfg.MaxReadFailures = DefaultMaxReadFailures
	}
	cfg.Calibration.Markers = cfg.Markers
	cfg.Calibration.Logger = cfg.Logger
	cfg.Locate.Logger = cfg.Logger

	m, err := newMetrics(cfg.Meter)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "engine").Str("session", cfg.SessionID).Logger(),
		metrics:  m,
		detector: strike.NewDetector(cfg.Strike),
		lastHit:  make(map[marker.ID]time.Time),
	}, nil
}

// SessionID returns the run identifier.
func (e *Engine) SessionID() string { return e.cfg.SessionID }

// Input returns the queue the engine drains once per frame.
func (e *Engine) Input() *input.Queue { return e.cfg.Input }

// Run processes frames until the stream ends, the user quits or ctx is
// cancelled. Per-frame failures are logged and absorbed. The returned error
// is non-nil only when the engine could not run at all, or when calibration
// was aborted with no saved models to fall back on.
func (e *Engine) Run(ctx context.Context) (reason StopReason, err error) {
	if err := e.cfg.Source.Open(); err != nil {
		return StopFailed, fmt.Errorf("open frame source: %w", err)
	}
	defer func() {
		if cerr := e.cfg.Source.Close(); cerr != nil {
			e.log.Warn().Err(cerr).Msg("closing frame source")
		}
	}()

	e.loc = locate.New(e.cfg.Locate)
	defer e.loc.Close()

	started := time.Now()
	if e.cfg.Sessions != nil {
		if serr := e.cfg.Sessions.Start(e.cfg.SessionID, started); serr != nil {
			e.log.Warn().Err(serr).Msg("recording session start")
		}
	}
	defer func() {
		e.log.Info().Str("reason", string(reason)).Int("frames", e.frames).Dur("elapsed", time.Since(started)).Msg("engine stopped")
		if e.cfg.Sessions != nil {
			if serr := e.cfg.Sessions.End(e.cfg.SessionID, time.Now(), string(reason)); serr != nil {
				e.log.Warn().Err(serr).Msg("recording session end")
			}
		}
	}()

	if err := e.begin(); err != nil {
		return StopFailed, err
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			return StopCancelled, nil
		}

		if stop, reason, err := e.applyInput(); stop {
			return reason, err
		}

		frame, err := e.cfg.Source.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			return StopEndOfStream, nil
		}
		if err != nil {
			failures++
			e.log.Warn().Err(err).Int("failures", failures).Msg("reading frame")
			if failures >= e.cfg.MaxReadFailures {
				return StopFailed, fmt.Errorf("read frame: %w", err)
			}
			continue
		}
		failures = 0

		stop, reason, err := e.process(ctx, frame)
		frame.Close()
		if stop {
			return reason, err
		}
	}
}

// begin chooses the starting phase from the saved models.
func (e *Engine) begin() error {
	saved := make(marker.Set, len(e.cfg.Saved))
	for id, m := range e.cfg.Saved {
		saved[id] = m
	}
	if e.cfg.Models != nil {
		stored, err := e.cfg.Models.Load()
		if err != nil {
			e.log.Warn().Err(err).Msg("loading saved color models")
		}
		for id, m := range stored {
			saved[id] = m
		}
	}
	e.cfg.Saved = saved

	if e.cfg.SkipIfSaved && saved.Covers(e.cfg.Markers) {
		e.log.Info().Int("markers", len(e.cfg.Markers)).Msg("using saved color models, skipping calibration")
		e.startTracking(saved)
		return nil
	}

	c, err := calibrate.New(e.cfg.Calibration)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.calib = c
	e.phase = PhaseCalibrating
	e.log.Info().Msg("calibration started")
	return nil
}

func (e *Engine) startTracking(models marker.Set) {
	e.models = make(marker.Set, len(e.cfg.Markers))
	e.tracks = make(map[marker.ID]*track.State, len(e.cfg.Markers))
	for _, id := range e.cfg.Markers {
		e.models[id] = models[id]
		e.tracks[id] = track.New(e.cfg.Track)
	}
	e.calib = nil
	e.calErr = nil
	e.detector.Reset()
	e.phase = PhaseTracking
}

// applyInput drains queued actions once per frame, in arrival order.
func (e *Engine) applyInput() (stop bool, reason StopReason, err error) {
	actions := e.cfg.Input.Drain()
	if len(actions) == 0 {
		return false, "", nil
	}

	if e.phase == PhaseTracking {
		for _, a := range actions {
			if a == input.Quit {
				return true, StopQuit, nil
			}
		}
		return false, "", nil
	}

	for i, a := range actions {
		out := e.calib.Apply(a)
		e.calErr = out.Err
		if !e.calib.Finished() {
			continue
		}
		if stop, reason, err = e.finishCalibration(); stop {
			return stop, reason, err
		}
		// Calibration finished mid-drain; a later quit still ends the run.
		for _, rest := range actions[i+1:] {
			if rest == input.Quit {
				return true, StopQuit, nil
			}
		}
		break
	}
	return false, "", nil
}

// finishCalibration switches to tracking on Done, and on Quit falls back to
// the saved models when they cover every marker.
func (e *Engine) finishCalibration() (stop bool, reason StopReason, err error) {
	if models := e.calib.Models(); models != nil {
		if e.cfg.Models != nil {
			if err := e.cfg.Models.Save(models); err != nil {
				e.log.Warn().Err(err).Msg("saving color models")
			}
		}
		e.log.Info().Int("markers", len(models)).Msg("calibration complete")
		e.startTracking(models)
		return false, "", nil
	}

	if e.cfg.Saved.Covers(e.cfg.Markers) {
		e.log.Info().Msg("calibration aborted, using saved color models")
		e.startTracking(e.cfg.Saved)
		return false, "", nil
	}
	return true, StopQuit, calibrate.ErrAborted
}

// process runs one frame through the current phase and publishes a
// snapshot.
func (e *Engine) process(ctx context.Context, frame *capture.Frame) (stop bool, reason StopReason, err error) {
	start := time.Now()
	e.frames++

	snap := Snapshot{
		Session:   e.cfg.SessionID,
		Frame:     frame.Index,
		Timestamp: frame.Timestamp,
		Zones:     ZoneViews(e.cfg.Zones),
	}

	if e.phase == PhaseCalibrating {
		e.calib.Observe(*frame.Mat)
		if e.calib.Finished() {
			if stop, reason, err := e.finishCalibration(); stop {
				return true, reason, err
			}
		} else {
			snap.Phase = PhaseCalibrating
			if t, ok := e.calib.Target(); ok {
				snap.Calibration = calibrationView(t, e.calErr)
			}
			e.cfg.Render.Render(*frame.Mat, snap)
			e.observe(ctx, start)
			return false, "", nil
		}
	}

	results, err := e.loc.LocateAll(ctx, *frame.Mat, e.models)
	if err != nil {
		if ctx.Err() != nil {
			return true, StopCancelled, nil
		}
		e.log.Warn().Err(err).Int("frame", frame.Index).Msg("localization failed")
	}
	e.results = results

	for _, id := range e.cfg.Markers {
		e.step(id, results[id], frame.Timestamp)
	}

	snap.Phase = PhaseTracking
	snap.Markers = e.markerViews()
	snap.Hits = append([]strike.HitEvent(nil), e.recent...)
	e.cfg.Render.Render(*frame.Mat, snap)
	e.observe(ctx, start)
	return false, "", nil
}

// step updates one marker's track and runs strike detection on it.
func (e *Engine) step(id marker.ID, r locate.Result, ts time.Time) {
	st := e.tracks[id]
	if r.Found {
		st.Found(r.Point, ts)
	} else {
		wasIdle := st.Idle()
		st.Missed()
		if st.Idle() && !wasIdle {
			e.metrics.lost.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("marker", string(id))))
			e.log.Debug().Str("marker", string(id)).Msg("marker lost")
		}
	}

	hit, ok := e.detector.Detect(id, st, e.cfg.Zones, e.lastHit[id])
	if !ok {
		return
	}
	e.lastHit[id] = hit.Timestamp
	e.emit(hit)
}

func (e *Engine) emit(hit strike.HitEvent) {
	e.cfg.Audio.Play(hit.Instrument, hit.Intensity)
	e.cfg.Hits.Record(hit)

	e.recent = append(e.recent, hit)
	if over := len(e.recent) - e.cfg.RecentHits; over > 0 {
		e.recent = append(e.recent[:0], e.recent[over:]...)
	}

	e.metrics.hits.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("instrument", hit.Instrument)))
	e.log.Debug().
		Str("marker", string(hit.Marker)).
		Str("zone", hit.Zone).
		Float64("intensity", hit.Intensity).
		Float64("peak_speed", hit.PeakSpeed).
		Msg("hit")
}

func (e *Engine) markerViews() []MarkerView {
	out := make([]MarkerView, 0, len(e.cfg.Markers))
	for _, id := range e.cfg.Markers {
		st := e.tracks[id]
		r := e.results[id]
		v := MarkerView{
			ID:         id,
			Found:      r.Found,
			Radius:     r.Radius,
			Confidence: r.Confidence,
			Speed:      st.Speed(),
			Idle:       st.Idle(),
			Strike:     e.detector.Phase(id).String(),
		}
		if r.Found {
			v.X, v.Y = r.Point.X, r.Point.Y
		}
		out = append(out, v)
	}
	return out
}

func (e *Engine) observe(ctx context.Context, start time.Time) {
	e.metrics.frameDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.String("phase", string(e.phase))))
}

// Phase returns the current engine phase. Not safe to call while Run is
// active on another goroutine.
func (e *Engine) Phase() Phase { return e.phase }

// Models returns the color models in use once tracking has started.
func (e *Engine) Models() marker.Set { return e.models }
