package strike

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/track"
	"github.com/ayusman/airdrums/internal/zone"
)

const frame = 33 * time.Millisecond

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func snareMap(t testing.TB) *zone.Map {
	t.Helper()
	m, err := zone.NewMap(zone.DrumZone{
		Name:       "snare",
		Instrument: "snare",
		Region:     zone.Circle{C: r2.Vec{X: 320, Y: 300}, Radius: 60},
	})
	require.NoError(t, err)
	return m
}

// play feeds one position per frame and returns the emitted hits. A nil
// position is a frame where the marker was not found.
func play(d *Detector, zones *zone.Map, ys []float64, times []time.Time) []HitEvent {
	st := track.New(track.Config{Capacity: 16, LostThreshold: 3})
	var hits []HitEvent
	var lastHit time.Time
	for i, y := range ys {
		st.Found(r2.Vec{X: 320, Y: y}, times[i])
		if hit, ok := d.Detect(marker.RightStick, st, zones, lastHit); ok {
			hits = append(hits, hit)
			lastHit = hit.Timestamp
		}
	}
	return hits
}

func evenTimes(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = t0.Add(time.Duration(i) * frame)
	}
	return out
}

func TestDetect_StrikeStopsInZone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeed = 900
	d := NewDetector(cfg)

	// Constant downward speed into the snare, then the stick stops and rests.
	ys := []float64{100, 130, 160, 190, 220, 250, 280, 300, 300, 300, 300, 300}
	times := evenTimes(len(ys))
	hits := play(d, snareMap(t), ys, times)

	require.Len(t, hits, 1)
	hit := hits[0]
	assert.Equal(t, marker.RightStick, hit.Marker)
	assert.Equal(t, "snare", hit.Zone)
	assert.Equal(t, "snare", hit.Instrument)
	assert.Equal(t, times[8], hit.Timestamp, "hit fires on the frame motion stops")
	assert.InDelta(t, 1.0, hit.Intensity, 1e-9)
	assert.Greater(t, hit.PeakSpeed, 800.0)
}

func TestDetect_PassThroughDoesNotTrigger(t *testing.T) {
	d := NewDetector(DefaultConfig())

	var ys []float64
	for y := 100.0; y <= 600; y += 30 {
		ys = append(ys, y)
	}
	hits := play(d, snareMap(t), ys, evenTimes(len(ys)))
	assert.Empty(t, hits)
}

func TestDetect_SlowDriftDoesNotTrigger(t *testing.T) {
	d := NewDetector(DefaultConfig())

	ys := []float64{270, 272, 274, 276, 278, 280, 280, 280}
	hits := play(d, snareMap(t), ys, evenTimes(len(ys)))
	assert.Empty(t, hits)
}

func TestDetect_StopOutsideZone(t *testing.T) {
	d := NewDetector(DefaultConfig())

	ys := []float64{0, 40, 80, 120, 160, 160}
	hits := play(d, snareMap(t), ys, evenTimes(len(ys)))
	assert.Empty(t, hits)
}

func TestDetect_RefractorySuppressesBounce(t *testing.T) {
	// Strike, bounce up one frame, come back down and stop again 99ms later.
	ys := []float64{100, 150, 200, 250, 300, 300, 270, 300, 300}
	times := evenTimes(len(ys))

	d := NewDetector(DefaultConfig())
	hits := play(d, snareMap(t), ys, times)
	require.Len(t, hits, 1, "bounce inside refractory is suppressed")

	cfg := DefaultConfig()
	cfg.Refractory = 50 * time.Millisecond
	d = NewDetector(cfg)
	hits = play(d, snareMap(t), ys, times)
	require.Len(t, hits, 2, "shorter refractory lets the second strike through")
	assert.Equal(t, times[5], hits[0].Timestamp)
	assert.Equal(t, times[8], hits[1].Timestamp)
}

func TestDetect_ReboundThenDriftFiresOnce(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Fast strike, a fast rebound that stays in the zone, then a 3px drift
	// down after the refractory has expired.
	ys := []float64{150, 200, 250, 300, 300, 280, 260, 250, 253, 253}
	times := evenTimes(len(ys))
	hits := play(d, snareMap(t), ys, times)

	require.Len(t, hits, 1, "rebound speed does not arm the drift")
	assert.Equal(t, times[4], hits[0].Timestamp)
	assert.Greater(t, hits[0].PeakSpeed, 1500.0)
}

func TestPeaks_OnlyCountsApproachingSamples(t *testing.T) {
	down := r2.Vec{X: 0, Y: 1}
	samples := []track.Sample{
		{Velocity: r2.Vec{Y: 400}, Accel: r2.Vec{Y: 2000}, HasVelocity: true},
		{Velocity: r2.Vec{Y: -900}, Accel: r2.Vec{Y: -40000}, HasVelocity: true},
		{Velocity: r2.Vec{Y: 700}, HasVelocity: false},
	}
	speed, accel := peaks(samples, down, 0)
	assert.InDelta(t, 400, speed, 1e-9)
	assert.InDelta(t, 2000, accel, 1e-9)
}

func TestDetect_UpwardNormal(t *testing.T) {
	m, err := zone.NewMap(zone.DrumZone{
		Name:       "crash",
		Instrument: "crash",
		Region:     zone.NewRect(200, 50, 440, 150),
		Normal:     r2.Vec{X: 0, Y: -1},
	})
	require.NoError(t, err)

	d := NewDetector(DefaultConfig())
	ys := []float64{400, 340, 280, 220, 160, 100, 100}
	hits := play(d, m, ys, evenTimes(len(ys)))
	require.Len(t, hits, 1)
	assert.Equal(t, "crash", hits[0].Zone)
}

func TestDetect_LostMarkerResetsPhase(t *testing.T) {
	d := NewDetector(DefaultConfig())
	zones := snareMap(t)
	st := track.New(track.Config{Capacity: 16, LostThreshold: 2})

	for i, y := range []float64{100, 150, 200, 250} {
		st.Found(r2.Vec{X: 320, Y: y}, t0.Add(time.Duration(i)*frame))
		_, ok := d.Detect(marker.LeftStick, st, zones, time.Time{})
		require.False(t, ok)
	}
	require.Equal(t, PhaseApproaching, d.Phase(marker.LeftStick))

	st.Missed()
	_, ok := d.Detect(marker.LeftStick, st, zones, time.Time{})
	assert.False(t, ok)
	assert.Equal(t, PhaseApproaching, d.Phase(marker.LeftStick), "single miss keeps the phase")

	st.Missed()
	_, ok = d.Detect(marker.LeftStick, st, zones, time.Time{})
	assert.False(t, ok)
	assert.Equal(t, PhaseIdle, d.Phase(marker.LeftStick))

	// Reappearing at rest inside the zone is not a strike.
	st.Found(r2.Vec{X: 320, Y: 300}, t0.Add(10*frame))
	st.Found(r2.Vec{X: 320, Y: 300}, t0.Add(11*frame))
	_, ok = d.Detect(marker.LeftStick, st, zones, time.Time{})
	assert.False(t, ok)
}

func TestIntensity_AccelWeight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeed = 1000
	cfg.MaxAccel = 10000
	cfg.AccelWeight = 0.5
	d := NewDetector(cfg)

	assert.InDelta(t, 0.5*0.5+0.5*0.2, d.intensity(500, 2000), 1e-12)
	assert.InDelta(t, 1.0, d.intensity(5000, 50000), 1e-12)
	assert.InDelta(t, 0.0, d.intensity(0, 0), 1e-12)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min speed", func(c *Config) { c.MinSpeed = 0 }},
		{"max below min", func(c *Config) { c.MaxSpeed = c.MinSpeed - 1 }},
		{"negative stop", func(c *Config) { c.StopSpeed = -1 }},
		{"negative refractory", func(c *Config) { c.Refractory = -time.Millisecond }},
		{"zero window", func(c *Config) { c.Window = 0 }},
		{"weight above one", func(c *Config) { c.AccelWeight = 1.5 }},
		{"weight without max accel", func(c *Config) { c.AccelWeight = 0.5; c.MaxAccel = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// checkRefractory asserts that no two hits are closer than the refractory.
func checkRefractory(t testing.TB, hits []HitEvent, refractory time.Duration) {
	t.Helper()
	for i := 1; i < len(hits); i++ {
		gap := hits[i].Timestamp.Sub(hits[i-1].Timestamp)
		if gap < refractory {
			t.Fatalf("hits %d and %d are %v apart, refractory is %v", i-1, i, gap, refractory)
		}
	}
}

func TestDetect_RefractoryProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	zones := snareMap(t)

	for trial := 0; trial < 200; trial++ {
		cfg := DefaultConfig()
		cfg.Refractory = time.Duration(rng.Intn(300)) * time.Millisecond
		d := NewDetector(cfg)

		n := 20 + rng.Intn(200)
		ys := make([]float64, n)
		times := make([]time.Time, n)
		y, now := 300.0, t0
		for i := range ys {
			y += rng.Float64()*120 - 60
			now = now.Add(time.Duration(5+rng.Intn(60)) * time.Millisecond)
			ys[i], times[i] = y, now
		}
		checkRefractory(t, play(d, zones, ys, times), cfg.Refractory)
	}
}

func FuzzDetectRefractory(f *testing.F) {
	f.Add([]byte{10, 200, 200, 200, 128, 60, 200, 128, 128})
	f.Add([]byte{0, 255, 0, 255, 0, 255, 0, 255})
	zones := snareMap(f)

	f.Fuzz(func(t *testing.T, steps []byte) {
		cfg := DefaultConfig()
		d := NewDetector(cfg)
		ys := make([]float64, len(steps))
		times := make([]time.Time, len(steps))
		y := 240.0
		for i, b := range steps {
			y += float64(int(b)-128) / 2
			ys[i] = y
			times[i] = t0.Add(time.Duration(i) * 16 * time.Millisecond)
		}
		checkRefractory(t, play(d, zones, ys, times), cfg.Refractory)
	})
}
