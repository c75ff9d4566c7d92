package track

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestState_VelocityAndAcceleration(t *testing.T) {
	s := New(DefaultConfig())

	s.Found(r2.Vec{X: 0, Y: 0}, at(0))
	assert.Equal(t, r2.Vec{}, s.Velocity(), "first sample has no velocity")

	s.Found(r2.Vec{X: 10, Y: 0}, at(100))
	assert.InDelta(t, 100, s.Velocity().X, 1e-9)
	assert.Equal(t, r2.Vec{}, s.Acceleration(), "acceleration needs two velocities")

	// Variable frame timing: 30px in 50ms.
	s.Found(r2.Vec{X: 40, Y: 0}, at(150))
	assert.InDelta(t, 600, s.Velocity().X, 1e-9)
	assert.InDelta(t, (600.0-100.0)/0.05, s.Acceleration().X, 1e-6)
	assert.InDelta(t, 600, s.Speed(), 1e-9)

	assert.Equal(t, 3, s.Tracked())
	assert.Equal(t, 0, s.Lost())
	assert.False(t, s.Idle())
	assert.True(t, s.Fresh())
}

func TestState_NonIncreasingTimestamp(t *testing.T) {
	s := New(DefaultConfig())
	s.Found(r2.Vec{X: 0, Y: 0}, at(0))
	s.Found(r2.Vec{X: 10, Y: 0}, at(100))
	s.Found(r2.Vec{X: 50, Y: 0}, at(100))

	assert.InDelta(t, 100, s.Velocity().X, 1e-9, "duplicate timestamp keeps previous motion")
}

func TestState_RingBufferEvictsOldest(t *testing.T) {
	const capacity = 5
	s := New(Config{Capacity: capacity, LostThreshold: 3})

	for i := 0; i <= capacity; i++ {
		s.Found(r2.Vec{X: float64(i), Y: 0}, at(i*10))
	}

	require.Equal(t, capacity, s.Len())
	samples := s.Samples()
	assert.Equal(t, 1.0, samples[0].Point.X, "sample 0 evicted after N+1 inserts")
	assert.Equal(t, float64(capacity), samples[capacity-1].Point.X)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, float64(capacity), last.Point.X)
}

func TestState_RingBufferNeverExceedsCapacity(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		capacity := 1 + rng.Intn(20)
		s := New(Config{Capacity: capacity, LostThreshold: 1 + rng.Intn(5)})
		inserts := rng.Intn(100)
		ms := 0
		for i := 0; i < inserts; i++ {
			ms += 1 + rng.Intn(40)
			if rng.Float64() < 0.2 {
				s.Missed()
				continue
			}
			s.Found(r2.Vec{X: rng.Float64() * 640, Y: rng.Float64() * 480}, at(ms))
			require.LessOrEqual(t, s.Len(), capacity)
		}

		samples := s.Samples()
		for i := 1; i < len(samples); i++ {
			require.True(t, samples[i].Time.After(samples[i-1].Time), "samples stay ordered")
		}
	}
}

func TestState_LostThresholdZeroesMotion(t *testing.T) {
	// A marker not found for 3 consecutive frames with threshold 3 becomes
	// idle on the third miss.
	s := New(Config{Capacity: 8, LostThreshold: 3})
	s.Found(r2.Vec{X: 0, Y: 0}, at(0))
	s.Found(r2.Vec{X: 0, Y: 50}, at(33))
	s.Found(r2.Vec{X: 0, Y: 150}, at(66))
	require.Greater(t, s.Speed(), 0.0)

	s.Missed()
	assert.False(t, s.Idle())
	assert.NotEqual(t, r2.Vec{}, s.Velocity(), "motion survives below threshold")

	s.Missed()
	assert.False(t, s.Idle())

	s.Missed()
	assert.True(t, s.Idle())
	assert.Equal(t, r2.Vec{}, s.Velocity())
	assert.Equal(t, r2.Vec{}, s.Acceleration())
	assert.Equal(t, 3, s.Len(), "history untouched while lost")
	assert.False(t, s.Fresh())
}

func TestState_LostThresholdProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 100; trial++ {
		threshold := 1 + rng.Intn(6)
		s := New(Config{Capacity: 10, LostThreshold: threshold})
		ms := 0
		for i := 0; i < 2+rng.Intn(10); i++ {
			ms += 10 + rng.Intn(30)
			s.Found(r2.Vec{X: rng.Float64() * 1e4, Y: rng.Float64() * 1e4}, at(ms))
		}
		for i := 0; i < threshold; i++ {
			s.Missed()
		}
		require.True(t, s.Idle())
		require.Equal(t, r2.Vec{}, s.Velocity())
		require.Equal(t, r2.Vec{}, s.Acceleration())
	}
}

func TestState_ResumeStartsNewSegment(t *testing.T) {
	s := New(Config{Capacity: 8, LostThreshold: 1})
	s.Found(r2.Vec{X: 0, Y: 0}, at(0))
	s.Found(r2.Vec{X: 0, Y: 10}, at(10))
	s.Missed()
	require.True(t, s.Idle())

	s.Found(r2.Vec{X: 300, Y: 300}, at(20))
	assert.Equal(t, r2.Vec{}, s.Velocity(), "no velocity across a lost gap")
	assert.False(t, s.Idle())
	assert.Equal(t, 1, s.Tracked())

	s.Found(r2.Vec{X: 300, Y: 310}, at(30))
	assert.InDelta(t, 1000, s.Velocity().Y, 1e-9)
	assert.Equal(t, r2.Vec{}, s.Acceleration())
}

func TestState_Since(t *testing.T) {
	s := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		s.Found(r2.Vec{X: float64(i)}, at(i*100))
	}
	got := s.Since(at(250))
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Point.X)
}

func TestState_Reset(t *testing.T) {
	s := New(Config{Capacity: 4, LostThreshold: 2})
	s.Found(r2.Vec{X: 1}, at(0))
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 4, s.Cap())
	assert.True(t, s.Idle())
	_, ok := s.Last()
	assert.False(t, ok)
}

func TestNew_DefaultsForInvalidConfig(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, DefaultCapacity, s.Cap())
}
