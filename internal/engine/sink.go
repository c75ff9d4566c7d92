package engine

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/strike"
)

// AudioSink plays an instrument. Play must return immediately.
type AudioSink interface {
	Play(instrument string, intensity float64)
}

// RenderSink observes every processed frame. The frame is only valid for the
// duration of the call; implementations that keep it must clone it.
type RenderSink interface {
	Render(frame gocv.Mat, snap Snapshot)
}

// HitSink records hits. Record must not block on I/O.
type HitSink interface {
	Record(hit strike.HitEvent)
}

// ModelStore persists calibrated color models.
type ModelStore interface {
	Load() (marker.Set, error)
	Save(set marker.Set) error
}

// SessionStore records the lifetime of a run.
type SessionStore interface {
	Start(id string, startedAt time.Time) error
	End(id string, endedAt time.Time, reason string) error
}

type nopAudio struct{}

func (nopAudio) Play(string, float64) {}

type nopRender struct{}

func (nopRender) Render(gocv.Mat, Snapshot) {}

type nopHits struct{}

func (nopHits) Record(strike.HitEvent) {}

type multiHits []HitSink

func (m multiHits) Record(hit strike.HitEvent) {
	for _, s := range m {
		s.Record(hit)
	}
}

// MultiHitSink fans hits out to every non-nil sink in order.
func MultiHitSink(sinks ...HitSink) HitSink {
	var out multiHits
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
