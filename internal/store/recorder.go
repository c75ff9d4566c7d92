package store

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ayusman/airdrums/internal/strike"
)

// DefaultRecorderBuffer is the number of hits a HitRecorder queues before
// dropping.
const DefaultRecorderBuffer = 256

// HitRecorder writes hits of one session in the background so the frame
// loop never waits on disk.
type HitRecorder struct {
	repo      *HitRepository
	sessionID string
	log       zerolog.Logger

	mu      sync.Mutex
	closed  bool
	ch      chan strike.HitEvent
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64
}

// NewHitRecorder starts a recorder for sessionID.
func NewHitRecorder(repo *HitRepository, sessionID string, buffer int, log zerolog.Logger) *HitRecorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	r := &HitRecorder{
		repo:      repo,
		sessionID: sessionID,
		log:       log.With().Str("component", "hit-recorder").Str("session", sessionID).Logger(),
		ch:        make(chan strike.HitEvent, buffer),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues a hit without blocking. Hits are dropped when the buffer is
// full or the recorder is closed.
func (r *HitRecorder) Record(h strike.HitEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.ch <- h:
	default:
		r.dropped.Add(1)
		r.log.Warn().Msg("hit log buffer full, dropping hit")
	}
}

// Close flushes queued hits and stops the recorder.
func (r *HitRecorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

// Dropped returns the number of hits that could not be queued.
func (r *HitRecorder) Dropped() int64 { return r.dropped.Load() }

// Written returns the number of hits stored.
func (r *HitRecorder) Written() int64 { return r.written.Load() }

func (r *HitRecorder) run() {
	defer close(r.done)

	batch := make([]strike.HitEvent, 0, 16)
	for h := range r.ch {
		batch = append(batch[:0], h)
	fill:
		for len(batch) < cap(batch) {
			select {
			case next, ok := <-r.ch:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}

		if err := r.repo.Record(r.sessionID, batch...); err != nil {
			r.log.Error().Err(err).Int("hits", len(batch)).Msg("failed to store hits")
			continue
		}
		r.written.Add(int64(len(batch)))
	}
}
