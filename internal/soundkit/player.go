package soundkit

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PlayerConfig sizes the playback pool.
type PlayerConfig struct {
	Workers int
	Queue   int
	Timeout time.Duration
	// MinVolume is the volume of a hit with zero intensity.
	MinVolume float64

	Logger zerolog.Logger
}

// DefaultPlayerConfig returns a PlayerConfig with sensible default values.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		Workers:   4,
		Queue:     32,
		Timeout:   2 * time.Second,
		MinVolume: 0.2,
		Logger:    zerolog.Nop(),
	}
}

// Player plays kit samples on a pool of workers. Play never blocks.
type Player struct {
	kit  *Kit
	exec *Executor
	cfg  PlayerConfig
	log  zerolog.Logger

	jobs   chan Request
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	played  atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewPlayer starts the worker pool for kit.
func NewPlayer(kit *Kit, cfg PlayerConfig) *Player {
	def := DefaultPlayerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Queue <= 0 {
		cfg.Queue = def.Queue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		kit:    kit,
		exec:   NewExecutor(cfg.Timeout),
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "soundkit").Str("kit", kit.Manifest.Name).Logger(),
		jobs:   make(chan Request, cfg.Queue),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Play queues the instrument's sample at a volume derived from intensity.
// Instruments without a sample and hits arriving on a full queue are dropped.
func (p *Player) Play(instrument string, intensity float64) {
	file, ok := p.kit.Sample(instrument)
	if !ok {
		p.dropped.Add(1)
		p.log.Debug().Str("instrument", instrument).Msg("no sample for instrument")
		return
	}

	req := Request{
		Instrument: instrument,
		File:       file,
		Volume:     p.volume(intensity),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.jobs <- req:
	default:
		p.dropped.Add(1)
		p.log.Warn().Str("instrument", instrument).Msg("playback queue full, dropping hit")
	}
}

func (p *Player) volume(intensity float64) float64 {
	i := math.Max(0, math.Min(1, intensity))
	return p.cfg.MinVolume + (1-p.cfg.MinVolume)*i
}

func (p *Player) worker() {
	defer p.wg.Done()
	for req := range p.jobs {
		if err := p.exec.Execute(p.ctx, p.kit, &req); err != nil {
			p.failed.Add(1)
			p.log.Error().Err(err).Str("instrument", req.Instrument).Msg("playback failed")
			continue
		}
		p.played.Add(1)
	}
}

// Close stops accepting hits and waits for queued playback to finish.
func (p *Player) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
	return nil
}

// Stats returns the played, dropped and failed counts.
func (p *Player) Stats() (played, dropped, failed int64) {
	return p.played.Load(), p.dropped.Load(), p.failed.Load()
}
