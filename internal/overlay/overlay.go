// Package overlay draws the engine state on camera frames and keeps the
// latest annotated frame for viewers.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/ayusman/airdrums/internal/engine"
	"github.com/ayusman/airdrums/internal/marker"
)

// ErrNoFrame is returned before the first frame has been rendered.
var ErrNoFrame = errors.New("no frame rendered yet")

// HitFlash is how long a zone stays highlighted after a hit.
const HitFlash = 200 * time.Millisecond

var (
	zoneColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	hitColor    = color.RGBA{R: 255, G: 200, B: 0, A: 255}
	targetColor = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	textColor   = color.RGBA{R: 240, G: 240, B: 240, A: 255}
	errorColor  = color.RGBA{R: 255, G: 60, B: 60, A: 255}

	markerColors = map[marker.ID]color.RGBA{
		marker.LeftStick:  {R: 80, G: 160, B: 255, A: 255},
		marker.RightStick: {R: 80, G: 255, B: 120, A: 255},
		marker.LeftFoot:   {R: 255, G: 120, B: 80, A: 255},
		marker.RightFoot:  {R: 255, G: 80, B: 200, A: 255},
	}
)

// Config controls encoding of the annotated frame.
type Config struct {
	// JPEGQuality is 1-100; zero means 80.
	JPEGQuality int
	Logger      zerolog.Logger
}

// Renderer implements engine.RenderSink. It is safe for one writer and any
// number of concurrent readers.
type Renderer struct {
	quality int
	log     zerolog.Logger

	mu    sync.RWMutex
	frame gocv.Mat
	snap  engine.Snapshot
	seq   uint64
}

// New creates a Renderer.
func New(cfg Config) *Renderer {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	return &Renderer{
		quality: cfg.JPEGQuality,
		log:     cfg.Logger.With().Str("component", "overlay").Logger(),
		frame:   gocv.NewMat(),
	}
}

// Render annotates a copy of frame with snap and publishes both.
func (r *Renderer) Render(frame gocv.Mat, snap engine.Snapshot) {
	if frame.Empty() {
		return
	}
	annotated := frame.Clone()
	Draw(&annotated, snap)

	r.mu.Lock()
	old := r.frame
	r.frame = annotated
	r.snap = snap
	r.seq++
	r.mu.Unlock()

	old.Close()
}

// Snapshot returns the latest snapshot and its sequence number, zero before
// the first frame.
func (r *Renderer) Snapshot() (engine.Snapshot, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap, r.seq
}

// JPEG encodes the latest annotated frame.
func (r *Renderer) JPEG() ([]byte, uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.seq == 0 || r.frame.Empty() {
		return nil, 0, ErrNoFrame
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, r.frame, []int{int(gocv.IMWriteJpegQuality), r.quality})
	if err != nil {
		return nil, 0, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, r.seq, nil
}

// Close releases the stored frame.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame.Close()
}

// Draw paints zones, markers, the calibration target and recent hits onto
// img in place.
func Draw(img *gocv.Mat, snap engine.Snapshot) {
	flashing := make(map[string]bool)
	for _, h := range snap.Hits {
		if d := snap.Timestamp.Sub(h.Timestamp); d >= 0 && d < HitFlash {
			flashing[h.Zone] = true
		}
	}

	for _, z := range snap.Zones {
		c, thickness := zoneColor, 1
		if flashing[z.Name] {
			c, thickness = hitColor, 4
		}
		center := pt(z.X, z.Y)
		switch z.Shape {
		case "circle":
			gocv.Circle(img, center, int(math.Round(z.Radius)), c, thickness)
		case "rect":
			gocv.Rectangle(img, image.Rect(int(z.X0), int(z.Y0), int(z.X1), int(z.Y1)), c, thickness)
		}
		gocv.Line(img, center, pt(z.X+z.NormalX*20, z.Y+z.NormalY*20), c, 1)
		gocv.PutText(img, z.Instrument, center.Add(image.Pt(-20, -8)), gocv.FontHersheySimplex, 0.45, c, 1)
	}

	for _, m := range snap.Markers {
		if !m.Found {
			continue
		}
		c, ok := markerColors[m.ID]
		if !ok {
			c = textColor
		}
		center := pt(m.X, m.Y)
		radius := int(math.Max(4, math.Round(m.Radius)))
		gocv.Circle(img, center, radius, c, 2)
		gocv.Circle(img, center, 2, c, -1)
	}

	if cal := snap.Calibration; cal != nil {
		center := image.Pt(cal.X, cal.Y)
		gocv.Circle(img, center, int(math.Round(cal.Radius)), targetColor, 2)
		label := fmt.Sprintf("%s  point %d/%d  %s  samples %d", cal.Marker, cal.Index+1, cal.Total, cal.State, cal.Samples)
		gocv.PutText(img, label, image.Pt(10, 24), gocv.FontHersheySimplex, 0.6, targetColor, 2)
		if cal.Error != "" {
			gocv.PutText(img, cal.Error, image.Pt(10, 48), gocv.FontHersheySimplex, 0.6, errorColor, 2)
		}
	}

	if n := len(snap.Hits); n > 0 {
		h := snap.Hits[n-1]
		label := fmt.Sprintf("%s %.2f", h.Instrument, h.Intensity)
		gocv.PutText(img, label, image.Pt(10, img.Rows()-12), gocv.FontHersheySimplex, 0.6, hitColor, 2)
	}
}

func pt(x, y float64) image.Point {
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}
