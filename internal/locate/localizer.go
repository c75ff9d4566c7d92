// Package locate finds colored markers in a camera frame.
package locate

import (
	"context"
	"image"
	"math"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/ayusman/airdrums/internal/marker"
)

// Column layout of the stats Mat returned by ConnectedComponentsWithStats.
const (
	statLeft = iota
	statTop
	statWidth
	statHeight
	statArea
)

// Config holds the localization thresholds.
type Config struct {
	// BlurKernel is the odd Gaussian kernel size applied before conversion.
	BlurKernel int
	// MorphKernel is the size of the elliptic opening kernel.
	MorphKernel int
	// MorphIterations is how many times the mask is eroded, then dilated.
	MorphIterations int
	// MinArea is the smallest component, in pixels, accepted as a marker.
	MinArea int
	// RadiusRatio bounds how far the blob radius may deviate from the
	// calibrated radius in either direction. Zero disables the check.
	RadiusRatio float64
	// MinSeparation is the centroid distance below which two markers whose
	// masks overlap are both dropped for the frame.
	MinSeparation float64

	Logger zerolog.Logger
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		BlurKernel:      11,
		MorphKernel:     5,
		MorphIterations: 2,
		MinArea:         30,
		RadiusRatio:     2.5,
		MinSeparation:   20,
		Logger:          zerolog.Nop(),
	}
}

// Result is the outcome of locating one marker in one frame.
type Result struct {
	Found      bool
	Point      r2.Vec
	Confidence float64
	Area       int
	Radius     float64
	Box        image.Rectangle
}

// Localizer runs the color segmentation pipeline. It is safe for concurrent
// use once created.
type Localizer struct {
	cfg    Config
	kernel gocv.Mat
	log    zerolog.Logger
}

// New creates a Localizer. Close releases the morphology kernel.
func New(cfg Config) *Localizer {
	def := DefaultConfig()
	if cfg.BlurKernel <= 0 {
		cfg.BlurKernel = def.BlurKernel
	}
	if cfg.BlurKernel%2 == 0 {
		cfg.BlurKernel++
	}
	if cfg.MorphKernel <= 0 {
		cfg.MorphKernel = def.MorphKernel
	}
	if cfg.MorphIterations < 0 {
		cfg.MorphIterations = def.MorphIterations
	}
	return &Localizer{
		cfg:    cfg,
		kernel: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(cfg.MorphKernel, cfg.MorphKernel)),
		log:    cfg.Logger.With().Str("component", "locate").Logger(),
	}
}

// Close releases resources held by the localizer.
func (l *Localizer) Close() error {
	return l.kernel.Close()
}

// Config returns the effective configuration.
func (l *Localizer) Config() Config { return l.cfg }

// Locate finds the marker described by model in a BGR frame. It never
// returns a guessed point: Found is false when no component passes the
// thresholds.
func (l *Localizer) Locate(frame gocv.Mat, model marker.ColorModel) Result {
	if frame.Empty() {
		return Result{}
	}
	hsv := l.toHSV(frame)
	defer hsv.Close()

	res, mask := l.match(hsv, model, false)
	mask.Close()
	return res
}

// LocateAll locates every marker concurrently against one shared HSV
// conversion and waits for all of them before disambiguating overlaps.
// Only context cancellation is reported as an error.
func (l *Localizer) LocateAll(ctx context.Context, frame gocv.Mat, models map[marker.ID]marker.ColorModel) (map[marker.ID]Result, error) {
	out := make(map[marker.ID]Result, len(models))
	if frame.Empty() || len(models) == 0 {
		for id := range models {
			out[id] = Result{}
		}
		return out, ctx.Err()
	}

	hsv := l.toHSV(frame)
	defer hsv.Close()

	ids := make([]marker.ID, 0, len(models))
	for _, id := range marker.All() {
		if _, ok := models[id]; ok {
			ids = append(ids, id)
		}
	}

	results := make([]Result, len(ids))
	masks := make([]gocv.Mat, len(ids))
	matched := make([]bool, len(ids))
	defer func() {
		for i, m := range masks {
			if matched[i] {
				m.Close()
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], masks[i] = l.match(hsv, models[id], true)
			matched[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	drop := make([]bool, len(ids))
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if !results[i].Found || !results[j].Found {
				continue
			}
			if r2.Norm(r2.Sub(results[i].Point, results[j].Point)) >= l.cfg.MinSeparation {
				continue
			}
			if !overlaps(masks[i], masks[j]) {
				continue
			}
			l.log.Debug().
				Str("a", string(ids[i])).
				Str("b", string(ids[j])).
				Msg("ambiguous markers dropped")
			drop[i], drop[j] = true, true
		}
	}

	for i, id := range ids {
		if drop[i] {
			out[id] = Result{}
			continue
		}
		out[id] = results[i]
	}
	return out, nil
}

func (l *Localizer) toHSV(frame gocv.Mat) gocv.Mat {
	blurred := gocv.NewMat()
	defer blurred.Close()
	k := l.cfg.BlurKernel
	gocv.GaussianBlur(frame, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	hsv := gocv.NewMat()
	gocv.CvtColor(blurred, &hsv, gocv.ColorBGRToHSV)
	return hsv
}

// match segments model in an HSV frame and returns the best component. When
// keepMask is set the returned mask holds only the selected component's
// pixels; otherwise it is an empty Mat. The caller closes the mask.
func (l *Localizer) match(hsv gocv.Mat, model marker.ColorModel, keepMask bool) (Result, gocv.Mat) {
	mask := gocv.NewMat()
	if model.Validate() != nil {
		return Result{}, mask
	}

	for i, rng := range model.Bounds() {
		lo := gocv.NewScalar(rng.Low[0], rng.Low[1], rng.Low[2], 0)
		hi := gocv.NewScalar(rng.High[0], rng.High[1], rng.High[2], 0)
		if i == 0 {
			gocv.InRangeWithScalar(hsv, lo, hi, &mask)
			continue
		}
		part := gocv.NewMat()
		gocv.InRangeWithScalar(hsv, lo, hi, &part)
		gocv.BitwiseOr(mask, part, &mask)
		part.Close()
	}

	for i := 0; i < l.cfg.MorphIterations; i++ {
		gocv.Erode(mask, &mask, l.kernel)
	}
	for i := 0; i < l.cfg.MorphIterations; i++ {
		gocv.Dilate(mask, &mask, l.kernel)
	}

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()
	gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)

	// Label 0 is the background.
	best, bestArea := -1, 0
	for label := 1; label < stats.Rows(); label++ {
		area := int(stats.GetIntAt(label, statArea))
		if area > bestArea {
			best, bestArea = label, area
		}
	}
	if best < 0 || bestArea < l.cfg.MinArea {
		mask.Close()
		return Result{}, gocv.NewMat()
	}

	box := image.Rect(
		int(stats.GetIntAt(best, statLeft)),
		int(stats.GetIntAt(best, statTop)),
		int(stats.GetIntAt(best, statLeft)+stats.GetIntAt(best, statWidth)),
		int(stats.GetIntAt(best, statTop)+stats.GetIntAt(best, statHeight)),
	)
	radius := float64(max(box.Dx(), box.Dy())) / 2
	if !radiusMatches(radius, model.Radius, l.cfg.RadiusRatio) {
		mask.Close()
		return Result{}, gocv.NewMat()
	}

	res := Result{
		Found: true,
		Point: r2.Vec{
			X: centroids.GetDoubleAt(best, 0),
			Y: centroids.GetDoubleAt(best, 1),
		},
		Confidence: math.Min(1, float64(bestArea)/(math.Pi*radius*radius)),
		Area:       bestArea,
		Radius:     radius,
		Box:        box,
	}

	if !keepMask {
		mask.Close()
		return res, gocv.NewMat()
	}
	v := float64(best)
	gocv.InRangeWithScalar(labels, gocv.NewScalar(v, 0, 0, 0), gocv.NewScalar(v, 0, 0, 0), &mask)
	return res, mask
}

func radiusMatches(r, want, ratio float64) bool {
	if ratio <= 0 {
		return true
	}
	if !(r > 0) {
		return false
	}
	return r/want <= ratio && want/r <= ratio
}

func overlaps(a, b gocv.Mat) bool {
	if a.Empty() || b.Empty() {
		return false
	}
	both := gocv.NewMat()
	defer both.Close()
	gocv.BitwiseAnd(a, b, &both)
	return gocv.CountNonZero(both) > 0
}
