// Package testutil draws synthetic camera frames with colored markers so
// localization, calibration and engine tests run without a camera or
// recorded footage.
package testutil

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Frame dimensions used by the synthetic fixtures.
const (
	Width  = 640
	Height = 480
)

// Common marker colors with their exact HSV signatures.
var (
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}   // 120°, 1, 1
	Blue    = color.RGBA{R: 0, G: 0, B: 255, A: 255}   // 240°, 1, 1
	Red     = color.RGBA{R: 255, G: 0, B: 0, A: 255}   // 0°, 1, 1
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255} // 300°, 1, 1
	Gray    = color.RGBA{R: 40, G: 40, B: 40, A: 255}
)

// Blob is a filled disc drawn on a frame.
type Blob struct {
	X, Y   int
	Radius int
	Color  color.RGBA
}

// Frame returns a BGR frame of the fixture size with a dark background and
// the blobs drawn in order. The caller closes the Mat.
func Frame(blobs ...Blob) gocv.Mat {
	mat := gocv.NewMatWithSize(Height, Width, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(Gray.B), float64(Gray.G), float64(Gray.R), 0))
	for _, b := range blobs {
		gocv.Circle(&mat, image.Pt(b.X, b.Y), b.Radius, b.Color, -1)
	}
	return mat
}

// Path returns the per-frame blob positions of a marker moving from one point
// to another over n frames and then resting for hold frames.
func Path(x0, y0, x1, y1 float64, n, hold int) []image.Point {
	out := make([]image.Point, 0, n+hold)
	for i := 0; i < n; i++ {
		f := float64(i) / float64(max(n-1, 1))
		out = append(out, image.Pt(
			int(math.Round(x0+(x1-x0)*f)),
			int(math.Round(y0+(y1-y0)*f)),
		))
	}
	for i := 0; i < hold; i++ {
		out = append(out, image.Pt(int(math.Round(x1)), int(math.Round(y1))))
	}
	return out
}

// Sequence renders one frame per position with a blob of the given radius
// and color. The caller closes every Mat.
func Sequence(points []image.Point, radius int, c color.RGBA) []*gocv.Mat {
	frames := make([]*gocv.Mat, len(points))
	for i, p := range points {
		m := Frame(Blob{X: p.X, Y: p.Y, Radius: radius, Color: c})
		frames[i] = &m
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
