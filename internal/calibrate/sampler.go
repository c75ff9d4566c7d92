package calibrate

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/airdrums/internal/marker"
)

// SampleCircle returns the HSV value of every pixel of a BGR frame inside
// the circle at center with the given radius, skipping pixels below the
// saturation or value floor.
func SampleCircle(frame gocv.Mat, center image.Point, radius int, minSat, minVal float64) []marker.HSV {
	if frame.Empty() || radius <= 0 {
		return nil
	}

	bounds := image.Rect(center.X-radius, center.Y-radius, center.X+radius+1, center.Y+radius+1).
		Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if bounds.Empty() {
		return nil
	}

	roi := frame.Region(bounds)
	defer roi.Close()
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV)

	r2 := radius * radius
	out := make([]marker.HSV, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx, dy := x-center.X, y-center.Y
			if dx*dx+dy*dy > r2 {
				continue
			}
			v := hsv.GetVecbAt(y-bounds.Min.Y, x-bounds.Min.X)
			px := marker.FromCV(v[0], v[1], v[2])
			if px.S < minSat || px.V < minVal {
				continue
			}
			out = append(out, px)
		}
	}
	return out
}
