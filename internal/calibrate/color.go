package calibrate

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/airdrums/internal/marker"
)

// hueBins is the number of histogram bins used to find the dominant hue.
const hueBins = 36

// DominantColor returns the representative color of sampled pixels: the
// pixels in the most populated hue bin and its two neighbours are averaged,
// hue circularly and saturation/value arithmetically.
func DominantColor(pixels []marker.HSV) (marker.HSV, bool) {
	if len(pixels) == 0 {
		return marker.HSV{}, false
	}

	const width = 360.0 / hueBins
	var hist [hueBins]int
	bins := make([]int, len(pixels))
	for i, p := range pixels {
		b := int(marker.NormalizeHue(p.H)/width) % hueBins
		bins[i] = b
		hist[b]++
	}

	mode := 0
	for b := 1; b < hueBins; b++ {
		if hist[b] > hist[mode] {
			mode = b
		}
	}

	var hues, sats, vals []float64
	for i, p := range pixels {
		d := (bins[i] - mode + hueBins) % hueBins
		if d != 0 && d != 1 && d != hueBins-1 {
			continue
		}
		hues = append(hues, p.H)
		sats = append(sats, p.S)
		vals = append(vals, p.V)
	}

	return marker.HSV{
		H: circularMeanDeg(hues),
		S: stat.Mean(sats, nil),
		V: stat.Mean(vals, nil),
	}, true
}

// pointColor is one confirmed calibration point.
type pointColor struct {
	Color  marker.HSV
	Radius float64
}

// fold combines the confirmed points of one marker into its color model.
// The center is the mean of the point colors, the radius the largest point
// radius and the tolerance the larger of base and twice the spread of the
// point colors.
func fold(points []pointColor, base float64) marker.ColorModel {
	hues := make([]float64, len(points))
	sats := make([]float64, len(points))
	vals := make([]float64, len(points))
	radii := make([]float64, len(points))
	for i, p := range points {
		hues[i] = p.Color.H
		sats[i] = p.Color.S
		vals[i] = p.Color.V
		radii[i] = p.Radius
	}

	center := marker.HSV{
		H: circularMeanDeg(hues),
		S: stat.Mean(sats, nil),
		V: stat.Mean(vals, nil),
	}

	tolerance := base
	if len(points) > 1 {
		hueDev := make([]float64, len(hues))
		for i, h := range hues {
			hueDev[i] = marker.HueDistance(h, center.H)
		}
		spread := floats.Max([]float64{
			math.Sqrt(stat.Mean(squares(hueDev), nil)) / marker.HueWeight,
			stat.StdDev(sats, nil) / marker.SaturationWeight,
			stat.StdDev(vals, nil) / marker.ValueWeight,
		})
		tolerance = math.Max(base, 2*spread)
	}

	return marker.ColorModel{
		Center:    center,
		Tolerance: tolerance,
		Radius:    floats.Max(radii),
	}
}

func circularMeanDeg(deg []float64) float64 {
	rad := make([]float64, len(deg))
	for i, d := range deg {
		rad[i] = d * math.Pi / 180
	}
	return marker.NormalizeHue(stat.CircularMean(rad, nil) * 180 / math.Pi)
}

func squares(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * v
	}
	return out
}
