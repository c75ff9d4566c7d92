package engine

import (
	"time"

	"github.com/ayusman/airdrums/internal/calibrate"
	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/strike"
	"github.com/ayusman/airdrums/internal/zone"
)

// Phase is the engine mode.
type Phase string

const (
	PhaseCalibrating Phase = "calibrating"
	PhaseTracking    Phase = "tracking"
)

// MarkerView is the per-frame state of one marker.
type MarkerView struct {
	ID         marker.ID `json:"id"`
	Found      bool      `json:"found"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Radius     float64   `json:"radius"`
	Confidence float64   `json:"confidence"`
	Speed      float64   `json:"speed"`
	Idle       bool      `json:"idle"`
	Strike     string    `json:"strike"`
}

// CalibrationView describes the calibration target being collected.
type CalibrationView struct {
	State   string    `json:"state"`
	Marker  marker.ID `json:"marker"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	Radius  float64   `json:"radius"`
	Index   int       `json:"index"`
	Total   int       `json:"total"`
	Samples int       `json:"samples"`
	Error   string    `json:"error,omitempty"`
}

// ZoneView is the serializable form of a drum zone.
type ZoneView struct {
	Name       string  `json:"name"`
	Instrument string  `json:"instrument"`
	Shape      string  `json:"shape"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Radius     float64 `json:"radius,omitempty"`
	X0         float64 `json:"x0,omitempty"`
	Y0         float64 `json:"y0,omitempty"`
	X1         float64 `json:"x1,omitempty"`
	Y1         float64 `json:"y1,omitempty"`
	NormalX    float64 `json:"normal_x"`
	NormalY    float64 `json:"normal_y"`
}

// Snapshot is what the engine publishes to the render sink after each frame.
type Snapshot struct {
	Session     string            `json:"session"`
	Phase       Phase             `json:"phase"`
	Frame       int               `json:"frame"`
	Timestamp   time.Time         `json:"timestamp"`
	Markers     []MarkerView      `json:"markers"`
	Calibration *CalibrationView  `json:"calibration,omitempty"`
	Zones       []ZoneView        `json:"zones"`
	Hits        []strike.HitEvent `json:"hits"`
}

// ZoneViews converts a zone map for display, in declaration order.
func ZoneViews(m *zone.Map) []ZoneView {
	if m == nil {
		return nil
	}
	zones := m.Zones()
	out := make([]ZoneView, 0, len(zones))
	for _, z := range zones {
		c := z.Region.Center()
		v := ZoneView{
			Name:       z.Name,
			Instrument: z.Instrument,
			X:          c.X,
			Y:          c.Y,
			NormalX:    z.Normal.X,
			NormalY:    z.Normal.Y,
		}
		switch r := z.Region.(type) {
		case zone.Circle:
			v.Shape = "circle"
			v.Radius = r.Radius
		case zone.Rect:
			v.Shape = "rect"
			lo, hi := r.Corners()
			v.X0, v.Y0, v.X1, v.Y1 = lo.X, lo.Y, hi.X, hi.Y
		}
		out = append(out, v)
	}
	return out
}

func calibrationView(t calibrate.Target, err error) *CalibrationView {
	v := &CalibrationView{
		State:   t.State.String(),
		Marker:  t.Marker,
		X:       t.Point.X,
		Y:       t.Point.Y,
		Radius:  t.Radius,
		Index:   t.Index,
		Total:   t.Total,
		Samples: t.Samples,
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}
