package engine

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ayusman/airdrums/internal/engine"

type metrics struct {
	frameDuration metric.Float64Histogram
	hits          metric.Int64Counter
	lost          metric.Int64Counter
}

// newMetrics registers the engine instruments on m, or on the global meter
// provider when m is nil (a no-op unless the host installs one).
func newMetrics(m metric.Meter) (*metrics, error) {
	if m == nil {
		m = otel.Meter(instrumentationName)
	}

	var (
		out metrics
		err error
	)
	out.frameDuration, err = m.Float64Histogram(
		"airdrums.frame.duration",
		metric.WithDescription("Time to process one frame end to end"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frame duration histogram: %w", err)
	}

	out.hits, err = m.Int64Counter(
		"airdrums.hits",
		metric.WithDescription("Total strikes detected"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating hit counter: %w", err)
	}

	out.lost, err = m.Int64Counter(
		"airdrums.markers.lost",
		metric.WithDescription("Times a marker went idle after consecutive misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating lost counter: %w", err)
	}

	return &out, nil
}
