package history

import (
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
)

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// trendFraction of a sensor's declared range is the smallest change that
// counts as movement.
const trendFraction = 0.01

// Compare classifies the move from previous to latest against span.
func Compare(latest, previous, span float64) Trend {
	if span <= 0 {
		return TrendStable
	}
	delta := latest - previous
	switch {
	case delta > span*trendFraction:
		return TrendIncreasing
	case delta < -span*trendFraction:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// DrillTrends computes a trend per drill sensor from the two newest
// readings. With fewer than two readings every sensor is stable.
func DrillTrends(r *Ring[models.TelemetryReading]) map[string]Trend {
	out := make(map[string]Trend, len(telemetry.DrillSensors))
	latest, ok1 := r.Latest()
	prev, ok2 := r.Previous()
	for _, s := range telemetry.DrillSensors {
		if !ok1 || !ok2 {
			out[s.Name] = TrendStable
			continue
		}
		out[s.Name] = Compare(
			telemetry.DrillValue(latest.Sensors, s.Name),
			telemetry.DrillValue(prev.Sensors, s.Name),
			s.Span(),
		)
	}
	return out
}

// VitalTrends is DrillTrends for the vitals stream.
func VitalTrends(r *Ring[models.VitalsReading]) map[string]Trend {
	out := make(map[string]Trend, len(telemetry.VitalSensors))
	latest, ok1 := r.Latest()
	prev, ok2 := r.Previous()
	for _, s := range telemetry.VitalSensors {
		if !ok1 || !ok2 {
			out[s.Name] = TrendStable
			continue
		}
		out[s.Name] = Compare(
			telemetry.VitalValue(latest.Vitals, s.Name),
			telemetry.VitalValue(prev.Vitals, s.Name),
			s.Span(),
		)
	}
	return out
}
