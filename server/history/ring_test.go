package history

import (
	"testing"
	"time"

	"github.com/san-kum/rigwatch/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)

	_, ok := r.Latest()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, 5, latest)

	prev, ok := r.Previous()
	require.True(t, ok)
	assert.Equal(t, 4, prev)
}

func TestRingPartialFill(t *testing.T) {
	r := NewRing[string](4)
	r.Push("a")

	assert.Equal(t, []string{"a"}, r.Items())
	_, ok := r.Previous()
	assert.False(t, ok)
}

func TestRingDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewRing[int](0).Cap())
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name     string
		latest   float64
		previous float64
		span     float64
		want     Trend
	}{
		{"up", 100, 50, 3000, TrendIncreasing},
		{"exactly_one_percent", 130, 100, 3000, TrendStable},
		{"down", 10, 50, 3000, TrendDecreasing},
		{"flat", 5.01, 5, 20, TrendStable},
		{"zero_span", 10, 0, 0, TrendStable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Compare(c.latest, c.previous, c.span))
		})
	}
}

func TestDrillTrends(t *testing.T) {
	r := NewRing[models.TelemetryReading](DefaultCapacity)
	for _, tr := range DrillTrends(r) {
		assert.Equal(t, TrendStable, tr)
	}

	r.Push(models.TelemetryReading{Timestamp: time.Now(), Sensors: models.DrillSensors{RPM: 1000, Temperature: 60}})
	r.Push(models.TelemetryReading{Timestamp: time.Now(), Sensors: models.DrillSensors{RPM: 1200, Temperature: 50}})

	trends := DrillTrends(r)
	assert.Equal(t, TrendIncreasing, trends["rpm"])
	assert.Equal(t, TrendDecreasing, trends["temperature"])
	assert.Equal(t, TrendStable, trends["humidity"])
}
