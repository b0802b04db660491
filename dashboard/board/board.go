package board

import (
	"sync"
	"time"

	"github.com/san-kum/rigwatch/dashboard/link"
	"github.com/san-kum/rigwatch/server/history"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
)

// Board is the dashboard's picture of the rig: bounded histories of both
// streams, alert counters and the link state. It implements link.Sink.
type Board struct {
	mu       sync.RWMutex
	drill    *history.Ring[models.TelemetryReading]
	vitals   *history.Ring[models.VitalsReading]
	counters models.AlertCounters
	link     link.State
	updated  time.Time
}

var _ link.Sink = (*Board)(nil)

func New(capacity int) *Board {
	if capacity <= 0 {
		capacity = history.DefaultCapacity
	}
	return &Board{
		drill:  history.NewRing[models.TelemetryReading](capacity),
		vitals: history.NewRing[models.VitalsReading](capacity),
		link:   link.State{Mode: link.ModeConnecting},
	}
}

func (b *Board) OnDrill(r models.TelemetryReading) {
	b.mu.Lock()
	b.drill.Push(r)
	b.counters.DrillAlertsCount += int64(len(r.Alerts))
	b.updated = time.Now()
	b.mu.Unlock()
}

func (b *Board) OnVitals(r models.VitalsReading) {
	b.mu.Lock()
	b.vitals.Push(r)
	b.counters.HealthAlertsCount += int64(len(r.Alerts))
	b.updated = time.Now()
	b.mu.Unlock()
}

func (b *Board) OnState(s link.State) {
	b.mu.Lock()
	b.link = s
	b.mu.Unlock()
}

// Counters are the alerts seen by this dashboard, live or synthetic.
func (b *Board) Counters() models.AlertCounters {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counters
}

type Snapshot struct {
	Drill       *models.TelemetryReading
	Vitals      *models.VitalsReading
	DrillTrends map[string]history.Trend
	VitalTrends map[string]history.Trend
	// DrillSeries holds each drill sensor's values, oldest first.
	DrillSeries map[string][]float64
	Counters    models.AlertCounters
	Link        link.State
	Updated     time.Time
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Snapshot{
		DrillTrends: history.DrillTrends(b.drill),
		VitalTrends: history.VitalTrends(b.vitals),
		DrillSeries: make(map[string][]float64, len(telemetry.DrillSensors)),
		Counters:    b.counters,
		Link:        b.link,
		Updated:     b.updated,
	}
	if r, ok := b.drill.Latest(); ok {
		s.Drill = &r
	}
	if r, ok := b.vitals.Latest(); ok {
		s.Vitals = &r
	}

	items := b.drill.Items()
	for _, sensor := range telemetry.DrillSensors {
		series := make([]float64, len(items))
		for i, r := range items {
			series[i] = telemetry.DrillValue(r.Sensors, sensor.Name)
		}
		s.DrillSeries[sensor.Name] = series
	}
	return s
}
