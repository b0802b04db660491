package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/san-kum/rigwatch/server/cache"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu   sync.Mutex
	msgs []models.ServerMessage
}

func (r *recorder) Broadcast(msg models.ServerMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Type == kind {
			n++
		}
	}
	return n
}

func value(v float64) *float64 { return &v }

func newTestProcessor(t *testing.T) (*TelemetryProcessor, *recorder) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := cache.NewMemoryCache(100, 0, logger)
	tp := NewTelemetryProcessor(ProcessorConfig{
		DrillInterval:  5 * time.Millisecond,
		VitalsInterval: 10 * time.Millisecond,
		HistorySize:    10,
		QueueSize:      8,
		Seed:           42,
	}, store, logger)
	rec := &recorder{}
	tp.SetPublisher(rec)
	t.Cleanup(func() {
		require.NoError(t, tp.Shutdown())
		_ = store.Close()
	})
	return tp, rec
}

func TestSubmitAppliesCommands(t *testing.T) {
	tp, rec := newTestProcessor(t)
	ctx := context.Background()

	cs, err := tp.Submit(ctx, models.Command{Command: models.CommandStart}, "test")
	require.NoError(t, err)
	assert.True(t, cs.IsRunning)

	cs, err = tp.Submit(ctx, models.Command{Command: models.CommandSetRPM, Value: value(9999)}, "test")
	require.NoError(t, err)
	assert.Equal(t, float64(telemetry.MaxTargetRPM), cs.TargetRPM, "out of range targets are clamped")

	_, err = tp.Submit(ctx, models.Command{Command: "EXPLODE"}, "test")
	require.ErrorIs(t, err, telemetry.ErrUnknownCommand)
	assert.True(t, tp.Control().IsRunning, "rejected commands leave state alone")

	cs, err = tp.Submit(ctx, models.Command{Command: models.CommandReset}, "test")
	require.NoError(t, err)
	assert.Equal(t, telemetry.DefaultControlState(), cs)

	stats := tp.GetStats()
	assert.Equal(t, int64(3), stats.CommandsApplied)
	assert.Equal(t, int64(1), stats.CommandsRejected)

	// Every applied command publishes a fresh drill reading.
	assert.Equal(t, 3, rec.count(models.MessageUpdate))
	assert.Len(t, tp.DrillHistory(), 3)
}

func TestQueueKeepsArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []float64
	release := make(chan struct{})
	q := NewProcessingQueue(16, func(item *QueueItem) (models.ControlState, error) {
		<-release
		mu.Lock()
		seen = append(seen, *item.Command.Value)
		mu.Unlock()
		return models.ControlState{}, nil
	})
	t.Cleanup(func() { _ = q.Shutdown(time.Second) })

	items := make([]*QueueItem, 0, 10)
	for i := 0; i < 10; i++ {
		item := NewQueueItem(models.Command{Command: models.CommandSetRPM, Value: value(float64(i))}, "c")
		require.NoError(t, q.Enqueue(item))
		items = append(items, item)
	}
	close(release)
	for _, item := range items {
		<-item.ResultChan
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
}

func TestQueueFullAndStopped(t *testing.T) {
	block := make(chan struct{})
	q := NewProcessingQueue(1, func(*QueueItem) (models.ControlState, error) {
		<-block
		return models.ControlState{}, nil
	})

	first := NewQueueItem(models.Command{Command: models.CommandStart}, "c")
	require.NoError(t, q.Enqueue(first))
	require.Eventually(t, func() bool { return q.Size() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(NewQueueItem(models.Command{Command: models.CommandStop}, "c")))
	assert.ErrorIs(t, q.Enqueue(NewQueueItem(models.Command{Command: models.CommandStop}, "c")), ErrQueueFull)

	close(block)
	<-first.ResultChan
	require.NoError(t, q.Shutdown(time.Second))
	assert.ErrorIs(t, q.Enqueue(NewQueueItem(models.Command{Command: models.CommandStart}, "c")), ErrQueueStopped)
	assert.False(t, q.IsRunning())
}

func TestQueueRecoversPanic(t *testing.T) {
	q := NewProcessingQueue(4, func(item *QueueItem) (models.ControlState, error) {
		if item.Command.Command == "BOOM" {
			panic("bad command")
		}
		return models.ControlState{IsRunning: true}, nil
	})
	t.Cleanup(func() { _ = q.Shutdown(time.Second) })

	bad := NewQueueItem(models.Command{Command: "BOOM"}, "c")
	require.NoError(t, q.Enqueue(bad))
	res := <-bad.ResultChan
	require.Error(t, res.Error)
	assert.Contains(t, res.Error.Error(), "worker panic")

	good := NewQueueItem(models.Command{Command: models.CommandStart}, "c")
	require.NoError(t, q.Enqueue(good))
	res = <-good.ResultChan
	require.NoError(t, res.Error)
	assert.True(t, res.State.IsRunning)

	stats := q.GetQueueStats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestAlertCountersAccumulate(t *testing.T) {
	tp, _ := newTestProcessor(t)
	ctx := context.Background()

	_, err := tp.Submit(ctx, models.Command{Command: models.CommandStart}, "test")
	require.NoError(t, err)
	_, err = tp.Submit(ctx, models.Command{Command: models.CommandSetRPM, Value: value(3000)}, "test")
	require.NoError(t, err)
	_, err = tp.Submit(ctx, models.Command{Command: models.CommandSetFeed, Value: value(100)}, "test")
	require.NoError(t, err)

	var drillAlerts, healthAlerts int64
	for _, r := range tp.DrillHistory() {
		drillAlerts += int64(len(r.Alerts))
	}
	for i := 0; i < 5; i++ {
		r := tp.EmitDrill(ctx)
		drillAlerts += int64(len(r.Alerts))
		v := tp.EmitVitals(ctx)
		healthAlerts += int64(len(v.Alerts))
	}
	require.Positive(t, drillAlerts, "full load must raise drill alerts")

	counters, err := tp.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, drillAlerts, counters.DrillAlertsCount)
	assert.Equal(t, healthAlerts, counters.HealthAlertsCount)

	drill, vitals := tp.Latest(ctx)
	require.NotNil(t, drill)
	require.NotNil(t, vitals)
	assert.Equal(t, models.DrillCritical, drill.Status)
}

func TestConcurrentEmitsPublishInOrder(t *testing.T) {
	tp, rec := newTestProcessor(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var ticks atomic.Int64
	tp.now = func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tp.EmitDrill(ctx)
				tp.EmitVitals(ctx)
			}
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	var lastDrill, lastVitals time.Time
	for _, m := range rec.msgs {
		switch r := m.Data.(type) {
		case models.TelemetryReading:
			require.True(t, r.Timestamp.After(lastDrill), "drill reading published out of order")
			lastDrill = r.Timestamp
		case models.VitalsReading:
			require.True(t, r.Timestamp.After(lastVitals), "vitals reading published out of order")
			lastVitals = r.Timestamp
		}
	}
	rec.mu.Unlock()

	drill, vitals := tp.Latest(ctx)
	require.NotNil(t, drill)
	require.NotNil(t, vitals)
	assert.Equal(t, lastDrill, drill.Timestamp)
	assert.Equal(t, lastVitals, vitals.Timestamp)

	hist := tp.DrillHistory()
	assert.Equal(t, lastDrill, hist[len(hist)-1].Timestamp)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	tp, rec := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tp.Run(ctx) }()

	require.Eventually(t, func() bool {
		return rec.count(models.MessageUpdate) >= 3 && rec.count(models.MessageHealthUpdate) >= 2
	}, 2*time.Second, time.Millisecond)
	assert.True(t, tp.Running())

	cancel()
	require.NoError(t, <-done)
	assert.False(t, tp.Running())

	assert.LessOrEqual(t, len(tp.DrillHistory()), 10, "history is bounded")
	trends := tp.Trends()
	assert.Len(t, trends.Drill, len(telemetry.DrillSensors))
	assert.Len(t, trends.Vitals, len(telemetry.VitalSensors))
}
