package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/rigwatch/server/cache"
	"github.com/san-kum/rigwatch/server/history"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
	"go.uber.org/zap"
)

// Publisher fans server messages out to connected clients.
type Publisher interface {
	Broadcast(msg models.ServerMessage)
}

type ProcessorConfig struct {
	DrillInterval  time.Duration `json:"drill_interval"`
	VitalsInterval time.Duration `json:"vitals_interval"`
	HistorySize    int           `json:"history_size"`
	WorkerID       string        `json:"worker_id"`
	QueueSize      int           `json:"queue_size"`
	Seed           uint64        `json:"seed"`
}

type ProcessorStats struct {
	StartTime        time.Time `json:"start_time"`
	DrillReadings    int64     `json:"drill_readings"`
	VitalsReadings   int64     `json:"vitals_readings"`
	CommandsApplied  int64     `json:"commands_applied"`
	CommandsRejected int64     `json:"commands_rejected"`
	CommandsDropped  int64     `json:"commands_dropped"`
}

// TelemetryProcessor owns the simulated rig: control state, generators,
// history rings and alert counters. Readings are produced on fixed ticks
// and after every applied control command.
type TelemetryProcessor struct {
	cfg    ProcessorConfig
	drill  *telemetry.DrillGenerator
	vitals *telemetry.VitalsGenerator
	cache  cache.Cache
	logger *zap.Logger
	queue  *ProcessingQueue
	now    func() time.Time

	mutex         sync.RWMutex
	control       models.ControlState
	drillHistory  *history.Ring[models.TelemetryReading]
	vitalsHistory *history.Ring[models.VitalsReading]

	pubMutex  sync.RWMutex
	publisher Publisher

	// Held from generation to publish so every stream reaches the cache
	// and the clients in timestamp order.
	drillEmit  sync.Mutex
	vitalsEmit sync.Mutex

	running atomic.Bool
	stats   struct {
		drill, vitals, applied, rejected, dropped atomic.Int64
	}
	startTime time.Time
}

func NewTelemetryProcessor(cfg ProcessorConfig, store cache.Cache, logger *zap.Logger) *TelemetryProcessor {
	if cfg.DrillInterval <= 0 {
		cfg.DrillInterval = time.Second
	}
	if cfg.VitalsInterval <= 0 {
		cfg.VitalsInterval = 2 * time.Second
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "W-001"
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}

	noise := telemetry.NewNoise(cfg.Seed)
	tp := &TelemetryProcessor{
		cfg:           cfg,
		drill:         telemetry.NewDrillGenerator(noise),
		vitals:        telemetry.NewVitalsGenerator(noise),
		cache:         store,
		logger:        logger,
		now:           time.Now,
		control:       telemetry.DefaultControlState(),
		drillHistory:  history.NewRing[models.TelemetryReading](cfg.HistorySize),
		vitalsHistory: history.NewRing[models.VitalsReading](cfg.HistorySize),
		startTime:     time.Now(),
	}
	tp.queue = NewProcessingQueue(cfg.QueueSize, tp.applyCommand)
	return tp
}

func (tp *TelemetryProcessor) SetPublisher(p Publisher) {
	tp.pubMutex.Lock()
	tp.publisher = p
	tp.pubMutex.Unlock()
}

func (tp *TelemetryProcessor) publish(msg models.ServerMessage) {
	tp.pubMutex.RLock()
	p := tp.publisher
	tp.pubMutex.RUnlock()
	if p != nil {
		p.Broadcast(msg)
	}
}

// Run ticks the generators until ctx is cancelled. It emits one reading of
// each kind immediately so new clients never wait a full period.
func (tp *TelemetryProcessor) Run(ctx context.Context) error {
	tp.running.Store(true)
	defer tp.running.Store(false)

	tp.logger.Info("Telemetry processor started",
		zap.Duration("drill_interval", tp.cfg.DrillInterval),
		zap.Duration("vitals_interval", tp.cfg.VitalsInterval),
		zap.String("worker_id", tp.cfg.WorkerID))

	tp.EmitDrill(ctx)
	tp.EmitVitals(ctx)

	drillTicker := time.NewTicker(tp.cfg.DrillInterval)
	defer drillTicker.Stop()
	vitalsTicker := time.NewTicker(tp.cfg.VitalsInterval)
	defer vitalsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			tp.logger.Info("Telemetry processor stopped")
			return nil
		case <-drillTicker.C:
			tp.EmitDrill(ctx)
		case <-vitalsTicker.C:
			tp.EmitVitals(ctx)
		}
	}
}

func (tp *TelemetryProcessor) Running() bool {
	return tp.running.Load()
}

// EmitDrill generates, records and publishes one drill reading.
func (tp *TelemetryProcessor) EmitDrill(ctx context.Context) models.TelemetryReading {
	tp.drillEmit.Lock()
	defer tp.drillEmit.Unlock()

	tp.mutex.Lock()
	reading := tp.drill.Generate(tp.control, tp.now())
	tp.drillHistory.Push(reading)
	tp.mutex.Unlock()

	tp.stats.drill.Add(1)
	tp.record(ctx, cache.KeyLatestDrill, cache.KeyDrillAlerts, reading, len(reading.Alerts))
	tp.publish(models.ServerMessage{Type: models.MessageUpdate, Data: reading})
	return reading
}

// EmitVitals generates, records and publishes one vitals reading. Worker
// exertion follows the rig load.
func (tp *TelemetryProcessor) EmitVitals(ctx context.Context) models.VitalsReading {
	tp.vitalsEmit.Lock()
	defer tp.vitalsEmit.Unlock()

	tp.mutex.Lock()
	vs := models.VitalsState{
		WorkerID: tp.cfg.WorkerID,
		Exertion: telemetry.Exertion(tp.control),
	}
	reading := tp.vitals.Generate(vs, tp.now())
	tp.vitalsHistory.Push(reading)
	tp.mutex.Unlock()

	tp.stats.vitals.Add(1)
	tp.record(ctx, cache.KeyLatestVitals, cache.KeyHealthAlerts, reading, len(reading.Alerts))
	tp.publish(models.ServerMessage{Type: models.MessageHealthUpdate, Data: reading})
	return reading
}

func (tp *TelemetryProcessor) record(ctx context.Context, latestKey, counterKey string, reading any, alerts int) {
	if err := tp.cache.SetWithTTL(ctx, latestKey, reading, 0); err != nil {
		tp.logger.Warn("Failed to cache reading", zap.String("key", latestKey), zap.Error(err))
	}
	if alerts == 0 {
		return
	}
	if _, err := tp.cache.IncrementBy(ctx, counterKey, int64(alerts)); err != nil {
		tp.logger.Warn("Failed to count alerts", zap.String("key", counterKey), zap.Error(err))
	}
}

// Submit queues a control command and waits for it to be applied. Commands
// from every client are applied strictly in arrival order.
func (tp *TelemetryProcessor) Submit(ctx context.Context, cmd models.Command, source string) (models.ControlState, error) {
	item := NewQueueItem(cmd, source)
	if err := tp.queue.Enqueue(item); err != nil {
		tp.stats.dropped.Add(1)
		tp.logger.Warn("Control command dropped",
			zap.String("command", string(cmd.Command)),
			zap.String("source", source),
			zap.Error(err))
		return tp.Control(), err
	}

	select {
	case res := <-item.ResultChan:
		return res.State, res.Error
	case <-ctx.Done():
		return tp.Control(), ctx.Err()
	}
}

func (tp *TelemetryProcessor) applyCommand(item *QueueItem) (models.ControlState, error) {
	tp.mutex.Lock()
	next, err := telemetry.Apply(tp.control, item.Command)
	if err == nil {
		tp.control = next
	}
	tp.mutex.Unlock()

	if err != nil {
		tp.stats.rejected.Add(1)
		tp.logger.Warn("Control command rejected",
			zap.String("command", string(item.Command.Command)),
			zap.String("source", item.Source),
			zap.Error(err))
		return next, err
	}

	tp.stats.applied.Add(1)
	if _, err := tp.cache.Increment(context.Background(), cache.KeyCommandsTotal); err != nil {
		tp.logger.Debug("Failed to count command", zap.Error(err))
	}
	tp.logger.Info("Control command applied",
		zap.String("command", string(item.Command.Command)),
		zap.String("source", item.Source),
		zap.Bool("running", next.IsRunning),
		zap.Float64("target_rpm", next.TargetRPM),
		zap.Float64("feed_level", next.FeedLevel),
		zap.Duration("queued", time.Since(item.EnqueuedAt)))

	tp.EmitDrill(context.Background())
	return next, nil
}

func (tp *TelemetryProcessor) Control() models.ControlState {
	tp.mutex.RLock()
	defer tp.mutex.RUnlock()
	return tp.control
}

func (tp *TelemetryProcessor) DrillHistory() []models.TelemetryReading {
	tp.mutex.RLock()
	defer tp.mutex.RUnlock()
	return tp.drillHistory.Items()
}

func (tp *TelemetryProcessor) VitalsHistory() []models.VitalsReading {
	tp.mutex.RLock()
	defer tp.mutex.RUnlock()
	return tp.vitalsHistory.Items()
}

type Trends struct {
	Drill  map[string]history.Trend `json:"drill"`
	Vitals map[string]history.Trend `json:"vitals"`
}

func (tp *TelemetryProcessor) Trends() Trends {
	tp.mutex.RLock()
	defer tp.mutex.RUnlock()
	return Trends{
		Drill:  history.DrillTrends(tp.drillHistory),
		Vitals: history.VitalTrends(tp.vitalsHistory),
	}
}

// Latest returns the newest cached readings; either may be nil before the
// first tick.
func (tp *TelemetryProcessor) Latest(ctx context.Context) (*models.TelemetryReading, *models.VitalsReading) {
	var drill *models.TelemetryReading
	var vitals *models.VitalsReading
	if v, err := tp.cache.Get(ctx, cache.KeyLatestDrill); err == nil {
		if r, ok := v.(models.TelemetryReading); ok {
			drill = &r
		}
	}
	if v, err := tp.cache.Get(ctx, cache.KeyLatestVitals); err == nil {
		if r, ok := v.(models.VitalsReading); ok {
			vitals = &r
		}
	}
	return drill, vitals
}

func (tp *TelemetryProcessor) Counters(ctx context.Context) (models.AlertCounters, error) {
	drill, err := tp.cache.Counter(ctx, cache.KeyDrillAlerts)
	if err != nil {
		return models.AlertCounters{}, err
	}
	health, err := tp.cache.Counter(ctx, cache.KeyHealthAlerts)
	if err != nil {
		return models.AlertCounters{}, err
	}
	return models.AlertCounters{DrillAlertsCount: drill, HealthAlertsCount: health}, nil
}

func (tp *TelemetryProcessor) GetStats() ProcessorStats {
	return ProcessorStats{
		StartTime:        tp.startTime,
		DrillReadings:    tp.stats.drill.Load(),
		VitalsReadings:   tp.stats.vitals.Load(),
		CommandsApplied:  tp.stats.applied.Load(),
		CommandsRejected: tp.stats.rejected.Load(),
		CommandsDropped:  tp.stats.dropped.Load(),
	}
}

func (tp *TelemetryProcessor) CacheStats(ctx context.Context) (*cache.CacheStats, error) {
	return tp.cache.GetStats(ctx)
}

func (tp *TelemetryProcessor) QueueStats() QueueStats {
	return tp.queue.GetQueueStats()
}

func (tp *TelemetryProcessor) Shutdown() error {
	if err := tp.queue.Shutdown(5 * time.Second); err != nil {
		return fmt.Errorf("shutdown control queue: %w", err)
	}
	return nil
}
