package drowsiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/rigwatch/server/eyestate"
	"github.com/san-kum/rigwatch/server/models"
	"go.uber.org/zap"
)

const (
	DefaultInterval       = 100 * time.Millisecond
	DefaultAcquireTimeout = 15 * time.Second
)

var ErrCameraUnavailable = errors.New("camera unavailable")

// Sound is the alarm output the monitor drives. Start and Stop must be
// idempotent; Stop returns once no further tone will play.
type Sound interface {
	Start()
	Stop()
}

type MonitorConfig struct {
	Machine        MachineConfig
	Smoother       eyestate.Config
	Interval       time.Duration
	AcquireTimeout time.Duration
}

type Counters struct {
	Observations     int64 `json:"observations"`
	AlarmsTriggered  int64 `json:"alarms_triggered"`
	Acknowledged     int64 `json:"acknowledged"`
	ClassifierErrors int64 `json:"classifier_errors"`
	DroppedTicks     int64 `json:"dropped_ticks"`
}

type Status struct {
	CameraActive    bool                   `json:"camera_active"`
	CameraError     string                 `json:"camera_error,omitempty"`
	Source          string                 `json:"source"`
	State           models.DrowsinessState `json:"state"`
	LastObservation models.EyeObservation  `json:"last_observation"`
	Threshold       float64                `json:"threshold"`
	Calibrated      bool                   `json:"calibrated"`
	Counters        Counters               `json:"counters"`
}

// Monitor owns the drowsiness state machine and every resource around it:
// the eye sample source, the smoother, the detection loop and the alarm
// sound. Callers only read Status or issue ToggleCamera / Acknowledge.
type Monitor struct {
	cfg    MonitorConfig
	source Source
	sound  Sound
	logger *zap.Logger
	now    func() time.Time

	toggleMu sync.Mutex

	mu        sync.Mutex
	machine   *Machine
	smoother  *eyestate.Smoother
	active    bool
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	lastObs   models.EyeObservation
	cameraErr error
	counters  Counters
}

type MonitorOption func(*Monitor)

// WithClock replaces the wall clock used to tag observations.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(cfg MonitorConfig, source Source, sound Sound, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	m := &Monitor{
		cfg:      cfg,
		source:   source,
		sound:    sound,
		logger:   logger,
		now:      time.Now,
		machine:  NewMachine(cfg.Machine),
		smoother: eyestate.NewSmoother(cfg.Smoother),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ToggleCamera switches detection on or off and returns the new state.
// Turning on may block while the source acquires the camera and models;
// on failure the camera stays off and the error wraps ErrCameraUnavailable.
func (m *Monitor) ToggleCamera(ctx context.Context) (bool, error) {
	m.toggleMu.Lock()
	defer m.toggleMu.Unlock()

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active {
		m.deactivate()
		return false, nil
	}
	if err := m.activate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Monitor) activate(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	if err := m.source.Open(acquireCtx); err != nil {
		m.mu.Lock()
		m.cameraErr = err
		m.mu.Unlock()
		m.logger.Warn("Camera activation failed",
			zap.String("source", m.source.Name()),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.machine.Reset()
	m.smoother.Reset()
	m.active = true
	m.cameraErr = nil
	m.gen++
	gen := m.gen
	m.cancel = loopCancel
	m.done = done
	m.mu.Unlock()

	go m.run(loopCtx, gen, done)

	m.logger.Info("Camera activated",
		zap.String("source", m.source.Name()),
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("alarm_threshold", m.machine.Config().AlarmThreshold))
	return nil
}

// deactivate cancels detection synchronously: when it returns no detection
// result can reach the state machine any more.
func (m *Monitor) deactivate() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.active = false
	m.gen++
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	m.machine.Reset()
	m.smoother.Reset()
	m.lastObs = models.EyeObservation{}
	m.sound.Stop()
	m.mu.Unlock()

	if err := m.source.Close(); err != nil {
		m.logger.Warn("Failed to release eye source", zap.Error(err))
	}
	m.logger.Info("Camera deactivated")
}

func (m *Monitor) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		started := time.Now()
		sample, err := m.source.Sample(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.mu.Lock()
			m.counters.ClassifierErrors++
			m.mu.Unlock()
			m.logger.Debug("Detection failed, keeping last state", zap.Error(err))
			continue
		}

		m.apply(gen, sample, m.now())

		// time.Ticker drops ticks for a slow receiver; count them.
		if elapsed := time.Since(started); elapsed > m.cfg.Interval {
			skipped := int64(elapsed / m.cfg.Interval)
			m.mu.Lock()
			m.counters.DroppedTicks += skipped
			m.mu.Unlock()
			m.logger.Debug("Detection overran tick",
				zap.Duration("elapsed", elapsed),
				zap.Int64("dropped", skipped))
		}
	}
}

func (m *Monitor) apply(gen uint64, sample models.EyeSample, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active || gen != m.gen {
		return
	}

	obs := m.smoother.Observe(sample)
	m.lastObs = obs
	m.counters.Observations++

	switch m.machine.Observe(obs, now) {
	case EventAlarmTriggered:
		m.counters.AlarmsTriggered++
		m.sound.Start()
		m.logger.Warn("Drowsiness alarm triggered",
			zap.Duration("danger", m.machine.DangerDuration(now)),
			zap.Bool("face_detected", obs.FaceDetected),
			zap.Bool("eyes_visible", obs.EyesVisible))
	case EventTimerStarted:
		m.logger.Debug("Danger timer started", zap.String("classification", Classify(obs).String()))
	case EventTimerCleared:
		m.logger.Debug("Danger timer cleared")
	}
}

// Acknowledge is the only way to clear an active alarm. It returns false
// and changes nothing when no alarm is active. The smoothing window is
// dropped too, so frames from before the acknowledgement cannot restart
// the danger timer.
func (m *Monitor) Acknowledge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.machine.Acknowledge() {
		return false
	}
	m.smoother.Reset()
	m.sound.Stop()
	m.counters.Acknowledged++
	m.logger.Info("Drowsiness alarm acknowledged")
	return true
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		CameraActive:    m.active,
		Source:          m.source.Name(),
		State:           m.machine.Snapshot(m.now()),
		LastObservation: m.lastObs,
		Threshold:       m.smoother.Threshold(),
		Calibrated:      m.smoother.Calibrated(),
		Counters:        m.counters,
	}
	if m.cameraErr != nil {
		st.CameraError = m.cameraErr.Error()
	}
	return st
}

// Close stops detection and silences the alarm.
func (m *Monitor) Close() {
	m.toggleMu.Lock()
	defer m.toggleMu.Unlock()

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active {
		m.deactivate()
		return
	}
	m.mu.Lock()
	m.sound.Stop()
	m.mu.Unlock()
}
