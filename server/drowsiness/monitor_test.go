package drowsiness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/san-kum/rigwatch/server/eyestate"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSound struct {
	mu      sync.Mutex
	playing bool
	starts  int
	stops   int
}

func (s *fakeSound) Start() {
	s.mu.Lock()
	s.playing = true
	s.starts++
	s.mu.Unlock()
}

func (s *fakeSound) Stop() {
	s.mu.Lock()
	s.playing = false
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSound) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// scriptedSource advances the fake clock by one detection tick per sample
// so the monitor sees 100ms frames regardless of the real ticker.
type scriptedSource struct {
	clock   *fakeClock
	openErr error
	next    func(ctx context.Context, n int) (models.EyeSample, error)

	mu      sync.Mutex
	n       int
	opened  int
	closed  int
	samples int
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return s.openErr
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) Sample(ctx context.Context) (models.EyeSample, error) {
	s.mu.Lock()
	s.n++
	n := s.n
	s.samples++
	s.mu.Unlock()

	sample, err := s.next(ctx, n)
	s.clock.Advance(tick)
	return sample, err
}

func (s *scriptedSource) counts() (opened, closed, samples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed, s.samples
}

func always(sample models.EyeSample) func(context.Context, int) (models.EyeSample, error) {
	return func(context.Context, int) (models.EyeSample, error) { return sample, nil }
}

func newTestMonitor(t *testing.T, src *scriptedSource, sound Sound) *Monitor {
	t.Helper()
	cfg := MonitorConfig{
		Machine:  MachineConfig{AlarmThreshold: 5 * time.Second, Debounce: 500 * time.Millisecond},
		Smoother: eyestate.Config{Window: eyestate.DefaultWindow, Threshold: eyestate.DefaultThreshold},
		Interval: time.Millisecond,
	}
	m := NewMonitor(cfg, src, sound, zap.NewNop(), WithClock(src.clock.Now))
	t.Cleanup(m.Close)
	return m
}

func TestMonitorAlarmAndToggleOff(t *testing.T) {
	clock := &fakeClock{t: base}
	src := &scriptedSource{clock: clock, next: always(models.EyeSample{})}
	sound := &fakeSound{}
	m := newTestMonitor(t, src, sound)

	on, err := m.ToggleCamera(context.Background())
	require.NoError(t, err)
	require.True(t, on)

	require.Eventually(t, func() bool { return m.Status().State.AlarmActive }, 2*time.Second, time.Millisecond)
	assert.True(t, sound.Playing())
	assert.Equal(t, int64(1), m.Status().Counters.AlarmsTriggered)

	on, err = m.ToggleCamera(context.Background())
	require.NoError(t, err)
	assert.False(t, on)

	st := m.Status()
	assert.False(t, st.CameraActive)
	assert.Equal(t, models.PhaseSafe, st.State.Phase)
	assert.False(t, st.State.AlarmActive)
	assert.Nil(t, st.State.DangerStartedAt)
	assert.Zero(t, st.State.DangerDurationSeconds)
	assert.False(t, sound.Playing())

	_, closed, samples := src.counts()
	assert.Equal(t, 1, closed)

	// Nothing reaches the machine once deactivation returns.
	time.Sleep(20 * time.Millisecond)
	_, _, after := src.counts()
	assert.Equal(t, samples, after)
	assert.Equal(t, models.PhaseSafe, m.Status().State.Phase)
}

func TestMonitorAcknowledge(t *testing.T) {
	clock := &fakeClock{t: base}
	// Closed for 6s, then open eyes from then on.
	src := &scriptedSource{clock: clock, next: func(_ context.Context, n int) (models.EyeSample, error) {
		if n <= 60 {
			return models.EyeSample{FaceDetected: true, EyesVisible: true, Ratio: 0.05}, nil
		}
		return models.EyeSample{FaceDetected: true, EyesVisible: true, Ratio: 0.33}, nil
	}}
	sound := &fakeSound{}
	m := newTestMonitor(t, src, sound)

	assert.False(t, m.Acknowledge(), "nothing to acknowledge yet")

	_, err := m.ToggleCamera(context.Background())
	require.NoError(t, err)

	// Well past the reopening: the alarm is still latched.
	require.Eventually(t, func() bool {
		_, _, n := src.counts()
		return n > 120
	}, 2*time.Second, time.Millisecond)
	st := m.Status()
	require.True(t, st.State.AlarmActive)
	assert.True(t, st.LastObservation.EyesOpen)
	assert.True(t, sound.Playing())

	assert.True(t, m.Acknowledge())
	assert.False(t, sound.Playing())
	assert.False(t, m.Acknowledge())

	st = m.Status()
	assert.True(t, st.CameraActive)
	assert.Equal(t, models.PhaseSafe, st.State.Phase)
	assert.Equal(t, int64(1), st.Counters.Acknowledged)
}

func TestMonitorAcknowledgeStaysSafeWithOpenEyes(t *testing.T) {
	clock := &fakeClock{t: base}
	src := &scriptedSource{clock: clock, next: always(models.EyeSample{})}
	sound := &fakeSound{}
	m := newTestMonitor(t, src, sound)

	// Drive frames by hand so the window contents are exact.
	m.mu.Lock()
	m.active = true
	m.gen = 1
	m.mu.Unlock()

	closedEyes := models.EyeSample{FaceDetected: true, EyesVisible: true, Ratio: 0.10}
	openEyes := models.EyeSample{FaceDetected: true, EyesVisible: true, Ratio: 0.31}

	for i := 0; i <= 51; i++ {
		m.apply(1, closedEyes, at(i))
	}
	require.True(t, m.Status().State.AlarmActive)
	require.True(t, m.Acknowledge())

	for i := 52; i <= 70; i++ {
		m.apply(1, openEyes, at(i))
		st := m.Status().State
		require.Equal(t, models.PhaseSafe, st.Phase, "frame %d", i)
		require.Nil(t, st.DangerStartedAt, "frame %d", i)
	}
	assert.True(t, m.Status().LastObservation.EyesOpen)
	assert.False(t, sound.Playing())

	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

func TestMonitorClassifierErrorsKeepState(t *testing.T) {
	clock := &fakeClock{t: base}
	src := &scriptedSource{clock: clock, next: func(context.Context, int) (models.EyeSample, error) {
		return models.EyeSample{}, errors.New("pipeline crashed")
	}}
	m := newTestMonitor(t, src, &fakeSound{})

	_, err := m.ToggleCamera(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Status().Counters.ClassifierErrors > 80 }, 2*time.Second, time.Millisecond)
	st := m.Status()
	assert.Equal(t, models.PhaseSafe, st.State.Phase)
	assert.Zero(t, st.Counters.Observations)
}

func TestMonitorCameraUnavailable(t *testing.T) {
	clock := &fakeClock{t: base}
	src := &scriptedSource{clock: clock, openErr: errors.New("permission denied"), next: always(models.EyeSample{})}
	m := newTestMonitor(t, src, &fakeSound{})

	on, err := m.ToggleCamera(context.Background())
	require.ErrorIs(t, err, ErrCameraUnavailable)
	assert.False(t, on)

	st := m.Status()
	assert.False(t, st.CameraActive)
	assert.Equal(t, "permission denied", st.CameraError)

	// Retry succeeds once the camera is available.
	src.mu.Lock()
	src.openErr = nil
	src.mu.Unlock()
	on, err = m.ToggleCamera(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
	assert.Empty(t, m.Status().CameraError)
}

func TestMonitorDiscardsLateResult(t *testing.T) {
	clock := &fakeClock{t: base}
	entered := make(chan struct{}, 1)
	src := &scriptedSource{clock: clock, next: func(ctx context.Context, _ int) (models.EyeSample, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return models.EyeSample{}, nil
	}}
	m := newTestMonitor(t, src, &fakeSound{})

	_, err := m.ToggleCamera(context.Background())
	require.NoError(t, err)
	<-entered

	on, err := m.ToggleCamera(context.Background())
	require.NoError(t, err)
	assert.False(t, on)

	st := m.Status()
	assert.Zero(t, st.Counters.Observations)
	assert.Equal(t, models.PhaseSafe, st.State.Phase)
}

func TestSimulatedSourceDeterministic(t *testing.T) {
	a := NewSimulatedSource(7, DefaultSimulatedProfile())
	b := NewSimulatedSource(7, DefaultSimulatedProfile())
	ctx := context.Background()
	require.NoError(t, a.Open(ctx))
	require.NoError(t, b.Open(ctx))

	var faces, visible int
	for i := 0; i < 2000; i++ {
		sa, err := a.Sample(ctx)
		require.NoError(t, err)
		sb, err := b.Sample(ctx)
		require.NoError(t, err)
		require.Equal(t, sa, sb)
		if sa.FaceDetected {
			faces++
		}
		if sa.EyesVisible {
			visible++
			assert.True(t, sa.FaceDetected)
		}
	}
	// Mostly an attentive operator.
	assert.Greater(t, visible, 1500)
	assert.GreaterOrEqual(t, faces, visible)
}

func TestSimulatedSourceMicrosleep(t *testing.T) {
	p := SimulatedProfile{
		MicrosleepProb:   1,
		MicrosleepFrames: [2]int{30, 30},
		OpenRatio:        0.31,
		ClosedRatio:      0.10,
	}
	s := NewSimulatedSource(1, p)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		sample, err := s.Sample(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.10, sample.Ratio, 1e-9)
	}
}

func TestSimulatedSourceCancelled(t *testing.T) {
	s := NewSimulatedSource(1, DefaultSimulatedProfile())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
