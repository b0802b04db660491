package tui

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/rigwatch/dashboard/board"
	"github.com/san-kum/rigwatch/dashboard/link"
	"github.com/san-kum/rigwatch/server/drowsiness"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	status    drowsiness.Status
	toggleErr error
	hang      bool
	toggles   int
	acks      int
}

func (f *fakeDetector) ToggleCamera(ctx context.Context) (bool, error) {
	f.toggles++
	if f.hang {
		<-ctx.Done()
		return false, fmt.Errorf("%w: %v", drowsiness.ErrCameraUnavailable, ctx.Err())
	}
	if f.toggleErr != nil {
		return false, f.toggleErr
	}
	f.status.CameraActive = !f.status.CameraActive
	return f.status.CameraActive, nil
}

func (f *fakeDetector) Acknowledge() bool {
	if !f.status.State.AlarmActive {
		return false
	}
	f.acks++
	f.status.State.AlarmActive = false
	f.status.State.Phase = models.PhaseSafe
	return true
}

func (f *fakeDetector) Status() drowsiness.Status { return f.status }

type fakeController struct {
	state models.ControlState
	sent  []models.Command
	err   error
}

func (f *fakeController) Send(cmd models.Command) (models.ControlState, error) {
	next, err := telemetry.Apply(f.state, cmd)
	if err != nil {
		return next, err
	}
	f.state = next
	f.sent = append(f.sent, cmd)
	return next, f.err
}

func (f *fakeController) Control() models.ControlState { return f.state }

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, s string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(key(s))
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func newTestModel() (Model, *board.Board, *fakeDetector, *fakeController) {
	b := board.New(10)
	d := &fakeDetector{status: drowsiness.Status{Source: "simulated"}}
	c := &fakeController{state: telemetry.DefaultControlState()}
	m := NewModel(context.Background(), b, d, c, Options{AlarmThreshold: 5 * time.Second})
	return m, b, d, c
}

func TestControlKeys(t *testing.T) {
	m, _, _, c := newTestModel()

	for _, k := range []string{"s", "+", "+", "]", "-", "[", "[", "x", "r"} {
		m, _ = press(t, m, k)
	}

	require.Len(t, c.sent, 9)
	assert.Equal(t, models.CommandStart, c.sent[0].Command)
	require.NotNil(t, c.sent[1].Value)
	assert.Equal(t, float64(telemetry.DefaultRPM+rpmStep), *c.sent[1].Value)
	assert.Equal(t, float64(telemetry.DefaultRPM+2*rpmStep), *c.sent[2].Value)
	assert.Equal(t, models.CommandSetFeed, c.sent[3].Command)
	assert.Equal(t, float64(telemetry.DefaultFeed+feedStep), *c.sent[3].Value)
	assert.Equal(t, float64(telemetry.DefaultRPM+rpmStep), *c.sent[4].Value)
	assert.Equal(t, float64(telemetry.DefaultFeed-feedStep), *c.sent[6].Value)
	assert.Equal(t, models.CommandStop, c.sent[7].Command)
	assert.Equal(t, models.CommandReset, c.sent[8].Command)
	assert.Equal(t, telemetry.DefaultControlState(), m.controlState)
}

func TestUnforwardedCommandShowsNotice(t *testing.T) {
	m, _, _, c := newTestModel()
	c.err = link.ErrNotForwarded

	m, _ = press(t, m, "s")
	assert.True(t, m.noticeErr)
	assert.Contains(t, m.notice, "applied locally")
	assert.True(t, m.controlState.IsRunning)
}

func TestCameraToggleRunsAsCommand(t *testing.T) {
	m, _, d, _ := newTestModel()

	m, cmd := press(t, m, "c")
	require.NotNil(t, cmd)
	assert.True(t, m.toggling)
	assert.Contains(t, m.notice, "press c to cancel")

	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.False(t, m.toggling)
	assert.Equal(t, 1, d.toggles)
	assert.True(t, m.status.CameraActive)
	assert.Equal(t, "Camera on", m.notice)
}

func TestCameraStartCanBeCancelled(t *testing.T) {
	m, _, d, _ := newTestModel()
	d.hang = true

	m, cmd := press(t, m, "c")
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "c to cancel")

	m, again := press(t, m, "c")
	assert.Nil(t, again)
	assert.True(t, m.toggling, "still waiting for the start to unwind")
	assert.Equal(t, "Cancelling camera start...", m.notice)

	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	var msg tea.Msg
	select {
	case msg = <-done:
	case <-time.After(time.Second):
		t.Fatal("camera start was not cancelled")
	}

	next, _ := m.Update(msg)
	m = next.(Model)
	assert.False(t, m.toggling)
	assert.Nil(t, m.cancelToggle)
	assert.Equal(t, "Camera start cancelled", m.notice)
	assert.False(t, m.noticeErr)
	assert.False(t, m.status.CameraActive)
}

func TestCameraStopIgnoresSecondPress(t *testing.T) {
	m, _, d, _ := newTestModel()
	d.status.CameraActive = true
	m.status = d.Status()

	m, cmd := press(t, m, "c")
	require.NotNil(t, cmd)
	assert.Equal(t, "Stopping camera...", m.notice)

	m, again := press(t, m, "c")
	assert.Nil(t, again)
	assert.Equal(t, "Stopping camera...", m.notice)

	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.False(t, m.status.CameraActive)
	assert.Equal(t, "Camera off", m.notice)
	assert.Equal(t, 1, d.toggles)
}

func TestCameraUnavailableNotice(t *testing.T) {
	m, _, d, _ := newTestModel()
	d.toggleErr = errors.New("no models")

	m, cmd := press(t, m, "c")
	next, _ := m.Update(cmd())
	m = next.(Model)

	assert.True(t, m.noticeErr)
	assert.Contains(t, m.notice, "Camera unavailable")
	assert.False(t, m.status.CameraActive)
}

func TestAcknowledgeKey(t *testing.T) {
	m, _, d, _ := newTestModel()

	m, _ = press(t, m, "a")
	assert.Equal(t, "No active alarm", m.notice)

	d.status.CameraActive = true
	d.status.State = models.DrowsinessState{Phase: models.PhaseAlarmed, AlarmActive: true, DangerDurationSeconds: 6}
	next, _ := m.Update(tickMsg(time.Now()))
	m = next.(Model)
	assert.Contains(t, m.View(), "DROWSINESS ALARM")

	m, _ = press(t, m, "a")
	assert.Equal(t, 1, d.acks)
	assert.Equal(t, "Alarm acknowledged", m.notice)
	assert.NotContains(t, m.View(), "DROWSINESS ALARM")
}

func TestQuit(t *testing.T) {
	m, _, _, _ := newTestModel()

	_, cmd := press(t, m, "q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestViewReflectsBoard(t *testing.T) {
	m, b, _, _ := newTestModel()
	assert.Contains(t, m.View(), "waiting for telemetry")
	assert.Contains(t, m.View(), "CONNECTING")

	b.OnState(link.State{Mode: link.ModeFallback})
	b.OnDrill(models.TelemetryReading{
		Status:  models.DrillCritical,
		Sensors: models.DrillSensors{RPM: 2950},
		Alerts:  []models.Alert{{Severity: models.SeverityCritical, Sensor: telemetry.SensorRPM}},
	})
	b.OnVitals(models.VitalsReading{WorkerID: "W-042", Status: models.VitalsNormal})

	next, _ := m.Update(tickMsg(time.Now()))
	m = next.(Model)
	view := m.View()
	assert.Contains(t, view, "OFFLINE")
	assert.Contains(t, view, string(models.DrillCritical))
	assert.Contains(t, view, "W-042")
	assert.Contains(t, view, "drill alerts 1")
}

func TestSparklineAndTimerBar(t *testing.T) {
	rpm, _ := telemetry.Lookup(telemetry.DrillSensors, telemetry.SensorRPM)
	assert.Equal(t, "▁█", sparkline([]float64{0, 3000}, rpm))
	assert.Equal(t, "", sparkline(nil, rpm))
	assert.Len(t, []rune(sparkline(make([]float64, 50), rpm)), sparkWidth)

	assert.Contains(t, timerBar(0.5), "█")
	assert.Contains(t, timerBar(-1), "░")
}
