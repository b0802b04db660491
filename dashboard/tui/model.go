package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/rigwatch/dashboard/board"
	"github.com/san-kum/rigwatch/dashboard/link"
	"github.com/san-kum/rigwatch/server/drowsiness"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
)

const (
	rpmStep  = 100
	feedStep = 5

	defaultRefresh = 100 * time.Millisecond
	noticeTTL      = 4 * time.Second
)

type Detector interface {
	ToggleCamera(ctx context.Context) (bool, error)
	Acknowledge() bool
	Status() drowsiness.Status
}

type Controller interface {
	Send(models.Command) (models.ControlState, error)
	Control() models.ControlState
}

type Snapshotter interface {
	Snapshot() board.Snapshot
}

type Options struct {
	AlarmThreshold time.Duration
	Refresh        time.Duration
	Version        string
}

type tickMsg time.Time

type cameraToggledMsg struct {
	active    bool
	cancelled bool
	err       error
}

// Model renders the rig and routes operator keys to the link and the
// drowsiness monitor. It polls both on every tick rather than being pushed.
type Model struct {
	ctx      context.Context
	board    Snapshotter
	detector Detector
	control  Controller
	opts     Options
	now      func() time.Time

	snap          board.Snapshot
	status        drowsiness.Status
	controlState  models.ControlState
	toggling      bool
	cancelToggle  context.CancelFunc
	notice        string
	noticeErr     bool
	noticeAt      time.Time
	width, height int
}

func NewModel(ctx context.Context, b Snapshotter, d Detector, c Controller, opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = defaultRefresh
	}
	if opts.AlarmThreshold <= 0 {
		opts.AlarmThreshold = drowsiness.DefaultAlarmThreshold
	}
	m := Model{
		ctx:      ctx,
		board:    b,
		detector: d,
		control:  c,
		opts:     opts,
		now:      time.Now,
	}
	m.refresh()
	return m
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) refresh() {
	m.snap = m.board.Snapshot()
	m.status = m.detector.Status()
	m.controlState = m.control.Control()
	if m.notice != "" && m.now().Sub(m.noticeAt) > noticeTTL {
		m.notice = ""
	}
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice, m.noticeErr, m.noticeAt = text, isErr, m.now()
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tickMsg:
		m.refresh()
		return m, m.tick()

	case cameraToggledMsg:
		m.toggling = false
		m.cancelToggle = nil
		switch {
		case msg.err != nil && msg.cancelled:
			m.setNotice("Camera start cancelled", false)
		case msg.err != nil:
			m.setNotice("Camera unavailable: "+msg.err.Error(), true)
		case msg.active:
			m.setNotice("Camera on", false)
		default:
			m.setNotice("Camera off", false)
		}
		m.status = m.detector.Status()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "c":
		if m.toggling {
			// Only a start can hang on the camera or the classifier.
			if m.cancelToggle != nil {
				m.cancelToggle()
				m.cancelToggle = nil
				m.setNotice("Cancelling camera start...", false)
			}
			return m, nil
		}
		m.toggling = true
		if m.status.CameraActive {
			m.setNotice("Stopping camera...", false)
			return m, m.toggleCamera(m.ctx, nil)
		}
		ctx, cancel := context.WithCancel(m.ctx)
		m.cancelToggle = cancel
		m.setNotice("Starting camera... press c to cancel", false)
		return m, m.toggleCamera(ctx, cancel)

	case "a":
		if m.detector.Acknowledge() {
			m.setNotice("Alarm acknowledged", false)
		} else {
			m.setNotice("No active alarm", false)
		}
		m.status = m.detector.Status()

	case "s":
		m.send(models.Command{Command: models.CommandStart})
	case "x":
		m.send(models.Command{Command: models.CommandStop})
	case "r":
		m.send(models.Command{Command: models.CommandReset})
	case "+", "=":
		m.send(setCommand(models.CommandSetRPM, m.controlState.TargetRPM+rpmStep))
	case "-", "_":
		m.send(setCommand(models.CommandSetRPM, m.controlState.TargetRPM-rpmStep))
	case "]":
		m.send(setCommand(models.CommandSetFeed, m.controlState.FeedLevel+feedStep))
	case "[":
		m.send(setCommand(models.CommandSetFeed, m.controlState.FeedLevel-feedStep))
	}
	return m, nil
}

func setCommand(name models.CommandName, v float64) models.Command {
	return models.Command{Command: name, Value: &v}
}

func (m *Model) send(cmd models.Command) {
	state, err := m.control.Send(cmd)
	m.controlState = state
	switch {
	case errors.Is(err, link.ErrNotForwarded):
		m.setNotice(string(cmd.Command)+" applied locally, server did not receive it", true)
	case errors.Is(err, telemetry.ErrUnknownCommand):
		m.setNotice(err.Error(), true)
	case err != nil:
		m.setNotice(string(cmd.Command)+" failed: "+err.Error(), true)
	default:
		m.setNotice(string(cmd.Command)+" sent", false)
	}
}

// toggleCamera runs off the UI goroutine; acquiring the camera may block
// until cancel is called or the monitor's acquire timeout expires.
func (m Model) toggleCamera(ctx context.Context, cancel context.CancelFunc) tea.Cmd {
	d := m.detector
	return func() tea.Msg {
		active, err := d.ToggleCamera(ctx)
		cancelled := ctx.Err() != nil
		if cancel != nil {
			cancel()
		}
		return cameraToggledMsg{active: active, cancelled: cancelled, err: err}
	}
}
