package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/rigwatch/dashboard/board"
	"github.com/san-kum/rigwatch/dashboard/link"
	"github.com/san-kum/rigwatch/dashboard/tui"
	"github.com/san-kum/rigwatch/server/alarm"
	"github.com/san-kum/rigwatch/server/config"
	"github.com/san-kum/rigwatch/server/drowsiness"
	"github.com/san-kum/rigwatch/server/eyestate"
	"github.com/san-kum/rigwatch/server/ml"
	"github.com/san-kum/rigwatch/server/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	appName         = "rigwatch"
	sessionTimeout  = 10 * time.Second
	defaultReportAt = 5 * time.Second
)

type Options struct {
	Headless     bool
	CameraOnBoot bool
	ReportEvery  time.Duration
}

// App wires the dashboard together: the link feeds the board, the monitor
// drives the alarm, and either the TUI or the headless reporter reads both.
type App struct {
	cfg    *config.Config
	opts   Options
	logger *zap.Logger

	board    *board.Board
	link     *link.Client
	monitor  *drowsiness.Monitor
	alarm    *alarm.Driver
	sessions *link.SessionClient
}

func NewApp(cfg *config.Config, opts Options, logger *zap.Logger) *App {
	if opts.ReportEvery <= 0 {
		opts.ReportEvery = defaultReportAt
	}

	driver := alarm.NewDriver(alarm.Config{
		Frequency:  cfg.Alarm.Frequency,
		ToneLength: cfg.Alarm.ToneLength,
		Period:     cfg.Alarm.Period,
		Volume:     cfg.Alarm.Volume,
	}, newPlayer(cfg.Alarm, logger), logger)

	monitor := drowsiness.NewMonitor(drowsiness.MonitorConfig{
		Machine: drowsiness.MachineConfig{
			AlarmThreshold: cfg.Drowsiness.AlarmThreshold,
			Debounce:       cfg.Drowsiness.Debounce,
		},
		Smoother: eyestate.Config{
			Window:    cfg.Drowsiness.SmoothingWindow,
			Threshold: cfg.Drowsiness.EARThreshold,
			Adaptive:  cfg.Drowsiness.Adaptive,
		},
		Interval:       cfg.Drowsiness.Interval,
		AcquireTimeout: cfg.Drowsiness.AcquireTimeout,
	}, newSource(cfg, logger), driver, logger)

	b := board.New(cfg.Telemetry.HistorySize)
	lc := link.NewClient(link.Config{
		ServerURL:      cfg.Link.ServerURL,
		RetryInterval:  cfg.Link.RetryInterval,
		DrillInterval:  cfg.Telemetry.DrillInterval,
		VitalsInterval: cfg.Telemetry.VitalsInterval,
		WorkerID:       cfg.Telemetry.WorkerID,
		Seed:           cfg.Telemetry.Seed,
		Face:           func() models.FaceDetection { return faceDetection(monitor.Status()) },
	}, b, logger)

	return &App{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		board:    b,
		link:     lc,
		monitor:  monitor,
		alarm:    driver,
		sessions: link.NewSessionClient(cfg.Link.APIURL, sessionTimeout),
	}
}

func newPlayer(cfg config.AlarmConfig, logger *zap.Logger) alarm.Player {
	if cfg.Muted {
		logger.Info("Alarm muted")
		return alarm.Silent{}
	}
	p, err := alarm.NewPlayer(appName)
	if err != nil {
		if errors.Is(err, alarm.ErrUnsupported) {
			logger.Warn("No audio output on this platform, alarm is visual only")
		} else {
			logger.Warn("Failed to open audio output, alarm is visual only", zap.Error(err))
		}
		return alarm.Silent{}
	}
	return p
}

func newSource(cfg *config.Config, logger *zap.Logger) drowsiness.Source {
	if cfg.Drowsiness.Source == "live" {
		client := ml.NewClient(ml.ClientConfig{
			BaseURLs:            cfg.Classifier.BaseURLs,
			Timeout:             cfg.Classifier.Timeout,
			MaxRetries:          cfg.Classifier.MaxRetries,
			RetryDelay:          cfg.Classifier.RetryDelay,
			HealthCheckInterval: cfg.Classifier.HealthCheckInterval,
		}, logger)
		return drowsiness.NewLiveSource(client)
	}
	return drowsiness.NewSimulatedSource(cfg.Drowsiness.Seed, drowsiness.DefaultSimulatedProfile())
}

// faceDetection is what locally generated vitals report about the camera.
func faceDetection(st drowsiness.Status) models.FaceDetection {
	if !st.CameraActive {
		return models.FaceDetection{}
	}
	obs := st.LastObservation
	return models.FaceDetection{
		CameraActive: true,
		FaceDetected: obs.FaceDetected,
		EyesOpen:     obs.EyesVisible && obs.EyesOpen,
	}
}

// Run blocks until ctx is cancelled or the operator quits the TUI.
func (a *App) Run(ctx context.Context, version string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	token := a.login(ctx)

	if a.opts.CameraOnBoot {
		if _, err := a.monitor.ToggleCamera(ctx); err != nil {
			a.logger.Warn("Drowsiness detection unavailable", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.link.Run(gctx)
	})

	if a.opts.Headless {
		g.Go(func() error {
			return runHeadless(gctx, a.board, a.monitor, a.opts.ReportEvery, a.logger)
		})
	} else {
		model := tui.NewModel(gctx, a.board, a.monitor, a.link, tui.Options{
			AlarmThreshold: a.cfg.Drowsiness.AlarmThreshold,
			Version:        version,
		})
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))
		g.Go(func() error {
			defer cancel()
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("terminal ui: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	a.shutdown(token)
	return err
}

func (a *App) login(ctx context.Context) string {
	if a.cfg.Link.Operator == "" {
		return ""
	}
	lctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()
	resp, err := a.sessions.Login(lctx, a.cfg.Link.Operator, a.cfg.Link.Password)
	if err != nil {
		a.logger.Warn("Operator login failed, shift will not be recorded",
			zap.String("operator", a.cfg.Link.Operator), zap.Error(err))
		return ""
	}
	a.logger.Info("Operator logged in",
		zap.String("operator", a.cfg.Link.Operator),
		zap.String("session_id", resp.Session.ID))
	return resp.Token
}

func (a *App) shutdown(token string) {
	a.monitor.Close()
	if err := a.alarm.Close(); err != nil {
		a.logger.Warn("Failed to close alarm output", zap.Error(err))
	}

	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sessionTimeout)
	defer cancel()
	counters := a.board.Counters()
	sess, err := a.sessions.Logout(ctx, token, counters)
	if err != nil {
		a.logger.Warn("Failed to record operator logout", zap.Error(err))
		return
	}
	a.logger.Info("Operator logged out",
		zap.String("session_id", sess.ID),
		zap.Int64("drill_alerts", counters.DrillAlertsCount),
		zap.Int64("health_alerts", counters.HealthAlertsCount))
}
