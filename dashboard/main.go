package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/san-kum/rigwatch/server/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var version = "dev"

func main() {
	var (
		envFile  string
		logFile  string
		headless bool
		camera   bool
		report   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "rigwatch",
		Short: "Drilling rig operator dashboard",
		Long: `rigwatch shows live drill and operator telemetry, forwards rig controls
and watches the operator for drowsiness through the camera. Without a
server it keeps running on locally simulated telemetry.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !headless && !term.IsTerminal(int(os.Stdout.Fd())) {
				headless = true
			}
			return run(cmd.Context(), envFile, logFile, Options{
				Headless:     headless,
				CameraOnBoot: camera,
				ReportEvery:  report,
			})
		},
	}
	cmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&logFile, "log-file", "rigwatch-dashboard.log", "log destination while the terminal UI is running")
	cmd.Flags().BoolVar(&headless, "headless", false, "log status lines instead of drawing the terminal UI")
	cmd.Flags().BoolVar(&camera, "camera", false, "start drowsiness detection at launch")
	cmd.Flags().DurationVar(&report, "report-interval", defaultReportAt, "headless status line interval")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile, logFile string, opts Options) error {
	cfg := config.LoadConfig(envFile)

	// The TUI owns the terminal; anything else on stdout would tear it.
	if !opts.Headless {
		cfg.Logging.Output = logFile
	}
	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Error("Configuration validation failed", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting dashboard",
		zap.String("version", version),
		zap.String("server", cfg.Link.ServerURL),
		zap.String("drowsiness_source", cfg.Drowsiness.Source),
		zap.Bool("headless", opts.Headless))

	app := NewApp(cfg, opts, logger)
	if err := app.Run(ctx, version); err != nil {
		logger.Error("Dashboard stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Dashboard exited")
	return nil
}
