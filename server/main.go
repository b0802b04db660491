package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/rigwatch/server/cache"
	"github.com/san-kum/rigwatch/server/config"
	"github.com/san-kum/rigwatch/server/handlers"
	"github.com/san-kum/rigwatch/server/middleware"
	"github.com/san-kum/rigwatch/server/processor"
	"github.com/san-kum/rigwatch/server/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "rigwatch.Telemetry"

var version = "dev"

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	processor   *processor.TelemetryProcessor
	hub         *handlers.TelemetryHub
	cache       cache.Cache
	sessions    store.SessionStore
	rateLimiter *middleware.RateLimiter
	health      *health.Server
	config      *config.Config
}

func main() {
	var envFile, initEnv string

	cmd := &cobra.Command{
		Use:   "rigwatch-server",
		Short: "Mock drilling rig telemetry server",
		Long: `rigwatch-server simulates a drilling rig and its operator: it streams drill
and vitals readings over WebSocket, applies control commands in arrival
order and records operator shift sessions.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if initEnv != "" {
				if err := config.WriteEnvFile(initEnv, config.EnvTemplate()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", initEnv)
				return nil
			}
			return run(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&initEnv, "init-env", "", "write a dotenv template to this path and exit")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile string) error {
	cfg := config.LoadConfig(envFile)

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Error("Configuration validation failed", zap.Error(err))
		return err
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}
	defer server.Close()

	return server.Run(ctx)
}

func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Entries never expire: the cache holds counters and latest readings.
	cacheInstance := cache.NewMemoryCache(1000, 0, logger)

	sessions, err := openStore(ctx, cfg, logger)
	if err != nil {
		cacheInstance.Close()
		return nil, err
	}
	seedOperator(ctx, sessions, cfg.Database, logger)

	tp := processor.NewTelemetryProcessor(processor.ProcessorConfig{
		DrillInterval:  cfg.Telemetry.DrillInterval,
		VitalsInterval: cfg.Telemetry.VitalsInterval,
		HistorySize:    cfg.Telemetry.HistorySize,
		WorkerID:       cfg.Telemetry.WorkerID,
		QueueSize:      cfg.Telemetry.QueueSize,
		Seed:           cfg.Telemetry.Seed,
	}, cacheInstance, logger)

	hub := handlers.NewTelemetryHub(tp, handlers.HubConfig{
		ClientBuffer:   cfg.Telemetry.ClientBuffer,
		AllowedOrigins: cfg.Security.AllowedOrigins,
	}, logger)
	tp.SetPublisher(hub)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)
	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.JWTSecretKey, logger)
	api := handlers.NewAPIHandler(tp, sessions, authMiddleware, hub, cfg.Security.TokenTTL, logger)

	router := handlers.NewRouter(handlers.RouterConfig{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		MaxRequestSize: cfg.Security.MaxRequestSize,
		RequestTimeout: cfg.Security.RequestTimeout,
		Ready:          tp.Running,
	}, api, hub, authMiddleware, rateLimiter, logger)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		router:      router,
		logger:      logger,
		processor:   tp,
		hub:         hub,
		cache:       cacheInstance,
		sessions:    sessions,
		rateLimiter: rateLimiter,
		health:      hs,
		config:      cfg,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.SessionStore, error) {
	if cfg.Database.Driver != "postgres" {
		logger.Info("Using in-memory session store")
		return store.NewMemoryStore(), nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	pg, err := store.OpenPostgres(openCtx, store.PostgresConfig{
		URL:      cfg.Database.URL(),
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return pg, nil
}

func seedOperator(ctx context.Context, sessions store.SessionStore, db config.DatabaseConfig, logger *zap.Logger) {
	if db.SeedOperator == "" {
		return
	}
	_, err := sessions.CreateOperator(ctx, db.SeedOperator, db.SeedPassword, store.RoleAdmin)
	switch {
	case err == nil:
		logger.Info("Seeded operator account", zap.String("username", db.SeedOperator))
	case errors.Is(err, store.ErrConflict):
		logger.Debug("Seed operator already exists", zap.String("username", db.SeedOperator))
	default:
		logger.Warn("Failed to seed operator", zap.String("username", db.SeedOperator), zap.Error(err))
	}
}

// Run serves HTTP and gRPC and ticks the rig until ctx is cancelled or any
// of them fails.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.config

	var grpcServer *grpc.Server
	var grpcLis net.Listener
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcLis = lis
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, s.health)
	}

	g, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
		err := s.processor.Run(gctx)
		s.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	})

	g.Go(func() error {
		s.logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
			zap.String("version", version))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			s.logger.Info("Starting gRPC health server", zap.String("addr", grpcLis.Addr().String()))
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server...")
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.hub.Shutdown(); err != nil {
			s.logger.Warn("Failed to close telemetry hub", zap.Error(err))
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		s.logger.Error("Server stopped with error", zap.Error(err))
	}
	return err
}

func (s *Server) Close() {
	if err := s.processor.Shutdown(); err != nil {
		s.logger.Error("Failed to shutdown telemetry processor", zap.Error(err))
	}
	s.rateLimiter.Shutdown()
	if err := s.cache.Close(); err != nil {
		s.logger.Error("Failed to close cache", zap.Error(err))
	}
	if err := s.sessions.Close(); err != nil {
		s.logger.Error("Failed to close session store", zap.Error(err))
	}
	s.logger.Info("Server exited")
}
