package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"phototree/internal/capacity"
	"phototree/internal/config"
	"phototree/internal/database"
	"phototree/internal/filesystem"
	"phototree/internal/handlers"
	"phototree/internal/health"
	"phototree/internal/library"
	"phototree/internal/logging"
	"phototree/internal/metrics"
	"phototree/internal/middleware"
	"phototree/internal/services"
	"phototree/internal/tracing"
)

// Version of the application
var Version = "1.0.0"

// Server wires the library engine to HTTP and the sync schedule
type Server struct {
	app       *fiber.App
	cfg       *config.AppConfig
	logger    *logging.Logger
	dbManager *database.DatabaseManager
	engine    *library.Engine
	scheduler *cron.Cron
	tracer    *tracing.Tracer
}

// NewServer creates a server from loaded configuration
func NewServer(cfg *config.AppConfig, logger *logging.Logger) (*Server, error) {
	dbManager, err := database.NewDatabaseManager(&cfg.Database, logger.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.NewMigrationManager(dbManager.GetGormDB(), logger.Zerolog()).Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	provider, err := filesystem.NewOSProvider(cfg.Library.RootPath)
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger, dbManager: dbManager}
	if cfg.Tracing.Enabled {
		s.tracer, err = tracing.NewTracer(cfg.Tracing.ServiceName, os.Stderr)
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	m := metrics.InitializeMetrics()
	s.engine = library.NewEngine(library.EngineConfig{
		RootPath: cfg.Library.RootPath,
		Workers:  cfg.Library.Workers,
	}, services.NewRepository(dbManager.GetGormDB()), provider, logger, m)

	s.app = fiber.New(fiber.Config{
		AppName:      "phototree v" + Version,
		ServerHeader: "phototree",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})
	s.app.Use(recover.New())
	s.app.Use(helmet.New())
	s.app.Use(requestid.New(requestid.Config{ContextKey: logging.RequestIDKey}))
	s.app.Use(logger.FiberLoggerMiddleware())
	s.app.Use(middleware.NewHTTPMetrics(prometheus.DefaultRegisterer).Middleware())

	checker := health.NewChecker(dbManager, provider, m).
		WithCapacity(capacity.NewProbe(capacity.DefaultThresholds(), m), cfg.Library.RootPath)
	health.RegisterHealthRoutes(s.app, checker)
	s.app.Get("/metrics", handlers.NewMetricsHandler(nil).Metrics())
	handlers.RegisterRoutes(s.app, s.engine, middleware.NewSyncRateLimiter(cfg.RateLimit))

	if cfg.Library.SyncSchedule != "" {
		s.scheduler = cron.New()
		if _, err := s.scheduler.AddFunc(cfg.Library.SyncSchedule, s.syncLibrary); err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("invalid library.sync_schedule %q: %w", cfg.Library.SyncSchedule, err)
		}
	}
	return s, nil
}

func (s *Server) syncLibrary() {
	ctx, span := tracing.Start(context.Background(), "scheduled_sync")
	defer span.End()

	if _, err := s.engine.SyncLibrary(ctx); err != nil {
		s.logger.WithContext(ctx).Error().Err(err).Msg("Scheduled library sync failed")
	}
}

// Start runs the scheduler and blocks serving HTTP
func (s *Server) Start() error {
	if s.scheduler != nil {
		s.scheduler.Start()
		s.logger.Zerolog().Info().Str("schedule", s.cfg.Library.SyncSchedule).Msg("Library sync scheduled")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Zerolog().Info().Str("addr", addr).Str("root", s.cfg.Library.RootPath).Msg("Starting server")
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests, waits for a running sync and releases resources
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	if s.tracer != nil {
		if err := s.tracer.Shutdown(ctx); err != nil {
			s.logger.Zerolog().Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	return s.dbManager.Close()
}

func main() {
	cfg, err := config.NewConfigLoader().Load()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format, os.Stdout)

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Zerolog().Fatal().Err(err).Msg("Failed to create server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Zerolog().Info().Msg("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Zerolog().Error().Err(err).Msg("Error during shutdown")
		}
	}()

	if err := server.Start(); err != nil {
		logger.Zerolog().Error().Err(err).Msg("Server stopped")
	}
}
