package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/temcen/partnerrec/internal/config"
	"github.com/temcen/partnerrec/internal/database"
	"github.com/temcen/partnerrec/internal/handlers"
	"github.com/temcen/partnerrec/internal/middleware"
	"github.com/temcen/partnerrec/internal/services"
)

// App is the serving binary: HTTP API plus the background loops that keep
// the in-process artifact current.
type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	registry *prometheus.Registry
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config:   cfg,
		logger:   NewLogger(cfg),
		registry: NewRegistry(),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Initialize services
	services, err := services.New(cfg, app.logger, db, app.registry)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = services

	// Initialize handlers
	app.handlers = handlers.New(app.logger, services, app.registry)

	// Setup router
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start loads the active artifact and launches the reload loops. A missing
// artifact is not fatal: requests are answered from trending lists until
// the first training run activates one.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	if loaded, err := a.services.Loader.Reload(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to load model artifact at startup")
	} else if !loaded {
		a.logger.Warn("No model artifact is active, serving trending lists")
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.services.Loader.Poll(ctx, a.config.Server.ReloadInterval)
	}()

	if a.services.Events != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.services.Events.Consume(ctx, a.services.Loader.HandleEvent); err != nil && ctx.Err() == nil {
				a.logger.WithError(err).Error("Model event consumer stopped")
			}
		}()
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Background loops did not stop before the shutdown deadline")
	}

	var err error
	if a.services.Events != nil {
		err = multierr.Append(err, a.services.Events.Close())
	}
	err = multierr.Append(err, a.db.Close())
	if err != nil {
		a.logger.WithError(err).Error("Error closing connections")
	}
	return err
}

func NewLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// NewRegistry returns a registry with the runtime collectors already in.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (a *App) setupRouter() {
	a.router = NewRouter(a.config, a.logger, a.handlers, a.services.Auth)
}

// NewRouter mounts every route. It is separate from App so tests can build
// it around mocked handlers.
func NewRouter(cfg *config.Config, logger *logrus.Logger, h *handlers.Handlers, tokens services.TokenValidator) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg))

	// Health check endpoints (no auth required)
	router.GET("/health", h.Health.Check)
	router.GET("/health/live", h.Health.Live)

	if cfg.Monitoring.Enabled {
		router.GET(cfg.Monitoring.MetricsPath, h.Metrics.Serve)
	}

	// API routes
	api := router.Group("/api/v1")
	{
		api.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		api.Use(middleware.OptionalAuth(tokens, logger))

		api.GET("/recommendations", h.Recommendation.Get)
		api.GET("/partners/:partnerId/similar", h.Partner.Similar)

		// Admin routes
		admin := api.Group("/admin")
		{
			admin.GET("/runs", h.Admin.ListRuns)
			admin.GET("/runs/:runId", h.Admin.GetRun)
			admin.GET("/artifact", h.Admin.GetArtifact)
		}
	}

	return router
}
