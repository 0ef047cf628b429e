package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/temcen/partnerrec/internal/artifact"
	"github.com/temcen/partnerrec/internal/cache"
	"github.com/temcen/partnerrec/internal/collaborative"
	"github.com/temcen/partnerrec/internal/config"
	"github.com/temcen/partnerrec/internal/content"
	"github.com/temcen/partnerrec/internal/database"
	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/internal/graph"
	"github.com/temcen/partnerrec/internal/handlers"
	"github.com/temcen/partnerrec/internal/hybrid"
	"github.com/temcen/partnerrec/internal/messaging"
	"github.com/temcen/partnerrec/internal/middleware"
	"github.com/temcen/partnerrec/internal/pipeline"
	"github.com/temcen/partnerrec/internal/services"
	"github.com/temcen/partnerrec/internal/trending"
	"github.com/temcen/partnerrec/internal/validation"
)

// Trainer is the batch binary. It runs the training pipeline once or on a
// cron schedule, and refreshes trending lists between full runs.
type Trainer struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	registry *prometheus.Registry
	runner   *pipeline.Runner
	ledger   *pipeline.Ledger
	events   *messaging.ModelEventBus
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	// running serialises runs; a tick that finds it held is skipped.
	running sync.Mutex
}

func NewTrainer(cfg *config.Config) (*Trainer, error) {
	t := &Trainer{
		config:   cfg,
		logger:   NewLogger(cfg),
		registry: NewRegistry(),
	}

	db, err := database.New(cfg, t.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	t.db = db

	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	metrics := services.NewMetrics(t.registry)
	extractor := features.NewExtractor(db.PG, FeatureConfig(cfg), t.logger)
	ranker := trending.NewRanker(db.PG, services.TrendingConfig(cfg), t.logger)
	store := cache.NewStore(db.Redis.Warm, schemas, services.CacheConfig(cfg), t.logger)
	registry := artifact.NewRegistry(db.Redis.Cold, schemas, cfg.Recommendation.Caching.ArtifactTTL, t.logger)
	ledger := pipeline.NewLedger(db.Redis.Hot, cfg.Recommendation.Caching.RunLedgerTTL, cfg.Trainer.RecentRuns, t.logger)
	t.ledger = ledger

	t.runner = pipeline.NewRunner(extractor, ranker, store, registry, ledger, PipelineConfig(cfg), t.logger).
		WithObserver(metrics)

	if cfg.Trainer.PublishGraph && db.Neo4j != nil {
		t.runner.WithGraph(graph.NewStore(db.Neo4j, cfg.Neo4j.Database, t.logger))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		// publish only; the trainer consumes nothing
		t.events = messaging.NewModelEventBus(cfg.Kafka, "", t.logger)
		t.runner.WithEvents(t.events)
	}

	return t, nil
}

// RunOnce executes a single full training run.
func (t *Trainer) RunOnce(ctx context.Context) (*pipeline.RunResult, error) {
	t.running.Lock()
	defer t.running.Unlock()
	return t.runner.Run(ctx)
}

// Start schedules training and trending refreshes. Runs triggered by the
// schedule use the context given here.
func (t *Trainer) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.cron = cron.New()

	if err := t.cron.AddFunc(t.config.Trainer.Schedule, func() {
		t.tick(pipeline.KindTraining, t.runner.Run)
	}); err != nil {
		return fmt.Errorf("invalid training schedule %q: %w", t.config.Trainer.Schedule, err)
	}

	if t.config.Trainer.TrendingSchedule != "" {
		if err := t.cron.AddFunc(t.config.Trainer.TrendingSchedule, func() {
			t.tick(pipeline.KindTrending, t.runner.RunTrending)
		}); err != nil {
			return fmt.Errorf("invalid trending schedule %q: %w", t.config.Trainer.TrendingSchedule, err)
		}
	}

	t.cron.Start()
	t.logger.WithFields(logrus.Fields{
		"schedule":          t.config.Trainer.Schedule,
		"trending_schedule": t.config.Trainer.TrendingSchedule,
	}).Info("Trainer scheduled")
	return nil
}

func (t *Trainer) tick(kind string, run func(context.Context) (*pipeline.RunResult, error)) {
	if !t.running.TryLock() {
		t.logger.WithField("kind", kind).Warn("Previous run still in progress, skipping scheduled run")
		return
	}
	defer t.running.Unlock()

	// failures are already logged and recorded by the runner
	_, _ = run(t.ctx)
}

// Router serves health and metrics while the trainer is scheduled.
func (t *Trainer) Router() *gin.Engine {
	if t.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(t.logger))
	router.GET("/health", handlers.NewRunHealthHandler(t.ledger, t.logger).Check)
	if t.config.Monitoring.Enabled {
		router.GET(t.config.Monitoring.MetricsPath, handlers.NewMetricsHandler(t.registry, t.logger).Serve)
	}
	return router
}

// Shutdown stops the schedule, waits for an in-flight run up to ctx's
// deadline, then closes connections.
func (t *Trainer) Shutdown(ctx context.Context) error {
	if t.cron != nil {
		t.cron.Stop()
	}

	idle := make(chan struct{})
	go func() {
		t.running.Lock()
		t.running.Unlock()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		t.logger.Warn("Cancelling in-flight run at shutdown")
		if t.cancel != nil {
			t.cancel()
		}
		<-idle
	}
	if t.cancel != nil {
		t.cancel()
	}

	var err error
	if t.events != nil {
		err = multierr.Append(err, t.events.Close())
	}
	return multierr.Append(err, t.db.Close())
}

func FeatureConfig(cfg *config.Config) features.Config {
	f := cfg.Recommendation.Feature
	return features.Config{
		Window:            f.Window,
		MinInteractions:   f.MinInteractions,
		RecencyWeight:     f.RecencyWeight,
		RatingPriorWeight: f.RatingPriorWeight,
	}
}

func PipelineConfig(cfg *config.Config) pipeline.Config {
	rec := cfg.Recommendation
	return pipeline.Config{
		Collaborative: collaborative.Config{
			Rank:           rec.Collaborative.Rank,
			Iterations:     rec.Collaborative.Iterations,
			Regularization: rec.Collaborative.Regularization,
			Alpha:          rec.Collaborative.Alpha,
			Workers:        rec.Collaborative.Workers,
			Seed:           rec.Collaborative.Seed,
			TopN:           rec.Collaborative.TopN,
		},
		Content: content.Config{
			Clusters:      rec.Content.Clusters,
			MaxIterations: rec.Content.MaxIterations,
			Seed:          rec.Content.Seed,
			SimilarLimit:  rec.Content.SimilarLimit,
		},
		Hybrid: hybrid.Config{
			CFWeight:           rec.Hybrid.CFWeight,
			CBWeight:           rec.Hybrid.CBWeight,
			NumRecommendations: rec.Hybrid.NumRecommendations,
			Cooldown:           rec.Hybrid.Cooldown,
			CandidatePool:      rec.Hybrid.CandidatePool,
			CategoryCandidates: rec.Hybrid.CategoryCandidates,
		},
		GraphEdges: rec.Content.SimilarLimit,
	}
}
