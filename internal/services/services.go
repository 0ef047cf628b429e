package services

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/artifact"
	"github.com/temcen/partnerrec/internal/cache"
	"github.com/temcen/partnerrec/internal/config"
	"github.com/temcen/partnerrec/internal/database"
	"github.com/temcen/partnerrec/internal/graph"
	"github.com/temcen/partnerrec/internal/messaging"
	"github.com/temcen/partnerrec/internal/pipeline"
	"github.com/temcen/partnerrec/internal/trending"
	"github.com/temcen/partnerrec/internal/validation"
)

// Services is everything the serving binary wires together.
type Services struct {
	Auth           *AuthService
	Health         *HealthService
	Metrics        *Metrics
	Recommendation *RecommendationService
	Similar        *SimilarPartnersService
	Loader         *ArtifactLoader
	Holder         *artifact.Holder
	Cache          *cache.Store
	Registry       *artifact.Registry
	Ledger         *pipeline.Ledger
	// Events is nil when no Kafka broker is configured.
	Events *messaging.ModelEventBus
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	metrics := NewMetrics(reg)
	holder := artifact.NewHolder()
	store := cache.NewStore(db.Redis.Warm, schemas, CacheConfig(cfg), logger).WithGeneration(holder.RunID)
	registry := artifact.NewRegistry(db.Redis.Cold, schemas, cfg.Recommendation.Caching.ArtifactTTL, logger)
	ledger := pipeline.NewLedger(db.Redis.Hot, cfg.Recommendation.Caching.RunLedgerTTL, cfg.Trainer.RecentRuns, logger)
	ranker := trending.NewRanker(db.PG, TrendingConfig(cfg), logger)

	var graphReader GraphReader
	if db.Neo4j != nil {
		graphReader = graph.NewStore(db.Neo4j, cfg.Neo4j.Database, logger)
	}

	var events *messaging.ModelEventBus
	if len(cfg.Kafka.Brokers) > 0 {
		events = messaging.NewModelEventBus(cfg.Kafka, ServingGroupID(cfg.Kafka.ConsumerGroupPrefix), logger)
	}

	return &Services{
		Auth:           NewAuthService(cfg.Auth),
		Health:         NewHealthService(db, holder, metrics, logger),
		Metrics:        metrics,
		Recommendation: NewRecommendationService(store, ranker, holder, metrics, cfg.Recommendation.Hybrid.NumRecommendations, logger),
		Similar:        NewSimilarPartnersService(graphReader, holder, logger),
		Loader:         NewArtifactLoader(registry, holder, metrics, logger),
		Holder:         holder,
		Cache:          store,
		Registry:       registry,
		Ledger:         ledger,
		Events:         events,
	}, nil
}

// ServingGroupID gives every server instance its own consumer group so
// each one sees every activation event.
func ServingGroupID(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return prefix + "-" + host
}

func CacheConfig(cfg *config.Config) cache.Config {
	return cache.Config{
		PersonalizedTTL:  cfg.Recommendation.Caching.PersonalizedTTL,
		TrendingTTL:      cfg.Recommendation.Caching.TrendingTTL,
		FailureThreshold: cfg.Recommendation.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Recommendation.Breaker.OpenTimeout,
	}
}

func TrendingConfig(cfg *config.Config) trending.Config {
	return trending.Config{
		Window: cfg.Recommendation.Trending.Window,
		Limit:  cfg.Recommendation.Trending.Limit,
	}
}
