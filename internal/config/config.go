package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Neo4j          Neo4jConfig          `mapstructure:"neo4j"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Trainer        TrainerConfig        `mapstructure:"trainer"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// ApplicationName shows up in pg_stat_activity next to the scans.
	ApplicationName string `mapstructure:"application_name"`
	// ReadOnly opens every session read-only. Nothing here writes to the
	// interaction store.
	ReadOnly bool `mapstructure:"read_only"`
}

// RedisConfig splits redis by workload: hot holds the run ledger, warm the
// serving cache, cold the model artifacts.
type RedisConfig struct {
	Hot  RedisInstanceConfig `mapstructure:"hot"`
	Warm RedisInstanceConfig `mapstructure:"warm"`
	Cold RedisInstanceConfig `mapstructure:"cold"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	MaxPoolSize    int           `mapstructure:"max_pool_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		ModelEvents string `mapstructure:"model_events"`
	} `mapstructure:"topics"`
	ConsumerGroupPrefix string `mapstructure:"consumer_group_prefix"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RecommendationConfig struct {
	Feature       FeatureConfig       `mapstructure:"feature"`
	Collaborative CollaborativeConfig `mapstructure:"collaborative"`
	Content       ContentConfig       `mapstructure:"content"`
	Hybrid        HybridConfig        `mapstructure:"hybrid"`
	Trending      TrendingConfig      `mapstructure:"trending"`
	Caching       CachingConfig       `mapstructure:"caching"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
}

type FeatureConfig struct {
	Window            time.Duration `mapstructure:"window"`
	MinInteractions   int           `mapstructure:"min_interactions"`
	RecencyWeight     float64       `mapstructure:"recency_weight"`
	RatingPriorWeight float64       `mapstructure:"rating_prior_weight"`
}

type CollaborativeConfig struct {
	Rank           int     `mapstructure:"rank"`
	Iterations     int     `mapstructure:"iterations"`
	Regularization float64 `mapstructure:"regularization"`
	Alpha          float64 `mapstructure:"alpha"`
	Workers        int     `mapstructure:"workers"`
	Seed           int64   `mapstructure:"seed"`
	TopN           int     `mapstructure:"top_n"`
}

type ContentConfig struct {
	Clusters      int   `mapstructure:"clusters"`
	MaxIterations int   `mapstructure:"max_iterations"`
	Seed          int64 `mapstructure:"seed"`
	SimilarLimit  int   `mapstructure:"similar_limit"`
}

type HybridConfig struct {
	CFWeight           float64       `mapstructure:"cf_weight"`
	CBWeight           float64       `mapstructure:"cb_weight"`
	NumRecommendations int           `mapstructure:"num_recommendations"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	CandidatePool      int           `mapstructure:"candidate_pool"`
	CategoryCandidates int           `mapstructure:"category_candidates"`
}

type TrendingConfig struct {
	Window time.Duration `mapstructure:"window"`
	Limit  int           `mapstructure:"limit"`
}

type CachingConfig struct {
	PersonalizedTTL time.Duration `mapstructure:"personalized_ttl"`
	TrendingTTL     time.Duration `mapstructure:"trending_ttl"`
	ArtifactTTL     time.Duration `mapstructure:"artifact_ttl"`
	RunLedgerTTL    time.Duration `mapstructure:"run_ledger_ttl"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

type TrainerConfig struct {
	Schedule         string `mapstructure:"schedule"`
	TrendingSchedule string `mapstructure:"trending_schedule"`
	Once             bool   `mapstructure:"once"`
	PublishGraph     bool   `mapstructure:"publish_graph"`
	RecentRuns       int    `mapstructure:"recent_runs"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	return LoadWith(viper.GetViper())
}

// LoadWith reads configuration through v, so callers can bind flags first.
func LoadWith(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("app")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Set defaults
	SetDefaults(v)

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.reload_interval", "1m")
	v.SetDefault("server.request_timeout", "500ms")

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.application_name", "partnerrec")
	v.SetDefault("database.read_only", true)

	// Redis defaults
	v.SetDefault("redis.hot.max_retries", 3)
	v.SetDefault("redis.hot.pool_size", 5)
	v.SetDefault("redis.hot.timeout", "5s")
	v.SetDefault("redis.warm.max_retries", 1)
	v.SetDefault("redis.warm.pool_size", 20)
	v.SetDefault("redis.warm.timeout", "200ms")
	v.SetDefault("redis.cold.max_retries", 3)
	v.SetDefault("redis.cold.pool_size", 5)
	v.SetDefault("redis.cold.timeout", "15s")

	// Neo4j defaults
	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.max_pool_size", 10)
	v.SetDefault("neo4j.acquire_timeout", "30s")

	// Kafka defaults
	v.SetDefault("kafka.topics.model_events", "partnerrec-model-events")
	v.SetDefault("kafka.consumer_group_prefix", "partnerrec-serving")

	// Auth defaults
	v.SetDefault("auth.issuer", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Feature extraction defaults
	v.SetDefault("recommendation.feature.window", "4380h")
	v.SetDefault("recommendation.feature.min_interactions", 5)
	v.SetDefault("recommendation.feature.recency_weight", 0.8)
	v.SetDefault("recommendation.feature.rating_prior_weight", 10.0)

	// Collaborative model defaults
	v.SetDefault("recommendation.collaborative.rank", 50)
	v.SetDefault("recommendation.collaborative.iterations", 10)
	v.SetDefault("recommendation.collaborative.regularization", 0.01)
	v.SetDefault("recommendation.collaborative.alpha", 40.0)
	v.SetDefault("recommendation.collaborative.workers", 4)
	v.SetDefault("recommendation.collaborative.seed", 42)
	v.SetDefault("recommendation.collaborative.top_n", 100)

	// Content model defaults
	v.SetDefault("recommendation.content.clusters", 10)
	v.SetDefault("recommendation.content.max_iterations", 100)
	v.SetDefault("recommendation.content.seed", 42)
	v.SetDefault("recommendation.content.similar_limit", 50)

	// Hybrid defaults
	v.SetDefault("recommendation.hybrid.cf_weight", 0.6)
	v.SetDefault("recommendation.hybrid.cb_weight", 0.4)
	v.SetDefault("recommendation.hybrid.num_recommendations", 20)
	v.SetDefault("recommendation.hybrid.cooldown", "720h")
	v.SetDefault("recommendation.hybrid.candidate_pool", 100)
	v.SetDefault("recommendation.hybrid.category_candidates", 50)

	// Trending defaults
	v.SetDefault("recommendation.trending.window", "168h")
	v.SetDefault("recommendation.trending.limit", 50)

	// Caching defaults
	v.SetDefault("recommendation.caching.personalized_ttl", "24h")
	v.SetDefault("recommendation.caching.trending_ttl", "168h")
	v.SetDefault("recommendation.caching.artifact_ttl", "720h")
	v.SetDefault("recommendation.caching.run_ledger_ttl", "720h")

	// Circuit breaker defaults
	v.SetDefault("recommendation.breaker.failure_threshold", 5)
	v.SetDefault("recommendation.breaker.open_timeout", "30s")

	// Trainer defaults
	v.SetDefault("trainer.schedule", "@daily")
	v.SetDefault("trainer.trending_schedule", "@hourly")
	v.SetDefault("trainer.once", false)
	v.SetDefault("trainer.publish_graph", true)
	v.SetDefault("trainer.recent_runs", 20)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})
}
