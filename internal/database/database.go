package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/temcen/partnerrec/internal/config"
)

const startupTimeout = 10 * time.Second

// Database holds every backing store connection. Neo4j is nil when the
// similarity graph is disabled.
type Database struct {
	PG     *pgxpool.Pool
	Neo4j  neo4j.DriverWithContext
	Redis  *RedisClients
	logger *logrus.Logger
}

// RedisClients split redis by workload: Hot for the run ledger, Warm for
// the serving cache, Cold for model artifacts.
type RedisClients struct {
	Hot  *redis.Client
	Warm *redis.Client
	Cold *redis.Client
}

// Probe checks one backing store.
type Probe func(ctx context.Context) error

// New connects everything. PostgreSQL (interaction store) and Redis Cold
// (artifacts) must be reachable; the run ledger, the serving cache and the
// graph may come up later.
func New(cfg *config.Config, logger *logrus.Logger) (*Database, error) {
	db := &Database{logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if err := db.connectInteractionStore(ctx, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	if cfg.Neo4j.Enabled {
		if err := db.connectGraph(ctx, cfg.Neo4j); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize Neo4j: %w", err)
		}
	}

	if err := db.connectRedis(ctx, cfg.Redis); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	return db, nil
}

func (db *Database) connectInteractionStore(ctx context.Context, cfg config.DatabaseConfig) error {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	poolConfig.MaxConnLifetime = cfg.MaxLifetime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.ReadOnly {
		poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.PG = pool
	db.logger.WithFields(logrus.Fields{
		"application_name": cfg.ApplicationName,
		"read_only":        cfg.ReadOnly,
	}).Info("PostgreSQL connection established")
	return nil
}

func (db *Database) connectGraph(ctx context.Context, cfg config.Neo4jConfig) error {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URL,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			if cfg.AcquireTimeout > 0 {
				c.ConnectionAcquisitionTimeout = cfg.AcquireTimeout
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	db.Neo4j = driver
	db.logger.WithField("database", cfg.Database).Info("Neo4j connection established")
	return nil
}

func newRedisClient(cfg config.RedisInstanceConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

func (db *Database) connectRedis(ctx context.Context, cfg config.RedisConfig) error {
	db.Redis = &RedisClients{
		Hot:  newRedisClient(cfg.Hot),
		Warm: newRedisClient(cfg.Warm),
		Cold: newRedisClient(cfg.Cold),
	}

	if err := db.Redis.Cold.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis Cold: %w", err)
	}
	if err := db.Redis.Warm.Ping(ctx).Err(); err != nil {
		db.logger.WithError(err).Warn("Redis Warm is not reachable, serving starts degraded")
	}
	if err := db.Redis.Hot.Ping(ctx).Err(); err != nil {
		db.logger.WithError(err).Warn("Redis Hot is not reachable, run ledger writes will be skipped")
	}

	db.logger.Info("Redis connections established")
	return nil
}

// Probes splits the backing stores into those without which no list can
// be served (critical) and those whose loss only degrades answers.
func (db *Database) Probes() (critical, degrading map[string]Probe) {
	critical = map[string]Probe{}
	degrading = map[string]Probe{}
	if db.PG != nil {
		critical["postgresql"] = db.PG.Ping
	}
	if db.Redis != nil {
		degrading["redis_hot"] = pingRedis(db.Redis.Hot)
		degrading["redis_warm"] = pingRedis(db.Redis.Warm)
		degrading["redis_cold"] = pingRedis(db.Redis.Cold)
	}
	if db.Neo4j != nil {
		degrading["neo4j"] = db.Neo4j.VerifyConnectivity
	}
	return critical, degrading
}

func pingRedis(client *redis.Client) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func (db *Database) Close() error {
	var err error

	if db.PG != nil {
		db.PG.Close()
	}

	if db.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()
		if closeErr := db.Neo4j.Close(ctx); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close Neo4j: %w", closeErr))
		}
	}

	if db.Redis != nil {
		for name, client := range map[string]*redis.Client{
			"hot":  db.Redis.Hot,
			"warm": db.Redis.Warm,
			"cold": db.Redis.Cold,
		} {
			if client == nil {
				continue
			}
			if closeErr := client.Close(); closeErr != nil {
				err = multierr.Append(err, fmt.Errorf("failed to close Redis %s: %w", name, closeErr))
			}
		}
	}

	if err == nil {
		db.logger.Info("Database connections closed")
	}
	return err
}
