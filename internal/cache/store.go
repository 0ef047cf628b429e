package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/partnerrec/internal/features"
	"github.com/temcen/partnerrec/internal/trending"
	"github.com/temcen/partnerrec/internal/validation"
	"github.com/temcen/partnerrec/pkg/models"
)

// KV is the slice of the redis client the store needs. *redis.Client
// satisfies it.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type Config struct {
	PersonalizedTTL  time.Duration
	TrendingTTL      time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// TrendingPointerKey names the trending generation readers resolve
// through. Personalized lists need no pointer: their generation is the run
// id of the active artifact.
const TrendingPointerKey = "trending:active"

func generationPrefix(generation string) string {
	return "gen:" + generation + ":"
}

// UserKey is where a run's personalized list for userID lives.
func UserKey(generation string, userID uuid.UUID) string {
	return generationPrefix(generation) + "user:" + userID.String()
}

func TrendingKey(generation, category string) string {
	if category == "" || category == trending.Overall {
		return generationPrefix(generation) + "trending:" + trending.Overall
	}
	return generationPrefix(generation) + "trending:" + features.NormalizeLabel(category)
}

// Store reads and writes ranked lists. Writers fill a whole generation
// that no reader can see until it is activated, so a run that fails half
// way leaves the served lists untouched. Every redis call goes through a
// circuit breaker; transport failures and an open breaker both surface as
// *models.CacheUnavailableError.
type Store struct {
	kv         KV
	generation func() string
	breaker    *gobreaker.CircuitBreaker[[]byte]
	schemas    *validation.SchemaValidator
	config     Config
	logger     *logrus.Logger
}

func NewStore(kv KV, schemas *validation.SchemaValidator, cfg Config, logger *logrus.Logger) *Store {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "serving-cache",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// a miss is an answer, not a failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Cache circuit breaker changed state")
		},
	}

	return &Store{
		kv:         kv,
		generation: func() string { return "" },
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
		schemas:    schemas,
		config:     cfg,
		logger:     logger,
	}
}

// WithGeneration sets where readers find the active personalized
// generation, normally the run id of the loaded artifact.
func (s *Store) WithGeneration(active func() string) *Store {
	s.generation = active
	return s
}

// BreakerState reports closed, half-open or open.
func (s *Store) BreakerState() string {
	return s.breaker.State().String()
}

// Put replaces the list under key as a whole.
func (s *Store) Put(ctx context.Context, key string, list []models.ScoredPartner, ttl time.Duration) error {
	if list == nil {
		list = []models.ScoredPartner{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode ranked list: %w", err)
	}

	_, err = s.breaker.Execute(func() ([]byte, error) {
		return nil, s.kv.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		return &models.CacheUnavailableError{Op: "put", Key: key, Cause: err}
	}
	return nil
}

// Get returns the list under key. found is false on a miss, including a
// stored payload that fails schema validation.
func (s *Store) Get(ctx context.Context, key string) ([]models.ScoredPartner, bool, error) {
	data, err := s.breaker.Execute(func() ([]byte, error) {
		return s.kv.Get(ctx, key).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &models.CacheUnavailableError{Op: "get", Key: key, Cause: err}
	}

	if s.schemas != nil {
		if result := s.schemas.ValidateRankedList(data); !result.Valid {
			s.logger.WithFields(logrus.Fields{
				"key":    key,
				"errors": len(result.Errors),
			}).WithError(result.Err()).Warn("Discarding cached list that fails schema validation")
			return nil, false, nil
		}
	}

	var list []models.ScoredPartner
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable cached list")
		return nil, false, nil
	}
	return list, true, nil
}

func (s *Store) PutUser(ctx context.Context, generation string, userID uuid.UUID, list []models.ScoredPartner) error {
	return s.Put(ctx, UserKey(generation, userID), list, s.config.PersonalizedTTL)
}

// GetUser reads from the active generation. Before any artifact is loaded
// every user is a miss.
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) ([]models.ScoredPartner, bool, error) {
	generation := s.generation()
	if generation == "" {
		return nil, false, nil
	}
	return s.Get(ctx, UserKey(generation, userID))
}

func (s *Store) PutTrending(ctx context.Context, generation, category string, list []models.ScoredPartner) error {
	return s.Put(ctx, TrendingKey(generation, category), list, s.config.TrendingTTL)
}

// ActivateTrending points readers at a fully written trending generation.
// The pointer itself does not expire.
func (s *Store) ActivateTrending(ctx context.Context, generation string) error {
	_, err := s.breaker.Execute(func() ([]byte, error) {
		return nil, s.kv.Set(ctx, TrendingPointerKey, generation, 0).Err()
	})
	if err != nil {
		return &models.CacheUnavailableError{Op: "activate", Key: TrendingPointerKey, Cause: err}
	}
	return nil
}

// ActiveTrending returns the trending generation readers see, "" if none.
func (s *Store) ActiveTrending(ctx context.Context) (string, error) {
	data, err := s.breaker.Execute(func() ([]byte, error) {
		return s.kv.Get(ctx, TrendingPointerKey).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", &models.CacheUnavailableError{Op: "get", Key: TrendingPointerKey, Cause: err}
	}
	return string(data), nil
}

func (s *Store) GetTrending(ctx context.Context, category string) ([]models.ScoredPartner, bool, error) {
	generation, err := s.ActiveTrending(ctx)
	if err != nil || generation == "" {
		return nil, false, err
	}
	return s.Get(ctx, TrendingKey(generation, category))
}
