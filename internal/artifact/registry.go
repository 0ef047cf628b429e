package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/internal/validation"
)

const activeKey = "artifact:active"

func blobKey(runID string) string     { return "artifact:" + runID + ":blob" }
func manifestKey(runID string) string { return "artifact:" + runID + ":manifest" }

// KV is the slice of the redis client the registry needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Persist(ctx context.Context, key string) *redis.BoolCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// ErrNoActive means no run has been activated yet.
var ErrNoActive = errors.New("no active artifact")

// Registry stores artifacts keyed by run id plus the single active pointer.
// Blobs are written before the pointer moves, so a reader following the
// pointer always finds a complete artifact. Saved runs expire after ttl
// unless activated; the active run never expires and starts its ttl only
// once it is superseded.
type Registry struct {
	kv      KV
	schemas *validation.SchemaValidator
	ttl     time.Duration
	logger  *logrus.Logger
}

// NewRegistry creates a registry; ttl bounds how long unactivated and
// superseded runs stay loadable.
func NewRegistry(kv KV, schemas *validation.SchemaValidator, ttl time.Duration, logger *logrus.Logger) *Registry {
	return &Registry{kv: kv, schemas: schemas, ttl: ttl, logger: logger}
}

// Save writes blob and manifest for a. It does not activate anything.
func (r *Registry) Save(ctx context.Context, a *Artifact) (*Manifest, error) {
	blob, manifest, err := Encode(a)
	if err != nil {
		return nil, err
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if r.schemas != nil {
		if err := r.schemas.ValidateManifest(manifestJSON).Err(); err != nil {
			return nil, fmt.Errorf("manifest for %s is invalid: %w", a.RunID, err)
		}
	}

	if err := r.kv.Set(ctx, blobKey(a.RunID), blob, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store artifact blob %s: %w", a.RunID, err)
	}
	if err := r.kv.Set(ctx, manifestKey(a.RunID), manifestJSON, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store artifact manifest %s: %w", a.RunID, err)
	}

	r.logger.WithFields(logrus.Fields{
		"run_id":     a.RunID,
		"size_bytes": manifest.SizeBytes,
		"checksum":   manifest.Checksum[:12],
	}).Info("Model artifact saved")

	return manifest, nil
}

// Activate moves the active pointer to runID after checking the run loads.
// The new run's keys lose their expiry before the pointer moves; the
// outgoing run's keys get the ttl back afterwards.
func (r *Registry) Activate(ctx context.Context, runID string) error {
	if _, _, err := r.Load(ctx, runID); err != nil {
		return fmt.Errorf("refusing to activate %s: %w", runID, err)
	}

	previous, err := r.ActiveRunID(ctx)
	if err != nil && !errors.Is(err, ErrNoActive) {
		return err
	}

	for _, key := range []string{blobKey(runID), manifestKey(runID)} {
		if err := r.kv.Persist(ctx, key).Err(); err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}
	if err := r.kv.Set(ctx, activeKey, runID, 0).Err(); err != nil {
		return fmt.Errorf("flip active artifact pointer: %w", err)
	}
	r.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"previous": previous,
	}).Info("Model artifact activated")

	if previous != "" && previous != runID && r.ttl > 0 {
		for _, key := range []string{blobKey(previous), manifestKey(previous)} {
			if err := r.kv.Expire(ctx, key, r.ttl).Err(); err != nil {
				r.logger.WithError(err).WithField("key", key).Warn("Failed to expire superseded artifact")
			}
		}
	}
	return nil
}

// ActiveRunID returns ErrNoActive when nothing has been activated.
func (r *Registry) ActiveRunID(ctx context.Context) (string, error) {
	runID, err := r.kv.Get(ctx, activeKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoActive
	}
	if err != nil {
		return "", fmt.Errorf("read active artifact pointer: %w", err)
	}
	return runID, nil
}

func (r *Registry) Manifest(ctx context.Context, runID string) (*Manifest, error) {
	data, err := r.kv.Get(ctx, manifestKey(runID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", runID, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", runID, err)
	}
	return &m, nil
}

func (r *Registry) Load(ctx context.Context, runID string) (*Artifact, *Manifest, error) {
	manifest, err := r.Manifest(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	blob, err := r.kv.Get(ctx, blobKey(runID)).Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact blob %s: %w", runID, err)
	}
	a, err := Decode(blob, manifest)
	if err != nil {
		return nil, nil, err
	}
	return a, manifest, nil
}

// LoadActive loads whatever the pointer references.
func (r *Registry) LoadActive(ctx context.Context) (*Artifact, *Manifest, error) {
	runID, err := r.ActiveRunID(ctx)
	if err != nil {
		return nil, nil, err
	}
	return r.Load(ctx, runID)
}
