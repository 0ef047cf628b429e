package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/partnerrec/pkg/models"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

const (
	KindTraining = "training"
	KindTrending = "trending"
)

const recentRunsKey = "runs:recent"

var ErrRunNotFound = errors.New("run not found")

func runKey(runID string) string { return "run:" + runID }

// KV is the slice of the redis client the ledger needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type RunStats struct {
	FeatureRows   int     `json:"feature_rows"`
	Users         int     `json:"users"`
	Partners      int     `json:"partners"`
	ExcludedUsers int     `json:"excluded_users"`
	DroppedEvents int     `json:"dropped_events"`
	MatrixDensity float64 `json:"matrix_density"`
	ListsWritten  int     `json:"lists_written"`
	EmptyLists    int     `json:"empty_lists"`
}

type RunRecord struct {
	RunID      string     `json:"run_id"`
	Kind       string     `json:"kind"`
	Status     RunStatus  `json:"status"`
	Stage      string     `json:"stage,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      *string    `json:"error,omitempty"`
	Stats      RunStats   `json:"stats"`
	// StageSeconds holds the wall time of every finished stage.
	StageSeconds map[string]float64 `json:"stage_seconds,omitempty"`
}

// Ledger keeps one JSON record per run plus a bounded newest-first list of
// run ids. Writes are best effort: a ledger outage never fails a run.
type Ledger struct {
	kv     KV
	ttl    time.Duration
	keep   int
	logger *logrus.Logger
}

func NewLedger(kv KV, ttl time.Duration, keep int, logger *logrus.Logger) *Ledger {
	if keep <= 0 {
		keep = 20
	}
	return &Ledger{kv: kv, ttl: ttl, keep: keep, logger: logger}
}

func (l *Ledger) Start(ctx context.Context, runID, kind string, now time.Time) *RunRecord {
	rec := &RunRecord{
		RunID:     runID,
		Kind:      kind,
		Status:    RunStatusRunning,
		StartedAt: now,
	}
	l.store(ctx, rec)
	l.pushRecent(ctx, runID)
	return rec
}

// Stage records progress of a running run.
func (l *Ledger) Stage(ctx context.Context, rec *RunRecord, stage string) {
	rec.Stage = stage
	l.store(ctx, rec)
}

// StageDone records how long a stage took. It is persisted with the next
// write of the record.
func (l *Ledger) StageDone(rec *RunRecord, stage string, d time.Duration) {
	if rec.StageSeconds == nil {
		rec.StageSeconds = make(map[string]float64)
	}
	rec.StageSeconds[stage] = d.Seconds()
}

// Finish closes the record with the run outcome.
func (l *Ledger) Finish(ctx context.Context, rec *RunRecord, runErr error, now time.Time) {
	rec.FinishedAt = &now
	if runErr == nil {
		rec.Status = RunStatusSucceeded
	} else {
		msg := runErr.Error()
		rec.Status = RunStatusFailed
		rec.Error = &msg
		rec.ErrorKind = ErrorKind(runErr)
	}
	l.store(ctx, rec)
}

func (l *Ledger) Get(ctx context.Context, runID string) (*RunRecord, error) {
	data, err := l.kv.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &rec, nil
}

// Recent lists the newest runs first. Records that already expired are
// skipped.
func (l *Ledger) Recent(ctx context.Context) ([]*RunRecord, error) {
	ids, err := l.recentIDs(ctx)
	if err != nil {
		return nil, err
	}
	runs := make([]*RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := l.Get(ctx, id)
		if err != nil {
			continue
		}
		runs = append(runs, rec)
	}
	return runs, nil
}

func (l *Ledger) recentIDs(ctx context.Context) ([]string, error) {
	data, err := l.kv.Get(ctx, recentRunsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recent runs: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode recent runs: %w", err)
	}
	return ids, nil
}

// pushRecent is a read-modify-write; runs come from a single scheduler so
// there is no concurrent writer to race with.
func (l *Ledger) pushRecent(ctx context.Context, runID string) {
	ids, err := l.recentIDs(ctx)
	if err != nil {
		l.logger.WithError(err).Warn("Failed to read run ledger index")
		ids = nil
	}
	ids = append([]string{runID}, ids...)
	if len(ids) > l.keep {
		ids = ids[:l.keep]
	}
	data, _ := json.Marshal(ids)
	if err := l.kv.Set(ctx, recentRunsKey, data, l.ttl).Err(); err != nil {
		l.logger.WithError(err).Warn("Failed to update run ledger index")
	}
}

func (l *Ledger) store(ctx context.Context, rec *RunRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		l.logger.WithError(err).WithField("run_id", rec.RunID).Warn("Failed to encode run record")
		return
	}
	if err := l.kv.Set(ctx, runKey(rec.RunID), data, l.ttl).Err(); err != nil {
		l.logger.WithError(err).WithField("run_id", rec.RunID).Warn("Failed to store run record")
	}
}

// ErrorKind classifies a run failure for the ledger and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case models.IsDataIntegrity(err):
		return "data_integrity"
	case models.IsModelFit(err):
		return "model_fit"
	case models.IsCacheUnavailable(err):
		return "cache_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
