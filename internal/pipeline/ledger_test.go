package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/pkg/models"
)

func TestLedger_Lifecycle(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	ledger := NewLedger(kv, time.Hour, 10, testLogger())
	start := time.Date(2026, 10, 2, 2, 0, 0, 0, time.UTC)

	rec := ledger.Start(ctx, "run-1", KindTraining, start)
	ledger.Stage(ctx, rec, "extract")
	ledger.StageDone(rec, "extract", 1500*time.Millisecond)
	rec.Stats.Users = 3
	ledger.Finish(ctx, rec, nil, start.Add(time.Minute))

	got, err := ledger.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusSucceeded, got.Status)
	assert.Equal(t, KindTraining, got.Kind)
	assert.Equal(t, "extract", got.Stage)
	assert.Equal(t, 1.5, got.StageSeconds["extract"])
	assert.Equal(t, 3, got.Stats.Users)
	require.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Error)
}

func TestLedger_FailedRun(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newFakeKV(), time.Hour, 10, testLogger())
	now := time.Date(2026, 10, 2, 2, 0, 0, 0, time.UTC)

	rec := ledger.Start(ctx, "run-2", KindTraining, now)
	ledger.Finish(ctx, rec, &models.DataIntegrityError{Stage: "extract", Message: "no interactions"}, now)

	got, err := ledger.Get(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "data_integrity", got.ErrorKind)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "no interactions")
}

func TestLedger_RecentIsNewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(newFakeKV(), time.Hour, 3, testLogger())
	now := time.Date(2026, 10, 2, 2, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		ledger.Start(ctx, fmt.Sprintf("run-%d", i), KindTrending, now)
	}

	runs, err := ledger.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-5", runs[0].RunID)
	assert.Equal(t, "run-3", runs[2].RunID)
}

func TestLedger_Empty(t *testing.T) {
	ledger := NewLedger(newFakeKV(), time.Hour, 0, testLogger())

	runs, err := ledger.Recent(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = ledger.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLedger_WriteFailureIsNotFatal(t *testing.T) {
	kv := newFakeKV()
	kv.failSet = "run"
	ledger := NewLedger(kv, time.Hour, 10, testLogger())

	assert.NotPanics(t, func() {
		rec := ledger.Start(context.Background(), "run-1", KindTraining, time.Now())
		ledger.Finish(context.Background(), rec, nil, time.Now())
	})
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"data integrity", &models.DataIntegrityError{Stage: "matrix"}, "data_integrity"},
		{"model fit", fmt.Errorf("fit: %w", &models.ModelFitError{Stage: "als"}), "model_fit"},
		{"cache", &models.CacheUnavailableError{Op: "set", Key: "user:x"}, "cache_unavailable"},
		{"cancelled", fmt.Errorf("extract: %w", context.Canceled), "cancelled"},
		{"other", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
