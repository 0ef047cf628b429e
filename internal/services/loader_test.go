package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/internal/artifact"
	"github.com/temcen/partnerrec/internal/messaging"
)

// MockRegistry is a mock implementation of ArtifactRegistry
type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) ActiveRunID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockRegistry) LoadActive(ctx context.Context) (*artifact.Artifact, *artifact.Manifest, error) {
	args := m.Called(ctx)
	a, _ := args.Get(0).(*artifact.Artifact)
	man, _ := args.Get(1).(*artifact.Manifest)
	return a, man, args.Error(2)
}

func trainedArtifact(runID string) (*artifact.Artifact, *artifact.Manifest) {
	trainedAt := time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)
	return &artifact.Artifact{RunID: runID, TrainedAt: trainedAt},
		&artifact.Manifest{RunID: runID, TrainedAt: trainedAt}
}

func TestArtifactLoader_Reload(t *testing.T) {
	t.Run("no active artifact yet", func(t *testing.T) {
		registry := &MockRegistry{}
		registry.On("ActiveRunID", mock.Anything).Return("", artifact.ErrNoActive)
		holder := artifact.NewHolder()

		swapped, err := NewArtifactLoader(registry, holder, nil, testLogger()).Reload(context.Background())
		require.NoError(t, err)
		assert.False(t, swapped)
		assert.Nil(t, holder.Load())
	})

	t.Run("swaps in a new run", func(t *testing.T) {
		a, m := trainedArtifact("run-2")
		registry := &MockRegistry{}
		registry.On("ActiveRunID", mock.Anything).Return("run-2", nil)
		registry.On("LoadActive", mock.Anything).Return(a, m, nil).Once()
		holder := artifact.NewHolder()
		metrics := NewMetrics(prometheus.NewRegistry())
		loader := NewArtifactLoader(registry, holder, metrics, testLogger())

		swapped, err := loader.Reload(context.Background())
		require.NoError(t, err)
		assert.True(t, swapped)
		assert.Equal(t, "run-2", holder.RunID())
		assert.Equal(t, float64(a.TrainedAt.Unix()), testutil.ToFloat64(metrics.activeArtifactTrained))

		// same pointer again is a no-op
		swapped, err = loader.Reload(context.Background())
		require.NoError(t, err)
		assert.False(t, swapped)
		registry.AssertExpectations(t)
	})

	t.Run("registry failure keeps serving the held artifact", func(t *testing.T) {
		a, m := trainedArtifact("run-1")
		holder := artifact.NewHolder()
		holder.Swap(artifact.NewActive(a, m))

		registry := &MockRegistry{}
		registry.On("ActiveRunID", mock.Anything).Return("run-2", nil)
		registry.On("LoadActive", mock.Anything).Return(nil, nil, errors.New("checksum mismatch"))

		swapped, err := NewArtifactLoader(registry, holder, nil, testLogger()).Reload(context.Background())
		assert.Error(t, err)
		assert.False(t, swapped)
		assert.Equal(t, "run-1", holder.RunID())
	})
}

func TestArtifactLoader_HandleEvent(t *testing.T) {
	a, m := trainedArtifact("run-5")
	registry := &MockRegistry{}
	registry.On("ActiveRunID", mock.Anything).Return("run-5", nil)
	registry.On("LoadActive", mock.Anything).Return(a, m, nil)
	holder := artifact.NewHolder()
	loader := NewArtifactLoader(registry, holder, nil, testLogger())

	require.NoError(t, loader.HandleEvent(context.Background(), messaging.ModelEvent{Type: messaging.EventTrendingRefreshed, RunID: "run-5"}))
	assert.Nil(t, holder.Load(), "trending events do not touch the model")
	registry.AssertNotCalled(t, "ActiveRunID", mock.Anything)

	require.NoError(t, loader.HandleEvent(context.Background(), messaging.ModelEvent{Type: messaging.EventModelActivated, RunID: "run-5"}))
	assert.Equal(t, "run-5", holder.RunID())
}

func TestArtifactLoader_PollStopsWithContext(t *testing.T) {
	a, m := trainedArtifact("run-9")
	registry := &MockRegistry{}
	registry.On("ActiveRunID", mock.Anything).Return("run-9", nil)
	registry.On("LoadActive", mock.Anything).Return(a, m, nil)
	holder := artifact.NewHolder()
	loader := NewArtifactLoader(registry, holder, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loader.Poll(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return holder.RunID() == "run-9" }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after cancel")
	}
}
