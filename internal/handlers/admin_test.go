package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/partnerrec/internal/artifact"
	"github.com/temcen/partnerrec/internal/hybrid"
	"github.com/temcen/partnerrec/internal/pipeline"
	"github.com/temcen/partnerrec/internal/services"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Recent(ctx context.Context) ([]*pipeline.RunRecord, error) {
	args := m.Called(ctx)
	runs, _ := args.Get(0).([]*pipeline.RunRecord)
	return runs, args.Error(1)
}

func (m *MockLedger) Get(ctx context.Context, runID string) (*pipeline.RunRecord, error) {
	args := m.Called(ctx, runID)
	run, _ := args.Get(0).(*pipeline.RunRecord)
	return run, args.Error(1)
}

var _ services.RunLedgerInterface = (*MockLedger)(nil)

func serveAdmin(handler *AdminHandler, path string) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/api/v1/admin/runs", handler.ListRuns)
	router.GET("/api/v1/admin/runs/:runId", handler.GetRun)
	router.GET("/api/v1/admin/artifact", handler.GetArtifact)

	req, _ := http.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdminHandler_Runs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	started := time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)
	run := &pipeline.RunRecord{RunID: "run-2", Kind: pipeline.KindTraining, Status: pipeline.RunStatusSucceeded, StartedAt: started}

	t.Run("list", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Recent", mock.Anything).Return([]*pipeline.RunRecord{run}, nil)

		w := serveAdmin(NewAdminHandler(ledger, artifact.NewHolder(), testLogger()), "/api/v1/admin/runs")
		assert.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Runs  []pipeline.RunRecord `json:"runs"`
			Count int                  `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count)
		assert.Equal(t, "run-2", body.Runs[0].RunID)
	})

	t.Run("empty ledger", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Recent", mock.Anything).Return(nil, nil)

		w := serveAdmin(NewAdminHandler(ledger, artifact.NewHolder(), testLogger()), "/api/v1/admin/runs")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"runs":[],"count":0}`, w.Body.String())
	})

	t.Run("ledger unavailable", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Recent", mock.Anything).Return(nil, errors.New("connection refused"))

		w := serveAdmin(NewAdminHandler(ledger, artifact.NewHolder(), testLogger()), "/api/v1/admin/runs")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("single run", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Get", mock.Anything, "run-2").Return(run, nil)

		w := serveAdmin(NewAdminHandler(ledger, artifact.NewHolder(), testLogger()), "/api/v1/admin/runs/run-2")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"succeeded"`)
	})

	t.Run("unknown run", func(t *testing.T) {
		ledger := new(MockLedger)
		ledger.On("Get", mock.Anything, "run-x").Return(nil, fmt.Errorf("%w: run-x", pipeline.ErrRunNotFound))

		w := serveAdmin(NewAdminHandler(ledger, artifact.NewHolder(), testLogger()), "/api/v1/admin/runs/run-x")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminHandler_GetArtifact(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("nothing loaded", func(t *testing.T) {
		w := serveAdmin(NewAdminHandler(new(MockLedger), artifact.NewHolder(), testLogger()), "/api/v1/admin/artifact")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("active artifact", func(t *testing.T) {
		trainedAt := time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)
		holder := artifact.NewHolder()
		holder.Swap(artifact.NewActive(
			&artifact.Artifact{RunID: "run-3", TrainedAt: trainedAt, Weights: hybrid.Weights{CF: 0.6, CB: 0.4}, Categories: []string{"dining"}},
			&artifact.Manifest{RunID: "run-3", Checksum: "abc123"},
		))

		w := serveAdmin(NewAdminHandler(new(MockLedger), holder, testLogger()), "/api/v1/admin/artifact")
		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "run-3", body["run_id"])
		assert.Equal(t, "abc123", body["manifest"].(map[string]interface{})["checksum"])
		assert.Equal(t, 0.6, body["weights"].(map[string]interface{})["cf"])
	})
}
