package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveline/driveline/internal/jobs"
	"github.com/driveline/driveline/internal/pipeline"
	"github.com/driveline/driveline/internal/provider"
	"github.com/driveline/driveline/internal/router"
	"github.com/driveline/driveline/internal/store"
	"github.com/driveline/driveline/pkg/config"
)

type stubRouter struct {
	result *router.Result
}

func (s *stubRouter) RouteText(ctx context.Context, req provider.Request) *router.Result {
	return s.result
}

type stubChecker struct{ err error }

func (s stubChecker) Health(ctx context.Context) error { return s.err }

func testDeps(routed *router.Result) (Deps, *store.MemoryStore) {
	gin.SetMode(gin.TestMode)

	memStore := store.NewMemoryStore()
	orch := pipeline.New(&stubRouter{result: routed}, nil, memStore, config.PipelineConfig{
		ConsolidationBudgets: []int{1024},
		StageTimeout:         5 * time.Second,
	}, nil, nil)

	queue := jobs.NewQueue(config.JobsConfig{
		MaxRetries:     2,
		RetryBaseDelay: 5 * time.Millisecond,
		Retention:      time.Hour,
		SweepInterval:  time.Minute,
	}, nil)

	return Deps{
		Config:       &config.Config{},
		Orchestrator: orch,
		Store:        memStore,
		Queue:        queue,
		Health:       map[string]HealthChecker{"database": stubChecker{}},
	}, memStore
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenerateStrategy(t *testing.T) {
	deps, _ := testDeps(&router.Result{Text: "go north", Provider: "anthropic"})
	r := NewRouter(deps)

	w := doJSON(t, r, http.MethodPost, "/api/strategy/generate", map[string]interface{}{
		"snapshot_id": "snap-1",
		"latitude":    37.7749,
		"longitude":   -122.4194,
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "go north", data["strategy"])
	assert.Equal(t, "anthropic", data["provider"])
}

func TestGenerateRequiresCoordinates(t *testing.T) {
	deps, _ := testDeps(&router.Result{Text: "x", Provider: "p"})
	r := NewRouter(deps)

	w := doJSON(t, r, http.MethodPost, "/api/strategy/generate", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetStoredStrategy(t *testing.T) {
	deps, memStore := testDeps(&router.Result{Text: "x", Provider: "p"})
	require.NoError(t, memStore.Upsert(context.Background(), &store.PipelineRun{
		SnapshotID: "snap-2",
		Status:     store.RunOK,
		Strategy:   "stored strategy",
	}))
	r := NewRouter(deps)

	w := doJSON(t, r, http.MethodGet, "/api/strategy/snap-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stored strategy")
}

func TestGetMissingStrategyIs404(t *testing.T) {
	deps, _ := testDeps(&router.Result{Text: "x", Provider: "p"})
	r := NewRouter(deps)

	w := doJSON(t, r, http.MethodGet, "/api/strategy/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshEnqueuesJob(t *testing.T) {
	deps, _ := testDeps(&router.Result{Text: "refreshed", Provider: "openai"})
	r := NewRouter(deps)

	w := doJSON(t, r, http.MethodPost, "/api/strategy/refresh", map[string]interface{}{
		"snapshot_id": "snap-3",
		"latitude":    37.0,
		"longitude":   -122.0,
	})

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	jobID := data["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, ok := deps.Queue.Get(jobID)
		return ok && job.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	run, err := deps.Store.Get(context.Background(), "snap-3")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", run.Strategy)
}

func TestJobEndpoints(t *testing.T) {
	deps, _ := testDeps(&router.Result{Text: "x", Provider: "p"})
	jobID := deps.Queue.Enqueue("", func(ctx context.Context) error { return nil }, jobs.Options{})
	r := NewRouter(deps)

	require.Eventually(t, func() bool {
		job, ok := deps.Queue.Get(jobID)
		return ok && job.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	w := doJSON(t, r, http.MethodGet, "/api/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "succeeded")

	w = doJSON(t, r, http.MethodGet, "/api/jobs/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "success_rate")

	w = doJSON(t, r, http.MethodGet, "/api/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportStrategyJSON(t *testing.T) {
	deps, memStore := testDeps(&router.Result{Text: "x", Provider: "p"})
	require.NoError(t, memStore.Upsert(context.Background(), &store.PipelineRun{
		SnapshotID: "snap-4",
		Status:     store.RunOK,
		Strategy:   "export me",
	}))
	r := NewRouter(deps)

	w := doJSON(t, r, http.MethodGet, "/api/strategy/snap-4/export?format=json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "export me")
}

func TestHealthDegradesOnDependencyFailure(t *testing.T) {
	deps, _ := testDeps(&router.Result{Text: "x", Provider: "p"})
	deps.Health = map[string]HealthChecker{
		"database": stubChecker{},
		"redis":    stubChecker{err: errors.New("connection refused")},
	}
	r := NewRouter(deps)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
