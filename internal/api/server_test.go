package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/domain"
	"taskforge/internal/executor"
	"taskforge/internal/metrics"
	"taskforge/internal/recovery"
	"taskforge/internal/schedule"
	"taskforge/internal/scheduler"
	"taskforge/internal/state"
)

func newTestServer(t *testing.T) (http.Handler, *scheduler.Scheduler) {
	t.Helper()
	log := zerolog.Nop()
	store := state.NewManager(log)
	collector := metrics.NewCollector(store)
	recov := recovery.NewEngine(nil, log)
	sched := scheduler.New(store, executor.NewRegistry(), recov, collector, scheduler.Config{MaxConcurrent: 2}, log)
	t.Cleanup(sched.Stop)
	cron := schedule.NewService(sched, store, time.Second, 0, log)
	return NewServer(sched, cron), sched
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "u-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("content-type") == "application/json" {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)
	rec, _ := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateAndGetTask(t *testing.T) {
	h, sched := newTestServer(t)
	sched.RegisterExecutor("echo", func(_ context.Context, task domain.Task) (any, error) {
		return task.Input, nil
	})

	rec, body := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"type":     "echo",
		"name":     "hello",
		"priority": "high",
		"input":    "ping",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "u-test", body["user_id"])
	assert.Equal(t, "high", body["priority"])

	require.Eventually(t, func() bool {
		rec, body = doJSON(t, h, http.MethodGet, "/api/tasks/"+id, nil)
		return rec.Code == http.StatusOK && body["status"] == "completed"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping", body["result"])
	assert.Equal(t, float64(100), body["progress"])
}

func TestCreateTaskValidation(t *testing.T) {
	h, _ := newTestServer(t)
	rec, _ := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{"name": "no type"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	h, _ := newTestServer(t)
	rec, _ := doJSON(t, h, http.MethodGet, "/api/tasks/tsk_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasksFilters(t *testing.T) {
	h, _ := newTestServer(t)

	for _, typ := range []string{"alpha", "alpha", "beta"} {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{"type": typ})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?type=alpha", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestLifecycleEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	// No executor registered: the task fails, and a conflict is
	// reported for transitions its state no longer allows.
	rec, body := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{"type": "none"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := body["id"].(string)

	require.Eventually(t, func() bool {
		rec, body = doJSON(t, h, http.MethodGet, "/api/tasks/"+id, nil)
		return body["status"] == "failed"
	}, 2*time.Second, 5*time.Millisecond)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/tasks/"+id+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = doJSON(t, h, http.MethodPost, "/api/tasks/"+id+"/retry", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["retries"])

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/tasks/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = doJSON(t, h, http.MethodGet, "/api/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchEndpoints(t *testing.T) {
	h, sched := newTestServer(t)
	sched.RegisterExecutor("block", func(ctx context.Context, _ domain.Task) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	for i := 0; i < 3; i++ {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{"type": "block"})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec, body := doJSON(t, h, http.MethodPost, "/api/tasks/cancel-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["affected"])
}

func TestStats(t *testing.T) {
	h, _ := newTestServer(t)
	rec, body := doJSON(t, h, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "queued_count")
	assert.Contains(t, body, "running_count")
}

func TestScheduleCRUD(t *testing.T) {
	h, _ := newTestServer(t)

	rec, body := doJSON(t, h, http.MethodPost, "/api/schedules", map[string]any{
		"name":      "nightly",
		"cron_expr": "0 2 * * *",
		"task_type": "shell",
		"priority":  "low",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["id"].(string)
	assert.Equal(t, true, body["enabled"])

	rec, body = doJSON(t, h, http.MethodGet, "/api/schedules/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nightly", body["name"])

	rec, _ = doJSON(t, h, http.MethodPut, "/api/schedules/"+id, map[string]any{
		"name":      "nightly-2",
		"cron_expr": "0 3 * * *",
		"task_type": "shell",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = doJSON(t, h, http.MethodGet, "/api/schedules/"+id, nil)
	assert.Equal(t, "nightly-2", body["name"])

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/schedules/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = doJSON(t, h, http.MethodGet, "/api/schedules/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateScheduleValidation(t *testing.T) {
	h, _ := newTestServer(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/schedules", map[string]any{"name": "no cron"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/schedules", map[string]any{
		"cron_expr": "not valid",
		"task_type": "shell",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
