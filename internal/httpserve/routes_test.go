package httpserve

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averlard/custos/internal/config"
	"github.com/averlard/custos/internal/hub"
	"github.com/averlard/custos/internal/invoker"
	"github.com/averlard/custos/internal/server"
	"github.com/averlard/custos/internal/store"
	"github.com/averlard/custos/internal/usecase/health"
	"github.com/averlard/custos/internal/usecase/jobs"
	"github.com/averlard/custos/internal/usecase/scheduler"
	"github.com/averlard/custos/pkg/token"
)

const apiSecret = "router-test-secret"

// fakeEngine stands in for the external backup binary so API tests never
// spawn processes.
type fakeEngine struct {
	mu    sync.Mutex
	calls [][]string
	lines []string
	block bool
}

func (f *fakeEngine) Invoke(ctx context.Context, args []string, onOutput func(string)) (*invoker.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()

	for _, line := range f.lines {
		if onOutput != nil {
			onOutput(line)
		}
	}
	if f.block {
		<-ctx.Done()
		return &invoker.Result{}, ctx.Err()
	}
	return &invoker.Result{Success: true}, nil
}

func newTestRouter(t *testing.T, engine invoker.Invoker) (*echo.Echo, *server.App) {
	t.Helper()

	lg := log.New(io.Discard)
	dataDir := t.TempDir()

	st, err := store.Open(dataDir, lg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	healthSvc := health.NewService("/bin/sh", dataDir, lg)
	eventHub := hub.New(healthSvc, lg)
	t.Cleanup(eventHub.Cleanup)

	jobSvc := jobs.NewService(engine, eventHub, lg)
	schedSvc, err := scheduler.NewService(st, jobSvc, eventHub, lg)
	require.NoError(t, err)
	t.Cleanup(schedSvc.Stop)

	app := &server.App{
		Config: &config.Config{
			Auth: config.AuthConfig{Secret: apiSecret, TokenTTL: time.Hour},
			Jobs: config.JobsConfig{Retention: time.Hour, RateLimitRPS: 1000, RateLimitBurst: 1000},
		},
		Store:     st,
		Jobs:      jobSvc,
		Scheduler: schedSvc,
		Hub:       eventHub,
		Health:    healthSvc,
		Log:       lg,
		StartTime: time.Now().UTC(),
	}
	return NewRouter(app), app
}

func bearerFor(t *testing.T, user string, admin bool) string {
	t.Helper()
	signed, err := token.Issue(apiSecret, user, admin, time.Hour)
	require.NoError(t, err)
	return "Bearer " + signed
}

func call(e *echo.Echo, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	detail, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %s", rec.Body.String())
	kind, _ := detail["kind"].(string)
	return kind
}

func TestAPIRejectsMissingToken(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/jobs"},
		{http.MethodPost, "/api/jobs/backup"},
		{http.MethodGet, "/api/schedules"},
		{http.MethodGet, "/api/system/status"},
		{http.MethodGet, "/api/events/stream"},
	}
	for _, p := range paths {
		rec := call(e, p.method, p.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", p.method, p.path)
	}
}

func TestBackupJobLifecycleOverAPI(t *testing.T) {
	engine := &fakeEngine{lines: []string{"scanning", "50% done"}}
	e, _ := newTestRouter(t, engine)
	auth := bearerFor(t, "alice", false)

	rec := call(e, http.MethodPost, "/api/jobs/backup", auth, map[string]interface{}{
		"repository": "/srv/repo",
		"paths":      []string{"/home"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID, _ := decode(t, rec)["jobId"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		rec := call(e, http.MethodGet, "/api/jobs/"+jobID, auth, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		status, _ := decode(t, rec)["status"].(string)
		return status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	rec = call(e, http.MethodGet, "/api/jobs/"+jobID, auth, nil)
	body := decode(t, rec)
	assert.Equal(t, float64(100), body["progress_percent"])
	assert.Equal(t, "alice", body["owner"])

	rec = call(e, http.MethodGet, "/api/jobs/"+jobID+"/log", auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "50% done")

	rec = call(e, http.MethodGet, "/api/jobs", auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobsList, _ := decode(t, rec)["jobs"].([]interface{})
	assert.Len(t, jobsList, 1)
}

func TestStartBackupRejectsIncompleteTarget(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{})
	auth := bearerFor(t, "alice", false)

	rec := call(e, http.MethodPost, "/api/jobs/backup", auth, map[string]interface{}{
		"repository": "/srv/repo",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRunningJob(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{block: true})
	auth := bearerFor(t, "alice", false)

	rec := call(e, http.MethodPost, "/api/jobs/backup", auth, map[string]interface{}{
		"repository": "/srv/repo",
		"paths":      []string{"/home"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID, _ := decode(t, rec)["jobId"].(string)

	rec = call(e, http.MethodDelete, "/api/jobs/"+jobID, auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode(t, rec)["status"])

	// Second cancel hits a terminal job.
	rec = call(e, http.MethodDelete, "/api/jobs/"+jobID, auth, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", errorKind(t, rec))
}

func TestJobOwnershipEnforcedOverAPI(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{block: true})
	alice := bearerFor(t, "alice", false)
	bob := bearerFor(t, "bob", false)
	admin := bearerFor(t, "root", true)

	rec := call(e, http.MethodPost, "/api/jobs/backup", alice, map[string]interface{}{
		"repository": "/srv/repo",
		"paths":      []string{"/home"},
	})
	jobID, _ := decode(t, rec)["jobId"].(string)

	rec = call(e, http.MethodGet, "/api/jobs/"+jobID, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorKind(t, rec))

	rec = call(e, http.MethodGet, "/api/jobs/"+jobID, admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Bob sees an empty listing, not alice's job.
	rec = call(e, http.MethodGet, "/api/jobs", bob, nil)
	jobsList, _ := decode(t, rec)["jobs"].([]interface{})
	assert.Empty(t, jobsList)
}

func TestGetUnknownJob(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{})
	auth := bearerFor(t, "alice", false)

	rec := call(e, http.MethodGet, "/api/jobs/no-such-job", auth, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorKind(t, rec))
}

func TestListJobsRejectsUnknownStatusFilter(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{})
	auth := bearerFor(t, "alice", false)

	rec := call(e, http.MethodGet, "/api/jobs?status=paused", auth, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleCRUDOverAPI(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{})
	auth := bearerFor(t, "alice", false)

	create := map[string]interface{}{
		"name":            "nightly",
		"cron_expression": "30 2 * * *",
		"enabled":         true,
		"target": map[string]interface{}{
			"repository": "/srv/repo",
			"paths":      []string{"/home"},
		},
	}
	rec := call(e, http.MethodPost, "/api/schedules", auth, create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	schedID, _ := created["id"].(string)
	require.NotEmpty(t, schedID)
	assert.NotEmpty(t, created["next_run"])

	// Duplicate name is rejected.
	rec = call(e, http.MethodPost, "/api/schedules", auth, create)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duplicate_name", errorKind(t, rec))

	// Invalid cron expression is rejected.
	bad := map[string]interface{}{
		"name":            "broken",
		"cron_expression": "not a cron",
		"target":          create["target"],
	}
	rec = call(e, http.MethodPost, "/api/schedules", auth, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_cron", errorKind(t, rec))

	rec = call(e, http.MethodGet, "/api/schedules", auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedules, _ := decode(t, rec)["schedules"].([]interface{})
	assert.Len(t, schedules, 1)

	rec = call(e, http.MethodPut, "/api/schedules/"+schedID, auth, map[string]interface{}{
		"cron_expression": "0 4 * * 0",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0 4 * * 0", decode(t, rec)["cron_expression"])

	rec = call(e, http.MethodPost, "/api/schedules/"+schedID+"/toggle", auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["enabled"])

	rec = call(e, http.MethodDelete, "/api/schedules/"+schedID, auth, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(e, http.MethodPut, "/api/schedules/"+schedID, auth, map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunScheduleImmediately(t *testing.T) {
	engine := &fakeEngine{}
	e, _ := newTestRouter(t, engine)
	auth := bearerFor(t, "alice", false)

	rec := call(e, http.MethodPost, "/api/schedules", auth, map[string]interface{}{
		"name":            "adhoc",
		"cron_expression": "0 3 * * *",
		"target": map[string]interface{}{
			"repository": "/srv/repo",
			"paths":      []string{"/data"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	schedID, _ := decode(t, rec)["id"].(string)

	rec = call(e, http.MethodPost, "/api/schedules/"+schedID+"/run", auth, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = call(e, http.MethodPost, "/api/schedules/unknown/run", auth, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateCronEndpoint(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{})
	auth := bearerFor(t, "alice", false)

	rec := call(e, http.MethodPost, "/api/schedules/validate-cron", auth, map[string]string{
		"expression": "*/15 * * * *",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	runs, _ := body["nextRuns"].([]interface{})
	assert.Len(t, runs, 3)

	rec = call(e, http.MethodPost, "/api/schedules/validate-cron", auth, map[string]string{
		"expression": "bogus",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["message"])
}

func TestSystemStatusEndpoint(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{})
	auth := bearerFor(t, "alice", false)

	rec := call(e, http.MethodGet, "/api/system/status", auth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "system")
	assert.Contains(t, body, "engine")
	assert.NotEmpty(t, body["uptime"])
}

func TestCleanupRequiresAdmin(t *testing.T) {
	e, _ := newTestRouter(t, &fakeEngine{})

	rec := call(e, http.MethodPost, "/api/jobs/cleanup", bearerFor(t, "alice", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(e, http.MethodPost, "/api/jobs/cleanup", bearerFor(t, "root", true), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["removed"])
}
