package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsync/internal/config"
	"marketsync/internal/dispatcher"
	"marketsync/internal/models"
	"marketsync/internal/queue"
	"marketsync/internal/report"
)

type fakeRuns struct {
	runs []models.SyncRun
	err  error
}

func (f *fakeRuns) SyncRunsSince(context.Context, time.Time) ([]models.SyncRun, error) {
	return f.runs, f.err
}

func testBrands(n int) []models.Brand {
	brands := make([]models.Brand, n)
	for i := range brands {
		brands[i] = models.Brand{Key: fmt.Sprintf("brand-%02d", i)}
	}
	return brands
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:            0,
		SchedulerHeader: "X-Scheduler-Key",
		SchedulerToken:  "sched-secret",
		AdminHeader:     "X-Admin-Key",
		AdminToken:      "admin-secret",
		DefaultBrand:    "brand-00",
	}
}

func newTestServer(t *testing.T, brands []models.Brand, runs RunSource) (*Server, *queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	q := queue.New(client, nil)

	sched := config.SchedulerConfig{
		Attempts:       5,
		BackoffBaseSec: 60,
		BackoffMaxSec:  3600,
		StaggerBaseSec: 30,
		StaggerStepSec: 120,
	}
	d := dispatcher.New(brands, sched, q, nil)
	exporter := report.NewExporter(t.TempDir(), nil)
	if runs == nil {
		runs = &fakeRuns{}
	}
	redisCfg := config.RedisConfig{Address: s.Addr()}
	srv := NewServer(serverConfig(), redisCfg, d, q, brands, runs, exporter, nil, nil)
	return srv, q, s
}

func doRequest(t *testing.T, h http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func schedulerHeaders() map[string]string {
	return map[string]string{"X-Scheduler-Key": "sched-secret"}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Key": "admin-secret"}
}

func TestTriggerWithoutHeaderEnqueuesNothing(t *testing.T) {
	brands := testBrands(16)
	srv, q, _ := newTestServer(t, brands, nil)
	h := srv.Router()
	ctx := context.Background()

	rec := doRequest(t, h, http.MethodGet, "/trigger-daily-sync", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/trigger-daily-sync", map[string]string{"X-Scheduler-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, b := range brands {
		for _, state := range []models.JobState{models.JobWaiting, models.JobDelayed} {
			ids, err := q.JobIDs(ctx, b.QueueName(), state)
			require.NoError(t, err)
			assert.Empty(t, ids, "rejected trigger must enqueue nothing")
		}
	}
}

func TestTriggerEnqueuesOneJobPerBrand(t *testing.T) {
	brands := testBrands(16)
	srv, q, _ := newTestServer(t, brands, nil)
	ctx := context.Background()

	rec := doRequest(t, srv.Router(), http.MethodPost, "/trigger-daily-sync", schedulerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Enqueued int               `json:"enqueued"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 16, body.Enqueued)
	assert.Empty(t, body.Failed)

	for _, b := range brands {
		ids, err := q.JobIDs(ctx, b.QueueName(), models.JobDelayed)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	}
}

func TestOrdersEnqueuesImmediateJobForDefaultBrand(t *testing.T) {
	brands := testBrands(2)
	srv, q, _ := newTestServer(t, brands, nil)
	ctx := context.Background()

	rec := doRequest(t, srv.Router(), http.MethodGet, "/orders", schedulerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	ids, err := q.JobIDs(ctx, brands[0].QueueName(), models.JobWaiting)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestOrdersUnknownBrand(t *testing.T) {
	srv, _, _ := newTestServer(t, testBrands(1), nil)

	rec := doRequest(t, srv.Router(), http.MethodGet, "/orders?brand=nope", schedulerHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRequiresOperatorKey(t *testing.T) {
	srv, _, _ := newTestServer(t, testBrands(1), nil)
	h := srv.Router()

	for _, path := range []string{
		"/admin/pause-queue", "/admin/resume-queue", "/admin/remove-job",
		"/admin/stop-all-jobs", "/admin/flush-redis", "/admin/export-report",
	} {
		rec := doRequest(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)

		rec = doRequest(t, h, http.MethodGet, path, schedulerHeaders())
		assert.Equal(t, http.StatusForbidden, rec.Code, "scheduler key must not open admin: %s", path)
	}
}

func TestPauseAndResumeAllQueues(t *testing.T) {
	brands := testBrands(3)
	srv, q, _ := newTestServer(t, brands, nil)
	h := srv.Router()
	ctx := context.Background()

	rec := doRequest(t, h, http.MethodGet, "/admin/pause-queue", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	for _, b := range brands {
		paused, err := q.IsPaused(ctx, b.QueueName())
		require.NoError(t, err)
		assert.True(t, paused)
	}

	rec = doRequest(t, h, http.MethodGet, "/admin/resume-queue", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	for _, b := range brands {
		paused, err := q.IsPaused(ctx, b.QueueName())
		require.NoError(t, err)
		assert.False(t, paused)
	}
}

func TestRemoveJob(t *testing.T) {
	brands := testBrands(1)
	srv, q, _ := newTestServer(t, brands, nil)
	h := srv.Router()
	ctx := context.Background()

	rec := doRequest(t, h, http.MethodGet, "/admin/remove-job", adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/admin/remove-job?jobId=ghost", adminHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	job := models.Job{
		Queue:    brands[0].QueueName(),
		Name:     dispatcher.JobName,
		ID:       "job-1",
		Attempts: 5,
		Delay:    time.Hour,
	}
	require.NoError(t, q.Enqueue(ctx, job))

	rec = doRequest(t, h, http.MethodGet, "/admin/remove-job?jobId=job-1", adminHeaders())
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := q.GetJob(ctx, brands[0].QueueName(), "job-1")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestStopAllJobsIsIdempotent(t *testing.T) {
	brands := testBrands(4)
	srv, q, _ := newTestServer(t, brands, nil)
	h := srv.Router()
	ctx := context.Background()

	rec := doRequest(t, h, http.MethodPost, "/trigger-daily-sync", schedulerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 2; i++ {
		rec = doRequest(t, h, http.MethodGet, "/admin/stop-all-jobs", adminHeaders())
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i+1)
	}

	for _, b := range brands {
		paused, err := q.IsPaused(ctx, b.QueueName())
		require.NoError(t, err)
		assert.True(t, paused, "queues stay paused after stop")
		for _, state := range []models.JobState{models.JobWaiting, models.JobDelayed, models.JobActive} {
			ids, err := q.JobIDs(ctx, b.QueueName(), state)
			require.NoError(t, err)
			assert.Empty(t, ids)
		}
	}
}

func TestFlushRedisWipesStorage(t *testing.T) {
	brands := testBrands(2)
	srv, _, mr := newTestServer(t, brands, nil)
	h := srv.Router()

	rec := doRequest(t, h, http.MethodPost, "/trigger-daily-sync", schedulerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, mr.Keys())

	rec = doRequest(t, h, http.MethodGet, "/admin/flush-redis", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, mr.Keys())
}

func TestExportReport(t *testing.T) {
	runs := &fakeRuns{runs: []models.SyncRun{
		{Brand: "brand-00", JobID: "j1", StartedAt: time.Now(), FinishedAt: time.Now()},
	}}
	srv, _, _ := newTestServer(t, testBrands(1), runs)
	h := srv.Router()

	rec := doRequest(t, h, http.MethodGet, "/admin/export-report?date=bogus", adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/admin/export-report?date=2026-02-01", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Path     string `json:"path"`
		Runs     int    `json:"runs"`
		Mirrored bool   `json:"mirrored"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Runs)
	assert.NotEmpty(t, body.Path)
	assert.False(t, body.Mirrored)
}
