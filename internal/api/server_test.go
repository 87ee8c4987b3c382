package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/cluster"
	"github.com/scangrid-io/scangrid/internal/grid"
	"github.com/scangrid-io/scangrid/internal/report"
	"github.com/scangrid-io/scangrid/internal/scheduler"
	memorystore "github.com/scangrid-io/scangrid/internal/store/memory"
	"github.com/scangrid-io/scangrid/internal/worker"
)

type stubNavigator struct{}

func (stubNavigator) Navigate(_ context.Context, req grid.NavigateRequest) (grid.PageResult, error) {
	return grid.PageResult{StatusCode: 200, FinalURL: req.URL}, nil
}

func (stubNavigator) Close() error { return nil }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) bool { return true }

func newTestServer(t *testing.T) (*Server, *scheduler.Scheduler, *memorystore.Store) {
	t.Helper()

	w := worker.New("w-0", func() (grid.Navigator, error) {
		return stubNavigator{}, nil
	}, nil, worker.Config{}, zap.NewNop())
	cl := cluster.New(cluster.Config{NodeCount: 1, ShutdownGrace: time.Second},
		[]*worker.Worker{w}, zap.NewNop())
	require.NoError(t, cl.Initialize())
	t.Cleanup(func() { _ = cl.ShutdownAll(context.Background()) })

	st := memorystore.New()
	hub := report.NewHub(report.Config{MaxBatchWait: 10 * time.Millisecond, Logger: zap.NewNop()},
		report.NewStoreSink(st))
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentScans:         2,
		MaxScansPerDomainPerWindow: 100,
		DefaultDelay:               time.Millisecond,
	}, cl, allowAll{}, realClock{}, &seqIDs{}, hub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	return NewServer(sched, st, zap.NewNop()), sched, st
}

func submitBody(domains ...string) *bytes.Buffer {
	targets := make([]grid.ScanTarget, 0, len(domains))
	for _, d := range domains {
		targets = append(targets, grid.ScanTarget{
			Domain:    d,
			URL:       "https://" + d + "/",
			Priority:  grid.PriorityHigh,
			Frequency: grid.FrequencyDaily,
		})
	}
	body, _ := json.Marshal(map[string]any{"targets": targets})
	return bytes.NewBuffer(body)
}

func TestSubmitScan(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scans", submitBody("a.com", "b.com"))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		JobIDs []string `json:"job_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.JobIDs, 2)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmitScanRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scans", bytes.NewBufferString("{not json"))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitScanRejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scans", bytes.NewBufferString(`{"targets":[]}`))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitScanRejectsInvalidTarget(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	body := `{"targets":[{"domain":"a.com","url":"https://a.com/","priority":"bogus","scan_frequency":"daily"}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scans", bytes.NewBufferString(body))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	srv, sched, _ := newTestServer(t)

	ids, err := sched.ScheduleGlobalScan([]grid.ScanTarget{{
		Domain: "a.com", URL: "https://a.com/",
		Priority: grid.PriorityHigh, Frequency: grid.FrequencyDaily,
	}})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Wait(waitCtx))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+ids[0], nil)
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Job grid.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, grid.JobStatusCompleted, resp.Job.Status)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOutcome(t *testing.T) {
	t.Parallel()

	srv, sched, st := newTestServer(t)

	ids, err := sched.ScheduleGlobalScan([]grid.ScanTarget{{
		Domain: "a.com", URL: "https://a.com/",
		Priority: grid.PriorityHigh, Frequency: grid.FrequencyDaily,
	}})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sched.Wait(waitCtx))

	// The hub flushes asynchronously after the job turns terminal.
	require.Eventually(t, func() bool {
		_, err := st.Get(context.Background(), ids[0])
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+ids[0]+"/outcome", nil)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Outcome grid.Outcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, grid.JobStatusCompleted, resp.Outcome.Status)
}

func TestStatsAndHealth(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/stats", "/v1/jobs/"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scangrid_")
}
