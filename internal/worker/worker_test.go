package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/grid"
)

type fakeNavigator struct {
	page    grid.PageResult
	err     error
	block   chan struct{}
	closed  atomic.Int32
	navOnce atomic.Int32
}

func (f *fakeNavigator) Navigate(ctx context.Context, _ grid.NavigateRequest) (grid.PageResult, error) {
	f.navOnce.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return grid.PageResult{}, ctx.Err()
		}
	}
	return f.page, f.err
}

func (f *fakeNavigator) Close() error {
	f.closed.Add(1)
	return nil
}

func testJob() *grid.Job {
	return &grid.Job{
		ID: "job-1",
		Target: grid.ScanTarget{
			Domain:    "example.com",
			URL:       "https://example.com/",
			Priority:  grid.PriorityHigh,
			Frequency: grid.FrequencyDaily,
		},
		Status: grid.JobStatusPending,
	}
}

func readyWorker(t *testing.T, nav grid.Navigator, cfg Config) *Worker {
	t.Helper()
	w := New("w-1", func() (grid.Navigator, error) { return nav, nil }, nil, cfg, zap.NewNop())
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return w
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{page: grid.PageResult{
		StatusCode: 200,
		FinalURL:   "https://example.com/",
		Content:    []byte("<html></html>"),
		Duration:   time.Second,
	}}
	w := readyWorker(t, nav, Config{})

	result, err := w.Execute(context.Background(), testJob())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.StatusCode != 200 || result.FinalURL != "https://example.com/" {
		t.Fatalf("result = %+v", result)
	}
	if w.State() != StateReady {
		t.Fatalf("worker should return to ready, got %s", w.State())
	}
}

func TestExecuteClassifiesNavigationError(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{err: errors.New("connection refused")}
	w := readyWorker(t, nav, Config{})

	_, err := w.Execute(context.Background(), testJob())
	var scanErr *grid.ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected *grid.ScanError, got %T", err)
	}
	if scanErr.Kind != grid.KindNavigation {
		t.Fatalf("kind = %s, want %s", scanErr.Kind, grid.KindNavigation)
	}
}

func TestExecuteClassifiesTimeout(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{err: context.DeadlineExceeded}
	w := readyWorker(t, nav, Config{})

	_, err := w.Execute(context.Background(), testJob())
	var scanErr *grid.ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected *grid.ScanError, got %T", err)
	}
	if scanErr.Kind != grid.KindNavigationTimeout {
		t.Fatalf("kind = %s, want %s", scanErr.Kind, grid.KindNavigationTimeout)
	}
}

func TestExecuteWatchdogReinitializesSession(t *testing.T) {
	t.Parallel()

	hung := &fakeNavigator{block: make(chan struct{})}
	factoryCalls := atomic.Int32{}
	w := New("w-1", func() (grid.Navigator, error) {
		factoryCalls.Add(1)
		if factoryCalls.Load() == 1 {
			return hung, nil
		}
		return &fakeNavigator{}, nil
	}, nil, Config{
		NavTimeout:    20 * time.Millisecond,
		SetupBuffer:   10 * time.Millisecond,
		WatchdogGrace: 20 * time.Millisecond,
	}, zap.NewNop())
	if err := w.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err := w.Execute(context.Background(), testJob())
	var scanErr *grid.ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected *grid.ScanError, got %T", err)
	}
	if scanErr.Kind != grid.KindNavigationTimeout {
		t.Fatalf("kind = %s, want %s", scanErr.Kind, grid.KindNavigationTimeout)
	}
	if hung.closed.Load() == 0 {
		t.Fatal("watchdog should close the hung session")
	}
	if factoryCalls.Load() != 2 {
		t.Fatalf("factory should be called again on reinit, calls = %d", factoryCalls.Load())
	}
	if w.State() != StateReady {
		t.Fatalf("worker should be ready after reinit, got %s", w.State())
	}
}

func TestExecuteSurvivesNavigatorPanic(t *testing.T) {
	t.Parallel()

	w := readyWorker(t, panicNavigator{}, Config{})

	_, err := w.Execute(context.Background(), testJob())
	var scanErr *grid.ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected *grid.ScanError, got %T", err)
	}
	if w.State() != StateReady {
		t.Fatalf("worker should recover to ready, got %s", w.State())
	}
}

type panicNavigator struct{}

func (panicNavigator) Navigate(context.Context, grid.NavigateRequest) (grid.PageResult, error) {
	panic("renderer crashed")
}

func (panicNavigator) Close() error { return nil }

func TestInitializeFailureKind(t *testing.T) {
	t.Parallel()

	w := New("w-1", func() (grid.Navigator, error) {
		return nil, errors.New("chrome not found")
	}, nil, Config{}, zap.NewNop())

	err := w.Initialize()
	var scanErr *grid.ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected *grid.ScanError, got %T", err)
	}
	if scanErr.Kind != grid.KindWorkerInit {
		t.Fatalf("kind = %s, want %s", scanErr.Kind, grid.KindWorkerInit)
	}
	if w.State() != StateUninitialized {
		t.Fatalf("state = %s, want %s", w.State(), StateUninitialized)
	}
}

func TestExecuteRequiresReadyState(t *testing.T) {
	t.Parallel()

	w := New("w-1", func() (grid.Navigator, error) { return &fakeNavigator{}, nil }, nil, Config{}, zap.NewNop())

	_, err := w.Execute(context.Background(), testJob())
	var scanErr *grid.ScanError
	if !errors.As(err, &scanErr) || scanErr.Kind != grid.KindWorkerInit {
		t.Fatalf("uninitialized worker should fail with %s, got %v", grid.KindWorkerInit, err)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{}
	w := readyWorker(t, nav, Config{})

	w.Shutdown()
	w.Shutdown()

	if nav.closed.Load() != 1 {
		t.Fatalf("navigator closed %d times, want 1", nav.closed.Load())
	}
	if w.State() != StateShutdown {
		t.Fatalf("state = %s, want %s", w.State(), StateShutdown)
	}
}

func TestBuildRequestUsesProxySource(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{page: grid.PageResult{StatusCode: 200}}
	src := staticProxy{cfg: grid.ProxyConfig{Host: "proxy.local", Port: 3128}}
	w := New("w-1", func() (grid.Navigator, error) { return nav, nil }, src,
		Config{NavTimeout: time.Second, SetupBuffer: time.Second}, zap.NewNop())

	req := w.buildRequest(testJob())
	if req.Proxy == nil || req.Proxy.Host != "proxy.local" {
		t.Fatalf("request proxy = %+v", req.Proxy)
	}
	if req.Timeout != 2*time.Second {
		t.Fatalf("timeout = %v, want 2s", req.Timeout)
	}
}

type staticProxy struct {
	cfg grid.ProxyConfig
}

func (s staticProxy) Next() (grid.ProxyConfig, bool) { return s.cfg, true }
