// Package worker implements the crawl node: one browser session, one job at
// a time.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/grid"
	"github.com/scangrid-io/scangrid/internal/metrics"
)

// State is the worker lifecycle position.
type State string

// Worker states.
const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateBusy          State = "busy"
	StateShutdown      State = "shutdown"
)

// SessionFactory acquires a fresh browser-automation session. Called at
// Initialize and again when the watchdog force-terminates a hung session.
type SessionFactory func() (grid.Navigator, error)

// Config controls Worker behavior.
type Config struct {
	// NavTimeout bounds a single navigation. Defaults to 30s.
	NavTimeout time.Duration
	// SetupBuffer covers per-call network and browser setup overhead on top
	// of NavTimeout. Defaults to 5s.
	SetupBuffer time.Duration
	// WatchdogGrace is how long past the navigation deadline the worker
	// waits before force-terminating the session. Defaults to 10s.
	WatchdogGrace time.Duration
	UserAgent     string
}

// Worker owns one Navigator session and executes exactly one job at a time.
type Worker struct {
	id      string
	factory SessionFactory
	proxies grid.ProxySource
	cfg     Config
	logger  *zap.Logger

	mu    sync.Mutex
	state State
	nav   grid.Navigator
}

// New constructs a Worker in the uninitialized state.
func New(
	id string,
	factory SessionFactory,
	proxies grid.ProxySource,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.SetupBuffer <= 0 {
		cfg.SetupBuffer = 5 * time.Second
	}
	if cfg.WatchdogGrace <= 0 {
		cfg.WatchdogGrace = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		factory: factory,
		proxies: proxies,
		cfg:     cfg,
		logger:  logger.With(zap.String("worker_id", id)),
		state:   StateUninitialized,
	}
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.id
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Busy reports whether a job is currently executing.
func (w *Worker) Busy() bool {
	return w.State() == StateBusy
}

// Initialize acquires the browser session. Failure is fatal for this worker
// and reported to the cluster manager, not retried here.
func (w *Worker) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateReady || w.state == StateBusy {
		return nil
	}
	nav, err := w.factory()
	if err != nil {
		w.state = StateUninitialized
		return grid.NewScanError(grid.KindWorkerInit, fmt.Errorf("worker %s: %w", w.id, err))
	}
	w.nav = nav
	w.state = StateReady
	return nil
}

type navOutcome struct {
	page grid.PageResult
	err  error
}

// Execute runs one job's navigation and always produces a terminal outcome:
// either a Result or a classified *grid.ScanError. It never panics past the
// call, and per-call resources are released on both paths.
func (w *Worker) Execute(ctx context.Context, job *grid.Job) (*grid.Result, error) {
	nav, err := w.beginExecute()
	if err != nil {
		return nil, err
	}
	metrics.WorkerBusy(1)
	defer metrics.WorkerBusy(-1)
	defer w.endExecute()

	req := w.buildRequest(job)
	navCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outCh := make(chan navOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outCh <- navOutcome{err: fmt.Errorf("navigator panic: %v", r)}
			}
		}()
		page, navErr := nav.Navigate(navCtx, req)
		outCh <- navOutcome{page: page, err: navErr}
	}()

	watchdog := time.NewTimer(req.Timeout + w.cfg.WatchdogGrace)
	defer watchdog.Stop()

	select {
	case out := <-outCh:
		if out.err != nil {
			return nil, grid.Classify(out.err)
		}
		return &grid.Result{
			StatusCode: out.page.StatusCode,
			FinalURL:   out.page.FinalURL,
			Content:    out.page.Content,
			Signals:    out.page.Signals,
			Duration:   out.page.Duration,
		}, nil
	case <-watchdog.C:
		// The session ignored its deadline. Force-terminate and rebuild it
		// rather than leave the worker busy indefinitely.
		cancel()
		w.logger.Warn("navigation watchdog fired; reinitializing session",
			zap.String("job_id", job.ID), zap.String("url", job.Target.URL))
		w.reinitialize()
		return nil, grid.NewScanError(grid.KindNavigationTimeout,
			fmt.Errorf("navigation exceeded %s watchdog", req.Timeout+w.cfg.WatchdogGrace))
	case <-ctx.Done():
		cancel()
		return nil, grid.Classify(ctx.Err())
	}
}

// Shutdown releases the browser session entirely. Calling it twice is a
// no-op.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateShutdown {
		return
	}
	if w.nav != nil {
		if err := w.nav.Close(); err != nil {
			w.logger.Warn("navigator close failed", zap.Error(err))
		}
		w.nav = nil
	}
	w.state = StateShutdown
}

func (w *Worker) beginExecute() (grid.Navigator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateReady {
		return nil, grid.NewScanError(grid.KindWorkerInit,
			fmt.Errorf("worker %s is %s, not ready", w.id, w.state))
	}
	w.state = StateBusy
	return w.nav, nil
}

func (w *Worker) endExecute() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateBusy {
		w.state = StateReady
	}
}

func (w *Worker) buildRequest(job *grid.Job) grid.NavigateRequest {
	req := grid.NavigateRequest{
		URL:       job.Target.URL,
		UserAgent: w.cfg.UserAgent,
		Timeout:   w.cfg.NavTimeout + w.cfg.SetupBuffer,
	}
	if w.proxies != nil {
		if cfg, ok := w.proxies.Next(); ok {
			req.Proxy = &cfg
		}
	}
	return req
}

// reinitialize replaces a hung session. On failure the worker drops back to
// uninitialized and the cluster excludes it at release time.
func (w *Worker) reinitialize() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.nav != nil {
		if err := w.nav.Close(); err != nil {
			w.logger.Warn("closing hung session failed", zap.Error(err))
		}
		w.nav = nil
	}
	nav, err := w.factory()
	if err != nil {
		w.logger.Error("session reinitialization failed; worker out of service", zap.Error(err))
		w.state = StateUninitialized
		return
	}
	w.nav = nav
	// endExecute runs after reinitialize and flips busy back to ready.
}
