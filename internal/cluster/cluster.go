// Package cluster owns the fixed worker pool and aggregate statistics.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/grid"
	"github.com/scangrid-io/scangrid/internal/worker"
)

// Config controls pool construction and shutdown behavior.
type Config struct {
	// NodeCount is the number of workers created at Initialize.
	NodeCount int
	// ShutdownGrace bounds how long ShutdownAll waits for in-flight jobs
	// before forcing worker teardown. Defaults to 30s.
	ShutdownGrace time.Duration
}

// ErrNoLiveWorkers marks a cluster whose every worker has been dropped from
// rotation.
var ErrNoLiveWorkers = errors.New("no live workers in cluster")

// Manager owns the worker pool. Idle workers live in a buffered channel that
// the dispatcher pops atomically, so two dispatches can never claim the same
// worker.
type Manager struct {
	cfg     Config
	logger  *zap.Logger
	workers []*worker.Worker
	idle    chan *worker.Worker
	drained chan struct{}

	mu        sync.Mutex
	live      int
	completed int
	failed    int
	totalDur  time.Duration
	durCount  int

	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs a Manager over pre-built workers. Call Initialize before
// acquiring.
func New(cfg Config, workers []*worker.Worker, logger *zap.Logger) *Manager {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		workers: workers,
	}
}

// Initialize starts every worker session. Workers that fail to initialize are
// logged and excluded; the cluster degrades gracefully as long as at least
// one worker comes up.
func (m *Manager) Initialize() error {
	alive := make([]*worker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		if err := w.Initialize(); err != nil {
			m.logger.Error("worker failed to initialize; excluding from pool",
				zap.String("worker_id", w.ID()), zap.Error(err))
			continue
		}
		alive = append(alive, w)
	}
	if len(alive) == 0 {
		return fmt.Errorf("cluster init: none of %d workers initialized", len(m.workers))
	}
	if len(alive) < len(m.workers) {
		m.logger.Warn("cluster running degraded",
			zap.Int("requested", len(m.workers)), zap.Int("alive", len(alive)))
	}
	m.workers = alive
	m.live = len(alive)
	m.idle = make(chan *worker.Worker, len(alive))
	m.drained = make(chan struct{})
	for _, w := range alive {
		m.idle <- w
	}
	return nil
}

// Acquire pops an idle worker, blocking until one frees up or ctx finishes.
func (m *Manager) Acquire(ctx context.Context) (*worker.Worker, error) {
	select {
	case w := <-m.idle:
		return w, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire worker: %w", ctx.Err())
	}
}

// TryAcquire pops an idle worker without blocking. ok is false when every
// worker is busy; the dispatch loop waits for a completion instead of
// treating exhaustion as an error.
func (m *Manager) TryAcquire() (*worker.Worker, bool) {
	select {
	case w := <-m.idle:
		return w, true
	default:
		return nil, false
	}
}

// Release returns a worker to the idle set. A worker whose session could not
// be rebuilt is dropped from rotation instead; when the last one goes the
// drained channel closes so the scheduler can fail whatever is still queued.
func (m *Manager) Release(w *worker.Worker) {
	if w.State() != worker.StateReady {
		m.logger.Warn("worker not ready at release; dropping from pool",
			zap.String("worker_id", w.ID()), zap.String("state", string(w.State())))
		w.Shutdown()
		m.mu.Lock()
		m.live--
		empty := m.live == 0
		m.mu.Unlock()
		if empty {
			m.logger.Error("worker pool drained", zap.Error(ErrNoLiveWorkers))
			close(m.drained)
		}
		return
	}
	select {
	case m.idle <- w:
	default:
		// Channel sized to the pool; a second release of the same worker is
		// a programming error worth surfacing.
		m.logger.Error("idle pool overflow on release", zap.String("worker_id", w.ID()))
	}
}

// Drained is closed once every worker has been dropped from rotation. Nil
// before Initialize.
func (m *Manager) Drained() <-chan struct{} {
	return m.drained
}

// Size reports the number of workers still in rotation.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// RecordOutcome folds a terminal job outcome into the aggregate counters.
func (m *Manager) RecordOutcome(o grid.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch o.Status {
	case grid.JobStatusCompleted:
		m.completed++
	case grid.JobStatusFailed:
		m.failed++
	}
	if o.StartedAt != nil && o.EndedAt != nil {
		m.totalDur += o.EndedAt.Sub(*o.StartedAt)
		m.durCount++
	}
}

// Stats derives the aggregate view. Queue length and running count are owned
// by the scheduler and passed through.
func (m *Manager) Stats(queueLength, runningCount int) grid.ClusterStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := grid.ClusterStats{
		QueueLength:    queueLength,
		RunningCount:   runningCount,
		CompletedCount: m.completed,
		FailedCount:    m.failed,
	}
	if m.durCount > 0 {
		stats.AverageDurationMs = float64(m.totalDur.Milliseconds()) / float64(m.durCount)
	}
	return stats
}

// ShutdownAll waits for in-flight jobs up to the grace period, then shuts
// down every worker. Idempotent: the second call returns the first result.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdownAll(ctx)
	})
	return m.shutdownErr
}

func (m *Manager) shutdownAll(ctx context.Context) error {
	grace, cancel := context.WithTimeout(ctx, m.cfg.ShutdownGrace)
	defer cancel()

	// Drain the idle set; workers still busy are given the grace period to
	// finish before being torn down mid-flight. Dropped workers never come
	// back to idle, so only the live count is waited on.
	target := m.Size()
	reclaimed := 0
	for reclaimed < target {
		select {
		case <-m.idle:
			reclaimed++
		case <-grace.Done():
			m.logger.Warn("shutdown grace expired; forcing teardown",
				zap.Int("reclaimed", reclaimed), zap.Int("total", target))
			reclaimed = target
		}
	}
	for _, w := range m.workers {
		w.Shutdown()
	}
	m.logger.Info("cluster shut down", zap.Int("workers", len(m.workers)))
	return nil
}
