// Package scheduler coordinates job build-up, admission, dispatch, and retry
// across the worker cluster.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/cluster"
	"github.com/scangrid-io/scangrid/internal/grid"
	"github.com/scangrid-io/scangrid/internal/metrics"
	"github.com/scangrid-io/scangrid/internal/queue"
	"github.com/scangrid-io/scangrid/internal/ratelimit"
	"github.com/scangrid-io/scangrid/internal/report"
	"github.com/scangrid-io/scangrid/internal/worker"
)

// minDeferWake floors the rate-limit wake-up so a zero-delay deferral still
// yields the loop instead of spinning.
const minDeferWake = 10 * time.Millisecond

// Config holds the recognized scheduler options.
type Config struct {
	MaxConcurrentScans         int
	MaxScansPerDomainPerWindow int
	DefaultDelay               time.Duration
	Window                     time.Duration
	MaxRetries                 int
	RespectRobotsTxt           bool
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentScans <= 0 {
		c.MaxConcurrentScans = 4
	}
	if c.MaxScansPerDomainPerWindow <= 0 {
		c.MaxScansPerDomainPerWindow = 10
	}
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

type execResult struct {
	job    *grid.Job
	worker *worker.Worker
	result *grid.Result
	err    error
}

// Scheduler owns the job queue, the rate limiter, and the job table. All
// three mutate only inside the coordinating Run goroutine or behind the job
// table mutex; workers report back over the results channel.
type Scheduler struct {
	cfg     Config
	queue   *queue.Queue
	limiter *ratelimit.Limiter
	cluster *cluster.Manager
	robots  grid.RobotsPolicy
	clock   grid.Clock
	ids     grid.IDGenerator
	hub     *report.Hub
	backoff *Backoff
	logger  *zap.Logger

	results chan execResult

	mu      sync.Mutex
	jobs    map[string]*grid.Job
	running int
	pending sync.WaitGroup

	// Run-goroutine-only state: set once the cluster reports zero live
	// workers, after which every non-terminal job is failed instead of
	// queued forever.
	drained bool

	// Deferral timer state is touched only by the Run goroutine.
	deferTimer *time.Timer
	deferArmed bool
	deferAt    time.Time
}

// New constructs a Scheduler.
func New(
	cfg Config,
	cl *cluster.Manager,
	robots grid.RobotsPolicy,
	clock grid.Clock,
	ids grid.IDGenerator,
	hub *report.Hub,
	logger *zap.Logger,
) *Scheduler {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := ratelimit.New(ratelimit.Config{
		MaxScansPerWindow: cfg.MaxScansPerDomainPerWindow,
		MinDelay:          cfg.DefaultDelay,
		Window:            cfg.Window,
	}, clock)
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	metrics.Init()
	return &Scheduler{
		cfg:        cfg,
		queue:      queue.New(),
		limiter:    limiter,
		cluster:    cl,
		robots:     robots,
		clock:      clock,
		ids:        ids,
		hub:        hub,
		backoff:    NewBackoff(),
		logger:     logger,
		results:    make(chan execResult, cfg.MaxConcurrentScans),
		jobs:       make(map[string]*grid.Job),
		deferTimer: timer,
	}
}

// ScheduleGlobalScan validates targets, builds one Job per target, and
// inserts them in dispatch order. Returns the job IDs in submission order.
// Nothing is scheduled when any target is invalid.
func (s *Scheduler) ScheduleGlobalScan(targets []grid.ScanTarget) ([]string, error) {
	for i, target := range targets {
		if err := target.Validate(); err != nil {
			return nil, fmt.Errorf("target %d (%s): %w", i, target.Domain, err)
		}
	}
	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("new job id: %w", err)
		}
		job := &grid.Job{
			ID:     id,
			Target: target,
			Status: grid.JobStatusPending,
		}
		s.mu.Lock()
		s.jobs[id] = job
		s.mu.Unlock()
		s.pending.Add(1)
		s.queue.Push(job)
		ids = append(ids, id)
	}
	s.logger.Info("scheduled global scan", zap.Int("targets", len(targets)))
	return ids, nil
}

// Run is the dispatch loop. It blocks until ctx finishes. It never crashes
// on a single job's failure; every per-job error is captured and recorded.
func (s *Scheduler) Run(ctx context.Context) {
	drainedCh := s.cluster.Drained()
	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case res := <-s.results:
			s.handleResult(res)
		case <-drainedCh:
			drainedCh = nil
			s.drained = true
			s.logger.Error("worker pool drained; failing pending jobs")
		case <-s.queue.Wake():
		case <-s.deferTimer.C:
			s.deferArmed = false
		}
	}
}

// dispatch fills free capacity from the queue head. One pass touches each
// queued job at most once so a rate-limited head cannot spin the loop.
func (s *Scheduler) dispatch(ctx context.Context) {
	if s.drained {
		s.failPending()
		return
	}
	for attempts := s.queue.Len(); attempts > 0; attempts-- {
		if ctx.Err() != nil {
			return
		}
		if s.runningCount() >= s.cfg.MaxConcurrentScans {
			return
		}
		job, ok := s.queue.Pop()
		if !ok {
			return
		}
		// Worker first, admission second: the domain's window budget is
		// only charged for a scan that actually runs.
		w, ok := s.cluster.TryAcquire()
		if !ok {
			// Cluster exhausted: put the job back in order and wait for a
			// completion to free a worker.
			s.queue.Push(job)
			return
		}
		domain := job.Target.NormalizedDomain()
		if !s.limiter.TryAdmit(domain) {
			// Tail requeue keeps a throttled domain from blocking others.
			s.cluster.Release(w)
			metrics.RateLimitDeferred(domain)
			s.queue.PushTail(job)
			s.armDeferWake(s.limiter.RetryAfter(domain))
			continue
		}
		if s.cfg.RespectRobotsTxt && !s.robots.Allowed(ctx, job.Target.URL) {
			s.cluster.Release(w)
			s.finalize(job, nil, grid.NewScanError(grid.KindRobotsDisallowed, grid.ErrRobotsDisallowed))
			continue
		}
		s.markRunning(job, w)
		go s.execute(ctx, w, job)
	}
}

// failPending terminates every job still waiting on a worker once the pool
// has drained. Retries sitting out a backoff delay are failed in place; when
// their timer later requeues them they pop already-terminal and are skipped.
func (s *Scheduler) failPending() {
	for {
		job, ok := s.queue.Pop()
		if !ok {
			break
		}
		if job.Status != grid.JobStatusPending {
			continue
		}
		s.finalize(job, nil, grid.NewScanError(grid.KindWorkerInit, cluster.ErrNoLiveWorkers))
	}

	s.mu.Lock()
	stale := make([]*grid.Job, 0)
	for _, job := range s.jobs {
		if job.Status == grid.JobStatusPending {
			stale = append(stale, job)
		}
	}
	s.mu.Unlock()
	for _, job := range stale {
		s.finalize(job, nil, grid.NewScanError(grid.KindWorkerInit, cluster.ErrNoLiveWorkers))
	}
}

func (s *Scheduler) execute(ctx context.Context, w *worker.Worker, job *grid.Job) {
	result, err := w.Execute(ctx, job)
	s.results <- execResult{job: job, worker: w, result: result, err: err}
}

func (s *Scheduler) handleResult(res execResult) {
	s.cluster.Release(res.worker)

	s.mu.Lock()
	s.running--
	running := s.running
	s.mu.Unlock()
	metrics.SetRunningJobs(running)

	job := res.job
	if res.err == nil {
		s.finalize(job, res.result, nil)
		return
	}

	scanErr := grid.Classify(res.err)
	if scanErr.Retryable() && job.RetryCount < s.cfg.MaxRetries {
		s.retry(job, scanErr)
		return
	}
	s.finalize(job, nil, scanErr)
}

func (s *Scheduler) retry(job *grid.Job, scanErr *grid.ScanError) {
	s.mu.Lock()
	job.RetryCount++
	job.Status = grid.JobStatusPending
	job.AssignedWorkerID = ""
	job.StartedAt = nil
	job.EndedAt = nil
	attempt := job.RetryCount
	s.mu.Unlock()

	metrics.RetryScheduled()
	s.logger.Debug("retrying job",
		zap.String("job_id", job.ID),
		zap.Int("attempt", attempt),
		zap.String("error_kind", string(scanErr.Kind)))

	delay := s.backoff.Delay(attempt)
	if delay <= 0 {
		s.queue.PushTail(job)
		return
	}
	time.AfterFunc(delay, func() {
		s.queue.PushTail(job)
	})
}

func (s *Scheduler) markRunning(job *grid.Job, w *worker.Worker) {
	now := s.clock.Now()
	s.mu.Lock()
	job.Status = grid.JobStatusRunning
	job.AssignedWorkerID = w.ID()
	job.StartedAt = &now
	s.running++
	running := s.running
	s.mu.Unlock()
	metrics.SetRunningJobs(running)
}

func (s *Scheduler) finalize(job *grid.Job, result *grid.Result, scanErr *grid.ScanError) {
	now := s.clock.Now()
	s.mu.Lock()
	job.EndedAt = &now
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	if scanErr != nil {
		job.Status = grid.JobStatusFailed
		job.Err = scanErr
	} else {
		job.Status = grid.JobStatusCompleted
		job.Result = result
	}
	outcome := grid.OutcomeFromJob(job)
	s.mu.Unlock()

	s.cluster.RecordOutcome(outcome)
	s.hub.Emit(outcome)
	s.pending.Done()
}

// Wait blocks until every scheduled job has reached a terminal status.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(id string) (grid.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return grid.Job{}, false
	}
	return *job, true
}

// Jobs returns snapshots of every known job.
func (s *Scheduler) Jobs() []grid.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]grid.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// Stats derives the aggregate cluster view.
func (s *Scheduler) Stats() grid.ClusterStats {
	return s.cluster.Stats(s.queue.Len(), s.runningCount())
}

func (s *Scheduler) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// armDeferWake schedules the loop to revisit deferred jobs. Keeps the
// earliest pending wake-up.
func (s *Scheduler) armDeferWake(after time.Duration) {
	if after < minDeferWake {
		after = minDeferWake
	}
	at := s.clock.Now().Add(after)
	if s.deferArmed && s.deferAt.Before(at) {
		return
	}
	if !s.deferTimer.Stop() {
		select {
		case <-s.deferTimer.C:
		default:
		}
	}
	s.deferTimer.Reset(after)
	s.deferArmed = true
	s.deferAt = at
}
