// Package report fans terminal job outcomes out to registered sinks. This is
// the stream callers observe; every terminal job is emitted exactly once by
// the scheduler.
package report

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/grid"
)

// Sink consumes batches of terminal outcomes.
type Sink interface {
	Consume(ctx context.Context, outcomes []grid.Outcome) error
	Close(ctx context.Context) error
}

// Config controls hub buffering and batching.
type Config struct {
	BufferSize   int
	MaxBatch     int
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	Logger       *zap.Logger
}

const (
	defaultBufferSize = 1024
	defaultMaxBatch   = 100
	defaultBatchWait  = 250 * time.Millisecond
	defaultSinkWait   = 10 * time.Second
)

// Hub buffers outcomes and flushes them to sinks in batches. Emit never
// blocks the dispatch loop; under backpressure outcomes are dropped with a
// warning rather than stalling scans.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan grid.Outcome
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
}

// NewHub starts the background flush goroutine over the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkWait
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan grid.Outcome, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.run()
	return h
}

// Emit enqueues an outcome for delivery. Never blocks.
func (h *Hub) Emit(o grid.Outcome) {
	if h == nil || h.closed.Load() {
		return
	}
	select {
	case h.events <- o:
	default:
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			h.logger.Warn("outcome reports dropped under backpressure", zap.Int64("dropped", n))
		}
	}
}

// Close drains buffered outcomes, flushes sinks, and waits for the background
// goroutine. Safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("report hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]grid.Outcome, 0, h.cfg.MaxBatch)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()
	for {
		select {
		case o := <-h.events:
			batch = append(batch, o)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			batch = h.drain(batch)
			if len(batch) > 0 {
				h.flush(batch)
			}
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(batch []grid.Outcome) []grid.Outcome {
	for {
		select {
		case o := <-h.events:
			batch = append(batch, o)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

func (h *Hub) flush(batch []grid.Outcome) {
	snapshot := append([]grid.Outcome(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			h.logger.Warn("report sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
	defer cancel()
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("report sink close failed", zap.Error(err))
		}
	}
}
