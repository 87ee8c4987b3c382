package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/grid"
	"github.com/scangrid-io/scangrid/internal/metrics"
	"github.com/scangrid-io/scangrid/internal/store"
)

// LogSink writes one structured log line per terminal outcome.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Consume implements Sink.
func (s *LogSink) Consume(_ context.Context, outcomes []grid.Outcome) error {
	for _, o := range outcomes {
		fields := []zap.Field{
			zap.String("job_id", o.JobID),
			zap.String("domain", o.Domain),
			zap.String("status", string(o.Status)),
			zap.Int("retries", o.RetryCount),
		}
		if o.Status == grid.JobStatusFailed {
			fields = append(fields,
				zap.String("error_kind", string(o.ErrorKind)),
				zap.String("error", o.ErrorText))
			s.logger.Warn("scan failed", fields...)
			continue
		}
		s.logger.Info("scan completed", fields...)
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error { return nil }

// StoreSink persists outcomes into an outcome store.
type StoreSink struct {
	store store.Store
}

// NewStoreSink builds a StoreSink.
func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{store: st}
}

// Consume implements Sink.
func (s *StoreSink) Consume(ctx context.Context, outcomes []grid.Outcome) error {
	for _, o := range outcomes {
		if err := s.store.Record(ctx, o); err != nil {
			return fmt.Errorf("record outcome %s: %w", o.JobID, err)
		}
	}
	return nil
}

// Close implements Sink.
func (s *StoreSink) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

// MetricsSink folds outcomes into the Prometheus collectors.
type MetricsSink struct{}

// NewMetricsSink builds a MetricsSink.
func NewMetricsSink() *MetricsSink {
	metrics.Init()
	return &MetricsSink{}
}

// Consume implements Sink.
func (MetricsSink) Consume(_ context.Context, outcomes []grid.Outcome) error {
	for _, o := range outcomes {
		metrics.JobFinished(string(o.Status), string(o.ErrorKind))
		if o.Result != nil {
			metrics.ObserveScanDuration(o.Result.Duration)
		}
	}
	return nil
}

// Close implements Sink.
func (MetricsSink) Close(context.Context) error { return nil }

// PublisherSink pushes outcomes to an external topic.
type PublisherSink struct {
	publisher grid.Publisher
	topic     string
}

// NewPublisherSink builds a PublisherSink.
func NewPublisherSink(pub grid.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: pub, topic: topic}
}

// Consume implements Sink.
func (s *PublisherSink) Consume(ctx context.Context, outcomes []grid.Outcome) error {
	for _, o := range outcomes {
		if _, err := s.publisher.Publish(ctx, s.topic, o); err != nil {
			return fmt.Errorf("publish outcome %s: %w", o.JobID, err)
		}
	}
	return nil
}

// Close implements Sink.
func (s *PublisherSink) Close(context.Context) error {
	return s.publisher.Close()
}
