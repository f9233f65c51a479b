package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"go.uber.org/zap"
)

var (
	ErrSinkFull   = errors.New("metrics sink buffer is full")
	ErrSinkClosed = errors.New("metrics sink is closed")
)

type CalibrationRecord struct {
	Strategy      string
	PgusPerSecond float64
	PguPrice      float64
	Estimated     bool
	At            time.Time
}

type AlertRecord struct {
	Level    string
	Category string
	Message  string
	DeviceId *int
	RaisedAt time.Time
}

// IMetricsSink receives prover events for external reporting. Implementations must tolerate
// concurrent calls.
type IMetricsSink interface {
	PublishShardResult(ctx context.Context, result *types.ShardResult) error
	PublishWorkload(ctx context.Context, summary *WorkloadSummary) error
	PublishCalibration(ctx context.Context, record *CalibrationRecord) error
	PublishAlert(ctx context.Context, record *AlertRecord) error
}

// LoggingSink writes every event to the logger.
type LoggingSink struct {
	logger *zap.Logger
}

// NewLoggingSink creates a sink that writes every record to logger
func NewLoggingSink(logger *zap.Logger) *LoggingSink {
	return &LoggingSink{logger: logger}
}

func (l *LoggingSink) PublishShardResult(ctx context.Context, result *types.ShardResult) error {
	l.logger.Sugar().Infow("Shard result",
		zap.String("workloadId", result.WorkloadId),
		zap.Int("shardId", result.ShardId),
		zap.Int("deviceId", result.DeviceId),
		zap.String("range", result.Range.String()),
		zap.Uint64("cycles", result.Cycles),
		zap.Duration("processingTime", result.ProcessingTime),
		zap.Bool("succeeded", result.Succeeded()),
	)
	return nil
}

func (l *LoggingSink) PublishWorkload(ctx context.Context, summary *WorkloadSummary) error {
	fields := []interface{}{
		zap.String("workloadId", summary.WorkloadId),
		zap.String("mode", string(summary.Mode)),
		zap.Uint64("totalCycles", summary.TotalCycles),
		zap.Int("shards", len(summary.Results)),
		zap.Duration("processingTime", summary.ProcessingTime),
		zap.Bool("succeeded", summary.Succeeded),
		zap.Bool("deadlineMissed", summary.DeadlineMissed),
	}
	if summary.Err != nil {
		fields = append(fields, zap.Error(summary.Err))
	}
	l.logger.Sugar().Infow("Workload complete", fields...)
	return nil
}

func (l *LoggingSink) PublishCalibration(ctx context.Context, record *CalibrationRecord) error {
	l.logger.Sugar().Infow("Calibration result",
		zap.String("strategy", record.Strategy),
		zap.Float64("pgusPerSecond", record.PgusPerSecond),
		zap.Float64("pguPrice", record.PguPrice),
		zap.Bool("estimated", record.Estimated),
	)
	return nil
}

func (l *LoggingSink) PublishAlert(ctx context.Context, record *AlertRecord) error {
	fields := []interface{}{
		zap.String("level", record.Level),
		zap.String("category", record.Category),
		zap.String("message", record.Message),
	}
	if record.DeviceId != nil {
		fields = append(fields, zap.Int("deviceId", *record.DeviceId))
	}
	l.logger.Sugar().Warnw("Alert raised", fields...)
	return nil
}

type event func(ctx context.Context, sink IMetricsSink) error

// AsyncSink forwards events to another sink from a single background goroutine. Publishing never
// blocks: when the buffer is full the event is dropped and counted.
type AsyncSink struct {
	inner   IMetricsSink
	events  chan event
	dropped atomic.Uint64
	counter *Collectors
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts the forwarding goroutine. collectors may be nil. Close must be called to stop it.
func NewAsyncSink(inner IMetricsSink, bufferSize int, collectors *Collectors, logger *zap.Logger) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	s := &AsyncSink{
		inner:   inner,
		events:  make(chan event, bufferSize),
		counter: collectors,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	ctx := context.Background()
	for ev := range s.events {
		if err := ev(ctx, s.inner); err != nil {
			s.logger.Sugar().Warnw("Metrics sink failed to publish event", zap.Error(err))
		}
	}
}

func (s *AsyncSink) enqueue(ev event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.events <- ev:
		return nil
	default:
		s.dropped.Add(1)
		if s.counter != nil {
			s.counter.SinkDropped.Inc()
		}
		return ErrSinkFull
	}
}

func (s *AsyncSink) PublishShardResult(ctx context.Context, result *types.ShardResult) error {
	return s.enqueue(func(ctx context.Context, sink IMetricsSink) error {
		return sink.PublishShardResult(ctx, result)
	})
}

func (s *AsyncSink) PublishWorkload(ctx context.Context, summary *WorkloadSummary) error {
	return s.enqueue(func(ctx context.Context, sink IMetricsSink) error {
		return sink.PublishWorkload(ctx, summary)
	})
}

func (s *AsyncSink) PublishCalibration(ctx context.Context, record *CalibrationRecord) error {
	return s.enqueue(func(ctx context.Context, sink IMetricsSink) error {
		return sink.PublishCalibration(ctx, record)
	})
}

func (s *AsyncSink) PublishAlert(ctx context.Context, record *AlertRecord) error {
	return s.enqueue(func(ctx context.Context, sink IMetricsSink) error {
		return sink.PublishAlert(ctx, record)
	})
}

func (s *AsyncSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits for buffered ones to be delivered or ctx to end.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
