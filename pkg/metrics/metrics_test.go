package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func summary(id string, succeeded bool, took time.Duration, results ...*types.ShardResult) *WorkloadSummary {
	s := &WorkloadSummary{
		WorkloadId:     id,
		Mode:           types.AssuranceMode_Fast,
		Results:        results,
		ProcessingTime: took,
		Succeeded:      succeeded,
	}
	if !succeeded {
		s.Err = errors.New("shard 1 failed")
	}
	return s
}

func okShard(shardId, deviceId int, cycles uint64) *types.ShardResult {
	return &types.ShardResult{
		ShardId:        shardId,
		DeviceId:       deviceId,
		Cycles:         cycles,
		ProcessingTime: 50 * time.Millisecond,
		Artifact:       &types.ProofArtifact{},
	}
}

func failedShard(shardId, deviceId int) *types.ShardResult {
	return &types.ShardResult{ShardId: shardId, DeviceId: deviceId, Err: errors.New("device lost")}
}

func Test_ProverMetrics(t *testing.T) {
	t.Run("Should aggregate workloads", func(t *testing.T) {
		m := NewProverMetrics(nil)
		assert.Equal(t, float64(100), m.SuccessRate())

		m.RecordWorkload(summary("a", true, 2*time.Second, okShard(0, 0, 100), okShard(1, 1, 200)))
		m.RecordWorkload(summary("b", false, 4*time.Second, okShard(0, 0, 100), failedShard(1, 1)))
		deadline := summary("c", true, 3*time.Second, okShard(0, 0, 50))
		deadline.DeadlineMissed = true
		m.RecordWorkload(deadline)

		s := m.Snapshot()
		assert.Equal(t, uint64(3), s.WorkloadsProcessed)
		assert.Equal(t, uint64(1), s.WorkloadsFailed)
		assert.Equal(t, uint64(5), s.ShardsProcessed)
		assert.Equal(t, uint64(1), s.ShardsFailed)
		assert.Equal(t, uint64(450), s.CyclesProcessed)
		assert.Equal(t, 9*time.Second, s.TotalProcessingTime)
		assert.Equal(t, 3*time.Second, s.AverageLatency)
		assert.Equal(t, 2*time.Second, s.FastestWorkload)
		assert.Equal(t, 4*time.Second, s.SlowestWorkload)
		assert.Equal(t, uint64(1), s.DeadlineMisses)
		assert.Equal(t, uint64(1), s.Errors)
		assert.Equal(t, "shard 1 failed", s.LastError)
		assert.Equal(t, map[int]uint64{0: 3, 1: 2}, s.DeviceShards)
		assert.InDelta(t, 66.666, m.SuccessRate(), 0.01)
	})
	t.Run("Should hand out independent snapshots", func(t *testing.T) {
		m := NewProverMetrics(nil)
		m.RecordWorkload(summary("a", true, time.Second, okShard(0, 0, 1)))
		s := m.Snapshot()
		s.DeviceShards[0] = 99

		assert.Equal(t, uint64(1), m.Snapshot().DeviceShards[0])
	})
	t.Run("Should apply concurrent records atomically", func(t *testing.T) {
		m := NewProverMetrics(nil)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.RecordWorkload(summary("w", true, time.Millisecond, okShard(0, 0, 10), okShard(1, 1, 10)))
			}()
		}
		wg.Wait()

		s := m.Snapshot()
		assert.Equal(t, uint64(50), s.WorkloadsProcessed)
		assert.Equal(t, uint64(100), s.ShardsProcessed)
		assert.Equal(t, uint64(1000), s.CyclesProcessed)
	})
	t.Run("Should export prometheus series", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewProverMetrics(reg)

		m.RecordWorkload(summary("a", true, time.Second, okShard(0, 0, 100), okShard(1, 1, 200)))
		m.RecordWorkload(summary("b", false, time.Second, failedShard(0, 1)))
		m.ObserveInFlight(1, 3)
		m.ObserveCalibration(&CalibrationRecord{Strategy: "single", PgusPerSecond: 1000, PguPrice: 6.1e-8})
		m.ObserveAlert(&AlertRecord{Level: "warning", Category: "temperature"})

		c := m.Collectors()
		assert.Equal(t, float64(1), testutil.ToFloat64(c.WorkloadsTotal.WithLabelValues("success")))
		assert.Equal(t, float64(1), testutil.ToFloat64(c.WorkloadsTotal.WithLabelValues("failure")))
		assert.Equal(t, float64(1), testutil.ToFloat64(c.ShardsTotal.WithLabelValues("1", "failure")))
		assert.Equal(t, float64(300), testutil.ToFloat64(c.CyclesTotal))
		assert.Equal(t, float64(3), testutil.ToFloat64(c.InFlightShards.WithLabelValues("1")))
		assert.Equal(t, float64(1000), testutil.ToFloat64(c.CalibratedThroughput.WithLabelValues("single")))
		assert.Equal(t, float64(1), testutil.ToFloat64(c.AlertsTotal.WithLabelValues("warning", "temperature")))

		count, err := testutil.GatherAndCount(reg, "ponos_prover_shard_duration_seconds")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

type blockingSink struct {
	LoggingSink
	release chan struct{}

	mu        sync.Mutex
	workloads []string
}

func (b *blockingSink) PublishWorkload(ctx context.Context, summary *WorkloadSummary) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workloads = append(b.workloads, summary.WorkloadId)
	return nil
}

func Test_AsyncSink(t *testing.T) {
	ctx := context.Background()

	t.Run("Should drop instead of blocking when full", func(t *testing.T) {
		inner := &blockingSink{LoggingSink: LoggingSink{logger: zap.NewNop()}, release: make(chan struct{})}
		reg := prometheus.NewRegistry()
		collectors := NewCollectors(reg)
		sink := NewAsyncSink(inner, 2, collectors, zap.NewNop())

		var errs []error
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 10; i++ {
				errs = append(errs, sink.PublishWorkload(ctx, &WorkloadSummary{WorkloadId: "w"}))
			}
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publishing blocked on a slow sink")
		}

		// one event may already be held by the forwarding goroutine
		assert.GreaterOrEqual(t, sink.Dropped(), uint64(7))
		assert.Contains(t, errs, ErrSinkFull)
		assert.Equal(t, float64(sink.Dropped()), testutil.ToFloat64(collectors.SinkDropped))

		close(inner.release)
		require.NoError(t, sink.Close(ctx))
		inner.mu.Lock()
		delivered := len(inner.workloads)
		inner.mu.Unlock()
		assert.Equal(t, 10-int(sink.Dropped()), delivered)
	})
	t.Run("Should reject events after close", func(t *testing.T) {
		sink := NewAsyncSink(NewLoggingSink(zap.NewNop()), 4, nil, zap.NewNop())
		require.NoError(t, sink.PublishAlert(ctx, &AlertRecord{Level: "critical", Category: "deadline"}))
		require.NoError(t, sink.Close(ctx))

		assert.ErrorIs(t, sink.PublishCalibration(ctx, &CalibrationRecord{Strategy: "single"}), ErrSinkClosed)
		assert.ErrorIs(t, sink.Close(ctx), ErrSinkClosed)
	})
	t.Run("Should deliver every event type in order", func(t *testing.T) {
		sink := NewAsyncSink(NewLoggingSink(zap.NewNop()), 8, nil, zap.NewNop())
		deviceId := 1
		require.NoError(t, sink.PublishShardResult(ctx, okShard(0, 0, 10)))
		require.NoError(t, sink.PublishWorkload(ctx, summary("a", false, time.Second)))
		require.NoError(t, sink.PublishCalibration(ctx, &CalibrationRecord{Strategy: "fleet", Estimated: true}))
		require.NoError(t, sink.PublishAlert(ctx, &AlertRecord{Level: "warning", Category: "temperature", DeviceId: &deviceId}))
		require.NoError(t, sink.Close(ctx))
		assert.Equal(t, uint64(0), sink.Dropped())
	})
}
