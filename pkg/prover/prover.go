package prover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/checkpointManager"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/cycleEstimator"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/deviceCapacityManager"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/deviceTelemetry"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/metrics"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/monitor"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/partitioner"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/proofComposer"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/shardExecutor"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/tracing"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrProverClosed             = errors.New("prover is closed")
	ErrVerificationFailed       = errors.New("final proof failed verification")
	ErrCheckpointingUnsupported = errors.New("checkpointing is enabled but the proving engine cannot snapshot execution state")
	ErrCycleCountMismatch       = errors.New("measured cycle count does not match the planned count")
)

// CycleCountError reports a workload whose measured execution length kept disagreeing with the
// count its shards were planned for.
type CycleCountError struct {
	WorkloadId string
	Planned    uint64
	Measured   uint64
}

func (e *CycleCountError) Error() string {
	return fmt.Sprintf("workload %s: planned %d cycles, measured %d: %v", e.WorkloadId, e.Planned, e.Measured, ErrCycleCountMismatch)
}

func (e *CycleCountError) Unwrap() error {
	return ErrCycleCountMismatch
}

type ShardedProverConfig struct {
	Capacity         *proverConfig.CapacityConfig
	Monitor          *proverConfig.MonitorConfig
	VerifyFinalProof bool
}

type ProveResult struct {
	WorkloadId string
	Artifact   *types.ProofArtifact
	// TotalCycles is the measured execution length the final plan covered
	TotalCycles uint64
	// EstimatedCycles is what the estimator predicted before any shard ran
	EstimatedCycles uint64
	Results         []*types.ShardResult
	ProcessingTime  time.Duration
	DeadlineMissed  bool
}

// ShardedProver proves a workload by splitting it across devices, running every shard
// concurrently under per-device capacity limits and composing the shard proofs in order.
type ShardedProver struct {
	config *ShardedProverConfig
	engine provingEngine.IProvingEngine

	estimator   cycleEstimator.ICycleEstimator
	checkpoints *checkpointManager.CheckpointManager
	partitioner *partitioner.Partitioner
	gates       *deviceCapacityManager.DeviceCapacityManager
	executor    *shardExecutor.ShardExecutor
	composer    *proofComposer.ProofComposer
	metrics     *metrics.ProverMetrics
	monitor     *monitor.Monitor
	telemetry   deviceTelemetry.IDeviceTelemetryProvider
	sink        metrics.IMetricsSink
	logger      *zap.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewShardedProver wires the scheduling pipeline. telemetry, sink and proverMetrics may be nil.
func NewShardedProver(
	cfg *ShardedProverConfig,
	engine provingEngine.IProvingEngine,
	estimator cycleEstimator.ICycleEstimator,
	store storage.ICheckpointStore,
	telemetry deviceTelemetry.IDeviceTelemetryProvider,
	sink metrics.IMetricsSink,
	proverMetrics *metrics.ProverMetrics,
	logger *zap.Logger,
) (*ShardedProver, error) {
	if cfg == nil || cfg.Capacity == nil {
		return nil, fmt.Errorf("capacity config is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("proving engine is required")
	}
	if estimator == nil {
		estimator = cycleEstimator.NewExecutingCycleEstimator(engine)
	}

	advancer, _ := engine.(provingEngine.IStateAdvancer)
	if cfg.Capacity.EnableCheckpointing && advancer == nil {
		return nil, ErrCheckpointingUnsupported
	}
	checkpoints := checkpointManager.NewCheckpointManager(&checkpointManager.CheckpointManagerConfig{
		Interval: cfg.Capacity.CheckpointInterval,
	}, store, advancer, logger)

	part, err := partitioner.NewPartitioner(cfg.Capacity, checkpoints, logger)
	if err != nil {
		return nil, err
	}
	gates, err := deviceCapacityManager.NewDeviceCapacityManager(cfg.Capacity, logger)
	if err != nil {
		return nil, err
	}

	if proverMetrics == nil {
		proverMetrics = metrics.NewProverMetrics(nil)
	}
	gates.SetObserver(proverMetrics)

	return &ShardedProver{
		config:      cfg,
		engine:      engine,
		estimator:   estimator,
		checkpoints: checkpoints,
		partitioner: part,
		gates:       gates,
		executor:    shardExecutor.NewShardExecutor(engine, gates, checkpoints, telemetry, logger),
		composer:    proofComposer.NewProofComposer(engine, logger),
		metrics:     proverMetrics,
		monitor:     monitor.NewMonitor(cfg.Monitor, sink, proverMetrics, logger),
		telemetry:   telemetry,
		sink:        sink,
		logger:      logger,
	}, nil
}

// Prove returns a single proof covering the whole workload or an error; never a partial proof.
// Every shard runs to completion even when a sibling fails. A missed deadline is recorded but the
// result is still returned.
func (p *ShardedProver) Prove(ctx context.Context, workload *types.Workload) (result *ProveResult, err error) {
	if !p.begin() {
		return nil, ErrProverClosed
	}
	defer p.inflight.Done()
	if workload == nil {
		return nil, fmt.Errorf("workload is nil")
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "prover.prove",
		attribute.String("workloadId", workload.WorkloadId),
		attribute.String("mode", string(workload.Mode)),
	)

	summary := &metrics.WorkloadSummary{
		WorkloadId: workload.WorkloadId,
		Mode:       workload.Mode,
	}
	defer func() {
		summary.ProcessingTime = time.Since(start)
		summary.Succeeded = err == nil
		summary.Err = err
		p.complete(ctx, workload, summary)
		span.End(err)
	}()

	p.logger.Sugar().Infow("Proving workload",
		zap.String("workloadId", workload.WorkloadId),
		zap.String("mode", string(workload.Mode)),
		zap.Int("programBytes", len(workload.Program)),
		zap.Int("inputBytes", len(workload.Input)),
	)

	estimated, err := p.estimator.Estimate(ctx, workload.Program, workload.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate cycles for workload %s: %w", workload.WorkloadId, err)
	}
	if _, ok := p.estimator.(*cycleEstimator.ExecutingCycleEstimator); ok {
		p.executor.RecordExecution(workload.WorkloadId, estimated)
	}
	span.SetAttributes(attribute.Int64("estimatedCycles", int64(estimated)))

	totalCycles := estimated
	results, err := p.runPlan(ctx, workload, totalCycles, summary)
	if err != nil {
		return nil, err
	}
	if measured, ok := measuredCycles(results); ok && measured != totalCycles {
		p.logger.Sugar().Warnw("Estimated cycle count was wrong, re-planning",
			zap.String("workloadId", workload.WorkloadId),
			zap.Uint64("estimatedCycles", totalCycles),
			zap.Uint64("measuredCycles", measured),
		)
		if err := p.checkpoints.Discard(ctx, workload.WorkloadId); err != nil {
			return nil, fmt.Errorf("failed to discard checkpoints before re-planning: %w", err)
		}
		// the second pass measures again so a program that does not execute deterministically is caught
		p.executor.Forget(workload.WorkloadId)

		totalCycles = measured
		if results, err = p.runPlan(ctx, workload, totalCycles, summary); err != nil {
			return nil, err
		}
		if remeasured, ok := measuredCycles(results); ok && remeasured != totalCycles {
			return nil, &CycleCountError{WorkloadId: workload.WorkloadId, Planned: totalCycles, Measured: remeasured}
		}
	}
	span.SetAttributes(attribute.Int64("totalCycles", int64(totalCycles)))

	artifact, err := p.composer.Compose(ctx, workload.WorkloadId, results)
	if err != nil {
		return nil, err
	}

	if p.config.VerifyFinalProof {
		if err := p.verify(ctx, workload, artifact); err != nil {
			return nil, err
		}
	}

	result = &ProveResult{
		WorkloadId:     workload.WorkloadId,
		Artifact:       artifact,
		TotalCycles:     totalCycles,
		EstimatedCycles: estimated,
		Results:         results,
		ProcessingTime:  time.Since(start),
	}

	now := time.Now()
	if workload.DeadlinePassed(now) {
		result.DeadlineMissed = true
		summary.DeadlineMissed = true
		p.monitor.RecordDeadlineMiss(ctx, workload.WorkloadId, now.Sub(*workload.Deadline))
	}

	p.logger.Sugar().Infow("Workload proven",
		zap.String("workloadId", workload.WorkloadId),
		zap.Uint64("totalCycles", totalCycles),
		zap.Int("shards", len(results)),
		zap.Duration("processingTime", result.ProcessingTime),
		zap.Bool("deadlineMissed", result.DeadlineMissed),
	)
	return result, nil
}

// runPlan partitions the workload for totalCycles and runs every shard.
func (p *ShardedProver) runPlan(ctx context.Context, workload *types.Workload, totalCycles uint64, summary *metrics.WorkloadSummary) ([]*types.ShardResult, error) {
	summary.TotalCycles = totalCycles
	shards, err := p.partitioner.Plan(ctx, workload, totalCycles)
	if err != nil {
		return nil, err
	}
	results := p.runShards(ctx, shards)
	summary.Results = results
	return results, nil
}

// measuredCycles returns the execution length any shard measured.
func measuredCycles(results []*types.ShardResult) (uint64, bool) {
	for _, r := range results {
		if r != nil && r.ExecutedCycles != nil {
			return *r.ExecutedCycles, true
		}
	}
	return 0, false
}

// runShards starts every shard at once and waits for all of them. Results are indexed by shard id.
func (p *ShardedProver) runShards(ctx context.Context, shards []*types.Shard) []*types.ShardResult {
	results := make([]*types.ShardResult, len(shards))

	var wg sync.WaitGroup
	for i, shard := range shards {
		wg.Add(1)
		go func(wg *sync.WaitGroup, i int, shard *types.Shard) {
			defer wg.Done()
			results[i] = p.executor.Run(ctx, shard)
		}(&wg, i, shard)
	}
	wg.Wait()
	return results
}

func (p *ShardedProver) verify(ctx context.Context, workload *types.Workload, artifact *types.ProofArtifact) error {
	keys, err := p.executor.Keys(ctx, workload.Program)
	if err != nil {
		return fmt.Errorf("failed to load verification key: %w", err)
	}
	if err := p.engine.Verify(ctx, artifact, keys.VerificationKey); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}

// complete records the workload exactly once, publishes it and drops its checkpoints. It runs on
// success and failure and must not depend on ctx still being live.
func (p *ShardedProver) complete(ctx context.Context, workload *types.Workload, summary *metrics.WorkloadSummary) {
	cleanupCtx := context.WithoutCancel(ctx)
	p.executor.Forget(workload.WorkloadId)

	p.metrics.RecordWorkload(summary)

	if p.sink != nil {
		for _, r := range summary.Results {
			if err := p.sink.PublishShardResult(cleanupCtx, r); err != nil {
				p.logger.Sugar().Debugw("Failed to publish shard result", zap.Error(err))
			}
		}
		if err := p.sink.PublishWorkload(cleanupCtx, summary); err != nil {
			p.logger.Sugar().Debugw("Failed to publish workload summary", zap.Error(err))
		}
	}

	var devices []*types.DeviceSnapshot
	if p.telemetry != nil {
		devices = deviceTelemetry.Snapshot(cleanupCtx, p.telemetry)
	}
	p.monitor.Evaluate(cleanupCtx, p.metrics.Snapshot(), devices)

	if err := p.checkpoints.Discard(cleanupCtx, workload.WorkloadId); err != nil {
		p.logger.Sugar().Warnw("Failed to discard workload checkpoints",
			zap.String("workloadId", workload.WorkloadId),
			zap.Error(err),
		)
	}
}

// DiscardOrphanedCheckpoints removes checkpoints a previous process left behind.
func (p *ShardedProver) DiscardOrphanedCheckpoints(ctx context.Context) (int, error) {
	return p.checkpoints.DiscardOrphaned(ctx)
}

// PoisonDevice stops scheduling onto a faulty device; shards waiting on it fail.
func (p *ShardedProver) PoisonDevice(deviceId int, reason error) error {
	return p.gates.Poison(deviceId, reason)
}

func (p *ShardedProver) DeviceStats(deviceId int) (*deviceCapacityManager.GateStats, error) {
	return p.gates.Stats(deviceId)
}

func (p *ShardedProver) Metrics() *metrics.ProverMetrics {
	return p.metrics
}

func (p *ShardedProver) Monitor() *monitor.Monitor {
	return p.monitor
}

func (p *ShardedProver) Capacity() proverConfig.CapacityConfig {
	return p.partitioner.Capacity()
}

func (p *ShardedProver) begin() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	return true
}

// Close rejects new workloads and waits for in-flight ones to finish or ctx to end.
func (p *ShardedProver) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrProverClosed
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
