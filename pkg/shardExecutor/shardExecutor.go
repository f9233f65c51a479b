package shardExecutor

import (
	"context"
	"sync"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/deviceCapacityManager"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/deviceTelemetry"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/tracing"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type IDeviceGate interface {
	Acquire(ctx context.Context, deviceId int) (*deviceCapacityManager.Permit, error)
}

type ICheckpointLoader interface {
	Load(ctx context.Context, ref *types.CheckpointRef) (*types.Checkpoint, error)
}

// ShardExecutor runs one shard at a time per call: it holds a device permit for the duration of
// the shard and turns every outcome into a ShardResult.
type ShardExecutor struct {
	engine      provingEngine.IProvingEngine
	gate        IDeviceGate
	checkpoints ICheckpointLoader
	telemetry   deviceTelemetry.IDeviceTelemetryProvider
	logger      *zap.Logger

	setupGroup singleflight.Group
	keysMu     sync.RWMutex
	keys       map[string]*provingEngine.Keys

	executeGroup singleflight.Group
	executedMu   sync.RWMutex
	executed     map[string]uint64
}

// NewShardExecutor creates an executor. checkpoints and telemetry may be nil.
func NewShardExecutor(
	engine provingEngine.IProvingEngine,
	gate IDeviceGate,
	checkpoints ICheckpointLoader,
	telemetry deviceTelemetry.IDeviceTelemetryProvider,
	logger *zap.Logger,
) *ShardExecutor {
	return &ShardExecutor{
		engine:      engine,
		gate:        gate,
		checkpoints: checkpoints,
		telemetry:   telemetry,
		logger:      logger,
		keys:        make(map[string]*provingEngine.Keys),
		executed:    make(map[string]uint64),
	}
}

// Run waits for a permit on the shard's device and executes the shard.
func (e *ShardExecutor) Run(ctx context.Context, shard *types.Shard) *types.ShardResult {
	permit, err := e.gate.Acquire(ctx, shard.DeviceId)
	if err != nil {
		result := e.newResult(shard)
		result.Err = &ExecutionError{ShardId: shard.ShardId, DeviceId: shard.DeviceId, Stage: Stage_Acquire, Err: err}
		result.CompletedAt = time.Now()
		e.logFailure(result)
		return result
	}
	return e.Execute(ctx, shard, permit)
}

// Execute proves the shard while holding permit. The permit is released before returning on every
// path; processing time is measured from when it was acquired.
func (e *ShardExecutor) Execute(ctx context.Context, shard *types.Shard, permit *deviceCapacityManager.Permit) *types.ShardResult {
	startedAt := permit.AcquiredAt()
	result := e.newResult(shard)

	ctx, span := tracing.StartSpan(ctx, "shard.execute",
		attribute.String("workloadId", shard.WorkloadId),
		attribute.Int("shardId", shard.ShardId),
		attribute.Int("deviceId", shard.DeviceId),
		attribute.String("range", shard.Range.String()),
	)

	artifact, executed, err := func() (*types.ProofArtifact, *uint64, error) {
		defer permit.Release()
		return e.prove(ctx, shard)
	}()

	var cycles uint64
	if executed != nil {
		cycles = processedCycles(shard.Range, *executed)
	}
	result.ProcessingTime = time.Since(startedAt)
	result.CompletedAt = time.Now()
	result.Cycles = cycles
	result.ExecutedCycles = executed
	result.Artifact = artifact
	result.Err = err
	result.Device = e.deviceSnapshot(ctx, shard.DeviceId)

	span.SetAttributes(attribute.Int64("cycles", int64(cycles)))
	span.End(err)

	if err != nil {
		e.logFailure(result)
	} else {
		e.logger.Sugar().Debugw("Shard proven",
			zap.String("workloadId", shard.WorkloadId),
			zap.Int("shardId", shard.ShardId),
			zap.Int("deviceId", shard.DeviceId),
			zap.Uint64("cycles", cycles),
			zap.Duration("processingTime", result.ProcessingTime),
		)
	}
	return result
}

func (e *ShardExecutor) prove(ctx context.Context, shard *types.Shard) (*types.ProofArtifact, *uint64, error) {
	var executed *uint64
	fail := func(stage Stage, err error) (*types.ProofArtifact, *uint64, error) {
		return nil, executed, &ExecutionError{ShardId: shard.ShardId, DeviceId: shard.DeviceId, Stage: stage, Err: err}
	}

	if binder, ok := e.engine.(provingEngine.IDeviceBinder); ok {
		if err := binder.BindDevice(ctx, shard.DeviceId); err != nil {
			return fail(Stage_Bind, err)
		}
	}

	var checkpoint *types.Checkpoint
	if shard.Checkpoint != nil {
		if e.checkpoints == nil {
			return fail(Stage_Checkpoint, ErrMissingCheckpointLoader)
		}
		cp, err := e.checkpoints.Load(ctx, shard.Checkpoint)
		if err != nil {
			return fail(Stage_Checkpoint, err)
		}
		checkpoint = cp
	}

	keys, err := e.Keys(ctx, shard.Program)
	if err != nil {
		return fail(Stage_Setup, err)
	}

	actual, err := e.ExecutedCycles(ctx, shard)
	if err != nil {
		return fail(Stage_Execute, err)
	}
	executed = &actual

	artifact, err := e.engine.Prove(ctx, &provingEngine.ProveRequest{
		WorkloadId: shard.WorkloadId,
		Keys:       keys,
		Input:      shard.Input,
		Mode:       shard.Mode,
		Range:      shard.Range,
		Checkpoint: checkpoint,
		ShardId:    shard.ShardId,
	})
	if err != nil {
		return fail(Stage_Prove, err)
	}
	return artifact, executed, nil
}

// ExecutedCycles returns the measured execution length of the shard's workload. The engine runs the
// program at most once per workload; later shards reuse the count.
func (e *ShardExecutor) ExecutedCycles(ctx context.Context, shard *types.Shard) (uint64, error) {
	e.executedMu.RLock()
	cycles, ok := e.executed[shard.WorkloadId]
	e.executedMu.RUnlock()
	if ok {
		return cycles, nil
	}

	v, err, _ := e.executeGroup.Do(shard.WorkloadId, func() (interface{}, error) {
		e.executedMu.RLock()
		cached, ok := e.executed[shard.WorkloadId]
		e.executedMu.RUnlock()
		if ok {
			return cached, nil
		}

		measured, err := e.engine.Execute(ctx, shard.Program, shard.Input)
		if err != nil {
			return nil, err
		}
		e.RecordExecution(shard.WorkloadId, measured)
		return measured, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// RecordExecution stores a cycle count already measured elsewhere so shards skip re-executing.
func (e *ShardExecutor) RecordExecution(workloadId string, cycles uint64) {
	e.executedMu.Lock()
	defer e.executedMu.Unlock()
	e.executed[workloadId] = cycles
}

// Forget drops the workload's cached execution length.
func (e *ShardExecutor) Forget(workloadId string) {
	e.executedMu.Lock()
	defer e.executedMu.Unlock()
	delete(e.executed, workloadId)
}

// Keys returns the proving keys for program, running Setup at most once per program digest.
func (e *ShardExecutor) Keys(ctx context.Context, program []byte) (*provingEngine.Keys, error) {
	digest := types.ProgramDigest(program)

	e.keysMu.RLock()
	keys, ok := e.keys[digest]
	e.keysMu.RUnlock()
	if ok {
		return keys, nil
	}

	v, err, _ := e.setupGroup.Do(digest, func() (interface{}, error) {
		e.keysMu.RLock()
		cached, ok := e.keys[digest]
		e.keysMu.RUnlock()
		if ok {
			return cached, nil
		}

		start := time.Now()
		k, err := e.engine.Setup(ctx, program)
		if err != nil {
			return nil, err
		}
		e.keysMu.Lock()
		e.keys[digest] = k
		e.keysMu.Unlock()

		e.logger.Sugar().Infow("Proving keys generated",
			zap.String("programDigest", digest),
			zap.Duration("duration", time.Since(start)),
		)
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*provingEngine.Keys), nil
}

func (e *ShardExecutor) newResult(shard *types.Shard) *types.ShardResult {
	return &types.ShardResult{
		ShardId:    shard.ShardId,
		DeviceId:   shard.DeviceId,
		WorkloadId: shard.WorkloadId,
		Range:      shard.Range,
	}
}

func (e *ShardExecutor) deviceSnapshot(ctx context.Context, deviceId int) *types.DeviceSnapshot {
	if e.telemetry == nil {
		return nil
	}
	snapshot, err := e.telemetry.DeviceInfo(ctx, deviceId)
	if err != nil {
		e.logger.Sugar().Debugw("Device telemetry unavailable",
			zap.Int("deviceId", deviceId),
			zap.Error(err),
		)
		return nil
	}
	return snapshot
}

func (e *ShardExecutor) logFailure(result *types.ShardResult) {
	e.logger.Sugar().Errorw("Shard failed",
		zap.String("workloadId", result.WorkloadId),
		zap.Int("shardId", result.ShardId),
		zap.Int("deviceId", result.DeviceId),
		zap.Error(result.Err),
	)
}

// processedCycles is the part of r that lies within the program's actual execution [0, actual).
func processedCycles(r types.CycleRange, actual uint64) uint64 {
	end := r.End
	if end > actual {
		end = actual
	}
	if end <= r.Start {
		return 0
	}
	return end - r.Start
}
