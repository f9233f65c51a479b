package partitioner

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"go.uber.org/zap"
)

// ICheckpointGenerator produces all checkpoints a plan references in a single ordered pass.
type ICheckpointGenerator interface {
	GeneratePass(ctx context.Context, workload *types.Workload, offsets []uint64) ([]*types.Checkpoint, error)
}

// Partitioner splits a workload into DeviceCount x ShardsPerDevice shards in two stages: a pure
// range split (Partition) and a sequential checkpoint pass (PrepareCheckpoints). Shards only read
// checkpoints afterwards, so they can execute independently.
type Partitioner struct {
	capacity    *proverConfig.CapacityConfig
	checkpoints ICheckpointGenerator
	logger      *zap.Logger
}

// NewPartitioner creates a partitioner for a validated copy of capacity. checkpoints may be nil
// when checkpointing is disabled.
func NewPartitioner(
	capacity *proverConfig.CapacityConfig,
	checkpoints ICheckpointGenerator,
	logger *zap.Logger,
) (*Partitioner, error) {
	if capacity == nil {
		return nil, &PartitionError{Err: fmt.Errorf("%w: capacity config is nil", ErrInvalidCapacityConfig)}
	}
	if err := capacity.Validate(); err != nil {
		return nil, &PartitionError{Err: fmt.Errorf("%w: %v", ErrInvalidCapacityConfig, err)}
	}
	c := *capacity
	return &Partitioner{
		capacity:    &c,
		checkpoints: checkpoints,
		logger:      logger,
	}, nil
}

// CyclesPerShard is ceil(totalCycles / shardCount) clamped to the configured per-shard bounds.
func (p *Partitioner) CyclesPerShard(totalCycles uint64) uint64 {
	count := uint64(p.capacity.ShardCount())
	cps := totalCycles / count
	if totalCycles%count != 0 {
		cps++
	}
	if cps < p.capacity.MinCyclesPerShard {
		cps = p.capacity.MinCyclesPerShard
	}
	if cps > p.capacity.MaxCyclesPerShard {
		cps = p.capacity.MaxCyclesPerShard
	}
	return cps
}

// Partition assigns each shard a contiguous cycle range so the ranges cover [0, totalCycles)
// exactly. Shards are placed round-robin across devices. When the minimum shard size leaves
// nothing for trailing shards they get empty ranges at totalCycles; when the maximum would leave a
// tail uncovered the last shard absorbs it. A zero-cycle workload yields one empty shard.
func (p *Partitioner) Partition(workload *types.Workload, totalCycles uint64) ([]*types.Shard, error) {
	if workload == nil || len(workload.Program) == 0 {
		return nil, &PartitionError{Err: fmt.Errorf("%w: workload has no program", ErrInvalidWorkload)}
	}
	if err := workload.Mode.Validate(); err != nil {
		return nil, &PartitionError{WorkloadId: workload.WorkloadId, Err: fmt.Errorf("%w: %v", ErrInvalidWorkload, err)}
	}

	if totalCycles == 0 {
		return []*types.Shard{p.newShard(workload, 0, types.CycleRange{})}, nil
	}

	count := p.capacity.ShardCount()
	cps := p.CyclesPerShard(totalCycles)

	shards := make([]*types.Shard, 0, count)
	for i := 0; i < count; i++ {
		r := types.CycleRange{
			Start: boundary(i, cps, totalCycles),
			End:   boundary(i+1, cps, totalCycles),
		}
		if i == count-1 {
			r.End = totalCycles
		}
		shards = append(shards, p.newShard(workload, i, r))
	}

	p.logger.Sugar().Debugw("Partitioned workload",
		zap.String("workloadId", workload.WorkloadId),
		zap.Uint64("totalCycles", totalCycles),
		zap.Uint64("cyclesPerShard", cps),
		zap.Int("shards", len(shards)),
	)
	return shards, nil
}

func (p *Partitioner) newShard(workload *types.Workload, shardId int, r types.CycleRange) *types.Shard {
	shard := &types.Shard{
		ShardId:    shardId,
		DeviceId:   shardId % p.capacity.DeviceCount,
		WorkloadId: workload.WorkloadId,
		Program:    workload.ProgramCopy(),
		Input:      workload.InputCopy(),
		Range:      r,
		Mode:       workload.Mode,
	}
	if p.capacity.EnableCheckpointing && r.Start > 0 {
		shard.Checkpoint = &types.CheckpointRef{WorkloadId: workload.WorkloadId, Offset: r.Start}
	}
	return shard
}

// PrepareCheckpoints materializes every checkpoint the shards reference, in ascending offset order.
func (p *Partitioner) PrepareCheckpoints(ctx context.Context, workload *types.Workload, shards []*types.Shard) error {
	offsets := make([]uint64, 0, len(shards))
	for _, shard := range shards {
		if shard.Checkpoint != nil {
			offsets = append(offsets, shard.Checkpoint.Offset)
		}
	}
	if len(offsets) == 0 {
		return nil
	}
	if p.checkpoints == nil {
		return &PartitionError{WorkloadId: workload.WorkloadId, Err: ErrNoCheckpointGenerator}
	}
	if _, err := p.checkpoints.GeneratePass(ctx, workload, offsets); err != nil {
		return err
	}
	return nil
}

// Plan runs both partitioning stages.
func (p *Partitioner) Plan(ctx context.Context, workload *types.Workload, totalCycles uint64) ([]*types.Shard, error) {
	shards, err := p.Partition(workload, totalCycles)
	if err != nil {
		return nil, err
	}
	if err := p.PrepareCheckpoints(ctx, workload, shards); err != nil {
		return nil, err
	}
	return shards, nil
}

func (p *Partitioner) Capacity() proverConfig.CapacityConfig {
	return *p.capacity
}

// boundary returns min(i*cps, total) without overflowing.
func boundary(i int, cps, total uint64) uint64 {
	if cps == 0 {
		return 0
	}
	if uint64(i) > total/cps {
		return total
	}
	b := uint64(i) * cps
	if b > total {
		return total
	}
	return b
}
