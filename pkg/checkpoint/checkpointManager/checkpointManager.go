package checkpointManager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type CheckpointManagerConfig struct {
	// Interval caps how many cycles a single state advance may replay. 0 advances in one step.
	Interval uint64
}

// CheckpointManager owns the checkpoint lifecycle of in-flight workloads: it creates snapshots
// once, serves them to shard executors, and discards them when the workload completes.
type CheckpointManager struct {
	config   *CheckpointManagerConfig
	store    storage.ICheckpointStore
	advancer provingEngine.IStateAdvancer
	logger   *zap.Logger

	inflight singleflight.Group
}

// NewCheckpointManager creates a manager. advancer may be nil when the engine cannot snapshot state,
// in which case only loading and discarding work.
func NewCheckpointManager(
	cfg *CheckpointManagerConfig,
	store storage.ICheckpointStore,
	advancer provingEngine.IStateAdvancer,
	logger *zap.Logger,
) *CheckpointManager {
	if cfg == nil {
		cfg = &CheckpointManagerConfig{}
	}
	return &CheckpointManager{
		config:   cfg,
		store:    store,
		advancer: advancer,
		logger:   logger,
	}
}

// GetOrCreate returns the stored checkpoint for workload at offset. When none exists it is computed
// by advancing execution from `from` (or from cycle 0 when nil) and stored. Concurrent callers for
// the same key share one computation.
func (m *CheckpointManager) GetOrCreate(ctx context.Context, workload *types.Workload, offset uint64, from *types.Checkpoint) (*types.Checkpoint, error) {
	key := fmt.Sprintf("%s/%d", workload.WorkloadId, offset)

	v, err, shared := m.inflight.Do(key, func() (interface{}, error) {
		existing, err := m.store.GetCheckpoint(ctx, workload.WorkloadId, offset)
		if err == nil {
			m.logger.Sugar().Debugw("Reusing stored checkpoint",
				zap.String("workloadId", workload.WorkloadId),
				zap.Uint64("offset", offset),
			)
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, &CheckpointError{WorkloadId: workload.WorkloadId, Offset: offset, Err: err}
		}
		return m.create(ctx, workload, offset, from)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Sugar().Debugw("Joined in-flight checkpoint creation",
			zap.String("workloadId", workload.WorkloadId),
			zap.Uint64("offset", offset),
		)
	}
	return v.(*types.Checkpoint), nil
}

func (m *CheckpointManager) create(ctx context.Context, workload *types.Workload, offset uint64, from *types.Checkpoint) (*types.Checkpoint, error) {
	wrap := func(err error) error {
		return &CheckpointError{WorkloadId: workload.WorkloadId, Offset: offset, Err: err}
	}
	if m.advancer == nil {
		return nil, wrap(ErrStateAdvanceUnsupported)
	}
	if from != nil && from.Offset > offset {
		return nil, wrap(fmt.Errorf("%w: starting state is at cycle %d", ErrOffsetBehindStart, from.Offset))
	}

	start := time.Now()
	current := from
	cursor := uint64(0)
	if from != nil {
		cursor = from.Offset
	}
	for {
		next := offset
		if m.config.Interval > 0 && offset-cursor > m.config.Interval {
			next = cursor + m.config.Interval
		}
		state, err := m.advancer.AdvanceState(ctx, workload.Program, workload.Input, current, next)
		if err != nil {
			return nil, wrap(fmt.Errorf("failed to advance execution to cycle %d: %w", next, err))
		}
		current = &types.Checkpoint{
			WorkloadId: workload.WorkloadId,
			Offset:     next,
			State:      state,
		}
		cursor = next
		if cursor >= offset {
			break
		}
	}
	current.CreatedAt = time.Now()

	if err := m.store.SaveCheckpoint(ctx, current); err != nil {
		return nil, wrap(fmt.Errorf("failed to save checkpoint: %w", err))
	}

	m.logger.Sugar().Debugw("Created checkpoint",
		zap.String("workloadId", workload.WorkloadId),
		zap.Uint64("offset", offset),
		zap.Duration("duration", time.Since(start)),
	)
	return current, nil
}

// GeneratePass creates the checkpoints for every offset in one forward replay: offsets are visited
// in ascending order and each checkpoint starts from the previous one. Zero and duplicate offsets
// are skipped.
func (m *CheckpointManager) GeneratePass(ctx context.Context, workload *types.Workload, offsets []uint64) ([]*types.Checkpoint, error) {
	ordered := slices.Clone(offsets)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	checkpoints := make([]*types.Checkpoint, 0, len(ordered))
	var prev *types.Checkpoint
	for _, offset := range ordered {
		if offset == 0 {
			continue
		}
		cp, err := m.GetOrCreate(ctx, workload, offset, prev)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
		prev = cp
	}

	m.logger.Sugar().Infow("Checkpoint pass complete",
		zap.String("workloadId", workload.WorkloadId),
		zap.Int("checkpoints", len(checkpoints)),
	)
	return checkpoints, nil
}

// Load fetches the checkpoint a shard was planned against.
func (m *CheckpointManager) Load(ctx context.Context, ref *types.CheckpointRef) (*types.Checkpoint, error) {
	cp, err := m.store.GetCheckpoint(ctx, ref.WorkloadId, ref.Offset)
	if err != nil {
		return nil, &CheckpointError{WorkloadId: ref.WorkloadId, Offset: ref.Offset, Err: err}
	}
	return cp, nil
}

// Discard drops every checkpoint of a finished workload.
func (m *CheckpointManager) Discard(ctx context.Context, workloadId string) error {
	count, err := m.store.DeleteWorkloadCheckpoints(ctx, workloadId)
	if err != nil {
		return &CheckpointError{WorkloadId: workloadId, Err: fmt.Errorf("failed to discard checkpoints: %w", err)}
	}
	if count > 0 {
		m.logger.Sugar().Debugw("Discarded checkpoints",
			zap.String("workloadId", workloadId),
			zap.Int("count", count),
		)
	}
	return nil
}

// DiscardOrphaned removes checkpoints left behind by workloads that never completed, e.g. after a
// crash with a persistent store. Returns the number of workloads cleaned up.
func (m *CheckpointManager) DiscardOrphaned(ctx context.Context) (int, error) {
	workloads, err := m.store.ListWorkloads(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workloads with checkpoints: %w", err)
	}
	for _, id := range workloads {
		if err := m.Discard(ctx, id); err != nil {
			return 0, err
		}
	}
	if len(workloads) > 0 {
		m.logger.Sugar().Infow("Discarded orphaned checkpoints", zap.Int("workloads", len(workloads)))
	}
	return len(workloads), nil
}
