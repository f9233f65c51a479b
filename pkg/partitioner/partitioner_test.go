package partitioner

import (
	"context"
	"errors"
	"testing"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/checkpointManager"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage/memory"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine/simulatedProvingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

type fakeGenerator struct {
	offsets []uint64
	err     error
}

func (f *fakeGenerator) GeneratePass(ctx context.Context, workload *types.Workload, offsets []uint64) ([]*types.Checkpoint, error) {
	f.offsets = append(f.offsets, offsets...)
	return nil, f.err
}

func newWorkload(t require.TestingT) *types.Workload {
	w, err := types.NewWorkload([]byte("program"), []byte("input"), types.AssuranceMode_Succinct, nil)
	require.NoError(t, err)
	return w
}

func ranges(shards []*types.Shard) []types.CycleRange {
	out := make([]types.CycleRange, 0, len(shards))
	for _, s := range shards {
		out = append(out, s.Range)
	}
	return out
}

func Test_Partition(t *testing.T) {
	l := zap.NewNop()

	cases := []struct {
		name     string
		capacity proverConfig.CapacityConfig
		total    uint64
		expected []types.CycleRange
	}{
		{
			name:     "even split",
			capacity: proverConfig.CapacityConfig{DeviceCount: 2, ShardsPerDevice: 2, MinCyclesPerShard: 1, MaxCyclesPerShard: 1000},
			total:    100,
			expected: []types.CycleRange{{Start: 0, End: 25}, {Start: 25, End: 50}, {Start: 50, End: 75}, {Start: 75, End: 100}},
		},
		{
			name:     "ceil leaves a short last shard",
			capacity: proverConfig.CapacityConfig{DeviceCount: 3, ShardsPerDevice: 1, MinCyclesPerShard: 1, MaxCyclesPerShard: 1000},
			total:    10,
			expected: []types.CycleRange{{Start: 0, End: 4}, {Start: 4, End: 8}, {Start: 8, End: 10}},
		},
		{
			name:     "minimum clamp leaves trailing empty shards",
			capacity: proverConfig.CapacityConfig{DeviceCount: 2, ShardsPerDevice: 2, MinCyclesPerShard: 5, MaxCyclesPerShard: 1000},
			total:    10,
			expected: []types.CycleRange{{Start: 0, End: 5}, {Start: 5, End: 10}, {Start: 10, End: 10}, {Start: 10, End: 10}},
		},
		{
			name:     "maximum clamp is absorbed by the last shard",
			capacity: proverConfig.CapacityConfig{DeviceCount: 1, ShardsPerDevice: 2, MinCyclesPerShard: 1, MaxCyclesPerShard: 10},
			total:    100,
			expected: []types.CycleRange{{Start: 0, End: 10}, {Start: 10, End: 100}},
		},
		{
			name:     "single shard",
			capacity: proverConfig.CapacityConfig{DeviceCount: 1, ShardsPerDevice: 1, MinCyclesPerShard: 0, MaxCyclesPerShard: 1 << 40},
			total:    12345,
			expected: []types.CycleRange{{Start: 0, End: 12345}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPartitioner(&tc.capacity, nil, l)
			require.NoError(t, err)

			shards, err := p.Partition(newWorkload(t), tc.total)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ranges(shards))
		})
	}

	t.Run("Should produce one empty shard for a zero-cycle workload", func(t *testing.T) {
		p, err := NewPartitioner(&proverConfig.CapacityConfig{DeviceCount: 4, ShardsPerDevice: 2, MaxCyclesPerShard: 10, EnableCheckpointing: true, CheckpointInterval: 5}, nil, l)
		require.NoError(t, err)

		shards, err := p.Partition(newWorkload(t), 0)
		require.NoError(t, err)
		require.Len(t, shards, 1)
		assert.True(t, shards[0].Range.IsEmpty())
		assert.Nil(t, shards[0].Checkpoint)
	})
	t.Run("Should assign devices round-robin", func(t *testing.T) {
		p, err := NewPartitioner(&proverConfig.CapacityConfig{DeviceCount: 3, ShardsPerDevice: 2, MinCyclesPerShard: 1, MaxCyclesPerShard: 1000}, nil, l)
		require.NoError(t, err)

		shards, err := p.Partition(newWorkload(t), 600)
		require.NoError(t, err)
		devices := make([]int, 0, len(shards))
		for _, s := range shards {
			devices = append(devices, s.DeviceId)
		}
		assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, devices)
	})
	t.Run("Should give every shard a private copy of program and input", func(t *testing.T) {
		p, err := NewPartitioner(&proverConfig.CapacityConfig{DeviceCount: 2, ShardsPerDevice: 1, MinCyclesPerShard: 1, MaxCyclesPerShard: 1000}, nil, l)
		require.NoError(t, err)

		w := newWorkload(t)
		shards, err := p.Partition(w, 100)
		require.NoError(t, err)
		shards[0].Program[0] = 'X'
		assert.Equal(t, byte('p'), shards[1].Program[0])
		assert.Equal(t, byte('p'), w.Program[0])
	})
	t.Run("Should reference checkpoints only for non-zero starts", func(t *testing.T) {
		p, err := NewPartitioner(&proverConfig.CapacityConfig{DeviceCount: 2, ShardsPerDevice: 2, MinCyclesPerShard: 1, MaxCyclesPerShard: 1000, EnableCheckpointing: true, CheckpointInterval: 10}, nil, l)
		require.NoError(t, err)

		shards, err := p.Partition(newWorkload(t), 100)
		require.NoError(t, err)
		assert.Nil(t, shards[0].Checkpoint)
		for _, s := range shards[1:] {
			require.NotNil(t, s.Checkpoint)
			assert.Equal(t, s.Range.Start, s.Checkpoint.Offset)
		}
	})
	t.Run("Should reject invalid input", func(t *testing.T) {
		_, err := NewPartitioner(&proverConfig.CapacityConfig{DeviceCount: 0, ShardsPerDevice: 1, MaxCyclesPerShard: 1}, nil, l)
		var pErr *PartitionError
		require.ErrorAs(t, err, &pErr)
		assert.ErrorIs(t, err, ErrInvalidCapacityConfig)

		_, err = NewPartitioner(nil, nil, l)
		assert.ErrorIs(t, err, ErrInvalidCapacityConfig)

		p, err := NewPartitioner(&proverConfig.CapacityConfig{DeviceCount: 1, ShardsPerDevice: 1, MaxCyclesPerShard: 1}, nil, l)
		require.NoError(t, err)
		_, err = p.Partition(&types.Workload{WorkloadId: "w", Mode: types.AssuranceMode_Fast}, 10)
		assert.ErrorIs(t, err, ErrInvalidWorkload)
		_, err = p.Partition(&types.Workload{WorkloadId: "w", Program: []byte("p"), Mode: "bogus"}, 10)
		assert.ErrorIs(t, err, ErrInvalidWorkload)
	})
}

func Test_PartitionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		minCycles := rapid.Uint64Range(0, 5_000).Draw(t, "minCycles")
		capacity := proverConfig.CapacityConfig{
			DeviceCount:         rapid.IntRange(1, 8).Draw(t, "deviceCount"),
			ShardsPerDevice:     rapid.IntRange(1, 8).Draw(t, "shardsPerDevice"),
			MinCyclesPerShard:   minCycles,
			MaxCyclesPerShard:   minCycles + rapid.Uint64Range(1, 50_000).Draw(t, "maxSpread"),
			EnableCheckpointing: rapid.Bool().Draw(t, "checkpointing"),
			CheckpointInterval:  1,
		}
		total := rapid.Uint64Range(1, 10_000_000).Draw(t, "totalCycles")

		p, err := NewPartitioner(&capacity, nil, zap.NewNop())
		require.NoError(t, err)
		shards, err := p.Partition(newWorkload(t), total)
		require.NoError(t, err)

		require.Len(t, shards, capacity.ShardCount())

		perDevice := make(map[int]int)
		var cursor uint64
		for i, s := range shards {
			assert.Equal(t, i, s.ShardId)
			assert.Equal(t, cursor, s.Range.Start, "shard %d leaves a gap or overlaps", i)
			assert.LessOrEqual(t, s.Range.Start, s.Range.End)
			cursor = s.Range.End
			perDevice[s.DeviceId]++

			if capacity.EnableCheckpointing && s.Range.Start > 0 {
				require.NotNil(t, s.Checkpoint)
				assert.Equal(t, s.Range.Start, s.Checkpoint.Offset)
			} else {
				assert.Nil(t, s.Checkpoint)
			}
		}
		assert.Equal(t, total, cursor)

		require.Len(t, perDevice, capacity.DeviceCount)
		for _, n := range perDevice {
			assert.Equal(t, capacity.ShardsPerDevice, n)
		}
	})
}

func Test_PrepareCheckpoints(t *testing.T) {
	l := zap.NewNop()
	ctx := context.Background()
	capacity := &proverConfig.CapacityConfig{DeviceCount: 2, ShardsPerDevice: 2, MinCyclesPerShard: 1, MaxCyclesPerShard: 1000, EnableCheckpointing: true, CheckpointInterval: 10}

	t.Run("Should request every referenced offset", func(t *testing.T) {
		gen := &fakeGenerator{}
		p, err := NewPartitioner(capacity, gen, l)
		require.NoError(t, err)

		_, err = p.Plan(ctx, newWorkload(t), 100)
		require.NoError(t, err)
		assert.Equal(t, []uint64{25, 50, 75}, gen.offsets)
	})
	t.Run("Should surface generator failures", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("store down")}
		p, err := NewPartitioner(capacity, gen, l)
		require.NoError(t, err)

		_, err = p.Plan(ctx, newWorkload(t), 100)
		assert.ErrorContains(t, err, "store down")
	})
	t.Run("Should fail when checkpoints are needed but nothing can generate them", func(t *testing.T) {
		p, err := NewPartitioner(capacity, nil, l)
		require.NoError(t, err)

		_, err = p.Plan(ctx, newWorkload(t), 100)
		assert.ErrorIs(t, err, ErrNoCheckpointGenerator)
	})
	t.Run("Should store real checkpoints through the checkpoint manager", func(t *testing.T) {
		engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
		store := memory.NewInMemoryCheckpointStore()
		mgr := checkpointManager.NewCheckpointManager(&checkpointManager.CheckpointManagerConfig{Interval: capacity.CheckpointInterval}, store, engine, l)
		p, err := NewPartitioner(capacity, mgr, l)
		require.NoError(t, err)

		w := newWorkload(t)
		shards, err := p.Plan(ctx, w, 100)
		require.NoError(t, err)

		for _, s := range shards[1:] {
			cp, err := store.GetCheckpoint(ctx, w.WorkloadId, s.Checkpoint.Offset)
			require.NoError(t, err)
			assert.Equal(t, engine.StateAt(w.Program, w.Input, s.Range.Start), cp.State)
		}
		// 0 -> 75 replayed once in strides of at most 10, three per checkpoint
		assert.Equal(t, int64(9), engine.AdvanceCalls())
	})
}
