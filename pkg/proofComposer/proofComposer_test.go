package proofComposer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine/simulatedProvingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const workloadId = "workload-1"

// provenResults proves each range with the simulated engine so composition checks real claims.
func provenResults(t *testing.T, engine *simulatedProvingEngine.SimulatedProvingEngine, ranges ...types.CycleRange) []*types.ShardResult {
	ctx := context.Background()
	keys, err := engine.Setup(ctx, []byte("program"))
	require.NoError(t, err)

	results := make([]*types.ShardResult, 0, len(ranges))
	for i, r := range ranges {
		artifact, err := engine.Prove(ctx, &provingEngine.ProveRequest{
			WorkloadId: workloadId,
			Keys:       keys,
			Mode:       types.AssuranceMode_Succinct,
			Range:      r,
			ShardId:    i,
		})
		require.NoError(t, err)
		results = append(results, &types.ShardResult{
			ShardId:    i,
			WorkloadId: workloadId,
			Range:      r,
			Artifact:   artifact,
		})
	}
	return results
}

func evenRanges(n int, size uint64) []types.CycleRange {
	out := make([]types.CycleRange, n)
	for i := range out {
		out[i] = types.CycleRange{Start: uint64(i) * size, End: uint64(i+1) * size}
	}
	return out
}

func Test_ProofComposer(t *testing.T) {
	ctx := context.Background()
	l := zap.NewNop()

	t.Run("Should return a single result unchanged", func(t *testing.T) {
		engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
		results := provenResults(t, engine, types.CycleRange{Start: 0, End: 100})

		final, err := NewProofComposer(engine, l).Compose(ctx, workloadId, results)
		require.NoError(t, err)
		assert.Same(t, results[0].Artifact, final)
		assert.Equal(t, int64(0), engine.ComposeCalls())
	})
	t.Run("Should cover the whole range in shard order", func(t *testing.T) {
		for _, n := range []int{2, 3, 5, 8, 13} {
			engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
			results := provenResults(t, engine, evenRanges(n, 10)...)
			// arrival order must not matter
			shuffled := append([]*types.ShardResult{}, results[n/2:]...)
			shuffled = append(shuffled, results[:n/2]...)

			final, err := NewProofComposer(engine, l).Compose(ctx, workloadId, shuffled)
			require.NoError(t, err)
			assert.Equal(t, types.CycleRange{Start: 0, End: uint64(n) * 10}, final.Range)

			expectedIds := make([]int, n)
			for i := range expectedIds {
				expectedIds[i] = i
			}
			assert.Equal(t, expectedIds, final.ShardIds)
			assert.Equal(t, int64(n-1), engine.ComposeCalls())

			keys, err := engine.Setup(ctx, []byte("program"))
			require.NoError(t, err)
			assert.NoError(t, engine.Verify(ctx, final, keys.VerificationKey))
		}
	})
	t.Run("Should compose pairs of a level concurrently", func(t *testing.T) {
		engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
		results := provenResults(t, engine, evenRanges(4, 10)...)

		var mu sync.Mutex
		var firstLevel [][2]types.CycleRange
		release := make(chan struct{})
		var once sync.Once
		var arrived sync.WaitGroup
		arrived.Add(2)
		engine.ComposeFn = func(left, right *types.ProofArtifact) error {
			mu.Lock()
			if len(firstLevel) < 2 {
				firstLevel = append(firstLevel, [2]types.CycleRange{left.Range, right.Range})
				mu.Unlock()
				arrived.Done()
				// both first-level pairs must be in flight before either finishes
				go once.Do(func() {
					arrived.Wait()
					close(release)
				})
				<-release
				return nil
			}
			mu.Unlock()
			return nil
		}

		final, err := NewProofComposer(engine, l).Compose(ctx, workloadId, results)
		require.NoError(t, err)
		assert.Equal(t, types.CycleRange{Start: 0, End: 40}, final.Range)
		assert.ElementsMatch(t, [][2]types.CycleRange{
			{{Start: 0, End: 10}, {Start: 10, End: 20}},
			{{Start: 20, End: 30}, {Start: 30, End: 40}},
		}, firstLevel)
	})
	t.Run("Should fail when any shard failed", func(t *testing.T) {
		engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
		results := provenResults(t, engine, evenRanges(4, 10)...)
		results[1].Artifact = nil
		results[1].Err = errors.New("device lost")
		results[3].Artifact = nil
		results[3].Err = errors.New("out of memory")

		final, err := NewProofComposer(engine, l).Compose(ctx, workloadId, results)
		assert.Nil(t, final)

		var compErr *CompositionError
		require.ErrorAs(t, err, &compErr)
		assert.Equal(t, workloadId, compErr.WorkloadId)
		assert.Equal(t, []int{1, 3}, compErr.FailedShardIds)
		assert.ErrorIs(t, err, ErrShardsFailed)
		assert.ErrorContains(t, err, "device lost")
		assert.ErrorContains(t, err, "out of memory")
		assert.Equal(t, int64(0), engine.ComposeCalls())
	})
	t.Run("Should fail even when the only shard failed", func(t *testing.T) {
		engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
		_, err := NewProofComposer(engine, l).Compose(ctx, workloadId, []*types.ShardResult{
			{ShardId: 0, Err: errors.New("boom")},
		})
		var compErr *CompositionError
		require.ErrorAs(t, err, &compErr)
		assert.Equal(t, []int{0}, compErr.FailedShardIds)
	})
	t.Run("Should reject empty input", func(t *testing.T) {
		engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
		_, err := NewProofComposer(engine, l).Compose(ctx, workloadId, nil)
		assert.ErrorIs(t, err, ErrNoResults)
	})
	t.Run("Should reject gaps between shards", func(t *testing.T) {
		engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
		results := provenResults(t, engine,
			types.CycleRange{Start: 0, End: 10},
			types.CycleRange{Start: 11, End: 20},
		)
		_, err := NewProofComposer(engine, l).Compose(ctx, workloadId, results)
		assert.ErrorIs(t, err, ErrNonContiguous)
	})
	t.Run("Should surface compose step failures", func(t *testing.T) {
		engine := simulatedProvingEngine.NewSimulatedProvingEngine(nil, l)
		engine.ComposeFn = func(left, right *types.ProofArtifact) error {
			if left.Range.Start == 20 {
				return errors.New("recursion overflow")
			}
			return nil
		}
		results := provenResults(t, engine, evenRanges(4, 10)...)

		final, err := NewProofComposer(engine, l).Compose(ctx, workloadId, results)
		assert.Nil(t, final)
		var compErr *CompositionError
		require.ErrorAs(t, err, &compErr)
		assert.Empty(t, compErr.FailedShardIds)
		assert.ErrorIs(t, err, ErrComposeFailed)
		assert.ErrorContains(t, err, "recursion overflow")
	})
}
