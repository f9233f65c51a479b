package badger

import (
	"context"
	"os"
	"testing"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerCheckpointStore(t *testing.T) {
	// Run the reusable test suite, each store on its own directory
	suite := &storage.TestSuite{
		NewStore: func() (storage.ICheckpointStore, error) {
			tmpDir, err := os.MkdirTemp("", "badger-checkpoint-test-*")
			if err != nil {
				return nil, err
			}
			t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
			return NewBadgerCheckpointStore(&proverConfig.BadgerConfig{Dir: tmpDir})
		},
	}
	suite.Run(t)
}

func TestBadgerCheckpointStore_InMemory(t *testing.T) {
	suite := &storage.TestSuite{
		NewStore: func() (storage.ICheckpointStore, error) {
			return NewBadgerCheckpointStore(&proverConfig.BadgerConfig{InMemory: true})
		},
	}
	suite.Run(t)
}

func TestBadgerCheckpointStore_Persistence(t *testing.T) {
	// Checkpoints left behind by a crashed run are visible after restart
	tmpDir, err := os.MkdirTemp("", "badger-checkpoint-persist-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &proverConfig.BadgerConfig{Dir: tmpDir}
	ctx := context.Background()

	{
		store, err := NewBadgerCheckpointStore(cfg)
		require.NoError(t, err)

		require.NoError(t, store.SaveCheckpoint(ctx, &types.Checkpoint{
			WorkloadId: "crashed-workload",
			Offset:     4_000_000,
			State:      []byte("state"),
		}))
		require.NoError(t, store.Close())
	}

	{
		store, err := NewBadgerCheckpointStore(cfg)
		require.NoError(t, err)
		defer store.Close()

		workloads, err := store.ListWorkloads(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"crashed-workload"}, workloads)

		cp, err := store.GetCheckpoint(ctx, "crashed-workload", 4_000_000)
		require.NoError(t, err)
		assert.Equal(t, []byte("state"), cp.State)

		deleted, err := store.DeleteWorkloadCheckpoints(ctx, "crashed-workload")
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
	}
}

func TestBadgerCheckpointStore_NilConfig(t *testing.T) {
	_, err := NewBadgerCheckpointStore(nil)
	assert.Error(t, err)
}
