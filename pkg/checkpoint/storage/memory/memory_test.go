package memory

import (
	"context"
	"testing"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCheckpointStore(t *testing.T) {
	suite := &storage.TestSuite{
		NewStore: func() (storage.ICheckpointStore, error) {
			return NewInMemoryCheckpointStore(), nil
		},
	}
	suite.Run(t)
}

func TestInMemoryCheckpointStore_CopySemantics(t *testing.T) {
	store := NewInMemoryCheckpointStore()
	defer store.Close()
	ctx := context.Background()

	state := []byte{1, 2, 3}
	require.NoError(t, store.SaveCheckpoint(ctx, &types.Checkpoint{WorkloadId: "w", Offset: 10, State: state}))
	state[0] = 9

	cp, err := store.GetCheckpoint(ctx, "w", 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, cp.State)

	cp.State[1] = 9
	again, err := store.GetCheckpoint(ctx, "w", 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, again.State)
}
