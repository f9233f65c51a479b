package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSuite defines a test suite that all checkpoint store implementations must pass
type TestSuite struct {
	NewStore func() (ICheckpointStore, error)
}

// Run executes all storage interface compliance tests
func (s *TestSuite) Run(t *testing.T) {
	t.Run("SaveAndGet", s.testSaveAndGet)
	t.Run("ListOrdered", s.testListOrdered)
	t.Run("DeleteWorkload", s.testDeleteWorkload)
	t.Run("InvalidCheckpoint", s.testInvalidCheckpoint)
	t.Run("Lifecycle", s.testLifecycle)
	t.Run("ConcurrentAccess", s.testConcurrentAccess)
}

func (s *TestSuite) testSaveAndGet(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	cp := &types.Checkpoint{
		WorkloadId: "workload-save",
		Offset:     2_000_000,
		State:      []byte("state-at-2m"),
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err = store.GetCheckpoint(ctx, cp.WorkloadId, cp.Offset)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	retrieved, err := store.GetCheckpoint(ctx, cp.WorkloadId, cp.Offset)
	require.NoError(t, err)
	assert.Equal(t, cp.WorkloadId, retrieved.WorkloadId)
	assert.Equal(t, cp.Offset, retrieved.Offset)
	assert.Equal(t, cp.State, retrieved.State)
	assert.True(t, cp.CreatedAt.Equal(retrieved.CreatedAt))

	// Overwrite replaces the snapshot
	cp.State = []byte("replaced")
	require.NoError(t, store.SaveCheckpoint(ctx, cp))
	retrieved, err = store.GetCheckpoint(ctx, cp.WorkloadId, cp.Offset)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), retrieved.State)

	// A different offset of the same workload is still missing
	_, err = store.GetCheckpoint(ctx, cp.WorkloadId, cp.Offset+1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func (s *TestSuite) testListOrdered(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	workloadId := "workload-list"

	// Offsets chosen so lexical and numeric order differ
	for _, offset := range []uint64{900, 10_000, 5, 123_456_789} {
		require.NoError(t, store.SaveCheckpoint(ctx, &types.Checkpoint{
			WorkloadId: workloadId,
			Offset:     offset,
			State:      []byte(fmt.Sprintf("state-%d", offset)),
		}))
	}
	require.NoError(t, store.SaveCheckpoint(ctx, &types.Checkpoint{WorkloadId: "workload-list-other", Offset: 1}))

	checkpoints, err := store.ListCheckpoints(ctx, workloadId)
	require.NoError(t, err)
	require.Len(t, checkpoints, 4)
	offsets := make([]uint64, 0, len(checkpoints))
	for _, cp := range checkpoints {
		offsets = append(offsets, cp.Offset)
		assert.Equal(t, workloadId, cp.WorkloadId)
	}
	assert.Equal(t, []uint64{5, 900, 10_000, 123_456_789}, offsets)

	empty, err := store.ListCheckpoints(ctx, "workload-unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	workloads, err := store.ListWorkloads(ctx)
	require.NoError(t, err)
	assert.Contains(t, workloads, workloadId)
	assert.Contains(t, workloads, "workload-list-other")
}

func (s *TestSuite) testDeleteWorkload(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, store.SaveCheckpoint(ctx, &types.Checkpoint{WorkloadId: "workload-delete", Offset: i * 100}))
	}
	require.NoError(t, store.SaveCheckpoint(ctx, &types.Checkpoint{WorkloadId: "workload-keep", Offset: 100}))

	deleted, err := store.DeleteWorkloadCheckpoints(ctx, "workload-delete")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	remaining, err := store.ListCheckpoints(ctx, "workload-delete")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	_, err = store.GetCheckpoint(ctx, "workload-keep", 100)
	assert.NoError(t, err)

	// Deleting again is a no-op
	deleted, err = store.DeleteWorkloadCheckpoints(ctx, "workload-delete")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	workloads, err := store.ListWorkloads(ctx)
	require.NoError(t, err)
	assert.NotContains(t, workloads, "workload-delete")
}

func (s *TestSuite) testInvalidCheckpoint(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	assert.ErrorIs(t, store.SaveCheckpoint(ctx, nil), ErrInvalidCheckpoint)
	assert.ErrorIs(t, store.SaveCheckpoint(ctx, &types.Checkpoint{Offset: 1}), ErrInvalidCheckpoint)
	assert.ErrorIs(t, store.SaveCheckpoint(ctx, &types.Checkpoint{WorkloadId: "a:b", Offset: 1}), ErrInvalidCheckpoint)
}

func (s *TestSuite) testLifecycle(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)

	ctx := context.Background()

	cp := &types.Checkpoint{WorkloadId: "workload-lifecycle", Offset: 1, State: []byte("s")}
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	// Close the store
	require.NoError(t, store.Close())

	// Operations after close should fail
	assert.ErrorIs(t, store.SaveCheckpoint(ctx, cp), ErrStoreClosed)

	_, err = store.GetCheckpoint(ctx, cp.WorkloadId, cp.Offset)
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = store.ListCheckpoints(ctx, cp.WorkloadId)
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = store.DeleteWorkloadCheckpoints(ctx, cp.WorkloadId)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func (s *TestSuite) testConcurrentAccess(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	done := make(chan bool)
	errs := make(chan error, 10)

	// Concurrent writes to different workloads
	for i := 0; i < 5; i++ {
		go func(id int) {
			for j := 0; j < 10; j++ {
				err := store.SaveCheckpoint(ctx, &types.Checkpoint{
					WorkloadId: fmt.Sprintf("workload-concurrent-%d", id),
					Offset:     uint64(j),
					State:      []byte{byte(j)},
				})
				if err != nil {
					errs <- err
					return
				}
			}
			done <- true
		}(i)
	}

	// Concurrent reads
	for i := 0; i < 5; i++ {
		go func(id int) {
			for j := 0; j < 10; j++ {
				_, err := store.GetCheckpoint(ctx, fmt.Sprintf("workload-concurrent-%d", id), uint64(j))
				if err != nil && !errors.Is(err, ErrNotFound) {
					errs <- err
					return
				}
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case err := <-errs:
			t.Fatalf("Concurrent access error: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("Timeout waiting for concurrent operations")
		}
	}

	for i := 0; i < 5; i++ {
		checkpoints, err := store.ListCheckpoints(ctx, fmt.Sprintf("workload-concurrent-%d", i))
		require.NoError(t, err)
		assert.Len(t, checkpoints, 10)
	}
}
