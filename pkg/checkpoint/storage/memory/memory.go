package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
)

// InMemoryCheckpointStore implements ICheckpointStore with in-memory storage
type InMemoryCheckpointStore struct {
	mu          sync.RWMutex
	closed      bool
	checkpoints map[string]map[uint64]*types.Checkpoint
}

// NewInMemoryCheckpointStore creates a new in-memory checkpoint store
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{
		checkpoints: make(map[string]map[uint64]*types.Checkpoint),
	}
}

func (s *InMemoryCheckpointStore) SaveCheckpoint(ctx context.Context, checkpoint *types.Checkpoint) error {
	if err := storage.ValidateCheckpoint(checkpoint); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	byOffset, ok := s.checkpoints[checkpoint.WorkloadId]
	if !ok {
		byOffset = make(map[uint64]*types.Checkpoint)
		s.checkpoints[checkpoint.WorkloadId] = byOffset
	}
	byOffset[checkpoint.Offset] = cloneCheckpoint(checkpoint)
	return nil
}

func (s *InMemoryCheckpointStore) GetCheckpoint(ctx context.Context, workloadId string, offset uint64) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	cp, ok := s.checkpoints[workloadId][offset]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneCheckpoint(cp), nil
}

func (s *InMemoryCheckpointStore) ListCheckpoints(ctx context.Context, workloadId string) ([]*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	byOffset := s.checkpoints[workloadId]
	checkpoints := make([]*types.Checkpoint, 0, len(byOffset))
	for _, cp := range byOffset {
		checkpoints = append(checkpoints, cloneCheckpoint(cp))
	}
	slices.SortFunc(checkpoints, func(a, b *types.Checkpoint) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	return checkpoints, nil
}

func (s *InMemoryCheckpointStore) DeleteWorkloadCheckpoints(ctx context.Context, workloadId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, storage.ErrStoreClosed
	}

	count := len(s.checkpoints[workloadId])
	delete(s.checkpoints, workloadId)
	return count, nil
}

func (s *InMemoryCheckpointStore) ListWorkloads(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	ids := make([]string, 0, len(s.checkpoints))
	for id := range s.checkpoints {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *InMemoryCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}

	s.closed = true
	s.checkpoints = nil
	return nil
}

func cloneCheckpoint(cp *types.Checkpoint) *types.Checkpoint {
	c := *cp
	c.State = slices.Clone(cp.State)
	return &c
}
