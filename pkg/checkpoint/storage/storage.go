package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
)

// ICheckpointStore persists execution-state snapshots for in-flight workloads
type ICheckpointStore interface {
	// Checkpoints are keyed by (workloadId, offset); saving an existing key replaces it
	SaveCheckpoint(ctx context.Context, checkpoint *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, workloadId string, offset uint64) (*types.Checkpoint, error)
	// ListCheckpoints returns the workload's checkpoints in ascending offset order
	ListCheckpoints(ctx context.Context, workloadId string) ([]*types.Checkpoint, error)
	// DeleteWorkloadCheckpoints removes every checkpoint of the workload and returns how many there were
	DeleteWorkloadCheckpoints(ctx context.Context, workloadId string) (int, error)
	// ListWorkloads returns the ids of workloads that still hold checkpoints
	ListWorkloads(ctx context.Context) ([]string, error)

	// Lifecycle management
	Close() error
}

// ValidateCheckpoint checks the fields every store relies on for keying
func ValidateCheckpoint(checkpoint *types.Checkpoint) error {
	if checkpoint == nil {
		return fmt.Errorf("%w: checkpoint cannot be nil", ErrInvalidCheckpoint)
	}
	return ValidateWorkloadId(checkpoint.WorkloadId)
}

func ValidateWorkloadId(workloadId string) error {
	if workloadId == "" {
		return fmt.Errorf("%w: workload ID cannot be empty", ErrInvalidCheckpoint)
	}
	if strings.Contains(workloadId, ":") {
		return fmt.Errorf("%w: workload ID cannot contain ':'", ErrInvalidCheckpoint)
	}
	return nil
}
