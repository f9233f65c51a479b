package partitioner

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCapacityConfig = errors.New("invalid capacity config")
	ErrInvalidWorkload       = errors.New("invalid workload")
	ErrNoCheckpointGenerator = errors.New("shards reference checkpoints but no checkpoint generator is configured")
)

// PartitionError reports a workload that could not be split into shards.
type PartitionError struct {
	WorkloadId string
	Err        error
}

func (e *PartitionError) Error() string {
	if e.WorkloadId == "" {
		return fmt.Sprintf("partition failed: %v", e.Err)
	}
	return fmt.Sprintf("partition of workload %s failed: %v", e.WorkloadId, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}
