package checkpointManager

import (
	"errors"
	"fmt"
)

var (
	ErrStateAdvanceUnsupported = errors.New("proving engine cannot snapshot execution state")
	ErrOffsetBehindStart       = errors.New("checkpoint offset is behind its starting state")
)

// CheckpointError reports a checkpoint that could not be produced, stored or loaded.
type CheckpointError struct {
	WorkloadId string
	Offset     uint64
	Err        error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint for workload %s at cycle %d: %v", e.WorkloadId, e.Offset, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}
