package proofComposer

import (
	"errors"
	"fmt"
)

var (
	ErrNoResults       = errors.New("no shard results to compose")
	ErrShardsFailed    = errors.New("one or more shards failed")
	ErrNonContiguous   = errors.New("shard ranges are not contiguous")
	ErrComposeFailed   = errors.New("proof composition failed")
	ErrMissingArtifact = errors.New("shard result has no proof artifact")
)

// CompositionError means no final proof could be produced for the workload. Partial proofs are
// never returned alongside it.
type CompositionError struct {
	WorkloadId     string
	FailedShardIds []int
	Err            error
}

func (e *CompositionError) Error() string {
	if len(e.FailedShardIds) > 0 {
		return fmt.Sprintf("failed to compose proof for workload %s (failed shards %v): %v", e.WorkloadId, e.FailedShardIds, e.Err)
	}
	return fmt.Sprintf("failed to compose proof for workload %s: %v", e.WorkloadId, e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}
