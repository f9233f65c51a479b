package types

import (
	"fmt"
	"time"
)

// CycleRange is the half-open interval [Start, End) of execution cycles.
type CycleRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (r CycleRange) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r CycleRange) IsEmpty() bool {
	return r.Len() == 0
}

// Adjacent reports whether next begins exactly where r ends.
func (r CycleRange) Adjacent(next CycleRange) bool {
	return r.End == next.Start
}

func (r CycleRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

type CheckpointRef struct {
	WorkloadId string
	Offset     uint64
}

type Checkpoint struct {
	WorkloadId string    `json:"workloadId"`
	Offset     uint64    `json:"offset"`
	State      []byte    `json:"state"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Shard struct {
	ShardId    int
	DeviceId   int
	WorkloadId string
	Program    []byte
	Input      []byte
	Range      CycleRange
	Mode       AssuranceMode
	Checkpoint *CheckpointRef
}

type DeviceSnapshot struct {
	DeviceId    int     `json:"deviceId"`
	Name        string  `json:"name"`
	MemoryTotal uint64  `json:"memoryTotal"`
	MemoryFree  uint64  `json:"memoryFree"`
	Utilization float64 `json:"utilization"`
	Temperature float64 `json:"temperature"`
}

type ProofArtifact struct {
	WorkloadId    string        `json:"workloadId"`
	Mode          AssuranceMode `json:"mode"`
	Range         CycleRange    `json:"range"`
	ProgramDigest string        `json:"programDigest"`
	Proof         []byte        `json:"proof"`
	ShardIds      []int         `json:"shardIds"`
}

// ShardResult is produced once per shard by the executor and never mutated afterwards.
type ShardResult struct {
	ShardId        int
	DeviceId       int
	WorkloadId     string
	Range          CycleRange
	Artifact       *ProofArtifact
	Err            error
	Cycles         uint64
	ProcessingTime time.Duration
	Device         *DeviceSnapshot
	CompletedAt    time.Time

	// ExecutedCycles is the program's measured execution length, nil when the shard failed before
	// it was measured
	ExecutedCycles *uint64
}

func (r *ShardResult) Succeeded() bool {
	return r != nil && r.Err == nil && r.Artifact != nil
}
