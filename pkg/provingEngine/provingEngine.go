package provingEngine

import (
	"context"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
)

type Keys struct {
	ProgramDigest   string
	ProvingKey      []byte
	VerificationKey []byte
}

type ProveRequest struct {
	WorkloadId string
	Keys       *Keys
	Input      []byte
	Mode       types.AssuranceMode
	Range      types.CycleRange
	// Checkpoint is the execution state at Range.Start, nil when proving starts from cycle 0
	Checkpoint *types.Checkpoint
	ShardId    int
}

// IProvingEngine is the zero-knowledge backend that executes programs and produces proofs.
type IProvingEngine interface {
	Setup(ctx context.Context, program []byte) (*Keys, error)

	// Execute runs the program without proving and returns the number of cycles it took
	Execute(ctx context.Context, program []byte, input []byte) (uint64, error)

	Prove(ctx context.Context, req *ProveRequest) (*types.ProofArtifact, error)

	// Compose recursively combines two proofs over adjacent cycle ranges, left first
	Compose(ctx context.Context, left, right *types.ProofArtifact) (*types.ProofArtifact, error)

	Verify(ctx context.Context, artifact *types.ProofArtifact, verificationKey []byte) error
}

// IStateAdvancer is implemented by engines that can snapshot execution state at a cycle offset.
type IStateAdvancer interface {
	AdvanceState(ctx context.Context, program []byte, input []byte, from *types.Checkpoint, toCycle uint64) ([]byte, error)
}

// IDeviceBinder is implemented by engines that pin work to a specific accelerator.
type IDeviceBinder interface {
	BindDevice(ctx context.Context, deviceId int) error
}
