package simulatedProvingEngine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	_ provingEngine.IProvingEngine = (*SimulatedProvingEngine)(nil)
	_ provingEngine.IStateAdvancer = (*SimulatedProvingEngine)(nil)
	_ provingEngine.IDeviceBinder  = (*SimulatedProvingEngine)(nil)
)

type SimulatedProvingEngineConfig struct {
	CyclesPerByte             uint64
	BaseCycles                uint64
	ProveTimePerMillionCycles time.Duration
	SetupTime                 time.Duration
	ComposeTime               time.Duration
}

// SimulatedProvingEngine stands in for a zero-knowledge backend. Proofs are sha256 commitments to
// the claimed (program, mode, cycle range), so composition and verification can be checked without
// accelerator hardware. The Fn hooks let tests inject failures or latency per call.
type SimulatedProvingEngine struct {
	config *SimulatedProvingEngineConfig
	logger *zap.Logger

	SetupFn      func(program []byte) error
	ExecuteFn    func(program []byte, input []byte) (uint64, error)
	ProveFn      func(req *provingEngine.ProveRequest) error
	ComposeFn    func(left, right *types.ProofArtifact) error
	AdvanceFn    func(toCycle uint64) error
	BindDeviceFn func(deviceId int) error

	setupCalls   atomic.Int64
	executeCalls atomic.Int64
	proveCalls   atomic.Int64
	composeCalls atomic.Int64
	advanceCalls atomic.Int64
	verifyCalls  atomic.Int64

	inFlight     atomic.Int64
	peakInFlight atomic.Int64

	mu         sync.Mutex
	deviceUses map[int]int
}

// NewSimulatedProvingEngine creates a simulated engine. A nil cfg runs every program for
// 1,000,000 cycles plus 1,000 per input byte.
func NewSimulatedProvingEngine(cfg *SimulatedProvingEngineConfig, logger *zap.Logger) *SimulatedProvingEngine {
	if cfg == nil {
		cfg = &SimulatedProvingEngineConfig{BaseCycles: 1_000_000, CyclesPerByte: 1_000}
	}
	return &SimulatedProvingEngine{
		config:     cfg,
		logger:     logger,
		deviceUses: make(map[int]int),
	}
}

func (s *SimulatedProvingEngine) Setup(ctx context.Context, program []byte) (*provingEngine.Keys, error) {
	s.setupCalls.Add(1)
	if s.SetupFn != nil {
		if err := s.SetupFn(program); err != nil {
			return nil, err
		}
	}
	if len(program) == 0 {
		return nil, errors.New("program is empty")
	}
	if err := sleepCtx(ctx, s.config.SetupTime); err != nil {
		return nil, err
	}
	digest := types.ProgramDigest(program)
	return &provingEngine.Keys{
		ProgramDigest:   digest,
		ProvingKey:      keyFor("pk", digest),
		VerificationKey: keyFor("vk", digest),
	}, nil
}

func (s *SimulatedProvingEngine) Execute(ctx context.Context, program []byte, input []byte) (uint64, error) {
	s.executeCalls.Add(1)
	if s.ExecuteFn != nil {
		return s.ExecuteFn(program, input)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.config.BaseCycles + s.config.CyclesPerByte*uint64(len(input)), nil
}

func (s *SimulatedProvingEngine) Prove(ctx context.Context, req *provingEngine.ProveRequest) (*types.ProofArtifact, error) {
	s.proveCalls.Add(1)
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peakInFlight.Load()
		if current <= peak || s.peakInFlight.CompareAndSwap(peak, current) {
			break
		}
	}

	if req == nil || req.Keys == nil {
		return nil, errors.New("prove request is missing keys")
	}
	if s.ProveFn != nil {
		if err := s.ProveFn(req); err != nil {
			return nil, err
		}
	}
	if req.Checkpoint != nil {
		if req.Checkpoint.Offset != req.Range.Start {
			return nil, fmt.Errorf("checkpoint at cycle %d does not match range start %d", req.Checkpoint.Offset, req.Range.Start)
		}
		if !bytes.Equal(req.Checkpoint.State, s.stateAt(req.Keys.ProgramDigest, req.Input, req.Checkpoint.Offset)) {
			return nil, fmt.Errorf("checkpoint state at cycle %d is corrupt", req.Checkpoint.Offset)
		}
	}

	delay := time.Duration(float64(s.config.ProveTimePerMillionCycles) * float64(req.Range.Len()) / 1e6)
	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}

	s.logger.Sugar().Debugw("Simulated proof generated",
		zap.String("workloadId", req.WorkloadId),
		zap.Int("shardId", req.ShardId),
		zap.Uint64("cycles", req.Range.Len()),
	)
	return &types.ProofArtifact{
		WorkloadId:    req.WorkloadId,
		Mode:          req.Mode,
		Range:         req.Range,
		ProgramDigest: req.Keys.ProgramDigest,
		Proof:         claimDigest(req.Keys.ProgramDigest, req.Mode, req.Range),
		ShardIds:      []int{req.ShardId},
	}, nil
}

func (s *SimulatedProvingEngine) Compose(ctx context.Context, left, right *types.ProofArtifact) (*types.ProofArtifact, error) {
	s.composeCalls.Add(1)
	if left == nil || right == nil {
		return nil, errors.New("cannot compose a nil proof")
	}
	if s.ComposeFn != nil {
		if err := s.ComposeFn(left, right); err != nil {
			return nil, err
		}
	}
	if left.ProgramDigest != right.ProgramDigest || left.Mode != right.Mode {
		return nil, errors.New("proofs attest to different claims")
	}
	if !left.Range.Adjacent(right.Range) {
		return nil, fmt.Errorf("ranges %s and %s are not adjacent", left.Range, right.Range)
	}
	for _, p := range []*types.ProofArtifact{left, right} {
		if !bytes.Equal(p.Proof, claimDigest(p.ProgramDigest, p.Mode, p.Range)) {
			return nil, fmt.Errorf("constituent proof over %s is invalid", p.Range)
		}
	}
	if err := sleepCtx(ctx, s.config.ComposeTime); err != nil {
		return nil, err
	}

	combined := types.CycleRange{Start: left.Range.Start, End: right.Range.End}
	return &types.ProofArtifact{
		WorkloadId:    left.WorkloadId,
		Mode:          left.Mode,
		Range:         combined,
		ProgramDigest: left.ProgramDigest,
		Proof:         claimDigest(left.ProgramDigest, left.Mode, combined),
		ShardIds:      append(slices.Clone(left.ShardIds), right.ShardIds...),
	}, nil
}

func (s *SimulatedProvingEngine) Verify(ctx context.Context, artifact *types.ProofArtifact, verificationKey []byte) error {
	s.verifyCalls.Add(1)
	if artifact == nil {
		return errors.New("artifact is nil")
	}
	if !bytes.Equal(verificationKey, keyFor("vk", artifact.ProgramDigest)) {
		return errors.New("verification key does not match program")
	}
	if !bytes.Equal(artifact.Proof, claimDigest(artifact.ProgramDigest, artifact.Mode, artifact.Range)) {
		return errors.New("proof does not verify")
	}
	return nil
}

func (s *SimulatedProvingEngine) AdvanceState(ctx context.Context, program []byte, input []byte, from *types.Checkpoint, toCycle uint64) ([]byte, error) {
	s.advanceCalls.Add(1)
	if s.AdvanceFn != nil {
		if err := s.AdvanceFn(toCycle); err != nil {
			return nil, err
		}
	}
	digest := types.ProgramDigest(program)
	if from != nil {
		if from.Offset > toCycle {
			return nil, fmt.Errorf("cannot advance backwards from cycle %d to %d", from.Offset, toCycle)
		}
		if !bytes.Equal(from.State, s.stateAt(digest, input, from.Offset)) {
			return nil, fmt.Errorf("starting state at cycle %d is corrupt", from.Offset)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.stateAt(digest, input, toCycle), nil
}

func (s *SimulatedProvingEngine) BindDevice(ctx context.Context, deviceId int) error {
	if s.BindDeviceFn != nil {
		if err := s.BindDeviceFn(deviceId); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceUses[deviceId]++
	return nil
}

func (s *SimulatedProvingEngine) SetupCalls() int64   { return s.setupCalls.Load() }
func (s *SimulatedProvingEngine) ExecuteCalls() int64 { return s.executeCalls.Load() }
func (s *SimulatedProvingEngine) ProveCalls() int64   { return s.proveCalls.Load() }
func (s *SimulatedProvingEngine) ComposeCalls() int64 { return s.composeCalls.Load() }
func (s *SimulatedProvingEngine) AdvanceCalls() int64 { return s.advanceCalls.Load() }
func (s *SimulatedProvingEngine) VerifyCalls() int64  { return s.verifyCalls.Load() }

// PeakConcurrentProofs is the highest number of Prove calls observed in flight at once.
func (s *SimulatedProvingEngine) PeakConcurrentProofs() int64 { return s.peakInFlight.Load() }

func (s *SimulatedProvingEngine) DeviceUses(deviceId int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceUses[deviceId]
}

// StateAt is the snapshot the engine expects at offset, exported for tests that fabricate checkpoints.
func (s *SimulatedProvingEngine) StateAt(program []byte, input []byte, offset uint64) []byte {
	return s.stateAt(types.ProgramDigest(program), input, offset)
}

func (s *SimulatedProvingEngine) stateAt(programDigest string, input []byte, offset uint64) []byte {
	h := sha256.New()
	h.Write([]byte("state"))
	h.Write([]byte(programDigest))
	h.Write(input)
	h.Write(binary.BigEndian.AppendUint64(nil, offset))
	return h.Sum(nil)
}

func keyFor(kind, programDigest string) []byte {
	sum := sha256.Sum256([]byte(kind + ":" + programDigest))
	return sum[:]
}

func claimDigest(programDigest string, mode types.AssuranceMode, r types.CycleRange) []byte {
	h := sha256.New()
	h.Write([]byte("proof"))
	h.Write([]byte(programDigest))
	h.Write([]byte(mode))
	h.Write(binary.BigEndian.AppendUint64(nil, r.Start))
	h.Write(binary.BigEndian.AppendUint64(nil, r.End))
	return h.Sum(nil)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
