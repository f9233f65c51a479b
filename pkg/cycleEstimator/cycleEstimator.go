package cycleEstimator

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
)

// ICycleEstimator predicts how many cycles a program takes on an input. Results are estimates;
// the executor measures the real count.
type ICycleEstimator interface {
	Estimate(ctx context.Context, program []byte, input []byte) (uint64, error)
}

// HeuristicCycleEstimator scales with program and input size.
type HeuristicCycleEstimator struct {
	BaseCycles    uint64
	CyclesPerByte uint64
}

// NewHeuristicCycleEstimator creates an estimator returning baseCycles plus cyclesPerByte for every
// program and input byte
func NewHeuristicCycleEstimator(baseCycles, cyclesPerByte uint64) *HeuristicCycleEstimator {
	return &HeuristicCycleEstimator{BaseCycles: baseCycles, CyclesPerByte: cyclesPerByte}
}

func (h *HeuristicCycleEstimator) Estimate(ctx context.Context, program []byte, input []byte) (uint64, error) {
	if len(program) == 0 {
		return 0, fmt.Errorf("program cannot be empty")
	}
	return h.BaseCycles + h.CyclesPerByte*uint64(len(program)+len(input)), nil
}

// ExecutingCycleEstimator asks the proving engine to run the program without proving.
type ExecutingCycleEstimator struct {
	engine provingEngine.IProvingEngine
}

// NewExecutingCycleEstimator creates an estimator that measures by executing on engine
func NewExecutingCycleEstimator(engine provingEngine.IProvingEngine) *ExecutingCycleEstimator {
	return &ExecutingCycleEstimator{engine: engine}
}

func (e *ExecutingCycleEstimator) Estimate(ctx context.Context, program []byte, input []byte) (uint64, error) {
	cycles, err := e.engine.Execute(ctx, program, input)
	if err != nil {
		return 0, fmt.Errorf("failed to execute program for cycle estimate: %w", err)
	}
	return cycles, nil
}
