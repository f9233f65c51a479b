package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AssuranceMode is the requested proof strength. Modes are ordered from cheapest to prove
// to cheapest to verify.
type AssuranceMode string

const (
	AssuranceMode_Fast                AssuranceMode = "fast"
	AssuranceMode_Compressed          AssuranceMode = "compressed"
	AssuranceMode_Succinct            AssuranceMode = "succinct"
	AssuranceMode_MinimalVerification AssuranceMode = "minimal-verification"
)

var AssuranceModes = []AssuranceMode{
	AssuranceMode_Fast,
	AssuranceMode_Compressed,
	AssuranceMode_Succinct,
	AssuranceMode_MinimalVerification,
}

// Rank returns the position of the mode in AssuranceModes, or -1 when unknown.
func (m AssuranceMode) Rank() int {
	return slices.Index(AssuranceModes, m)
}

func (m AssuranceMode) Validate() error {
	if m.Rank() < 0 {
		return fmt.Errorf("unknown assurance mode '%s'", m)
	}
	return nil
}

func ParseAssuranceMode(s string) (AssuranceMode, error) {
	m := AssuranceMode(s)
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

type Workload struct {
	WorkloadId  string
	Program     []byte
	Input       []byte
	Mode        AssuranceMode
	Deadline    *time.Time
	SubmittedAt time.Time
}

// NewWorkload copies program and input so later mutation by the caller cannot leak into shards.
func NewWorkload(program, input []byte, mode AssuranceMode, deadline *time.Time) (*Workload, error) {
	if len(program) == 0 {
		return nil, fmt.Errorf("program cannot be empty")
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	var dl *time.Time
	if deadline != nil {
		d := *deadline
		dl = &d
	}
	return &Workload{
		WorkloadId:  uuid.New().String(),
		Program:     slices.Clone(program),
		Input:       slices.Clone(input),
		Mode:        mode,
		Deadline:    dl,
		SubmittedAt: time.Now(),
	}, nil
}

func (w *Workload) ProgramCopy() []byte {
	return slices.Clone(w.Program)
}

func (w *Workload) InputCopy() []byte {
	return slices.Clone(w.Input)
}

// ProgramDigest identifies the program independent of the workload it was submitted with.
func (w *Workload) ProgramDigest() string {
	return ProgramDigest(w.Program)
}

func (w *Workload) DeadlinePassed(now time.Time) bool {
	return w.Deadline != nil && now.After(*w.Deadline)
}

func ProgramDigest(program []byte) string {
	sum := sha256.Sum256(program)
	return hex.EncodeToString(sum[:])
}
