package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/config"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/logger"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/shutdown"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagProgram  = "program"
	flagInput    = "input"
	flagMode     = "mode"
	flagDeadline = "deadline"
	flagOutput   = "output"
)

var errInterrupted = errors.New("interrupted before the workload finished")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Prove a single workload",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})

		if err := Config.Validate(); err != nil {
			return err
		}

		workload, err := loadWorkload()
		if err != nil {
			return err
		}

		l.Sugar().Infow("prover run",
			zap.String("workloadId", workload.WorkloadId),
			zap.Int("devices", Config.Capacity.DeviceCount),
			zap.Int("shardsPerDevice", Config.Capacity.ShardsPerDevice),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p, err := newPipeline(ctx, Config, l)
		if err != nil {
			return err
		}

		errs := make(chan error, 1)
		done := make(chan bool)
		go func() {
			defer close(done)
			result, err := p.prover.Prove(ctx, workload)
			if err == nil {
				err = writeResult(result, viper.GetString(flagOutput))
			}
			errs <- err
		}()

		gracefulShutdownNotifier := shutdown.CreateGracefulShutdownChannel()
		shutdown.ListenForShutdown(gracefulShutdownNotifier, done, func() {
			cancel()
			<-done
			p.Close(context.Background())
		}, time.Second*30, l)

		select {
		case err := <-errs:
			return err
		default:
			return errInterrupted
		}
	},
}

func init() {
	runCmd.Flags().String(flagProgram, "", "path to the program binary")
	runCmd.Flags().String(flagInput, "", "path to the program input, empty for none")
	runCmd.Flags().String(flagMode, string(types.AssuranceMode_Compressed), "assurance mode: fast, compressed, succinct or minimal-verification")
	runCmd.Flags().Duration(flagDeadline, 0, "advisory deadline measured from submission, 0 for none")
	runCmd.Flags().String(flagOutput, "", "write the proof artifact as json to this path instead of stdout")
}

func loadWorkload() (*types.Workload, error) {
	programPath := viper.GetString(flagProgram)
	if programPath == "" {
		return nil, fmt.Errorf("--%s is required", flagProgram)
	}
	program, err := os.ReadFile(programPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}

	var input []byte
	if inputPath := viper.GetString(flagInput); inputPath != "" {
		input, err = os.ReadFile(inputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
	}

	mode, err := types.ParseAssuranceMode(viper.GetString(flagMode))
	if err != nil {
		return nil, err
	}

	var deadline *time.Time
	if d := viper.GetDuration(flagDeadline); d > 0 {
		t := time.Now().Add(d)
		deadline = &t
	}
	return types.NewWorkload(program, input, mode, deadline)
}

type runOutput struct {
	WorkloadId      string               `json:"workloadId"`
	TotalCycles     uint64               `json:"totalCycles"`
	EstimatedCycles uint64               `json:"estimatedCycles"`
	Shards          int                  `json:"shards"`
	ProcessingTime  string               `json:"processingTime"`
	DeadlineMissed  bool                 `json:"deadlineMissed"`
	Artifact        *types.ProofArtifact `json:"artifact"`
}

func writeResult(result *prover.ProveResult, path string) error {
	data, err := json.MarshalIndent(&runOutput{
		WorkloadId:      result.WorkloadId,
		TotalCycles:     result.TotalCycles,
		EstimatedCycles: result.EstimatedCycles,
		Shards:          len(result.Results),
		ProcessingTime:  result.ProcessingTime.String(),
		DeadlineMissed:  result.DeadlineMissed,
		Artifact:        result.Artifact,
	}, "", "  ")
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(path, data, 0o644)
}

func initRunCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
