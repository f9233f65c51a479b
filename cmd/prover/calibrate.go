package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/calibrator"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/logger"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagStrategy = "strategy"

	strategyAll = "all"
)

// used when no --program is given
var defaultCalibrationProgram = &calibrator.CalibrationProgram{
	Program: []byte("ponos-calibration-fibonacci"),
	Input:   make([]byte, 1024),
	Mode:    types.AssuranceMode_Compressed,
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure proving throughput and derive a price per prover gas unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})

		if err := Config.Validate(); err != nil {
			return err
		}

		strategy := viper.GetString(flagStrategy)
		valid := []string{string(calibrator.Strategy_Single), string(calibrator.Strategy_Fleet), string(calibrator.Strategy_Parallel), strategyAll}
		if !slices.Contains(valid, strategy) {
			return fmt.Errorf("unknown strategy '%s', expected one of %v", strategy, valid)
		}

		program, err := loadCalibrationProgram()
		if err != nil {
			return err
		}

		ctx := context.Background()
		p, err := newPipeline(ctx, Config, l)
		if err != nil {
			return err
		}
		defer p.Close(ctx)

		pricing := calibrator.NewPricingModel(Config.Calibration)
		devices := Config.Capacity.DeviceCount

		var results []*calibrator.CalibrationMetrics
		run := func(c calibrator.ICalibrator) error {
			result, err := c.Calibrate(ctx)
			if err != nil {
				return err
			}
			results = append(results, result)
			return nil
		}
		switch calibrator.Strategy(strategy) {
		case calibrator.Strategy_Single:
			err = run(calibrator.NewSinglePassCalibrator(p.engine, program, pricing, l))
		case calibrator.Strategy_Fleet:
			err = run(calibrator.NewFleetNormalizedCalibrator(p.engine, program, pricing, devices, l))
		case calibrator.Strategy_Parallel:
			err = run(calibrator.NewParallelCalibrator(p.engine, program, pricing, devices, l))
		default:
			if err = run(calibrator.NewSinglePassCalibrator(p.engine, program, pricing, l)); err != nil {
				break
			}
			var report *calibrator.CalibrationReport
			if report, err = calibrator.FleetCalibration(ctx, p.engine, program, pricing, devices, l); err == nil {
				results = append(results, report.Estimated, report.Measured)
			}
		}
		if err != nil {
			return err
		}

		for _, result := range results {
			record := result.Record()
			p.metrics.ObserveCalibration(record)
			if err := p.sink.PublishCalibration(ctx, record); err != nil {
				l.Sugar().Debugw("Failed to publish calibration", zap.Error(err))
			}
		}

		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	calibrateCmd.Flags().String(flagStrategy, strategyAll, "single, fleet, parallel or all")
	calibrateCmd.Flags().String(flagProgram, "", "path to the benchmark program, empty for the built-in one")
	calibrateCmd.Flags().String(flagInput, "", "path to the benchmark input")
}

func loadCalibrationProgram() (*calibrator.CalibrationProgram, error) {
	programPath := viper.GetString(flagProgram)
	if programPath == "" {
		return defaultCalibrationProgram, nil
	}
	program, err := os.ReadFile(programPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	var input []byte
	if inputPath := viper.GetString(flagInput); inputPath != "" {
		if input, err = os.ReadFile(inputPath); err != nil {
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
	}
	return &calibrator.CalibrationProgram{Program: program, Input: input, Mode: types.AssuranceMode_Compressed}, nil
}
