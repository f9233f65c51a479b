package calibrator

import (
	"context"
	"fmt"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/metrics"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/tracing"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Strategy string

const (
	Strategy_Single   Strategy = "single"
	Strategy_Fleet    Strategy = "fleet"
	Strategy_Parallel Strategy = "parallel"
)

type ICalibrator interface {
	Calibrate(ctx context.Context) (*CalibrationMetrics, error)
}

// CalibrationMetrics is the outcome of one calibration run. Estimated marks throughput extrapolated
// from sequential runs rather than measured in parallel.
type CalibrationMetrics struct {
	Strategy      Strategy      `json:"strategy"`
	PgusPerSecond float64       `json:"pgusPerSecond"`
	PguPrice      float64       `json:"pguPrice"`
	Estimated     bool          `json:"estimated"`
	Runs          int           `json:"runs"`
	TotalPgus     uint64        `json:"totalPgus"`
	Elapsed       time.Duration `json:"elapsed"`
}

func (m *CalibrationMetrics) Record() *metrics.CalibrationRecord {
	return &metrics.CalibrationRecord{
		Strategy:      string(m.Strategy),
		PgusPerSecond: m.PgusPerSecond,
		PguPrice:      m.PguPrice,
		Estimated:     m.Estimated,
		At:            time.Now(),
	}
}

// CalibrationProgram is the benchmark workload every strategy proves end to end.
type CalibrationProgram struct {
	Program []byte
	Input   []byte
	Mode    types.AssuranceMode
}

type calibration struct {
	engine  provingEngine.IProvingEngine
	program *CalibrationProgram
	pricing PricingModel
	logger  *zap.Logger
}

// prepare executes the program once for its cycle count and generates proving keys.
func (c *calibration) prepare(ctx context.Context, strategy Strategy) (uint64, *provingEngine.Keys, error) {
	cycles, err := c.engine.Execute(ctx, c.program.Program, c.program.Input)
	if err != nil {
		return 0, nil, &CalibrationError{Strategy: strategy, Stage: "execute", Err: err}
	}
	keys, err := c.engine.Setup(ctx, c.program.Program)
	if err != nil {
		return 0, nil, &CalibrationError{Strategy: strategy, Stage: "setup", Err: err}
	}
	c.logger.Sugar().Infow("Calibration program prepared",
		zap.String("strategy", string(strategy)),
		zap.Uint64("pgus", cycles),
	)
	return cycles, keys, nil
}

func (c *calibration) proveOnce(ctx context.Context, strategy Strategy, keys *provingEngine.Keys, cycles uint64, run int) error {
	mode := c.program.Mode
	if mode == "" {
		mode = types.AssuranceMode_Compressed
	}
	_, err := c.engine.Prove(ctx, &provingEngine.ProveRequest{
		WorkloadId: fmt.Sprintf("calibration-%s-%d", strategy, run),
		Keys:       keys,
		Input:      c.program.Input,
		Mode:       mode,
		Range:      types.CycleRange{Start: 0, End: cycles},
		ShardId:    run,
	})
	if err != nil {
		return &CalibrationError{Strategy: strategy, Stage: "prove", Err: fmt.Errorf("run %d: %w", run, err)}
	}
	return nil
}

func (c *calibration) finish(strategy Strategy, totalPgus uint64, throughput float64, runs int, elapsed time.Duration, estimated bool) (*CalibrationMetrics, error) {
	price, err := c.pricing.UnitPrice(throughput)
	if err != nil {
		if calErr, ok := err.(*CalibrationError); ok {
			calErr.Strategy = strategy
		}
		return nil, err
	}
	result := &CalibrationMetrics{
		Strategy:      strategy,
		PgusPerSecond: throughput,
		PguPrice:      price,
		Estimated:     estimated,
		Runs:          runs,
		TotalPgus:     totalPgus,
		Elapsed:       elapsed,
	}
	c.logger.Sugar().Infow("Calibration complete",
		zap.String("strategy", string(strategy)),
		zap.Int("runs", runs),
		zap.Uint64("totalPgus", totalPgus),
		zap.Duration("elapsed", elapsed),
		zap.Float64("pgusPerSecond", throughput),
		zap.Float64("pguPrice", price),
		zap.Bool("estimated", estimated),
	)
	return result, nil
}

// SinglePassCalibrator times one full proof of the calibration program.
type SinglePassCalibrator struct {
	calibration
}

// NewSinglePassCalibrator creates a calibrator that times one full proof on a single device
func NewSinglePassCalibrator(engine provingEngine.IProvingEngine, program *CalibrationProgram, pricing PricingModel, logger *zap.Logger) *SinglePassCalibrator {
	return &SinglePassCalibrator{calibration{engine: engine, program: program, pricing: pricing, logger: logger}}
}

func (s *SinglePassCalibrator) Calibrate(ctx context.Context) (result *CalibrationMetrics, err error) {
	ctx, span := tracing.StartSpan(ctx, "calibrate", attribute.String("strategy", string(Strategy_Single)))
	defer func() { span.End(err) }()

	cycles, keys, err := s.prepare(ctx, Strategy_Single)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := s.proveOnce(ctx, Strategy_Single, keys, cycles, 0); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	return s.finish(Strategy_Single, cycles, float64(cycles)/elapsed.Seconds(), 1, elapsed, false)
}

// FleetNormalizedCalibrator runs one proof per device back to back and divides the elapsed time by
// the number of runs. This assumes proofs would scale linearly across devices, so the result is an
// upper-bound estimate and is marked Estimated.
type FleetNormalizedCalibrator struct {
	calibration
	runs int
}

// NewFleetNormalizedCalibrator creates a calibrator that proves once per device in turn and
// averages the runs
func NewFleetNormalizedCalibrator(engine provingEngine.IProvingEngine, program *CalibrationProgram, pricing PricingModel, devices int, logger *zap.Logger) *FleetNormalizedCalibrator {
	return &FleetNormalizedCalibrator{
		calibration: calibration{engine: engine, program: program, pricing: pricing, logger: logger},
		runs:        max(devices, 1),
	}
}

func (f *FleetNormalizedCalibrator) Calibrate(ctx context.Context) (result *CalibrationMetrics, err error) {
	ctx, span := tracing.StartSpan(ctx, "calibrate",
		attribute.String("strategy", string(Strategy_Fleet)),
		attribute.Int("runs", f.runs),
	)
	defer func() { span.End(err) }()

	cycles, keys, err := f.prepare(ctx, Strategy_Fleet)
	if err != nil {
		return nil, err
	}

	var total uint64
	start := time.Now()
	for i := 0; i < f.runs; i++ {
		runStart := time.Now()
		if err := f.proveOnce(ctx, Strategy_Fleet, keys, cycles, i); err != nil {
			return nil, err
		}
		total += cycles
		f.logger.Sugar().Debugw("Calibration run complete",
			zap.Int("run", i+1),
			zap.Int("of", f.runs),
			zap.Duration("duration", time.Since(runStart)),
		)
	}
	elapsed := time.Since(start)
	perRun := elapsed.Seconds() / float64(f.runs)
	return f.finish(Strategy_Fleet, total, float64(total)/perRun, f.runs, elapsed, true)
}

// ParallelCalibrator launches one proof per device at the same time and measures the wall clock.
type ParallelCalibrator struct {
	calibration
	devices int
}

// NewParallelCalibrator creates a calibrator that proves on every device at once
func NewParallelCalibrator(engine provingEngine.IProvingEngine, program *CalibrationProgram, pricing PricingModel, devices int, logger *zap.Logger) *ParallelCalibrator {
	return &ParallelCalibrator{
		calibration: calibration{engine: engine, program: program, pricing: pricing, logger: logger},
		devices:     max(devices, 1),
	}
}

func (p *ParallelCalibrator) Calibrate(ctx context.Context) (result *CalibrationMetrics, err error) {
	ctx, span := tracing.StartSpan(ctx, "calibrate",
		attribute.String("strategy", string(Strategy_Parallel)),
		attribute.Int("devices", p.devices),
	)
	defer func() { span.End(err) }()

	cycles, keys, err := p.prepare(ctx, Strategy_Parallel)
	if err != nil {
		return nil, err
	}
	binder, _ := p.engine.(provingEngine.IDeviceBinder)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.devices; i++ {
		deviceId := i
		g.Go(func() error {
			if binder != nil {
				if err := binder.BindDevice(gctx, deviceId); err != nil {
					return &CalibrationError{Strategy: Strategy_Parallel, Stage: "bind", Err: err}
				}
			}
			return p.proveOnce(gctx, Strategy_Parallel, keys, cycles, deviceId)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	total := cycles * uint64(p.devices)
	return p.finish(Strategy_Parallel, total, float64(total)/elapsed.Seconds(), p.devices, elapsed, false)
}

// CalibrationReport pairs the linear-scaling estimate with the measured parallel throughput.
type CalibrationReport struct {
	Estimated *CalibrationMetrics `json:"estimated"`
	Measured  *CalibrationMetrics `json:"measured"`
}

// ScalingEfficiency is measured over estimated throughput; 1 means perfectly linear scaling.
func (r *CalibrationReport) ScalingEfficiency() float64 {
	if r.Estimated == nil || r.Measured == nil || r.Estimated.PgusPerSecond == 0 {
		return 0
	}
	return r.Measured.PgusPerSecond / r.Estimated.PgusPerSecond
}

// FleetCalibration runs the fleet estimate and the parallel measurement over the same devices.
func FleetCalibration(ctx context.Context, engine provingEngine.IProvingEngine, program *CalibrationProgram, pricing PricingModel, devices int, logger *zap.Logger) (*CalibrationReport, error) {
	estimated, err := NewFleetNormalizedCalibrator(engine, program, pricing, devices, logger).Calibrate(ctx)
	if err != nil {
		return nil, err
	}
	measured, err := NewParallelCalibrator(engine, program, pricing, devices, logger).Calibrate(ctx)
	if err != nil {
		return nil, err
	}
	report := &CalibrationReport{Estimated: estimated, Measured: measured}
	logger.Sugar().Infow("Fleet calibration report",
		zap.Float64("estimatedPgusPerSecond", estimated.PgusPerSecond),
		zap.Float64("measuredPgusPerSecond", measured.PgusPerSecond),
		zap.Float64("scalingEfficiency", report.ScalingEfficiency()),
	)
	return report, nil
}
