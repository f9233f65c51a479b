package main

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage/badger"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/checkpoint/storage/memory"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/cycleEstimator"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/deviceTelemetry"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/metrics"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine/simulatedProvingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const serviceName = "ponos-prover"

var version = "dev"

type pipeline struct {
	engine        provingEngine.IProvingEngine
	store         storage.ICheckpointStore
	sink          *metrics.AsyncSink
	metrics       *metrics.ProverMetrics
	metricsServer *metrics.Server
	prover        *prover.ShardedProver
	tracer        *tracing.Provider
	logger        *zap.Logger
}

func newEngine(cfg *proverConfig.EngineConfig, l *zap.Logger) (provingEngine.IProvingEngine, error) {
	switch cfg.Type {
	case proverConfig.EngineType_Simulated:
		sim := cfg.Simulated
		return simulatedProvingEngine.NewSimulatedProvingEngine(&simulatedProvingEngine.SimulatedProvingEngineConfig{
			CyclesPerByte:             sim.CyclesPerByte,
			BaseCycles:                sim.BaseCycles,
			ProveTimePerMillionCycles: sim.ProveTimePerMillionCycles,
			SetupTime:                 sim.SetupTime,
			ComposeTime:               sim.ComposeTime,
		}, l), nil
	default:
		return nil, fmt.Errorf("unknown engine type: %s", cfg.Type)
	}
}

func newStore(cfg *proverConfig.StorageConfig, l *zap.Logger) (storage.ICheckpointStore, error) {
	switch cfg.Type {
	case proverConfig.StorageType_Memory:
		l.Sugar().Infow("Using in-memory checkpoint storage")
		return memory.NewInMemoryCheckpointStore(), nil
	case proverConfig.StorageType_Badger:
		l.Sugar().Infow("Using BadgerDB checkpoint storage", zap.String("dir", cfg.BadgerConfig.Dir))
		store, err := badger.NewBadgerCheckpointStore(cfg.BadgerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

func newEstimator(cfg *proverConfig.EstimatorConfig, engine provingEngine.IProvingEngine) cycleEstimator.ICycleEstimator {
	if cfg.Type == proverConfig.EstimatorType_Heuristic {
		return cycleEstimator.NewHeuristicCycleEstimator(cfg.BaseCycles, cfg.CyclesPerByte)
	}
	return cycleEstimator.NewExecutingCycleEstimator(engine)
}

// newPipeline builds everything a command needs from a validated config. Callers must close it.
func newPipeline(ctx context.Context, cfg *proverConfig.ProverConfig, l *zap.Logger) (*pipeline, error) {
	engine, err := newEngine(cfg.Engine, l)
	if err != nil {
		return nil, err
	}

	var tracer *tracing.Provider
	if cfg.Tracing.Enabled {
		if tracer, err = tracing.Init(serviceName, version, cfg.Tracing.Output); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	store, err := newStore(cfg.Storage, l)
	if err != nil {
		if closeErr := tracer.Close(ctx); closeErr != nil {
			l.Sugar().Warnw("Failed to close tracer", zap.Error(closeErr))
		}
		return nil, err
	}

	registry := prometheus.NewRegistry()
	proverMetrics := metrics.NewProverMetrics(registry)
	sink := metrics.NewAsyncSink(metrics.NewLoggingSink(l), cfg.Metrics.SinkBufferSize, proverMetrics.Collectors(), l)

	p := &pipeline{
		engine:  engine,
		store:   store,
		sink:    sink,
		metrics: proverMetrics,
		tracer:  tracer,
		logger:  l,
	}
	if cfg.Metrics.Enabled {
		p.metricsServer = metrics.NewServer(cfg.Metrics.Port, registry, l)
		go func() {
			if err := p.metricsServer.Start(); err != nil {
				l.Sugar().Errorw("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	p.prover, err = prover.NewShardedProver(&prover.ShardedProverConfig{
		Capacity:         cfg.Capacity,
		Monitor:          cfg.Monitor,
		VerifyFinalProof: cfg.VerifyFinalProof,
	},
		engine,
		newEstimator(cfg.Estimator, engine),
		store,
		deviceTelemetry.NewStaticDeviceTelemetry(cfg.Capacity.DeviceCount, "simulated", 0),
		sink,
		proverMetrics,
		l,
	)
	if err != nil {
		p.Close(ctx)
		return nil, err
	}

	discarded, err := p.prover.DiscardOrphanedCheckpoints(ctx)
	if err != nil {
		l.Sugar().Warnw("Failed to discard orphaned checkpoints", zap.Error(err))
	} else if discarded > 0 {
		l.Sugar().Infow("Discarded orphaned checkpoints", zap.Int("workloads", discarded))
	}
	return p, nil
}

func (p *pipeline) Close(ctx context.Context) {
	if p.prover != nil {
		if err := p.prover.Close(ctx); err != nil {
			p.logger.Sugar().Warnw("Failed to close prover", zap.Error(err))
		}
	}
	if err := p.sink.Close(ctx); err != nil {
		p.logger.Sugar().Warnw("Failed to flush metrics sink", zap.Error(err))
	}
	if dropped := p.sink.Dropped(); dropped > 0 {
		p.logger.Sugar().Warnw("Metrics sink dropped events", zap.Uint64("dropped", dropped))
	}
	if err := p.metricsServer.Stop(ctx); err != nil {
		p.logger.Sugar().Warnw("Failed to stop metrics server", zap.Error(err))
	}
	if err := p.store.Close(); err != nil {
		p.logger.Sugar().Errorw("Failed to close storage", zap.Error(err))
	}
	if err := p.tracer.Close(ctx); err != nil {
		p.logger.Sugar().Warnw("Failed to close tracer", zap.Error(err))
	}
}
