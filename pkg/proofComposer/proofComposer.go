package proofComposer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/provingEngine"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/tracing"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type IComposer interface {
	Compose(ctx context.Context, left, right *types.ProofArtifact) (*types.ProofArtifact, error)
}

var _ IComposer = (provingEngine.IProvingEngine)(nil)

// ProofComposer aggregates shard results into one proof covering the whole workload.
type ProofComposer struct {
	composer IComposer
	logger   *zap.Logger
}

// NewProofComposer creates a new proof composer
func NewProofComposer(composer IComposer, logger *zap.Logger) *ProofComposer {
	return &ProofComposer{
		composer: composer,
		logger:   logger,
	}
}

// Compose combines results in shard-id order. Any failed shard fails the whole workload. A single
// result is returned as-is; otherwise adjacent proofs are combined pairwise, level by level, with
// the pairs of one level composed concurrently.
func (c *ProofComposer) Compose(ctx context.Context, workloadId string, results []*types.ShardResult) (*types.ProofArtifact, error) {
	if len(results) == 0 {
		return nil, &CompositionError{WorkloadId: workloadId, Err: ErrNoResults}
	}

	ordered := slices.Clone(results)
	slices.SortFunc(ordered, func(a, b *types.ShardResult) int {
		return a.ShardId - b.ShardId
	})

	var failed []int
	var causes error
	for _, r := range ordered {
		switch {
		case r.Err != nil:
			failed = append(failed, r.ShardId)
			causes = multierr.Append(causes, r.Err)
		case r.Artifact == nil:
			failed = append(failed, r.ShardId)
			causes = multierr.Append(causes, fmt.Errorf("shard %d: %w", r.ShardId, ErrMissingArtifact))
		}
	}
	if len(failed) > 0 {
		return nil, &CompositionError{
			WorkloadId:     workloadId,
			FailedShardIds: failed,
			Err:            multierr.Append(ErrShardsFailed, causes),
		}
	}

	if len(ordered) == 1 {
		return ordered[0].Artifact, nil
	}

	for i := 1; i < len(ordered); i++ {
		prev, next := ordered[i-1].Artifact.Range, ordered[i].Artifact.Range
		if !prev.Adjacent(next) {
			return nil, &CompositionError{
				WorkloadId: workloadId,
				Err:        fmt.Errorf("%w: shard %d ends at %d but shard %d starts at %d", ErrNonContiguous, ordered[i-1].ShardId, prev.End, ordered[i].ShardId, next.Start),
			}
		}
	}

	ctx, span := tracing.StartSpan(ctx, "proof.compose",
		attribute.String("workloadId", workloadId),
		attribute.Int("shards", len(ordered)),
	)
	start := time.Now()

	level := make([]*types.ProofArtifact, len(ordered))
	for i, r := range ordered {
		level[i] = r.Artifact
	}
	depth := 0
	for len(level) > 1 {
		next, err := c.composeLevel(ctx, level)
		if err != nil {
			compErr := &CompositionError{WorkloadId: workloadId, Err: multierr.Append(ErrComposeFailed, err)}
			span.End(compErr)
			return nil, compErr
		}
		level = next
		depth++
	}
	span.End(nil)

	c.logger.Sugar().Infow("Composed workload proof",
		zap.String("workloadId", workloadId),
		zap.Int("shards", len(ordered)),
		zap.Int("levels", depth),
		zap.String("range", level[0].Range.String()),
		zap.Duration("duration", time.Since(start)),
	)
	return level[0], nil
}

// composeLevel combines (0,1), (2,3), ... concurrently. An odd trailing proof carries over to the
// next level unchanged, so left-to-right order is preserved.
func (c *ProofComposer) composeLevel(ctx context.Context, level []*types.ProofArtifact) ([]*types.ProofArtifact, error) {
	next := make([]*types.ProofArtifact, (len(level)+1)/2)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i+1 < len(level); i += 2 {
		i := i
		g.Go(func() error {
			combined, err := c.composer.Compose(gctx, level[i], level[i+1])
			if err != nil {
				return fmt.Errorf("composing %s with %s: %w", level[i].Range, level[i+1].Range, err)
			}
			next[i/2] = combined
			return nil
		})
	}
	if len(level)%2 == 1 {
		next[len(next)-1] = level[len(level)-1]
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return next, nil
}
