package evo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"graphgp/internal/dataset"
)

type IslandsResult struct {
	Best       RunResult
	BestIsland int
	Islands    []RunResult
}

// RunIslands runs independent populations concurrently. Island i is seeded
// with cfg.Seed+i and no individuals migrate between islands. The island with
// the lowest final fitness wins; ties go to the lower index.
func RunIslands(ctx context.Context, cfg RunConfig, islands int, data dataset.Dataset) (IslandsResult, error) {
	if islands < 1 {
		return IslandsResult{}, fmt.Errorf("%w: islands must be >= 1, got %d", ErrInvalidConfig, islands)
	}
	if err := cfg.Validate(); err != nil {
		return IslandsResult{}, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make([]RunResult, islands)
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(islands)
	for i := 0; i < islands; i++ {
		islandCfg := cfg
		islandCfg.Seed = cfg.Seed + int64(i)
		islandCfg.Logger = logger.With("island", i)
		p.Go(func(ctx context.Context) error {
			result, err := Run(ctx, islandCfg, data)
			if err != nil {
				return fmt.Errorf("island %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return IslandsResult{}, err
	}

	bestIsland := 0
	for i := 1; i < islands; i++ {
		if results[i].BestFitness < results[bestIsland].BestFitness {
			bestIsland = i
		}
	}
	return IslandsResult{
		Best:       results[bestIsland],
		BestIsland: bestIsland,
		Islands:    results,
	}, nil
}
