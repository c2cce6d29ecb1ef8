package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"

	"graphgp/internal/chromosome"
	"graphgp/internal/dataset"
)

type RunConfig struct {
	Config
	Generations int
	Seed        int64
	Logger      *slog.Logger
	Recorder    Recorder
}

func (c RunConfig) Validate() error {
	if c.Generations < 1 {
		return fmt.Errorf("%w: generations must be >= 1, got %d", ErrInvalidConfig, c.Generations)
	}
	return c.Config.Validate()
}

type RunResult struct {
	Best        *chromosome.Chromosome
	BestFitness float64
	Expression  string
	// History holds the elite fitness of every generation in order, starting
	// at generation 0.
	History     []GenerationFitness
	Diagnostics []GenerationDiagnostics
	Evaluations int
	Elapsed     time.Duration
}

// BestByGeneration flattens History into fitness values.
func (r RunResult) BestByGeneration() []float64 {
	out := make([]float64, len(r.History))
	for i, item := range r.History {
		out[i] = item.BestFitness
	}
	return out
}

// Run evolves a population for cfg.Generations generations. The initial
// population is evaluated once; every generation then reproduces from the
// evaluated members, records the elite fitness and replaces the population
// with the evaluated offspring.
func Run(ctx context.Context, cfg RunConfig, data dataset.Dataset) (RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return RunResult{}, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}

	start := time.Now()
	pop, err := Initialize(rand.New(rand.NewSource(cfg.Seed)), cfg.Config, data)
	if err != nil {
		return RunResult{}, err
	}
	logger.Info("evolution started",
		"population", pop.Size(),
		"genes", cfg.GeneCount,
		"generations", cfg.Generations,
		"rows", data.Len(),
		"variables", data.VariableCount(),
		"seed", cfg.Seed,
	)

	evalStart := time.Now()
	if err := pop.Evaluate(ctx, data); err != nil {
		return RunResult{}, err
	}
	recorder.ObserveEvaluation(pop.Size(), time.Since(evalStart))

	history := make([]GenerationFitness, 0, cfg.Generations)
	diagnostics := make([]GenerationDiagnostics, 0, cfg.Generations)
	for gen := 0; gen < cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		diag := summarizeGeneration(gen, pop.Members(), pop.Evaluations())
		next, eliteFitness := pop.Reproduce()
		history = append(history, GenerationFitness{Generation: gen, BestFitness: eliteFitness})
		diagnostics = append(diagnostics, diag)
		recorder.ObserveGeneration(diag)
		logger.Debug("generation complete",
			"generation", gen,
			"best_fitness", eliteFitness,
			"mean_fitness", diag.MeanFitness,
			"diversity", diag.GenotypeDiversity,
		)

		evalStart := time.Now()
		if err := pop.ReplaceAndEvaluate(ctx, next, data); err != nil {
			return RunResult{}, err
		}
		recorder.ObserveEvaluation(pop.Size(), time.Since(evalStart))
	}

	best := pop.Best()
	result := RunResult{
		Best:        best,
		BestFitness: best.Fitness,
		Expression:  best.Expression(),
		History:     history,
		Diagnostics: diagnostics,
		Evaluations: pop.Evaluations(),
		Elapsed:     time.Since(start),
	}
	logger.Info("evolution finished",
		"best_fitness", result.BestFitness,
		"expression", result.Expression,
		"evaluations", humanize.Comma(int64(result.Evaluations)),
		"elapsed", result.Elapsed.Round(time.Millisecond),
	)
	return result, nil
}
