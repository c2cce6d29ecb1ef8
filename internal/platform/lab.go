package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"graphgp/internal/dataset"
	"graphgp/internal/evo"
	"graphgp/internal/model"
	"graphgp/internal/storage"
)

// createdAtLayout keeps every timestamp the same width so records sort
// chronologically as strings.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Config struct {
	Store    storage.Store
	Logger   *slog.Logger
	Recorder evo.Recorder
}

type EvolutionConfig struct {
	RunID       string
	DatasetPath string
	Data        dataset.Dataset
	Run         evo.RunConfig
	// Islands above one runs that many independent populations.
	Islands int
}

type EvolutionResult struct {
	Record      model.RunRecord
	Best        evo.RunResult
	BestIsland  int
	Islands     []evo.RunResult
	History     []model.GenerationFitness
	Diagnostics []model.GenerationDiagnostics
}

// Lab owns the run store and tracks in-flight runs so they can be stopped by
// id from another goroutine.
type Lab struct {
	store    storage.Store
	logger   *slog.Logger
	recorder evo.Recorder

	mu      sync.RWMutex
	started bool
	runs    map[string]context.CancelFunc
}

func NewLab(cfg Config) *Lab {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lab{
		store:    cfg.Store,
		logger:   logger,
		recorder: cfg.Recorder,
		runs:     make(map[string]context.CancelFunc),
	}
}

func (l *Lab) Init(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("store is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}
	if err := l.store.Init(ctx); err != nil {
		return err
	}
	l.started = true
	return nil
}

func (l *Lab) Started() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.started
}

func (l *Lab) Store() storage.Store {
	return l.store
}

// RunEvolution evolves cfg.Data and persists the run record, fitness history
// and diagnostics under cfg.RunID. Nothing is persisted for a run that fails
// or is stopped.
func (l *Lab) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	islands := cfg.Islands
	if islands <= 0 {
		islands = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := l.registerRun(cfg.RunID, cancel); err != nil {
		return EvolutionResult{}, err
	}
	defer l.unregisterRun(cfg.RunID)

	runCfg := cfg.Run
	runCfg.Logger = l.logger.With("run_id", cfg.RunID)
	if runCfg.Recorder == nil {
		runCfg.Recorder = l.recorder
	}

	createdAt := time.Now().UTC()
	var result EvolutionResult
	if islands == 1 {
		best, err := evo.Run(runCtx, runCfg, cfg.Data)
		if err != nil {
			return EvolutionResult{}, err
		}
		result.Best = best
		result.Islands = []evo.RunResult{best}
	} else {
		archipelago, err := evo.RunIslands(runCtx, runCfg, islands, cfg.Data)
		if err != nil {
			return EvolutionResult{}, err
		}
		result.Best = archipelago.Best
		result.BestIsland = archipelago.BestIsland
		result.Islands = archipelago.Islands
	}
	result.History = toModelHistory(result.Best.History)
	result.Diagnostics = toModelDiagnostics(result.Best.Diagnostics)

	evaluations := 0
	for _, island := range result.Islands {
		evaluations += island.Evaluations
	}
	result.Record = model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              cfg.RunID,
		CreatedAtUTC:    createdAt.Format(createdAtLayout),
		DatasetPath:     cfg.DatasetPath,
		Rows:            cfg.Data.Len(),
		Variables:       cfg.Data.VariableCount(),
		PopulationSize:  cfg.Run.PopulationSize,
		GeneCount:       cfg.Run.GeneCount,
		Generations:     cfg.Run.Generations,
		CrossoverChance: cfg.Run.CrossoverChance,
		MutationChance:  cfg.Run.MutationChance,
		Seed:            cfg.Run.Seed,
		Islands:         islands,
		BestIsland:      result.BestIsland,
		BestFitness:     result.Best.BestFitness,
		BestExpression:  result.Best.Expression,
		Evaluations:     evaluations,
		ElapsedMS:       time.Since(createdAt).Milliseconds(),
	}

	if err := l.store.SaveRun(ctx, result.Record); err != nil {
		return EvolutionResult{}, err
	}
	if err := l.store.SaveFitnessHistory(ctx, cfg.RunID, result.History); err != nil {
		return EvolutionResult{}, err
	}
	if err := l.store.SaveGenerationDiagnostics(ctx, cfg.RunID, result.Diagnostics); err != nil {
		return EvolutionResult{}, err
	}
	return result, nil
}

// StopRun cancels an active run. The run returns context.Canceled once its
// current generation finishes.
func (l *Lab) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	l.mu.RLock()
	cancel, ok := l.runs[runID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (l *Lab) ActiveRuns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.runs))
	for id := range l.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Lab) registerRun(runID string, cancel context.CancelFunc) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return fmt.Errorf("lab is not initialized")
	}
	if _, exists := l.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	l.runs[runID] = cancel
	return nil
}

func (l *Lab) unregisterRun(runID string) {
	l.mu.Lock()
	delete(l.runs, runID)
	l.mu.Unlock()
}

func toModelHistory(history []evo.GenerationFitness) []model.GenerationFitness {
	out := make([]model.GenerationFitness, 0, len(history))
	for _, item := range history {
		out = append(out, model.GenerationFitness{
			Generation:  item.Generation,
			BestFitness: item.BestFitness,
		})
	}
	return out
}

func toModelDiagnostics(diags []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, 0, len(diags))
	for _, diag := range diags {
		out = append(out, model.GenerationDiagnostics{
			Generation:        diag.Generation,
			BestFitness:       diag.BestFitness,
			MeanFitness:       diag.MeanFitness,
			StdDevFitness:     diag.StdDevFitness,
			Overflowed:        diag.Overflowed,
			GenotypeDiversity: diag.GenotypeDiversity,
			PopulationSize:    diag.PopulationSize,
			Evaluations:       diag.Evaluations,
		})
	}
	return out
}
