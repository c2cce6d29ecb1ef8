package graphgp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"graphgp/internal/chromosome"
	"graphgp/internal/dataset"
	"graphgp/internal/evo"
	"graphgp/internal/model"
	"graphgp/internal/platform"
	"graphgp/internal/stats"
	"graphgp/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultDBPath       = "graphgp.db"

	DefaultPopulation      = 101
	DefaultGenes           = 100
	DefaultGenerations     = 100
	DefaultCrossoverChance = 0.5
	DefaultMutationChance  = 0.5
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("odd", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 != 0
	})
	return v
}

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	Logger       *slog.Logger
	Recorder     evo.Recorder
}

type Client struct {
	store    storage.Store
	lab      *platform.Lab
	logger   *slog.Logger
	recorder evo.Recorder

	artifactsDir string
}

// RunRequest describes one evolution run. Zero counts take the package
// defaults; probabilities are used as given, so zero disables the operator.
type RunRequest struct {
	DatasetPath     string  `validate:"required"`
	Delimiter       string  `validate:"omitempty,len=1"`
	Header          bool
	Population      int     `validate:"gte=1,odd"`
	Genes           int     `validate:"gte=2"`
	Generations     int     `validate:"gte=1"`
	CrossoverChance float64 `validate:"gte=0,lte=1"`
	MutationChance  float64 `validate:"gte=0,lte=1"`
	Chances         chromosome.Chances
	Seed            int64
	Workers         int `validate:"gte=0"`
	Islands         int `validate:"gte=0"`
	// TraceFile receives "generation, fitness" lines when set.
	TraceFile string
	RunID     string
}

// DefaultRunRequest returns the command-line defaults for path.
func DefaultRunRequest(path string) RunRequest {
	return RunRequest{
		DatasetPath:     path,
		Population:      DefaultPopulation,
		Genes:           DefaultGenes,
		Generations:     DefaultGenerations,
		CrossoverChance: DefaultCrossoverChance,
		MutationChance:  DefaultMutationChance,
		Seed:            time.Now().UnixNano(),
	}
}

// RunSummary reports the settings a run actually used alongside its outcome.
type RunSummary struct {
	RunID          string
	ArtifactsDir   string
	TraceFile      string
	Population     int
	Genes          int
	Generations    int
	Seed           int64
	History        []model.GenerationFitness
	BestFitness    float64
	BestExpression string
	BestIsland     int
	Islands        int
	Evaluations    int
	Elapsed        time.Duration
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID           string
	CreatedAtUTC    string
	DatasetPath     string
	Rows            int
	Variables       int
	Seed            int64
	Population      int
	Genes           int
	Generations     int
	CrossoverChance float64
	MutationChance  float64
	Islands         int
	BestIsland      int
	BestFitness     float64
	BestExpression  string
	Evaluations     int
}

type FitnessHistoryRequest struct {
	RunID  string
	Latest bool
	// TraceFile reads a "generation, fitness" trace instead of a recorded run.
	TraceFile string
	Limit     int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type EvaluateRequest struct {
	Expression  string `validate:"required"`
	DatasetPath string `validate:"required"`
	Delimiter   string `validate:"omitempty,len=1"`
	Header      bool
}

type EvaluateResult struct {
	Expression  string
	Fitness     float64
	Predictions []float64
	Targets     []float64
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		recorder:     opts.Recorder,
		artifactsDir: artifactsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureLab(ctx)
	return err
}

// Run loads the dataset, evolves it and records the outcome in the store, the
// artifacts directory and the optional trace file.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := validate.Struct(req); err != nil {
		return RunSummary{}, fmt.Errorf("%w: %v", evo.ErrInvalidConfig, err)
	}
	if err := req.Chances.Validate(); err != nil {
		return RunSummary{}, fmt.Errorf("%w: %v", evo.ErrInvalidConfig, err)
	}

	data, err := dataset.LoadCSV(req.DatasetPath, loadOptions(req.Delimiter, req.Header))
	if err != nil {
		return RunSummary{}, err
	}

	lab, err := c.ensureLab(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("gp-%d-%s", req.Seed, uuid.NewString()[:8])
	}
	islands := req.Islands
	if islands == 0 {
		islands = 1
	}
	result, err := lab.RunEvolution(ctx, platform.EvolutionConfig{
		RunID:       runID,
		DatasetPath: req.DatasetPath,
		Data:        data,
		Islands:     islands,
		Run: evo.RunConfig{
			Config: evo.Config{
				PopulationSize:  req.Population,
				GeneCount:       req.Genes,
				CrossoverChance: req.CrossoverChance,
				MutationChance:  req.MutationChance,
				Workers:         req.Workers,
				Chances:         req.Chances,
			},
			Generations: req.Generations,
			Seed:        req.Seed,
		},
	})
	if err != nil {
		return RunSummary{}, err
	}

	if req.TraceFile != "" {
		if err := stats.WriteFitnessTrace(req.TraceFile, result.History); err != nil {
			return RunSummary{}, fmt.Errorf("write fitness trace: %w", err)
		}
	}

	chances := req.Chances
	if chances.IsZero() {
		chances = chromosome.DefaultChances()
	}
	islandSummaries := make([]stats.IslandSummary, 0, len(result.Islands))
	if len(result.Islands) > 1 {
		for i, island := range result.Islands {
			islandSummaries = append(islandSummaries, stats.IslandSummary{
				Island:      i,
				Seed:        req.Seed + int64(i),
				BestFitness: island.BestFitness,
				Expression:  island.Expression,
			})
		}
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           runID,
			DatasetPath:     req.DatasetPath,
			Rows:            data.Len(),
			Variables:       data.VariableCount(),
			PopulationSize:  req.Population,
			GeneCount:       req.Genes,
			Generations:     req.Generations,
			CrossoverChance: req.CrossoverChance,
			MutationChance:  req.MutationChance,
			TerminalChance:  chances.Terminal,
			ConstantChance:  chances.Constant,
			BinaryChance:    chances.Binary,
			Seed:            req.Seed,
			Workers:         req.Workers,
			Islands:         islands,
		},
		History:               result.History,
		GenerationDiagnostics: result.Diagnostics,
		FinalBestFitness:      result.Record.BestFitness,
		BestExpression:        result.Record.BestExpression,
		Islands:               islandSummaries,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            runID,
		DatasetPath:      req.DatasetPath,
		PopulationSize:   req.Population,
		Generations:      req.Generations,
		Seed:             req.Seed,
		Islands:          islands,
		FinalBestFitness: result.Record.BestFitness,
		BestExpression:   result.Record.BestExpression,
		CreatedAtUTC:     result.Record.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:          runID,
		ArtifactsDir:   filepath.Clean(runDir),
		TraceFile:      req.TraceFile,
		Population:     result.Record.PopulationSize,
		Genes:          result.Record.GeneCount,
		Generations:    result.Record.Generations,
		Seed:           result.Record.Seed,
		History:        result.History,
		BestFitness:    result.Record.BestFitness,
		BestExpression: result.Record.BestExpression,
		BestIsland:     result.BestIsland,
		Islands:        islands,
		Evaluations:    result.Record.Evaluations,
		Elapsed:        result.Best.Elapsed,
	}, nil
}

// Runs lists recorded runs newest first. The store is consulted first; the
// artifacts index covers runs recorded by earlier processes with an
// in-memory store.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if _, err := c.ensureLab(ctx); err != nil {
		return nil, err
	}
	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, min(len(records), req.Limit))
	for _, record := range records {
		out = append(out, runItemFromRecord(record))
	}

	if len(out) == 0 {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out = append(out, runItemFromIndex(e))
		}
	}
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// RunInfo describes one run, from the store when it holds the run and from
// the run's artifacts otherwise.
func (c *Client) RunInfo(ctx context.Context, runID string) (RunItem, error) {
	if runID == "" {
		return RunItem{}, errors.New("run id is required")
	}
	if _, err := c.ensureLab(ctx); err != nil {
		return RunItem{}, err
	}
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunItem{}, err
	}
	if ok {
		return runItemFromRecord(record), nil
	}

	cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
	if err != nil {
		return RunItem{}, err
	}
	if !ok {
		return RunItem{}, fmt.Errorf("run not found: %s", runID)
	}
	item := RunItem{
		RunID:           cfg.RunID,
		DatasetPath:     cfg.DatasetPath,
		Rows:            cfg.Rows,
		Variables:       cfg.Variables,
		Seed:            cfg.Seed,
		Population:      cfg.PopulationSize,
		Genes:           cfg.GeneCount,
		Generations:     cfg.Generations,
		CrossoverChance: cfg.CrossoverChance,
		MutationChance:  cfg.MutationChance,
		Islands:         cfg.Islands,
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return RunItem{}, err
	}
	for _, e := range entries {
		if e.RunID == runID {
			item.CreatedAtUTC = e.CreatedAtUTC
			item.BestFitness = e.FinalBestFitness
			item.BestExpression = e.BestExpression
			break
		}
	}
	return item, nil
}

// FitnessHistory reads a run's elite fitness per generation from the store,
// falling back to the run's artifacts.
func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]model.GenerationFitness, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if req.TraceFile != "" {
		if req.RunID != "" || req.Latest {
			return nil, errors.New("use either a trace file or a recorded run")
		}
		history, err := stats.ReadFitnessTrace(req.TraceFile)
		if err != nil {
			return nil, err
		}
		return limitHistory(history, req.Limit), nil
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}

	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		history, ok, err = stats.ReadFitnessSeries(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	return limitHistory(history, req.Limit), nil
}

func limitHistory(history []model.GenerationFitness, limit int) []model.GenerationFitness {
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return append([]model.GenerationFitness(nil), history...)
}

// Diagnostics reads a run's per-generation population summaries, from the
// store first and the run's artifacts otherwise.
func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}

	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("generation diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	return append([]model.GenerationDiagnostics(nil), diagnostics...), nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		runs, err := c.Runs(ctx, RunsRequest{Limit: 1})
		if err != nil {
			return "", err
		}
		if len(runs) == 0 {
			return "", errors.New("no runs available")
		}
		return runs[0].RunID, nil
	}
	if runID == "" {
		return "", errors.New("run id or latest is required")
	}
	if _, err := c.ensureLab(ctx); err != nil {
		return "", err
	}
	return runID, nil
}

// Evaluate scores a textual expression against a dataset.
func (c *Client) Evaluate(_ context.Context, req EvaluateRequest) (EvaluateResult, error) {
	if err := validate.Struct(req); err != nil {
		return EvaluateResult{}, err
	}
	chrom, err := chromosome.Parse(req.Expression)
	if err != nil {
		return EvaluateResult{}, err
	}
	data, err := dataset.LoadCSV(req.DatasetPath, loadOptions(req.Delimiter, req.Header))
	if err != nil {
		return EvaluateResult{}, err
	}
	if err := chrom.Validate(data.VariableCount()); err != nil {
		return EvaluateResult{}, err
	}

	predictions := make([]float64, data.Len())
	for i, row := range data.Rows {
		predictions[i] = chrom.Evaluate(row)
	}
	return EvaluateResult{
		Expression:  chrom.Expression(),
		Fitness:     chrom.EvaluateMSE(data.Rows),
		Predictions: predictions,
		Targets:     data.Targets(),
	}, nil
}

// StopRun cancels a run started by this client that is still in progress.
func (c *Client) StopRun(runID string) error {
	if c.lab == nil {
		return fmt.Errorf("run not active: %s", runID)
	}
	return c.lab.StopRun(runID)
}

func (c *Client) ensureLab(ctx context.Context) (*platform.Lab, error) {
	if c.lab != nil {
		return c.lab, nil
	}
	lab := platform.NewLab(platform.Config{Store: c.store, Logger: c.logger, Recorder: c.recorder})
	if err := lab.Init(ctx); err != nil {
		return nil, err
	}
	c.lab = lab
	return c.lab, nil
}

func runItemFromRecord(record model.RunRecord) RunItem {
	return RunItem{
		RunID:           record.ID,
		CreatedAtUTC:    record.CreatedAtUTC,
		DatasetPath:     record.DatasetPath,
		Rows:            record.Rows,
		Variables:       record.Variables,
		Seed:            record.Seed,
		Population:      record.PopulationSize,
		Genes:           record.GeneCount,
		Generations:     record.Generations,
		CrossoverChance: record.CrossoverChance,
		MutationChance:  record.MutationChance,
		Islands:         record.Islands,
		BestIsland:      record.BestIsland,
		BestFitness:     record.BestFitness,
		BestExpression:  record.BestExpression,
		Evaluations:     record.Evaluations,
	}
}

func runItemFromIndex(e stats.RunIndexEntry) RunItem {
	return RunItem{
		RunID:          e.RunID,
		CreatedAtUTC:   e.CreatedAtUTC,
		DatasetPath:    e.DatasetPath,
		Seed:           e.Seed,
		Population:     e.PopulationSize,
		Generations:    e.Generations,
		Islands:        e.Islands,
		BestFitness:    e.FinalBestFitness,
		BestExpression: e.BestExpression,
	}
}

func loadOptions(delimiter string, header bool) dataset.LoadOptions {
	opts := dataset.LoadOptions{Header: header}
	if delimiter != "" {
		opts.Comma, _ = utf8.DecodeRuneInString(delimiter)
	}
	return opts
}
