package graphgp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphgp/internal/chromosome"
	"graphgp/internal/evo"
	"graphgp/internal/stats"
)

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("x,y,target\n")
	for i := 0; i < 10; i++ {
		x := float64(i) / 3
		y := 1 - x
		fmt.Fprintf(&b, "%v,%v,%v\n", x, y, x*x+y)
	}
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func newTestClient(t *testing.T, storeKind string) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	client, err := New(Options{
		StoreKind:    storeKind,
		DBPath:       filepath.Join(dir, "graphgp.db"),
		ArtifactsDir: filepath.Join(dir, "runs"),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, dir
}

func smallRequest(path string) RunRequest {
	return RunRequest{
		DatasetPath:     path,
		Population:      7,
		Genes:           6,
		Generations:     5,
		CrossoverChance: 0.5,
		MutationChance:  0.5,
		Seed:            11,
		Workers:         2,
	}
}

func TestClientRunWritesEverything(t *testing.T) {
	for _, kind := range []string{"memory", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			client, dir := newTestClient(t, kind)
			req := smallRequest(writeDataset(t, dir))
			req.TraceFile = filepath.Join(dir, stats.DefaultTraceFile)

			summary, err := client.Run(ctx, req)
			require.NoError(t, err)
			require.Len(t, summary.History, 5)
			assert.True(t, strings.HasPrefix(summary.RunID, "gp-11-"))
			assert.Equal(t, 1, summary.Islands)
			assert.Equal(t, 7*6, summary.Evaluations)
			assert.LessOrEqual(t, summary.BestFitness, summary.History[4].BestFitness)

			trace, err := stats.ReadFitnessTrace(req.TraceFile)
			require.NoError(t, err)
			assert.Equal(t, summary.History, trace)

			_, err = chromosome.Parse(summary.BestExpression)
			require.NoError(t, err)
			for _, file := range []string{"config.json", "fitness_history.json", "fitness_series.csv"} {
				assert.FileExists(t, filepath.Join(summary.ArtifactsDir, file))
			}

			history, err := client.FitnessHistory(ctx, FitnessHistoryRequest{RunID: summary.RunID})
			require.NoError(t, err)
			assert.Equal(t, summary.History, history)

			runs, err := client.Runs(ctx, RunsRequest{})
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, summary.RunID, runs[0].RunID)
			assert.Equal(t, summary.BestExpression, runs[0].BestExpression)
		})
	}
}

func TestClientRunIslands(t *testing.T) {
	client, dir := newTestClient(t, "memory")
	req := smallRequest(writeDataset(t, dir))
	req.Islands = 3

	summary, err := client.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Islands)
	assert.Equal(t, 3*7*6, summary.Evaluations)
	assert.FileExists(t, filepath.Join(summary.ArtifactsDir, "islands.json"))
}

func TestClientRunReportsEffectiveSettings(t *testing.T) {
	client, dir := newTestClient(t, "memory")
	req := DefaultRunRequest(writeDataset(t, dir))
	assert.Equal(t, DefaultPopulation, req.Population)
	assert.Equal(t, DefaultGenes, req.Genes)
	assert.Equal(t, DefaultGenerations, req.Generations)

	req.Population = 3
	req.Genes = 4
	req.Generations = 2
	req.Seed = 2
	summary, err := client.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Population)
	assert.Equal(t, 4, summary.Genes)
	assert.Equal(t, 2, summary.Generations)
	assert.Equal(t, int64(2), summary.Seed)
	assert.Len(t, summary.History, 2)
	assert.Equal(t, 3*3, summary.Evaluations)
}

func TestClientRunRejectsInvalidRequest(t *testing.T) {
	client, dir := newTestClient(t, "memory")
	path := writeDataset(t, dir)

	cases := map[string]func(*RunRequest){
		"even population":  func(r *RunRequest) { r.Population = 8 },
		"zero population":  func(r *RunRequest) { r.Population = 0 },
		"zero genes":       func(r *RunRequest) { r.Genes = 0 },
		"zero generations": func(r *RunRequest) { r.Generations = 0 },
		"negative genes":   func(r *RunRequest) { r.Genes = -1 },
		"one gene":         func(r *RunRequest) { r.Genes = 1 },
		"crossover":        func(r *RunRequest) { r.CrossoverChance = 1.01 },
		"mutation":         func(r *RunRequest) { r.MutationChance = -0.5 },
		"missing dataset":  func(r *RunRequest) { r.DatasetPath = "" },
		"long delimiter":   func(r *RunRequest) { r.Delimiter = ";;" },
		"negative workers": func(r *RunRequest) { r.Workers = -2 },
		"binary chance":    func(r *RunRequest) { r.Chances = chromosome.Chances{Binary: 3} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := smallRequest(path)
			mutate(&req)
			_, err := client.Run(context.Background(), req)
			assert.ErrorIs(t, err, evo.ErrInvalidConfig)
		})
	}
}

func TestClientRunMissingFile(t *testing.T) {
	client, dir := newTestClient(t, "memory")
	_, err := client.Run(context.Background(), smallRequest(filepath.Join(dir, "nope.csv")))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClientReadsFallBackToArtifacts(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t, "memory")
	req := smallRequest(writeDataset(t, dir))
	req.TraceFile = filepath.Join(dir, stats.DefaultTraceFile)
	summary, err := client.Run(ctx, req)
	require.NoError(t, err)

	// A fresh client has an empty memory store and must read the artifacts.
	fresh, err := New(Options{StoreKind: "memory", ArtifactsDir: filepath.Join(dir, "runs")})
	require.NoError(t, err)

	history, err := fresh.FitnessHistory(ctx, FitnessHistoryRequest{Latest: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, summary.History[:2], history)

	traced, err := fresh.FitnessHistory(ctx, FitnessHistoryRequest{TraceFile: req.TraceFile})
	require.NoError(t, err)
	assert.Equal(t, summary.History, traced)

	runs, err := fresh.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)

	info, err := fresh.RunInfo(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, 6, info.Genes)
	assert.Equal(t, 10, info.Rows)
	assert.Equal(t, 2, info.Variables)
	assert.Equal(t, summary.BestExpression, info.BestExpression)

	diagnostics, err := fresh.Diagnostics(ctx, DiagnosticsRequest{RunID: summary.RunID})
	require.NoError(t, err)
	require.Len(t, diagnostics, 5)
	assert.Equal(t, summary.History[0].BestFitness, diagnostics[0].BestFitness)

	_, err = fresh.FitnessHistory(ctx, FitnessHistoryRequest{RunID: "x", Latest: true})
	assert.Error(t, err)
	_, err = fresh.FitnessHistory(ctx, FitnessHistoryRequest{TraceFile: req.TraceFile, Latest: true})
	assert.Error(t, err)
	_, err = fresh.FitnessHistory(ctx, FitnessHistoryRequest{})
	assert.Error(t, err)
	_, err = fresh.FitnessHistory(ctx, FitnessHistoryRequest{RunID: "missing"})
	assert.Error(t, err)
	_, err = fresh.RunInfo(ctx, "missing")
	assert.Error(t, err)
	_, err = fresh.Diagnostics(ctx, DiagnosticsRequest{RunID: "missing"})
	assert.Error(t, err)
}

func TestClientReadsPreferStore(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t, "sqlite")
	first, err := client.Run(ctx, smallRequest(writeDataset(t, dir)))
	require.NoError(t, err)
	req := smallRequest(writeDataset(t, dir))
	req.Seed = 12
	req.Islands = 2
	second, err := client.Run(ctx, req)
	require.NoError(t, err)

	// Without artifacts every read is served by the database.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "runs")))

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, []string{second.RunID, first.RunID}, []string{runs[0].RunID, runs[1].RunID})

	limited, err := client.Runs(ctx, RunsRequest{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	info, err := client.RunInfo(ctx, second.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Islands)
	assert.Equal(t, second.BestIsland, info.BestIsland)
	assert.Equal(t, second.Evaluations, info.Evaluations)
	assert.Equal(t, int64(12), info.Seed)

	diagnostics, err := client.Diagnostics(ctx, DiagnosticsRequest{Latest: true, Limit: 3})
	require.NoError(t, err)
	require.Len(t, diagnostics, 3)
	for i, d := range diagnostics {
		assert.Equal(t, i, d.Generation)
		assert.Equal(t, 7, d.PopulationSize)
	}
}

func TestClientEvaluate(t *testing.T) {
	client, dir := newTestClient(t, "memory")
	path := writeDataset(t, dir)

	result, err := client.Evaluate(context.Background(), EvaluateRequest{
		Expression:  "add(square(v0), v1)",
		DatasetPath: path,
	})
	require.NoError(t, err)
	assert.Equal(t, "add(square(v0), v1)", result.Expression)
	assert.InDelta(t, 0, result.Fitness, 1e-20)
	assert.Len(t, result.Predictions, 10)
	assert.Equal(t, result.Predictions, result.Targets)

	result, err = client.Evaluate(context.Background(), EvaluateRequest{Expression: "log2(0)", DatasetPath: path})
	require.NoError(t, err)
	assert.Equal(t, math.MaxFloat64, result.Fitness)

	_, err = client.Evaluate(context.Background(), EvaluateRequest{Expression: "v7", DatasetPath: path})
	assert.Error(t, err)
	_, err = client.Evaluate(context.Background(), EvaluateRequest{Expression: "add(v0", DatasetPath: path})
	assert.ErrorIs(t, err, chromosome.ErrSyntax)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	_, err := New(Options{StoreKind: "bolt"})
	assert.Error(t, err)
}
