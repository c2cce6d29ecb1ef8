package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphgp/internal/stats"
)

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "linear.csv")
	var b strings.Builder
	for i := 0; i < 8; i++ {
		x := float64(i) / 4
		b.WriteString(strings.Join([]string{ftoa(x), ftoa(1 - x), ftoa(2*x + 1)}, ","))
		b.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func outputValue(t *testing.T, out, key string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		for _, field := range strings.Fields(line) {
			if v, ok := strings.CutPrefix(field, key+"="); ok {
				return v
			}
		}
	}
	require.Failf(t, "missing output key", "%s in output:\n%s", key, out)
	return ""
}

func TestRunCommandWritesTraceAndArtifacts(t *testing.T) {
	dir := t.TempDir()
	data := writeDataset(t, dir)
	artifacts := filepath.Join(dir, "runs")
	trace := filepath.Join(dir, "gp_out.txt")

	stdout, _, err := runCLI(t,
		"run",
		"--artifacts-dir", artifacts,
		"-f", data,
		"-n", "8",
		"-g", "5",
		"-p", "11",
		"--seed", "7",
		"--workers", "2",
		"--out", trace,
	)
	require.NoError(t, err)

	assert.Equal(t, "11", outputValue(t, stdout, "pop"))
	assert.Equal(t, "8", outputValue(t, stdout, "genes"))
	assert.Equal(t, "5", outputValue(t, stdout, "gens"))
	assert.Equal(t, "7", outputValue(t, stdout, "seed"))
	assert.Equal(t, "66", outputValue(t, stdout, "evaluations"))

	history, err := stats.ReadFitnessTrace(trace)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, item := range history {
		assert.Equal(t, i, item.Generation)
		if i > 0 {
			assert.LessOrEqual(t, item.BestFitness, history[i-1].BestFitness)
		}
	}

	runID := outputValue(t, stdout, "run_id")
	for _, file := range []string{"config.json", "fitness_history.json", "generation_diagnostics.json", "fitness_series.csv"} {
		assert.FileExists(t, filepath.Join(artifacts, runID, file))
	}
	assert.Contains(t, stdout, "expression=")

	stdout, _, err = runCLI(t, "fitness", "--artifacts-dir", artifacts, "--trace", trace, "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(stdout, "generation="))
}

func TestRunCommandRejectsZeroCounts(t *testing.T) {
	dir := t.TempDir()
	data := writeDataset(t, dir)
	artifacts := filepath.Join(dir, "runs")

	for _, flag := range []string{"-p", "-n", "-g"} {
		t.Run(flag, func(t *testing.T) {
			stdout, _, err := runCLI(t, "run", "--artifacts-dir", artifacts, "-f", data,
				"-p", "5", "-n", "4", "-g", "2", flag, "0", "--out", "")
			require.Error(t, err)
			assert.Empty(t, stdout)
		})
	}
	_, err := os.Stat(filepath.Join(artifacts, "run_index.json"))
	assert.True(t, os.IsNotExist(err), "rejected runs must not be recorded")
}

func TestRunCommandRejectsEvenPopulation(t *testing.T) {
	dir := t.TempDir()
	data := writeDataset(t, dir)

	_, _, err := runCLI(t, "run", "--artifacts-dir", filepath.Join(dir, "runs"), "-f", data, "-p", "10", "--out", "")
	assert.Error(t, err)
}

func TestRunCommandRequiresFile(t *testing.T) {
	_, _, err := runCLI(t, "run", "--artifacts-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--file")
}

func TestRunThenInspectLatest(t *testing.T) {
	dir := t.TempDir()
	data := writeDataset(t, dir)
	artifacts := filepath.Join(dir, "runs")

	stdout, _, err := runCLI(t, "run", "--artifacts-dir", artifacts, "-f", data, "-n", "6", "-g", "4", "-p", "9", "--seed", "3", "--out", "")
	require.NoError(t, err)
	runID := outputValue(t, stdout, "run_id")

	stdout, _, err = runCLI(t, "fitness", "--artifacts-dir", artifacts, "--latest")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "generation=0 best_fitness="), lines[0])

	stdout, _, err = runCLI(t, "diagnostics", "--artifacts-dir", artifacts, "--latest")
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(stdout, "mean_fitness="))

	stdout, _, err = runCLI(t, "runs", "--artifacts-dir", artifacts)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(stdout, "run_id="))

	stdout, _, err = runCLI(t, "runs", "--artifacts-dir", artifacts, "--run-id", runID)
	require.NoError(t, err)
	assert.Equal(t, runID, outputValue(t, stdout, "run_id"))
	assert.Equal(t, "6", outputValue(t, stdout, "genes"))
	assert.Equal(t, "8", outputValue(t, stdout, "rows"))
}

func TestRunCommandSQLitePersistsHistory(t *testing.T) {
	dir := t.TempDir()
	data := writeDataset(t, dir)
	artifacts := filepath.Join(dir, "runs")
	dbPath := filepath.Join(dir, "graphgp.db")

	stdout, _, err := runCLI(t, "run", "--store", "sqlite", "--db-path", dbPath, "--artifacts-dir", artifacts,
		"-f", data, "-n", "6", "-g", "3", "-p", "5", "--seed", "5", "--out", "")
	require.NoError(t, err)
	assert.FileExists(t, dbPath)
	runID := outputValue(t, stdout, "run_id")

	// Remove the artifacts so every read below has to come from the database.
	require.NoError(t, os.RemoveAll(artifacts))

	stdout, _, err = runCLI(t, "fitness", "--store", "sqlite", "--db-path", dbPath, "--artifacts-dir", artifacts, "--run-id", runID, "--limit", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(stdout, "generation="))

	stdout, _, err = runCLI(t, "runs", "--store", "sqlite", "--db-path", dbPath, "--artifacts-dir", artifacts)
	require.NoError(t, err)
	assert.Equal(t, runID, outputValue(t, stdout, "run_id"))

	stdout, _, err = runCLI(t, "runs", "--store", "sqlite", "--db-path", dbPath, "--artifacts-dir", artifacts, "--run-id", runID)
	require.NoError(t, err)
	assert.Equal(t, "20", outputValue(t, stdout, "evaluations"))

	stdout, _, err = runCLI(t, "diagnostics", "--store", "sqlite", "--db-path", dbPath, "--artifacts-dir", artifacts, "--latest")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(stdout, "generation="))
}

func TestEvalCommandScoresExpression(t *testing.T) {
	dir := t.TempDir()
	data := writeDataset(t, dir)

	stdout, _, err := runCLI(t, "eval", "--artifacts-dir", filepath.Join(dir, "runs"), "-f", data, "--predictions", "add(add(v0, v0), 1)")
	require.NoError(t, err)
	assert.Equal(t, "0", outputValue(t, stdout, "fitness"))
	assert.Equal(t, 8, strings.Count(stdout, "prediction="))
	assert.Contains(t, stdout, "row=1 prediction=1.5 target=1.5")
}

func TestRejectsUnknownLogFormat(t *testing.T) {
	dir := t.TempDir()
	data := writeDataset(t, dir)

	_, _, err := runCLI(t, "eval", "--log-format", "xml", "-f", data, "v0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")
}
