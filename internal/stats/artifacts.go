package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"graphgp/internal/model"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID           string  `json:"run_id"`
	DatasetPath     string  `json:"dataset_path"`
	Rows            int     `json:"rows"`
	Variables       int     `json:"variables"`
	PopulationSize  int     `json:"population_size"`
	GeneCount       int     `json:"gene_count"`
	Generations     int     `json:"generations"`
	CrossoverChance float64 `json:"crossover_chance"`
	MutationChance  float64 `json:"mutation_chance"`
	TerminalChance  float64 `json:"terminal_chance"`
	ConstantChance  float64 `json:"constant_chance"`
	BinaryChance    float64 `json:"binary_chance"`
	Seed            int64   `json:"seed"`
	Workers         int     `json:"workers"`
	Islands         int     `json:"islands"`
}

type IslandSummary struct {
	Island      int     `json:"island"`
	Seed        int64   `json:"seed"`
	BestFitness float64 `json:"best_fitness"`
	Expression  string  `json:"expression"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	History               []model.GenerationFitness     `json:"history"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	FinalBestFitness      float64                       `json:"final_best_fitness"`
	BestExpression        string                        `json:"best_expression"`
	Islands               []IslandSummary               `json:"islands,omitempty"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	DatasetPath      string  `json:"dataset_path"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	Islands          int     `json:"islands"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	BestExpression   string  `json:"best_expression"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), map[string]any{
		"history":            artifacts.History,
		"final_best_fitness": artifacts.FinalBestFitness,
		"best_expression":    artifacts.BestExpression,
	}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_diagnostics.json"), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if len(artifacts.Islands) > 0 {
		if err := writeJSON(filepath.Join(runDir, "islands.json"), artifacts.Islands); err != nil {
			return "", err
		}
	}
	if err := WriteFitnessSeries(runDir, artifacts.History); err != nil {
		return "", err
	}

	return runDir, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "generation_diagnostics.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, false, err
	}
	return diagnostics, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first. Entries sharing a timestamp
// keep the most recently appended one first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// WriteFitnessSeries stores the elite fitness per generation as CSV for
// plotting tools.
func WriteFitnessSeries(runDir string, history []model.GenerationFitness) error {
	file, err := os.Create(filepath.Join(runDir, "fitness_series.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_fitness"}); err != nil {
		return err
	}
	for _, item := range history {
		if err := writer.Write([]string{
			strconv.Itoa(item.Generation),
			strconv.FormatFloat(item.BestFitness, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadFitnessSeries(baseDir, runID string) ([]model.GenerationFitness, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, "fitness_series.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.GenerationFitness{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("fitness series header must have at least 2 columns")
	}

	series := make([]model.GenerationFitness, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		generation, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, model.GenerationFitness{Generation: generation, BestFitness: value})
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
