package stats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"graphgp/internal/model"
)

// DefaultTraceFile is where the CLI writes the per-generation elite fitness.
const DefaultTraceFile = "gp_out.txt"

// WriteFitnessTrace writes one "generation, fitness" line per entry, in the
// order given.
func WriteFitnessTrace(path string, history []model.GenerationFitness) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := EncodeFitnessTrace(file, history); err != nil {
		return err
	}
	return file.Sync()
}

func EncodeFitnessTrace(w io.Writer, history []model.GenerationFitness) error {
	buf := bufio.NewWriter(w)
	for _, item := range history {
		if _, err := fmt.Fprintf(buf, "%d, %s\n", item.Generation, strconv.FormatFloat(item.BestFitness, 'f', -1, 64)); err != nil {
			return err
		}
	}
	return buf.Flush()
}

func ReadFitnessTrace(path string) ([]model.GenerationFitness, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return DecodeFitnessTrace(file)
}

func DecodeFitnessTrace(r io.Reader) ([]model.GenerationFitness, error) {
	var history []model.GenerationFitness
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		genText, fitText, ok := strings.Cut(text, ",")
		if !ok {
			return nil, fmt.Errorf("trace line %d: expected \"generation, fitness\"", line)
		}
		generation, err := strconv.Atoi(strings.TrimSpace(genText))
		if err != nil {
			return nil, fmt.Errorf("trace line %d: generation: %w", line, err)
		}
		fitness, err := strconv.ParseFloat(strings.TrimSpace(fitText), 64)
		if err != nil {
			return nil, fmt.Errorf("trace line %d: fitness: %w", line, err)
		}
		history = append(history, model.GenerationFitness{Generation: generation, BestFitness: fitness})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return history, nil
}
