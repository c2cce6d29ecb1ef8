package evo

import (
	"errors"
	"fmt"
	"runtime"

	"graphgp/internal/chromosome"
)

// MinGeneCount keeps the two forced terminal positions in every chromosome.
const MinGeneCount = 2

var ErrInvalidConfig = errors.New("invalid evolution config")

// Config holds the population parameters shared by initialization,
// evaluation and reproduction.
type Config struct {
	PopulationSize  int
	GeneCount       int
	CrossoverChance float64
	MutationChance  float64
	// Workers bounds the evaluation pool; zero uses GOMAXPROCS.
	Workers int
	// Chances tunes gene generation; the zero value uses
	// chromosome.DefaultChances.
	Chances chromosome.Chances
}

// Validate rejects configurations that cannot produce a well-formed
// generation. Elitism takes one slot and the rest are filled in pairs, so
// the population size must be odd.
func (c Config) Validate() error {
	if c.PopulationSize < 1 {
		return fmt.Errorf("%w: population size must be >= 1, got %d", ErrInvalidConfig, c.PopulationSize)
	}
	if c.PopulationSize%2 == 0 {
		return fmt.Errorf("%w: population size must be odd for elitism, got %d", ErrInvalidConfig, c.PopulationSize)
	}
	if c.GeneCount < MinGeneCount {
		return fmt.Errorf("%w: gene count must be >= %d, got %d", ErrInvalidConfig, MinGeneCount, c.GeneCount)
	}
	if c.CrossoverChance < 0 || c.CrossoverChance > 1 {
		return fmt.Errorf("%w: crossover chance must be in [0, 1], got %v", ErrInvalidConfig, c.CrossoverChance)
	}
	if c.MutationChance < 0 || c.MutationChance > 1 {
		return fmt.Errorf("%w: mutation chance must be in [0, 1], got %v", ErrInvalidConfig, c.MutationChance)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	if err := c.Chances.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Chances.IsZero() {
		c.Chances = chromosome.DefaultChances()
	}
	return c
}
