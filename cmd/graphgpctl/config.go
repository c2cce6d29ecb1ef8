package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"graphgp/internal/chromosome"
	"graphgp/pkg/graphgp"
)

// runFileConfig mirrors the run flags. Absent keys leave the flag value alone.
type runFileConfig struct {
	File            *string        `yaml:"file"`
	Delimiter       *string        `yaml:"delimiter"`
	Header          *bool          `yaml:"header"`
	Genes           *int           `yaml:"genes"`
	Generations     *int           `yaml:"generations"`
	Population      *int           `yaml:"population"`
	CrossoverChance *float64       `yaml:"crossover_chance"`
	MutationChance  *float64       `yaml:"mutation_chance"`
	Chances         *chancesConfig `yaml:"chances"`
	Seed            *int64         `yaml:"seed"`
	Workers         *int           `yaml:"workers"`
	Islands         *int           `yaml:"islands"`
	Out             *string        `yaml:"out"`
}

// chancesConfig overrides individual gene chances; unset ones keep the
// generator defaults. All three set to zero is rejected because a zero
// Chances value selects the defaults downstream.
type chancesConfig struct {
	Terminal *float64 `yaml:"terminal"`
	Constant *float64 `yaml:"constant"`
	Binary   *float64 `yaml:"binary"`
}

func (c chancesConfig) resolve() (chromosome.Chances, error) {
	out := chromosome.DefaultChances()
	if c.Terminal != nil {
		out.Terminal = *c.Terminal
	}
	if c.Constant != nil {
		out.Constant = *c.Constant
	}
	if c.Binary != nil {
		out.Binary = *c.Binary
	}
	if out.IsZero() {
		return chromosome.Chances{}, errors.New("chances: terminal, constant and binary cannot all be zero")
	}
	return out, nil
}

func loadRunFileConfig(path string) (runFileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runFileConfig{}, err
	}
	var cfg runFileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return runFileConfig{}, fmt.Errorf("parse run config %s: %w", path, err)
	}
	return cfg, nil
}

// applyTo copies every configured value whose flag was not set explicitly.
func (c runFileConfig) applyTo(req *graphgp.RunRequest, keep func(flag string) bool) error {
	if c.File != nil && !keep("file") {
		req.DatasetPath = *c.File
	}
	if c.Delimiter != nil && !keep("delimiter") {
		req.Delimiter = *c.Delimiter
	}
	if c.Header != nil && !keep("header") {
		req.Header = *c.Header
	}
	if c.Genes != nil && !keep("genes") {
		req.Genes = *c.Genes
	}
	if c.Generations != nil && !keep("generations") {
		req.Generations = *c.Generations
	}
	if c.Population != nil && !keep("population") {
		req.Population = *c.Population
	}
	if c.CrossoverChance != nil && !keep("crossover-chance") {
		req.CrossoverChance = *c.CrossoverChance
	}
	if c.MutationChance != nil && !keep("mutation-chance") {
		req.MutationChance = *c.MutationChance
	}
	if c.Chances != nil {
		chances, err := c.Chances.resolve()
		if err != nil {
			return err
		}
		req.Chances = chances
	}
	if c.Workers != nil && !keep("workers") {
		req.Workers = *c.Workers
	}
	if c.Islands != nil && !keep("islands") {
		req.Islands = *c.Islands
	}
	if c.Out != nil && !keep("out") {
		req.TraceFile = *c.Out
	}
	if c.Seed != nil && !keep("seed") {
		req.Seed = *c.Seed
	}
	return nil
}
