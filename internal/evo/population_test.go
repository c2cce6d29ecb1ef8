package evo

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphgp/internal/chromosome"
	"graphgp/internal/dataset"
)

func linearData(t *testing.T) dataset.Dataset {
	t.Helper()
	rows := make([][]float64, 0, 8)
	for i := 0; i < 8; i++ {
		x := float64(i) / 2
		rows = append(rows, []float64{x, 1 - x, 2*x + 1})
	}
	data, err := dataset.New(rows)
	require.NoError(t, err)
	return data
}

func testConfig() Config {
	return Config{
		PopulationSize:  9,
		GeneCount:       6,
		CrossoverChance: 0.5,
		MutationChance:  0.5,
		Workers:         3,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	cases := map[string]func(*Config){
		"zero population":   func(c *Config) { c.PopulationSize = 0 },
		"even population":   func(c *Config) { c.PopulationSize = 10 },
		"single gene":       func(c *Config) { c.GeneCount = 1 },
		"crossover above 1": func(c *Config) { c.CrossoverChance = 1.5 },
		"negative mutation": func(c *Config) { c.MutationChance = -0.1 },
		"negative workers":  func(c *Config) { c.Workers = -1 },
		"terminal chance":   func(c *Config) { c.Chances = chromosome.Chances{Terminal: 2} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestInitializeBuildsWellFormedMembers(t *testing.T) {
	data := linearData(t)
	pop, err := Initialize(rand.New(rand.NewSource(3)), testConfig(), data)
	require.NoError(t, err)

	require.Equal(t, 9, pop.Size())
	for _, c := range pop.Members() {
		require.Equal(t, 6, c.Len())
		require.NoError(t, c.Validate(data.VariableCount()))
		assert.True(t, c.Genes[0].IsTerminal())
		assert.True(t, c.Genes[1].IsTerminal())
		assert.Equal(t, chromosome.Unevaluated, c.Fitness)
	}
	assert.Zero(t, pop.Evaluations())
}

func TestInitializeRejectsBadInput(t *testing.T) {
	_, err := Initialize(nil, testConfig(), linearData(t))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := testConfig()
	cfg.PopulationSize = 4
	_, err = Initialize(rand.New(rand.NewSource(1)), cfg, linearData(t))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Initialize(rand.New(rand.NewSource(1)), testConfig(), dataset.Dataset{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, dataset.ErrEmpty)
}

func TestInitializeIsDeterministicPerSeed(t *testing.T) {
	data := linearData(t)
	a, err := Initialize(rand.New(rand.NewSource(11)), testConfig(), data)
	require.NoError(t, err)
	b, err := Initialize(rand.New(rand.NewSource(11)), testConfig(), data)
	require.NoError(t, err)
	for i := range a.Members() {
		assert.Equal(t, a.Members()[i].Genes, b.Members()[i].Genes)
	}
}

func TestEvaluateScoresEveryMember(t *testing.T) {
	data := linearData(t)
	pop, err := Initialize(rand.New(rand.NewSource(5)), testConfig(), data)
	require.NoError(t, err)
	require.NoError(t, pop.Evaluate(context.Background(), data))

	best := pop.Best()
	for _, c := range pop.Members() {
		want := c.Clone().EvaluateMSE(data.Rows)
		assert.Equal(t, want, c.Fitness)
		assert.LessOrEqual(t, best.Fitness, c.Fitness)
	}
	assert.Equal(t, pop.Size(), pop.Evaluations())
}

func TestEvaluateKeepsEarliestBestOnTies(t *testing.T) {
	data := linearData(t)
	cfg := testConfig()
	cfg.PopulationSize = 3
	pop, err := Initialize(rand.New(rand.NewSource(5)), cfg, data)
	require.NoError(t, err)

	// Both tied members evaluate to the final constant; the unused first gene
	// tells them apart.
	worse := chromosome.FromGenes([]chromosome.Gene{chromosome.Variable(0), chromosome.Constant(100)})
	first := chromosome.FromGenes([]chromosome.Gene{chromosome.Variable(0), chromosome.Constant(1)})
	second := chromosome.FromGenes([]chromosome.Gene{chromosome.Variable(1), chromosome.Constant(1)})
	pop.members = []*chromosome.Chromosome{worse, first, second}
	require.NoError(t, pop.Evaluate(context.Background(), data))

	require.Equal(t, first.Fitness, second.Fitness)
	assert.Equal(t, first.Genes, pop.Best().Genes)
}

func TestEvaluateHonoursCancelledContext(t *testing.T) {
	data := linearData(t)
	pop, err := Initialize(rand.New(rand.NewSource(5)), testConfig(), data)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pop.Evaluate(ctx, data), context.Canceled)
	assert.Zero(t, pop.Evaluations())
}

func TestReproducePlacesEliteFirst(t *testing.T) {
	data := linearData(t)
	pop, err := Initialize(rand.New(rand.NewSource(9)), testConfig(), data)
	require.NoError(t, err)
	require.NoError(t, pop.Evaluate(context.Background(), data))
	best := pop.Best()

	next, eliteFitness := pop.Reproduce()
	require.Len(t, next, pop.Size())
	assert.Equal(t, best.Fitness, eliteFitness)
	assert.Equal(t, best.Genes, next[0].Genes)
	assert.Equal(t, best.Fitness, next[0].Fitness)
	for _, c := range next {
		require.Equal(t, 6, c.Len())
		require.NoError(t, c.Validate(data.VariableCount()))
	}
}

func TestReproduceWithoutVariationClonesParents(t *testing.T) {
	data := linearData(t)
	cfg := testConfig()
	cfg.CrossoverChance = 0
	cfg.MutationChance = 0
	pop, err := Initialize(rand.New(rand.NewSource(21)), cfg, data)
	require.NoError(t, err)
	require.NoError(t, pop.Evaluate(context.Background(), data))

	next, _ := pop.Reproduce()
	for _, child := range next {
		found := false
		for _, parent := range pop.Members() {
			if assert.ObjectsAreEqual(parent.Genes, child.Genes) && parent.Fitness == child.Fitness {
				found = true
				break
			}
		}
		assert.True(t, found, "child %s is not a clone of any parent", child.Expression())
	}
}

func TestReproduceMarksVariedChildrenUnevaluated(t *testing.T) {
	data := linearData(t)
	cfg := testConfig()
	cfg.CrossoverChance = 1
	cfg.MutationChance = 1
	pop, err := Initialize(rand.New(rand.NewSource(21)), cfg, data)
	require.NoError(t, err)
	require.NoError(t, pop.Evaluate(context.Background(), data))

	next, _ := pop.Reproduce()
	for _, child := range next[1:] {
		assert.Equal(t, chromosome.Unevaluated, child.Fitness)
	}
}

func TestReplaceAndEvaluateRejectsSizeMismatch(t *testing.T) {
	data := linearData(t)
	pop, err := Initialize(rand.New(rand.NewSource(4)), testConfig(), data)
	require.NoError(t, err)

	err = pop.ReplaceAndEvaluate(context.Background(), pop.Members()[:2], data)
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 9, pop.Size())
}

func TestReplaceAndEvaluateNeverLosesElite(t *testing.T) {
	data := linearData(t)
	pop, err := Initialize(rand.New(rand.NewSource(33)), testConfig(), data)
	require.NoError(t, err)
	require.NoError(t, pop.Evaluate(context.Background(), data))

	prev := pop.Best().Fitness
	for i := 0; i < 15; i++ {
		next, _ := pop.Reproduce()
		require.NoError(t, pop.ReplaceAndEvaluate(context.Background(), next, data))
		require.LessOrEqual(t, pop.Best().Fitness, prev)
		prev = pop.Best().Fitness
	}
}
