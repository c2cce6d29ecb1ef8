package evo

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"graphgp/internal/chromosome"
	"graphgp/internal/dataset"
)

// Population is one generation of chromosomes plus the best member seen in
// the latest evaluation.
type Population struct {
	cfg      Config
	gen      chromosome.Generator
	rng      *rand.Rand
	selector TournamentSelector

	members     []*chromosome.Chromosome
	best        *chromosome.Chromosome
	evaluations int
}

// Initialize builds cfg.PopulationSize random chromosomes. Each chromosome
// draws from its own source seeded from rng; rng itself is kept for
// selection and reproduction. Members are not evaluated.
func Initialize(rng *rand.Rand, cfg Config, data dataset.Dataset) (*Population, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg = cfg.withDefaults()

	gen := chromosome.Generator{VariableCount: data.VariableCount(), Chances: cfg.Chances}
	members := make([]*chromosome.Chromosome, cfg.PopulationSize)
	for i := range members {
		child := rand.New(rand.NewSource(rng.Int63()))
		members[i] = gen.Chromosome(child, cfg.GeneCount)
	}

	p := &Population{
		cfg:      cfg,
		gen:      gen,
		rng:      rng,
		selector: TournamentSelector{Size: 2},
		members:  members,
		best:     chromosome.New(),
	}
	p.refreshBest()
	return p, nil
}

func (p *Population) Size() int {
	return len(p.members)
}

// Members returns the current generation. Callers must not modify it.
func (p *Population) Members() []*chromosome.Chromosome {
	return p.members
}

// Best returns a copy of the lowest-fitness member from the latest refresh.
func (p *Population) Best() *chromosome.Chromosome {
	return p.best.Clone()
}

// Evaluations counts chromosome evaluations performed so far.
func (p *Population) Evaluations() int {
	return p.evaluations
}

// Evaluate scores every member on a bounded worker pool and refreshes the
// best member once all workers have joined. A generation that has started
// always runs to completion; ctx is only consulted before starting.
func (p *Population) Evaluate(ctx context.Context, data dataset.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	workers := p.cfg.Workers
	if workers > len(p.members) {
		workers = len(p.members)
	}

	jobs := make(chan *chromosome.Chromosome)
	var completed atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for c := range jobs {
				c.EvaluateMSE(data.Rows)
				completed.Add(1)
			}
			return nil
		})
	}
	for _, c := range p.members {
		jobs <- c
	}
	close(jobs)
	if err := g.Wait(); err != nil {
		return err
	}

	if n := completed.Load(); n != int64(len(p.members)) {
		panic(fmt.Sprintf("evo: evaluated %d of %d chromosomes before selection", n, len(p.members)))
	}
	p.evaluations += len(p.members)
	p.refreshBest()
	return nil
}

// refreshBest keeps the earliest member with the lowest fitness.
func (p *Population) refreshBest() {
	if len(p.members) == 0 {
		return
	}
	best := p.members[0]
	for _, c := range p.members[1:] {
		if c.Fitness < best.Fitness {
			best = c
		}
	}
	p.best = best.Clone()
}

// TournamentSelect runs a binary tournament over the current generation.
func (p *Population) TournamentSelect() *chromosome.Chromosome {
	return p.selector.Pick(p.rng, p.members)
}

// Reproduce builds the next generation from the current one. Slot 0 holds an
// untouched clone of the best member; the remaining slots are filled in
// pairs of tournament winners that may be crossed and mutated. It returns
// the new members and the elite's fitness.
func (p *Population) Reproduce() ([]*chromosome.Chromosome, float64) {
	next := make([]*chromosome.Chromosome, 0, len(p.members))
	elite := p.best.Clone()
	next = append(next, elite)

	for len(next) < len(p.members) {
		first := p.TournamentSelect().Clone()
		second := p.TournamentSelect().Clone()

		if p.rng.Float64() < p.cfg.CrossoverChance {
			first.CrossWithRandom(p.rng, second)
			first.Fitness = chromosome.Unevaluated
			second.Fitness = chromosome.Unevaluated
		}
		if p.rng.Float64() < p.cfg.MutationChance {
			first.Mutate(p.rng, p.gen)
			first.Fitness = chromosome.Unevaluated
		}
		if p.rng.Float64() < p.cfg.MutationChance {
			second.Mutate(p.rng, p.gen)
			second.Fitness = chromosome.Unevaluated
		}
		next = append(next, first, second)
	}
	return next, elite.Fitness
}

// ReplaceAndEvaluate discards the current generation in favour of next and
// scores it.
func (p *Population) ReplaceAndEvaluate(ctx context.Context, next []*chromosome.Chromosome, data dataset.Dataset) error {
	if len(next) != len(p.members) {
		return fmt.Errorf("replacement generation has %d members, want %d", len(next), len(p.members))
	}
	p.members = next
	return p.Evaluate(ctx, data)
}
