package evo

import (
	"math/rand"

	"graphgp/internal/chromosome"
)

// TournamentSelector draws Size members uniformly with replacement and keeps
// the one with the lowest fitness. Ties go to the earliest draw.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) Pick(rng *rand.Rand, members []*chromosome.Chromosome) *chromosome.Chromosome {
	size := s.Size
	if size <= 0 {
		size = 2
	}

	best := members[rng.Intn(len(members))]
	for i := 1; i < size; i++ {
		candidate := members[rng.Intn(len(members))]
		if candidate.Fitness < best.Fitness {
			best = candidate
		}
	}
	return best
}
