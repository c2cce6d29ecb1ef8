package evo

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"gonum.org/v1/gonum/stat"

	"graphgp/internal/chromosome"
)

type GenerationFitness struct {
	Generation  int     `json:"generation"`
	BestFitness float64 `json:"best_fitness"`
}

// GenerationDiagnostics summarizes one evaluated generation. Mean and
// standard deviation only cover members whose fitness did not overflow.
type GenerationDiagnostics struct {
	Generation        int     `json:"generation"`
	BestFitness       float64 `json:"best_fitness"`
	MeanFitness       float64 `json:"mean_fitness"`
	StdDevFitness     float64 `json:"stddev_fitness"`
	Overflowed        int     `json:"overflowed"`
	GenotypeDiversity int     `json:"genotype_diversity"`
	PopulationSize    int     `json:"population_size"`
	Evaluations       int     `json:"evaluations"`
}

func summarizeGeneration(generation int, members []*chromosome.Chromosome, evaluations int) GenerationDiagnostics {
	diag := GenerationDiagnostics{
		Generation:     generation,
		BestFitness:    chromosome.Unevaluated,
		PopulationSize: len(members),
		Evaluations:    evaluations,
	}

	finite := make([]float64, 0, len(members))
	genotypes := make(map[uint64]struct{}, len(members))
	for _, c := range members {
		if c.Fitness < diag.BestFitness {
			diag.BestFitness = c.Fitness
		}
		if c.Fitness == chromosome.Unevaluated || math.IsNaN(c.Fitness) {
			diag.Overflowed++
		} else {
			finite = append(finite, c.Fitness)
		}
		genotypes[genotypeKey(c)] = struct{}{}
	}
	diag.GenotypeDiversity = len(genotypes)

	switch len(finite) {
	case 0:
	case 1:
		diag.MeanFitness = finite[0]
	default:
		mean, std := stat.MeanStdDev(finite, nil)
		diag.MeanFitness = clampFinite(mean)
		diag.StdDevFitness = clampFinite(std)
	}
	return diag
}

// clampFinite keeps sums of near-overflow fitness values encodable.
func clampFinite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return math.MaxFloat64
	}
	return v
}

func genotypeKey(c *chromosome.Chromosome) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, g := range c.Genes {
		h.Write([]byte{byte(g.Kind), byte(g.Op)})
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(g.Value))
		h.Write(buf[:])
		for _, n := range []int{g.Index, g.Left, g.Right} {
			binary.LittleEndian.PutUint64(buf[:], uint64(n))
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}
