package chromosome

import (
	"fmt"
	"math/rand"

	"graphgp/internal/ops"
)

// Chances are the coin weights used when drawing a gene.
type Chances struct {
	// Terminal is the probability that an unforced gene is a terminal.
	Terminal float64 `json:"terminal" yaml:"terminal"`
	// Constant is the probability that a terminal is a constant rather than a
	// variable.
	Constant float64 `json:"constant" yaml:"constant"`
	// Binary is the probability that an operator gene is binary.
	Binary float64 `json:"binary" yaml:"binary"`
}

func DefaultChances() Chances {
	return Chances{Terminal: 0.5, Constant: 0.5, Binary: 0.5}
}

func (c Chances) IsZero() bool {
	return c == Chances{}
}

func (c Chances) Validate() error {
	for name, p := range map[string]float64{"terminal": c.Terminal, "constant": c.Constant, "binary": c.Binary} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s chance must be in [0, 1], got %v", name, p)
		}
	}
	return nil
}

// Generator builds random genes and chromosomes for a dataset with
// VariableCount input columns.
type Generator struct {
	VariableCount int
	Chances       Chances
}

func NewGenerator(variableCount int) Generator {
	return Generator{VariableCount: variableCount, Chances: DefaultChances()}
}

// Gene draws a gene for the given position. Operator references are drawn
// from [0, position), so a gene at position 0 is always a terminal.
func (g Generator) Gene(rng *rand.Rand, position int, forceTerminal bool) Gene {
	if forceTerminal || position == 0 || rng.Float64() < g.Chances.Terminal {
		if g.VariableCount <= 0 || rng.Float64() < g.Chances.Constant {
			return Constant(rng.Float64())
		}
		return Variable(rng.Intn(g.VariableCount))
	}
	if rng.Float64() < g.Chances.Binary {
		return BinaryGene(ops.PickBinary(rng), rng.Intn(position), rng.Intn(position))
	}
	return UnaryGene(ops.PickUnary(rng), rng.Intn(position))
}

// Chromosome builds a chromosome of length genes whose first two positions
// are terminals.
func (g Generator) Chromosome(rng *rand.Rand, length int) *Chromosome {
	genes := make([]Gene, length)
	for i := range genes {
		genes[i] = g.Gene(rng, i, i < 2)
	}
	return FromGenes(genes)
}
