package chromosome

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

var ErrInvalidChromosome = errors.New("invalid chromosome")

// Unevaluated is the fitness of a chromosome that has not been scored yet.
// Lower fitness is better, so it also ranks as the worst possible score.
const Unevaluated = math.MaxFloat64

// Chromosome is an expression graph stored as a gene arena. The last gene is
// the root.
type Chromosome struct {
	Genes   []Gene
	Fitness float64
}

func New() *Chromosome {
	return &Chromosome{Fitness: Unevaluated}
}

func FromGenes(genes []Gene) *Chromosome {
	return &Chromosome{Genes: genes, Fitness: Unevaluated}
}

func (c *Chromosome) Len() int {
	return len(c.Genes)
}

func (c *Chromosome) Clone() *Chromosome {
	return &Chromosome{
		Genes:   append([]Gene(nil), c.Genes...),
		Fitness: c.Fitness,
	}
}

// Evaluate returns the prediction of the root gene for one row.
func (c *Chromosome) Evaluate(row []float64) float64 {
	return c.Genes[len(c.Genes)-1].Evaluate(c, row)
}

// EvaluateMSE scores the chromosome against rows whose last column is the
// target. A non-finite mean is stored as Unevaluated so that every fitness
// stays comparable.
func (c *Chromosome) EvaluateMSE(rows [][]float64) float64 {
	total := 0.0
	for _, row := range rows {
		delta := c.Evaluate(row) - row[len(row)-1]
		total += delta * delta
	}
	total /= float64(len(rows))

	if math.IsInf(total, 0) || math.IsNaN(total) {
		c.Fitness = Unevaluated
	} else {
		c.Fitness = total
	}
	return c.Fitness
}

// CrossWith swaps every gene at positions [locus, Len()) with other. Both
// chromosomes keep the acyclicity invariant because references only depend
// on a gene's own position.
func (c *Chromosome) CrossWith(other *Chromosome, locus int) {
	if len(c.Genes) != len(other.Genes) {
		panic(fmt.Sprintf("chromosome: crossover between lengths %d and %d", len(c.Genes), len(other.Genes)))
	}
	if locus < 0 || locus >= len(c.Genes) {
		panic(fmt.Sprintf("chromosome: crossover locus %d outside [0, %d)", locus, len(c.Genes)))
	}
	for i := locus; i < len(c.Genes); i++ {
		c.Genes[i], other.Genes[i] = other.Genes[i], c.Genes[i]
	}
}

// CrossWithRandom crosses at a uniformly drawn locus and returns it.
func (c *Chromosome) CrossWithRandom(rng *rand.Rand, other *Chromosome) int {
	locus := rng.Intn(len(c.Genes))
	c.CrossWith(other, locus)
	return locus
}

// Mutate replaces the gene at a uniformly drawn locus and returns the locus.
func (c *Chromosome) Mutate(rng *rand.Rand, gen Generator) int {
	locus := rng.Intn(len(c.Genes))
	c.Genes[locus] = gen.Gene(rng, locus, locus < 2)
	return locus
}

// Validate checks the positional invariants of the gene arena. A
// variableCount below zero skips the variable bound check.
func (c *Chromosome) Validate(variableCount int) error {
	if len(c.Genes) == 0 {
		return fmt.Errorf("%w: no genes", ErrInvalidChromosome)
	}
	for i, g := range c.Genes {
		switch g.Kind {
		case KindConstant:
		case KindVariable:
			if g.Index < 0 || (variableCount >= 0 && g.Index >= variableCount) {
				return fmt.Errorf("%w: gene %d references variable v%d of %d", ErrInvalidChromosome, i, g.Index, variableCount)
			}
		case KindUnary:
			if g.Op.Arity() != 1 {
				return fmt.Errorf("%w: gene %d uses %s as unary", ErrInvalidChromosome, i, g.Op)
			}
			if g.Left < 0 || g.Left >= i {
				return fmt.Errorf("%w: gene %d references position %d", ErrInvalidChromosome, i, g.Left)
			}
		case KindBinary:
			if g.Op.Arity() != 2 {
				return fmt.Errorf("%w: gene %d uses %s as binary", ErrInvalidChromosome, i, g.Op)
			}
			if g.Left < 0 || g.Left >= i || g.Right < 0 || g.Right >= i {
				return fmt.Errorf("%w: gene %d references positions %d, %d", ErrInvalidChromosome, i, g.Left, g.Right)
			}
		default:
			return fmt.Errorf("%w: gene %d has kind %d", ErrInvalidChromosome, i, g.Kind)
		}
	}
	return nil
}

// Expression renders the graph rooted at the last gene, e.g.
// "add(v0, square(1.8))".
func (c *Chromosome) Expression() string {
	if len(c.Genes) == 0 {
		return ""
	}
	var b strings.Builder
	c.writeExpression(&b, len(c.Genes)-1)
	return b.String()
}

func (c *Chromosome) writeExpression(b *strings.Builder, pos int) {
	g := c.Genes[pos]
	switch g.Kind {
	case KindConstant:
		b.WriteString(formatConstant(g.Value))
	case KindVariable:
		b.WriteString("v")
		b.WriteString(strconv.Itoa(g.Index))
	case KindUnary:
		b.WriteString(g.OperatorName())
		b.WriteByte('(')
		c.writeExpression(b, g.Left)
		b.WriteByte(')')
	case KindBinary:
		b.WriteString(g.OperatorName())
		b.WriteByte('(')
		c.writeExpression(b, g.Left)
		b.WriteString(", ")
		c.writeExpression(b, g.Right)
		b.WriteByte(')')
	}
}

func (c *Chromosome) String() string {
	return c.Expression()
}

// Debug lists every gene in position order.
func (c *Chromosome) Debug() string {
	parts := make([]string, len(c.Genes))
	for i, g := range c.Genes {
		parts[i] = g.String()
	}
	return strings.Join(parts, " ")
}

func formatConstant(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
