package chromosome

import (
	"fmt"

	"graphgp/internal/ops"
)

type Kind uint8

const (
	KindConstant Kind = iota
	KindVariable
	KindUnary
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "Constant"
	case KindVariable:
		return "Variable"
	case KindUnary:
		return "Unary"
	case KindBinary:
		return "Binary"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Gene is one node of an expression graph. Left and Right are positions of
// earlier genes in the owning chromosome; they are only meaningful for
// operator genes.
type Gene struct {
	Kind  Kind
	Value float64
	Index int
	Op    ops.Op
	Left  int
	Right int
}

func Constant(value float64) Gene {
	return Gene{Kind: KindConstant, Value: value}
}

func Variable(index int) Gene {
	return Gene{Kind: KindVariable, Index: index}
}

func UnaryGene(op ops.Op, left int) Gene {
	return Gene{Kind: KindUnary, Op: op, Left: left}
}

func BinaryGene(op ops.Op, left, right int) Gene {
	return Gene{Kind: KindBinary, Op: op, Left: left, Right: right}
}

func (g Gene) IsTerminal() bool {
	return g.Kind == KindConstant || g.Kind == KindVariable
}

// Evaluate walks the subgraph rooted at g against one dataset row.
func (g Gene) Evaluate(c *Chromosome, row []float64) float64 {
	switch g.Kind {
	case KindConstant:
		return g.Value
	case KindVariable:
		return row[g.Index]
	case KindUnary:
		return g.Op.Apply(c.Genes[g.Left].Evaluate(c, row), ops.UnarySentinel)
	case KindBinary:
		return g.Op.Apply(c.Genes[g.Left].Evaluate(c, row), c.Genes[g.Right].Evaluate(c, row))
	default:
		panic(fmt.Sprintf("chromosome: unknown gene kind %d", g.Kind))
	}
}

// OperatorName returns "nothing" for terminals.
func (g Gene) OperatorName() string {
	if g.IsTerminal() {
		return ops.None.Name()
	}
	return g.Op.Name()
}

func (g Gene) String() string {
	switch g.Kind {
	case KindConstant:
		return fmt.Sprintf("Constant(%s)[%d, %d]", formatConstant(g.Value), g.Left, g.Right)
	case KindVariable:
		return fmt.Sprintf("Variable(%d)[%d, %d]", g.Index, g.Left, g.Right)
	default:
		return fmt.Sprintf("%s(%s)[%d, %d]", g.Kind, g.Op, g.Left, g.Right)
	}
}
