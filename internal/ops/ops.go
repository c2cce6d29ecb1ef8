package ops

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// UnarySentinel is passed as the ignored second argument of unary operators.
const UnarySentinel = -1.0

var ErrUnknownOperator = errors.New("unknown operator")

// Op identifies an operator in the fixed library. The zero value is None,
// the marker carried by terminal genes.
type Op uint8

const (
	None Op = iota
	Add
	Sub
	Div
	Mul
	Max
	Min
	Square
	Log2
)

type Func func(x, y float64) float64

type opInfo struct {
	name  string
	arity int
	fn    Func
}

var table = [...]opInfo{
	None:   {name: "nothing", arity: 0, fn: func(_, _ float64) float64 { return 0 }},
	Add:    {name: "add", arity: 2, fn: func(x, y float64) float64 { return x + y }},
	Sub:    {name: "sub", arity: 2, fn: func(x, y float64) float64 { return x - y }},
	Div:    {name: "truediv", arity: 2, fn: Divide},
	Mul:    {name: "mul", arity: 2, fn: func(x, y float64) float64 { return x * y }},
	Max:    {name: "max", arity: 2, fn: maxNum},
	Min:    {name: "min", arity: 2, fn: minNum},
	Square: {name: "square", arity: 1, fn: func(x, _ float64) float64 { return x * x }},
	Log2:   {name: "log2", arity: 1, fn: func(x, _ float64) float64 { return math.Log2(x) }},
}

var (
	unarySet  = []Op{Square, Log2}
	binarySet = []Op{Add, Sub, Div, Mul, Max, Min}
)

func (o Op) valid() bool {
	return int(o) < len(table)
}

func (o Op) Name() string {
	if !o.valid() {
		return fmt.Sprintf("op(%d)", uint8(o))
	}
	return table[o].name
}

func (o Op) String() string {
	return o.Name()
}

// Arity is 1 for unary operators, 2 for binary ones and 0 for None.
func (o Op) Arity() int {
	if !o.valid() {
		return 0
	}
	return table[o].arity
}

func (o Op) Func() Func {
	if !o.valid() {
		return table[None].fn
	}
	return table[o].fn
}

// Apply evaluates the operator. Unary operators ignore y.
func (o Op) Apply(x, y float64) float64 {
	return o.Func()(x, y)
}

// Unary lists the unary operator set.
func Unary() []Op {
	return append([]Op(nil), unarySet...)
}

// Binary lists the binary operator set.
func Binary() []Op {
	return append([]Op(nil), binarySet...)
}

func PickUnary(rng *rand.Rand) Op {
	return unarySet[rng.Intn(len(unarySet))]
}

func PickBinary(rng *rand.Rand) Op {
	return binarySet[rng.Intn(len(binarySet))]
}

// Parse resolves a display name to its operator.
func Parse(name string) (Op, error) {
	for i := range table {
		op := Op(i)
		if op == None {
			continue
		}
		if table[i].name == name {
			return op, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownOperator, name)
}

// Divide is x/y, except that a zero divisor yields the largest finite value
// carrying the sign of x (x == 0 counts as positive).
func Divide(x, y float64) float64 {
	if y == 0 {
		if x >= 0 {
			return math.MaxFloat64
		}
		return -math.MaxFloat64
	}
	return x / y
}

func maxNum(x, y float64) float64 {
	switch {
	case math.IsNaN(x):
		return y
	case math.IsNaN(y):
		return x
	}
	return math.Max(x, y)
}

func minNum(x, y float64) float64 {
	switch {
	case math.IsNaN(x):
		return y
	case math.IsNaN(y):
		return x
	}
	return math.Min(x, y)
}
