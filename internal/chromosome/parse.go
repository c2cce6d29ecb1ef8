package chromosome

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"graphgp/internal/ops"
)

var ErrSyntax = errors.New("expression syntax error")

// Parse builds a chromosome from the form produced by Expression. Genes are
// laid out in post-order, so every operator follows its operands. When the
// second gene would be an operator, a copy of the first terminal is inserted
// ahead of it so positions 0 and 1 stay terminals.
func Parse(expr string) (*Chromosome, error) {
	p := &parser{src: expr}
	p.skipSpace()
	if _, err := p.node(); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return FromGenes(padTerminals(p.genes)), nil
}

// padTerminals duplicates genes[0] at position 1 when genes[1] is an
// operator, shifting every reference at or after position 1.
func padTerminals(genes []Gene) []Gene {
	if len(genes) < 2 || genes[1].IsTerminal() {
		return genes
	}
	out := make([]Gene, 0, len(genes)+1)
	out = append(out, genes[0], genes[0])
	for _, g := range genes[1:] {
		if !g.IsTerminal() {
			if g.Left >= 1 {
				g.Left++
			}
			if g.Kind == KindBinary && g.Right >= 1 {
				g.Right++
			}
		}
		out = append(out, g)
	}
	return out
}

type parser struct {
	src   string
	pos   int
	genes []Gene
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) emit(g Gene) int {
	p.genes = append(p.genes, g)
	return len(p.genes) - 1
}

func (p *parser) expect(ch byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != ch {
		return p.errorf("expected %q", ch)
	}
	p.pos++
	p.skipSpace()
	return nil
}

func (p *parser) token() string {
	start := p.pos
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == '(' || ch == ')' || ch == ',' || unicode.IsSpace(rune(ch)) {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) node() (int, error) {
	start := p.pos
	tok := p.token()
	if tok == "" {
		return 0, p.errorf("expected operand")
	}

	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '(' {
		op, err := ops.Parse(tok)
		if err != nil {
			p.pos = start
			return 0, p.errorf("%v", err)
		}
		return p.application(op)
	}

	if rest, ok := strings.CutPrefix(tok, "v"); ok && rest != "" {
		index, err := strconv.Atoi(rest)
		if err != nil || index < 0 {
			p.pos = start
			return 0, p.errorf("bad variable %q", tok)
		}
		return p.emit(Variable(index)), nil
	}

	value, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		p.pos = start
		return 0, p.errorf("bad constant %q", tok)
	}
	return p.emit(Constant(value)), nil
}

func (p *parser) application(op ops.Op) (int, error) {
	if err := p.expect('('); err != nil {
		return 0, err
	}
	left, err := p.node()
	if err != nil {
		return 0, err
	}
	if op.Arity() == 1 {
		if err := p.expect(')'); err != nil {
			return 0, err
		}
		return p.emit(UnaryGene(op, left)), nil
	}

	if err := p.expect(','); err != nil {
		return 0, err
	}
	right, err := p.node()
	if err != nil {
		return 0, err
	}
	if err := p.expect(')'); err != nil {
		return 0, err
	}
	return p.emit(BinaryGene(op, left, right)), nil
}
