package expr

import "fmt"

// VariableName is the only identifier a formula may reference.
const VariableName = "value"

const (
	// MaxLength bounds the formula source.
	MaxLength = 4096
	// maxDepth bounds nesting so hostile input cannot exhaust the stack.
	maxDepth = 64
)

// Parse turns src into an expression tree.
//
// Grammar, lowest precedence first:
//
//	or         = and { "||" and }
//	and        = equality { "&&" equality }
//	equality   = comparison { ("==" | "!=") comparison }
//	comparison = additive { ("<" | "<=" | ">" | ">=") additive }
//	additive   = term { ("+" | "-") term }
//	term       = unary { ("*" | "/") unary }
//	unary      = ("-" | "!") unary | primary
//	primary    = number | string | "true" | "false" | "value" | "(" or ")"
func Parse(src string) (Node, error) {
	if len(src) > MaxLength {
		return nil, &SyntaxError{Pos: MaxLength, Msg: fmt.Sprintf("formula longer than %d bytes", MaxLength)}
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty formula"}
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s %q", tok.kind, tok.text)}
	}
	return n, nil
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

// matchOp consumes the next token when it is one of ops.
func (p *parser) matchOp(ops ...Op) (Op, bool) {
	tok := p.peek()
	if tok.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if tok.text == string(op) {
			p.advance()
			return op, true
		}
	}
	return "", false
}

// binary parses a left-associative chain of ops over next.
func (p *parser) binary(next func() (Node, error), ops ...Op) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp(ops...)
		if !ok {
			return left, nil
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseOr() (Node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return nil, &SyntaxError{Pos: p.peek().pos, Msg: "formula nested too deeply"}
	}
	return p.binary(p.parseAnd, OpOr)
}

func (p *parser) parseAnd() (Node, error) {
	return p.binary(p.parseEquality, OpAnd)
}

func (p *parser) parseEquality() (Node, error) {
	return p.binary(p.parseComparison, OpEQ, OpNE)
}

func (p *parser) parseComparison() (Node, error) {
	return p.binary(p.parseAdditive, OpLE, OpGE, OpLT, OpGT)
}

func (p *parser) parseAdditive() (Node, error) {
	return p.binary(p.parseTerm, OpAdd, OpSub)
}

func (p *parser) parseTerm() (Node, error) {
	return p.binary(p.parseUnary, OpMul, OpDiv)
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "-" || tok.text == "!") {
		p.advance()
		p.depth++
		defer func() { p.depth-- }()
		if p.depth > maxDepth {
			return nil, &SyntaxError{Pos: tok.pos, Msg: "formula nested too deeply"}
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.text == "-" {
			return &UnaryOp{Op: OpNeg, Operand: operand}, nil
		}
		return &UnaryOp{Op: OpNot, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokNumber:
		return &Literal{Value: tok.num}, nil
	case tokString:
		return &Literal{Value: tok.text}, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("function calls are not supported: %s(...)", tok.text)}
		}
		switch tok.text {
		case "true":
			return &Literal{Value: true}, nil
		case "false":
			return &Literal{Value: false}, nil
		case VariableName:
			return &Variable{Name: VariableName}, nil
		}
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unknown identifier %q, only %s is allowed", tok.text, VariableName)}
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: "expected ')'"}
		}
		return n, nil
	case tokEOF:
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected end of formula"}
	}
	return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s %q", tok.kind, tok.text)}
}
