package expr

import (
	"strconv"
	"strings"
)

// Op is a unary or binary operator.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpLT  Op = "<"
	OpLE  Op = "<="
	OpGT  Op = ">"
	OpGE  Op = ">="
	OpEQ  Op = "=="
	OpNE  Op = "!="
	OpAnd Op = "&&"
	OpOr  Op = "||"
	OpNot Op = "!"
	OpNeg Op = "-"
)

// Node is an expression tree node. The set of implementations is closed:
// *Literal, *Variable, *BinaryOp and *UnaryOp.
type Node interface {
	String() string
	node()
}

// Literal is a constant: float64, string or bool.
type Literal struct {
	Value interface{}
}

// Variable references a bound input. The only valid name is "value".
type Variable struct {
	Name string
}

// BinaryOp applies Op to Left and Right.
type BinaryOp struct {
	Op          Op
	Left, Right Node
}

// UnaryOp applies Op to Operand.
type UnaryOp struct {
	Op      Op
	Operand Node
}

func (*Literal) node()  {}
func (*Variable) node() {}
func (*BinaryOp) node() {}
func (*UnaryOp) node()  {}

func (n *Literal) String() string {
	switch v := n.Value.(type) {
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return "null"
}

func (n *Variable) String() string { return n.Name }

func (n *BinaryOp) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(n.Left.String())
	sb.WriteByte(' ')
	sb.WriteString(string(n.Op))
	sb.WriteByte(' ')
	sb.WriteString(n.Right.String())
	sb.WriteByte(')')
	return sb.String()
}

func (n *UnaryOp) String() string { return string(n.Op) + n.Operand.String() }
