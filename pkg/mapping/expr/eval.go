package expr

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ajitpratap0/datasync/pkg/errors"
	"github.com/ajitpratap0/datasync/pkg/json"
)

// ErrDivisionByZero is returned when a formula divides by zero.
var ErrDivisionByZero = errors.New(errors.ErrorTypeData, "division by zero")

// resultDigits is the number of significant digits kept in numeric results.
// It drops binary floating point noise, so 100*1.1 is 110.
const resultDigits = 15

// Program is a parsed formula. It is immutable and safe for concurrent use.
type Program struct {
	src  string
	root Node
}

// Compile parses src into a Program.
func Compile(src string) (*Program, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{src: src, root: root}, nil
}

// Source returns the formula text.
func (p *Program) Source() string { return p.src }

// Root returns the parsed tree.
func (p *Program) Root() Node { return p.root }

// Eval runs the program with value bound to the given input. Inputs are
// normalized: Go numeric types and json.Number become float64.
func (p *Program) Eval(value interface{}) (interface{}, error) {
	in, err := normalize(value)
	if err != nil {
		return nil, err
	}
	out, err := eval(p.root, in)
	if err != nil {
		return nil, err
	}
	if f, ok := out.(float64); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.New(errors.ErrorTypeData, "result is not a finite number")
		}
		return roundResult(f), nil
	}
	return out, nil
}

// Eval compiles and runs src once.
func Eval(src string, value interface{}) (interface{}, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Eval(value)
}

func roundResult(f float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', resultDigits, 64), 64)
	if err != nil {
		return f
	}
	return r
}

func normalize(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "value is not a number")
		}
		return f, nil
	}
	return nil, errors.Newf(errors.ErrorTypeData, "unsupported value type %T", v)
}

func eval(n Node, value interface{}) (interface{}, error) {
	switch n := n.(type) {
	case *Literal:
		return n.Value, nil
	case *Variable:
		return value, nil
	case *UnaryOp:
		return evalUnary(n, value)
	case *BinaryOp:
		return evalBinary(n, value)
	}
	return nil, errors.Newf(errors.ErrorTypeInternal, "unknown node %T", n)
}

func evalUnary(n *UnaryOp, value interface{}) (interface{}, error) {
	v, err := eval(n.Operand, value)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case OpNeg:
		f, ok := v.(float64)
		if !ok {
			return nil, typeError(n.Op, v)
		}
		return -f, nil
	case OpNot:
		b, ok := v.(bool)
		if !ok {
			return nil, typeError(n.Op, v)
		}
		return !b, nil
	}
	return nil, errors.Newf(errors.ErrorTypeInternal, "unknown unary operator %s", n.Op)
}

func evalBinary(n *BinaryOp, value interface{}) (interface{}, error) {
	left, err := eval(n.Left, value)
	if err != nil {
		return nil, err
	}

	// && and || short-circuit
	if n.Op == OpAnd || n.Op == OpOr {
		lb, ok := left.(bool)
		if !ok {
			return nil, typeError(n.Op, left)
		}
		if (n.Op == OpAnd && !lb) || (n.Op == OpOr && lb) {
			return lb, nil
		}
		right, err := eval(n.Right, value)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, typeError(n.Op, right)
		}
		return rb, nil
	}

	right, err := eval(n.Right, value)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case OpAdd:
		_, ls := left.(string)
		_, rs := right.(string)
		if ls || rs {
			if left == nil || right == nil {
				return nil, typeError(n.Op, nil)
			}
			return format(left) + format(right), nil
		}
		return arith(n.Op, left, right)
	case OpSub, OpMul, OpDiv:
		return arith(n.Op, left, right)
	case OpEQ:
		return left == right, nil
	case OpNE:
		return left != right, nil
	case OpLT, OpLE, OpGT, OpGE:
		return compare(n.Op, left, right)
	}
	return nil, errors.Newf(errors.ErrorTypeInternal, "unknown binary operator %s", n.Op)
}

func arith(op Op, left, right interface{}) (interface{}, error) {
	l, lok := left.(float64)
	r, rok := right.(float64)
	if !lok {
		return nil, typeError(op, left)
	}
	if !rok {
		return nil, typeError(op, right)
	}
	switch op {
	case OpAdd:
		return l + r, nil
	case OpSub:
		return l - r, nil
	case OpMul:
		return l * r, nil
	case OpDiv:
		if r == 0 {
			return nil, ErrDivisionByZero
		}
		return l / r, nil
	}
	return nil, errors.Newf(errors.ErrorTypeInternal, "unknown arithmetic operator %s", op)
}

func compare(op Op, left, right interface{}) (interface{}, error) {
	var c int
	switch l := left.(type) {
	case float64:
		r, ok := right.(float64)
		if !ok {
			return nil, typeError(op, right)
		}
		c = cmpOrdered(l, r)
	case string:
		r, ok := right.(string)
		if !ok {
			return nil, typeError(op, right)
		}
		c = cmpOrdered(l, r)
	default:
		return nil, typeError(op, left)
	}
	switch op {
	case OpLT:
		return c < 0, nil
	case OpLE:
		return c <= 0, nil
	case OpGT:
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func cmpOrdered[T float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func format(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(roundResult(x), 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func typeError(op Op, v interface{}) error {
	return errors.Newf(errors.ErrorTypeData, "operator %s cannot be applied to %s", op, typeName(v))
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case float64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}
