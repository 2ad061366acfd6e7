// Package expr implements the restricted formula language used by mapping
// rules.
//
// A formula is a single pure expression over one bound input, value. It
// supports number, string and boolean literals, arithmetic (+ - * /),
// comparisons, && and ||, unary - and !, and parentheses. + concatenates
// when either operand is a string. There are no function calls and no
// identifiers other than value, true and false.
//
// Formulas are parsed into a typed tree (Literal, Variable, BinaryOp,
// UnaryOp) and evaluated by walking it:
//
//	prog, err := expr.Compile("value * 1.1")
//	if err != nil {
//		return err
//	}
//	out, err := prog.Eval(100.0) // 110
package expr
