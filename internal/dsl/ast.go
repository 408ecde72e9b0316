package dsl

import (
	"fmt"
	"math"
	"strconv"
)

// value is the result of evaluating an expression node.
type value struct {
	i       int64
	f       float64
	isFloat bool
}

func intValue(i int64) value     { return value{i: i} }
func floatValue(f float64) value { return value{f: f, isFloat: true} }

func (v value) float() float64 {
	if v.isFloat {
		return v.f
	}
	return float64(v.i)
}

// int truncates toward zero. ok is false for NaN, infinities and values
// outside the int64 range.
func (v value) int() (int64, bool) {
	if !v.isFloat {
		return v.i, true
	}
	if math.IsNaN(v.f) || v.f >= math.MaxInt64 || v.f < math.MinInt64 {
		return 0, false
	}
	return int64(v.f), true
}

func (v value) String() string {
	if v.isFloat {
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
	return itoa(v.i)
}

// ExprNode is a node of a parsed rule expression.
type ExprNode interface {
	isExprNode()
	// isFloat reports the static result type.
	isFloat() bool
}

type NumberLit struct {
	Value value
}

func (NumberLit) isExprNode()     {}
func (n NumberLit) isFloat() bool { return n.Value.isFloat }

// SymbolRef is an offset symbol, resolved to its byte offset at parse time.
type SymbolRef struct {
	Name   string
	Offset int64
}

func (SymbolRef) isExprNode()   {}
func (SymbolRef) isFloat() bool { return false }

// ReadExpr loads an integer of the given type at a computed offset.
type ReadExpr struct {
	Func string
	Type fieldType
	Arg  ExprNode
}

func (ReadExpr) isExprNode()   {}
func (ReadExpr) isFloat() bool { return false }

// ConvExpr is float(x) or int(x).
type ConvExpr struct {
	ToFloat bool
	Arg     ExprNode
}

func (ConvExpr) isExprNode()     {}
func (c ConvExpr) isFloat() bool { return c.ToFloat }

type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
)

type UnaryExpr struct {
	Op UnaryOp
	X  ExprNode
}

func (UnaryExpr) isExprNode()     {}
func (u UnaryExpr) isFloat() bool { return u.X.isFloat() }

type BinaryOp int

const (
	OpOr BinaryOp = iota
	OpXor
	OpAnd
	OpShl
	OpShr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

var binaryOpNames = [...]string{"|", "^", "&", "<<", ">>", "+", "-", "*", "/", "%"}

func (op BinaryOp) String() string { return binaryOpNames[op] }

// integerOnly reports whether the operator rejects floating point operands.
func (op BinaryOp) integerOnly() bool {
	switch op {
	case OpOr, OpXor, OpAnd, OpShl, OpShr, OpMod:
		return true
	}
	return false
}

type BinaryExpr struct {
	Op   BinaryOp
	X, Y ExprNode
}

func (BinaryExpr) isExprNode() {}
func (b BinaryExpr) isFloat() bool {
	return !b.Op.integerOnly() && (b.X.isFloat() || b.Y.isFloat())
}

// applyUnary evaluates a unary operator. ok is false when the result is null.
func applyUnary(op UnaryOp, x value) (value, bool) {
	switch op {
	case OpNeg:
		if x.isFloat {
			return floatValue(-x.f), true
		}
		return intValue(-x.i), true
	case OpNot:
		return intValue(^x.i), true
	}
	return value{}, false
}

// applyBinary evaluates a binary operator with C semantics on int64 and
// float64. Division or modulo by zero and negative shift counts yield null.
func applyBinary(op BinaryOp, x, y value) (value, bool) {
	if x.isFloat || y.isFloat {
		a, b := x.float(), y.float()
		switch op {
		case OpAdd:
			return floatValue(a + b), true
		case OpSub:
			return floatValue(a - b), true
		case OpMul:
			return floatValue(a * b), true
		case OpDiv:
			if b == 0 {
				return value{}, false
			}
			return floatValue(a / b), true
		}
		return value{}, false
	}

	a, b := x.i, y.i
	switch op {
	case OpOr:
		return intValue(a | b), true
	case OpXor:
		return intValue(a ^ b), true
	case OpAnd:
		return intValue(a & b), true
	case OpShl:
		if b < 0 {
			return value{}, false
		}
		return intValue(a << uint64(b)), true
	case OpShr:
		if b < 0 {
			return value{}, false
		}
		return intValue(a >> uint64(b)), true
	case OpAdd:
		return intValue(a + b), true
	case OpSub:
		return intValue(a - b), true
	case OpMul:
		return intValue(a * b), true
	case OpDiv:
		if b == 0 {
			return value{}, false
		}
		return intValue(a / b), true
	case OpMod:
		if b == 0 {
			return value{}, false
		}
		return intValue(a % b), true
	}
	return value{}, false
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }

func errorf(format string, args ...any) error { return fmt.Errorf(format, args...) }
