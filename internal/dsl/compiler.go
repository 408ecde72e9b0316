package dsl

import (
	"strconv"
	"strings"
)

// DefaultSnapLen bounds static offsets when no snap length is configured.
const DefaultSnapLen = 65535

type compileOptions struct {
	snapLen int
}

// Option configures compilation.
type Option func(*compileOptions)

// WithSnapLen sets the capture snap length static offsets are checked against.
func WithSnapLen(n int) Option {
	return func(o *compileOptions) {
		if n > 0 {
			o.snapLen = n
		}
	}
}

type evalFunc func(buf []byte) (value, bool)

type compiledField struct {
	name    string
	typ     fieldType
	extract func(buf []byte) (any, bool)
}

// Compile turns an expression into an immutable extraction program. It has no
// side effects; equal expressions yield programs with identical behavior.
func Compile(expr *Expression, opts ...Option) (*Program, error) {
	o := compileOptions{snapLen: DefaultSnapLen}
	for _, opt := range opts {
		opt(&o)
	}

	if expr == nil || len(expr.Fields) == 0 {
		return nil, &CompileError{Msg: "expression declares no fields"}
	}

	output := strings.ToLower(expr.Output)
	if output == "" {
		output = OutputCSV
	}
	format, ok := formats[output]
	if !ok {
		return nil, &CompileError{Msg: "unsupported output type " + strconv.Quote(expr.Output)}
	}

	c := &compiler{snapLen: int64(o.snapLen)}
	seen := make(map[string]bool, len(expr.Fields))
	fields := make([]compiledField, 0, len(expr.Fields))
	for _, rule := range expr.Fields {
		if rule.Name == "" {
			return nil, &CompileError{Msg: "field without a name"}
		}
		if seen[rule.Name] {
			return nil, fieldError(rule.Name, "duplicate field name")
		}
		seen[rule.Name] = true

		f, err := c.rule(rule)
		if err != nil {
			return nil, fieldError(rule.Name, "%v", err)
		}
		fields = append(fields, f)
	}

	sep := expr.Separator
	if sep == "" {
		sep = format.separator
	}
	return &Program{
		expr:   expr.Clone(),
		fields: fields,
		output: output,
		sep:    sep,
		format: format.fn,
	}, nil
}

// CompileText parses and compiles a document.
func CompileText(src string, opts ...Option) (*Program, error) {
	expr, err := Parse([]byte(src))
	if err != nil {
		return nil, err
	}
	return Compile(expr, opts...)
}

type compiler struct {
	snapLen int64
}

func (c *compiler) rule(r Rule) (compiledField, error) {
	typ, err := resolveType(r.Type, r.Endian)
	if err != nil {
		return compiledField{}, err
	}
	f := compiledField{name: r.Name, typ: typ}

	switch {
	case r.Offset != "" && r.Expr != "":
		return f, errorf("offset and expr are mutually exclusive")
	case r.Offset != "":
		f.extract, err = c.offsetRead(typ, string(r.Offset))
	case r.Expr != "":
		f.extract, err = c.computed(typ, r.Expr)
	default:
		return f, errorf("one of offset or expr is required")
	}
	return f, err
}

// offsetRead reads the rule type at a symbol, integer or integer expression.
func (c *compiler) offsetRead(typ fieldType, src string) (func([]byte) (any, bool), error) {
	node, err := ParseExpr(src)
	if err != nil {
		return nil, err
	}
	if node.isFloat() {
		return nil, errorf("offset must be an integer expression")
	}
	if node, err = c.fold(node); err != nil {
		return nil, err
	}

	if lit, ok := node.(NumberLit); ok {
		off := lit.Value.i
		if err := c.checkRange(off, typ.width); err != nil {
			return nil, err
		}
		return func(buf []byte) (any, bool) { return typ.read(buf, off) }, nil
	}

	eval := compileNode(node)
	return func(buf []byte) (any, bool) {
		v, ok := eval(buf)
		if !ok {
			return nil, false
		}
		return typ.read(buf, v.i)
	}, nil
}

// computed evaluates an expression and converts the result to the rule type.
func (c *compiler) computed(typ fieldType, src string) (func([]byte) (any, bool), error) {
	if typ.kind == kindMAC {
		return nil, errorf("mac fields require an offset")
	}
	node, err := ParseExpr(src)
	if err != nil {
		return nil, err
	}
	if node, err = c.fold(node); err != nil {
		return nil, err
	}

	if lit, ok := node.(NumberLit); ok {
		v, ok := typ.convert(lit.Value)
		if !ok {
			return nil, errorf("constant %s does not fit %s", lit.Value, typ.name)
		}
		return func([]byte) (any, bool) { return v, true }, nil
	}

	eval := compileNode(node)
	return func(buf []byte) (any, bool) {
		v, ok := eval(buf)
		if !ok {
			return nil, false
		}
		return typ.convert(v)
	}, nil
}

func (c *compiler) checkRange(off int64, width int) error {
	if off < 0 {
		return errorf("negative offset %d", off)
	}
	if off+int64(width) > c.snapLen {
		return errorf("offset %d with width %d exceeds snap length %d", off, width, c.snapLen)
	}
	return nil
}

// fold replaces constant sub-expressions with literals and checks reads whose
// offset is statically known.
func (c *compiler) fold(n ExprNode) (ExprNode, error) {
	switch n := n.(type) {
	case NumberLit:
		return n, nil
	case SymbolRef:
		return NumberLit{Value: intValue(n.Offset)}, nil
	case ReadExpr:
		arg, err := c.fold(n.Arg)
		if err != nil {
			return nil, err
		}
		if lit, ok := arg.(NumberLit); ok {
			if err := c.checkRange(lit.Value.i, n.Type.width); err != nil {
				return nil, errorf("%s: %v", n.Func, err)
			}
		}
		n.Arg = arg
		return n, nil
	case ConvExpr:
		arg, err := c.fold(n.Arg)
		if err != nil {
			return nil, err
		}
		lit, ok := arg.(NumberLit)
		if !ok {
			n.Arg = arg
			return n, nil
		}
		if n.ToFloat {
			return NumberLit{Value: floatValue(lit.Value.float())}, nil
		}
		i, ok := lit.Value.int()
		if !ok {
			return nil, errorf("int(%s) is out of range", lit.Value)
		}
		return NumberLit{Value: intValue(i)}, nil
	case UnaryExpr:
		x, err := c.fold(n.X)
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(NumberLit); ok {
			v, _ := applyUnary(n.Op, lit.Value)
			return NumberLit{Value: v}, nil
		}
		n.X = x
		return n, nil
	case BinaryExpr:
		x, err := c.fold(n.X)
		if err != nil {
			return nil, err
		}
		y, err := c.fold(n.Y)
		if err != nil {
			return nil, err
		}
		lx, okx := x.(NumberLit)
		ly, oky := y.(NumberLit)
		if okx && oky {
			v, ok := applyBinary(n.Op, lx.Value, ly.Value)
			if !ok {
				return nil, errorf("constant %s %s %s has no value", lx.Value, n.Op, ly.Value)
			}
			return NumberLit{Value: v}, nil
		}
		n.X, n.Y = x, y
		return n, nil
	}
	return nil, errorf("unknown expression node %T", n)
}

// compileNode turns a folded tree into a closure.
func compileNode(n ExprNode) evalFunc {
	switch n := n.(type) {
	case NumberLit:
		v := n.Value
		return func([]byte) (value, bool) { return v, true }
	case SymbolRef:
		v := intValue(n.Offset)
		return func([]byte) (value, bool) { return v, true }
	case ReadExpr:
		arg, typ := compileNode(n.Arg), n.Type
		return func(buf []byte) (value, bool) {
			off, ok := arg(buf)
			if !ok {
				return value{}, false
			}
			v, ok := typ.read(buf, off.i)
			if !ok {
				return value{}, false
			}
			return intValue(v.(int64)), true
		}
	case ConvExpr:
		arg := compileNode(n.Arg)
		if n.ToFloat {
			return func(buf []byte) (value, bool) {
				v, ok := arg(buf)
				if !ok {
					return value{}, false
				}
				return floatValue(v.float()), true
			}
		}
		return func(buf []byte) (value, bool) {
			v, ok := arg(buf)
			if !ok {
				return value{}, false
			}
			i, ok := v.int()
			return intValue(i), ok
		}
	case UnaryExpr:
		x, op := compileNode(n.X), n.Op
		return func(buf []byte) (value, bool) {
			v, ok := x(buf)
			if !ok {
				return value{}, false
			}
			return applyUnary(op, v)
		}
	case BinaryExpr:
		x, y, op := compileNode(n.X), compileNode(n.Y), n.Op
		return func(buf []byte) (value, bool) {
			a, ok := x(buf)
			if !ok {
				return value{}, false
			}
			b, ok := y(buf)
			if !ok {
				return value{}, false
			}
			return applyBinary(op, a, b)
		}
	}
	panic("dsl: unknown expression node")
}
