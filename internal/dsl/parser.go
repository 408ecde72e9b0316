package dsl

import (
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokInt
	tokFloat
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits an expression into tokens. Identifiers may contain '-' when it
// is followed by a letter, so "udp-src-2" lexes as udp-src, -, 2.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c):
			start := i
			isFloat := false
			if c == '0' && i+1 < len(src) && (src[i+1] == 'x' || src[i+1] == 'X') {
				i += 2
				for i < len(src) && isHex(src[i]) {
					i++
				}
			} else {
				for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
					if src[i] == '.' {
						isFloat = true
					}
					i++
				}
			}
			kind := tokInt
			if isFloat {
				kind = tokFloat
			}
			toks = append(toks, token{kind: kind, text: src[start:i], pos: start})
		case isLetter(c):
			start := i
			for i < len(src) {
				if isLetter(src[i]) || isDigit(src[i]) || src[i] == '_' {
					i++
					continue
				}
				if src[i] == '-' && i+1 < len(src) && isLetter(src[i+1]) {
					i++
					continue
				}
				break
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '<' || c == '>':
			if i+1 >= len(src) || src[i+1] != c {
				return nil, errorf("unexpected %q at %d", c, i)
			}
			toks = append(toks, token{kind: tokOp, text: src[i : i+2], pos: i})
			i += 2
		case strings.IndexByte("|^&+-*/%~", c) >= 0:
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++
		default:
			return nil, errorf("unexpected %q at %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isHex(c byte) bool    { return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' }

// Binary operator precedence, C order. Higher binds tighter.
var precedence = map[string]int{
	"|": 1, "^": 2, "&": 3,
	"<<": 4, ">>": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

var binaryOps = map[string]BinaryOp{
	"|": OpOr, "^": OpXor, "&": OpAnd, "<<": OpShl, ">>": OpShr,
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod,
}

// readFuncs are the typed read calls available in expressions.
var readFuncs = map[string]string{
	"u8": "uint8", "i8": "int8",
	"u16be": "uint16be", "u16le": "uint16le", "i16be": "int16be", "i16le": "int16le",
	"u32be": "uint32be", "u32le": "uint32le", "i32be": "int32be", "i32le": "int32le",
}

type parser struct {
	toks []token
	pos  int
}

// ParseExpr parses a rule expression into a tree.
func ParseExpr(src string) (ExprNode, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.binary(1)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, errorf("unexpected %q at %d", t.text, t.pos)
	}
	return node, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// binary parses a left associative chain of operators at or above minPrec.
func (p *parser) binary(minPrec int) (ExprNode, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		prec, ok := precedence[t.text]
		if t.kind != tokOp || !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.binary(prec + 1)
		if err != nil {
			return nil, err
		}
		op := binaryOps[t.text]
		if op.integerOnly() && (left.isFloat() || right.isFloat()) {
			return nil, errorf("operator %q requires integer operands at %d", t.text, t.pos)
		}
		left = BinaryExpr{Op: op, X: left, Y: right}
	}
}

func (p *parser) unary() (ExprNode, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "~") {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if t.text == "~" {
			if x.isFloat() {
				return nil, errorf("operator \"~\" requires an integer operand at %d", t.pos)
			}
			return UnaryExpr{Op: OpNot, X: x}, nil
		}
		return UnaryExpr{Op: OpNeg, X: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (ExprNode, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		i, err := strconv.ParseInt(t.text, 0, 64)
		if err != nil {
			return nil, errorf("invalid integer %q at %d", t.text, t.pos)
		}
		return NumberLit{Value: intValue(i)}, nil
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, errorf("invalid number %q at %d", t.text, t.pos)
		}
		return NumberLit{Value: floatValue(f)}, nil
	case tokLParen:
		x, err := p.binary(1)
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != tokRParen {
			return nil, errorf("expected ')' at %d", r.pos)
		}
		return x, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(t)
		}
		off, ok := LookupOffset(t.text)
		if !ok {
			return nil, errorf("undefined offset symbol %q", t.text)
		}
		return SymbolRef{Name: t.text, Offset: int64(off)}, nil
	case tokEOF:
		return nil, errorf("unexpected end of expression")
	}
	return nil, errorf("unexpected %q at %d", t.text, t.pos)
}

func (p *parser) call(name token) (ExprNode, error) {
	p.next() // (
	arg, err := p.binary(1)
	if err != nil {
		return nil, err
	}
	if r := p.next(); r.kind != tokRParen {
		return nil, errorf("expected ')' at %d", r.pos)
	}

	switch name.text {
	case "float":
		return ConvExpr{ToFloat: true, Arg: arg}, nil
	case "int":
		return ConvExpr{Arg: arg}, nil
	}
	typeName, ok := readFuncs[name.text]
	if !ok {
		return nil, errorf("unknown function %q at %d", name.text, name.pos)
	}
	if arg.isFloat() {
		return nil, errorf("%s offset must be an integer", name.text)
	}
	ft, err := resolveType(typeName, "")
	if err != nil {
		return nil, err
	}
	return ReadExpr{Func: name.text, Type: ft, Arg: arg}, nil
}
