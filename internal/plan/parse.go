package plan

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/roach88/tuplex/internal/expr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokParam
	tokOp
)

type lexeme struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]lexeme, error) {
	var out []lexeme
	for i := 0; i < len(src); {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '\'':
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(src) {
					return nil, fmt.Errorf("unterminated string at offset %d", i)
				}
				if src[j] == '\'' {
					if j+1 < len(src) && src[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteByte(src[j])
				j++
			}
			out = append(out, lexeme{kind: tokString, text: b.String(), pos: i})
			i = j + 1
		case c == '$':
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("empty parameter name at offset %d", i)
			}
			out = append(out, lexeme{kind: tokParam, text: src[i+1 : j], pos: i})
			i = j
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			out = append(out, lexeme{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		case isIdentByte(src[i]):
			j := i
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			out = append(out, lexeme{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		default:
			op := src[i : i+1]
			if i+1 < len(src) {
				switch two := src[i : i+2]; two {
				case "==", "!=", "<=", ">=", "<>":
					op = two
				}
			}
			if !operators[op] {
				return nil, fmt.Errorf("unexpected %q at offset %d", op, i)
			}
			out = append(out, lexeme{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	return append(out, lexeme{kind: tokEOF, pos: len(src)}), nil
}

var operators = map[string]bool{
	"==": true, "!=": true, "<>": true, "<=": true, ">=": true, "<": true, ">": true, "=": true,
	"+": true, "-": true, "*": true, "/": true, "(": true, ")": true, ",": true, ".": true,
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// Scope resolves the names an expression may refer to: execution
// parameters and the outer rows of enclosing applies, innermost last.
type Scope struct {
	Params map[string]reflect.Type
	Outer  []*expr.Binding
}

func (s *Scope) binding(name string) (*expr.Binding, bool) {
	if s == nil || len(s.Outer) == 0 {
		return nil, false
	}
	if name == "outer" {
		return s.Outer[len(s.Outer)-1], true
	}
	for i := len(s.Outer) - 1; i >= 0; i-- {
		if s.Outer[i].Name == name {
			return s.Outer[i], true
		}
	}
	return nil, false
}

// ParseExpr parses the expression language of plan documents:
//
//	c0 == 'Oslo' AND (c1 + 1 > $min OR c2 IS NOT NULL)
//	outer.c0 = c1
//	lower(c1) != 'ann'
//
// cN reads field N of the current row, outer.cN (or <apply>.cN) a field of
// an enclosing apply's left row, and $name a declared parameter. Literals
// are untyped and adopt the type they are compared with.
func ParseExpr(src string, scope *Scope) (expr.Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, ErrSyntax.New(src, err)
	}
	p := &parser{toks: toks, scope: scope}
	e, err := p.or()
	if err == nil && p.peek().kind != tokEOF {
		err = p.errorf("unexpected %q", p.peek().text)
	}
	if err != nil {
		return nil, ErrSyntax.New(src, err)
	}
	return e, nil
}

type parser struct {
	toks  []lexeme
	i     int
	scope *Scope
}

func (p *parser) peek() lexeme { return p.toks[p.i] }

func (p *parser) next() lexeme {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.peek().pos, fmt.Sprintf(format, args...))
}

// keyword consumes the next token if it is the case-insensitive keyword kw.
func (p *parser) keyword(kw string) bool {
	if t := p.peek(); t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.i++
		return true
	}
	return false
}

func (p *parser) op(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.i++
			return op, true
		}
	}
	return "", false
}

func (p *parser) expect(op string) error {
	if _, ok := p.op(op); !ok {
		return p.errorf("expected %q", op)
	}
	return nil
}

func (p *parser) or() (expr.Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = expr.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (expr.Expr, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = expr.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) not() (expr.Expr, error) {
	if p.keyword("NOT") {
		operand, err := p.not()
		if err != nil {
			return nil, err
		}
		return expr.Not{Operand: operand}, nil
	}
	return p.comparison()
}

var compareOps = map[string]expr.CompareOp{
	"==": expr.Eq, "=": expr.Eq,
	"!=": expr.Ne, "<>": expr.Ne,
	"<": expr.Lt, "<=": expr.Le,
	">": expr.Gt, ">=": expr.Ge,
}

func (p *parser) comparison() (expr.Expr, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	if p.keyword("IS") {
		negate := p.keyword("NOT")
		if !p.keyword("NULL") {
			return nil, p.errorf("expected NULL")
		}
		var e expr.Expr = expr.IsNull{Operand: left}
		if negate {
			e = expr.Not{Operand: e}
		}
		return e, nil
	}
	if op, ok := p.op("==", "=", "!=", "<>", "<=", ">=", "<", ">"); ok {
		right, err := p.additive()
		if err != nil {
			return nil, err
		}
		return expr.Compare{Op: compareOps[op], Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) additive() (expr.Expr, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.op("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		arith := expr.Add
		if op == "-" {
			arith = expr.Sub
		}
		left = expr.Arith{Op: arith, Left: left, Right: right}
	}
}

func (p *parser) multiplicative() (expr.Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.op("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		arith := expr.Mul
		if op == "/" {
			arith = expr.Div
		}
		left = expr.Arith{Op: arith, Left: left, Right: right}
	}
}

func (p *parser) unary() (expr.Expr, error) {
	if _, ok := p.op("-"); ok {
		t := p.next()
		if t.kind != tokNumber {
			return nil, p.errorf("expected a number after '-'")
		}
		return number("-" + t.text)
	}
	return p.primary()
}

func number(text string) (expr.Expr, error) {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return expr.Untyped(n), nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", text)
	}
	return expr.Untyped(f), nil
}

func (p *parser) primary() (expr.Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return number(t.text)
	case tokString:
		return expr.Untyped(t.text), nil
	case tokParam:
		typ, ok := p.scope.param(t.text)
		if !ok {
			return nil, fmt.Errorf("offset %d: undeclared parameter $%s", t.pos, t.text)
		}
		return expr.Param{Name: t.text, Type: typ}, nil
	case tokOp:
		if t.text == "(" {
			e, err := p.or()
			if err != nil {
				return nil, err
			}
			return e, p.expect(")")
		}
	case tokIdent:
		return p.ident(t)
	}
	if t.kind == tokEOF {
		return nil, fmt.Errorf("offset %d: unexpected end of expression", t.pos)
	}
	return nil, fmt.Errorf("offset %d: unexpected %q", t.pos, t.text)
}

func (p *parser) ident(t lexeme) (expr.Expr, error) {
	switch strings.ToLower(t.text) {
	case "true":
		return expr.Untyped(true), nil
	case "false":
		return expr.Untyped(false), nil
	case "null":
		return expr.Untyped(nil), nil
	}
	if i, ok := columnRef(t.text); ok {
		return expr.Col(i), nil
	}
	if _, ok := p.op("."); ok {
		b, found := p.scope.binding(t.text)
		if !found {
			return nil, fmt.Errorf("offset %d: %s is not an enclosing apply", t.pos, t.text)
		}
		ref := p.next()
		i, ok := columnRef(ref.text)
		if ref.kind != tokIdent || !ok {
			return nil, fmt.Errorf("offset %d: expected a column reference cN", ref.pos)
		}
		return expr.Outer{Binding: b, Index: i}, nil
	}
	if _, ok := p.op("("); ok {
		var args []expr.Expr
		if _, closed := p.op(")"); !closed {
			for {
				a, err := p.or()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if _, more := p.op(","); !more {
					break
				}
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
		}
		f, err := expr.Call(t.text, args...)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", t.pos, err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("offset %d: unknown name %s", t.pos, t.text)
}

func (s *Scope) param(name string) (reflect.Type, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.Params[name]
	return t, ok
}

// columnRef parses cN.
func columnRef(s string) (int, bool) {
	if len(s) < 2 || (s[0] != 'c' && s[0] != 'C') {
		return 0, false
	}
	for _, b := range []byte(s[1:]) {
		if b < '0' || b > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s[1:])
	return n, err == nil
}
