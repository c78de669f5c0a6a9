// internal/rules/expression.go
package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/solatis/cascade/internal/types"
)

/*
 * Restricted arithmetic expressions.
 *
 * Grammar (whitespace ignored between tokens):
 *
 *   expr    := term (('+' | '-') term)*
 *   term    := unary (('*' | '/') unary)*
 *   unary   := ('+' | '-') unary | primary
 *   primary := NUMBER | FIELD | '(' expr ')'
 *   NUMBER  := [0-9]+ ('.' [0-9]*)? | '.' [0-9]+
 *   FIELD   := [A-Za-z_][A-Za-z0-9_.]*
 *
 * Expressions are user-authored configuration. The lexer rejects every
 * character outside the grammar, so nothing but arithmetic over field values
 * can be expressed: no calls, no variables beyond field substitution, no
 * loops. The parsed AST is evaluated directly.
 *
 * Field substitution policy: a referenced field must hold a finite number or
 * a string that parses as one. Absent, null, boolean, array, date and
 * non-numeric text fail the whole expression. Substituting zero would let a
 * blank input silently produce a plausible number (rate * 100 = 0).
 *
 * Failure is a null result, never a panic: parse errors, unbalanced
 * parentheses, division by zero and non-finite results all fail closed.
 */

// Expr is a parsed expression, safe for concurrent evaluation.
type Expr struct {
	source string
	root   exprNode
	fields []types.FieldID
}

// exprNode evaluates to a finite number or reports failure.
type exprNode interface {
	eval(bag types.ValueBag) (float64, bool)
}

type numberNode struct{ value float64 }

type fieldNode struct{ id types.FieldID }

type unaryNode struct {
	op      byte
	operand exprNode
}

type binaryNode struct {
	op          byte
	left, right exprNode
}

func (n numberNode) eval(types.ValueBag) (float64, bool) { return n.value, true }

func (n fieldNode) eval(bag types.ValueBag) (float64, bool) {
	v, ok := bag[n.id]
	if !ok {
		return 0, false
	}
	f, err := AsNumber(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (n unaryNode) eval(bag types.ValueBag) (float64, bool) {
	x, ok := n.operand.eval(bag)
	if !ok {
		return 0, false
	}
	if n.op == '-' {
		return -x, true
	}
	return x, true
}

func (n binaryNode) eval(bag types.ValueBag) (float64, bool) {
	l, ok := n.left.eval(bag)
	if !ok {
		return 0, false
	}
	r, ok := n.right.eval(bag)
	if !ok {
		return 0, false
	}

	var out float64
	switch n.op {
	case '+':
		out = l + r
	case '-':
		out = l - r
	case '*':
		out = l * r
	case '/':
		if r == 0 {
			return 0, false
		}
		out = l / r
	default:
		return 0, false
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.source }

// Fields returns the field ids referenced by the expression, in first-use order.
func (e *Expr) Fields() []types.FieldID {
	out := make([]types.FieldID, len(e.fields))
	copy(out, e.fields)
	return out
}

// Eval evaluates the expression against bag.
// Returns false if any referenced field is not numeric or the result is not finite.
func (e *Expr) Eval(bag types.ValueBag) (float64, bool) {
	if e == nil || e.root == nil {
		return 0, false
	}
	return e.root.eval(bag)
}

// EvaluateExpression parses and evaluates src in one step.
// The second result is false wherever the contract calls for null.
func EvaluateExpression(src string, bag types.ValueBag) (float64, bool) {
	expr, err := ParseExpression(src)
	if err != nil {
		return 0, false
	}
	return expr.Eval(bag)
}

// ParseExpression parses src into an Expr.
// Errors wrap types.ErrInvalidExpression, ErrExpressionTooLong or ErrExpressionTooDeep.
func ParseExpression(src string) (*Expr, error) {
	if len(src) > types.MaxExpressionLength {
		return nil, fmt.Errorf("%w: %d bytes", types.ErrExpressionTooLong, len(src))
	}
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", types.ErrInvalidExpression)
	}

	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		t := p.toks[p.pos]
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", types.ErrInvalidExpression, t.text, t.offset)
	}

	return &Expr{source: src, root: root, fields: p.fields}, nil
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokField
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind   tokenKind
	text   string
	num    float64
	offset int
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) || c == '.' }

// lex splits src into tokens, rejecting anything outside the grammar.
func lex(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || c == '.':
			start := i
			dots := 0
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				if src[i] == '.' {
					dots++
				}
				i++
			}
			text := src[start:i]
			if dots > 1 || text == "." {
				return nil, fmt.Errorf("%w: malformed number %q at offset %d", types.ErrInvalidExpression, text, start)
			}
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed number %q at offset %d", types.ErrInvalidExpression, text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: f, offset: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokField, text: src[start:i], offset: start})
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{kind: tokOp, text: string(c), offset: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", offset: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", offset: i})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at offset %d", types.ErrInvalidExpression, c, i)
		}
	}
	return toks, nil
}

type parser struct {
	toks   []token
	pos    int
	depth  int
	fields []types.FieldID
	seen   map[types.FieldID]struct{}
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) peekOp(ops string) (byte, bool) {
	t, ok := p.peek()
	if !ok || t.kind != tokOp || !strings.Contains(ops, t.text) {
		return 0, false
	}
	return t.text[0], true
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > types.MaxExpressionDepth {
		return fmt.Errorf("%w: more than %d levels", types.ErrExpressionTooDeep, types.MaxExpressionDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseExpr() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp("+-")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp("*/")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (exprNode, error) {
	if op, ok := p.peekOp("+-"); ok {
		p.pos++
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of expression", types.ErrInvalidExpression)
	}

	switch t.kind {
	case tokNumber:
		p.pos++
		return numberNode{value: t.num}, nil
	case tokField:
		p.pos++
		id := types.FieldID(t.text)
		if p.seen == nil {
			p.seen = make(map[types.FieldID]struct{})
		}
		if _, dup := p.seen[id]; !dup {
			p.seen[id] = struct{}{}
			p.fields = append(p.fields, id)
		}
		return fieldNode{id: id}, nil
	case tokLParen:
		p.pos++
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: unbalanced parentheses", types.ErrInvalidExpression)
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", types.ErrInvalidExpression, t.text, t.offset)
	}
}
