// Package expr evaluates the workflow expression subset used in
// concurrency group keys, if conditions and step inputs.
//
// Supported: string/number/boolean literals, two-level context lookups
// (github.ref, matrix.python-version), == != && || !, parentheses, and
// the functions contains, startsWith, endsWith, format, always,
// success, failure and cancelled.
package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Context holds the named value namespaces an expression can reference.
// Keys are context names (github, matrix, env, job, runner); values map
// property names to strings.
type Context map[string]map[string]string

// Lookup resolves a dotted path like "matrix.python-version".
// Missing paths resolve to the empty string, matching platform behavior.
func (c Context) Lookup(path string) string {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return ""
	}
	ns, ok := c[parts[0]]
	if !ok {
		return ""
	}
	return ns[parts[1]]
}

var ErrSyntax = errors.New("expression syntax error")

// Eval evaluates a bare expression (no ${{ }} delimiters) to a string.
func Eval(src string, ctx Context) (string, error) {
	v, err := eval(src, ctx)
	if err != nil {
		return "", err
	}
	return v.text(), nil
}

// EvalBool evaluates an if condition. The empty condition is true.
// A bare ${{ }} wrapper is stripped first.
func EvalBool(src string, ctx Context) (bool, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return true, nil
	}
	if strings.HasPrefix(src, "${{") && strings.HasSuffix(src, "}}") {
		src = strings.TrimSpace(src[3 : len(src)-2])
	}
	v, err := eval(src, ctx)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}

// Expand interpolates every ${{ ... }} occurrence in s.
func Expand(s string, ctx Context) (string, error) {
	var out strings.Builder
	for {
		start := strings.Index(s, "${{")
		if start < 0 {
			out.WriteString(s)
			return out.String(), nil
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated ${{ in %q", ErrSyntax, s)
		}
		out.WriteString(s[:start])
		inner := s[start+3 : start+end]
		v, err := eval(strings.TrimSpace(inner), ctx)
		if err != nil {
			return "", err
		}
		out.WriteString(v.text())
		s = s[start+end+2:]
	}
}

// value is the evaluator's runtime value: a string, a number or a bool.
type value struct {
	kind kind
	str  string
	num  float64
	b    bool
}

type kind int

const (
	kindString kind = iota
	kindNumber
	kindBool
)

func str(s string) value   { return value{kind: kindString, str: s} }
func num(f float64) value  { return value{kind: kindNumber, num: f} }
func boolean(b bool) value { return value{kind: kindBool, b: b} }

func (v value) text() string {
	switch v.kind {
	case kindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case kindBool:
		return strconv.FormatBool(v.b)
	}
	return v.str
}

func (v value) truthy() bool {
	switch v.kind {
	case kindNumber:
		return v.num != 0
	case kindBool:
		return v.b
	}
	return v.str != ""
}

// equal compares loosely: booleans compare as booleans, anything else
// compares numerically when both sides parse as numbers, else as text.
func equal(a, b value) bool {
	if a.kind == kindBool || b.kind == kindBool {
		return a.truthy() == b.truthy()
	}
	an, aok := a.number()
	bn, bok := b.number()
	if aok && bok {
		return an == bn
	}
	return a.text() == b.text()
}

func (v value) number() (float64, bool) {
	if v.kind == kindNumber {
		return v.num, true
	}
	if v.kind == kindString {
		f, err := strconv.ParseFloat(v.str, 64)
		return f, err == nil
	}
	return 0, false
}

func eval(src string, ctx Context) (value, error) {
	p := &parser{tokens: tokenize(src), ctx: ctx}
	v, err := p.parseOr()
	if err != nil {
		return value{}, err
	}
	if p.peek().typ != tokEOF {
		return value{}, fmt.Errorf("%w: unexpected %q", ErrSyntax, p.peek().text)
	}
	return v, nil
}

type tokType int

const (
	tokEOF tokType = iota
	tokIdent
	tokString
	tokNumber
	tokOp     // == != && || !
	tokLParen
	tokRParen
	tokComma
	tokBad
)

type token struct {
	typ  tokType
	text string
}

func tokenize(src string) []token {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(src) {
				if src[j] == '\'' {
					// '' is an escaped quote inside a string literal.
					if j+1 < len(src) && src[j+1] == '\'' {
						sb.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				toks = append(toks, token{tokBad, "unterminated string"})
				return toks
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case strings.HasPrefix(src[i:], "==") || strings.HasPrefix(src[i:], "!=") ||
			strings.HasPrefix(src[i:], "&&") || strings.HasPrefix(src[i:], "||"):
			toks = append(toks, token{tokOp, src[i : i+2]})
			i += 2
		case c == '!':
			toks = append(toks, token{tokOp, "!"})
			i++
		case c >= '0' && c <= '9' || c == '-':
			j := i + 1
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j]})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			toks = append(toks, token{tokBad, string(c)})
			return toks
		}
	}
	return append(toks, token{tokEOF, ""})
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// isIdentPart also accepts '.' and '-' so dotted context paths and
// hyphenated keys like matrix.python-version lex as one token.
func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '.' || c == '-'
}

type parser struct {
	tokens []token
	pos    int
	ctx    Context
}

func (p *parser) peek() token { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }

func (p *parser) parseOr() (value, error) {
	left, err := p.parseAnd()
	if err != nil {
		return value{}, err
	}
	for p.peek().typ == tokOp && p.peek().text == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return value{}, err
		}
		// Short-circuit value semantics: a || b yields the first truthy side.
		if !left.truthy() {
			left = right
		}
	}
	return left, nil
}

func (p *parser) parseAnd() (value, error) {
	left, err := p.parseEquality()
	if err != nil {
		return value{}, err
	}
	for p.peek().typ == tokOp && p.peek().text == "&&" {
		p.next()
		right, err := p.parseEquality()
		if err != nil {
			return value{}, err
		}
		if left.truthy() {
			left = right
		}
	}
	return left, nil
}

func (p *parser) parseEquality() (value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return value{}, err
	}
	for p.peek().typ == tokOp && (p.peek().text == "==" || p.peek().text == "!=") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return value{}, err
		}
		eq := equal(left, right)
		if op == "!=" {
			eq = !eq
		}
		left = boolean(eq)
	}
	return left, nil
}

func (p *parser) parseUnary() (value, error) {
	if p.peek().typ == tokOp && p.peek().text == "!" {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return value{}, err
		}
		return boolean(!v.truthy()), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (value, error) {
	tok := p.next()
	switch tok.typ {
	case tokString:
		return str(tok.text), nil
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return value{}, fmt.Errorf("%w: bad number %q", ErrSyntax, tok.text)
		}
		return num(f), nil
	case tokLParen:
		v, err := p.parseOr()
		if err != nil {
			return value{}, err
		}
		if p.next().typ != tokRParen {
			return value{}, fmt.Errorf("%w: missing )", ErrSyntax)
		}
		return v, nil
	case tokIdent:
		if p.peek().typ == tokLParen {
			return p.parseCall(tok.text)
		}
		switch tok.text {
		case "true":
			return boolean(true), nil
		case "false":
			return boolean(false), nil
		case "null":
			return str(""), nil
		}
		return str(p.ctx.Lookup(tok.text)), nil
	}
	return value{}, fmt.Errorf("%w: unexpected %q", ErrSyntax, tok.text)
}

func (p *parser) parseCall(name string) (value, error) {
	p.next() // consume (
	var args []value
	for p.peek().typ != tokRParen {
		v, err := p.parseOr()
		if err != nil {
			return value{}, err
		}
		args = append(args, v)
		if p.peek().typ == tokComma {
			p.next()
		}
	}
	p.next() // consume )
	return p.call(name, args)
}

func (p *parser) call(name string, args []value) (value, error) {
	status := func() string { return p.ctx.Lookup("job.status") }

	switch name {
	case "contains":
		if len(args) != 2 {
			return value{}, fmt.Errorf("%w: contains takes 2 arguments", ErrSyntax)
		}
		return boolean(strings.Contains(strings.ToLower(args[0].text()), strings.ToLower(args[1].text()))), nil
	case "startsWith":
		if len(args) != 2 {
			return value{}, fmt.Errorf("%w: startsWith takes 2 arguments", ErrSyntax)
		}
		return boolean(strings.HasPrefix(strings.ToLower(args[0].text()), strings.ToLower(args[1].text()))), nil
	case "endsWith":
		if len(args) != 2 {
			return value{}, fmt.Errorf("%w: endsWith takes 2 arguments", ErrSyntax)
		}
		return boolean(strings.HasSuffix(strings.ToLower(args[0].text()), strings.ToLower(args[1].text()))), nil
	case "format":
		if len(args) == 0 {
			return value{}, fmt.Errorf("%w: format takes at least 1 argument", ErrSyntax)
		}
		out := args[0].text()
		for i, arg := range args[1:] {
			out = strings.ReplaceAll(out, fmt.Sprintf("{%d}", i), arg.text())
		}
		return str(out), nil
	case "always":
		return boolean(true), nil
	case "success":
		s := status()
		return boolean(s == "" || s == "success"), nil
	case "failure":
		return boolean(status() == "failed"), nil
	case "cancelled", "canceled":
		return boolean(status() == "canceled"), nil
	}
	return value{}, fmt.Errorf("%w: unknown function %q", ErrSyntax, name)
}
