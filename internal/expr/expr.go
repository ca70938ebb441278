// Package expr parses and evaluates arithmetic metric formulas.
//
// Formulas reference other metrics by id and support + - * / ^, unary minus,
// parentheses and the functions abs, min, max, sqrt and ln. Evaluation is
// null-propagating: a missing operand, a division by zero or a non-finite
// intermediate makes the whole result null.
package expr

import (
	"strings"

	"github.com/guregu/null/v6"
)

// Expression is a parsed formula
type Expression struct {
	source string
	root   node
	idents []string
}

// Parse compiles a formula
func Parse(src string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty formula"}
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected " + quote(t.text)}
	}

	e := &Expression{source: src, root: root}

	seen := make(map[string]bool)
	root.idents(func(id string) {
		if !seen[id] {
			seen[id] = true
			e.idents = append(e.idents, id)
		}
	})

	return e, nil
}

// Identifiers returns the referenced metric ids in first-appearance order
func (e *Expression) Identifiers() []string {
	out := make([]string, len(e.idents))
	copy(out, e.idents)
	return out
}

// Eval evaluates the formula against lookup
func (e *Expression) Eval(lookup Lookup) null.Float {
	v, ok := e.root.eval(lookup)
	if !ok {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

// Source returns the formula as written
func (e *Expression) Source() string {
	return e.source
}

// String renders the fully parenthesized form
func (e *Expression) String() string {
	var sb strings.Builder
	e.root.write(&sb)
	return sb.String()
}

func quote(s string) string {
	return "\"" + s + "\""
}
