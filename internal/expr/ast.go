package expr

import (
	"math"
	"strconv"
	"strings"
)

// Lookup resolves an identifier to a value. ok=false means null.
type Lookup func(id string) (value float64, ok bool)

type node interface {
	eval(lookup Lookup) (float64, bool)
	write(sb *strings.Builder)
	idents(visit func(string))
}

type numberNode struct {
	value float64
}

func (n *numberNode) eval(Lookup) (float64, bool) { return n.value, true }
func (n *numberNode) write(sb *strings.Builder) {
	sb.WriteString(strconv.FormatFloat(n.value, 'g', -1, 64))
}
func (n *numberNode) idents(func(string)) {}

type identNode struct {
	name string
}

func (n *identNode) eval(lookup Lookup) (float64, bool) { return lookup(n.name) }
func (n *identNode) write(sb *strings.Builder)          { sb.WriteString(n.name) }
func (n *identNode) idents(visit func(string))          { visit(n.name) }

type negNode struct {
	operand node
}

func (n *negNode) eval(lookup Lookup) (float64, bool) {
	v, ok := n.operand.eval(lookup)
	if !ok {
		return 0, false
	}
	return -v, true
}

func (n *negNode) write(sb *strings.Builder) {
	sb.WriteString("-")
	n.operand.write(sb)
}

func (n *negNode) idents(visit func(string)) { n.operand.idents(visit) }

type binaryNode struct {
	op          byte
	left, right node
}

func (n *binaryNode) eval(lookup Lookup) (float64, bool) {
	l, ok := n.left.eval(lookup)
	if !ok {
		return 0, false
	}
	r, ok := n.right.eval(lookup)
	if !ok {
		return 0, false
	}

	var v float64
	switch n.op {
	case '+':
		v = l + r
	case '-':
		v = l - r
	case '*':
		v = l * r
	case '/':
		if r == 0 {
			return 0, false
		}
		v = l / r
	case '^':
		v = math.Pow(l, r)
	default:
		return 0, false
	}
	return finite(v)
}

func (n *binaryNode) write(sb *strings.Builder) {
	sb.WriteString("(")
	n.left.write(sb)
	sb.WriteString(" ")
	sb.WriteByte(n.op)
	sb.WriteString(" ")
	n.right.write(sb)
	sb.WriteString(")")
}

func (n *binaryNode) idents(visit func(string)) {
	n.left.idents(visit)
	n.right.idents(visit)
}

type function struct {
	minArgs int
	maxArgs int // -1: variadic
	apply   func(args []float64) (float64, bool)
}

var functions = map[string]function{
	"abs": {minArgs: 1, maxArgs: 1, apply: func(a []float64) (float64, bool) {
		return math.Abs(a[0]), true
	}},
	"min": {minArgs: 1, maxArgs: -1, apply: func(a []float64) (float64, bool) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m, true
	}},
	"max": {minArgs: 1, maxArgs: -1, apply: func(a []float64) (float64, bool) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m, true
	}},
	"sqrt": {minArgs: 1, maxArgs: 1, apply: func(a []float64) (float64, bool) {
		if a[0] < 0 {
			return 0, false
		}
		return math.Sqrt(a[0]), true
	}},
	"ln": {minArgs: 1, maxArgs: 1, apply: func(a []float64) (float64, bool) {
		if a[0] <= 0 {
			return 0, false
		}
		return math.Log(a[0]), true
	}},
}

type callNode struct {
	name string
	fn   function
	args []node
}

func (n *callNode) eval(lookup Lookup) (float64, bool) {
	vals := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, ok := arg.eval(lookup)
		if !ok {
			return 0, false
		}
		vals[i] = v
	}
	v, ok := n.fn.apply(vals)
	if !ok {
		return 0, false
	}
	return finite(v)
}

func (n *callNode) write(sb *strings.Builder) {
	sb.WriteString(n.name)
	sb.WriteString("(")
	for i, arg := range n.args {
		if i > 0 {
			sb.WriteString(", ")
		}
		arg.write(sb)
	}
	sb.WriteString(")")
}

func (n *callNode) idents(visit func(string)) {
	for _, arg := range n.args {
		arg.idents(visit)
	}
}

func finite(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
