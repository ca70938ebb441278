package expr

import (
	"fmt"
	"strings"
)

// grammar:
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/") unary }
//	unary  = "-" unary | power
//	power  = atom [ "^" unary ]
//	atom   = number | ident | ident "(" expr { "," expr } ")" | "(" expr ")"
type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text[0], left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text[0], left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.kind == tokOp && t.text == "-" {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{operand: operand}, nil
	}
	if t.kind == tokOp && t.text == "+" {
		p.next()
		return p.parseUnary()
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	if t.kind == tokOp && t.text == "^" {
		p.next()
		// 우결합: 2^3^2 == 2^(3^2)
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: '^', left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseAtom() (node, error) {
	t := p.next()

	switch t.kind {
	case tokNumber:
		return &numberNode{value: t.num}, nil

	case tokIdent:
		if p.peek().kind != tokLParen {
			return &identNode{name: t.text}, nil
		}
		return p.parseCall(t)

	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: "missing closing parenthesis"}
		}
		return inner, nil

	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected end of formula"}

	default:
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[strings.ToLower(name.text)]
	if !ok {
		return nil, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("unknown function %q", name.text)}
	}
	p.next() // (

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}

	if closing := p.next(); closing.kind != tokRParen {
		return nil, &SyntaxError{Pos: closing.pos, Msg: fmt.Sprintf("missing ) after %s arguments", name.text)}
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("%s: wrong number of arguments (%d)", name.text, len(args))}
	}

	return &callNode{name: strings.ToLower(name.text), fn: fn, args: args}, nil
}
