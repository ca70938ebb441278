package expr

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// SyntaxError reports a malformed formula
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '.'
}

func tokenize(src string) ([]token, error) {
	runes := []rune(src)
	tokens := make([]token, 0, len(runes)/2)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			// 지수 표기 (1e-3)
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					i = j
					for i < len(runes) && unicode.IsDigit(runes[i]) {
						i++
					}
				}
			}
			text := string(runes[start:i])
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &SyntaxError{Pos: start, Msg: fmt.Sprintf("bad number %q", text)}
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: n, pos: start})

		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i]), pos: start})

		case r == '+' || r == '-' || r == '*' || r == '/' || r == '^':
			tokens = append(tokens, token{kind: tokOp, text: string(r), pos: i})
			i++

		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++

		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++

		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++

		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}

	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}
