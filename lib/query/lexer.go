package query

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokOpen
	tokClose
	tokString
	tokNumber
	tokAttr
	tokName
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokOpen:
		return "'('"
	case tokClose:
		return "')'"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokAttr:
		return "attribute"
	default:
		return "name"
	}
}

type token struct {
	kind tokenKind
	text string // unquoted for strings, without '$' for attributes
	pos  int
}

// lex splits q into tokens
func lex(q string) ([]token, error) {
	var out []token
	rs := []rune(q)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, token{kind: tokOpen, text: "(", pos: i})
			i++
		case r == ')':
			out = append(out, token{kind: tokClose, text: ")", pos: i})
			i++
		case r == '\'':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(rs) {
				c := rs[i]
				if c == '\\' && i+1 < len(rs) {
					sb.WriteRune(rs[i+1])
					i += 2
					continue
				}
				i++
				if c == '\'' {
					closed = true
					break
				}
				sb.WriteRune(c)
			}
			if !closed {
				return nil, errorf(string(rs[start:]), start, "unterminated string")
			}
			out = append(out, token{kind: tokString, text: sb.String(), pos: start})
		case r == '$':
			start := i
			i++
			for i < len(rs) && isWordRune(rs[i]) {
				i++
			}
			if i == start+1 {
				return nil, errorf("$", start, "empty attribute reference")
			}
			out = append(out, token{kind: tokAttr, text: string(rs[start+1 : i]), pos: start})
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			i++
			for i < len(rs) && unicode.IsDigit(rs[i]) {
				i++
			}
			out = append(out, token{kind: tokNumber, text: string(rs[start:i]), pos: start})
		case isWordRune(r):
			start := i
			for i < len(rs) && isWordRune(rs[i]) {
				i++
			}
			out = append(out, token{kind: tokName, text: string(rs[start:i]), pos: start})
		default:
			return nil, errorf(string(r), i, "unexpected character")
		}
	}
	return append(out, token{kind: tokEOF, pos: len(rs)}), nil
}

func isWordRune(r rune) bool {
	return r == '-' || r == '.' || r == ':' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
