package pathx

import (
	"strings"

	"github.com/agentic-research/arbor/internal/tree"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkSlash
	tkDSlash
	tkLBrack
	tkRBrack
	tkLParen
	tkRParen
	tkComma
	tkPipe
	tkEq
	tkNeq
	tkLt
	tkLe
	tkGt
	tkGe
	tkMatch
	tkNoMatch
	tkPlus
	tkMinus
	tkStar
	tkDot
	tkDotDot
	tkVar
	tkString
	tkNumber
	tkName
	tkAxis
)

var tokenNames = map[tokenKind]string{
	tkEOF: "end of expression", tkSlash: "'/'", tkDSlash: "'//'",
	tkLBrack: "'['", tkRBrack: "']'", tkLParen: "'('", tkRParen: "')'",
	tkComma: "','", tkPipe: "'|'", tkEq: "'='", tkNeq: "'!='",
	tkLt: "'<'", tkLe: "'<='", tkGt: "'>'", tkGe: "'>='",
	tkMatch: "'=~'", tkNoMatch: "'!~'", tkPlus: "'+'", tkMinus: "'-'",
	tkStar: "'*'", tkDot: "'.'", tkDotDot: "'..'", tkVar: "variable",
	tkString: "string", tkNumber: "number", tkName: "name", tkAxis: "axis",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	text string // unescaped text for names, strings, numbers, variables
	pos  int
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

// lex splits src into tokens. Names end at any tree.NameDelims byte or
// at "::"; a backslash makes the next byte part of the name.
func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		l.skipSpace()
		if l.pos >= len(src) {
			l.emit(tkEOF, "", l.pos)
			return l.toks, nil
		}
		if err := l.next(); err != nil {
			err.Expr = src
			return nil, err
		}
	}
}

func (l *lexer) emit(k tokenKind, text string, pos int) {
	l.toks = append(l.toks, token{kind: k, text: text, pos: pos})
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && strings.IndexByte(" \t\r\n", l.src[l.pos]) >= 0 {
		l.pos++
	}
}

func (l *lexer) peekAt(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) next() *Error {
	start := l.pos
	c := l.src[l.pos]
	two := func(k tokenKind) { l.pos += 2; l.emit(k, "", start) }
	one := func(k tokenKind) { l.pos++; l.emit(k, "", start) }

	switch c {
	case '/':
		if l.peekAt(1) == '/' {
			two(tkDSlash)
		} else {
			one(tkSlash)
		}
	case '[':
		one(tkLBrack)
	case ']':
		one(tkRBrack)
	case '(':
		one(tkLParen)
	case ')':
		one(tkRParen)
	case ',':
		one(tkComma)
	case '|':
		one(tkPipe)
	case '*':
		one(tkStar)
	case '+':
		one(tkPlus)
	case '-':
		one(tkMinus)
	case '=':
		if l.peekAt(1) == '~' {
			two(tkMatch)
		} else {
			one(tkEq)
		}
	case '!':
		switch l.peekAt(1) {
		case '=':
			two(tkNeq)
		case '~':
			two(tkNoMatch)
		default:
			return errorf(ErrSyntax, start, "unexpected '!'")
		}
	case '<':
		if l.peekAt(1) == '=' {
			two(tkLe)
		} else {
			one(tkLt)
		}
	case '>':
		if l.peekAt(1) == '=' {
			two(tkGe)
		} else {
			one(tkGt)
		}
	case '\'', '"':
		return l.lexString(c)
	case '$':
		l.pos++
		name, err := l.scanName()
		if err != nil {
			return err
		}
		if name == "" {
			return errorf(ErrSyntax, start, "variable name expected after '$'")
		}
		l.emit(tkVar, name, start)
	case '.':
		if l.atDelim(1) {
			one(tkDot)
			return nil
		}
		if l.peekAt(1) == '.' && l.atDelim(2) {
			two(tkDotDot)
			return nil
		}
		return l.lexName(start)
	default:
		return l.lexName(start)
	}
	return nil
}

// atDelim reports whether the byte at off ends a name (or the input).
func (l *lexer) atDelim(off int) bool {
	if l.pos+off >= len(l.src) {
		return true
	}
	return tree.IsNameDelim(l.src[l.pos+off])
}

func (l *lexer) lexName(start int) *Error {
	name, err := l.scanName()
	if err != nil {
		return err
	}
	if l.pos == start {
		return errorf(ErrSyntax, start, "unexpected %q", l.src[start])
	}
	if l.pos+1 < len(l.src) && l.src[l.pos] == ':' && l.src[l.pos+1] == ':' {
		l.pos += 2
		l.emit(tkAxis, name, start)
		return nil
	}
	if isDigits(l.src[start:l.pos]) {
		l.emit(tkNumber, name, start)
		return nil
	}
	l.emit(tkName, name, start)
	return nil
}

// scanName reads a name, resolving backslash escapes.
func (l *lexer) scanName() (string, *Error) {
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' {
			if l.pos+1 >= len(l.src) {
				return "", errorf(ErrSyntax, l.pos, "dangling escape")
			}
			b.WriteByte(l.src[l.pos+1])
			l.pos += 2
			continue
		}
		if tree.IsNameDelim(c) {
			break
		}
		if c == ':' && l.pos+1 < len(l.src) && l.src[l.pos+1] == ':' {
			break
		}
		b.WriteByte(c)
		l.pos++
	}
	return b.String(), nil
}

func (l *lexer) lexString(quote byte) *Error {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.src):
			b.WriteByte(l.src[l.pos+1])
			l.pos += 2
		case c == quote:
			l.pos++
			l.emit(tkString, b.String(), start)
			return nil
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return errorf(ErrSyntax, start, "unterminated string")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
