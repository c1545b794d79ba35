package eql

import (
	"fmt"
	"unicode"
)

// Lexer tokenizes an EQL input string.
type Lexer struct {
	input  []rune
	pos    int
	peeked *Token
}

// NewLexer creates a lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input)}
}

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() (Token, error) {
	if l.peeked != nil {
		return *l.peeked, nil
	}
	tok, err := l.next()
	if err != nil {
		return Token{}, err
	}
	l.peeked = &tok
	return tok, nil
}

// Next consumes and returns the next token.
func (l *Lexer) Next() (Token, error) {
	if l.peeked != nil {
		tok := *l.peeked
		l.peeked = nil
		return tok, nil
	}
	return l.next()
}

var singles = map[rune]TokenKind{
	'|': TokPipe,
	'.': TokDot,
	'(': TokLParen,
	')': TokRParen,
	'[': TokLBracket,
	']': TokRBracket,
	',': TokComma,
	':': TokColon,
	'+': TokPlus,
	'-': TokMinus,
	'*': TokStar,
	'%': TokPercent,
}

func (l *Lexer) next() (Token, error) {
	l.skipWhitespace()
	if l.pos >= len(l.input) {
		return Token{Kind: TokEOF, Pos: l.pos}, nil
	}

	ch := l.input[l.pos]
	pos := l.pos

	if kind, ok := singles[ch]; ok {
		l.pos++
		return Token{Kind: kind, Lit: string(ch), Pos: pos}, nil
	}

	switch ch {
	case '/':
		if l.peekRune('/') {
			l.skipLineComment()
			return l.next()
		}
		l.pos++
		return Token{Kind: TokSlash, Lit: "/", Pos: pos}, nil
	case '=':
		if l.peekRune('=') {
			l.pos += 2
			return Token{Kind: TokEq, Lit: "==", Pos: pos}, nil
		}
		return Token{}, l.errorf(pos, "unexpected '=', did you mean '=='?")
	case '!':
		if l.peekRune('=') {
			l.pos += 2
			return Token{Kind: TokNeq, Lit: "!=", Pos: pos}, nil
		}
		return Token{}, l.errorf(pos, "unexpected '!', did you mean '!=' or 'not'?")
	case '?':
		if l.peekRune('?') {
			l.pos += 2
			return Token{Kind: TokCoalesce, Lit: "??", Pos: pos}, nil
		}
		return Token{}, l.errorf(pos, "unexpected '?', did you mean '??'?")
	case '>':
		if l.peekRune('=') {
			l.pos += 2
			return Token{Kind: TokGte, Lit: ">=", Pos: pos}, nil
		}
		l.pos++
		return Token{Kind: TokGt, Lit: ">", Pos: pos}, nil
	case '<':
		if l.peekRune('=') {
			l.pos += 2
			return Token{Kind: TokLte, Lit: "<=", Pos: pos}, nil
		}
		l.pos++
		return Token{Kind: TokLt, Lit: "<", Pos: pos}, nil
	case '"':
		return l.readString(pos)
	case '$':
		l.pos++
		if l.pos >= len(l.input) || !isIdentStart(l.input[l.pos]) {
			return Token{}, l.errorf(pos, "expected parameter name after '$'")
		}
		tok, _ := l.readIdent(l.pos)
		return Token{Kind: TokParam, Lit: tok.Lit, Pos: pos}, nil
	default:
		if unicode.IsDigit(ch) {
			return l.readNumber(pos)
		}
		if isIdentStart(ch) {
			return l.readIdent(pos)
		}
		return Token{}, l.errorf(pos, "unexpected character %q", ch)
	}
}

func (l *Lexer) peekRune(r rune) bool {
	return l.pos+1 < len(l.input) && l.input[l.pos+1] == r
}

// readString keeps escapes as written; the compiler unquotes the literal.
func (l *Lexer) readString(pos int) (Token, error) {
	l.pos++ // skip opening "
	start := l.pos
	for l.pos < len(l.input) {
		if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) {
			l.pos += 2
			continue
		}
		if l.input[l.pos] == '"' {
			lit := string(l.input[start:l.pos])
			l.pos++ // skip closing "
			return Token{Kind: TokString, Lit: lit, Pos: pos}, nil
		}
		l.pos++
	}
	return Token{}, l.errorf(pos, "unterminated string literal")
}

func (l *Lexer) readNumber(pos int) (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
		l.pos++
	}
	// 3.14 is a number; 3.Field is not.
	if l.pos < len(l.input) && l.input[l.pos] == '.' && l.pos+1 < len(l.input) && unicode.IsDigit(l.input[l.pos+1]) {
		l.pos++
		for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	return Token{Kind: TokNumber, Lit: string(l.input[start:l.pos]), Pos: pos}, nil
}

func (l *Lexer) readIdent(pos int) (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentCont(l.input[l.pos]) {
		l.pos++
	}
	lit := string(l.input[start:l.pos])
	kind := TokIdent
	if kw, ok := keywords[lit]; ok {
		kind = kw
	}
	return Token{Kind: kind, Lit: lit, Pos: pos}, nil
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(l.input[l.pos]) {
		l.pos++
	}
}

func (l *Lexer) skipLineComment() {
	for l.pos < len(l.input) && l.input[l.pos] != '\n' {
		l.pos++
	}
}

func (l *Lexer) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("lexer error at position %d: %s", pos, fmt.Sprintf(format, args...))
}

func isIdentStart(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}

func isIdentCont(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}
