package eql

import "fmt"

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF      TokenKind = iota
	TokPipe               // |
	TokDot                // .
	TokLParen             // (
	TokRParen             // )
	TokLBracket           // [
	TokRBracket           // ]
	TokComma              // ,
	TokColon              // :
	TokEq                 // ==
	TokNeq                // !=
	TokGt                 // >
	TokGte                // >=
	TokLt                 // <
	TokLte                // <=
	TokPlus               // +
	TokMinus              // -
	TokStar               // *
	TokSlash              // /
	TokPercent            // %
	TokCoalesce           // ??
	TokIdent              // identifier
	TokParam              // $name
	TokString             // "string literal"
	TokNumber             // 42, 3.14
	TokTrue               // true
	TokFalse              // false
	TokNull               // null
	TokAnd                // and
	TokOr                 // or
	TokNot                // not
	TokIn                 // in
)

// Token is a single lexical token produced by the lexer.
type Token struct {
	Kind TokenKind
	Lit  string // raw text of the token
	Pos  int    // rune offset in input
}

func (t Token) String() string {
	if t.Lit != "" {
		return fmt.Sprintf("%s(%q)", t.Kind, t.Lit)
	}
	return t.Kind.String()
}

var kindNames = map[TokenKind]string{
	TokEOF:      "EOF",
	TokPipe:     "|",
	TokDot:      ".",
	TokLParen:   "(",
	TokRParen:   ")",
	TokLBracket: "[",
	TokRBracket: "]",
	TokComma:    ",",
	TokColon:    ":",
	TokEq:       "==",
	TokNeq:      "!=",
	TokGt:       ">",
	TokGte:      ">=",
	TokLt:       "<",
	TokLte:      "<=",
	TokPlus:     "+",
	TokMinus:    "-",
	TokStar:     "*",
	TokSlash:    "/",
	TokPercent:  "%",
	TokCoalesce: "??",
	TokIdent:    "identifier",
	TokParam:    "parameter",
	TokString:   "string",
	TokNumber:   "number",
	TokTrue:     "true",
	TokFalse:    "false",
	TokNull:     "null",
	TokAnd:      "and",
	TokOr:       "or",
	TokNot:      "not",
	TokIn:       "in",
}

func (k TokenKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

var keywords = map[string]TokenKind{
	"true":  TokTrue,
	"false": TokFalse,
	"null":  TokNull,
	"and":   TokAnd,
	"or":    TokOr,
	"not":   TokNot,
	"in":    TokIn,
}
