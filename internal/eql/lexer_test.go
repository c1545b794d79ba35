package eql

import (
	"strings"
	"testing"
)

func collectTokens(t *testing.T, input string) []Token {
	t.Helper()
	lex := NewLexer(input)
	var tokens []Token
	for {
		tok, err := lex.Next()
		if err != nil {
			t.Fatalf("lexer error on %q: %v", input, err)
		}
		tokens = append(tokens, tok)
		if tok.Kind == TokEOF {
			break
		}
	}
	return tokens
}

func TestLexerSingleCharTokens(t *testing.T) {
	tests := []struct {
		input string
		kind  TokenKind
	}{
		{"|", TokPipe},
		{".", TokDot},
		{"(", TokLParen},
		{")", TokRParen},
		{"[", TokLBracket},
		{"]", TokRBracket},
		{",", TokComma},
		{":", TokColon},
		{"+", TokPlus},
		{"-", TokMinus},
		{"*", TokStar},
		{"/", TokSlash},
		{"%", TokPercent},
	}
	for _, tt := range tests {
		toks := collectTokens(t, tt.input)
		if len(toks) != 2 { // token + EOF
			t.Errorf("input %q: expected 2 tokens, got %d", tt.input, len(toks))
			continue
		}
		if toks[0].Kind != tt.kind {
			t.Errorf("input %q: expected %v, got %v", tt.input, tt.kind, toks[0].Kind)
		}
	}
}

func TestLexerTwoCharTokens(t *testing.T) {
	tests := []struct {
		input string
		kind  TokenKind
	}{
		{"==", TokEq},
		{"!=", TokNeq},
		{">=", TokGte},
		{"<=", TokLte},
		{">", TokGt},
		{"<", TokLt},
		{"??", TokCoalesce},
	}
	for _, tt := range tests {
		toks := collectTokens(t, tt.input)
		if toks[0].Kind != tt.kind {
			t.Errorf("input %q: expected %v, got %v", tt.input, tt.kind, toks[0].Kind)
		}
		if toks[0].Lit != tt.input {
			t.Errorf("input %q: expected lit %q, got %q", tt.input, tt.input, toks[0].Lit)
		}
	}
}

func TestLexerKeywords(t *testing.T) {
	tests := []struct {
		input string
		kind  TokenKind
	}{
		{"true", TokTrue},
		{"false", TokFalse},
		{"null", TokNull},
		{"and", TokAnd},
		{"or", TokOr},
		{"not", TokNot},
		{"in", TokIn},
	}
	for _, tt := range tests {
		toks := collectTokens(t, tt.input)
		if toks[0].Kind != tt.kind {
			t.Errorf("input %q: expected %v, got %v", tt.input, tt.kind, toks[0].Kind)
		}
	}
}

func TestLexerIdentifiers(t *testing.T) {
	for _, input := range []string{"Order", "_bar", "Order_Line2", "where", "desc", "Naïve"} {
		toks := collectTokens(t, input)
		if toks[0].Kind != TokIdent {
			t.Errorf("input %q: expected TokIdent, got %v", input, toks[0].Kind)
		}
		if toks[0].Lit != input {
			t.Errorf("input %q: expected lit %q, got %q", input, input, toks[0].Lit)
		}
	}
}

func TestLexerParameters(t *testing.T) {
	toks := collectTokens(t, "$customer_id $null")
	if toks[0].Kind != TokParam || toks[0].Lit != "customer_id" {
		t.Fatalf("expected parameter customer_id, got %v", toks[0])
	}
	if toks[1].Kind != TokParam || toks[1].Lit != "null" {
		t.Fatalf("keywords are plain names after '$', got %v", toks[1])
	}

	if _, err := NewLexer("$ x").Next(); err == nil {
		t.Fatal("expected error for '$' without a name")
	}
}

func TestLexerStrings(t *testing.T) {
	toks := collectTokens(t, `"hello"`)
	if toks[0].Kind != TokString || toks[0].Lit != "hello" {
		t.Fatalf("expected string hello, got %v", toks[0])
	}

	// Escapes are kept as written.
	toks = collectTokens(t, `"a\"b"`)
	if toks[0].Lit != `a\"b` {
		t.Fatalf("expected lit %q, got %q", `a\"b`, toks[0].Lit)
	}

	toks = collectTokens(t, `""`)
	if toks[0].Kind != TokString || toks[0].Lit != "" {
		t.Fatalf("expected empty TokString, got %v %q", toks[0].Kind, toks[0].Lit)
	}
}

func TestLexerUnterminatedString(t *testing.T) {
	if _, err := NewLexer(`"hello`).Next(); err == nil {
		t.Fatal("expected error for unterminated string")
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		lit   string
	}{
		{"42", "42"},
		{"3.14", "3.14"},
		{"0", "0"},
		{"7.", "7"},
	}
	for _, tt := range tests {
		toks := collectTokens(t, tt.input)
		if toks[0].Kind != TokNumber {
			t.Errorf("input %q: expected TokNumber, got %v", tt.input, toks[0].Kind)
		}
		if toks[0].Lit != tt.lit {
			t.Errorf("input %q: expected lit %q, got %q", tt.input, tt.lit, toks[0].Lit)
		}
	}
}

func TestLexerLineComment(t *testing.T) {
	toks := collectTokens(t, "// orders of one customer\nOrder")
	if len(toks) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(toks))
	}
	if toks[0].Kind != TokIdent || toks[0].Lit != "Order" {
		t.Fatalf("expected ident 'Order', got %v %q", toks[0].Kind, toks[0].Lit)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input   string
		wantErr string
	}{
		{"=", "did you mean '=='"},
		{"!", "did you mean '!='"},
		{"?", "did you mean '??'"},
		{"@", "unexpected character"},
	}
	for _, tt := range tests {
		_, err := NewLexer(tt.input).Next()
		if err == nil {
			t.Errorf("input %q: expected error containing %q, got nil", tt.input, tt.wantErr)
			continue
		}
		if got := err.Error(); !strings.Contains(got, tt.wantErr) {
			t.Errorf("input %q: expected error containing %q, got %q", tt.input, tt.wantErr, got)
		}
	}
}

func TestLexerPeekIdempotent(t *testing.T) {
	lex := NewLexer("Order")
	t1, _ := lex.Peek()
	t2, _ := lex.Peek()
	if t1 != t2 {
		t.Fatalf("Peek not idempotent: %v vs %v", t1, t2)
	}
	t3, _ := lex.Next()
	if t3 != t1 {
		t.Fatalf("Next after Peek: expected %v, got %v", t1, t3)
	}
}

func TestLexerFullExpression(t *testing.T) {
	toks := collectTokens(t, `Order | where(.Customer.Name == "acme" and .Total > 100) | count`)

	want := []TokenKind{
		TokIdent, TokPipe, TokIdent, TokLParen,
		TokDot, TokIdent, TokDot, TokIdent, TokEq, TokString,
		TokAnd, TokDot, TokIdent, TokGt, TokNumber, TokRParen,
		TokPipe, TokIdent, TokEOF,
	}
	if len(toks) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(toks), toks)
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d: expected %v, got %v", i, k, toks[i].Kind)
		}
	}
}

func TestLexerPositionTracking(t *testing.T) {
	toks := collectTokens(t, "a | é | b")
	for i, want := range []int{0, 2, 4, 6, 8} {
		if toks[i].Pos != want {
			t.Errorf("token %d pos: expected %d, got %d", i, want, toks[i].Pos)
		}
	}
}
