package eql

import (
	"strings"
	"testing"
)

// --- Helpers ---

func mustParse(t *testing.T, input string) Node {
	t.Helper()
	node, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", input, err)
	}
	return node
}

func expectParseError(t *testing.T, input, wantSubstr string) {
	t.Helper()
	_, err := Parse(input)
	if err == nil {
		t.Fatalf("Parse(%q): expected error containing %q, got nil", input, wantSubstr)
	}
	if !strings.Contains(err.Error(), wantSubstr) {
		t.Fatalf("Parse(%q): expected error containing %q, got %q", input, wantSubstr, err.Error())
	}
}

func mustPipe(t *testing.T, node Node, steps int) *PipeExpr {
	t.Helper()
	pipe, ok := node.(*PipeExpr)
	if !ok {
		t.Fatalf("expected *PipeExpr, got %T", node)
	}
	if len(pipe.Steps) != steps {
		t.Fatalf("expected %d steps, got %d", steps, len(pipe.Steps))
	}
	return pipe
}

// --- Primary expressions ---

func TestParseEntity(t *testing.T) {
	ident, ok := mustParse(t, "Order").(*IdentExpr)
	if !ok || ident.Name != "Order" {
		t.Fatalf("expected IdentExpr Order, got %#v", ident)
	}
}

func TestParseLiterals(t *testing.T) {
	tests := []struct {
		input string
		kind  TokenKind
		value string
	}{
		{`"acme"`, TokString, "acme"},
		{"42", TokNumber, "42"},
		{"true", TokTrue, "true"},
		{"false", TokFalse, "false"},
		{"null", TokNull, "null"},
	}
	for _, tt := range tests {
		lit, ok := mustParse(t, tt.input).(*Literal)
		if !ok {
			t.Fatalf("input %q: expected *Literal", tt.input)
		}
		if lit.Kind != tt.kind || lit.Value != tt.value {
			t.Fatalf("input %q: expected %v %q, got %v %q", tt.input, tt.kind, tt.value, lit.Kind, lit.Value)
		}
	}
}

func TestParseDotAndFields(t *testing.T) {
	if _, ok := mustParse(t, ".").(*DotExpr); !ok {
		t.Fatal("expected *DotExpr")
	}
	fa, ok := mustParse(t, ".ShippingAddress.Country.Code").(*FieldAccess)
	if !ok {
		t.Fatal("expected *FieldAccess")
	}
	if strings.Join(fa.Chain, ".") != "ShippingAddress.Country.Code" {
		t.Fatalf("unexpected chain %v", fa.Chain)
	}
}

func TestParseParameter(t *testing.T) {
	ref, ok := mustParse(t, "$id").(*ParamRef)
	if !ok || ref.Name != "id" {
		t.Fatalf("expected ParamRef id, got %#v", ref)
	}
}

// --- Pipes and steps ---

func TestParsePipeline(t *testing.T) {
	pipe := mustPipe(t, mustParse(t, `Order | where(.Total > 100) | sort_by(.Total, desc) | take(10)`), 4)

	where, ok := pipe.Steps[1].(*FuncCall)
	if !ok || where.Name != "where" || len(where.Args) != 1 {
		t.Fatalf("step 1: expected where(...), got %#v", pipe.Steps[1])
	}
	sort := pipe.Steps[2].(*FuncCall)
	if sort.Name != "sort_by" || len(sort.Args) != 2 {
		t.Fatalf("step 2: expected sort_by with 2 args, got %#v", sort)
	}
	if dir, ok := sort.Args[1].(*IdentExpr); !ok || dir.Name != "desc" {
		t.Fatalf("step 2: expected desc direction, got %#v", sort.Args[1])
	}
	if take := pipe.Steps[3].(*FuncCall); take.Name != "take" {
		t.Fatalf("step 3: expected take, got %q", take.Name)
	}
}

func TestParseBareSteps(t *testing.T) {
	pipe := mustPipe(t, mustParse(t, "Order | distinct | count"), 3)
	for i, name := range []string{"distinct", "count"} {
		call, ok := pipe.Steps[i+1].(*FuncCall)
		if !ok || call.Name != name || len(call.Args) != 0 {
			t.Fatalf("step %d: expected bare %s, got %#v", i+1, name, pipe.Steps[i+1])
		}
	}
}

func TestParseFieldStep(t *testing.T) {
	pipe := mustPipe(t, mustParse(t, ". | .Customer.Name"), 2)
	if _, ok := pipe.Steps[1].(*FieldAccess); !ok {
		t.Fatalf("expected field access step, got %T", pipe.Steps[1])
	}
}

func TestParseNamedArgs(t *testing.T) {
	pipe := mustPipe(t, mustParse(t, `Order | select(.Number, Customer: .Customer.Name, count: .Lines | count)`), 2)
	sel := pipe.Steps[1].(*FuncCall)
	if len(sel.Args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(sel.Args))
	}
	if _, ok := sel.Args[0].(*FieldAccess); !ok {
		t.Fatalf("arg 0: expected field access, got %T", sel.Args[0])
	}
	for i, name := range []string{"Customer", "count"} {
		named, ok := sel.Args[i+1].(*NamedArg)
		if !ok || named.Name != name {
			t.Fatalf("arg %d: expected named %s, got %#v", i+1, name, sel.Args[i+1])
		}
	}
	if _, ok := sel.Args[2].(*NamedArg).Value.(*PipeExpr); !ok {
		t.Fatal("arg 2: expected the value to be a pipe")
	}
}

// --- Operators ---

func TestParsePrecedence(t *testing.T) {
	// a or b and c  =>  a or (b and c)
	or, ok := mustParse(t, ".A or .B and .C").(*BinaryOp)
	if !ok || or.Op != "or" {
		t.Fatalf("expected top-level or, got %#v", or)
	}
	if and, ok := or.Right.(*BinaryOp); !ok || and.Op != "and" {
		t.Fatalf("expected and on the right, got %#v", or.Right)
	}

	// .A + .B * 2 == 7  =>  (.A + (.B * 2)) == 7
	eq := mustParse(t, ".A + .B * 2 == 7").(*BinaryOp)
	if eq.Op != "==" {
		t.Fatalf("expected ==, got %q", eq.Op)
	}
	plus := eq.Left.(*BinaryOp)
	if plus.Op != "+" {
		t.Fatalf("expected +, got %q", plus.Op)
	}
	if mul := plus.Right.(*BinaryOp); mul.Op != "*" {
		t.Fatalf("expected *, got %q", mul.Op)
	}
}

func TestParsePipeBindsTighterThanComparison(t *testing.T) {
	cmp, ok := mustParse(t, ".Lines | count > 2").(*BinaryOp)
	if !ok || cmp.Op != ">" {
		t.Fatalf("expected comparison at the top, got %T", cmp)
	}
	mustPipe(t, cmp.Left, 2)
}

func TestParseNotAndNegation(t *testing.T) {
	not, ok := mustParse(t, "not .Total > -5").(*UnaryExpr)
	if !ok || not.Op != "not" {
		t.Fatalf("expected not, got %#v", not)
	}
	cmp := not.Expr.(*BinaryOp)
	if neg, ok := cmp.Right.(*UnaryExpr); !ok || neg.Op != "-" {
		t.Fatalf("expected negation, got %#v", cmp.Right)
	}
}

func TestParseMembership(t *testing.T) {
	in := mustParse(t, `.Region in ["EU", "US", $extra]`).(*BinaryOp)
	if in.Op != "in" {
		t.Fatalf("expected in, got %q", in.Op)
	}
	list, ok := in.Right.(*ListExpr)
	if !ok || len(list.Items) != 3 {
		t.Fatalf("expected list of 3, got %#v", in.Right)
	}

	in = mustParse(t, `.CustomerId in (Customer | select(.Id))`).(*BinaryOp)
	mustPipe(t, in.Right, 2)
}

func TestParseParenthesized(t *testing.T) {
	and := mustParse(t, "(.A or .B) and .C").(*BinaryOp)
	if and.Op != "and" {
		t.Fatalf("expected and, got %q", and.Op)
	}
	if or := and.Left.(*BinaryOp); or.Op != "or" {
		t.Fatalf("expected grouped or, got %q", or.Op)
	}
}

// --- Errors ---

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Order |", "unexpected EOF in pipe"},
		{"Order | where", `function "where" requires arguments`},
		{"Order | where()", `function "where" requires exactly 1 argument(s), got 0`},
		{"Order | sort_by(.A, asc, .B)", `function "sort_by" requires 1 to 2 arguments, got 3`},
		{"Order | select()", `function "select" requires at least 1 argument(s), got 0`},
		{"Order | frobnicate(1)", `unknown function "frobnicate"`},
		{"Order | select(.A: 1)", "argument name must be an identifier"},
		{".A.", "expected field name after '.'"},
		{"(.A", "expected ), got EOF"},
		{".A == == .B", "unexpected ==, expected expression"},
		{"Order Customer", "expected end of expression"},
		{"[1, 2", "expected ,, got EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			expectParseError(t, tt.input, tt.want)
		})
	}
}
