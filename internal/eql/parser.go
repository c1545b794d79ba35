package eql

import (
	"fmt"
)

// Parse parses an EQL expression string into an AST.
//
//	Order | where(.Customer.Name == "acme" and .Total > 100) | sort_by(.Total, desc) | take(10)
func Parse(input string) (Node, error) {
	p := &parser{lexer: NewLexer(input)}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokEOF {
		return nil, p.errorf(tok.Pos, "unexpected %s, expected end of expression", tok.Kind)
	}
	return node, nil
}

type parser struct {
	lexer *Lexer
}

// parseExpr: orExpr
func (p *parser) parseExpr() (Node, error) {
	return p.parseOr()
}

// parseOr: andExpr { "or" andExpr }
func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokOr {
			return left, nil
		}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: "or", Left: left, Right: right}
	}
}

// parseAnd: notExpr { "and" notExpr }
func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokAnd {
			return left, nil
		}
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: "and", Left: left, Right: right}
	}
}

// parseNot: "not" notExpr | comparison
func (p *parser) parseNot() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokNot {
		return p.parseComparison()
	}
	p.advance()
	inner, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Op: "not", Expr: inner}, nil
}

// parseComparison: pipeExpr [ (cmpOp | "in") pipeExpr ]
// Pipes bind tighter than comparisons: `.Lines | count > 2` compares the count.
func (p *parser) parseComparison() (Node, error) {
	left, err := p.parsePipe()
	if err != nil {
		return nil, err
	}
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if !isComparisonOp(tok.Kind) && tok.Kind != TokIn {
		return left, nil
	}
	p.advance()
	right, err := p.parsePipe()
	if err != nil {
		return nil, err
	}
	return &BinaryOp{Op: tok.Lit, Left: left, Right: right}, nil
}

// parsePipe: arithExpr { "|" pipeStep }
func (p *parser) parsePipe() (Node, error) {
	first, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	steps := []Node{first}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokPipe {
			break
		}
		p.advance() // consume |
		step, err := p.parsePipeStep()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if len(steps) == 1 {
		return first, nil
	}
	return &PipeExpr{Steps: steps}, nil
}

// parseArith: arithTerm { ("+" | "-" | "??") arithTerm }
func (p *parser) parseArith() (Node, error) {
	left, err := p.parseArithTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokPlus && tok.Kind != TokMinus && tok.Kind != TokCoalesce {
			return left, nil
		}
		p.advance()
		right, err := p.parseArithTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: tok.Lit, Left: left, Right: right}
	}
}

// parseArithTerm: unary { ("*" | "/" | "%") unary }
func (p *parser) parseArithTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokStar && tok.Kind != TokSlash && tok.Kind != TokPercent {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: tok.Lit, Left: left, Right: right}
	}
}

// parseUnary: "-" unary | primary
func (p *parser) parseUnary() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokMinus {
		return p.parsePrimary()
	}
	p.advance()
	inner, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Op: "-", Expr: inner}, nil
}

// parsePipeStep handles the right side of a pipe operator.
func (p *parser) parsePipeStep() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	switch tok.Kind {
	case TokDot:
		return p.parseFieldAccessChain()
	case TokIdent:
		return p.parseFuncCallOrIdent()
	default:
		return nil, p.errorf(tok.Pos, "unexpected %s in pipe, expected field access or function", tok.Kind)
	}
}

// parsePrimary handles the leftmost element of a pipe and standalone operands.
func (p *parser) parsePrimary() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}

	switch tok.Kind {
	case TokIdent:
		return p.parseFuncCallOrIdent()

	case TokDot:
		return p.parseDotOrFieldAccess()

	case TokString, TokNumber, TokTrue, TokFalse, TokNull:
		p.advance()
		return &Literal{Kind: tok.Kind, Value: tok.Lit}, nil

	case TokParam:
		p.advance()
		return &ParamRef{Name: tok.Lit}, nil

	case TokLBracket:
		return p.parseList()

	case TokLParen:
		p.advance() // consume (
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return inner, nil

	default:
		return nil, p.errorf(tok.Pos, "unexpected %s, expected expression", tok.Kind)
	}
}

// parseDotOrFieldAccess handles `.` (dot pronoun) or `.field.subfield`.
func (p *parser) parseDotOrFieldAccess() (Node, error) {
	p.advance() // consume .
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokIdent {
		return &DotExpr{}, nil
	}
	return p.parseChain()
}

// parseFieldAccessChain handles .field.subfield in pipe position.
func (p *parser) parseFieldAccessChain() (Node, error) {
	if err := p.expect(TokDot); err != nil {
		return nil, err
	}
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokIdent {
		return nil, p.errorf(tok.Pos, "expected field name after '.', got %s", tok.Kind)
	}
	return p.parseChain()
}

// parseChain reads field { "." field } after the leading dot.
func (p *parser) parseChain() (Node, error) {
	var chain []string
	for {
		tok, err := p.lexer.Next()
		if err != nil {
			return nil, err
		}
		if tok.Kind != TokIdent {
			return nil, p.errorf(tok.Pos, "expected field name after '.', got %s", tok.Kind)
		}
		chain = append(chain, tok.Lit)

		next, err := p.peek()
		if err != nil {
			return nil, err
		}
		if next.Kind != TokDot {
			return &FieldAccess{Chain: chain}, nil
		}
		p.advance() // consume .
	}
}

// parseList: "[" [ expr { "," expr } ] "]"
func (p *parser) parseList() (Node, error) {
	p.advance() // consume [
	list := &ListExpr{}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind == TokRBracket {
			p.advance()
			return list, nil
		}
		if len(list.Items) > 0 {
			if err := p.expect(TokComma); err != nil {
				return nil, err
			}
		}
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
	}
}

// parseFuncCallOrIdent handles `ident(args...)` or bare `ident`.
// Registered functions are validated for arg count.
func (p *parser) parseFuncCallOrIdent() (Node, error) {
	tok, err := p.lexer.Next()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokIdent {
		return nil, p.errorf(tok.Pos, "expected identifier, got %s", tok.Kind)
	}
	name, pos := tok.Lit, tok.Pos

	next, err := p.peek()
	if err != nil {
		return nil, err
	}
	if next.Kind != TokLParen {
		if def, ok := GetFunction(name); ok {
			if def.MinArgs > 0 {
				return nil, p.errorf(pos, "function %q requires arguments", name)
			}
			return &FuncCall{Func: def, Name: name}, nil
		}
		return &IdentExpr{Name: name}, nil
	}

	def, ok := GetFunction(name)
	if !ok {
		return nil, p.errorf(pos, "unknown function %q", name)
	}

	p.advance() // consume (
	var args []Node
	for {
		tok, err = p.peek()
		if err != nil {
			return nil, err
		}
		if tok.Kind == TokRParen {
			break
		}
		if len(args) > 0 {
			if err := p.expect(TokComma); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.advance() // consume )

	if !def.arity(len(args)) {
		switch {
		case def.MaxArgs < 0:
			return nil, p.errorf(pos, "function %q requires at least %d argument(s), got %d", name, def.MinArgs, len(args))
		case def.MinArgs == def.MaxArgs:
			return nil, p.errorf(pos, "function %q requires exactly %d argument(s), got %d", name, def.MinArgs, len(args))
		default:
			return nil, p.errorf(pos, "function %q requires %d to %d arguments, got %d", name, def.MinArgs, def.MaxArgs, len(args))
		}
	}
	return &FuncCall{Func: def, Name: name, Args: args}, nil
}

// parseArg: [ ident ":" ] expr
func (p *parser) parseArg() (Node, error) {
	arg, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokColon {
		return arg, nil
	}
	var name string
	switch a := arg.(type) {
	case *IdentExpr:
		name = a.Name
	case *FuncCall:
		if len(a.Args) == 0 {
			name = a.Name
		}
	}
	if name == "" {
		return nil, p.errorf(tok.Pos, "argument name must be an identifier")
	}
	p.advance() // consume :
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &NamedArg{Name: name, Value: value}, nil
}

func isComparisonOp(k TokenKind) bool {
	switch k {
	case TokEq, TokNeq, TokGt, TokGte, TokLt, TokLte:
		return true
	}
	return false
}

// --- Helpers ---

func (p *parser) peek() (Token, error) {
	return p.lexer.Peek()
}

func (p *parser) advance() {
	p.lexer.Next() //nolint:errcheck
}

func (p *parser) expect(kind TokenKind) error {
	tok, err := p.lexer.Next()
	if err != nil {
		return err
	}
	if tok.Kind != kind {
		return p.errorf(tok.Pos, "expected %s, got %s", kind, tok.Kind)
	}
	return nil
}

func (p *parser) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("parse error at position %d: %s", pos, fmt.Sprintf(format, args...))
}
