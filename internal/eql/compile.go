package eql

import (
	"fmt"
	"strconv"

	"github.com/atlekbai/entityql/internal/expr"
)

// Compile parses input and builds the query tree it describes. params
// binds $name placeholders; every placeholder must be bound.
func Compile(input string, params map[string]any) (expr.Node, error) {
	ast, err := Parse(input)
	if err != nil {
		return nil, err
	}
	return CompileAST(ast, params)
}

// CompileAST builds the query tree of a parsed expression. The root must
// be a query or a write command.
func CompileAST(ast Node, params map[string]any) (expr.Node, error) {
	c := &compiler{params: params}
	n, err := c.value(ast, nil)
	if err != nil {
		return nil, err
	}
	switch n.(type) {
	case *expr.Update, *expr.Delete:
		return n, nil
	}
	if !expr.IsQuery(n) {
		return nil, fmt.Errorf("eql: expression is not a query")
	}
	return n, nil
}

type compiler struct {
	params map[string]any
}

// value compiles n with cur as the current item.
func (c *compiler) value(n Node, cur *expr.Parameter) (expr.Node, error) {
	switch n := n.(type) {
	case *Literal:
		return literal(n)

	case *ParamRef:
		v, ok := c.params[n.Name]
		if !ok {
			return nil, fmt.Errorf("eql: unbound parameter $%s", n.Name)
		}
		return expr.Const(v), nil

	case *DotExpr:
		if cur == nil {
			return nil, fmt.Errorf("eql: '.' outside a step")
		}
		return cur, nil

	case *FieldAccess:
		if cur == nil {
			return nil, fmt.Errorf("eql: field access .%s outside a step", n.Chain[0])
		}
		return cur.Field(n.Chain...), nil

	case *IdentExpr:
		return &expr.Source{Entity: n.Name}, nil

	case *FuncCall:
		return c.call(n, cur)

	case *PipeExpr:
		recv, err := c.value(n.Steps[0], cur)
		if err != nil {
			return nil, err
		}
		for _, s := range n.Steps[1:] {
			if recv, err = c.step(recv, s, cur); err != nil {
				return nil, err
			}
		}
		return recv, nil

	case *BinaryOp:
		return c.binary(n, cur)

	case *UnaryExpr:
		inner, err := c.value(n.Expr, cur)
		if err != nil {
			return nil, err
		}
		if n.Op == "not" {
			return expr.NotOf(inner), nil
		}
		if lit, ok := inner.(*expr.Constant); ok {
			if v, ok := negate(lit.Value); ok {
				return expr.Const(v), nil
			}
		}
		return &expr.Unary{Op: expr.OpNegate, Operand: inner}, nil

	case *ListExpr:
		return nil, fmt.Errorf("eql: list outside 'in'")

	case *NamedArg:
		return nil, fmt.Errorf("eql: named argument %s outside select or update", n.Name)
	}
	return nil, fmt.Errorf("eql: unexpected %T", n)
}

// call compiles a function written as an operand rather than a pipe step.
// Terminals apply to the current item, which must be a group or a
// collection; string functions take their receiver as first argument.
func (c *compiler) call(n *FuncCall, cur *expr.Parameter) (expr.Node, error) {
	switch n.Func.Kind {
	case FuncTerminal:
		if cur == nil {
			return nil, fmt.Errorf("eql: %s needs a receiver", n.Name)
		}
		return c.step(cur, n, cur)

	case FuncString:
		if len(n.Args) == 0 {
			if cur == nil {
				return nil, fmt.Errorf("eql: %s needs a receiver", n.Name)
			}
			return c.step(cur, n, cur)
		}
		recv, err := c.value(n.Args[0], cur)
		if err != nil {
			return nil, err
		}
		return c.step(recv, &FuncCall{Func: n.Func, Name: n.Name, Args: n.Args[1:]}, cur)

	case FuncScalar:
		args, err := c.values(n.Args, cur)
		if err != nil {
			return nil, err
		}
		return expr.If(args[0], args[1], args[2]), nil
	}
	return nil, fmt.Errorf("eql: %s is a pipe step", n.Name)
}

func (c *compiler) values(ns []Node, cur *expr.Parameter) ([]expr.Node, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	out := make([]expr.Node, len(ns))
	for i, n := range ns {
		v, err := c.value(n, cur)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// step applies one pipe step to recv.
func (c *compiler) step(recv expr.Node, s Node, cur *expr.Parameter) (expr.Node, error) {
	var call *FuncCall
	switch s := s.(type) {
	case *FieldAccess:
		if expr.IsQuery(recv) {
			return nil, fmt.Errorf("eql: field access .%s on a query", s.Chain[0])
		}
		return expr.Path(recv, s.Chain...), nil
	case *FuncCall:
		call = s
	case *IdentExpr:
		return nil, fmt.Errorf("eql: unknown step %q", s.Name)
	default:
		return nil, fmt.Errorf("eql: unexpected step %T", s)
	}

	switch call.Func.Kind {
	case FuncQuery:
		if !expr.IsQuery(recv) {
			return nil, fmt.Errorf("eql: %s needs a query", call.Name)
		}
		return c.queryStep(recv, call)

	case FuncTerminal:
		return c.terminal(recv, call)

	case FuncString:
		if len(call.Args) > call.Func.MaxArgs-1 {
			return nil, fmt.Errorf("eql: %s takes %d argument(s) after its receiver", call.Name, call.Func.MaxArgs-1)
		}
		if len(call.Args) < call.Func.MinArgs {
			return nil, fmt.Errorf("eql: %s needs %d argument(s) after its receiver", call.Name, call.Func.MinArgs)
		}
		args, err := c.values(call.Args, cur)
		if err != nil {
			return nil, err
		}
		return expr.Method(recv, call.Func.Method, args...), nil
	}
	return nil, fmt.Errorf("eql: %s cannot be piped", call.Name)
}

func (c *compiler) queryStep(q expr.Node, call *FuncCall) (expr.Node, error) {
	switch call.Name {
	case "where":
		pred, err := c.lambda(call.Args[0])
		if err != nil {
			return nil, err
		}
		return &expr.Where{Source: q, Predicate: pred}, nil

	case "select":
		sel, err := c.selector(call.Args)
		if err != nil {
			return nil, err
		}
		return &expr.Select{Source: q, Selector: sel}, nil

	case "sort_by":
		key, err := c.lambda(call.Args[0])
		if err != nil {
			return nil, err
		}
		desc := false
		if len(call.Args) == 2 {
			dir, ok := call.Args[1].(*IdentExpr)
			if !ok || (dir.Name != "asc" && dir.Name != "desc") {
				return nil, fmt.Errorf("eql: sort_by direction must be asc or desc")
			}
			desc = dir.Name == "desc"
		}
		// Consecutive sorts refine the ordering.
		_, then := q.(*expr.OrderBy)
		return &expr.OrderBy{Source: q, Key: key, Desc: desc, Then: then}, nil

	case "group_by":
		key, err := c.lambda(call.Args[0])
		if err != nil {
			return nil, err
		}
		return &expr.GroupBy{Source: q, Key: key}, nil

	case "distinct":
		return &expr.Distinct{Source: q}, nil

	case "take", "skip":
		count, err := c.value(call.Args[0], nil)
		if err != nil {
			return nil, err
		}
		if call.Name == "take" {
			return &expr.Take{Source: q, Count: count}, nil
		}
		return &expr.Skip{Source: q, Count: count}, nil

	case "update":
		set := make([]expr.Assignment, 0, len(call.Args))
		for _, a := range call.Args {
			named, ok := a.(*NamedArg)
			if !ok {
				return nil, fmt.Errorf("eql: update arguments are Member: value pairs")
			}
			v, err := c.lambda(named.Value)
			if err != nil {
				return nil, err
			}
			set = append(set, expr.Assignment{Member: named.Name, Value: v})
		}
		return &expr.Update{Source: q, Set: set}, nil

	case "delete":
		return &expr.Delete{Source: q}, nil
	}
	return nil, fmt.Errorf("eql: unknown query step %q", call.Name)
}

// terminal reduces a query to a Terminal, or a collection or group to the
// equivalent method call.
func (c *compiler) terminal(recv expr.Node, call *FuncCall) (expr.Node, error) {
	var lam *expr.Lambda
	if len(call.Args) == 1 {
		var err error
		if lam, err = c.lambda(call.Args[0]); err != nil {
			return nil, err
		}
	}
	op := call.Func.Terminal
	if !expr.IsQuery(recv) {
		var args []expr.Node
		if lam != nil {
			args = append(args, lam)
		}
		return &expr.Call{Method: string(op), Receiver: recv, Args: args}, nil
	}
	t := &expr.Terminal{Op: op, Source: recv}
	switch op {
	case expr.OpSum, expr.OpMin, expr.OpMax, expr.OpAverage:
		t.Selector = lam
	default:
		t.Predicate = lam
	}
	return t, nil
}

// selector builds the select lambda: a single unnamed value, or an object
// whose members are the named (or field-named) arguments.
func (c *compiler) selector(args []Node) (*expr.Lambda, error) {
	if len(args) == 1 {
		if _, named := args[0].(*NamedArg); !named {
			return c.lambda(args[0])
		}
	}
	p := &expr.Parameter{Name: "x"}
	obj := &expr.New{}
	for _, a := range args {
		var name string
		if named, ok := a.(*NamedArg); ok {
			name, a = named.Name, named.Value
		} else if _, ok := a.(*FieldAccess); !ok {
			return nil, fmt.Errorf("eql: computed select members need a name")
		}
		v, err := c.value(a, p)
		if err != nil {
			return nil, err
		}
		obj.Members = append(obj.Members, expr.Init(name, v))
	}
	return &expr.Lambda{Params: []*expr.Parameter{p}, Body: obj}, nil
}

// lambda compiles n as the body of a one-parameter lambda over the
// current item.
func (c *compiler) lambda(n Node) (*expr.Lambda, error) {
	p := &expr.Parameter{Name: "x"}
	body, err := c.value(n, p)
	if err != nil {
		return nil, err
	}
	return &expr.Lambda{Params: []*expr.Parameter{p}, Body: body}, nil
}

var binaryOps = map[string]expr.BinaryOp{
	"==":  expr.OpEq,
	"!=":  expr.OpNe,
	"<":   expr.OpLt,
	"<=":  expr.OpLe,
	">":   expr.OpGt,
	">=":  expr.OpGe,
	"and": expr.OpAnd,
	"or":  expr.OpOr,
	"+":   expr.OpAdd,
	"-":   expr.OpSub,
	"*":   expr.OpMul,
	"/":   expr.OpDiv,
	"%":   expr.OpMod,
	"??":  expr.OpCoalesce,
}

func (c *compiler) binary(n *BinaryOp, cur *expr.Parameter) (expr.Node, error) {
	left, err := c.value(n.Left, cur)
	if err != nil {
		return nil, err
	}
	if n.Op == "in" {
		return c.membership(left, n.Right, cur)
	}
	op, ok := binaryOps[n.Op]
	if !ok {
		return nil, fmt.Errorf("eql: unknown operator %q", n.Op)
	}
	right, err := c.value(n.Right, cur)
	if err != nil {
		return nil, err
	}
	return expr.Bin(op, left, right), nil
}

// membership compiles `v in [..]`, `v in $list` and `v in (query)`.
func (c *compiler) membership(v expr.Node, seq Node, cur *expr.Parameter) (expr.Node, error) {
	if list, ok := seq.(*ListExpr); ok {
		items := make([]any, len(list.Items))
		for i, it := range list.Items {
			n, err := c.value(it, cur)
			if err != nil {
				return nil, err
			}
			lit, ok := n.(*expr.Constant)
			if !ok {
				return nil, fmt.Errorf("eql: list items must be literals or parameters")
			}
			items[i] = lit.Value
		}
		return expr.In(v, items), nil
	}
	n, err := c.value(seq, cur)
	if err != nil {
		return nil, err
	}
	if lit, ok := n.(*expr.Constant); ok {
		return expr.In(v, lit.Value), nil
	}
	return expr.In(v, n), nil
}

func literal(n *Literal) (expr.Node, error) {
	switch n.Kind {
	case TokString:
		s, err := strconv.Unquote(`"` + n.Value + `"`)
		if err != nil {
			return nil, fmt.Errorf("eql: bad string literal %q: %w", n.Value, err)
		}
		return expr.Const(s), nil
	case TokNumber:
		if i, err := strconv.Atoi(n.Value); err == nil {
			return expr.Const(i), nil
		}
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("eql: bad number %q: %w", n.Value, err)
		}
		return expr.Const(f), nil
	case TokTrue:
		return expr.Const(true), nil
	case TokFalse:
		return expr.Const(false), nil
	case TokNull:
		return expr.Null(), nil
	}
	return nil, fmt.Errorf("eql: unexpected literal %s", n.Kind)
}

func negate(v any) (any, bool) {
	switch v := v.(type) {
	case int:
		return -v, true
	case float64:
		return -v, true
	}
	return nil, false
}
