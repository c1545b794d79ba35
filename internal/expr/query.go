package expr

import "github.com/atlekbai/entityql/internal/schema"

// Query is a fluent wrapper that chains operators onto a root node.
//
//	q := expr.From("Order").
//		Where(func(o *expr.Parameter) expr.Node {
//			return expr.Eq(o.Field("Customer", "Name"), expr.Const("acme"))
//		}).
//		OrderByDesc(func(o *expr.Parameter) expr.Node { return o.Field("Total") }).
//		Take(10)
//
// A Query is a value; every method returns a new Query and leaves the
// receiver unchanged.
type Query struct {
	root Node
}

// From starts a query over every row of entity.
func From(entity string) Query {
	return Query{root: &Source{Entity: entity}}
}

// Wrap adapts an existing operator tree.
func Wrap(n Node) Query {
	return Query{root: n}
}

// Node returns the operator tree built so far.
func (q Query) Node() Node {
	return q.root
}

// Fn builds a single-parameter lambda named x.
func Fn(body func(x *Parameter) Node) *Lambda {
	return FnNamed("x", body)
}

// FnNamed builds a single-parameter lambda with the given parameter name.
func FnNamed(name string, body func(x *Parameter) Node) *Lambda {
	p := &Parameter{Name: name}
	return &Lambda{Params: []*Parameter{p}, Body: body(p)}
}

func (q Query) Where(pred func(x *Parameter) Node) Query {
	return Query{root: &Where{Source: q.root, Predicate: Fn(pred)}}
}

func (q Query) Select(sel func(x *Parameter) Node) Query {
	return Query{root: &Select{Source: q.root, Selector: Fn(sel)}}
}

func (q Query) OrderBy(key func(x *Parameter) Node) Query {
	return Query{root: &OrderBy{Source: q.root, Key: Fn(key)}}
}

func (q Query) OrderByDesc(key func(x *Parameter) Node) Query {
	return Query{root: &OrderBy{Source: q.root, Key: Fn(key), Desc: true}}
}

func (q Query) ThenBy(key func(x *Parameter) Node) Query {
	return Query{root: &OrderBy{Source: q.root, Key: Fn(key), Then: true}}
}

func (q Query) ThenByDesc(key func(x *Parameter) Node) Query {
	return Query{root: &OrderBy{Source: q.root, Key: Fn(key), Desc: true, Then: true}}
}

func (q Query) GroupBy(key func(x *Parameter) Node) Query {
	return Query{root: &GroupBy{Source: q.root, Key: Fn(key)}}
}

func (q Query) Distinct() Query {
	return Query{root: &Distinct{Source: q.root}}
}

func (q Query) Take(n int) Query {
	return Query{root: &Take{Source: q.root, Count: Const(n)}}
}

func (q Query) Skip(n int) Query {
	return Query{root: &Skip{Source: q.root, Count: Const(n)}}
}

func (q Query) terminal(op TerminalOp, pred, sel func(x *Parameter) Node) Query {
	t := &Terminal{Op: op, Source: q.root}
	if pred != nil {
		t.Predicate = Fn(pred)
	}
	if sel != nil {
		t.Selector = Fn(sel)
	}
	return Query{root: t}
}

// Any tests whether the sequence (or the rows matching pred) is non-empty.
// pred may be nil.
func (q Query) Any(pred func(x *Parameter) Node) Query { return q.terminal(OpAny, pred, nil) }

func (q Query) All(pred func(x *Parameter) Node) Query { return q.terminal(OpAll, pred, nil) }

func (q Query) Count(pred func(x *Parameter) Node) Query { return q.terminal(OpCount, pred, nil) }

func (q Query) Single(pred func(x *Parameter) Node) Query { return q.terminal(OpSingle, pred, nil) }

func (q Query) SingleOrDefault(pred func(x *Parameter) Node) Query {
	return q.terminal(OpSingleOrDefault, pred, nil)
}

func (q Query) First(pred func(x *Parameter) Node) Query { return q.terminal(OpFirst, pred, nil) }

func (q Query) FirstOrDefault(pred func(x *Parameter) Node) Query {
	return q.terminal(OpFirstOrDefault, pred, nil)
}

func (q Query) Sum(sel func(x *Parameter) Node) Query { return q.terminal(OpSum, nil, sel) }

func (q Query) Min(sel func(x *Parameter) Node) Query { return q.terminal(OpMin, nil, sel) }

func (q Query) Max(sel func(x *Parameter) Node) Query { return q.terminal(OpMax, nil, sel) }

func (q Query) Average(sel func(x *Parameter) Node) Query { return q.terminal(OpAverage, nil, sel) }

// Update sets members of every row of the query.
func (q Query) Update(set ...Assignment) Query {
	return Query{root: &Update{Source: q.root, Set: set}}
}

// Delete removes every row of the query.
func (q Query) Delete() Query {
	return Query{root: &Delete{Source: q.root}}
}

// Set builds an assignment whose value is computed from the updated row.
func Set(member string, value func(x *Parameter) Node) Assignment {
	return Assignment{Member: member, Value: Fn(value)}
}

// InsertRecords builds an insert root.
func InsertRecords(records ...*schema.Record) *Insert {
	return &Insert{Records: records}
}

// --- Scalar helpers ---

// Field reads a member chain off the parameter: x.Field("Customer", "Name")
// is x.Customer.Name.
func (p *Parameter) Field(path ...string) Node {
	var n Node = p
	for _, name := range path {
		n = &Member{Target: n, Name: name}
	}
	return n
}

// Path reads a member chain off any node.
func Path(n Node, path ...string) Node {
	for _, name := range path {
		n = &Member{Target: n, Name: name}
	}
	return n
}

func Const(v any) *Constant { return &Constant{Value: v} }

// Null is the nil literal.
func Null() *Constant { return &Constant{Value: nil} }

func Eq(l, r Node) Node { return &Binary{Op: OpEq, Left: l, Right: r} }
func Ne(l, r Node) Node { return &Binary{Op: OpNe, Left: l, Right: r} }
func Lt(l, r Node) Node { return &Binary{Op: OpLt, Left: l, Right: r} }
func Le(l, r Node) Node { return &Binary{Op: OpLe, Left: l, Right: r} }
func Gt(l, r Node) Node { return &Binary{Op: OpGt, Left: l, Right: r} }
func Ge(l, r Node) Node { return &Binary{Op: OpGe, Left: l, Right: r} }
func Bin(op BinaryOp, l, r Node) Node { return &Binary{Op: op, Left: l, Right: r} }

// AndAll joins conditions with &&. It returns nil for no conditions.
func AndAll(conds ...Node) Node {
	var out Node
	for _, c := range conds {
		if out == nil {
			out = c
			continue
		}
		out = &Binary{Op: OpAnd, Left: out, Right: c}
	}
	return out
}

func OrAll(conds ...Node) Node {
	var out Node
	for _, c := range conds {
		if out == nil {
			out = c
			continue
		}
		out = &Binary{Op: OpOr, Left: out, Right: c}
	}
	return out
}

func NotOf(n Node) Node { return &Unary{Op: OpNot, Operand: n} }

func If(test, then, els Node) Node { return &Conditional{Test: test, Then: then, Else: els} }

// Method calls name on recv.
func Method(recv Node, name string, args ...Node) Node {
	return &Call{Method: name, Receiver: recv, Args: args}
}

// Invoke calls a sequence method with a lambda argument, e.g.
// Invoke(o.Field("Lines"), "Any", pred).
func Invoke(recv Node, name string, fn func(x *Parameter) Node) Node {
	return &Call{Method: name, Receiver: recv, Args: []Node{Fn(fn)}}
}

// In tests membership of value in seq, a literal slice or a query.
func In(value Node, seq any) Node {
	var recv Node
	switch s := seq.(type) {
	case Query:
		recv = Const(s)
	case Node:
		if IsQuery(s) {
			recv = Const(s)
		} else {
			recv = s
		}
	default:
		recv = Const(seq)
	}
	return &Call{Method: "Contains", Receiver: recv, Args: []Node{value}}
}

// Object builds an anonymous New.
func Object(members ...MemberInit) *New {
	return &New{Members: members}
}

// ObjectOf builds a New of a named type.
func ObjectOf(typ string, members ...MemberInit) *New {
	return &New{Type: typ, Members: members}
}

func Init(name string, value Node) MemberInit {
	return MemberInit{Name: name, Value: value}
}
