package expr

import (
	"reflect"
)

// Children returns the direct sub-nodes of n in evaluation order. Lambda
// parameters and Insert records are not children; unknown nodes are leaves.
func Children(n Node) []Node {
	var out []Node
	add := func(ns ...Node) {
		for _, c := range ns {
			if c != nil && !isNilLambda(c) {
				out = append(out, c)
			}
		}
	}
	switch n := n.(type) {
	case *Source, *Constant, *Parameter, *Insert:
	case *Where:
		add(n.Source, n.Predicate)
	case *Select:
		add(n.Source, n.Selector)
	case *OrderBy:
		add(n.Source, n.Key)
	case *GroupBy:
		add(n.Source, n.Key)
	case *Distinct:
		add(n.Source)
	case *Take:
		add(n.Source, n.Count)
	case *Skip:
		add(n.Source, n.Count)
	case *Terminal:
		add(n.Source, n.Predicate, n.Selector)
	case *Update:
		add(n.Source, n.Predicate)
		for _, a := range n.Set {
			add(a.Value)
		}
	case *Delete:
		add(n.Source, n.Predicate)
	case *Member:
		add(n.Target)
	case *Binary:
		add(n.Left, n.Right)
	case *Unary:
		add(n.Operand)
	case *Conditional:
		add(n.Test, n.Then, n.Else)
	case *Lambda:
		add(n.Body)
	case *Call:
		add(n.Receiver)
		add(n.Args...)
	case *New:
		for _, m := range n.Members {
			add(m.Value)
		}
	case *Subquery:
		add(n.Query)
	}
	return out
}

func isNilLambda(n Node) bool {
	l, ok := n.(*Lambda)
	return ok && l == nil
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || isNilLambda(n) {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Constants lists every Constant under n in pre-order.
func Constants(n Node) []*Constant {
	var out []*Constant
	Walk(n, func(n Node) bool {
		if c, ok := n.(*Constant); ok {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Rewriter rebuilds a tree bottom-up. Apply sees every node after its
// children were rewritten; nodes are copied only when a child changed or
// Apply returned a different node, so untouched subtrees keep their
// identity. Skip, when set, leaves matching subtrees alone.
type Rewriter struct {
	Skip  func(Node) bool
	Apply func(Node) Node
}

// Rewrite rebuilds n with f applied bottom-up.
func Rewrite(n Node, f func(Node) Node) Node {
	return Rewriter{Apply: f}.Rewrite(n)
}

func (r Rewriter) Rewrite(n Node) Node {
	if n == nil || isNilLambda(n) {
		return n
	}
	if r.Skip != nil && r.Skip(n) {
		return n
	}
	out := r.children(n)
	if r.Apply != nil {
		out = r.Apply(out)
	}
	return out
}

func (r Rewriter) lambda(l *Lambda) *Lambda {
	if l == nil {
		return nil
	}
	out, ok := r.Rewrite(l).(*Lambda)
	if !ok {
		panic("expr: lambda rewritten into a non-lambda")
	}
	return out
}

// children rewrites the sub-nodes of n and returns n itself when none changed.
func (r Rewriter) children(n Node) Node {
	switch n := n.(type) {
	case *Source, *Constant, *Parameter, *Insert:
		return n
	case *Where:
		src, p := r.Rewrite(n.Source), r.lambda(n.Predicate)
		if src == n.Source && p == n.Predicate {
			return n
		}
		return &Where{Source: src, Predicate: p}
	case *Select:
		src, sel := r.Rewrite(n.Source), r.lambda(n.Selector)
		if src == n.Source && sel == n.Selector {
			return n
		}
		return &Select{Source: src, Selector: sel}
	case *OrderBy:
		src, key := r.Rewrite(n.Source), r.lambda(n.Key)
		if src == n.Source && key == n.Key {
			return n
		}
		return &OrderBy{Source: src, Key: key, Desc: n.Desc, Then: n.Then}
	case *GroupBy:
		src, key := r.Rewrite(n.Source), r.lambda(n.Key)
		if src == n.Source && key == n.Key {
			return n
		}
		return &GroupBy{Source: src, Key: key}
	case *Distinct:
		src := r.Rewrite(n.Source)
		if src == n.Source {
			return n
		}
		return &Distinct{Source: src}
	case *Take:
		src, count := r.Rewrite(n.Source), r.Rewrite(n.Count)
		if src == n.Source && count == n.Count {
			return n
		}
		return &Take{Source: src, Count: count}
	case *Skip:
		src, count := r.Rewrite(n.Source), r.Rewrite(n.Count)
		if src == n.Source && count == n.Count {
			return n
		}
		return &Skip{Source: src, Count: count}
	case *Terminal:
		src, p, sel := r.Rewrite(n.Source), r.lambda(n.Predicate), r.lambda(n.Selector)
		if src == n.Source && p == n.Predicate && sel == n.Selector {
			return n
		}
		return &Terminal{Op: n.Op, Source: src, Predicate: p, Selector: sel}
	case *Update:
		src, p := r.Rewrite(n.Source), r.lambda(n.Predicate)
		changed := src != n.Source || p != n.Predicate
		set := make([]Assignment, len(n.Set))
		for i, a := range n.Set {
			set[i] = Assignment{Member: a.Member, Value: r.lambda(a.Value)}
			changed = changed || set[i].Value != a.Value
		}
		if !changed {
			return n
		}
		return &Update{Source: src, Predicate: p, Set: set}
	case *Delete:
		src, p := r.Rewrite(n.Source), r.lambda(n.Predicate)
		if src == n.Source && p == n.Predicate {
			return n
		}
		return &Delete{Source: src, Predicate: p}
	case *Member:
		t := r.Rewrite(n.Target)
		if t == n.Target {
			return n
		}
		return &Member{Target: t, Name: n.Name}
	case *Binary:
		left, right := r.Rewrite(n.Left), r.Rewrite(n.Right)
		if left == n.Left && right == n.Right {
			return n
		}
		return &Binary{Op: n.Op, Left: left, Right: right}
	case *Unary:
		op := r.Rewrite(n.Operand)
		if op == n.Operand {
			return n
		}
		return &Unary{Op: n.Op, Operand: op}
	case *Conditional:
		test, then, els := r.Rewrite(n.Test), r.Rewrite(n.Then), r.Rewrite(n.Else)
		if test == n.Test && then == n.Then && els == n.Else {
			return n
		}
		return &Conditional{Test: test, Then: then, Else: els}
	case *Lambda:
		body := r.Rewrite(n.Body)
		if body == n.Body {
			return n
		}
		return &Lambda{Params: n.Params, Body: body}
	case *Call:
		recv := r.Rewrite(n.Receiver)
		changed := recv != n.Receiver
		args := make([]Node, len(n.Args))
		for i, a := range n.Args {
			args[i] = r.Rewrite(a)
			changed = changed || args[i] != a
		}
		if !changed {
			return n
		}
		return &Call{Method: n.Method, Receiver: recv, Args: args}
	case *New:
		changed := false
		members := make([]MemberInit, len(n.Members))
		for i, m := range n.Members {
			members[i] = MemberInit{Name: m.Name, Value: r.Rewrite(m.Value)}
			changed = changed || members[i].Value != m.Value
		}
		if !changed {
			return n
		}
		return &New{Type: n.Type, Members: members}
	case *Subquery:
		q := r.Rewrite(n.Query)
		if q == n.Query {
			return n
		}
		return &Subquery{Query: q}
	}
	return n
}

// Equal reports whether two trees have the same structure and literals.
// Parameters compare by name.
func Equal(a, b Node) bool {
	if a == nil || b == nil || isNilLambda(a) || isNilLambda(b) {
		return (a == nil || isNilLambda(a)) && (b == nil || isNilLambda(b))
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	switch a := a.(type) {
	case *Source:
		return a.Entity == b.(*Source).Entity
	case *Constant:
		return reflect.DeepEqual(a.Value, b.(*Constant).Value)
	case *Parameter:
		return a.Name == b.(*Parameter).Name
	case *Insert:
		return reflect.DeepEqual(a.Records, b.(*Insert).Records)
	case *OrderBy:
		bb := b.(*OrderBy)
		if a.Desc != bb.Desc || a.Then != bb.Then {
			return false
		}
	case *Terminal:
		bb := b.(*Terminal)
		if a.Op != bb.Op || (a.Predicate == nil) != (bb.Predicate == nil) || (a.Selector == nil) != (bb.Selector == nil) {
			return false
		}
	case *Update:
		bb := b.(*Update)
		if len(a.Set) != len(bb.Set) || (a.Predicate == nil) != (bb.Predicate == nil) {
			return false
		}
		for i := range a.Set {
			if a.Set[i].Member != bb.Set[i].Member {
				return false
			}
		}
	case *Member:
		if a.Name != b.(*Member).Name {
			return false
		}
	case *Binary:
		if a.Op != b.(*Binary).Op {
			return false
		}
	case *Unary:
		if a.Op != b.(*Unary).Op {
			return false
		}
	case *Lambda:
		bb := b.(*Lambda)
		if len(a.Params) != len(bb.Params) {
			return false
		}
		for i := range a.Params {
			if a.Params[i].Name != bb.Params[i].Name {
				return false
			}
		}
	case *Call:
		bb := b.(*Call)
		if a.Method != bb.Method || len(a.Args) != len(bb.Args) || (a.Receiver == nil) != (bb.Receiver == nil) {
			return false
		}
	case *New:
		bb := b.(*New)
		if a.Type != bb.Type || len(a.Members) != len(bb.Members) {
			return false
		}
		for i := range a.Members {
			if a.Members[i].Name != bb.Members[i].Name {
				return false
			}
		}
	}
	ac, bc := Children(a), Children(b)
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !Equal(ac[i], bc[i]) {
			return false
		}
	}
	return true
}
