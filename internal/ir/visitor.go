package ir

import "fmt"

// Visitor has one method per node kind, so a new kind fails to compile in
// every visitor until it is handled.
type Visitor[T any] interface {
	VisitBinary(n *Binary) (T, error)
	VisitUnary(n *Unary) (T, error)
	VisitConditional(n *Conditional) (T, error)
	VisitConstant(n *Constant) (T, error)
	VisitColumn(n *Column) (T, error)
	VisitFilter(n *Filter) (T, error)
	VisitNamedSource(n *NamedSource) (T, error)
	VisitProjection(n *Projection) (T, error)
	VisitMethodCall(n *MethodCall) (T, error)
	VisitNew(n *New) (T, error)
	VisitOrderBy(n *OrderBy) (T, error)
	VisitParameter(n *Parameter) (T, error)
	VisitQueryParameter(n *QueryParameter) (T, error)
	VisitQuerySource(n *QuerySource) (T, error)
	VisitJoin(n *Join) (T, error)
	VisitGroupBy(n *GroupBy) (T, error)
	VisitRowsFetchLimit(n *RowsFetchLimit) (T, error)
	VisitRename(n *Rename) (T, error)
	VisitSpecial(n *Special) (T, error)
	VisitInsert(n *Insert) (T, error)
	VisitValues(n *Values) (T, error)
	VisitUpdate(n *Update) (T, error)
	VisitDelete(n *Delete) (T, error)
	VisitBatch(n *Batch) (T, error)
}

// Visit dispatches n to v.
func Visit[T any](v Visitor[T], n Node) (T, error) {
	switch n := n.(type) {
	case *Binary:
		return v.VisitBinary(n)
	case *Unary:
		return v.VisitUnary(n)
	case *Conditional:
		return v.VisitConditional(n)
	case *Constant:
		return v.VisitConstant(n)
	case *Column:
		return v.VisitColumn(n)
	case *Filter:
		return v.VisitFilter(n)
	case *NamedSource:
		return v.VisitNamedSource(n)
	case *Projection:
		return v.VisitProjection(n)
	case *MethodCall:
		return v.VisitMethodCall(n)
	case *New:
		return v.VisitNew(n)
	case *OrderBy:
		return v.VisitOrderBy(n)
	case *Parameter:
		return v.VisitParameter(n)
	case *QueryParameter:
		return v.VisitQueryParameter(n)
	case *QuerySource:
		return v.VisitQuerySource(n)
	case *Join:
		return v.VisitJoin(n)
	case *GroupBy:
		return v.VisitGroupBy(n)
	case *RowsFetchLimit:
		return v.VisitRowsFetchLimit(n)
	case *Rename:
		return v.VisitRename(n)
	case *Special:
		return v.VisitSpecial(n)
	case *Insert:
		return v.VisitInsert(n)
	case *Values:
		return v.VisitValues(n)
	case *Update:
		return v.VisitUpdate(n)
	case *Delete:
		return v.VisitDelete(n)
	case *Batch:
		return v.VisitBatch(n)
	}
	var zero T
	return zero, fmt.Errorf("ir: unknown node %T", n)
}

// Children returns the direct sub-nodes of n in rendering order.
func Children(n Node) []Node {
	var out []Node
	add := func(ns ...Node) {
		for _, c := range ns {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	switch n := n.(type) {
	case *Binary:
		add(n.Left, n.Right)
	case *Unary:
		add(n.Operand)
	case *Conditional:
		add(n.Test, n.Then, n.Else)
	case *Filter:
		add(n.Source, n.Predicate)
	case *NamedSource:
		add(n.Source)
	case *Projection:
		add(n.Source)
		for _, b := range n.Bindings {
			add(b)
		}
	case *MethodCall:
		add(n.Args...)
	case *New:
		for _, m := range n.Members {
			add(m)
		}
	case *OrderBy:
		add(n.Source)
		add(n.Keys...)
	case *Join:
		add(n.Left, n.Right, n.On)
	case *GroupBy:
		add(n.Source, n.Keys)
	case *RowsFetchLimit:
		add(n.Source, n.Limit, n.Offset)
	case *Rename:
		add(n.Expr)
	case *Insert:
		for _, r := range n.Rows {
			add(r)
		}
	case *Values:
		add(n.Items...)
	case *Update:
		add(n.Target)
		for _, s := range n.Set {
			add(s)
		}
		add(n.Where)
	case *Delete:
		add(n.Target, n.Where)
	case *Batch:
		add(n.Statements...)
	}
	return out
}

// Walk visits n and its descendants in pre-order until fn returns false
// for a node, which skips that node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}
