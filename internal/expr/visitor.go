package expr

import "fmt"

// Visitor dispatches over the closed node family. S is the scope threaded
// through the walk and T the per-node result. Adding a node kind breaks
// every implementation at compile time.
type Visitor[S, T any] interface {
	VisitSource(n *Source, s S) (T, error)
	VisitWhere(n *Where, s S) (T, error)
	VisitSelect(n *Select, s S) (T, error)
	VisitOrderBy(n *OrderBy, s S) (T, error)
	VisitGroupBy(n *GroupBy, s S) (T, error)
	VisitDistinct(n *Distinct, s S) (T, error)
	VisitTake(n *Take, s S) (T, error)
	VisitSkip(n *Skip, s S) (T, error)
	VisitTerminal(n *Terminal, s S) (T, error)
	VisitInsert(n *Insert, s S) (T, error)
	VisitUpdate(n *Update, s S) (T, error)
	VisitDelete(n *Delete, s S) (T, error)
	VisitConstant(n *Constant, s S) (T, error)
	VisitMember(n *Member, s S) (T, error)
	VisitBinary(n *Binary, s S) (T, error)
	VisitUnary(n *Unary, s S) (T, error)
	VisitConditional(n *Conditional, s S) (T, error)
	VisitParameter(n *Parameter, s S) (T, error)
	VisitLambda(n *Lambda, s S) (T, error)
	VisitCall(n *Call, s S) (T, error)
	VisitNew(n *New, s S) (T, error)
	VisitSubquery(n *Subquery, s S) (T, error)
}

// Accept routes n to the matching Visit method.
func Accept[S, T any](v Visitor[S, T], n Node, s S) (T, error) {
	switch n := n.(type) {
	case *Source:
		return v.VisitSource(n, s)
	case *Where:
		return v.VisitWhere(n, s)
	case *Select:
		return v.VisitSelect(n, s)
	case *OrderBy:
		return v.VisitOrderBy(n, s)
	case *GroupBy:
		return v.VisitGroupBy(n, s)
	case *Distinct:
		return v.VisitDistinct(n, s)
	case *Take:
		return v.VisitTake(n, s)
	case *Skip:
		return v.VisitSkip(n, s)
	case *Terminal:
		return v.VisitTerminal(n, s)
	case *Insert:
		return v.VisitInsert(n, s)
	case *Update:
		return v.VisitUpdate(n, s)
	case *Delete:
		return v.VisitDelete(n, s)
	case *Constant:
		return v.VisitConstant(n, s)
	case *Member:
		return v.VisitMember(n, s)
	case *Binary:
		return v.VisitBinary(n, s)
	case *Unary:
		return v.VisitUnary(n, s)
	case *Conditional:
		return v.VisitConditional(n, s)
	case *Parameter:
		return v.VisitParameter(n, s)
	case *Lambda:
		return v.VisitLambda(n, s)
	case *Call:
		return v.VisitCall(n, s)
	case *New:
		return v.VisitNew(n, s)
	case *Subquery:
		return v.VisitSubquery(n, s)
	}
	var zero T
	return zero, fmt.Errorf("expr: unknown node %T", n)
}
