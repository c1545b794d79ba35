package ir

// Rewrite rebuilds n bottom-up, handing every node to f after its children
// were rewritten. Closed nodes are never modified: a node is copied when
// one of its children changed, and untouched subtrees are shared.
func Rewrite(n Node, f func(Node) (Node, error)) (Node, error) {
	if n == nil {
		return nil, nil
	}
	return Visit[Node](&rewriter{f: f}, n)
}

type rewriter struct {
	f func(Node) (Node, error)
}

func (r *rewriter) node(n Node) (Node, bool, error) {
	if n == nil {
		return nil, false, nil
	}
	out, err := Visit[Node](r, n)
	if err != nil {
		return nil, false, err
	}
	return out, out != n, nil
}

func (r *rewriter) nodes(ns []Node) ([]Node, bool, error) {
	out := make([]Node, len(ns))
	changed := false
	for i, n := range ns {
		m, c, err := r.node(n)
		if err != nil {
			return nil, false, err
		}
		out[i] = m
		changed = changed || c
	}
	return out, changed, nil
}

func (r *rewriter) renames(rs []*Rename) ([]*Rename, bool, error) {
	out := make([]*Rename, len(rs))
	changed := false
	for i, rn := range rs {
		m, c, err := r.node(rn)
		if err != nil {
			return nil, false, err
		}
		mr, ok := m.(*Rename)
		if !ok {
			mr = &Rename{Name: rn.Name, Expr: m}
		}
		out[i] = mr
		changed = changed || c
	}
	return out, changed, nil
}

func (r *rewriter) VisitBinary(n *Binary) (Node, error) {
	l, cl, err := r.node(n.Left)
	if err != nil {
		return nil, err
	}
	rt, cr, err := r.node(n.Right)
	if err != nil {
		return nil, err
	}
	if cl || cr {
		return r.f(&Binary{Op: n.Op, Left: l, Right: rt})
	}
	return r.f(n)
}

func (r *rewriter) VisitUnary(n *Unary) (Node, error) {
	op, c, err := r.node(n.Operand)
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&Unary{Op: n.Op, Operand: op})
	}
	return r.f(n)
}

func (r *rewriter) VisitConditional(n *Conditional) (Node, error) {
	parts, c, err := r.nodes([]Node{n.Test, n.Then, n.Else})
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&Conditional{Test: parts[0], Then: parts[1], Else: parts[2]})
	}
	return r.f(n)
}

func (r *rewriter) VisitConstant(n *Constant) (Node, error) { return r.f(n) }
func (r *rewriter) VisitColumn(n *Column) (Node, error)     { return r.f(n) }

func (r *rewriter) VisitFilter(n *Filter) (Node, error) {
	parts, c, err := r.nodes([]Node{n.Source, n.Predicate})
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&Filter{Source: parts[0], Predicate: parts[1]})
	}
	return r.f(n)
}

func (r *rewriter) VisitNamedSource(n *NamedSource) (Node, error) {
	src, c, err := r.node(n.Source)
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&NamedSource{Alias: n.Alias, Binding: n.Binding, Source: src})
	}
	return r.f(n)
}

func (r *rewriter) VisitProjection(n *Projection) (Node, error) {
	src, cs, err := r.node(n.Source)
	if err != nil {
		return nil, err
	}
	bindings, cb, err := r.renames(n.Bindings)
	if err != nil {
		return nil, err
	}
	if cs || cb {
		return r.f(&Projection{
			Source: src, Bindings: bindings,
			Distinct: n.Distinct, ToClass: n.ToClass, ToAnonymous: n.ToAnonymous,
		})
	}
	return r.f(n)
}

func (r *rewriter) VisitMethodCall(n *MethodCall) (Node, error) {
	args, c, err := r.nodes(n.Args)
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&MethodCall{Name: n.Name, Args: args})
	}
	return r.f(n)
}

func (r *rewriter) VisitNew(n *New) (Node, error) {
	members, c, err := r.renames(n.Members)
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&New{Members: members})
	}
	return r.f(n)
}

func (r *rewriter) VisitOrderBy(n *OrderBy) (Node, error) {
	src, cs, err := r.node(n.Source)
	if err != nil {
		return nil, err
	}
	keys, ck, err := r.nodes(n.Keys)
	if err != nil {
		return nil, err
	}
	if cs || ck {
		return r.f(&OrderBy{Source: src, Keys: keys, Desc: n.Desc})
	}
	return r.f(n)
}

func (r *rewriter) VisitParameter(n *Parameter) (Node, error)           { return r.f(n) }
func (r *rewriter) VisitQueryParameter(n *QueryParameter) (Node, error) { return r.f(n) }
func (r *rewriter) VisitQuerySource(n *QuerySource) (Node, error)       { return r.f(n) }
func (r *rewriter) VisitSpecial(n *Special) (Node, error)               { return r.f(n) }

func (r *rewriter) VisitJoin(n *Join) (Node, error) {
	parts, c, err := r.nodes([]Node{n.Left, n.Right, n.On})
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&Join{Type: n.Type, Left: parts[0], Right: parts[1], On: parts[2]})
	}
	return r.f(n)
}

func (r *rewriter) VisitGroupBy(n *GroupBy) (Node, error) {
	parts, c, err := r.nodes([]Node{n.Source, n.Keys})
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&GroupBy{Source: parts[0], Keys: parts[1], Values: n.Values})
	}
	return r.f(n)
}

func (r *rewriter) VisitRowsFetchLimit(n *RowsFetchLimit) (Node, error) {
	parts, c, err := r.nodes([]Node{n.Source, n.Limit, n.Offset})
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&RowsFetchLimit{Source: parts[0], Limit: parts[1], Offset: parts[2]})
	}
	return r.f(n)
}

func (r *rewriter) VisitRename(n *Rename) (Node, error) {
	e, c, err := r.node(n.Expr)
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&Rename{Name: n.Name, Expr: e})
	}
	return r.f(n)
}

func (r *rewriter) VisitInsert(n *Insert) (Node, error) {
	rows := make([]*Values, len(n.Rows))
	changed := false
	for i, row := range n.Rows {
		m, c, err := r.node(row)
		if err != nil {
			return nil, err
		}
		v, ok := m.(*Values)
		if !ok {
			v = &Values{Items: []Node{m}}
		}
		rows[i] = v
		changed = changed || c
	}
	if changed {
		return r.f(&Insert{Entity: n.Entity, Columns: n.Columns, Rows: rows})
	}
	return r.f(n)
}

func (r *rewriter) VisitValues(n *Values) (Node, error) {
	items, c, err := r.nodes(n.Items)
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&Values{Items: items})
	}
	return r.f(n)
}

func (r *rewriter) VisitUpdate(n *Update) (Node, error) {
	parts, cp, err := r.nodes([]Node{n.Target, n.Where})
	if err != nil {
		return nil, err
	}
	set, cs, err := r.renames(n.Set)
	if err != nil {
		return nil, err
	}
	if cp || cs {
		return r.f(&Update{Target: parts[0], Where: parts[1], Set: set})
	}
	return r.f(n)
}

func (r *rewriter) VisitDelete(n *Delete) (Node, error) {
	parts, c, err := r.nodes([]Node{n.Target, n.Where})
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&Delete{Target: parts[0], Where: parts[1]})
	}
	return r.f(n)
}

func (r *rewriter) VisitBatch(n *Batch) (Node, error) {
	stmts, c, err := r.nodes(n.Statements)
	if err != nil {
		return nil, err
	}
	if c {
		return r.f(&Batch{Statements: stmts})
	}
	return r.f(n)
}
