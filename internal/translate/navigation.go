package translate

import (
	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
)

var aggregateFuncs = map[expr.TerminalOp]string{
	expr.OpSum:     "sum",
	expr.OpMin:     "min",
	expr.OpMax:     "max",
	expr.OpAverage: "avg",
}

// terminal lowers a sequence-reducing operator into the open scope.
func (l *lowerer) terminal(t *expr.Terminal, sc *scope) (Cardinality, error) {
	src := t.Source
	if t.Predicate != nil && t.Op != expr.OpAll {
		src = &expr.Where{Source: src, Predicate: t.Predicate}
	}
	switch t.Op {
	case expr.OpAny, expr.OpCount:
		return Scalar, l.countOver(t, src, sc)
	case expr.OpAll:
		return Scalar, l.allOver(t, src, sc)
	case expr.OpSum, expr.OpMin, expr.OpMax, expr.OpAverage:
		return Scalar, l.aggregateOver(t, src, sc)
	case expr.OpSingle, expr.OpSingleOrDefault:
		return One, l.limitTo(2, src, sc)
	case expr.OpFirst, expr.OpFirstOrDefault:
		return One, l.limitTo(1, src, sc)
	}
	return 0, failf(t, "unsupported terminal %s", t.Op)
}

// countOver counts the rows of a sub-select of src.
func (l *lowerer) countOver(t *expr.Terminal, src expr.Node, sc *scope) error {
	var value ir.Node = ir.CountAll()
	if t.Op == expr.OpAny {
		value = &ir.Binary{Op: ir.OpGt, Left: ir.CountAll(), Right: &ir.Constant{Value: 0}}
	}
	return l.ctx.WithinScope(ir.NewProjection(), func() error {
		if _, err := l.subSource(src, sc); err != nil {
			return err
		}
		return l.ctx.Emit(&ir.Rename{Name: string(t.Op), Expr: value})
	})
}

// allOver compares the count of matching rows with the count of all rows.
func (l *lowerer) allOver(t *expr.Terminal, src expr.Node, sc *scope) error {
	if t.Predicate == nil {
		return failf(t, "All needs a predicate")
	}
	return l.ctx.WithinScope(ir.NewProjection(), func() error {
		rows, err := l.lowerRows(src, sc, []*expr.Lambda{t.Predicate})
		if err != nil {
			return err
		}
		pred, err := l.predicate(t.Predicate.Body, sc.bindLambda(t.Predicate, rows))
		if err != nil {
			return err
		}
		matching, err := l.wrap(t, ir.NewMethodCall("count"), pred)
		if err != nil {
			return err
		}
		return l.ctx.Emit(&ir.Rename{
			Name: string(t.Op),
			Expr: &ir.Binary{Op: ir.OpEq, Left: matching, Right: ir.CountAll()},
		})
	})
}

func (l *lowerer) aggregateOver(t *expr.Terminal, src expr.Node, sc *scope) error {
	return l.ctx.WithinScope(ir.NewProjection(), func() error {
		var also []*expr.Lambda
		if t.Selector != nil {
			also = append(also, t.Selector)
		}
		rows, err := l.lowerRows(src, sc, also)
		if err != nil {
			return err
		}
		var v ir.Node
		switch {
		case t.Selector != nil:
			v, err = l.scalar(t.Selector.Body, sc.bindLambda(t.Selector, rows))
		case rows.scalar != "":
			v = &ir.Column{Source: rows.alias, Name: rows.scalar}
		default:
			err = failf(t, "%s over rows needs a selector", t.Op)
		}
		if err != nil {
			return err
		}
		call, err := l.wrap(t, ir.NewMethodCall(aggregateFuncs[t.Op]), v)
		if err != nil {
			return err
		}
		return l.ctx.Emit(&ir.Rename{Name: string(t.Op), Expr: call})
	})
}

func (l *lowerer) limitTo(n int, src expr.Node, sc *scope) error {
	return l.ctx.WithinScope(ir.NewRowsFetchLimit(true, false), func() error {
		if _, err := l.lowerSelect(src, sc); err != nil {
			return err
		}
		return l.ctx.Emit(&ir.Constant{Value: n})
	})
}

// subSource lowers src as an aliased sub-select.
func (l *lowerer) subSource(src expr.Node, sc *scope) (*shape, error) {
	var out *shape
	nb := ir.NewNamedSource("", "")
	err := l.ctx.WithinScope(nb, func() error {
		inner, err := l.lowerSelect(src, sc)
		if err != nil {
			return err
		}
		nb.Alias = l.ctx.NextAliasName()
		nb.Binding = nb.Alias
		out = inner.subselect(nb.Alias)
		return nil
	})
	return out, err
}

// call lowers a method call: a terminal over a sub-query, membership in a
// literal sequence or a sub-query, an aggregate over a grouping, collection
// navigation, or whatever a registered translator makes of it.
func (l *lowerer) call(n *expr.Call, sc *scope) (ir.Node, error) {
	if n.Receiver == nil {
		return l.translateUnknown(n, sc)
	}
	if q, ok := queryOperand(n.Receiver); ok {
		return l.queryCall(n, q, sc)
	}
	if c, ok := n.Receiver.(*expr.Constant); ok && n.Method == "Contains" && len(n.Args) == 1 && isSequence(c.Value) {
		return l.anyOf(n, c, sc)
	}
	if p, ok := n.Receiver.(*expr.Parameter); ok {
		if sh, ok := sc.lookup(p); ok && sh.group != nil {
			return l.groupAggregate(n, sh.group)
		}
	}
	if m, ok := n.Receiver.(*expr.Member); ok {
		if nav, ok := l.navigation(m, sc); ok {
			return l.collectionCall(n, nav, sc)
		}
	}
	return l.translateUnknown(n, sc)
}

func queryOperand(n expr.Node) (expr.Node, bool) {
	switch n := n.(type) {
	case *expr.Subquery:
		return n.Query, true
	case *expr.Constant:
		return expr.QueryOf(n.Value)
	}
	if expr.IsQuery(n) {
		return n, true
	}
	return nil, false
}

func (l *lowerer) queryCall(n *expr.Call, q expr.Node, sc *scope) (ir.Node, error) {
	if n.Method == "Contains" {
		if len(n.Args) != 1 {
			return nil, failf(n, "Contains takes one argument")
		}
		v, err := l.scalar(n.Args[0], sc)
		if err != nil {
			return nil, err
		}
		sub, err := l.subquery(q, sc)
		if err != nil {
			return nil, err
		}
		return l.wrap(n, ir.NewBinary(ir.OpIn), v, sub)
	}
	t, err := terminalOf(n, q)
	if err != nil {
		return nil, err
	}
	return l.subquery(t, sc)
}

// terminalOf turns seq.Op(lambda) into a Terminal over src.
func terminalOf(n *expr.Call, src expr.Node) (*expr.Terminal, error) {
	if !expr.IsTerminal(n.Method) {
		return nil, failf(n, "unsupported sequence method %s", n.Method)
	}
	t := &expr.Terminal{Op: expr.TerminalOp(n.Method), Source: src}
	switch len(n.Args) {
	case 0:
	case 1:
		lam, ok := n.Args[0].(*expr.Lambda)
		if !ok {
			return nil, failf(n, "%s takes a lambda", n.Method)
		}
		if _, agg := aggregateFuncs[t.Op]; agg {
			t.Selector = lam
		} else {
			t.Predicate = lam
		}
	default:
		return nil, failf(n, "%s takes at most one argument", n.Method)
	}
	return t, nil
}

// anyOf lowers membership in a literal sequence to `v = ANY(@param)`.
func (l *lowerer) anyOf(n *expr.Call, seq *expr.Constant, sc *scope) (ir.Node, error) {
	v, err := l.scalar(n.Args[0], sc)
	if err != nil {
		return nil, err
	}
	param, err := l.constant(seq, l.columnType(n.Args[0], sc))
	if err != nil {
		return nil, err
	}
	return l.wrap(n, ir.NewBinary(ir.OpAnyOf), v, param)
}

// groupAggregate lowers g.Count(), g.Sum(x => ...) and the like over the
// grouped rows.
func (l *lowerer) groupAggregate(n *expr.Call, g *grouping) (ir.Node, error) {
	var lam *expr.Lambda
	switch len(n.Args) {
	case 0:
	case 1:
		var ok bool
		if lam, ok = n.Args[0].(*expr.Lambda); !ok {
			return nil, failf(n, "%s takes a lambda", n.Method)
		}
	default:
		return nil, failf(n, "%s takes at most one argument", n.Method)
	}

	counted := func() (ir.Node, error) {
		if lam == nil {
			return ir.CountAll(), nil
		}
		pred, err := l.predicate(lam.Body, g.sc.bindLambda(lam, g.rows))
		if err != nil {
			return nil, err
		}
		return l.wrap(n, ir.NewMethodCall("count"), pred)
	}

	op := expr.TerminalOp(n.Method)
	switch {
	case op == expr.OpCount || n.Method == "LongCount":
		return counted()
	case op == expr.OpAny:
		c, err := counted()
		if err != nil {
			return nil, err
		}
		return l.wrap(n, ir.NewBinary(ir.OpGt), c, &ir.Constant{Value: 0})
	}
	fn, ok := aggregateFuncs[op]
	if !ok {
		return nil, failf(n, "unsupported aggregate %s over a grouping", n.Method)
	}
	if lam == nil {
		return nil, failf(n, "%s over a grouping needs a selector", n.Method)
	}
	v, err := l.scalar(lam.Body, g.sc.bindLambda(lam, g.rows))
	if err != nil {
		return nil, err
	}
	return l.wrap(n, ir.NewMethodCall(fn), v)
}

// navigation describes a collection member read off entity rows.
type navigation struct {
	owner    expr.Node
	ownerEnt *schema.EntityDef
	col      *schema.ColumnDef
	target   *schema.EntityDef
}

func (l *lowerer) navigation(m *expr.Member, sc *scope) (*navigation, bool) {
	root, names := memberChain(m)
	p, ok := root.(*expr.Parameter)
	if !ok {
		return nil, false
	}
	sh, ok := sc.lookup(p)
	if !ok || !sh.isEntity() {
		return nil, false
	}
	cur := sh.entity
	for _, name := range names[:len(names)-1] {
		col, ok := cur.Column(name)
		if !ok || col.Relation != schema.RelationReference {
			return nil, false
		}
		if cur, ok = schema.Target(l.provider(), col); !ok {
			return nil, false
		}
	}
	col, ok := cur.Column(names[len(names)-1])
	if !ok || col.Relation != schema.RelationCollection {
		return nil, false
	}
	target, ok := schema.Target(l.provider(), col)
	if !ok {
		return nil, false
	}
	return &navigation{owner: m.Target, ownerEnt: cur, col: col, target: target}, true
}

// collectionCall lowers a sequence method on a collection member into a
// correlated sub-select over the collection's rows.
func (l *lowerer) collectionCall(n *expr.Call, nav *navigation, sc *scope) (ir.Node, error) {
	src, rebind, err := l.navigationSource(n, nav)
	if err != nil {
		return nil, err
	}

	var args []expr.Node
	method := n.Method
	if method == "Contains" {
		if len(n.Args) != 1 {
			return nil, failf(n, "Contains takes one argument")
		}
		pk := nav.target.PrimaryKey
		item := n.Args[0]
		args = append(args, rebind(expr.FnNamed("it", func(it *expr.Parameter) expr.Node {
			return expr.Eq(it.Field(pk), item)
		})))
		method = string(expr.OpAny)
	} else {
		for _, a := range n.Args {
			if lam, ok := a.(*expr.Lambda); ok {
				a = rebind(lam)
			}
			args = append(args, a)
		}
	}

	t, err := terminalOf(&expr.Call{Method: method, Args: args}, src)
	if err != nil {
		return nil, err
	}
	if t.Op == expr.OpAll && t.Predicate == nil {
		return nil, failf(n, "All needs a predicate")
	}
	return l.subquery(t, sc)
}

// navigationSource builds the rows of a collection: its target filtered by
// the foreign key back to the owner, or the bridge rows when the collection
// goes through a bridge. rebind moves a lambda over target rows onto the
// source rows.
func (l *lowerer) navigationSource(n expr.Node, nav *navigation) (expr.Node, func(*expr.Lambda) *expr.Lambda, error) {
	ownerKey := expr.Path(nav.owner, nav.ownerEnt.PrimaryKey)
	correlate := expr.FnNamed("r", func(r *expr.Parameter) expr.Node {
		return expr.Eq(r.Field(nav.col.ForeignKey), ownerKey)
	})

	if nav.col.BridgeID == nil {
		src := &expr.Where{Source: &expr.Source{Entity: nav.target.Name}, Predicate: correlate}
		return src, func(lam *expr.Lambda) *expr.Lambda { return lam }, nil
	}

	bridge, ok := l.provider().EntityByID(*nav.col.BridgeID)
	if !ok {
		return nil, nil, failf(n, "bridge of %s.%s not found", nav.ownerEnt.Name, nav.col.Name)
	}
	var ref *schema.ColumnDef
	for i := range bridge.Columns {
		c := &bridge.Columns[i]
		if c.Relation == schema.RelationReference && c.ForeignKey == nav.col.BridgeKey {
			ref = c
			break
		}
	}
	if ref == nil {
		return nil, nil, failf(n, "bridge %s has no reference through %s", bridge.Name, nav.col.BridgeKey)
	}

	src := &expr.Where{Source: &expr.Source{Entity: bridge.Name}, Predicate: correlate}
	rebind := func(lam *expr.Lambda) *expr.Lambda {
		if lam == nil || len(lam.Params) == 0 {
			return lam
		}
		old := lam.Params[0]
		row := &expr.Parameter{Name: old.Name}
		body := expr.Rewrite(lam.Body, func(n expr.Node) expr.Node {
			if p, ok := n.(*expr.Parameter); ok && p == old {
				return expr.Path(row, ref.Name)
			}
			return n
		})
		return &expr.Lambda{Params: []*expr.Parameter{row}, Body: body}
	}
	return src, rebind, nil
}
