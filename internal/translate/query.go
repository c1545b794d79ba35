package translate

import (
	"fmt"
	"strings"

	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
)

// selectParts is a query split into the clauses of one SELECT level.
// Operators that do not fit the level stay in rows and are lowered as a
// nested sub-select.
type selectParts struct {
	take, skip expr.Node
	// orders lists the sort operators outermost first.
	orders []*expr.OrderBy
	// ordersAbove is set when the orders sort the projected rows.
	ordersAbove bool
	distinct    bool
	selector    *expr.Lambda
	group       *expr.GroupBy
	rows        expr.Node
}

// level is what one SELECT level exposes to the lambdas lowered in it.
type level struct {
	rows  *shape
	group *shape
	out   *shape
}

func peelOrders(n expr.Node) ([]*expr.OrderBy, expr.Node) {
	var out []*expr.OrderBy
	for {
		o, ok := n.(*expr.OrderBy)
		if !ok {
			return out, n
		}
		out = append(out, o)
		n = o.Source
		if !o.Then {
			return out, n
		}
	}
}

func isIdentity(l *expr.Lambda) bool {
	if l == nil || len(l.Params) != 1 {
		return false
	}
	p, ok := l.Body.(*expr.Parameter)
	return ok && p == l.Params[0]
}

func parseSelect(n expr.Node) selectParts {
	var p selectParts
	if t, ok := n.(*expr.Take); ok {
		p.take, n = t.Count, t.Source
	}
	if s, ok := n.(*expr.Skip); ok {
		p.skip, n = s.Count, s.Source
	}
	p.orders, n = peelOrders(n)
	if d, ok := n.(*expr.Distinct); ok {
		p.distinct, n = true, d.Source
	}
	if s, ok := n.(*expr.Select); ok {
		n = s.Source
		if !isIdentity(s.Selector) {
			p.selector = s.Selector
			p.ordersAbove = len(p.orders) > 0
		}
		if len(p.orders) == 0 {
			p.orders, n = peelOrders(n)
		}
	}
	if g, ok := n.(*expr.GroupBy); ok {
		p.group, n = g, g.Source
	}
	p.rows = n
	return p
}

// orderShape is the shape sort keys are bound to.
func (p selectParts) orderShape(lv level) *shape {
	switch {
	case p.ordersAbove:
		return lv.out
	case lv.group != nil:
		return lv.group
	default:
		return lv.rows
	}
}

// rowLambdas lists the lambdas whose parameter is bound to the rows of
// this level, directly or through a grouping. Relation paths they cross
// are joined into the rows.
func (p selectParts) rowLambdas() []*expr.Lambda {
	var out []*expr.Lambda
	if p.group == nil {
		if p.selector != nil {
			out = append(out, p.selector)
		}
		if !p.ordersAbove {
			for _, o := range p.orders {
				out = append(out, o.Key)
			}
		}
		return out
	}
	out = append(out, p.group.Key)
	var grouped []*expr.Lambda
	if p.selector != nil {
		grouped = append(grouped, p.selector)
	}
	if !p.ordersAbove {
		for _, o := range p.orders {
			grouped = append(grouped, o.Key)
		}
	}
	return append(out, aggregateLambdas(grouped)...)
}

// aggregateLambdas finds g.Count(pred), g.Sum(sel) and the like inside
// lambdas over a grouping and returns their row lambdas.
func aggregateLambdas(grouped []*expr.Lambda) []*expr.Lambda {
	var out []*expr.Lambda
	for _, l := range grouped {
		if len(l.Params) == 0 {
			continue
		}
		g := l.Params[0]
		expr.Walk(l.Body, func(n expr.Node) bool {
			call, ok := n.(*expr.Call)
			if !ok || call.Receiver != g {
				return true
			}
			for _, a := range call.Args {
				if al, ok := a.(*expr.Lambda); ok {
					out = append(out, al)
				}
			}
			return true
		})
	}
	return out
}

// lowerSelect lowers a query into the open scope and returns the shape of
// its output rows.
func (l *lowerer) lowerSelect(n expr.Node, sc *scope) (*shape, error) {
	if t, ok := n.(*expr.Terminal); ok {
		return nil, failf(t, "%s cannot be used as a row source", t.Op)
	}
	p := parseSelect(n)
	lv, err := l.emitLimit(p, sc)
	if err != nil {
		return nil, err
	}
	return lv.out, nil
}

func (l *lowerer) emitLimit(p selectParts, sc *scope) (level, error) {
	if p.take == nil && p.skip == nil {
		return l.emitOrders(p, p.orders, sc)
	}
	var lv level
	b := ir.NewRowsFetchLimit(p.take != nil, p.skip != nil)
	err := l.ctx.WithinScope(b, func() error {
		var err error
		if lv, err = l.emitOrders(p, p.orders, sc); err != nil {
			return err
		}
		for _, count := range []expr.Node{p.take, p.skip} {
			if count == nil {
				continue
			}
			v, err := l.scalar(count, sc)
			if err != nil {
				return err
			}
			if err := l.ctx.Emit(v); err != nil {
				return err
			}
		}
		return nil
	})
	return lv, err
}

// emitOrders opens one OrderBy per primary key; secondary keys merge into
// the ordering they extend, innermost key first.
func (l *lowerer) emitOrders(p selectParts, orders []*expr.OrderBy, sc *scope) (level, error) {
	if len(orders) == 0 {
		return l.emitProjection(p, sc)
	}
	o := orders[0]
	var lv level
	err := l.ctx.WithoutScopeDuplication(ir.KindOrderBy,
		func() ir.Builder { return ir.NewOrderBy(o.Then) },
		func(b ir.Builder) error {
			ob := b.(*ir.OrderByBuilder)
			if !o.Then {
				ob.Then = false
			}
			var err error
			if lv, err = l.emitOrders(p, orders[1:], sc); err != nil {
				return err
			}
			key, err := l.scalar(o.Key.Body, sc.bindLambda(o.Key, p.orderShape(lv)))
			if err != nil {
				return err
			}
			ob.Direction(o.Desc)
			return ob.Apply(key)
		})
	return lv, err
}

func (l *lowerer) emitProjection(p selectParts, sc *scope) (level, error) {
	var lv level
	pb := ir.NewProjection()
	pb.Distinct = p.distinct
	err := l.ctx.WithinScope(pb, func() error {
		var err error
		also := p.rowLambdas()
		if p.group != nil {
			lv.rows, lv.group, err = l.emitGroup(p.group, p.selector == nil, sc, also)
		} else {
			lv.rows, err = l.lowerRows(p.rows, sc, also)
		}
		if err != nil {
			return err
		}
		lv.out, err = l.project(pb, p, lv, sc)
		return err
	})
	return lv, err
}

func (l *lowerer) project(pb *ir.ProjectionBuilder, p selectParts, lv level, sc *scope) (*shape, error) {
	if p.selector == nil {
		if lv.group != nil {
			return l.projectKeys(lv.group.group)
		}
		return l.projectRows(lv.rows)
	}

	bound := lv.rows
	if lv.group != nil {
		bound = lv.group
	}
	inner := sc.bindLambda(p.selector, bound)

	nw, ok := p.selector.Body.(*expr.New)
	if !ok {
		name := memberName(p.selector.Body, false)
		if name == "" {
			name = "Value"
		}
		if err := l.emitRename(name, p.selector.Body, inner); err != nil {
			return nil, err
		}
		return &shape{
			value:   &field{name: name, value: p.selector.Body, scope: inner},
			scalar:  name,
			outputs: []string{name},
		}, nil
	}

	pb.ToClass = nw.Type != ""
	pb.ToAnonymous = nw.Type == ""
	out := &shape{}
	for i, m := range nw.Members {
		if _, nested := m.Value.(*expr.New); nested {
			return nil, failf(m.Value, "nested object in a projection")
		}
		name := m.Name
		if name == "" {
			name = memberName(m.Value, pb.ToClass)
		}
		if name == "" {
			name = fmt.Sprintf("Column%d", i)
		}
		if err := l.emitRename(name, m.Value, inner); err != nil {
			return nil, err
		}
		out.fields = append(out.fields, field{name: name, value: m.Value, scope: inner})
		out.outputs = append(out.outputs, name)
	}
	return out, nil
}

func (l *lowerer) emitRename(name string, value expr.Node, sc *scope) error {
	v, err := l.scalar(value, sc)
	if err != nil {
		return err
	}
	r, err := build(ir.NewRename(name), v)
	if err != nil {
		return fail(value, err)
	}
	return l.ctx.Emit(r)
}

// memberName derives an output name from a member chain.
func memberName(n expr.Node, underscore bool) string {
	m, ok := n.(*expr.Member)
	if !ok {
		return ""
	}
	_, names := memberChain(m)
	if underscore {
		return strings.Join(names, "_")
	}
	return names[len(names)-1]
}

// projectRows selects every output of rows under its own name.
func (l *lowerer) projectRows(rows *shape) (*shape, error) {
	switch {
	case rows.isEntity() && !rows.byName:
		for _, c := range rows.entity.ScalarColumns() {
			if err := l.ctx.Emit(&ir.Rename{Name: c.Name, Expr: rows.column(c)}); err != nil {
				return nil, err
			}
		}
	case len(rows.outputs) > 0:
		for _, o := range rows.outputs {
			if err := l.ctx.Emit(&ir.Rename{Name: o, Expr: &ir.Column{Source: rows.alias, Name: o}}); err != nil {
				return nil, err
			}
		}
	default:
		return nil, failf(nil, "rows of %s expose no columns", rows.alias)
	}
	return rows, nil
}

// projectKeys selects the grouping key, one column per member of a
// composite key.
func (l *lowerer) projectKeys(g *grouping) (*shape, error) {
	keyScope := g.sc.bindLambda(g.key, g.rows)
	out := &shape{}
	nw, ok := g.key.Body.(*expr.New)
	if !ok {
		if err := l.emitRename("Key", g.key.Body, keyScope); err != nil {
			return nil, err
		}
		out.value = &field{name: "Key", value: g.key.Body, scope: keyScope}
		out.scalar = "Key"
		out.outputs = []string{"Key"}
		return out, nil
	}
	for i, m := range nw.Members {
		name := m.Name
		if name == "" {
			name = memberName(m.Value, false)
		}
		if name == "" {
			name = fmt.Sprintf("Key%d", i)
		}
		if err := l.emitRename(name, m.Value, keyScope); err != nil {
			return nil, err
		}
		out.fields = append(out.fields, field{name: name, value: m.Value, scope: keyScope})
		out.outputs = append(out.outputs, name)
	}
	return out, nil
}

// emitGroup lowers the grouped rows and the key. When whole groups are
// read, the GroupBy carries a producer for the per-group values query.
func (l *lowerer) emitGroup(g *expr.GroupBy, whole bool, sc *scope, also []*expr.Lambda) (*shape, *shape, error) {
	var values ir.ValuesProducer
	if whole {
		values = l.valuesProducer(g)
	}
	var rows *shape
	gb := ir.NewGroupBy(values)
	err := l.ctx.WithinScope(gb, func() error {
		var err error
		if rows, err = l.lowerRows(g.Source, sc, also); err != nil {
			return err
		}
		key, err := l.scalar(g.Key.Body, sc.bindLambda(g.Key, rows))
		if err != nil {
			return err
		}
		return l.ctx.Emit(key)
	})
	if err != nil {
		return nil, nil, err
	}
	return rows, &shape{group: &grouping{key: g.Key, rows: rows, sc: sc}}, nil
}

// valuesProducer translates the rows of one group: the grouped source
// filtered by key equality.
func (l *lowerer) valuesProducer(g *expr.GroupBy) ir.ValuesProducer {
	tr := l.tr
	return func(keys []any) (ir.Node, error) {
		pred, err := keyPredicate(g.Key, keys)
		if err != nil {
			return nil, err
		}
		res, err := tr.Translate(&expr.Where{Source: g.Source, Predicate: pred})
		if err != nil {
			return nil, err
		}
		return res.Root, nil
	}
}

func keyPredicate(key *expr.Lambda, keys []any) (*expr.Lambda, error) {
	var conds []expr.Node
	if nw, ok := key.Body.(*expr.New); ok {
		if len(keys) != len(nw.Members) {
			return nil, fmt.Errorf("group key has %d members, got %d values", len(nw.Members), len(keys))
		}
		for i, m := range nw.Members {
			conds = append(conds, expr.Eq(m.Value, expr.Const(keys[i])))
		}
	} else {
		if len(keys) != 1 {
			return nil, fmt.Errorf("group key has 1 member, got %d values", len(keys))
		}
		conds = append(conds, expr.Eq(key.Body, expr.Const(keys[0])))
	}
	return &expr.Lambda{Params: key.Params, Body: expr.AndAll(conds...)}, nil
}

// build fills a detached builder and closes it.
func build(b ir.Builder, children ...ir.Node) (ir.Node, error) {
	for _, c := range children {
		if err := b.Apply(c); err != nil {
			return nil, fmt.Errorf("apply %s into %s: %w", c.Kind(), b.Kind(), err)
		}
	}
	n, err := b.Close()
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", b.Kind(), err)
	}
	return n, nil
}
