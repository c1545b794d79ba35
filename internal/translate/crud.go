package translate

import (
	"slices"
	"sort"

	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
)

// insert writes the record graph in dependency order: one Insert per run
// of rows of the same entity, inside a Batch when there is more than one.
func (l *lowerer) insert(n *expr.Insert) error {
	if len(n.Records) == 0 {
		return failf(n, "insert without records")
	}
	rows, err := orderRows(l.provider(), n.Records)
	if err != nil {
		return fail(n, err)
	}
	for _, r := range rows {
		l.ctx.rec.rowKinds = append(l.ctx.rec.rowKinds, r.Entity.Name)
	}

	var runs [][]int
	for i, r := range rows {
		if i > 0 && rows[i-1].Entity == r.Entity {
			runs[len(runs)-1] = append(runs[len(runs)-1], i)
			continue
		}
		runs = append(runs, []int{i})
	}

	emit := func() error {
		for _, run := range runs {
			if err := l.insertRun(n, rows, run); err != nil {
				return err
			}
		}
		return nil
	}
	if len(runs) == 1 {
		return emit()
	}
	return l.ctx.WithinScope(ir.NewBatch(), emit)
}

func (l *lowerer) insertRun(n *expr.Insert, rows []*schema.Row, run []int) error {
	ent := rows[run[0]].Entity
	cols := ent.ScalarColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.StorageColumn()
	}
	return l.ctx.WithinScope(ir.NewInsert(ent, names), func() error {
		for _, i := range run {
			row := rows[i]
			err := l.ctx.WithinScope(ir.NewValues(), func() error {
				for _, c := range cols {
					value := row.Values[c.Name]
					typ := string(c.Type)
					if typ == "" {
						typ = sqlType(value)
					}
					name := l.ctx.NextQueryParameterName()
					l.ctx.rec.insert(name, i, c.Name)
					if err := l.ctx.Emit(&ir.QueryParameter{
						Name:   name,
						Type:   typ,
						Value:  func() any { return value },
						IsJSON: c.InlineJSON,
					}); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return fail(n, err)
			}
		}
		return nil
	})
}

// orderRows flattens the records and sorts the rows so every row follows
// the rows it references. Among ready rows the earliest discovered wins,
// except that a row of the entity just emitted is preferred so runs of one
// entity stay together.
func orderRows(p schema.Provider, records []*schema.Record) ([]*schema.Row, error) {
	rows, err := schema.Flatten(p, records)
	if err != nil {
		return nil, err
	}
	index := make(map[*schema.Row]int, len(rows))
	for i, r := range rows {
		index[r] = i
	}
	indeg := make([]int, len(rows))
	dependents := make([][]int, len(rows))
	for i, r := range rows {
		indeg[i] = len(r.Deps)
		for _, d := range r.Deps {
			dependents[index[d]] = append(dependents[index[d]], i)
		}
	}

	var ready []int
	for i := range rows {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]*schema.Row, 0, len(rows))
	done := make([]bool, len(rows))
	var last *schema.EntityDef
	for len(ready) > 0 {
		pick := 0
		for k, i := range ready {
			if rows[i].Entity == last {
				pick = k
				break
			}
		}
		i := ready[pick]
		ready = slices.Delete(ready, pick, pick+1)
		out = append(out, rows[i])
		done[i] = true
		last = rows[i].Entity
		for _, d := range dependents[i] {
			indeg[d]--
			if indeg[d] == 0 {
				at, _ := slices.BinarySearch(ready, d)
				ready = slices.Insert(ready, at, d)
			}
		}
	}
	if len(out) == len(rows) {
		return out, nil
	}
	return nil, cycleError(rows, index, done)
}

// cycleError names the entities left unordered and one cycle among them,
// found as a strongly connected component of the remaining rows.
func cycleError(rows []*schema.Row, index map[*schema.Row]int, done []bool) error {
	var remaining []string
	for i, r := range rows {
		if !done[i] {
			remaining = append(remaining, r.Entity.Name)
		}
	}
	sort.Strings(remaining)

	t := &tarjan{rows: rows, index: index, done: done, order: make([]int, len(rows)), low: make([]int, len(rows))}
	for i := range rows {
		if !done[i] && t.order[i] == 0 {
			t.visit(i)
		}
		if t.cycle != nil {
			break
		}
	}
	var cycle []string
	for _, i := range t.cycle {
		cycle = append(cycle, rows[i].Entity.Name)
	}
	sort.Strings(cycle)
	return &DependencyCycleError{Entities: slices.Compact(remaining), Cycle: slices.Compact(cycle)}
}

type tarjan struct {
	rows    []*schema.Row
	index   map[*schema.Row]int
	done    []bool
	order   []int // 1-based discovery order, 0 when unvisited
	low     []int
	next    int
	stack   []int
	onStack map[int]bool
	cycle   []int
}

func (t *tarjan) visit(v int) {
	if t.onStack == nil {
		t.onStack = make(map[int]bool)
	}
	t.next++
	t.order[v], t.low[v] = t.next, t.next
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	selfLoop := false
	for _, d := range t.rows[v].Deps {
		w := t.index[d]
		if t.done[w] {
			continue
		}
		if w == v {
			selfLoop = true
		}
		switch {
		case t.order[w] == 0:
			t.visit(w)
			t.low[v] = min(t.low[v], t.low[w])
		case t.onStack[w]:
			t.low[v] = min(t.low[v], t.order[w])
		}
	}

	if t.low[v] != t.order[v] {
		return
	}
	var scc []int
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		scc = append(scc, w)
		if w == v {
			break
		}
	}
	if t.cycle == nil && (len(scc) > 1 || selfLoop) {
		t.cycle = scc
	}
}

// update lowers UPDATE target SET ... WHERE ...; the target takes the
// first alias.
func (l *lowerer) update(n *expr.Update) error {
	ent, preds, err := l.writeTarget(n, n.Source, n.Predicate)
	if err != nil {
		return err
	}
	alias := l.ctx.NextAliasName()
	sh := entityShape(alias, ent)
	var root *scope
	return l.ctx.WithinScope(ir.NewUpdate(len(preds) > 0), func() error {
		if err := l.ctx.Emit(writeSource(alias, ent)); err != nil {
			return err
		}
		if len(preds) > 0 {
			where, err := l.writeWhere(ent, sh, preds)
			if err != nil {
				return err
			}
			if err := l.ctx.Emit(where); err != nil {
				return err
			}
		}
		for _, a := range n.Set {
			col, ok := ent.Column(a.Member)
			if !ok || col.IsRelation() {
				return failf(n, "%s has no scalar member %q", ent.Name, a.Member)
			}
			if a.Value == nil {
				return failf(n, "assignment to %s has no value", a.Member)
			}
			if len(relationPaths(l.provider(), ent, []*expr.Lambda{a.Value})) > 0 {
				return failf(a.Value, "assignment to %s reads related entities", a.Member)
			}
			v, err := l.operand(a.Value.Body, col.Type, root.bindLambda(a.Value, sh))
			if err != nil {
				return err
			}
			if err := l.ctx.Emit(&ir.Rename{Name: col.StorageColumn(), Expr: v}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *lowerer) delete(n *expr.Delete) error {
	ent, preds, err := l.writeTarget(n, n.Source, n.Predicate)
	if err != nil {
		return err
	}
	alias := l.ctx.NextAliasName()
	sh := entityShape(alias, ent)
	return l.ctx.WithinScope(ir.NewDelete(len(preds) > 0), func() error {
		if err := l.ctx.Emit(writeSource(alias, ent)); err != nil {
			return err
		}
		if len(preds) == 0 {
			return nil
		}
		where, err := l.writeWhere(ent, sh, preds)
		if err != nil {
			return err
		}
		return l.ctx.Emit(where)
	})
}

func writeSource(alias string, ent *schema.EntityDef) *ir.NamedSource {
	return &ir.NamedSource{Alias: alias, Binding: ent.Name, Source: &ir.QuerySource{Entity: ent}}
}

// writeTarget splits the source of a write into its entity and every
// predicate filtering it.
func (l *lowerer) writeTarget(n, src expr.Node, pred *expr.Lambda) (*schema.EntityDef, []*expr.Lambda, error) {
	var preds []*expr.Lambda
	if pred != nil {
		preds = append(preds, pred)
	}
	for {
		w, ok := src.(*expr.Where)
		if !ok {
			break
		}
		preds = append(preds, w.Predicate)
		src = w.Source
	}
	s, ok := src.(*expr.Source)
	if !ok {
		return nil, nil, failf(n, "writes need an entity source")
	}
	ent, err := l.entity(n, s.Entity)
	if err != nil {
		return nil, nil, err
	}
	slices.Reverse(preds)
	return ent, preds, nil
}

// writeWhere lowers the predicates of a write against the target alias.
// Predicates that cross relations select the matching keys in a sub-select
// instead, since the target cannot be joined.
func (l *lowerer) writeWhere(ent *schema.EntityDef, sh *shape, preds []*expr.Lambda) (ir.Node, error) {
	var root *scope
	if len(relationPaths(l.provider(), ent, preds)) == 0 {
		var where ir.Node
		for _, p := range preds {
			c, err := l.predicate(p.Body, root.bindLambda(p, sh))
			if err != nil {
				return nil, err
			}
			if where == nil {
				where = c
				continue
			}
			where = &ir.Binary{Op: ir.OpAnd, Left: where, Right: c}
		}
		return where, nil
	}

	var q expr.Node = &expr.Source{Entity: ent.Name}
	for _, p := range preds {
		q = &expr.Where{Source: q, Predicate: p}
	}
	pk := ent.PrimaryKey
	q = &expr.Select{Source: q, Selector: expr.FnNamed("k", func(k *expr.Parameter) expr.Node { return k.Field(pk) })}
	sub, err := l.subquery(q, root)
	if err != nil {
		return nil, err
	}
	return &ir.Binary{Op: ir.OpIn, Left: sh.column(ent.PrimaryKeyColumn()), Right: sub}, nil
}
