package translate

import (
	"slices"
	"sort"

	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
)

// lowerRows lowers the FROM and WHERE part of a level: the base rows, one
// join per relation path the level's lambdas cross, and the filters.
func (l *lowerer) lowerRows(n expr.Node, sc *scope, also []*expr.Lambda) (*shape, error) {
	var wheres []*expr.Where
	base := n
	for {
		w, ok := base.(*expr.Where)
		if !ok {
			break
		}
		wheres = append(wheres, w)
		base = w.Source
	}

	lambdas := slices.Clone(also)
	for _, w := range wheres {
		lambdas = append(lambdas, w.Predicate)
	}
	var joins []join
	if ent := l.rowEntity(base); ent != nil {
		var err error
		if joins, err = l.planJoins(n, ent, relationPaths(l.provider(), ent, lambdas)); err != nil {
			return nil, err
		}
	}

	if len(wheres) == 0 {
		return l.emitBase(base, joins, sc)
	}
	return l.filterChain(wheres, base, joins, sc)
}

// filterChain folds a chain of Where operators into one Filter; the
// innermost predicate comes first.
func (l *lowerer) filterChain(wheres []*expr.Where, base expr.Node, joins []join, sc *scope) (*shape, error) {
	w := wheres[0]
	var rows *shape
	err := l.ctx.WithoutScopeDuplication(ir.KindFilter,
		func() ir.Builder { return ir.NewFilter() },
		func(b ir.Builder) error {
			var err error
			if len(wheres) > 1 {
				rows, err = l.filterChain(wheres[1:], base, joins, sc)
			} else {
				rows, err = l.emitBase(base, joins, sc)
			}
			if err != nil {
				return err
			}
			pred, err := l.predicate(w.Predicate.Body, sc.bindLambda(w.Predicate, rows))
			if err != nil {
				return err
			}
			return b.Apply(pred)
		})
	return rows, err
}

// predicate lowers a boolean lambda body; a bare boolean column is compared
// with true.
func (l *lowerer) predicate(n expr.Node, sc *scope) (ir.Node, error) {
	v, err := l.scalar(n, sc)
	if err != nil {
		return nil, err
	}
	if ir.IsPredicate(v) {
		return v, nil
	}
	if c, ok := v.(*ir.Constant); ok {
		if _, isBool := c.Value.(bool); isBool {
			return v, nil
		}
	}
	return &ir.Binary{Op: ir.OpEq, Left: v, Right: &ir.Constant{Value: true}}, nil
}

// rowEntity is the entity whose rows n yields, if n keeps entity rows.
func (l *lowerer) rowEntity(n expr.Node) *schema.EntityDef {
	switch n := n.(type) {
	case *expr.Source:
		ent, _ := l.provider().Entity(n.Entity)
		return ent
	case *expr.Where:
		return l.rowEntity(n.Source)
	case *expr.OrderBy:
		return l.rowEntity(n.Source)
	case *expr.Take:
		return l.rowEntity(n.Source)
	case *expr.Skip:
		return l.rowEntity(n.Source)
	case *expr.Distinct:
		return l.rowEntity(n.Source)
	case *expr.Select:
		if isIdentity(n.Selector) {
			return l.rowEntity(n.Source)
		}
	}
	return nil
}

func (l *lowerer) emitBase(base expr.Node, joins []join, sc *scope) (*shape, error) {
	var root *shape
	emitRoot := func() error {
		if src, ok := base.(*expr.Source); ok {
			ent, err := l.entity(src, src.Entity)
			if err != nil {
				return err
			}
			alias := l.ctx.NextAliasName()
			root = entityShape(alias, ent)
			return l.ctx.Emit(&ir.NamedSource{Alias: alias, Binding: ent.Name, Source: &ir.QuerySource{Entity: ent}})
		}
		if !expr.IsQuery(base) {
			return failf(base, "not a row source")
		}
		var err error
		root, err = l.subSource(base, sc)
		return err
	}
	if err := l.emitJoins(joins, len(joins)-1, emitRoot, func() *shape { return root }); err != nil {
		return nil, err
	}
	return root, nil
}

// join is one relation path to join into a level.
type join struct {
	path   []string
	owner  *schema.EntityDef
	col    *schema.ColumnDef
	target *schema.EntityDef
	left   bool
}

// planJoins orders paths shallowest first. A join is LEFT when its
// reference is nullable or it hangs off a LEFT join.
func (l *lowerer) planJoins(n expr.Node, ent *schema.EntityDef, paths [][]string) ([]join, error) {
	sort.SliceStable(paths, func(i, j int) bool { return len(paths[i]) < len(paths[j]) })
	byKey := make(map[string]join, len(paths))
	out := make([]join, 0, len(paths))
	for _, path := range paths {
		owner, left := ent, false
		if len(path) > 1 {
			parent, ok := byKey[pathKey(path[:len(path)-1])]
			if !ok {
				return nil, failf(n, "relation %s is not reachable", pathKey(path))
			}
			owner, left = parent.target, parent.left
		}
		col, ok := owner.Column(path[len(path)-1])
		if !ok || col.Relation != schema.RelationReference {
			return nil, failf(n, "%s.%s is not a reference", owner.Name, path[len(path)-1])
		}
		target, ok := schema.Target(l.provider(), col)
		if !ok {
			return nil, failf(n, "target of %s.%s not found", owner.Name, col.Name)
		}
		j := join{path: path, owner: owner, col: col, target: target, left: left || col.Nullable}
		byKey[pathKey(path)] = j
		out = append(out, j)
	}
	return out, nil
}

// emitJoins nests joins so the deepest path is the outermost join and the
// root rows sit innermost. Aliases are issued on the way out, so the root
// gets the first alias and joins follow shallowest first.
func (l *lowerer) emitJoins(joins []join, k int, emitRoot func() error, root func() *shape) error {
	if k < 0 {
		return emitRoot()
	}
	j := joins[k]
	kind := ir.JoinInner
	if j.left {
		kind = ir.JoinLeft
	}
	return l.ctx.WithinScope(ir.NewJoin(kind), func() error {
		if err := l.emitJoins(joins, k-1, emitRoot, root); err != nil {
			return err
		}
		r := root()
		alias := l.ctx.NextAliasName()
		key := pathKey(j.path)
		if err := l.ctx.Emit(&ir.NamedSource{
			Alias:   alias,
			Binding: r.alias + "." + key,
			Source:  &ir.QuerySource{Entity: j.target},
		}); err != nil {
			return err
		}
		if r.joined == nil {
			r.joined = make(map[string]string)
		}
		r.joined[key] = alias

		fk, ok := j.owner.Column(j.col.ForeignKey)
		if !ok {
			return failf(nil, "foreign key %s.%s not found", j.owner.Name, j.col.ForeignKey)
		}
		var owner ir.Node
		if len(j.path) == 1 {
			owner = r.column(fk)
		} else {
			owner = &ir.Column{Source: r.joined[pathKey(j.path[:len(j.path)-1])], Name: fk.StorageColumn()}
		}
		return l.ctx.Emit(&ir.Binary{
			Op:    ir.OpEq,
			Left:  &ir.Column{Source: alias, Name: j.target.PrimaryKeyColumn().StorageColumn()},
			Right: owner,
		})
	})
}

// relationPaths lists the reference paths crossed by member chains rooted
// at the lambdas' first parameters, every prefix included, in order of
// first appearance.
func relationPaths(p schema.Provider, ent *schema.EntityDef, lambdas []*expr.Lambda) [][]string {
	params := make(map[*expr.Parameter]bool)
	var bodies []expr.Node
	for _, l := range lambdas {
		if l == nil || len(l.Params) == 0 {
			continue
		}
		params[l.Params[0]] = true
		bodies = append(bodies, l.Body)
	}

	seen := make(map[string]bool)
	var out [][]string
	for _, body := range bodies {
		expr.Walk(body, func(n expr.Node) bool {
			m, ok := n.(*expr.Member)
			if !ok {
				return true
			}
			root, names := memberChain(m)
			param, ok := root.(*expr.Parameter)
			if !ok || !params[param] {
				return true
			}
			cur := ent
			for i := 0; i < len(names)-1; i++ {
				col, ok := cur.Column(names[i])
				if !ok || col.Relation != schema.RelationReference {
					break
				}
				target, ok := schema.Target(p, col)
				if !ok {
					break
				}
				if key := pathKey(names[:i+1]); !seen[key] {
					seen[key] = true
					out = append(out, slices.Clone(names[:i+1]))
				}
				cur = target
			}
			return false
		})
	}
	return out
}

// memberChain splits a.B.C into its root a and the names [B C].
func memberChain(m *expr.Member) (expr.Node, []string) {
	var names []string
	var n expr.Node = m
	for {
		mm, ok := n.(*expr.Member)
		if !ok {
			break
		}
		names = append(names, mm.Name)
		n = mm.Target
	}
	slices.Reverse(names)
	return n, names
}
