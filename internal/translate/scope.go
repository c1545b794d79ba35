package translate

import (
	"strings"

	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
)

// shape describes the rows a lambda parameter is bound to.
//
// Entity rows are read column by column, directly when the alias names the
// table (byName false) or by output name when it names a sub-select. An
// inline projection (fields, value) is read by lowering the projected
// expression again. A grouping exposes its key and its rows.
type shape struct {
	alias  string
	entity *schema.EntityDef
	byName bool

	// joined maps a relation path ("Customer.Country") to the alias of
	// its join.
	joined map[string]string

	fields []field
	value  *field

	// outputs lists the column names a sub-select over these rows exposes.
	outputs []string
	// scalar is the single output column of a value projection.
	scalar string

	group *grouping
}

type field struct {
	name  string
	value expr.Node
	scope *scope
}

type grouping struct {
	key  *expr.Lambda
	rows *shape
	sc   *scope
}

func entityShape(alias string, ent *schema.EntityDef) *shape {
	s := &shape{alias: alias, entity: ent}
	for _, c := range ent.ScalarColumns() {
		s.outputs = append(s.outputs, c.Name)
	}
	return s
}

// subselect describes the same rows read through a sub-select aliased as
// alias.
func (s *shape) subselect(alias string) *shape {
	return &shape{
		alias:   alias,
		entity:  s.entity,
		byName:  true,
		outputs: s.outputs,
		scalar:  s.scalar,
	}
}

// column reads a scalar member of the entity rows.
func (s *shape) column(c *schema.ColumnDef) *ir.Column {
	if s.byName {
		return &ir.Column{Source: s.alias, Name: c.Name}
	}
	return &ir.Column{Source: s.alias, Name: c.StorageColumn()}
}

func (s *shape) isEntity() bool {
	return s.entity != nil && s.fields == nil && s.value == nil && s.group == nil
}

func (s *shape) hasOutput(name string) bool {
	for _, o := range s.outputs {
		if o == name {
			return true
		}
	}
	return false
}

func pathKey(path []string) string { return strings.Join(path, ".") }

// scope binds lambda parameters to row shapes. Lookups fall through to the
// parent, so correlated sub-queries see the parameters of enclosing
// queries.
type scope struct {
	params map[*expr.Parameter]*shape
	parent *scope
}

func (s *scope) bind(p *expr.Parameter, sh *shape) *scope {
	return &scope{params: map[*expr.Parameter]*shape{p: sh}, parent: s}
}

// bindLambda binds the lambda's parameters to shapes in order.
func (s *scope) bindLambda(l *expr.Lambda, shapes ...*shape) *scope {
	out := &scope{params: make(map[*expr.Parameter]*shape, len(l.Params)), parent: s}
	for i, p := range l.Params {
		if i < len(shapes) {
			out.params[p] = shapes[i]
		}
	}
	return out
}

func (s *scope) lookup(p *expr.Parameter) (*shape, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if sh, ok := cur.params[p]; ok {
			return sh, true
		}
	}
	return nil, false
}
