package translate

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
)

var _ expr.Visitor[*scope, ir.Node] = (*lowerer)(nil)

// scalar lowers a value expression under sc.
func (l *lowerer) scalar(n expr.Node, sc *scope) (ir.Node, error) {
	return expr.Accept[*scope, ir.Node](l, n, sc)
}

func (l *lowerer) VisitSource(n *expr.Source, sc *scope) (ir.Node, error)     { return l.subquery(n, sc) }
func (l *lowerer) VisitWhere(n *expr.Where, sc *scope) (ir.Node, error)       { return l.subquery(n, sc) }
func (l *lowerer) VisitSelect(n *expr.Select, sc *scope) (ir.Node, error)     { return l.subquery(n, sc) }
func (l *lowerer) VisitOrderBy(n *expr.OrderBy, sc *scope) (ir.Node, error)   { return l.subquery(n, sc) }
func (l *lowerer) VisitGroupBy(n *expr.GroupBy, sc *scope) (ir.Node, error)   { return l.subquery(n, sc) }
func (l *lowerer) VisitDistinct(n *expr.Distinct, sc *scope) (ir.Node, error) { return l.subquery(n, sc) }
func (l *lowerer) VisitTake(n *expr.Take, sc *scope) (ir.Node, error)         { return l.subquery(n, sc) }
func (l *lowerer) VisitSkip(n *expr.Skip, sc *scope) (ir.Node, error)         { return l.subquery(n, sc) }
func (l *lowerer) VisitTerminal(n *expr.Terminal, sc *scope) (ir.Node, error) { return l.subquery(n, sc) }
func (l *lowerer) VisitSubquery(n *expr.Subquery, sc *scope) (ir.Node, error) {
	return l.subquery(n.Query, sc)
}

func (l *lowerer) VisitInsert(n *expr.Insert, _ *scope) (ir.Node, error) {
	return nil, failf(n, "insert inside an expression")
}

func (l *lowerer) VisitUpdate(n *expr.Update, _ *scope) (ir.Node, error) {
	return nil, failf(n, "update inside an expression")
}

func (l *lowerer) VisitDelete(n *expr.Delete, _ *scope) (ir.Node, error) {
	return nil, failf(n, "delete inside an expression")
}

func (l *lowerer) VisitLambda(n *expr.Lambda, _ *scope) (ir.Node, error) {
	return nil, failf(n, "lambda outside a query operator")
}

func (l *lowerer) VisitConstant(n *expr.Constant, _ *scope) (ir.Node, error) {
	return l.constant(n, "")
}

func (l *lowerer) VisitMember(n *expr.Member, sc *scope) (ir.Node, error) {
	return l.member(n, sc)
}

func (l *lowerer) VisitCall(n *expr.Call, sc *scope) (ir.Node, error) {
	return l.call(n, sc)
}

func (l *lowerer) VisitParameter(n *expr.Parameter, sc *scope) (ir.Node, error) {
	sh, ok := sc.lookup(n)
	if !ok {
		return &ir.Parameter{Name: n.Name}, nil
	}
	switch {
	case sh.value != nil:
		return l.scalar(sh.value.value, sh.value.scope)
	case sh.scalar != "" && sh.byName:
		return &ir.Column{Source: sh.alias, Name: sh.scalar}, nil
	case sh.isEntity():
		return sh.column(sh.entity.PrimaryKeyColumn()), nil
	}
	return nil, failf(n, "%s cannot be used as a value", n.Name)
}

func (l *lowerer) VisitBinary(n *expr.Binary, sc *scope) (ir.Node, error) {
	if n.Op == expr.OpEq || n.Op == expr.OpNe {
		if operand, lit, ok := nilComparison(n); ok {
			l.ctx.rec.inline(lit)
			v, err := l.scalar(operand, sc)
			if err != nil {
				return nil, err
			}
			op := ir.OpIsNull
			if n.Op == expr.OpNe {
				op = ir.OpIsNotNull
			}
			return l.wrap(n, ir.NewUnary(op), v)
		}
	}

	left, err := l.operand(n.Left, l.columnType(n.Right, sc), sc)
	if err != nil {
		return nil, err
	}
	right, err := l.operand(n.Right, l.columnType(n.Left, sc), sc)
	if err != nil {
		return nil, err
	}

	if n.Op == expr.OpCoalesce {
		return l.wrap(n, ir.NewMethodCall("coalesce"), left, right)
	}
	op, ok := binaryOps[n.Op]
	if !ok {
		return nil, failf(n, "unsupported operator %s", n.Op)
	}
	if op == ir.OpAdd && (l.isText(n.Left, sc) || l.isText(n.Right, sc)) {
		op = ir.OpConcat
	}
	return l.wrap(n, ir.NewBinary(op), left, right)
}

var binaryOps = map[expr.BinaryOp]ir.BinaryOp{
	expr.OpEq:  ir.OpEq,
	expr.OpNe:  ir.OpNe,
	expr.OpLt:  ir.OpLt,
	expr.OpLe:  ir.OpLe,
	expr.OpGt:  ir.OpGt,
	expr.OpGe:  ir.OpGe,
	expr.OpAnd: ir.OpAnd,
	expr.OpOr:  ir.OpOr,
	expr.OpAdd: ir.OpAdd,
	expr.OpSub: ir.OpSub,
	expr.OpMul: ir.OpMul,
	expr.OpDiv: ir.OpDiv,
	expr.OpMod: ir.OpMod,
}

// nilComparison matches `v == nil` with the literal on either side.
func nilComparison(n *expr.Binary) (expr.Node, *expr.Constant, bool) {
	if c, ok := n.Right.(*expr.Constant); ok && c.Value == nil {
		return n.Left, c, true
	}
	if c, ok := n.Left.(*expr.Constant); ok && c.Value == nil {
		return n.Right, c, true
	}
	return nil, nil, false
}

func (l *lowerer) VisitUnary(n *expr.Unary, sc *scope) (ir.Node, error) {
	v, err := l.scalar(n.Operand, sc)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case expr.OpNot:
		return l.wrap(n, ir.NewUnary(ir.OpNot), v)
	case expr.OpNegate:
		return l.wrap(n, ir.NewUnary(ir.OpNegate), v)
	}
	return nil, failf(n, "unsupported operator %s", n.Op)
}

func (l *lowerer) VisitConditional(n *expr.Conditional, sc *scope) (ir.Node, error) {
	if cond, lit, ok := expr.NullGuard(n); ok {
		isNil := isNilValue(lit.Value)
		l.ctx.rec.guard(lit, isNil)
		if isNil {
			return l.scalar(cond.Then, sc)
		}
		return l.scalar(cond.Else, sc)
	}
	test, err := l.predicate(n.Test, sc)
	if err != nil {
		return nil, err
	}
	then, err := l.scalar(n.Then, sc)
	if err != nil {
		return nil, err
	}
	els, err := l.scalar(n.Else, sc)
	if err != nil {
		return nil, err
	}
	return l.wrap(n, ir.NewConditional(), test, then, els)
}

func (l *lowerer) VisitNew(n *expr.New, sc *scope) (ir.Node, error) {
	b := ir.NewNew()
	for i, m := range n.Members {
		name := m.Name
		if name == "" {
			name = memberName(m.Value, false)
		}
		if name == "" {
			name = fmt.Sprintf("Item%d", i)
		}
		v, err := l.scalar(m.Value, sc)
		if err != nil {
			return nil, err
		}
		if err := b.Apply(&ir.Rename{Name: name, Expr: v}); err != nil {
			return nil, fail(n, err)
		}
	}
	out, err := b.Close()
	if err != nil {
		return nil, fail(n, err)
	}
	return out, nil
}

// wrap closes a detached builder over already lowered children.
func (l *lowerer) wrap(n expr.Node, b ir.Builder, children ...ir.Node) (ir.Node, error) {
	out, err := build(b, children...)
	if err != nil {
		return nil, fail(n, err)
	}
	return out, nil
}

// operand lowers n, typing a literal after the column it is compared with.
func (l *lowerer) operand(n expr.Node, hint schema.FieldType, sc *scope) (ir.Node, error) {
	if c, ok := n.(*expr.Constant); ok {
		return l.constant(c, hint)
	}
	return l.scalar(n, sc)
}

// constant inlines nil and booleans and binds every other literal as a
// query parameter.
func (l *lowerer) constant(c *expr.Constant, hint schema.FieldType) (ir.Node, error) {
	if q, ok := expr.QueryOf(c.Value); ok {
		return l.subquery(q, nil)
	}
	switch c.Value.(type) {
	case nil, bool:
		l.ctx.rec.inline(c)
		return &ir.Constant{Value: c.Value}, nil
	}
	if isNilValue(c.Value) && reflect.TypeOf(c.Value).Kind() == reflect.Pointer {
		l.ctx.rec.inline(c)
		return &ir.Constant{Value: nil}, nil
	}

	value, deref := c.Value, false
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Pointer {
		value, deref = rv.Elem().Interface(), true
	}
	typ := string(hint)
	switch {
	case isSequence(value) && hint != "":
		typ += "[]"
	case typ == "":
		typ = sqlType(value)
	}
	name := l.ctx.NextQueryParameterName()
	l.ctx.rec.param(name, c, deref)
	return &ir.QueryParameter{
		Name:  name,
		Type:  typ,
		Value: func() any { return value },
	}, nil
}

// sqlType maps a Go value to the Postgres type its parameter is cast to.
func sqlType(v any) string {
	switch v.(type) {
	case string:
		return string(schema.FieldText)
	case int, int8, int16, int32, uint8, uint16:
		return string(schema.FieldInteger)
	case int64, uint, uint32, uint64:
		return string(schema.FieldBigint)
	case float32, float64:
		return string(schema.FieldNumeric)
	case bool:
		return string(schema.FieldBoolean)
	case uuid.UUID:
		return string(schema.FieldUUID)
	case time.Time:
		return string(schema.FieldDatetime)
	case []byte:
		return "bytea"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elem := reflect.Zero(rv.Type().Elem()).Interface()
		return sqlType(elem) + "[]"
	case reflect.Map, reflect.Struct:
		return string(schema.FieldJSON)
	}
	return string(schema.FieldText)
}

func isSequence(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// columnType is the type of the column n reads, if it reads one.
func (l *lowerer) columnType(n expr.Node, sc *scope) schema.FieldType {
	m, ok := n.(*expr.Member)
	if !ok {
		return ""
	}
	if col, ok := l.memberColumn(m, sc); ok {
		return col.Type
	}
	return ""
}

func (l *lowerer) isText(n expr.Node, sc *scope) bool {
	if c, ok := n.(*expr.Constant); ok {
		_, isString := c.Value.(string)
		return isString
	}
	return l.columnType(n, sc) == schema.FieldText
}

// memberColumn resolves a member chain over entity rows to its scalar
// column without lowering it.
func (l *lowerer) memberColumn(m *expr.Member, sc *scope) (*schema.ColumnDef, bool) {
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
	for i, name := range names {
		col, ok := cur.Column(name)
		if !ok {
			return nil, false
		}
		if i == len(names)-1 {
			if col.Relation == schema.RelationReference {
				return cur.Column(col.ForeignKey)
			}
			return col, col.Relation == schema.RelationNone
		}
		if col.Relation != schema.RelationReference {
			return nil, false
		}
		if cur, ok = schema.Target(l.provider(), col); !ok {
			return nil, false
		}
	}
	return nil, false
}

// member lowers a member chain: a column of entity rows, a re-lowered
// projected field or grouping key, or a computed length.
func (l *lowerer) member(n *expr.Member, sc *scope) (ir.Node, error) {
	root, names := memberChain(n)
	p, ok := root.(*expr.Parameter)
	if !ok {
		if n.Name == "Length" {
			v, err := l.scalar(n.Target, sc)
			if err != nil {
				return nil, err
			}
			return l.wrap(n, ir.NewMethodCall("length"), v)
		}
		return nil, failf(n, "member %s of a computed value", n.Name)
	}
	sh, ok := sc.lookup(p)
	if !ok {
		return nil, failf(n, "member of unbound parameter %s", p.Name)
	}

	switch {
	case sh.group != nil:
		return l.groupMember(n, sh.group, names)
	case sh.fields != nil:
		for _, f := range sh.fields {
			if f.name == names[0] {
				return l.scalar(expr.Path(f.value, names[1:]...), f.scope)
			}
		}
		return nil, failf(n, "projection has no member %q", names[0])
	case sh.value != nil:
		return l.scalar(expr.Path(sh.value.value, names...), sh.value.scope)
	case sh.entity == nil:
		if len(names) == 1 && sh.hasOutput(names[0]) {
			return &ir.Column{Source: sh.alias, Name: names[0]}, nil
		}
		return nil, failf(n, "rows of %s have no member %q", sh.alias, pathKey(names))
	}

	cur := sh.entity
	var path []string
	for i, name := range names {
		col, ok := cur.Column(name)
		if !ok {
			return nil, failf(n, "%s has no member %q", cur.Name, name)
		}
		last := i == len(names)-1
		switch col.Relation {
		case schema.RelationReference:
			if last {
				fk, ok := cur.Column(col.ForeignKey)
				if !ok {
					return nil, failf(n, "foreign key %s.%s not found", cur.Name, col.ForeignKey)
				}
				return columnAt(sh, path, fk), nil
			}
			target, ok := schema.Target(l.provider(), col)
			if !ok {
				return nil, failf(n, "target of %s.%s not found", cur.Name, col.Name)
			}
			path = append(path, name)
			if _, joined := sh.joined[pathKey(path)]; !joined {
				return nil, failf(n, "relation %s is not joined", pathKey(path))
			}
			cur = target
		case schema.RelationCollection:
			if i == len(names)-2 && names[i+1] == "Count" {
				return l.call(&expr.Call{Method: "Count", Receiver: n.Target}, sc)
			}
			return nil, failf(n, "collection %s used as a value", name)
		default:
			if last {
				return columnAt(sh, path, col), nil
			}
			if i == len(names)-2 && names[i+1] == "Length" {
				return l.wrap(n, ir.NewMethodCall("length"), columnAt(sh, path, col))
			}
			return nil, failf(n, "member %q of scalar %s", names[i+1], name)
		}
	}
	return nil, failf(n, "empty member chain")
}

func columnAt(sh *shape, path []string, col *schema.ColumnDef) *ir.Column {
	if len(path) == 0 {
		return sh.column(col)
	}
	return &ir.Column{Source: sh.alias, Path: slices.Clone(path), Name: col.StorageColumn()}
}

// groupMember reads g.Key or a member of a composite key by lowering the
// key again over the grouped rows.
func (l *lowerer) groupMember(n expr.Node, g *grouping, names []string) (ir.Node, error) {
	if names[0] != "Key" {
		return nil, failf(n, "a grouping exposes only Key, not %q", names[0])
	}
	keyScope := g.sc.bindLambda(g.key, g.rows)
	if len(names) == 1 {
		return l.scalar(g.key.Body, keyScope)
	}
	if nw, ok := g.key.Body.(*expr.New); ok {
		for _, m := range nw.Members {
			if m.Name == names[1] || (m.Name == "" && memberName(m.Value, false) == names[1]) {
				return l.scalar(expr.Path(m.Value, names[2:]...), keyScope)
			}
		}
		return nil, failf(n, "group key has no member %q", names[1])
	}
	return l.scalar(expr.Path(g.key.Body, names[1:]...), keyScope)
}

// subquery lowers a nested query on a clone of the context and returns its
// root.
func (l *lowerer) subquery(n expr.Node, sc *scope) (ir.Node, error) {
	cl := l.clone()
	var err error
	if t, ok := n.(*expr.Terminal); ok {
		_, err = cl.terminal(t, sc)
	} else if expr.IsQuery(n) {
		_, err = cl.lowerSelect(n, sc)
	} else {
		err = failf(n, "not a query")
	}
	l.ctx.Absorb(cl.ctx)
	if err != nil {
		return nil, err
	}
	root := cl.ctx.Root()
	if root == nil {
		return nil, failf(n, "sub-query produced nothing")
	}
	return root, nil
}
