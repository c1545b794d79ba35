// Package render turns IR trees into parameterized PostgreSQL text.
//
// Every SELECT is written clause per line; sub-selects are parenthesized
// and indented two spaces per nesting level. Parameters render as @name so
// the text runs unchanged through pgx named arguments.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
)

type renderer struct {
	b       strings.Builder
	depth   int
	fold    cases.Caser
	aliases map[string]string
	subs    int
}

var _ ir.Visitor[struct{}] = (*renderer)(nil)

func newRenderer() *renderer {
	return &renderer{fold: cases.Fold(), aliases: make(map[string]string)}
}

// renderSelect renders a relational root as one SELECT statement.
func renderSelect(root ir.Node) (string, error) {
	if !ir.IsRelational(root) {
		return "", fmt.Errorf("render: %s is not a query", root.Kind())
	}
	r := newRenderer()
	if err := r.selectStmt(root); err != nil {
		return "", err
	}
	return r.b.String(), nil
}

// renderExpr renders a scalar expression at the top level.
func (r *renderer) renderExpr(n ir.Node) (string, error) {
	start := r.b.Len()
	if err := r.expr(n); err != nil {
		return "", err
	}
	out := r.b.String()[start:]
	return out, nil
}

func (r *renderer) write(s ...string) {
	for _, p := range s {
		r.b.WriteString(p)
	}
}

func (r *renderer) newline() {
	r.b.WriteByte('\n')
	r.b.WriteString(strings.Repeat("  ", r.depth))
}

func (r *renderer) expr(n ir.Node) error {
	_, err := ir.Visit[struct{}](r, n)
	return err
}

// declare registers an alias; aliases are unique per statement regardless
// of case.
func (r *renderer) declare(alias string) error {
	key := r.fold.String(alias)
	if prev, ok := r.aliases[key]; ok {
		return fmt.Errorf("render: alias %q collides with %q", alias, prev)
	}
	r.aliases[key] = alias
	return nil
}

func (r *renderer) freshAlias() string {
	for {
		r.subs++
		alias := "_s" + strconv.Itoa(r.subs)
		if _, taken := r.aliases[r.fold.String(alias)]; !taken {
			return alias
		}
	}
}

// level is one SELECT: the relational nodes that fold into its clauses.
type level struct {
	limit *ir.RowsFetchLimit
	order *ir.OrderBy
	proj  *ir.Projection
	group *ir.GroupBy
	where ir.Node
	from  ir.Node
}

func peel(n ir.Node) level {
	var lv level
	if l, ok := n.(*ir.RowsFetchLimit); ok {
		lv.limit, n = l, l.Source
	}
	if o, ok := n.(*ir.OrderBy); ok {
		lv.order, n = o, o.Source
	}
	if p, ok := n.(*ir.Projection); ok {
		lv.proj, n = p, p.Source
	}
	if g, ok := n.(*ir.GroupBy); ok {
		lv.group, n = g, g.Source
	}
	if f, ok := n.(*ir.Filter); ok {
		lv.where, n = f.Predicate, f.Source
	}
	lv.from = n
	return lv
}

func (r *renderer) selectStmt(n ir.Node) error {
	lv := peel(n)

	r.write("SELECT ")
	if lv.proj != nil && lv.proj.Distinct {
		r.write("DISTINCT ")
	}
	if lv.proj == nil {
		r.write("*")
	} else if err := r.bindings(lv.proj.Bindings); err != nil {
		return err
	}

	r.newline()
	r.write("FROM ")
	if err := r.from(lv.from); err != nil {
		return err
	}

	if lv.where != nil {
		r.newline()
		r.write("WHERE ")
		if err := r.expr(lv.where); err != nil {
			return err
		}
	}
	if lv.group != nil {
		r.newline()
		r.write("GROUP BY ")
		if err := r.groupKeys(lv.group.Keys); err != nil {
			return err
		}
	}
	if lv.order != nil {
		r.newline()
		r.write("ORDER BY ")
		for i, k := range lv.order.Keys {
			if i > 0 {
				r.write(", ")
			}
			if err := r.expr(k); err != nil {
				return err
			}
			if i < len(lv.order.Desc) && lv.order.Desc[i] {
				r.write(" DESC")
			}
		}
	}
	if lv.limit != nil {
		if lv.limit.Limit != nil {
			r.newline()
			r.write("LIMIT ")
			if err := r.expr(lv.limit.Limit); err != nil {
				return err
			}
		}
		if lv.limit.Offset != nil {
			r.newline()
			r.write("OFFSET ")
			if err := r.expr(lv.limit.Offset); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *renderer) bindings(bs []*ir.Rename) error {
	if len(bs) == 0 {
		return fmt.Errorf("render: projection without bindings")
	}
	for i, b := range bs {
		if i > 0 {
			r.write(", ")
		}
		if err := r.binding(b); err != nil {
			return err
		}
	}
	return nil
}

// binding writes a.col for a column keeping its name, a.col AS "Name" for a
// renamed column and (expr) AS "Name" for anything else.
func (r *renderer) binding(b *ir.Rename) error {
	switch e := b.Expr.(type) {
	case *ir.Column:
		if err := r.expr(e); err != nil {
			return err
		}
		if b.Name != "" && b.Name != e.Name {
			r.write(" AS ", schema.QuoteIdent(b.Name))
		}
		return nil
	case *ir.New:
		return fmt.Errorf("render: composite value %q cannot be projected", b.Name)
	}
	if b.Name == "" {
		return fmt.Errorf("render: unnamed %s binding", b.Expr.Kind())
	}
	r.write("(")
	if err := r.expr(b.Expr); err != nil {
		return err
	}
	r.write(") AS ", schema.QuoteIdent(b.Name))
	return nil
}

func (r *renderer) groupKeys(keys ir.Node) error {
	nw, ok := keys.(*ir.New)
	if !ok {
		return r.expr(keys)
	}
	for i, m := range nw.Members {
		if i > 0 {
			r.write(", ")
		}
		if err := r.expr(m.Expr); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) from(n ir.Node) error {
	switch n := n.(type) {
	case *ir.NamedSource:
		return r.namedSource(n)
	case *ir.Join:
		if err := r.from(n.Left); err != nil {
			return err
		}
		r.newline()
		r.write(string(n.Type), " JOIN ")
		if err := r.from(n.Right); err != nil {
			return err
		}
		r.write(" ON ")
		return r.expr(n.On)
	case *ir.QuerySource:
		r.write(n.Entity.TableName())
		return nil
	}
	if !ir.IsRelational(n) {
		return fmt.Errorf("render: %s is not a row source", n.Kind())
	}
	alias := r.freshAlias()
	if err := r.declare(alias); err != nil {
		return err
	}
	if err := r.subselect(n); err != nil {
		return err
	}
	r.write(" AS ", alias)
	return nil
}

func (r *renderer) namedSource(n *ir.NamedSource) error {
	if err := r.declare(n.Alias); err != nil {
		return err
	}
	if qs, ok := n.Source.(*ir.QuerySource); ok {
		r.write(qs.Entity.TableName(), " AS ", n.Alias)
		return nil
	}
	if err := r.subselect(n.Source); err != nil {
		return err
	}
	r.write(" AS ", n.Alias)
	return nil
}

func (r *renderer) subselect(n ir.Node) error {
	r.write("(")
	r.depth++
	r.newline()
	if err := r.selectStmt(n); err != nil {
		return err
	}
	r.depth--
	r.newline()
	r.write(")")
	return nil
}

// operand renders a binary operand, parenthesized when it binds looser than
// its parent (or as loose, on the right).
func (r *renderer) operand(n ir.Node, parent int, right bool) error {
	b, ok := n.(*ir.Binary)
	if !ok {
		return r.expr(n)
	}
	p := b.Op.Precedence()
	if p > parent || (p == parent && !right) {
		return r.expr(n)
	}
	r.write("(")
	if err := r.expr(n); err != nil {
		return err
	}
	r.write(")")
	return nil
}

func (r *renderer) VisitBinary(n *ir.Binary) (struct{}, error) {
	p := n.Op.Precedence()
	if err := r.operand(n.Left, p, false); err != nil {
		return struct{}{}, err
	}
	switch n.Op {
	case ir.OpIn:
		if !ir.IsRelational(n.Right) {
			return struct{}{}, fmt.Errorf("render: IN needs a sub-select, got %s", n.Right.Kind())
		}
		r.write(" IN ")
		return struct{}{}, r.subselect(n.Right)
	case ir.OpAnyOf:
		r.write(" = ANY(")
		if err := r.expr(n.Right); err != nil {
			return struct{}{}, err
		}
		r.write(")")
		return struct{}{}, nil
	}
	r.write(" ", string(n.Op), " ")
	return struct{}{}, r.operand(n.Right, p, true)
}

func (r *renderer) VisitUnary(n *ir.Unary) (struct{}, error) {
	_, compound := n.Operand.(*ir.Binary)
	wrapped := func() error {
		if !compound {
			return r.expr(n.Operand)
		}
		r.write("(")
		if err := r.expr(n.Operand); err != nil {
			return err
		}
		r.write(")")
		return nil
	}
	switch n.Op {
	case ir.OpNot:
		r.write("NOT ")
		return struct{}{}, wrapped()
	case ir.OpNegate:
		if _, ok := n.Operand.(*ir.Column); ok {
			r.write("-")
			return struct{}{}, r.expr(n.Operand)
		}
		r.write("-(")
		if err := r.expr(n.Operand); err != nil {
			return struct{}{}, err
		}
		r.write(")")
		return struct{}{}, nil
	case ir.OpIsNull, ir.OpIsNotNull:
		if err := wrapped(); err != nil {
			return struct{}{}, err
		}
		r.write(" ", string(n.Op))
		return struct{}{}, nil
	}
	return struct{}{}, fmt.Errorf("render: unknown unary operator %q", n.Op)
}

func (r *renderer) VisitConditional(n *ir.Conditional) (struct{}, error) {
	r.write("CASE WHEN ")
	if err := r.expr(n.Test); err != nil {
		return struct{}{}, err
	}
	r.write(" THEN ")
	if err := r.expr(n.Then); err != nil {
		return struct{}{}, err
	}
	r.write(" ELSE ")
	if err := r.expr(n.Else); err != nil {
		return struct{}{}, err
	}
	r.write(" END")
	return struct{}{}, nil
}

func (r *renderer) VisitConstant(n *ir.Constant) (struct{}, error) {
	lit, err := literal(n.Value)
	if err != nil {
		return struct{}{}, err
	}
	r.write(lit)
	return struct{}{}, nil
}

// literal inlines the constants the translator introduces itself.
func literal(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("render: cannot inline %T", v)
}

func (r *renderer) VisitColumn(n *ir.Column) (struct{}, error) {
	if len(n.Path) > 0 {
		return struct{}{}, fmt.Errorf("render: unresolved column chain %s.%s", strings.Join(n.Path, "."), n.Name)
	}
	if n.Source != "" {
		r.write(n.Source, ".")
	}
	r.write(schema.QuoteIdent(n.Name))
	return struct{}{}, nil
}

func (r *renderer) VisitFilter(n *ir.Filter) (struct{}, error) {
	return struct{}{}, r.subselect(n)
}

func (r *renderer) VisitNamedSource(n *ir.NamedSource) (struct{}, error) {
	return struct{}{}, r.subselect(n)
}

func (r *renderer) VisitProjection(n *ir.Projection) (struct{}, error) {
	return struct{}{}, r.subselect(n)
}

func (r *renderer) VisitMethodCall(n *ir.MethodCall) (struct{}, error) {
	r.write(n.Name, "(")
	for i, a := range n.Args {
		if i > 0 {
			r.write(", ")
		}
		if err := r.expr(a); err != nil {
			return struct{}{}, err
		}
	}
	r.write(")")
	return struct{}{}, nil
}

func (r *renderer) VisitNew(n *ir.New) (struct{}, error) {
	r.write("ROW(")
	for i, m := range n.Members {
		if i > 0 {
			r.write(", ")
		}
		if err := r.expr(m.Expr); err != nil {
			return struct{}{}, err
		}
	}
	r.write(")")
	return struct{}{}, nil
}

func (r *renderer) VisitOrderBy(n *ir.OrderBy) (struct{}, error) {
	return struct{}{}, r.subselect(n)
}

func (r *renderer) VisitParameter(n *ir.Parameter) (struct{}, error) {
	r.write("@", n.Name)
	return struct{}{}, nil
}

func (r *renderer) VisitQueryParameter(n *ir.QueryParameter) (struct{}, error) {
	r.write("@", n.Name)
	if n.IsJSON {
		r.write("::jsonb")
	}
	return struct{}{}, nil
}

func (r *renderer) VisitQuerySource(n *ir.QuerySource) (struct{}, error) {
	return struct{}{}, r.subselect(n)
}

func (r *renderer) VisitJoin(n *ir.Join) (struct{}, error) {
	return struct{}{}, r.subselect(n)
}

func (r *renderer) VisitGroupBy(n *ir.GroupBy) (struct{}, error) {
	return struct{}{}, r.subselect(n)
}

func (r *renderer) VisitRowsFetchLimit(n *ir.RowsFetchLimit) (struct{}, error) {
	return struct{}{}, r.subselect(n)
}

func (r *renderer) VisitRename(n *ir.Rename) (struct{}, error) {
	return struct{}{}, r.expr(n.Expr)
}

func (r *renderer) VisitSpecial(n *ir.Special) (struct{}, error) {
	r.write(n.Text)
	return struct{}{}, nil
}

func (r *renderer) VisitInsert(n *ir.Insert) (struct{}, error) {
	return struct{}{}, statementInExpr(n)
}

func (r *renderer) VisitValues(n *ir.Values) (struct{}, error) {
	return struct{}{}, statementInExpr(n)
}

func (r *renderer) VisitUpdate(n *ir.Update) (struct{}, error) {
	return struct{}{}, statementInExpr(n)
}

func (r *renderer) VisitDelete(n *ir.Delete) (struct{}, error) {
	return struct{}{}, statementInExpr(n)
}

func (r *renderer) VisitBatch(n *ir.Batch) (struct{}, error) {
	return struct{}{}, statementInExpr(n)
}

func statementInExpr(n ir.Node) error {
	return fmt.Errorf("render: %s cannot appear inside an expression", n.Kind())
}
