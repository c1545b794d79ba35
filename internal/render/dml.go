package render

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
)

// dml renders one write statement through a squirrel builder. Every value
// is pre-rendered SQL handed over as sq.Expr, so squirrel adds no
// placeholders of its own.
func dml(n ir.Node) (string, error) {
	r := newRenderer()
	var b sq.Sqlizer
	var err error
	switch n := n.(type) {
	case *ir.Insert:
		b, err = r.insert(n)
	case *ir.Update:
		b, err = r.update(n)
	case *ir.Delete:
		b, err = r.delete(n)
	default:
		return "", fmt.Errorf("render: %s is not a write statement", n.Kind())
	}
	if err != nil {
		return "", err
	}
	text, args, err := b.ToSql()
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	if len(args) > 0 {
		return "", fmt.Errorf("render: unexpected positional arguments in %s", n.Kind())
	}
	return text, nil
}

func (r *renderer) insert(n *ir.Insert) (sq.Sqlizer, error) {
	if len(n.Rows) == 0 {
		return nil, fmt.Errorf("render: insert into %s without rows", n.Entity.Name)
	}
	cols := make([]string, len(n.Columns))
	for i, c := range n.Columns {
		cols[i] = schema.QuoteIdent(c)
	}
	b := sq.Insert(n.Entity.TableName()).Columns(cols...)
	for i, row := range n.Rows {
		if len(row.Items) != len(n.Columns) {
			return nil, fmt.Errorf("render: row %d of %s has %d values for %d columns", i, n.Entity.Name, len(row.Items), len(n.Columns))
		}
		vals := make([]any, len(row.Items))
		for j, item := range row.Items {
			text, err := r.renderExpr(item)
			if err != nil {
				return nil, err
			}
			vals[j] = sq.Expr(text)
		}
		b = b.Values(vals...)
	}
	return b, nil
}

func (r *renderer) update(n *ir.Update) (sq.Sqlizer, error) {
	target, err := r.target(n.Target)
	if err != nil {
		return nil, err
	}
	if len(n.Set) == 0 {
		return nil, fmt.Errorf("render: update of %s sets nothing", target)
	}
	b := sq.Update(target)
	for _, s := range n.Set {
		text, err := r.renderExpr(s.Expr)
		if err != nil {
			return nil, err
		}
		b = b.Set(schema.QuoteIdent(s.Name), sq.Expr(text))
	}
	if n.Where != nil {
		text, err := r.renderExpr(n.Where)
		if err != nil {
			return nil, err
		}
		b = b.Where(sq.Expr(text))
	}
	return b, nil
}

func (r *renderer) delete(n *ir.Delete) (sq.Sqlizer, error) {
	target, err := r.target(n.Target)
	if err != nil {
		return nil, err
	}
	b := sq.Delete(target)
	if n.Where != nil {
		text, err := r.renderExpr(n.Where)
		if err != nil {
			return nil, err
		}
		b = b.Where(sq.Expr(text))
	}
	return b, nil
}

// target renders the aliased table a write applies to.
func (r *renderer) target(n ir.Node) (string, error) {
	ns, ok := n.(*ir.NamedSource)
	if !ok {
		return "", fmt.Errorf("render: write target is %s, not a named table", n.Kind())
	}
	qs, ok := ns.Source.(*ir.QuerySource)
	if !ok {
		return "", fmt.Errorf("render: write target %s is not a table", ns.Alias)
	}
	if err := r.declare(ns.Alias); err != nil {
		return "", err
	}
	return qs.Entity.TableName() + " AS " + ns.Alias, nil
}
