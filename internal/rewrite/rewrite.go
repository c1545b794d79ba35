// Package rewrite runs the IR passes between lowering and rendering:
// relation chains become joined aliases and redundant sub-select
// projections collapse.
package rewrite

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/atlekbai/entityql/internal/ir"
)

// Normalize runs every IR pass in order.
func Normalize(root ir.Node) (ir.Node, error) {
	passes := []struct {
		name string
		run  func(ir.Node) (ir.Node, error)
	}{
		{"resolve chains", ResolveChains},
		{"compact", Compact},
		{"collapse constants", ir.CollapseConstants},
		{"unwrap count predicate", ir.UnwrapCountPredicate},
	}
	var err error
	for _, p := range passes {
		if root, err = p.run(root); err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return root, nil
}

// ResolveChains names unnamed projection bindings after their columns and
// rewrites every column read through a relation path to the alias of the
// join that path was bound to.
func ResolveChains(root ir.Node) (ir.Node, error) {
	joined := make(map[string]string)
	ir.Walk(root, func(n ir.Node) bool {
		if ns, ok := n.(*ir.NamedSource); ok && ns.Binding != "" {
			joined[ns.Binding] = ns.Alias
		}
		return true
	})

	named, err := ir.Rewrite(root, func(n ir.Node) (ir.Node, error) {
		p, ok := n.(*ir.Projection)
		if !ok {
			return n, nil
		}
		return nameBindings(p)
	})
	if err != nil {
		return nil, err
	}

	return ir.Rewrite(named, func(n ir.Node) (ir.Node, error) {
		c, ok := n.(*ir.Column)
		if !ok || len(c.Path) == 0 {
			return n, nil
		}
		key := c.Source + "." + strings.Join(c.Path, ".")
		alias, ok := joined[key]
		if !ok {
			return nil, fmt.Errorf("no join bound to %s", key)
		}
		return &ir.Column{Source: alias, Name: c.Name}, nil
	})
}

func nameBindings(p *ir.Projection) (ir.Node, error) {
	var out []*ir.Rename
	for i, b := range p.Bindings {
		if b.Name != "" {
			continue
		}
		c, ok := b.Expr.(*ir.Column)
		if !ok {
			return nil, fmt.Errorf("projection binding %d has no name", i)
		}
		if out == nil {
			out = append([]*ir.Rename(nil), p.Bindings...)
		}
		out[i] = &ir.Rename{Name: ir.DerivedName(c, p.ToClass), Expr: b.Expr}
	}
	if out == nil {
		return p, nil
	}
	cp := *p
	cp.Bindings = out
	return &cp, nil
}

// Compact collapses a projection that reads every column of a sub-select
// projection, and nothing else, into one projection over the inner source.
func Compact(root ir.Node) (ir.Node, error) {
	refs := make(map[string]int)
	ir.Walk(root, func(n ir.Node) bool {
		if c, ok := n.(*ir.Column); ok {
			refs[c.Source]++
		}
		return true
	})
	fold := cases.Fold()

	return ir.Rewrite(root, func(n ir.Node) (ir.Node, error) {
		outer, ok := n.(*ir.Projection)
		if !ok {
			return n, nil
		}
		ns, ok := outer.Source.(*ir.NamedSource)
		if !ok {
			return n, nil
		}
		inner, ok := ns.Source.(*ir.Projection)
		if !ok || inner.Distinct || len(inner.Bindings) != len(outer.Bindings) {
			return n, nil
		}

		exposed := make(map[string]*ir.Rename, len(inner.Bindings))
		for _, b := range inner.Bindings {
			exposed[fold.String(b.Name)] = b
		}
		used := make(map[string]bool, len(outer.Bindings))
		bindings := make([]*ir.Rename, len(outer.Bindings))
		for i, b := range outer.Bindings {
			c, ok := b.Expr.(*ir.Column)
			if !ok || c.Source != ns.Alias || len(c.Path) > 0 {
				return n, nil
			}
			key := fold.String(c.Name)
			src, ok := exposed[key]
			if !ok || used[key] {
				return n, nil
			}
			used[key] = true
			bindings[i] = &ir.Rename{Name: b.Name, Expr: src.Expr}
		}
		if refs[ns.Alias] != len(outer.Bindings) {
			return n, nil
		}

		return &ir.Projection{
			Source:      inner.Source,
			Bindings:    bindings,
			Distinct:    outer.Distinct,
			ToClass:     outer.ToClass,
			ToAnonymous: outer.ToAnonymous,
		}, nil
	})
}
