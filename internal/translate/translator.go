// Package translate lowers a preprocessed query tree into the relational IR.
//
// Lowering is driven by a Context: operators open IR builders, nested
// lowering applies children into the innermost open builder, and closing a
// scope applies the finished node outwards. Relation paths crossed inside
// lambdas become joins, collection navigation becomes correlated
// sub-selects, and insert graphs are ordered by their foreign keys.
package translate

import (
	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/preprocess"
	"github.com/atlekbai/entityql/internal/schema"
)

// Cardinality tells the caller how to read the statement's result.
type Cardinality int

const (
	// Many rows.
	Many Cardinality = iota
	// One row at most: single and first variants.
	One
	// A single value: any, all, count and the aggregates.
	Scalar
	// Affected row counts of a write command.
	Affected
)

func (c Cardinality) String() string {
	switch c {
	case Many:
		return "many"
	case One:
		return "one"
	case Scalar:
		return "scalar"
	case Affected:
		return "affected"
	}
	return "unknown"
}

// Result is a lowered statement.
type Result struct {
	Root        ir.Node
	Cardinality Cardinality
	// Extract re-binds every query parameter from a tree that differs from
	// the translated one only in its literals.
	Extract func(src expr.Node) (map[string]any, error)
}

// Translator lowers query trees against one metadata snapshot. It holds no
// per-translation state and is safe for concurrent use.
type Translator struct {
	provider    schema.Provider
	pipeline    *preprocess.Pipeline
	translators []NodeTranslator
}

type Option func(*Translator)

// WithPipeline replaces the default preprocessing pipeline.
func WithPipeline(p *preprocess.Pipeline) Option {
	return func(t *Translator) { t.pipeline = p }
}

// WithTranslators registers translators for nodes the lowering does not
// handle itself, next to the built-in string translators.
func WithTranslators(ts ...NodeTranslator) Option {
	return func(t *Translator) { t.translators = append(t.translators, ts...) }
}

func New(p schema.Provider, opts ...Option) *Translator {
	t := &Translator{
		provider:    p,
		pipeline:    preprocess.Default(),
		translators: Builtins(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate preprocesses src and lowers it with a fresh Context.
func (t *Translator) Translate(src expr.Node) (*Result, error) {
	if src == nil {
		return nil, failf(nil, "empty query")
	}
	n := t.pipeline.Run(src)

	ctx := NewContext(t.provider)
	ctx.rec = newRecorder(n)
	l := &lowerer{tr: t, ctx: ctx}

	card, err := l.statement(n)
	if err != nil {
		return nil, fail(n, err)
	}
	root := ctx.Root()
	if root == nil {
		return nil, failf(n, "no statement produced")
	}

	rec := ctx.rec
	return &Result{
		Root:        root,
		Cardinality: card,
		Extract: func(src expr.Node) (map[string]any, error) {
			return rec.extract(t, src)
		},
	}, nil
}

// lowerer carries the context of one statement; clones lower nested
// sub-queries.
type lowerer struct {
	tr  *Translator
	ctx *Context
}

func (l *lowerer) clone() *lowerer {
	return &lowerer{tr: l.tr, ctx: l.ctx.Clone()}
}

func (l *lowerer) provider() schema.Provider { return l.ctx.provider }

func (l *lowerer) entity(n expr.Node, name string) (*schema.EntityDef, error) {
	ent, ok := l.provider().Entity(name)
	if !ok {
		return nil, failf(n, "unknown entity %q", name)
	}
	return ent, nil
}

func (l *lowerer) statement(n expr.Node) (Cardinality, error) {
	var root *scope
	switch n := n.(type) {
	case *expr.Insert:
		return Affected, l.insert(n)
	case *expr.Update:
		return Affected, l.update(n)
	case *expr.Delete:
		return Affected, l.delete(n)
	case *expr.Terminal:
		return l.terminal(n, root)
	}
	if !expr.IsQuery(n) {
		return 0, failf(n, "not a query or command")
	}
	_, err := l.lowerSelect(n, root)
	return Many, err
}
