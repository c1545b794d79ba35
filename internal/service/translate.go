package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlekbai/entityql/internal/eql"
	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/render"
	"github.com/atlekbai/entityql/internal/rewrite"
	"github.com/atlekbai/entityql/internal/translate"
)

// Output is one translated statement. Exactly one of Query, Grouped and
// Command is set.
type Output struct {
	Cardinality translate.Cardinality
	Query       *render.FlatQuery
	Grouped     *render.GroupedQuery
	Command     *render.SQLCommand
	// Extract re-binds the parameters from a tree of the same shape.
	Extract func(src expr.Node) (map[string]any, error)
}

// Text returns the SQL of whichever output is set.
func (o *Output) Text() string {
	switch {
	case o.Query != nil:
		return o.Query.Text
	case o.Grouped != nil:
		return o.Grouped.KeysText
	case o.Command != nil:
		return o.Command.Text
	}
	return ""
}

// Replay re-binds a flat query to src, a tree with the same shape as the
// one o was translated from, without translating src again.
func (o *Output) Replay(src expr.Node) (*Output, error) {
	if o.Query == nil || o.Extract == nil {
		return nil, fmt.Errorf("%w: only flat queries replay", translate.ErrShapeChanged)
	}
	values, err := o.Extract(src)
	if err != nil {
		return nil, err
	}
	for name, v := range values {
		if p, ok := o.Query.Parameters[name]; ok && reflect.TypeOf(p.Value) != reflect.TypeOf(v) {
			return nil, fmt.Errorf("%w: %s changed type", translate.ErrShapeChanged, name)
		}
	}
	q, err := o.Query.With(values)
	if err != nil {
		return nil, err
	}
	return &Output{Cardinality: o.Cardinality, Query: q, Extract: o.Extract}, nil
}

// maxPlans bounds the flat queries TranslateText keeps for replay.
const maxPlans = 256

// TranslateService runs the whole pipeline: preprocess and lower, IR
// rewrites, rendering.
type TranslateService struct {
	tr  *translate.Translator
	log *slog.Logger

	mu    sync.Mutex
	plans map[string]*Output
}

func NewTranslateService(tr *translate.Translator, logger *slog.Logger) *TranslateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranslateService{tr: tr, log: logger, plans: make(map[string]*Output)}
}

// Translate turns one query or command tree into SQL.
func (s *TranslateService) Translate(ctx context.Context, src expr.Node) (*Output, error) {
	start := time.Now()
	res, err := s.tr.Translate(src)
	if err != nil {
		s.log.DebugContext(ctx, "translate failed", "error", err)
		return nil, err
	}
	root, err := rewrite.Normalize(res.Root)
	if err != nil {
		return nil, fmt.Errorf("rewrite: %w", err)
	}
	rendered, err := render.ForRoot(ctx, root)
	if err != nil {
		return nil, err
	}

	out := &Output{Cardinality: res.Cardinality, Extract: res.Extract}
	switch r := rendered.(type) {
	case *render.FlatQuery:
		out.Query = r
	case *render.GroupedQuery:
		r.Values = normalized(r.Values)
		out.Grouped = r
	case *render.SQLCommand:
		out.Command = r
	}
	s.log.DebugContext(ctx, "translated",
		"cardinality", res.Cardinality.String(),
		"root", root.Kind().String(),
		"elapsed", time.Since(start),
	)
	return out, nil
}

// ErrInvalidQuery marks EQL text that does not parse or compile.
var ErrInvalidQuery = errors.New("invalid query")

// TranslateText compiles an EQL query with its parameters and translates it.
// Flat queries are kept by text; a later call with the same text replays
// the kept query with the new parameter values when the shape still holds.
func (s *TranslateService) TranslateText(ctx context.Context, text string, params map[string]any) (*Output, error) {
	src, err := eql.Compile(text, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if plan := s.plan(text); plan != nil {
		out, err := plan.Replay(src)
		if err == nil {
			return out, nil
		}
		s.log.DebugContext(ctx, "replay skipped", "error", err)
	}
	out, err := s.Translate(ctx, src)
	if err != nil {
		return nil, err
	}
	if out.Query != nil {
		s.keep(text, out)
	}
	return out, nil
}

func (s *TranslateService) plan(text string) *Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plans[text]
}

func (s *TranslateService) keep(text string, out *Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[text]; !ok && len(s.plans) < maxPlans {
		s.plans[text] = out
	}
}

// normalized runs the IR rewrites over every per-group values query.
func normalized(values ir.ValuesProducer) ir.ValuesProducer {
	return func(keys []any) (ir.Node, error) {
		root, err := values(keys)
		if err != nil {
			return nil, err
		}
		return rewrite.Normalize(root)
	}
}

// TranslateAll translates independent trees concurrently. Results keep the
// order of srcs; the first failure cancels the rest.
func (s *TranslateService) TranslateAll(ctx context.Context, srcs []expr.Node) ([]*Output, error) {
	out := make([]*Output, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, src := range srcs {
		g.Go(func() error {
			o, err := s.Translate(gctx, src)
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			out[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "translated batch", "count", len(srcs))
	return out, nil
}
