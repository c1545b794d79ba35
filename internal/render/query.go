package render

import (
	"context"
	"fmt"

	"github.com/atlekbai/entityql/internal/ir"
)

// Parameter is the value bound to one @param_n placeholder.
type Parameter struct {
	Type  string
	Value any
}

// FlatQuery is a single SELECT with its parameters.
type FlatQuery struct {
	Text       string
	Parameters map[string]Parameter
}

// GroupedQuery selects the group keys; Values builds the query reading the
// rows of one group from its resolved key values.
type GroupedQuery struct {
	KeysText       string
	KeysParameters map[string]Parameter
	Values         ir.ValuesProducer
}

// Output is what ForRoot returns: *FlatQuery, *GroupedQuery or *SQLCommand.
type Output interface {
	output()
}

func (*FlatQuery) output()    {}
func (*GroupedQuery) output() {}
func (*SQLCommand) output()   {}

// ForRoot renders root with the renderer its kind calls for.
func ForRoot(ctx context.Context, root ir.Node) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case root == nil:
		return nil, fmt.Errorf("render: nil root")
	case ir.IsStatement(root):
		return Command(root)
	case groupOf(root) != nil && groupOf(root).Values != nil:
		return Grouped(root)
	}
	return Query(root)
}

// Query renders a relational root.
func Query(root ir.Node) (*FlatQuery, error) {
	text, err := renderSelect(root)
	if err != nil {
		return nil, err
	}
	return &FlatQuery{Text: text, Parameters: collect(root)}, nil
}

// Grouped renders the keys query of a root that reads whole groups.
func Grouped(root ir.Node) (*GroupedQuery, error) {
	g := groupOf(root)
	if g == nil || g.Values == nil {
		return nil, fmt.Errorf("render: root does not read whole groups")
	}
	keys, err := Query(root)
	if err != nil {
		return nil, err
	}
	return &GroupedQuery{KeysText: keys.Text, KeysParameters: keys.Parameters, Values: g.Values}, nil
}

// ValuesQuery renders the query reading the rows of the group with the
// given key values.
func (g *GroupedQuery) ValuesQuery(keys []any) (*FlatQuery, error) {
	root, err := g.Values(keys)
	if err != nil {
		return nil, err
	}
	return Query(root)
}

// With returns a copy of q whose parameter values are replaced by values,
// as extracted from another source tree of the same shape.
func (q *FlatQuery) With(values map[string]any) (*FlatQuery, error) {
	out := &FlatQuery{Text: q.Text, Parameters: make(map[string]Parameter, len(q.Parameters))}
	for name, p := range q.Parameters {
		if v, ok := values[name]; ok {
			p.Value = v
		}
		out.Parameters[name] = p
	}
	for name := range values {
		if _, ok := q.Parameters[name]; !ok {
			return nil, fmt.Errorf("render: unknown parameter %s", name)
		}
	}
	return out, nil
}

// groupOf finds the GroupBy of the outermost SELECT of root.
func groupOf(root ir.Node) *ir.GroupBy {
	return peel(root).group
}

// collect gathers every query parameter of root, reading current values.
func collect(root ir.Node) map[string]Parameter {
	out := make(map[string]Parameter)
	for _, p := range parameters(root) {
		out[p.Name] = Parameter{Type: p.Type, Value: p.Value()}
	}
	return out
}

// parameters lists the query parameters of root in rendering order.
func parameters(root ir.Node) []*ir.QueryParameter {
	var out []*ir.QueryParameter
	seen := make(map[string]bool)
	ir.Walk(root, func(n ir.Node) bool {
		if p, ok := n.(*ir.QueryParameter); ok && !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p)
		}
		return true
	})
	return out
}
