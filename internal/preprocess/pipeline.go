// Package preprocess normalizes a source query tree before lowering.
//
// A Pipeline runs a fixed list of passes. Each pass is a pure rewrite:
// it returns a new tree (sharing untouched subtrees) and leaves shapes it
// does not recognize unchanged. Passes declare which passes they must run
// after, and New orders them accordingly.
package preprocess

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atlekbai/entityql/internal/expr"
)

var ErrPassCycle = errors.New("preprocess: cyclic pass ordering")

// Pass is one rewrite stage.
type Pass struct {
	Name  string
	After []string
	Apply func(expr.Node) expr.Node
}

// Pipeline is an ordered list of passes. It is safe for concurrent use.
type Pipeline struct {
	passes []Pass
}

// New orders passes so that every pass runs after the passes it names in
// After. Passes without constraints between them keep their argument
// order. Names in After that match no pass are ignored.
func New(passes ...Pass) (*Pipeline, error) {
	index := make(map[string]int, len(passes))
	for i, p := range passes {
		if p.Name == "" || p.Apply == nil {
			return nil, fmt.Errorf("preprocess: pass #%d needs a name and an apply func", i)
		}
		if _, dup := index[p.Name]; dup {
			return nil, fmt.Errorf("preprocess: duplicate pass %q", p.Name)
		}
		index[p.Name] = i
	}

	indegree := make([]int, len(passes))
	next := make([][]int, len(passes))
	for i, p := range passes {
		for _, dep := range p.After {
			j, ok := index[dep]
			if !ok {
				continue
			}
			next[j] = append(next[j], i)
			indegree[i]++
		}
	}

	ordered := make([]Pass, 0, len(passes))
	done := make([]bool, len(passes))
	for len(ordered) < len(passes) {
		picked := -1
		for i := range passes {
			if !done[i] && indegree[i] == 0 {
				picked = i
				break
			}
		}
		if picked < 0 {
			var stuck []string
			for i, p := range passes {
				if !done[i] {
					stuck = append(stuck, p.Name)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrPassCycle, strings.Join(stuck, ", "))
		}
		done[picked] = true
		ordered = append(ordered, passes[picked])
		for _, j := range next[picked] {
			indegree[j]--
		}
	}
	return &Pipeline{passes: ordered}, nil
}

// Default returns the standard pipeline: predicate unwrapping, constant
// folding, binary canonicalization and sub-query hoisting.
func Default() *Pipeline {
	var p *Pipeline
	var err error
	p, err = New(
		HoistSubqueries(func(n expr.Node) expr.Node { return p.Run(n) }),
		CanonicalizeBinary(),
		FoldConstants(),
		UnwrapPredicate(),
	)
	if err != nil {
		panic(err)
	}
	return p
}

// Names lists the passes in execution order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.passes))
	for i, pass := range p.passes {
		out[i] = pass.Name
	}
	return out
}

// Run applies every pass in order.
func (p *Pipeline) Run(n expr.Node) expr.Node {
	if n == nil {
		return nil
	}
	for _, pass := range p.passes {
		n = pass.Apply(n)
	}
	return n
}
