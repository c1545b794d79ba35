package translate

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
)

// Context is the state of one translation: a stack of open IR builders and
// the counters that name query parameters and aliases. A Context is not
// safe for concurrent use; nested sub-queries run on a Clone.
type Context struct {
	provider schema.Provider
	stack    []ir.Builder
	floor    int
	root     ir.Node

	nextParam int
	nextAlias int

	rec *recorder
}

// NewContext returns an empty context reading metadata from p.
func NewContext(p schema.Provider) *Context {
	return &Context{provider: p, rec: newRecorder(nil)}
}

func (c *Context) Provider() schema.Provider { return c.provider }

// Root returns the node closed at the bottom of the stack, if any.
func (c *Context) Root() ir.Node { return c.root }

// NextQueryParameterName issues param_0, param_1, ...
func (c *Context) NextQueryParameterName() string {
	name := "param_" + strconv.Itoa(c.nextParam)
	c.nextParam++
	return name
}

// NextAliasName issues a, b, ..., z, aa, ab, ...
func (c *Context) NextAliasName() string {
	name := AliasName(c.nextAlias)
	c.nextAlias++
	return name
}

// AliasName returns the spreadsheet-column style name of the n-th alias.
func AliasName(n int) string {
	var buf []byte
	for n >= 0 {
		buf = append([]byte{byte('a' + n%26)}, buf...)
		n = n/26 - 1
	}
	return string(buf)
}

// Clone returns a context sharing the parent's open builders read-only. A
// scope closed at the clone's floor becomes the clone's root instead of
// being applied into the parent. Counters are copied, so the clone numbers
// on from where the parent stands; call Absorb afterwards.
func (c *Context) Clone() *Context {
	return &Context{
		provider:  c.provider,
		stack:     append([]ir.Builder(nil), c.stack...),
		floor:     len(c.stack),
		nextParam: c.nextParam,
		nextAlias: c.nextAlias,
		rec:       c.rec,
	}
}

// Absorb moves the counters past every name the clone issued.
func (c *Context) Absorb(clone *Context) {
	c.nextParam = max(c.nextParam, clone.nextParam)
	c.nextAlias = max(c.nextAlias, clone.nextAlias)
}

func (c *Context) top() ir.Builder {
	if len(c.stack) <= c.floor {
		return nil
	}
	return c.stack[len(c.stack)-1]
}

// WithinScope opens b, runs action, closes b and applies the closed node
// into the enclosing builder. At the floor the node becomes the root.
func (c *Context) WithinScope(b ir.Builder, action func() error) error {
	c.stack = append(c.stack, b)
	err := action()
	c.stack = c.stack[:len(c.stack)-1]
	if err != nil {
		return err
	}
	n, err := b.Close()
	if err != nil {
		return &TranslationError{Cause: fmt.Errorf("close %s: %w", b.Kind(), err)}
	}
	return c.place(n)
}

// Emit applies a finished node into the innermost open builder.
func (c *Context) Emit(n ir.Node) error {
	return c.place(n)
}

func (c *Context) place(n ir.Node) error {
	top := c.top()
	if top == nil {
		if c.root != nil {
			return &TranslationError{Cause: errors.New("second root node " + n.Kind().String())}
		}
		c.root = n
		return nil
	}
	if err := top.Apply(n); err != nil {
		return &TranslationError{Cause: fmt.Errorf("apply %s into %s: %w", n.Kind(), top.Kind(), err)}
	}
	return nil
}

// WithoutScopeDuplication runs action against the innermost builder when it
// has the given kind and agrees to merge; otherwise it opens a builder
// from open and runs action inside it.
func (c *Context) WithoutScopeDuplication(kind ir.Kind, open func() ir.Builder, action func(ir.Builder) error) error {
	if top := c.top(); top != nil && top.Kind() == kind {
		if m, ok := top.(ir.Mergeable); ok && m.Mergeable() {
			return action(top)
		}
	}
	b := open()
	return c.WithinScope(b, func() error { return action(b) })
}

// takeRoot clears and returns the root so a context can build another
// statement.
func (c *Context) takeRoot() ir.Node {
	n := c.root
	c.root = nil
	return n
}
