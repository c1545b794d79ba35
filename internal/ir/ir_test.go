package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/entityql/internal/schema"
)

func col(alias, name string) *Column { return &Column{Source: alias, Name: name} }

func table() *NamedSource {
	return &NamedSource{Alias: "a", Source: &QuerySource{Entity: &schema.EntityDef{Name: "Order"}}}
}

func TestBinaryBuilderSlots(t *testing.T) {
	b := NewBinary(OpEq)
	require.NoError(t, b.Apply(col("a", "Id")))

	_, err := b.Close()
	assert.ErrorIs(t, err, ErrUnfilledSlot)

	require.NoError(t, b.Apply(&Constant{Value: 1}))
	err = b.Apply(&Constant{Value: 2})
	assert.ErrorIs(t, err, ErrSlotOverflow)

	n, err := b.Close()
	require.NoError(t, err)
	assert.True(t, Equal(&Binary{Op: OpEq, Left: col("a", "Id"), Right: &Constant{Value: 1}}, n))
}

func TestConditionalFillsInOrder(t *testing.T) {
	b := NewConditional()
	for _, n := range []Node{&Constant{Value: true}, &Constant{Value: 1}, &Constant{Value: 2}} {
		require.NoError(t, b.Apply(n))
	}
	assert.ErrorIs(t, b.Apply(&Constant{Value: 3}), ErrSlotOverflow)

	n, err := b.Close()
	require.NoError(t, err)
	c := n.(*Conditional)
	assert.Equal(t, true, c.Test.(*Constant).Value)
	assert.Equal(t, 1, c.Then.(*Constant).Value)
	assert.Equal(t, 2, c.Else.(*Constant).Value)
}

func TestFilterRejectsScalarSource(t *testing.T) {
	b := NewFilter()
	err := b.Apply(&Constant{Value: 1})
	assert.ErrorIs(t, err, ErrRejectedChild)
}

func TestFilterAndsPredicates(t *testing.T) {
	b := NewFilter()
	assert.True(t, b.Mergeable())
	require.NoError(t, b.Apply(table()))
	assert.False(t, b.Mergeable())
	require.NoError(t, b.Apply(&Binary{Op: OpGt, Left: col("a", "Total"), Right: &Constant{Value: 1}}))
	require.NoError(t, b.Apply(&Unary{Op: OpIsNull, Operand: col("a", "Note")}))

	n, err := b.Close()
	require.NoError(t, err)
	f := n.(*Filter)
	and, ok := f.Predicate.(*Binary)
	require.True(t, ok)
	assert.Equal(t, OpAnd, and.Op)
}

func TestFilterNeedsPredicate(t *testing.T) {
	b := NewFilter()
	require.NoError(t, b.Apply(table()))
	_, err := b.Close()
	assert.ErrorIs(t, err, ErrUnfilledSlot)
}

func TestProjectionOnlyTakesRenames(t *testing.T) {
	b := NewProjection()
	require.NoError(t, b.Apply(table()))
	assert.ErrorIs(t, b.Apply(col("a", "Id")), ErrRejectedChild)
	require.NoError(t, b.Apply(&Rename{Name: "Id", Expr: col("a", "Id")}))
	b.Distinct = true

	n, err := b.Close()
	require.NoError(t, err)
	p := n.(*Projection)
	assert.True(t, p.Distinct)
	assert.Len(t, p.Bindings, 1)
}

func TestOrderByDirections(t *testing.T) {
	b := NewOrderBy(true)
	assert.True(t, b.Mergeable())
	require.NoError(t, b.Apply(table()))
	b.Direction(true)
	require.NoError(t, b.Apply(col("a", "Total")))
	require.NoError(t, b.Apply(col("a", "Number")))

	n, err := b.Close()
	require.NoError(t, err)
	ob := n.(*OrderBy)
	assert.Equal(t, []bool{true, false}, ob.Desc)

	assert.False(t, NewOrderBy(false).Mergeable())
}

func TestRowsFetchLimitSlots(t *testing.T) {
	b := NewRowsFetchLimit(false, true)
	require.NoError(t, b.Apply(table()))
	require.NoError(t, b.Apply(&Constant{Value: 10}))
	assert.ErrorIs(t, b.Apply(&Constant{Value: 1}), ErrSlotOverflow)

	n, err := b.Close()
	require.NoError(t, err)
	l := n.(*RowsFetchLimit)
	assert.Nil(t, l.Limit)
	assert.Equal(t, 10, l.Offset.(*Constant).Value)
}

func TestNamedSourceNeedsAlias(t *testing.T) {
	b := NewNamedSource("", "x")
	require.NoError(t, b.Apply(&QuerySource{}))
	_, err := b.Close()
	assert.ErrorIs(t, err, ErrUnfilledSlot)

	b.Alias = "b"
	n, err := b.Close()
	require.NoError(t, err)
	assert.Equal(t, "b", n.(*NamedSource).Alias)
}

func TestInsertRowWidth(t *testing.T) {
	b := NewInsert(&schema.EntityDef{Name: "Tag"}, []string{"Id", "Name"})
	require.NoError(t, b.Apply(&Values{Items: []Node{&Constant{Value: 1}}}))
	_, err := b.Close()
	assert.Error(t, err)
}

func TestUpdateSlots(t *testing.T) {
	b := NewUpdate(true)
	require.NoError(t, b.Apply(table()))
	require.NoError(t, b.Apply(&Unary{Op: OpIsNull, Operand: col("a", "Note")}))
	require.NoError(t, b.Apply(&Rename{Name: "Note", Expr: &Constant{Value: "x"}}))
	n, err := b.Close()
	require.NoError(t, err)
	u := n.(*Update)
	assert.NotNil(t, u.Where)
	assert.Len(t, u.Set, 1)

	d := NewDelete(false)
	assert.ErrorIs(t, d.Apply(&QuerySource{}), ErrRejectedChild)
}

func TestBatchOnlyTakesStatements(t *testing.T) {
	b := NewBatch()
	assert.ErrorIs(t, b.Apply(table()), ErrRejectedChild)
}

func TestEqualIgnoresParameterValues(t *testing.T) {
	a := &QueryParameter{Name: "param_0", Type: "text", Value: func() any { return "x" }}
	b := &QueryParameter{Name: "param_0", Type: "text", Value: func() any { return "y" }}
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, &QueryParameter{Name: "param_1", Type: "text"}))
}

func TestRewriteSharesUntouchedSubtrees(t *testing.T) {
	src := table()
	root := &Filter{Source: src, Predicate: &Binary{Op: OpEq, Left: col("a", "Id"), Right: &Constant{Value: 1}}}

	out, err := Rewrite(root, func(n Node) (Node, error) {
		if c, ok := n.(*Constant); ok && c.Value == 1 {
			return &Constant{Value: 2}, nil
		}
		return n, nil
	})
	require.NoError(t, err)
	f := out.(*Filter)
	assert.NotSame(t, root, f)
	assert.Same(t, src, f.Source)
	assert.Equal(t, 1, root.Predicate.(*Binary).Right.(*Constant).Value)
}

func TestCollapseConstants(t *testing.T) {
	src := table()
	tests := []struct {
		name string
		in   Node
		want Node
	}{
		{
			name: "and true",
			in:   &Binary{Op: OpAnd, Left: &Constant{Value: true}, Right: col("a", "Flag")},
			want: col("a", "Flag"),
		},
		{
			name: "or true",
			in:   &Binary{Op: OpOr, Left: col("a", "Flag"), Right: &Constant{Value: true}},
			want: &Constant{Value: true},
		},
		{
			name: "arithmetic",
			in:   &Binary{Op: OpAdd, Left: &Constant{Value: 1}, Right: &Constant{Value: 2}},
			want: &Constant{Value: int64(3)},
		},
		{
			name: "not",
			in:   &Unary{Op: OpNot, Operand: &Constant{Value: false}},
			want: &Constant{Value: true},
		},
		{
			name: "conditional",
			in:   &Conditional{Test: &Constant{Value: false}, Then: col("a", "X"), Else: col("a", "Y")},
			want: col("a", "Y"),
		},
		{
			name: "always true filter",
			in:   &Filter{Source: src, Predicate: &Binary{Op: OpEq, Left: &Constant{Value: 1}, Right: &Constant{Value: 1}}},
			want: src,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CollapseConstants(tt.in)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %#v", got)
		})
	}
}

func TestUnwrapCountPredicate(t *testing.T) {
	pred := &Binary{Op: OpGt, Left: col("a", "Total"), Right: &Constant{Value: 1}}
	root := &MethodCall{Name: "count", Args: []Node{pred}}

	got, err := UnwrapCountPredicate(root)
	require.NoError(t, err)
	want := &MethodCall{Name: "count", Args: []Node{
		&Conditional{Test: pred, Then: &Constant{Value: 1}, Else: &Constant{Value: nil}},
	}}
	assert.True(t, Equal(want, got))

	star := CountAll()
	same, err := UnwrapCountPredicate(star)
	require.NoError(t, err)
	assert.Same(t, Node(star), same)
}
