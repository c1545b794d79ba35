package render

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/entityql/internal/ir"
	"github.com/atlekbai/entityql/internal/schema"
	"github.com/atlekbai/entityql/internal/schema/schematest"
)

var shop = schematest.Shop()

func entity(name string) *schema.EntityDef { return shop.Get(name) }

func col(alias, name string) *ir.Column { return &ir.Column{Source: alias, Name: name} }

func table(alias, name string) *ir.NamedSource {
	return &ir.NamedSource{Alias: alias, Binding: name, Source: &ir.QuerySource{Entity: entity(name)}}
}

func param(name, typ string, v any) *ir.QueryParameter {
	return &ir.QueryParameter{Name: name, Type: typ, Value: func() any { return v }}
}

func keep(names ...string) []*ir.Rename {
	out := make([]*ir.Rename, len(names))
	for i, n := range names {
		out[i] = &ir.Rename{Name: n, Expr: col("a", n)}
	}
	return out
}

func TestQueryFilter(t *testing.T) {
	root := &ir.Projection{
		Source: &ir.Filter{
			Source:    table("a", "Order"),
			Predicate: &ir.Unary{Op: ir.OpIsNotNull, Operand: col("a", "Note")},
		},
		Bindings: keep("Id", "Note"),
	}

	q, err := Query(root)
	require.NoError(t, err)
	assert.Equal(t, `SELECT a."Id", a."Note"
FROM "shop"."orders" AS a
WHERE a."Note" IS NOT NULL`, q.Text)
	assert.Empty(t, q.Parameters)
}

func TestQueryScalarOverSubSelect(t *testing.T) {
	inner := &ir.Projection{
		Source: &ir.Filter{
			Source:    table("a", "Order"),
			Predicate: &ir.Binary{Op: ir.OpEq, Left: col("a", "Discount"), Right: param("param_0", "integer", 42)},
		},
		Bindings: keep("Id"),
	}
	root := &ir.Projection{
		Source: &ir.NamedSource{Alias: "b", Source: inner},
		Bindings: []*ir.Rename{{
			Name: "Any",
			Expr: &ir.Binary{Op: ir.OpGt, Left: ir.CountAll(), Right: &ir.Constant{Value: 0}},
		}},
	}

	q, err := Query(root)
	require.NoError(t, err)
	assert.Equal(t, `SELECT (count(*) > 0) AS "Any"
FROM (
  SELECT a."Id"
  FROM "shop"."orders" AS a
  WHERE a."Discount" = @param_0
) AS b`, q.Text)
	assert.Equal(t, map[string]Parameter{"param_0": {Type: "integer", Value: 42}}, q.Parameters)
	assert.Equal(t, pgx.NamedArgs{"param_0": 42}, q.NamedArgs())
}

func TestQueryJoinOrderLimit(t *testing.T) {
	root := &ir.RowsFetchLimit{
		Source: &ir.OrderBy{
			Source: &ir.Projection{
				Source: &ir.Join{
					Type:  ir.JoinInner,
					Left:  table("a", "Order"),
					Right: table("b", "Customer"),
					On:    &ir.Binary{Op: ir.OpEq, Left: col("b", "Id"), Right: col("a", "CustomerId")},
				},
				Bindings: []*ir.Rename{
					{Name: "Number", Expr: col("a", "Number")},
					{Name: "Customer_Name", Expr: col("b", "Name")},
				},
			},
			Keys: []ir.Node{col("a", "Total"), col("a", "Number")},
			Desc: []bool{true, false},
		},
		Limit:  param("param_0", "integer", 10),
		Offset: param("param_1", "integer", 20),
	}

	q, err := Query(root)
	require.NoError(t, err)
	assert.Equal(t, `SELECT a."Number", b."Name" AS "Customer_Name"
FROM "shop"."orders" AS a
INNER JOIN "shop"."customers" AS b ON b."Id" = a."CustomerId"
ORDER BY a."Total" DESC, a."Number"
LIMIT @param_0
OFFSET @param_1`, q.Text)
	assert.Len(t, q.Parameters, 2)
}

func TestQueryRejectsCaseInsensitiveAliasClash(t *testing.T) {
	root := &ir.Projection{
		Source: &ir.Join{
			Type:  ir.JoinLeft,
			Left:  table("a", "Order"),
			Right: table("A", "Customer"),
			On:    &ir.Binary{Op: ir.OpEq, Left: col("A", "Id"), Right: col("a", "CustomerId")},
		},
		Bindings: keep("Id"),
	}
	_, err := Query(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

func TestQueryRejectsStatement(t *testing.T) {
	_, err := Query(&ir.Delete{Target: table("a", "Order")})
	assert.Error(t, err)
}

func TestExpressions(t *testing.T) {
	x := &ir.Binary{Op: ir.OpGt, Left: col("a", "Total"), Right: &ir.Constant{Value: 1}}
	y := &ir.Binary{Op: ir.OpLt, Left: col("a", "Total"), Right: &ir.Constant{Value: 5}}
	tests := []struct {
		name string
		in   ir.Node
		want string
	}{
		{"or inside and", &ir.Binary{Op: ir.OpAnd, Left: &ir.Binary{Op: ir.OpOr, Left: x, Right: y}, Right: x},
			`(a."Total" > 1 OR a."Total" < 5) AND a."Total" > 1`},
		{"left-nested and", &ir.Binary{Op: ir.OpAnd, Left: &ir.Binary{Op: ir.OpAnd, Left: x, Right: y}, Right: x},
			`a."Total" > 1 AND a."Total" < 5 AND a."Total" > 1`},
		{"right-nested subtraction", &ir.Binary{Op: ir.OpSub, Left: col("a", "Total"),
			Right: &ir.Binary{Op: ir.OpSub, Left: col("a", "Discount"), Right: &ir.Constant{Value: 1}}},
			`a."Total" - (a."Discount" - 1)`},
		{"not", &ir.Unary{Op: ir.OpNot, Operand: x}, `NOT (a."Total" > 1)`},
		{"negate constant", &ir.Unary{Op: ir.OpNegate, Operand: &ir.Constant{Value: -1}}, `-(-1)`},
		{"quoted literal", &ir.Binary{Op: ir.OpEq, Left: col("a", "Name"), Right: &ir.Constant{Value: "O'Brien"}},
			`a."Name" = 'O''Brien'`},
		{"case", &ir.Conditional{Test: x, Then: &ir.Constant{Value: 1}, Else: &ir.Constant{Value: nil}},
			`CASE WHEN a."Total" > 1 THEN 1 ELSE NULL END`},
		{"any of", &ir.Binary{Op: ir.OpAnyOf, Left: col("a", "Id"), Right: param("param_0", "uuid[]", nil)},
			`a."Id" = ANY(@param_0)`},
		{"caller parameter", &ir.Binary{Op: ir.OpEq, Left: col("a", "Id"), Right: &ir.Parameter{Name: "id"}},
			`a."Id" = @id`},
		{"call", &ir.MethodCall{Name: "lower", Args: []ir.Node{col("a", "Name")}}, `lower(a."Name")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newRenderer().renderExpr(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnresolvedChainFails(t *testing.T) {
	_, err := newRenderer().renderExpr(&ir.Column{Source: "a", Path: []string{"Customer"}, Name: "Name"})
	assert.Error(t, err)
}

func groupedRoot() *ir.Projection {
	return &ir.Projection{
		Source: &ir.GroupBy{
			Source: table("a", "Order"),
			Keys:   col("a", "CustomerId"),
			Values: func(keys []any) (ir.Node, error) {
				return &ir.Projection{
					Source: &ir.Filter{
						Source:    table("a", "Order"),
						Predicate: &ir.Binary{Op: ir.OpEq, Left: col("a", "CustomerId"), Right: param("param_0", "uuid", keys[0])},
					},
					Bindings: keep("Id"),
				}, nil
			},
		},
		Bindings: []*ir.Rename{{Name: "Key", Expr: col("a", "CustomerId")}},
	}
}

func TestForRootGrouped(t *testing.T) {
	out, err := ForRoot(context.Background(), groupedRoot())
	require.NoError(t, err)
	g, ok := out.(*GroupedQuery)
	require.True(t, ok)
	assert.Equal(t, `SELECT a."CustomerId" AS "Key"
FROM "shop"."orders" AS a
GROUP BY a."CustomerId"`, g.KeysText)

	v, err := g.ValuesQuery([]any{schematest.CustomerID})
	require.NoError(t, err)
	assert.Equal(t, schematest.CustomerID, v.Parameters["param_0"].Value)
}

func TestForRootSelectsRenderer(t *testing.T) {
	out, err := ForRoot(context.Background(), &ir.Projection{Source: table("a", "Order"), Bindings: keep("Id")})
	require.NoError(t, err)
	assert.IsType(t, &FlatQuery{}, out)

	out, err = ForRoot(context.Background(), &ir.Delete{Target: table("a", "Order")})
	require.NoError(t, err)
	assert.IsType(t, &SQLCommand{}, out)
}

func TestForRootHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ForRoot(ctx, groupedRoot())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFlatQueryWith(t *testing.T) {
	q := &FlatQuery{Text: "SELECT @param_0", Parameters: map[string]Parameter{"param_0": {Type: "integer", Value: 1}}}
	r, err := q.With(map[string]any{"param_0": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Parameters["param_0"].Value)
	assert.Equal(t, 1, q.Parameters["param_0"].Value)

	_, err = q.With(map[string]any{"param_9": 2})
	assert.Error(t, err)
}

func TestCommandInsert(t *testing.T) {
	meta := param("param_2", "jsonb", map[string]any{"gift": true})
	meta.IsJSON = true
	root := &ir.Insert{
		Entity:  entity("Order"),
		Columns: []string{"Id", "Number", "Metadata"},
		Rows: []*ir.Values{
			{Items: []ir.Node{param("param_0", "uuid", 1), param("param_1", "text", "A-1"), meta}},
		},
	}
	cmd, err := Command(root)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "shop"."orders" ("Id","Number","Metadata") VALUES (@param_0,@param_1,@param_2::jsonb)`, cmd.Text)
	require.Len(t, cmd.Parameters, 3)
	assert.Equal(t, "param_2", cmd.Parameters[2].Name)
	assert.True(t, cmd.Parameters[2].IsJSON)
}

func TestCommandUpdate(t *testing.T) {
	root := &ir.Update{
		Target: table("a", "Order"),
		Set: []*ir.Rename{
			{Name: "Note", Expr: param("param_0", "text", "late")},
			{Name: "Total", Expr: &ir.Binary{Op: ir.OpAdd, Left: col("a", "Total"), Right: param("param_1", "numeric", 5)}},
		},
		Where: &ir.Binary{Op: ir.OpEq, Left: col("a", "Id"), Right: param("param_2", "uuid", 7)},
	}
	cmd, err := Command(root)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "shop"."orders" AS a SET "Note" = @param_0, "Total" = a."Total" + @param_1 WHERE a."Id" = @param_2`, cmd.Text)
	names := make([]string, len(cmd.Parameters))
	for i, p := range cmd.Parameters {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"param_0", "param_1", "param_2"}, names)
	assert.True(t, cmd.Collect)
}

func TestCommandDelete(t *testing.T) {
	root := &ir.Delete{
		Target: table("a", "Order"),
		Where:  &ir.Unary{Op: ir.OpIsNull, Operand: col("a", "Note")},
	}
	cmd, err := Command(root)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "shop"."orders" AS a WHERE a."Note" IS NULL`, cmd.Text)
	assert.True(t, cmd.Collect)
}

func TestCommandBatch(t *testing.T) {
	customer := &ir.Insert{
		Entity:  entity("Customer"),
		Columns: []string{"Id", "Name"},
		Rows:    []*ir.Values{{Items: []ir.Node{param("param_0", "uuid", 1), param("param_1", "text", "Ann")}}},
	}
	value := "A-1"
	order := &ir.Insert{
		Entity:  entity("Order"),
		Columns: []string{"Id", "Number"},
		Rows:    []*ir.Values{{Items: []ir.Node{param("param_2", "uuid", 2), &ir.QueryParameter{Name: "param_3", Type: "text", Value: func() any { return value }}}}},
	}
	cmd, err := Command(&ir.Batch{Statements: []ir.Node{customer, order}})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "shop"."customers" ("Id","Name") VALUES (@param_0,@param_1);
INSERT INTO "shop"."orders" ("Id","Number") VALUES (@param_2,@param_3)`, cmd.Text)
	require.Len(t, cmd.Parameters, 4)
	assert.False(t, cmd.Collect)

	value = "A-2"
	current := cmd.Values()
	assert.Equal(t, "param_3", current[3].Name)
	assert.Equal(t, "A-2", current[3].Value)
	assert.Equal(t, "A-2", cmd.NamedArgs()["param_3"])
}

func commandWith(text string, names ...string) *SQLCommand {
	c := &SQLCommand{Text: text}
	for _, n := range names {
		c.Parameters = append(c.Parameters, CommandParameter{Name: n, Value: n})
	}
	return c
}

func TestMergeRenumbers(t *testing.T) {
	a := commandWith("SELECT @param_0, @param_1, @param_2", "param_0", "param_1", "param_2")
	b := commandWith("SELECT @PARAM_0 + @param_1", "param_0", "param_1")

	m, err := a.Merge(b, StatementSeparator)
	require.NoError(t, err)
	assert.Equal(t, "SELECT @param_0, @param_1, @param_2;\nSELECT @param_3 + @param_4", m.Text)

	distinct := make(map[string]bool)
	for _, tok := range regexp.MustCompile(`(?i)@param_\d+\b`).FindAllString(m.Text, -1) {
		distinct[strings.ToLower(tok)] = true
	}
	assert.Len(t, distinct, len(a.Parameters)+len(b.Parameters))
	assert.Equal(t, "param_4", m.Parameters[4].Name)
	assert.Equal(t, "param_1", m.Parameters[4].Value)

	assert.Equal(t, "SELECT @PARAM_0 + @param_1", b.Text)
}

func TestMergeKeepsLongerTokensApart(t *testing.T) {
	a := commandWith("SELECT @param_0", "param_0")
	b := commandWith("x = @param_10 AND y = @param_1", "param_1", "param_10")

	m, err := a.Merge(b, "; ")
	require.NoError(t, err)
	assert.Equal(t, "SELECT @param_0; x = @param_2 AND y = @param_1", m.Text)
}

func TestMergeCollect(t *testing.T) {
	insert := commandWith("INSERT @param_0", "param_0")
	update := commandWith("UPDATE @param_0", "param_0")
	update.Collect = true

	m, err := insert.Merge(commandWith("INSERT @param_0", "param_0"), ";")
	require.NoError(t, err)
	assert.False(t, m.Collect)

	m, err = insert.Merge(update, ";")
	require.NoError(t, err)
	assert.True(t, m.Collect)
	assert.Equal(t, []string{"param_0", "param_1"}, []string{m.Values()[0].Name, m.Values()[1].Name})
}

func TestMergeErrors(t *testing.T) {
	a := commandWith("SELECT @param_0", "param_0")

	_, err := a.Merge(commandWith("SELECT @param_7", "param_0"), ";")
	require.Error(t, err)
	assert.True(t, IsMergeError(err))

	_, err = a.Merge(commandWith("SELECT 1", "param_0"), ";")
	require.Error(t, err)
	var me *MergeError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "@param_0", me.Token)
}
