package service

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/render"
	"github.com/atlekbai/entityql/internal/schema"
	"github.com/atlekbai/entityql/internal/schema/schematest"
	"github.com/atlekbai/entityql/internal/translate"
)

const orderColumns = `SELECT a."Id", a."Number", a."Total", a."Note", a."Discount", a."CustomerId", a."ShippingAddressId", a."Metadata"`

func newService() *TranslateService {
	return NewTranslateService(translate.New(schematest.Shop()), slog.New(slog.DiscardHandler))
}

func translateOne(t *testing.T, q expr.Query) *Output {
	t.Helper()
	out, err := newService().Translate(context.Background(), q.Node())
	require.NoError(t, err)
	return out
}

func lines(s ...string) string { return strings.Join(s, "\n") }

func TestTranslateNullComparison(t *testing.T) {
	out := translateOne(t, expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
		return expr.Ne(o.Field("Note"), expr.Null())
	}))

	require.NotNil(t, out.Query)
	assert.Equal(t, translate.Many, out.Cardinality)
	assert.Equal(t, lines(
		orderColumns,
		`FROM "shop"."orders" AS a`,
		`WHERE a."Note" IS NOT NULL`,
	), out.Query.Text)
	assert.Empty(t, out.Query.Parameters)
}

func TestTranslateParameterizesLiterals(t *testing.T) {
	out := translateOne(t, expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
		return expr.Eq(o.Field("Discount"), expr.Const(42))
	}))

	assert.Contains(t, out.Query.Text, `WHERE a."Discount" = @param_0`)
	require.Contains(t, out.Query.Parameters, "param_0")
	assert.Equal(t, "integer", out.Query.Parameters["param_0"].Type)
	assert.Equal(t, 42, out.Query.Parameters["param_0"].Value)
}

func TestTranslateIsDeterministic(t *testing.T) {
	q := expr.From("Order").
		Where(func(o *expr.Parameter) expr.Node {
			return expr.Eq(o.Field("Customer", "Name"), expr.Const("acme"))
		}).
		OrderByDesc(func(o *expr.Parameter) expr.Node { return o.Field("Total") })

	svc := newService()
	first, err := svc.Translate(context.Background(), q.Node())
	require.NoError(t, err)
	second, err := svc.Translate(context.Background(), q.Node())
	require.NoError(t, err)
	assert.Equal(t, first.Query.Text, second.Query.Text)
	assert.Equal(t, first.Query.Parameters, second.Query.Parameters)
	assert.Equal(t, map[string]render.Parameter{"param_0": {Type: "text", Value: "acme"}}, second.Query.Parameters)
}

func TestTranslateWhereAcrossReferenceKeepsRootColumns(t *testing.T) {
	out := translateOne(t, expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
		return expr.Eq(o.Field("Customer", "Name"), expr.Const("x"))
	}))

	text := out.Query.Text
	assert.Equal(t, lines(
		orderColumns,
		`FROM "shop"."orders" AS a`,
		`INNER JOIN "shop"."customers" AS b ON b."Id" = a."CustomerId"`,
		`WHERE b."Name" = @param_0`,
	), text)
	assert.NotContains(t, text[:strings.Index(text, "FROM")], "b.")
}

func TestTranslateReferenceJoin(t *testing.T) {
	out := translateOne(t, expr.From("Order").
		Where(func(o *expr.Parameter) expr.Node {
			return expr.Eq(o.Field("Customer", "Name"), expr.Const("acme"))
		}).
		Select(func(o *expr.Parameter) expr.Node {
			return expr.Object(
				expr.Init("Number", o.Field("Number")),
				expr.Init("Name", o.Field("Customer", "Name")),
			)
		}))

	assert.Equal(t, lines(
		`SELECT a."Number", b."Name"`,
		`FROM "shop"."orders" AS a`,
		`INNER JOIN "shop"."customers" AS b ON b."Id" = a."CustomerId"`,
		`WHERE b."Name" = @param_0`,
	), out.Query.Text)
	assert.Equal(t, "acme", out.Query.Parameters["param_0"].Value)
}

func TestTranslateNullableReferenceChain(t *testing.T) {
	out := translateOne(t, expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
		return expr.Eq(o.Field("ShippingAddress", "Country", "Code"), expr.Const("NL"))
	}))

	text := out.Query.Text
	assert.Contains(t, text, `LEFT JOIN "shop"."addresses" AS b ON b."Id" = a."ShippingAddressId"`)
	assert.Contains(t, text, `LEFT JOIN "shop"."countries" AS c ON c."Id" = b."CountryId"`)
	assert.Contains(t, text, `WHERE c."Code" = @param_0`)
	assert.Less(t, strings.Index(text, "AS b ON"), strings.Index(text, "AS c ON"))
}

func TestTranslateOrderedProjection(t *testing.T) {
	out := translateOne(t, expr.From("Order").
		Where(func(o *expr.Parameter) expr.Node { return expr.Gt(o.Field("Total"), expr.Const(100)) }).
		OrderByDesc(func(o *expr.Parameter) expr.Node { return o.Field("Total") }).
		ThenBy(func(o *expr.Parameter) expr.Node { return o.Field("Number") }).
		Select(func(o *expr.Parameter) expr.Node {
			return expr.Object(
				expr.Init("Number", o.Field("Number")),
				expr.Init("Customer", o.Field("Customer", "Name")),
			)
		}))

	text := out.Query.Text
	assert.True(t, strings.HasPrefix(text, `SELECT a."Number", b."Name" AS "Customer"`), text)
	assert.Contains(t, text, `INNER JOIN "shop"."customers" AS b ON b."Id" = a."CustomerId"`)
	assert.Contains(t, text, `WHERE a."Total" > @param_0`)
	assert.Contains(t, text, `ORDER BY a."Total" DESC, a."Number"`)
}

func TestTranslateScalarTerminals(t *testing.T) {
	orders := expr.From("Order")
	tests := []struct {
		name string
		q    expr.Query
		want string
	}{
		{
			name: "any",
			q:    orders.Any(nil),
			want: lines(
				`SELECT (count(*) > 0) AS "Any"`,
				`FROM (`,
				`  `+orderColumns,
				`  FROM "shop"."orders" AS a`,
				`) AS b`,
			),
		},
		{
			name: "count",
			q:    orders.Count(nil),
			want: lines(
				`SELECT (count(*)) AS "Count"`,
				`FROM (`,
				`  `+orderColumns,
				`  FROM "shop"."orders" AS a`,
				`) AS b`,
			),
		},
		{
			name: "all",
			q:    orders.All(func(o *expr.Parameter) expr.Node { return expr.Gt(o.Field("Total"), expr.Const(0)) }),
			want: lines(
				`SELECT (count(CASE WHEN a."Total" > @param_0 THEN 1 ELSE NULL END) = count(*)) AS "All"`,
				`FROM "shop"."orders" AS a`,
			),
		},
		{
			name: "sum",
			q:    orders.Sum(func(o *expr.Parameter) expr.Node { return o.Field("Total") }),
			want: lines(
				`SELECT (sum(a."Total")) AS "Sum"`,
				`FROM "shop"."orders" AS a`,
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := translateOne(t, tt.q)
			assert.Equal(t, translate.Scalar, out.Cardinality)
			require.NotNil(t, out.Query)
			assert.Equal(t, tt.want, out.Query.Text)
		})
	}
}

func TestTranslateSingleRowTerminals(t *testing.T) {
	first := translateOne(t, expr.From("Order").First(nil))
	assert.Equal(t, translate.One, first.Cardinality)
	assert.True(t, strings.HasSuffix(first.Query.Text, "\nLIMIT 1"), first.Query.Text)

	single := translateOne(t, expr.From("Order").Single(nil))
	assert.Equal(t, translate.One, single.Cardinality)
	assert.True(t, strings.HasSuffix(single.Query.Text, "\nLIMIT 2"), single.Query.Text)
}

func TestTranslatePaging(t *testing.T) {
	out := translateOne(t, expr.From("Order").
		OrderBy(func(o *expr.Parameter) expr.Node { return o.Field("Number") }).
		Skip(20).
		Take(10))

	text := out.Query.Text
	assert.Contains(t, text, `ORDER BY a."Number"`)
	assert.Regexp(t, `\nLIMIT @param_\d+\nOFFSET @param_\d+$`, text)
	assert.Len(t, out.Query.Parameters, 2)
}

func TestTranslateContainsLiteralList(t *testing.T) {
	ids := []any{schematest.OrderID, schematest.CustomerID}
	out := translateOne(t, expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
		return expr.In(o.Field("Id"), ids)
	}))

	assert.Contains(t, out.Query.Text, `WHERE a."Id" = ANY(@param_0)`)
	assert.Equal(t, "uuid[]", out.Query.Parameters["param_0"].Type)
}

func TestTranslateContainsSubquery(t *testing.T) {
	eu := expr.From("Customer").
		Where(func(c *expr.Parameter) expr.Node { return expr.Eq(c.Field("Region"), expr.Const("EU")) }).
		Select(func(c *expr.Parameter) expr.Node { return c.Field("Id") })
	out := translateOne(t, expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
		return expr.In(o.Field("CustomerId"), eu)
	}))

	assert.Equal(t, lines(
		orderColumns,
		`FROM "shop"."orders" AS a`,
		`WHERE a."CustomerId" IN (`,
		`  SELECT b."Id"`,
		`  FROM "shop"."customers" AS b`,
		`  WHERE b."Region" = @param_0`,
		`)`,
	), out.Query.Text)
}

func TestTranslateCollectionAny(t *testing.T) {
	out := translateOne(t, expr.From("Customer").Where(func(c *expr.Parameter) expr.Node {
		return expr.Invoke(c.Field("Orders"), "Any", func(o *expr.Parameter) expr.Node {
			return expr.Gt(o.Field("Total"), expr.Const(100))
		})
	}))

	text := out.Query.Text
	assert.Contains(t, text, `FROM "shop"."customers" AS a`)
	assert.Contains(t, text, `SELECT (count(*) > 0) AS "Any"`)
	assert.Contains(t, text, `FROM "shop"."orders" AS b`)
	assert.Contains(t, text, `WHERE b."CustomerId" = a."Id" AND b."Total" > @param_0`)
}

func TestTranslateBridgeCollection(t *testing.T) {
	out := translateOne(t, expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
		return expr.Invoke(o.Field("Tags"), "Any", func(tag *expr.Parameter) expr.Node {
			return expr.Eq(tag.Field("Name"), expr.Const("gift"))
		})
	}))

	text := out.Query.Text
	assert.Contains(t, text, `FROM "shop"."order_tags" AS b`)
	assert.Contains(t, text, `INNER JOIN "shop"."tags" AS c ON c."Id" = b."TagId"`)
	assert.Contains(t, text, `b."OrderId" = a."Id"`)
	assert.Contains(t, text, `c."Name" = @param_0`)
}

func TestTranslateGroupedAggregates(t *testing.T) {
	out := translateOne(t, expr.From("Order").
		GroupBy(func(o *expr.Parameter) expr.Node { return o.Field("CustomerId") }).
		Select(func(g *expr.Parameter) expr.Node {
			return expr.Object(
				expr.Init("Customer", g.Field("Key")),
				expr.Init("Orders", expr.Method(g, "Count")),
				expr.Init("Total", expr.Invoke(g, "Sum", func(o *expr.Parameter) expr.Node { return o.Field("Total") })),
			)
		}))

	require.NotNil(t, out.Query)
	assert.Equal(t, lines(
		`SELECT a."CustomerId" AS "Customer", (count(*)) AS "Orders", (sum(a."Total")) AS "Total"`,
		`FROM "shop"."orders" AS a`,
		`GROUP BY a."CustomerId"`,
	), out.Query.Text)
}

func TestTranslateWholeGroups(t *testing.T) {
	out := translateOne(t, expr.From("Order").
		GroupBy(func(o *expr.Parameter) expr.Node { return o.Field("CustomerId") }))

	require.NotNil(t, out.Grouped)
	assert.Equal(t, lines(
		`SELECT a."CustomerId" AS "Key"`,
		`FROM "shop"."orders" AS a`,
		`GROUP BY a."CustomerId"`,
	), out.Grouped.KeysText)
	assert.Equal(t, out.Grouped.KeysText, out.Text())

	values, err := out.Grouped.ValuesQuery([]any{schematest.CustomerID})
	require.NoError(t, err)
	assert.Equal(t, lines(
		orderColumns,
		`FROM "shop"."orders" AS a`,
		`WHERE a."CustomerId" = @param_0`,
	), values.Text)
	assert.Equal(t, schematest.CustomerID, values.Parameters["param_0"].Value)
}

func TestTranslateUpdate(t *testing.T) {
	out := translateOne(t, expr.From("Order").
		Where(func(o *expr.Parameter) expr.Node { return expr.Eq(o.Field("Number"), expr.Const("A-1")) }).
		Update(expr.Set("Note", func(*expr.Parameter) expr.Node { return expr.Const("rush") })))

	require.NotNil(t, out.Command)
	assert.Equal(t, translate.Affected, out.Cardinality)
	assert.Equal(t, `UPDATE "shop"."orders" AS a SET "Note" = @param_1 WHERE a."Number" = @param_0`, out.Command.Text)

	assert.True(t, out.Command.Collect)

	args := out.Command.NamedArgs()
	assert.Equal(t, "A-1", args["param_0"])
	assert.Equal(t, "rush", args["param_1"])
}

func TestTranslateDeleteAcrossReference(t *testing.T) {
	out := translateOne(t, expr.From("Order").
		Where(func(o *expr.Parameter) expr.Node { return expr.Eq(o.Field("Customer", "Name"), expr.Const("acme")) }).
		Delete())

	require.NotNil(t, out.Command)
	assert.Equal(t, lines(
		`DELETE FROM "shop"."orders" AS a WHERE a."Id" IN (`,
		`  SELECT b."Id"`,
		`  FROM "shop"."orders" AS b`,
		`  INNER JOIN "shop"."customers" AS c ON c."Id" = b."CustomerId"`,
		`  WHERE c."Name" = @param_0`,
		`)`,
	), out.Command.Text)
}

func shopOrder() *schema.Record {
	customer := &schema.Record{
		Entity: "Customer",
		Values: map[string]any{"Id": schematest.CustomerID, "Name": "acme", "Email": nil, "Region": "EU"},
	}
	line := func(n int) *schema.Record {
		return &schema.Record{
			Entity: "OrderLine",
			Values: map[string]any{"Id": n, "Product": "widget", "Quantity": n, "Price": 9.5},
		}
	}
	return &schema.Record{
		Entity: "Order",
		Values: map[string]any{
			"Id": schematest.OrderID, "Number": "A-1", "Total": 19.0, "Note": nil,
			"Discount": nil, "ShippingAddressId": nil, "Metadata": `{"gift":true}`,
		},
		Refs:  map[string]*schema.Record{"Customer": customer},
		Items: map[string][]*schema.Record{"Lines": {line(1), line(2)}},
	}
}

func TestTranslateInsertGraph(t *testing.T) {
	out, err := newService().Translate(context.Background(), expr.InsertRecords(shopOrder()))
	require.NoError(t, err)
	require.NotNil(t, out.Command)

	stmts := strings.Split(out.Command.Text, ";\n")
	require.Len(t, stmts, 3)
	assert.True(t, strings.HasPrefix(stmts[0], `INSERT INTO "shop"."customers"`), stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], `INSERT INTO "shop"."orders"`), stmts[1])
	assert.True(t, strings.HasPrefix(stmts[2], `INSERT INTO "shop"."order_lines"`), stmts[2])
	assert.Contains(t, stmts[1], "::jsonb")
	assert.False(t, out.Command.Collect)

	args := out.Command.NamedArgs()
	assert.Len(t, args, 4+8+10)
	assert.Equal(t, schematest.CustomerID, args["param_0"])
}

func TestTranslateInsertCycle(t *testing.T) {
	boss := &schema.Record{Entity: "Employee", Values: map[string]any{"Id": 1, "Name": "boss"}}
	worker := &schema.Record{
		Entity: "Employee",
		Values: map[string]any{"Id": 2, "Name": "worker"},
		Refs:   map[string]*schema.Record{"Manager": boss},
	}
	boss.Refs = map[string]*schema.Record{"Manager": worker}

	_, err := newService().Translate(context.Background(), expr.InsertRecords(worker))
	require.Error(t, err)
	var cycle *translate.DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, cycle.Entities, "Employee")
	assert.Contains(t, cycle.Cycle, "Employee")
}

func TestTranslateExtract(t *testing.T) {
	build := func(v any) expr.Node {
		return expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
			return expr.Eq(o.Field("Discount"), expr.Const(v))
		}).Node()
	}
	out, err := newService().Translate(context.Background(), build(42))
	require.NoError(t, err)

	params, err := out.Extract(build(7))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"param_0": 7}, params)

	_, err = out.Extract(build(nil))
	assert.ErrorIs(t, err, translate.ErrShapeChanged)
}

func TestTranslateExtractNullGuard(t *testing.T) {
	build := func(v *int) expr.Node {
		return expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
			return expr.Eq(o.Field("Discount"), expr.Const(v))
		}).Node()
	}
	five, six := 5, 6
	out, err := newService().Translate(context.Background(), build(&five))
	require.NoError(t, err)
	assert.Equal(t, 5, out.Query.Parameters["param_0"].Value)

	params, err := out.Extract(build(&six))
	require.NoError(t, err)
	assert.Equal(t, 6, params["param_0"])

	_, err = out.Extract(build(nil))
	assert.ErrorIs(t, err, translate.ErrShapeChanged)
}

func TestTranslateAll(t *testing.T) {
	srcs := []expr.Node{
		expr.From("Order").Node(),
		expr.From("Customer").Count(nil).Node(),
		expr.From("Tag").Node(),
	}
	outs, err := newService().TranslateAll(context.Background(), srcs)
	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.Contains(t, outs[0].Text(), `"shop"."orders"`)
	assert.Equal(t, translate.Scalar, outs[1].Cardinality)
	assert.Contains(t, outs[2].Text(), `"shop"."tags"`)
}

func TestTranslateAllReportsFailingQuery(t *testing.T) {
	srcs := []expr.Node{
		expr.From("Order").Node(),
		expr.From("Invoice").Node(),
	}
	_, err := newService().TranslateAll(context.Background(), srcs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query 1")
	assert.True(t, translate.IsTranslationError(err))
}

func TestTranslateText(t *testing.T) {
	out, err := newService().TranslateText(context.Background(),
		`Order | where(.Customer.Name == $name) | select(Number: .Number, Name: .Customer.Name)`,
		map[string]any{"name": "acme"})
	require.NoError(t, err)

	assert.Equal(t, lines(
		`SELECT a."Number", b."Name"`,
		`FROM "shop"."orders" AS a`,
		`INNER JOIN "shop"."customers" AS b ON b."Id" = a."CustomerId"`,
		`WHERE b."Name" = @param_0`,
	), out.Query.Text)
	assert.Equal(t, "acme", out.Query.Parameters["param_0"].Value)
}

func TestTranslateTextReplaysKeptQuery(t *testing.T) {
	const text = `Order | where(.Note == $note)`
	svc := newService()
	first, err := svc.TranslateText(context.Background(), text, map[string]any{"note": "rush"})
	require.NoError(t, err)
	require.Same(t, first, svc.plans[text])

	second, err := svc.TranslateText(context.Background(), text, map[string]any{"note": "late"})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Query.Text, second.Query.Text)
	assert.Equal(t, "late", second.Query.Parameters["param_0"].Value)
	assert.Equal(t, "rush", first.Query.Parameters["param_0"].Value)

	third, err := svc.TranslateText(context.Background(), text, map[string]any{"note": nil})
	require.NoError(t, err)
	assert.Contains(t, third.Query.Text, `WHERE a."Note" IS NULL`)
	assert.Empty(t, third.Query.Parameters)
	assert.Same(t, first, svc.plans[text])
}

func TestReplayRejectsChangedShape(t *testing.T) {
	build := func(v any) expr.Node {
		return expr.From("Order").Where(func(o *expr.Parameter) expr.Node {
			return expr.Gt(o.Field("Total"), expr.Const(v))
		}).Node()
	}
	out, err := newService().Translate(context.Background(), build(100))
	require.NoError(t, err)

	replayed, err := out.Replay(build(250))
	require.NoError(t, err)
	assert.Equal(t, 250, replayed.Query.Parameters["param_0"].Value)

	_, err = out.Replay(build(2.5))
	assert.ErrorIs(t, err, translate.ErrShapeChanged)

	cmd, err := newService().Translate(context.Background(), expr.InsertRecords(shopOrder()))
	require.NoError(t, err)
	_, err = cmd.Replay(expr.InsertRecords(shopOrder()))
	assert.ErrorIs(t, err, translate.ErrShapeChanged)
}

func TestTranslateTextInvalid(t *testing.T) {
	_, err := newService().TranslateText(context.Background(), `Order | where(`, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = newService().TranslateText(context.Background(), `Invoice | count`, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidQuery)
	assert.True(t, translate.IsTranslationError(err))
}
