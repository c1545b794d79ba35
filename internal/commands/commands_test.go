package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shopModel   = "../document/testdata/shop.yaml"
	shopQueries = "../document/testdata/queries.yaml"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--model", shopModel}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTranslateQuery(t *testing.T) {
	out, err := run(t, "translate", `Order | where(.Total > $min) | select(.Number)`, "--param", "min=100")
	require.NoError(t, err)

	assert.Contains(t, out, "-- cardinality: many")
	assert.Contains(t, out, `FROM "shop"."orders" AS a`)
	assert.Contains(t, out, `WHERE a."Total" > @param_0;`)
	assert.Contains(t, out, "-- @param_0 numeric = 100")
}

func TestTranslateJSON(t *testing.T) {
	out, err := run(t, "translate", "Customer | count", "-o", "json")
	require.NoError(t, err)

	var doc outputJSON
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "scalar", doc.Cardinality)
	assert.Contains(t, doc.SQL, `AS "Count"`)
	assert.Empty(t, doc.Parameters)
}

func TestTranslateFile(t *testing.T) {
	out, err := run(t, "translate", "--file", shopQueries, "-o", "json")
	require.NoError(t, err)

	var docs []outputJSON
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 3)

	assert.Equal(t, "big-orders", docs[0].Name)
	assert.Contains(t, docs[0].SQL, `ORDER BY a."Total" DESC`)

	assert.Equal(t, "regional-customers", docs[1].Name)
	assert.Contains(t, docs[1].SQL, `= ANY(@param_0)`)

	assert.Equal(t, "new-order", docs[2].Name)
	assert.Equal(t, "affected", docs[2].Cardinality)
	statements := strings.Split(docs[2].SQL, ";\n")
	require.Len(t, statements, 3)
	assert.Contains(t, statements[0], `INSERT INTO "shop"."customers"`)
	assert.Contains(t, statements[1], `INSERT INTO "shop"."orders"`)
	assert.Contains(t, statements[2], `INSERT INTO "shop"."order_lines"`)
}

func TestTranslateUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing", []string{"translate"}, "a query argument or --file is required"},
		{"both", []string{"translate", "Order", "--file", shopQueries}, "mutually exclusive"},
		{"bad param", []string{"translate", "Order", "--param", "oops"}, `parameter "oops" is not name=value`},
		{"bad format", []string{"translate", "Order", "-o", "xml"}, `unknown output format "xml"`},
		{"bad query", []string{"translate", "Order |"}, "invalid query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMissingModel(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--model", "testdata/missing.yaml", "entities"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open model")
}

func TestEntities(t *testing.T) {
	out, err := run(t, "entities")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, `"shop"."order_lines"`)

	out, err = run(t, "entities", "Order")
	require.NoError(t, err)
	assert.Contains(t, out, `Order ("shop"."orders")`)
	assert.Regexp(t, `Customer\s+reference\s+Customer via CustomerId`, out)
	assert.Regexp(t, `Tags\s+collection\s+Tag via OrderId`, out)
	assert.Regexp(t, `Note\s+text\?`, out)

	_, err = run(t, "entities", "Invoice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `entity "Invoice" not found`)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"n=10", "f=2.5", "s=acme", "b=true", "l=[EU, US]", "z=null"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"n": 10,
		"f": 2.5,
		"s": "acme",
		"b": true,
		"l": []any{"EU", "US"},
		"z": nil,
	}, params)
}
