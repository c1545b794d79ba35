package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlekbai/entityql/internal/schema/schematest"
	"github.com/atlekbai/entityql/internal/service"
	"github.com/atlekbai/entityql/internal/translate"
)

func newMux() *http.ServeMux {
	cache := schematest.Shop()
	logger := slog.New(slog.DiscardHandler)
	h := New(service.NewTranslateService(translate.New(cache), logger), cache, logger)
	mux := http.NewServeMux()
	h.Routes(mux)
	return mux
}

func post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/translate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newMux().ServeHTTP(rec, req)
	return rec
}

func TestTranslate(t *testing.T) {
	rec := post(t, `{"query": "Order | where(.Discount == $d) | take($n)", "params": {"d": 5, "n": 10}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp TranslateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "many", resp.Cardinality)
	assert.Regexp(t, `WHERE a."Discount" = @param_\d`, resp.SQL)
	require.Len(t, resp.Parameters, 2)
	assert.Equal(t, []string{"param_0", "param_1"}, []string{resp.Parameters[0].Name, resp.Parameters[1].Name})
	var values []any
	for _, p := range resp.Parameters {
		values = append(values, p.Value)
	}
	assert.ElementsMatch(t, []any{float64(5), float64(10)}, values)
}

func TestTranslateScalar(t *testing.T) {
	rec := post(t, `{"query": "Customer | count"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TranslateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "scalar", resp.Cardinality)
	assert.Contains(t, resp.SQL, `AS "Count"`)
	assert.Empty(t, resp.Parameters)
}

func TestTranslateWrite(t *testing.T) {
	rec := post(t, `{"query": "Order | where(.Number == \"A-1\") | update(Note: \"rush\")"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TranslateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "affected", resp.Cardinality)
	assert.True(t, strings.HasPrefix(resp.SQL, `UPDATE "shop"."orders" AS a`), resp.SQL)
	assert.True(t, resp.Collect)
	require.Len(t, resp.Parameters, 2)
}

func TestTranslateErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed body", `{"query":`, http.StatusBadRequest, "INVALID_BODY"},
		{"missing query", `{}`, http.StatusBadRequest, "INVALID_PARAM"},
		{"syntax", `{"query": "Order | where("}`, http.StatusBadRequest, "INVALID_QUERY"},
		{"unbound parameter", `{"query": "Order | take($n)"}`, http.StatusBadRequest, "INVALID_QUERY"},
		{"unknown entity", `{"query": "Invoice"}`, http.StatusUnprocessableEntity, "TRANSLATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestEntities(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/entities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["entities"], "Order")
	assert.Contains(t, resp["entities"], "Employee")
}

func TestNumbers(t *testing.T) {
	assert.Equal(t, 7, numbers(json.Number("7")))
	assert.Equal(t, 2.5, numbers(json.Number("2.5")))
	assert.Equal(t, []any{1, "x"}, numbers([]any{json.Number("1"), "x"}))
}

func TestParamIndex(t *testing.T) {
	assert.Equal(t, 10, paramIndex("param_10"))
	assert.Equal(t, -1, paramIndex("other"))
}
