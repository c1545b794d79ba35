package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/atlekbai/entityql/internal/render"
	"github.com/atlekbai/entityql/internal/schema"
	"github.com/atlekbai/entityql/internal/service"
	"github.com/atlekbai/entityql/internal/translate"
)

// maxBodyBytes bounds a translate request body.
const maxBodyBytes = 1 << 20

type Handler struct {
	svc   *service.TranslateService
	cache *schema.Cache
	log   *slog.Logger
}

func New(svc *service.TranslateService, cache *schema.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, cache: cache, log: logger}
}

// Routes registers the handler's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/translate", h.Translate)
	mux.HandleFunc("GET /v1/entities", h.Entities)
}

type TranslateRequest struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

type ParameterResponse struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
	JSON  bool   `json:"json,omitempty"`
}

type TranslateResponse struct {
	Cardinality string              `json:"cardinality"`
	SQL         string              `json:"sql"`
	Grouped     bool                `json:"grouped,omitempty"`
	Collect     bool                `json:"collect,omitempty"`
	Parameters  []ParameterResponse `json:"parameters"`
}

// Translate handles POST /v1/translate
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Malformed request body", err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PARAM", "Query is required", "")
		return
	}

	params := make(map[string]any, len(req.Params))
	for name, v := range req.Params {
		params[name] = numbers(v)
	}

	out, err := h.svc.TranslateText(r.Context(), req.Query, params)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "Query does not parse", err.Error())
		return
	case translate.IsTranslationError(err), translate.IsDependencyCycle(err):
		writeError(w, http.StatusUnprocessableEntity, "TRANSLATION_FAILED", "Query cannot be translated", err.Error())
		return
	default:
		h.log.ErrorContext(r.Context(), "translate", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Translation failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, response(out))
}

// Entities handles GET /v1/entities
func (h *Handler) Entities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"entities": h.cache.Names()})
}

func response(out *service.Output) TranslateResponse {
	resp := TranslateResponse{
		Cardinality: out.Cardinality.String(),
		SQL:         out.Text(),
		Parameters:  []ParameterResponse{},
	}
	switch {
	case out.Query != nil:
		resp.Parameters = sortedParameters(out.Query.Parameters)
	case out.Grouped != nil:
		resp.Grouped = true
		resp.Parameters = sortedParameters(out.Grouped.KeysParameters)
	case out.Command != nil:
		resp.Collect = out.Command.Collect
		for _, p := range out.Command.Parameters {
			resp.Parameters = append(resp.Parameters, ParameterResponse{Name: p.Name, Type: p.Type, Value: p.Value, JSON: p.IsJSON})
		}
	}
	return resp
}

func sortedParameters(m map[string]render.Parameter) []ParameterResponse {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return paramIndex(names[i]) < paramIndex(names[j]) })
	out := make([]ParameterResponse, 0, len(names))
	for _, name := range names {
		p := m[name]
		out = append(out, ParameterResponse{Name: name, Type: p.Type, Value: p.Value})
	}
	return out
}

// paramIndex orders param_2 before param_10.
func paramIndex(name string) int {
	const prefix = "param_"
	if len(name) > len(prefix) {
		if n, err := strconv.Atoi(name[len(prefix):]); err == nil {
			return n
		}
	}
	return -1
}

// numbers replaces json.Number with int when the value is integral and
// float64 otherwise.
func numbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.Atoi(v.String()); err == nil {
			return i
		}
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	case []any:
		for i := range v {
			v[i] = numbers(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = numbers(v[k])
		}
		return v
	}
	return v
}
