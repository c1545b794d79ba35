package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atlekbai/entityql/internal/document"
	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/service"
)

type translateOptions struct {
	file   string
	params []string
	output string
}

func newTranslateCmd(root *rootOptions) *cobra.Command {
	opts := &translateOptions{}

	cmd := &cobra.Command{
		Use:   "translate [query]",
		Short: "Translate an EQL query or a query document to SQL",
		Example: `  # Translate one query
  entityql translate 'Order | where(.Total > $min) | sort_by(.Total, desc)' --param min=100

  # Translate every entry of a query document
  entityql translate --file queries.yaml

  # Emit JSON
  entityql translate 'Customer | count' -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.require()
			if err != nil {
				return err
			}
			return runTranslate(cmd, s, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Query document (YAML)")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Query parameter as name=value; the value is read as YAML")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "Output format (text, json)")

	return cmd
}

type namedOutput struct {
	name string
	out  *service.Output
}

func runTranslate(cmd *cobra.Command, s *session, opts *translateOptions, args []string) error {
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	var results []namedOutput
	switch {
	case opts.file != "" && len(args) > 0:
		return errors.New("a query argument and --file are mutually exclusive")

	case opts.file != "":
		queries, err := document.LoadQueries(opts.file, s.cache)
		if err != nil {
			return err
		}
		srcs := make([]expr.Node, len(queries))
		for i, q := range queries {
			srcs[i] = q.Node
		}
		outs, err := s.svc.TranslateAll(cmd.Context(), srcs)
		if err != nil {
			return err
		}
		for i, o := range outs {
			results = append(results, namedOutput{name: queries[i].Name, out: o})
		}

	case len(args) == 1:
		params, err := parseParams(opts.params)
		if err != nil {
			return err
		}
		o, err := s.svc.TranslateText(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		results = append(results, namedOutput{out: o})

	default:
		return errors.New("a query argument or --file is required")
	}

	if opts.output == "json" {
		return printJSON(cmd.OutOrStdout(), results)
	}
	return printText(cmd.OutOrStdout(), results)
}

// parseParams reads name=value pairs, decoding each value as YAML so
// numbers, booleans, null and lists keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q is not name=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		params[name] = v
	}
	return params, nil
}

type parameterJSON struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type outputJSON struct {
	Name        string          `json:"name,omitempty"`
	Cardinality string          `json:"cardinality"`
	SQL         string          `json:"sql"`
	Parameters  []parameterJSON `json:"parameters"`
}

func parameters(o *service.Output) []parameterJSON {
	out := []parameterJSON{}
	switch {
	case o.Command != nil:
		for _, p := range o.Command.Parameters {
			out = append(out, parameterJSON{Name: p.Name, Type: p.Type, Value: p.Value})
		}
		return out
	case o.Query != nil:
		for name, p := range o.Query.Parameters {
			out = append(out, parameterJSON{Name: name, Type: p.Type, Value: p.Value})
		}
	case o.Grouped != nil:
		for name, p := range o.Grouped.KeysParameters {
			out = append(out, parameterJSON{Name: name, Type: p.Type, Value: p.Value})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Name) != len(out[j].Name) {
			return len(out[i].Name) < len(out[j].Name)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func printJSON(w io.Writer, results []namedOutput) error {
	docs := make([]outputJSON, len(results))
	for i, r := range results {
		docs[i] = outputJSON{
			Name:        r.name,
			Cardinality: r.out.Cardinality.String(),
			SQL:         r.out.Text(),
			Parameters:  parameters(r.out),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(docs) == 1 {
		return enc.Encode(docs[0])
	}
	return enc.Encode(docs)
}

func printText(w io.Writer, results []namedOutput) error {
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if r.name != "" {
			fmt.Fprintf(w, "-- %s\n", r.name)
		}
		fmt.Fprintf(w, "-- cardinality: %s\n", r.out.Cardinality)
		if r.out.Grouped != nil {
			fmt.Fprintln(w, "-- group keys; rows are read per key")
		}
		fmt.Fprintf(w, "%s;\n", r.out.Text())
		for _, p := range parameters(r.out) {
			fmt.Fprintf(w, "-- @%s %s = %v\n", p.Name, p.Type, p.Value)
		}
	}
	return nil
}
