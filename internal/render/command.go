package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/atlekbai/entityql/internal/ir"
)

// StatementSeparator joins the statements of a rendered batch.
const StatementSeparator = ";\n"

var paramToken = regexp.MustCompile(`(?i)@param_(\d+)\b`)

type CommandParameter struct {
	Name   string
	Value  any
	Type   string
	IsJSON bool
}

// SQLCommand is one or more write statements with their parameters in
// placeholder order. Collect is set when the caller must read the affected
// row count back; an insert's count is its row count and needs no reading.
// Values re-reads the current parameter values.
type SQLCommand struct {
	Text       string
	Parameters []CommandParameter
	Collect    bool
	Values     func() []CommandParameter
}

// Command renders a write statement or a batch of them.
func Command(root ir.Node) (*SQLCommand, error) {
	b, ok := root.(*ir.Batch)
	if !ok {
		return statement(root)
	}
	if len(b.Statements) == 0 {
		return nil, fmt.Errorf("render: empty batch")
	}
	var out *SQLCommand
	for i, s := range b.Statements {
		cmd, err := Command(s)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		if out == nil {
			out = cmd
			continue
		}
		if out, err = out.Merge(cmd, StatementSeparator); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func statement(n ir.Node) (*SQLCommand, error) {
	text, err := dml(n)
	if err != nil {
		return nil, err
	}
	params := parameters(n)
	values := func() []CommandParameter {
		out := make([]CommandParameter, len(params))
		for i, p := range params {
			out[i] = CommandParameter{Name: p.Name, Value: p.Value(), Type: p.Type, IsJSON: p.IsJSON}
		}
		return out
	}
	_, insert := n.(*ir.Insert)
	return &SQLCommand{Text: text, Parameters: values(), Collect: !insert, Values: values}, nil
}

// Merge appends other to c, renumbering other's @param_n placeholders to
// continue after c's highest one. Neither command is modified.
func (c *SQLCommand) Merge(other *SQLCommand, separator string) (*SQLCommand, error) {
	next := 0
	for _, p := range c.Parameters {
		if i, ok := paramIndex(p.Name); ok && i >= next {
			next = i + 1
		}
	}
	rename := make(map[string]string, len(other.Parameters))
	for i, p := range other.Parameters {
		rename[strings.ToLower(p.Name)] = "param_" + strconv.Itoa(next+i)
	}

	var err error
	located := make(map[string]bool, len(rename))
	text := paramToken.ReplaceAllStringFunc(other.Text, func(tok string) string {
		key := strings.ToLower(tok[1:])
		to, ok := rename[key]
		if !ok {
			if err == nil {
				err = &MergeError{Token: tok}
			}
			return tok
		}
		located[key] = true
		return "@" + to
	})
	if err != nil {
		return nil, err
	}
	for _, p := range other.Parameters {
		if !located[strings.ToLower(p.Name)] {
			return nil, &MergeError{Token: "@" + p.Name}
		}
	}

	renamed := func(ps []CommandParameter) []CommandParameter {
		out := make([]CommandParameter, len(ps))
		for i, p := range ps {
			p.Name = rename[strings.ToLower(p.Name)]
			out[i] = p
		}
		return out
	}
	first, second := c.values(), other.values()
	return &SQLCommand{
		Text:       c.Text + separator + text,
		Parameters: append(append([]CommandParameter(nil), c.Parameters...), renamed(other.Parameters)...),
		Collect:    c.Collect || other.Collect,
		Values: func() []CommandParameter {
			return append(first(), renamed(second())...)
		},
	}, nil
}

func (c *SQLCommand) values() func() []CommandParameter {
	if c.Values != nil {
		return c.Values
	}
	fixed := append([]CommandParameter(nil), c.Parameters...)
	return func() []CommandParameter { return append([]CommandParameter(nil), fixed...) }
}

func paramIndex(name string) (int, bool) {
	m := paramToken.FindStringSubmatch("@" + name)
	if m == nil || len(m[0]) != len(name)+1 {
		return 0, false
	}
	i, err := strconv.Atoi(m[1])
	return i, err == nil
}
