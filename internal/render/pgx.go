package render

import (
	"github.com/jackc/pgx/v5"
)

// NamedArgs binds the parameters for pgx, whose @name placeholders match
// the rendered text.
func (q *FlatQuery) NamedArgs() pgx.NamedArgs {
	args := make(pgx.NamedArgs, len(q.Parameters))
	for name, p := range q.Parameters {
		args[name] = p.Value
	}
	return args
}

// NamedArgs binds the current parameter values for pgx.
func (c *SQLCommand) NamedArgs() pgx.NamedArgs {
	params := c.values()()
	args := make(pgx.NamedArgs, len(params))
	for _, p := range params {
		args[p.Name] = p.Value
	}
	return args
}
