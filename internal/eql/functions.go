package eql

import "github.com/atlekbai/entityql/internal/expr"

// FuncKind classifies what a function does with its receiver.
type FuncKind int

const (
	FuncQuery    FuncKind = iota // sequence operator, needs a query receiver
	FuncTerminal                 // reduces a query, a collection or a group
	FuncString                   // string method on a scalar
	FuncScalar                   // plain function of its arguments
)

// FuncDef describes a registered EQL function.
type FuncDef struct {
	Name    string
	Kind    FuncKind
	MinArgs int
	MaxArgs int // -1 for variadic

	Terminal expr.TerminalOp // FuncTerminal
	Method   string          // FuncString
}

// Functions is the registry of every EQL function. Functions with
// MinArgs 0 may be written without parentheses.
var Functions = map[string]*FuncDef{
	// Sequence operators
	"where":    {Name: "where", Kind: FuncQuery, MinArgs: 1, MaxArgs: 1},
	"select":   {Name: "select", Kind: FuncQuery, MinArgs: 1, MaxArgs: -1},
	"sort_by":  {Name: "sort_by", Kind: FuncQuery, MinArgs: 1, MaxArgs: 2},
	"group_by": {Name: "group_by", Kind: FuncQuery, MinArgs: 1, MaxArgs: 1},
	"distinct": {Name: "distinct", Kind: FuncQuery},
	"take":     {Name: "take", Kind: FuncQuery, MinArgs: 1, MaxArgs: 1},
	"skip":     {Name: "skip", Kind: FuncQuery, MinArgs: 1, MaxArgs: 1},
	"update":   {Name: "update", Kind: FuncQuery, MinArgs: 1, MaxArgs: -1},
	"delete":   {Name: "delete", Kind: FuncQuery},

	// Terminals
	"any":               {Name: "any", Kind: FuncTerminal, MaxArgs: 1, Terminal: expr.OpAny},
	"all":               {Name: "all", Kind: FuncTerminal, MinArgs: 1, MaxArgs: 1, Terminal: expr.OpAll},
	"count":             {Name: "count", Kind: FuncTerminal, MaxArgs: 1, Terminal: expr.OpCount},
	"first":             {Name: "first", Kind: FuncTerminal, MaxArgs: 1, Terminal: expr.OpFirst},
	"first_or_default":  {Name: "first_or_default", Kind: FuncTerminal, MaxArgs: 1, Terminal: expr.OpFirstOrDefault},
	"single":            {Name: "single", Kind: FuncTerminal, MaxArgs: 1, Terminal: expr.OpSingle},
	"single_or_default": {Name: "single_or_default", Kind: FuncTerminal, MaxArgs: 1, Terminal: expr.OpSingleOrDefault},
	"sum":               {Name: "sum", Kind: FuncTerminal, MinArgs: 1, MaxArgs: 1, Terminal: expr.OpSum},
	"min":               {Name: "min", Kind: FuncTerminal, MinArgs: 1, MaxArgs: 1, Terminal: expr.OpMin},
	"max":               {Name: "max", Kind: FuncTerminal, MinArgs: 1, MaxArgs: 1, Terminal: expr.OpMax},
	"avg":               {Name: "avg", Kind: FuncTerminal, MinArgs: 1, MaxArgs: 1, Terminal: expr.OpAverage},

	// String methods: the receiver is the piped value or the first argument.
	"contains":    {Name: "contains", Kind: FuncString, MinArgs: 1, MaxArgs: 2, Method: "Contains"},
	"starts_with": {Name: "starts_with", Kind: FuncString, MinArgs: 1, MaxArgs: 2, Method: "StartsWith"},
	"ends_with":   {Name: "ends_with", Kind: FuncString, MinArgs: 1, MaxArgs: 2, Method: "EndsWith"},
	"upper":       {Name: "upper", Kind: FuncString, MaxArgs: 1, Method: "ToUpper"},
	"lower":       {Name: "lower", Kind: FuncString, MaxArgs: 1, Method: "ToLower"},
	"trim":        {Name: "trim", Kind: FuncString, MaxArgs: 1, Method: "Trim"},
	"length":      {Name: "length", Kind: FuncString, MaxArgs: 1, Method: "Length"},

	"if": {Name: "if", Kind: FuncScalar, MinArgs: 3, MaxArgs: 3},
}

// GetFunction returns the FuncDef for name and whether it was found.
func GetFunction(name string) (*FuncDef, bool) {
	f, ok := Functions[name]
	return f, ok
}

// arity reports whether n arguments fit def.
func (def *FuncDef) arity(n int) bool {
	return n >= def.MinArgs && (def.MaxArgs < 0 || n <= def.MaxArgs)
}
