package expr

import "github.com/atlekbai/entityql/internal/schema"

// Node is the interface all query expression nodes implement.
// Trees are immutable once built; rewrites return new trees.
type Node interface {
	node() // marker method
}

// --- Query operators ---

// Source is the root sequence of one entity.
type Source struct {
	Entity string
}

// Where filters its source by a boolean lambda.
type Where struct {
	Source    Node
	Predicate *Lambda
}

// Select projects every row of its source through a lambda.
type Select struct {
	Source   Node
	Selector *Lambda
}

// OrderBy sorts its source. Then marks a secondary key (ThenBy) that
// extends the ordering of its source instead of replacing it.
type OrderBy struct {
	Source Node
	Key    *Lambda
	Desc   bool
	Then   bool
}

// GroupBy partitions its source by a key lambda.
type GroupBy struct {
	Source Node
	Key    *Lambda
}

type Distinct struct {
	Source Node
}

// Take caps the number of rows. Count is usually a *Constant.
type Take struct {
	Source Node
	Count  Node
}

// Skip drops leading rows. Count is usually a *Constant.
type Skip struct {
	Source Node
	Count  Node
}

// TerminalOp names a sequence-reducing operator.
type TerminalOp string

const (
	OpAny             TerminalOp = "Any"
	OpAll             TerminalOp = "All"
	OpCount           TerminalOp = "Count"
	OpSingle          TerminalOp = "Single"
	OpSingleOrDefault TerminalOp = "SingleOrDefault"
	OpFirst           TerminalOp = "First"
	OpFirstOrDefault  TerminalOp = "FirstOrDefault"
	OpSum             TerminalOp = "Sum"
	OpMin             TerminalOp = "Min"
	OpMax             TerminalOp = "Max"
	OpAverage         TerminalOp = "Average"
)

// TerminalOps lists every terminal operator.
var TerminalOps = []TerminalOp{
	OpAny, OpAll, OpCount, OpSingle, OpSingleOrDefault,
	OpFirst, OpFirstOrDefault, OpSum, OpMin, OpMax, OpAverage,
}

// IsTerminal reports whether name is a terminal operator.
func IsTerminal(name string) bool {
	for _, op := range TerminalOps {
		if string(op) == name {
			return true
		}
	}
	return false
}

// Terminal reduces its source to a scalar or a single row.
// Predicate is used by Any/All/Count/Single/First variants, Selector by
// the aggregates.
type Terminal struct {
	Op        TerminalOp
	Source    Node
	Predicate *Lambda
	Selector  *Lambda
}

// --- Write roots ---

// Insert writes every record reachable from Records.
type Insert struct {
	Records []*schema.Record
}

// Assignment sets one member of the updated rows.
type Assignment struct {
	Member string
	Value  *Lambda
}

// Update changes the rows of Source (a Source, optionally under Where
// operators) matching Predicate.
type Update struct {
	Source    Node
	Predicate *Lambda
	Set       []Assignment
}

// Delete removes the rows of Source matching Predicate.
type Delete struct {
	Source    Node
	Predicate *Lambda
}

// --- Scalars ---

// Constant holds a literal value. A Constant may also hold a query
// (an operator Node or a Query) until sub-query hoisting replaces it.
type Constant struct {
	Value any
}

// Member reads a named member of Target.
type Member struct {
	Target Node
	Name   string
}

type BinaryOp string

const (
	OpEq       BinaryOp = "=="
	OpNe       BinaryOp = "!="
	OpLt       BinaryOp = "<"
	OpLe       BinaryOp = "<="
	OpGt       BinaryOp = ">"
	OpGe       BinaryOp = ">="
	OpAnd      BinaryOp = "&&"
	OpOr       BinaryOp = "||"
	OpAdd      BinaryOp = "+"
	OpSub      BinaryOp = "-"
	OpMul      BinaryOp = "*"
	OpDiv      BinaryOp = "/"
	OpMod      BinaryOp = "%"
	OpCoalesce BinaryOp = "??"
)

// IsComparison reports whether op compares its operands.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Mirror returns the operator that compares the swapped operands the same way.
func (op BinaryOp) Mirror() BinaryOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return op
}

type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

type UnaryOp string

const (
	OpNot    UnaryOp = "!"
	OpNegate UnaryOp = "-"
)

type Unary struct {
	Op      UnaryOp
	Operand Node
}

// Conditional is the ternary test ? then : else.
type Conditional struct {
	Test Node
	Then Node
	Else Node
}

// Parameter is a lambda parameter. Parameters are compared by identity
// when bound; a Parameter that no lambda declares is a free, caller-bound
// query parameter.
type Parameter struct {
	Name string
}

type Lambda struct {
	Params []*Parameter
	Body   Node
}

// Call invokes Method on Receiver. Receiver may be nil for static helpers.
type Call struct {
	Method   string
	Receiver Node
	Args     []Node
}

// MemberInit is one member of a New expression. An empty Name derives the
// name from the value.
type MemberInit struct {
	Name  string
	Value Node
}

// New constructs an object. Type is empty for anonymous shapes.
type New struct {
	Type    string
	Members []MemberInit
}

// Subquery embeds an already preprocessed query.
type Subquery struct {
	Query Node
}

func (*Source) node()      {}
func (*Where) node()       {}
func (*Select) node()      {}
func (*OrderBy) node()     {}
func (*GroupBy) node()     {}
func (*Distinct) node()    {}
func (*Take) node()        {}
func (*Skip) node()        {}
func (*Terminal) node()    {}
func (*Insert) node()      {}
func (*Update) node()      {}
func (*Delete) node()      {}
func (*Constant) node()    {}
func (*Member) node()      {}
func (*Binary) node()      {}
func (*Unary) node()       {}
func (*Conditional) node() {}
func (*Parameter) node()   {}
func (*Lambda) node()      {}
func (*Call) node()        {}
func (*New) node()         {}
func (*Subquery) node()    {}

// IsQuery reports whether n is a sequence operator (a composable query).
func IsQuery(n Node) bool {
	switch n.(type) {
	case *Source, *Where, *Select, *OrderBy, *GroupBy, *Distinct, *Take, *Skip, *Terminal:
		return true
	}
	return false
}

// QueryOf returns the query held by a literal, if any.
func QueryOf(v any) (Node, bool) {
	switch q := v.(type) {
	case Query:
		if q.root == nil {
			return nil, false
		}
		return q.root, true
	case *Query:
		if q == nil || q.root == nil {
			return nil, false
		}
		return q.root, true
	case Node:
		if q != nil && IsQuery(q) {
			return q, true
		}
	}
	return nil, false
}

// NullGuard recognizes the guarded ternary `lit == nil ? a : b` produced by
// binary canonicalization and returns the tested literal.
func NullGuard(n Node) (*Conditional, *Constant, bool) {
	c, ok := n.(*Conditional)
	if !ok {
		return nil, nil, false
	}
	test, ok := c.Test.(*Binary)
	if !ok || test.Op != OpEq {
		return nil, nil, false
	}
	lit, ok := test.Left.(*Constant)
	if !ok {
		return nil, nil, false
	}
	if nilLit, ok := test.Right.(*Constant); !ok || nilLit.Value != nil {
		return nil, nil, false
	}
	return c, lit, true
}
