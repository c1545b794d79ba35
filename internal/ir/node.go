// Package ir holds the relational intermediate representation a query
// expression is lowered into before SQL rendering.
package ir

import (
	"fmt"

	"github.com/atlekbai/entityql/internal/schema"
)

// Kind tags every IR node.
type Kind int

const (
	KindBinary Kind = iota
	KindUnary
	KindConditional
	KindConstant
	KindColumn
	KindFilter
	KindNamedSource
	KindProjection
	KindMethodCall
	KindNew
	KindOrderBy
	KindParameter
	KindQueryParameter
	KindQuerySource
	KindJoin
	KindGroupBy
	KindRowsFetchLimit
	KindRename
	KindSpecial
	KindInsert
	KindValues
	KindUpdate
	KindDelete
	KindBatch
)

var kindNames = [...]string{
	KindBinary:         "Binary",
	KindUnary:          "Unary",
	KindConditional:    "Conditional",
	KindConstant:       "Constant",
	KindColumn:         "Column",
	KindFilter:         "Filter",
	KindNamedSource:    "NamedSource",
	KindProjection:     "Projection",
	KindMethodCall:     "MethodCall",
	KindNew:            "New",
	KindOrderBy:        "OrderBy",
	KindParameter:      "Parameter",
	KindQueryParameter: "QueryParameter",
	KindQuerySource:    "QuerySource",
	KindJoin:           "Join",
	KindGroupBy:        "GroupBy",
	KindRowsFetchLimit: "RowsFetchLimit",
	KindRename:         "Rename",
	KindSpecial:        "Special",
	KindInsert:         "Insert",
	KindValues:         "Values",
	KindUpdate:         "Update",
	KindDelete:         "Delete",
	KindBatch:          "Batch",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node is a closed IR node. Nodes are built by a Builder and never
// mutated afterwards.
type Node interface {
	Kind() Kind
	irNode()
}

type BinaryOp string

const (
	OpEq     BinaryOp = "="
	OpNe     BinaryOp = "<>"
	OpLt     BinaryOp = "<"
	OpLe     BinaryOp = "<="
	OpGt     BinaryOp = ">"
	OpGe     BinaryOp = ">="
	OpAnd    BinaryOp = "AND"
	OpOr     BinaryOp = "OR"
	OpAdd    BinaryOp = "+"
	OpSub    BinaryOp = "-"
	OpMul    BinaryOp = "*"
	OpDiv    BinaryOp = "/"
	OpMod    BinaryOp = "%"
	OpConcat BinaryOp = "||"
	OpLike   BinaryOp = "LIKE"
	OpIn     BinaryOp = "IN"  // right side is a sub-select
	OpAnyOf  BinaryOp = "ANY" // right side is an array parameter
)

// Precedence orders operators for parenthesization; higher binds tighter.
func (op BinaryOp) Precedence() int {
	switch op {
	case OpOr:
		return 1
	case OpAnd:
		return 2
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpLike, OpIn, OpAnyOf:
		return 3
	case OpAdd, OpSub, OpConcat:
		return 4
	default:
		return 5
	}
}

// IsPredicate reports whether op yields a boolean.
func (op BinaryOp) IsPredicate() bool {
	return op.Precedence() <= 3
}

type UnaryOp string

const (
	OpNot       UnaryOp = "NOT"
	OpNegate    UnaryOp = "-"
	OpIsNull    UnaryOp = "IS NULL"
	OpIsNotNull UnaryOp = "IS NOT NULL"
)

type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
)

type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

type Unary struct {
	Op      UnaryOp
	Operand Node
}

// Conditional renders as CASE WHEN Test THEN Then ELSE Else END.
type Conditional struct {
	Test Node
	Then Node
	Else Node
}

// Constant is a literal inlined into the SQL text (NULL, booleans, small
// numbers the translator itself introduces).
type Constant struct {
	Value any
}

// Column references a member of the row bound to Source. A non-empty Path
// lists the relations crossed to reach it; chains are resolved into joined
// aliases before rendering.
type Column struct {
	Source string
	Path   []string
	Name   string
}

// Filter keeps the rows of Source matching Predicate.
type Filter struct {
	Source    Node
	Predicate Node
}

// NamedSource binds Source under Alias. Binding records what the alias
// stands for: the lambda parameter for a root row, or the owner alias plus
// relation path ("a.Customer") for a joined relation.
type NamedSource struct {
	Alias   string
	Binding string
	Source  Node
}

// Projection selects Bindings over Source.
type Projection struct {
	Source      Node
	Bindings    []*Rename
	Distinct    bool
	ToClass     bool
	ToAnonymous bool
}

// MethodCall invokes a SQL function.
type MethodCall struct {
	Name string
	Args []Node
}

// New is a composite value; as a grouping key it expands to its members.
type New struct {
	Members []*Rename
}

// OrderBy sorts Source by Keys; Desc[i] is the direction of Keys[i].
type OrderBy struct {
	Source Node
	Keys   []Node
	Desc   []bool
}

// Parameter is a caller-bound named parameter that the translator does
// not own a value for.
type Parameter struct {
	Name string
}

// QueryParameter is a late-bound literal. Value produces the current value.
type QueryParameter struct {
	Name   string
	Type   string
	Value  func() any
	IsJSON bool
}

// QuerySource is the root table of an entity.
type QuerySource struct {
	Entity *schema.EntityDef
}

type Join struct {
	Type  JoinKind
	Left  Node
	Right Node
	On    Node
}

// ValuesProducer builds the per-group values query for one resolved key tuple.
type ValuesProducer func(keys []any) (Node, error)

// GroupBy partitions Source by Keys. Values is set when the caller reads
// whole groups rather than aggregates.
type GroupBy struct {
	Source Node
	Keys   Node
	Values ValuesProducer
}

// RowsFetchLimit caps Source. Either bound may be nil.
type RowsFetchLimit struct {
	Source Node
	Limit  Node
	Offset Node
}

// Rename names an output expression. An empty Name is derived during
// column-chain resolution.
type Rename struct {
	Name string
	Expr Node
}

// Special is a verbatim SQL token such as `*`.
type Special struct {
	Text string
}

// Insert writes Rows into the table of Entity.
type Insert struct {
	Entity  *schema.EntityDef
	Columns []string
	Rows    []*Values
}

type Values struct {
	Items []Node
}

// Update sets columns of Target (a NamedSource over a QuerySource) for the
// rows matching Where. Where may be nil.
type Update struct {
	Target Node
	Where  Node
	Set    []*Rename
}

type Delete struct {
	Target Node
	Where  Node
}

// Batch is an ordered list of statements sent in one round trip.
type Batch struct {
	Statements []Node
}

func (*Binary) Kind() Kind         { return KindBinary }
func (*Unary) Kind() Kind          { return KindUnary }
func (*Conditional) Kind() Kind    { return KindConditional }
func (*Constant) Kind() Kind       { return KindConstant }
func (*Column) Kind() Kind         { return KindColumn }
func (*Filter) Kind() Kind         { return KindFilter }
func (*NamedSource) Kind() Kind    { return KindNamedSource }
func (*Projection) Kind() Kind     { return KindProjection }
func (*MethodCall) Kind() Kind     { return KindMethodCall }
func (*New) Kind() Kind            { return KindNew }
func (*OrderBy) Kind() Kind        { return KindOrderBy }
func (*Parameter) Kind() Kind      { return KindParameter }
func (*QueryParameter) Kind() Kind { return KindQueryParameter }
func (*QuerySource) Kind() Kind    { return KindQuerySource }
func (*Join) Kind() Kind           { return KindJoin }
func (*GroupBy) Kind() Kind        { return KindGroupBy }
func (*RowsFetchLimit) Kind() Kind { return KindRowsFetchLimit }
func (*Rename) Kind() Kind         { return KindRename }
func (*Special) Kind() Kind        { return KindSpecial }
func (*Insert) Kind() Kind         { return KindInsert }
func (*Values) Kind() Kind         { return KindValues }
func (*Update) Kind() Kind         { return KindUpdate }
func (*Delete) Kind() Kind         { return KindDelete }
func (*Batch) Kind() Kind          { return KindBatch }

func (*Binary) irNode()         {}
func (*Unary) irNode()          {}
func (*Conditional) irNode()    {}
func (*Constant) irNode()       {}
func (*Column) irNode()         {}
func (*Filter) irNode()         {}
func (*NamedSource) irNode()    {}
func (*Projection) irNode()     {}
func (*MethodCall) irNode()     {}
func (*New) irNode()            {}
func (*OrderBy) irNode()        {}
func (*Parameter) irNode()      {}
func (*QueryParameter) irNode() {}
func (*QuerySource) irNode()    {}
func (*Join) irNode()           {}
func (*GroupBy) irNode()        {}
func (*RowsFetchLimit) irNode() {}
func (*Rename) irNode()         {}
func (*Special) irNode()        {}
func (*Insert) irNode()         {}
func (*Values) irNode()         {}
func (*Update) irNode()         {}
func (*Delete) irNode()         {}
func (*Batch) irNode()          {}

// IsRelational reports whether n produces rows (and may sit in a FROM
// clause or a sub-select).
func IsRelational(n Node) bool {
	switch n.Kind() {
	case KindQuerySource, KindNamedSource, KindJoin, KindFilter, KindProjection,
		KindOrderBy, KindGroupBy, KindRowsFetchLimit:
		return true
	}
	return false
}

// IsStatement reports whether n is a write statement or a batch of them.
func IsStatement(n Node) bool {
	switch n.Kind() {
	case KindInsert, KindUpdate, KindDelete, KindBatch:
		return true
	}
	return false
}

// Star is the `*` argument of count(*).
func Star() *Special { return &Special{Text: "*"} }

// CountAll builds count(*).
func CountAll() *MethodCall {
	return &MethodCall{Name: "count", Args: []Node{Star()}}
}
