package eql

// Node is the interface all AST nodes implement.
type Node interface {
	node() // marker method
}

// PipeExpr represents a pipeline: source | step | step.
// Steps[0] is the source, Steps[1:] are pipe operations.
type PipeExpr struct {
	Steps []Node
}

// FieldAccess reads a member chain off the current item: .Customer.Name
type FieldAccess struct {
	Chain []string
}

// DotExpr represents the `.` pronoun (current pipe item).
type DotExpr struct{}

// IdentExpr represents a bare identifier: an entity name, or a step
// written without parentheses.
type IdentExpr struct {
	Name string
}

// FuncCall represents name(arg, ...).
type FuncCall struct {
	Func *FuncDef
	Name string
	Args []Node
}

// NamedArg is a `name: value` argument of select and update.
type NamedArg struct {
	Name  string
	Value Node
}

// BinaryOp represents left op right.
type BinaryOp struct {
	Op    string // "==", "!=", ">", ">=", "<", "<=", "and", "or", "in", "+", "-", "*", "/", "%", "??"
	Left  Node
	Right Node
}

// UnaryExpr represents -expr or not expr.
type UnaryExpr struct {
	Op   string // "-", "not"
	Expr Node
}

// Literal represents a string, number, boolean or null literal.
type Literal struct {
	Kind  TokenKind // TokString, TokNumber, TokTrue, TokFalse, TokNull
	Value string
}

// ParamRef is a $name placeholder bound at compile time.
type ParamRef struct {
	Name string
}

// ListExpr is a bracketed list, the right side of `in`.
type ListExpr struct {
	Items []Node
}

func (*PipeExpr) node()    {}
func (*FieldAccess) node() {}
func (*DotExpr) node()     {}
func (*IdentExpr) node()   {}
func (*FuncCall) node()    {}
func (*NamedArg) node()    {}
func (*BinaryOp) node()    {}
func (*UnaryExpr) node()   {}
func (*Literal) node()     {}
func (*ParamRef) node()    {}
func (*ListExpr) node()    {}
