package preprocess

import (
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/atlekbai/entityql/internal/expr"
)

const (
	NameUnwrapPredicate    = "unwrap-predicate"
	NameFoldConstants      = "fold-constants"
	NameCanonicalizeBinary = "canonicalize-binary"
	NameHoistSubqueries    = "hoist-subqueries"
)

// unwrapOps are the terminals whose inline predicate is equivalent to a
// preceding filter.
var unwrapOps = map[expr.TerminalOp]bool{
	expr.OpAny:             true,
	expr.OpCount:           true,
	expr.OpSingle:          true,
	expr.OpSingleOrDefault: true,
	expr.OpFirst:           true,
	expr.OpFirstOrDefault:  true,
}

// UnwrapPredicate rewrites q.Any(p) and friends into q.Where(p).Any(), so
// lowering only sees terminals without a predicate. Calls of those methods
// on a query operand are turned into terminals the same way. Calls on a
// member (collection navigation) are left for the translator.
func UnwrapPredicate() Pass {
	return Pass{
		Name: NameUnwrapPredicate,
		Apply: func(n expr.Node) expr.Node {
			return expr.Rewrite(n, unwrap)
		},
	}
}

func unwrap(n expr.Node) expr.Node {
	switch n := n.(type) {
	case *expr.Terminal:
		if n.Predicate == nil || !unwrapOps[n.Op] {
			return n
		}
		return &expr.Terminal{
			Op:       n.Op,
			Source:   &expr.Where{Source: n.Source, Predicate: n.Predicate},
			Selector: n.Selector,
		}
	case *expr.Call:
		op := expr.TerminalOp(n.Method)
		if n.Receiver == nil || !expr.IsQuery(n.Receiver) || !unwrapOps[op] {
			return n
		}
		switch len(n.Args) {
		case 0:
			return &expr.Terminal{Op: op, Source: n.Receiver}
		case 1:
			pred, ok := n.Args[0].(*expr.Lambda)
			if !ok {
				return n
			}
			return &expr.Terminal{Op: op, Source: &expr.Where{Source: n.Receiver, Predicate: pred}}
		}
	}
	return n
}

// FoldConstants evaluates member reads and method calls whose receiver and
// arguments are all literals. Query literals are never folded.
func FoldConstants() Pass {
	return Pass{
		Name:  NameFoldConstants,
		After: []string{NameUnwrapPredicate},
		Apply: func(n expr.Node) expr.Node {
			return expr.Rewrite(n, fold)
		},
	}
}

func fold(n expr.Node) expr.Node {
	switch n := n.(type) {
	case *expr.Member:
		recv, ok := literal(n.Target)
		if !ok {
			return n
		}
		if v, ok := memberOf(recv, n.Name); ok {
			return expr.Const(v)
		}
	case *expr.Call:
		recv, ok := literal(n.Receiver)
		if !ok {
			return n
		}
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			v, ok := literal(a)
			if !ok {
				return n
			}
			args[i] = v
		}
		if v, ok := call(recv, n.Method, args); ok {
			return expr.Const(v)
		}
	}
	return n
}

// literal returns the value of a non-nil, non-query constant.
func literal(n expr.Node) (any, bool) {
	c, ok := n.(*expr.Constant)
	if !ok || c.Value == nil {
		return nil, false
	}
	if _, isQuery := expr.QueryOf(c.Value); isQuery {
		return nil, false
	}
	return c.Value, true
}

func memberOf(value any, name string) (out any, ok bool) {
	defer func() {
		if recover() != nil {
			out, ok = nil, false
		}
	}()

	if s, isString := value.(string); isString {
		if name == "Length" {
			return utf8.RuneCountInString(s), true
		}
		return nil, false
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		f := rv.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			return nil, false
		}
		return f.Interface(), true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		if name == "Length" || name == "Count" {
			return rv.Len(), true
		}
	}
	return nil, false
}

func call(recv any, method string, args []any) (any, bool) {
	if s, ok := recv.(string); ok {
		if v, ok := stringCall(s, method, args); ok {
			return v, true
		}
	}
	return reflectCall(recv, method, args)
}

func stringCall(s, method string, args []any) (any, bool) {
	if len(args) == 0 {
		switch method {
		case "ToUpper":
			return strings.ToUpper(s), true
		case "ToLower":
			return strings.ToLower(s), true
		case "Trim":
			return strings.TrimSpace(s), true
		case "Length":
			return utf8.RuneCountInString(s), true
		}
		return nil, false
	}
	if len(args) != 1 {
		return nil, false
	}
	arg, ok := args[0].(string)
	if !ok {
		return nil, false
	}
	switch method {
	case "Contains":
		return strings.Contains(s, arg), true
	case "StartsWith":
		return strings.HasPrefix(s, arg), true
	case "EndsWith":
		return strings.HasSuffix(s, arg), true
	}
	return nil, false
}

var errorType = reflect.TypeFor[error]()

// reflectCall invokes an exported method of recv. Methods returning a
// value and an error fold only when the error is nil.
func reflectCall(recv any, method string, args []any) (out any, ok bool) {
	defer func() {
		if recover() != nil {
			out, ok = nil, false
		}
	}()

	m := reflect.ValueOf(recv).MethodByName(method)
	if !m.IsValid() {
		return nil, false
	}
	mt := m.Type()
	if mt.IsVariadic() || mt.NumIn() != len(args) {
		return nil, false
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		want := mt.In(i)
		v := reflect.ValueOf(a)
		switch {
		case v.Type().AssignableTo(want):
		case v.Type().ConvertibleTo(want):
			v = v.Convert(want)
		default:
			return nil, false
		}
		in[i] = v
	}

	switch mt.NumOut() {
	case 1:
		return m.Call(in)[0].Interface(), true
	case 2:
		if !mt.Out(1).Implements(errorType) {
			return nil, false
		}
		res := m.Call(in)
		if !res[1].IsNil() {
			return nil, false
		}
		return res[0].Interface(), true
	}
	return nil, false
}

// CanonicalizeBinary moves literal operands of comparisons to the right.
// An equality test against a nullable literal becomes the guarded ternary
// `lit == nil ? x op nil : x op lit`, so the translator can pick IS NULL
// or a parameterized comparison once the value is known. Guards produced
// by an earlier run are left alone.
func CanonicalizeBinary() Pass {
	rw := expr.Rewriter{
		Skip: func(n expr.Node) bool {
			_, _, ok := expr.NullGuard(n)
			return ok
		},
		Apply: canonicalize,
	}
	return Pass{
		Name:  NameCanonicalizeBinary,
		After: []string{NameFoldConstants},
		Apply: rw.Rewrite,
	}
}

func canonicalize(n expr.Node) expr.Node {
	b, ok := n.(*expr.Binary)
	if !ok || !b.Op.IsComparison() {
		return n
	}
	left, right, op := b.Left, b.Right, b.Op
	_, leftLit := left.(*expr.Constant)
	_, rightLit := right.(*expr.Constant)
	if leftLit && !rightLit {
		left, right, op = right, left, op.Mirror()
	}

	if lit, ok := right.(*expr.Constant); ok && (op == expr.OpEq || op == expr.OpNe) && nullable(lit.Value) {
		return expr.If(
			expr.Eq(expr.Const(lit.Value), expr.Null()),
			expr.Bin(op, left, expr.Null()),
			expr.Bin(op, left, expr.Const(lit.Value)),
		)
	}
	if op == b.Op && left == b.Left {
		return n
	}
	return &expr.Binary{Op: op, Left: left, Right: right}
}

// nullable reports whether v is a typed pointer literal, nil or not.
func nullable(v any) bool {
	return v != nil && reflect.ValueOf(v).Kind() == reflect.Pointer
}

// HoistSubqueries replaces query literals with Subquery nodes whose query
// went through run, normally the enclosing pipeline. Existing subqueries
// are run again so hoisting composes.
func HoistSubqueries(run func(expr.Node) expr.Node) Pass {
	return Pass{
		Name:  NameHoistSubqueries,
		After: []string{NameCanonicalizeBinary},
		Apply: func(n expr.Node) expr.Node {
			return expr.Rewrite(n, func(n expr.Node) expr.Node {
				switch n := n.(type) {
				case *expr.Constant:
					if q, ok := expr.QueryOf(n.Value); ok {
						return &expr.Subquery{Query: run(q)}
					}
				case *expr.Subquery:
					if q := run(n.Query); q != n.Query {
						return &expr.Subquery{Query: q}
					}
				}
				return n
			})
		},
	}
}
