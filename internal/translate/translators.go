package translate

import (
	"strings"

	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/ir"
)

// Scope lowers the operands of a call handed to a NodeTranslator.
type Scope interface {
	Lower(n expr.Node) (ir.Node, error)
}

// NodeTranslator lowers method calls the translator has no rule for.
// Exactly one registered translator must match a call.
type NodeTranslator struct {
	Name      string
	Match     func(n *expr.Call) bool
	Translate func(s Scope, n *expr.Call) (ir.Node, error)
}

type callScope struct {
	l  *lowerer
	sc *scope
}

func (s callScope) Lower(n expr.Node) (ir.Node, error) { return s.l.scalar(n, s.sc) }

func (l *lowerer) translateUnknown(n *expr.Call, sc *scope) (ir.Node, error) {
	var matched []NodeTranslator
	for _, t := range l.tr.translators {
		if t.Match(n) {
			matched = append(matched, t)
		}
	}
	switch len(matched) {
	case 0:
		return nil, failf(n, "no translator for method %s", n.Method)
	case 1:
		out, err := matched[0].Translate(callScope{l: l, sc: sc}, n)
		if err != nil {
			return nil, fail(n, err)
		}
		return out, nil
	}
	names := make([]string, len(matched))
	for i, t := range matched {
		names[i] = t.Name
	}
	return nil, failf(n, "ambiguous translators for method %s: %s", n.Method, strings.Join(names, ", "))
}

// Builtins returns the string method translators every Translator starts
// with.
func Builtins() []NodeTranslator {
	return []NodeTranslator{
		like("contains", "Contains", true, true),
		like("starts-with", "StartsWith", false, true),
		like("ends-with", "EndsWith", true, false),
		function("to-upper", "ToUpper", "upper"),
		function("to-lower", "ToLower", "lower"),
		function("trim", "Trim", "trim"),
		function("length", "Length", "length"),
	}
}

func method(name string, args int) func(*expr.Call) bool {
	return func(n *expr.Call) bool {
		return n.Method == name && n.Receiver != nil && len(n.Args) == args
	}
}

// like lowers s.Method(p) to s LIKE '%' || p || '%', with the wildcards
// the method implies.
func like(name, methodName string, leading, trailing bool) NodeTranslator {
	return NodeTranslator{
		Name:  name,
		Match: method(methodName, 1),
		Translate: func(s Scope, n *expr.Call) (ir.Node, error) {
			recv, err := s.Lower(n.Receiver)
			if err != nil {
				return nil, err
			}
			pattern, err := s.Lower(n.Args[0])
			if err != nil {
				return nil, err
			}
			if leading {
				pattern = &ir.Binary{Op: ir.OpConcat, Left: &ir.Constant{Value: "%"}, Right: pattern}
			}
			if trailing {
				pattern = &ir.Binary{Op: ir.OpConcat, Left: pattern, Right: &ir.Constant{Value: "%"}}
			}
			return build(ir.NewBinary(ir.OpLike), recv, pattern)
		},
	}
}

// function lowers s.Method() to fn(s).
func function(name, methodName, fn string) NodeTranslator {
	return NodeTranslator{
		Name:  name,
		Match: method(methodName, 0),
		Translate: func(s Scope, n *expr.Call) (ir.Node, error) {
			recv, err := s.Lower(n.Receiver)
			if err != nil {
				return nil, err
			}
			return build(ir.NewMethodCall(fn), recv)
		},
	}
}
