package ir

import "strings"

// CollapseConstants folds operators whose operands are inlined constants:
// boolean short-circuits, literal arithmetic and comparisons, constant
// CASE tests and filters that are always true.
func CollapseConstants(root Node) (Node, error) {
	return Rewrite(root, func(n Node) (Node, error) {
		switch n := n.(type) {
		case *Binary:
			return collapseBinary(n), nil
		case *Unary:
			c, ok := n.Operand.(*Constant)
			if !ok {
				return n, nil
			}
			switch v := c.Value.(type) {
			case bool:
				if n.Op == OpNot {
					return &Constant{Value: !v}, nil
				}
			case nil:
				switch n.Op {
				case OpIsNull:
					return &Constant{Value: true}, nil
				case OpIsNotNull:
					return &Constant{Value: false}, nil
				}
			}
			if f, isInt, ok := number(c.Value); ok && n.Op == OpNegate {
				return &Constant{Value: numberValue(-f, isInt)}, nil
			}
		case *Conditional:
			if b, ok := boolConst(n.Test); ok {
				if b {
					return n.Then, nil
				}
				return n.Else, nil
			}
		case *Filter:
			if b, ok := boolConst(n.Predicate); ok && b {
				return n.Source, nil
			}
		}
		return n, nil
	})
}

func collapseBinary(n *Binary) Node {
	switch n.Op {
	case OpAnd:
		if b, ok := boolConst(n.Left); ok {
			if b {
				return n.Right
			}
			return &Constant{Value: false}
		}
		if b, ok := boolConst(n.Right); ok {
			if b {
				return n.Left
			}
			return &Constant{Value: false}
		}
		return n
	case OpOr:
		if b, ok := boolConst(n.Left); ok {
			if b {
				return &Constant{Value: true}
			}
			return n.Right
		}
		if b, ok := boolConst(n.Right); ok {
			if b {
				return &Constant{Value: true}
			}
			return n.Left
		}
		return n
	}

	l, lok := n.Left.(*Constant)
	r, rok := n.Right.(*Constant)
	if !lok || !rok {
		return n
	}
	lf, lint, lnum := number(l.Value)
	rf, rint, rnum := number(r.Value)
	if lnum && rnum {
		isInt := lint && rint
		switch n.Op {
		case OpAdd:
			return &Constant{Value: numberValue(lf+rf, isInt)}
		case OpSub:
			return &Constant{Value: numberValue(lf-rf, isInt)}
		case OpMul:
			return &Constant{Value: numberValue(lf*rf, isInt)}
		case OpEq:
			return &Constant{Value: lf == rf}
		case OpNe:
			return &Constant{Value: lf != rf}
		case OpLt:
			return &Constant{Value: lf < rf}
		case OpLe:
			return &Constant{Value: lf <= rf}
		case OpGt:
			return &Constant{Value: lf > rf}
		case OpGe:
			return &Constant{Value: lf >= rf}
		}
		return n
	}
	lb, lbool := l.Value.(bool)
	rb, rbool := r.Value.(bool)
	if lbool && rbool {
		switch n.Op {
		case OpEq:
			return &Constant{Value: lb == rb}
		case OpNe:
			return &Constant{Value: lb != rb}
		}
	}
	return n
}

func boolConst(n Node) (bool, bool) {
	c, ok := n.(*Constant)
	if !ok {
		return false, false
	}
	b, ok := c.Value.(bool)
	return b, ok
}

func number(v any) (f float64, isInt bool, ok bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true, true
	case int32:
		return float64(v), true, true
	case int64:
		return float64(v), true, true
	case float32:
		return float64(v), false, true
	case float64:
		return v, false, true
	}
	return 0, false, false
}

func numberValue(f float64, isInt bool) any {
	if isInt {
		return int64(f)
	}
	return f
}

// UnwrapCountPredicate rewrites count(p), where p is a boolean expression,
// into count(CASE WHEN p THEN 1 ELSE NULL END) so only matching rows count.
func UnwrapCountPredicate(root Node) (Node, error) {
	return Rewrite(root, func(n Node) (Node, error) {
		call, ok := n.(*MethodCall)
		if !ok || !strings.EqualFold(call.Name, "count") || len(call.Args) != 1 || !IsPredicate(call.Args[0]) {
			return n, nil
		}
		return &MethodCall{Name: call.Name, Args: []Node{
			&Conditional{Test: call.Args[0], Then: &Constant{Value: 1}, Else: &Constant{Value: nil}},
		}}, nil
	})
}

// IsPredicate reports whether n yields a boolean. A sub-select yielding a
// single test counts.
func IsPredicate(n Node) bool {
	switch n := n.(type) {
	case *Binary:
		return n.Op.IsPredicate()
	case *Unary:
		return n.Op == OpNot || n.Op == OpIsNull || n.Op == OpIsNotNull
	case *Projection:
		return len(n.Bindings) == 1 && IsPredicate(n.Bindings[0].Expr)
	}
	return false
}

// DerivedName names an unnamed projected column after its source member.
// With underscore set, a column reached through relations keeps its path:
// Customer_Name.
func DerivedName(c *Column, underscore bool) string {
	if underscore && len(c.Path) > 0 {
		return strings.Join(c.Path, "_") + "_" + c.Name
	}
	return c.Name
}
