package expr

import (
	"fmt"
	"strings"
)

// Format renders n in a compact method-chain notation for diagnostics.
func Format(n Node) string {
	var b strings.Builder
	format(&b, n)
	return b.String()
}

func format(b *strings.Builder, n Node) {
	if n == nil || isNilLambda(n) {
		b.WriteString("<nil>")
		return
	}
	switch n := n.(type) {
	case *Source:
		b.WriteString(n.Entity)
	case *Where:
		chain(b, n.Source, "Where", n.Predicate)
	case *Select:
		chain(b, n.Source, "Select", n.Selector)
	case *OrderBy:
		name := "OrderBy"
		if n.Then {
			name = "ThenBy"
		}
		if n.Desc {
			name += "Descending"
		}
		chain(b, n.Source, name, n.Key)
	case *GroupBy:
		chain(b, n.Source, "GroupBy", n.Key)
	case *Distinct:
		chain(b, n.Source, "Distinct")
	case *Take:
		chain(b, n.Source, "Take", n.Count)
	case *Skip:
		chain(b, n.Source, "Skip", n.Count)
	case *Terminal:
		var args []Node
		if n.Predicate != nil {
			args = append(args, n.Predicate)
		}
		if n.Selector != nil {
			args = append(args, n.Selector)
		}
		chain(b, n.Source, string(n.Op), args...)
	case *Insert:
		fmt.Fprintf(b, "Insert(%d records)", len(n.Records))
	case *Update:
		var args []Node
		if n.Predicate != nil {
			args = append(args, n.Predicate)
		}
		chain(b, n.Source, "Update", args...)
		for _, a := range n.Set {
			b.WriteString(".Set(" + a.Member + ", ")
			format(b, a.Value)
			b.WriteString(")")
		}
	case *Delete:
		var args []Node
		if n.Predicate != nil {
			args = append(args, n.Predicate)
		}
		chain(b, n.Source, "Delete", args...)
	case *Constant:
		if q, ok := QueryOf(n.Value); ok {
			b.WriteString("{")
			format(b, q)
			b.WriteString("}")
			return
		}
		switch v := n.Value.(type) {
		case nil:
			b.WriteString("null")
		case string:
			fmt.Fprintf(b, "%q", v)
		default:
			fmt.Fprintf(b, "%v", v)
		}
	case *Member:
		format(b, n.Target)
		b.WriteString("." + n.Name)
	case *Binary:
		b.WriteString("(")
		format(b, n.Left)
		b.WriteString(" " + string(n.Op) + " ")
		format(b, n.Right)
		b.WriteString(")")
	case *Unary:
		b.WriteString(string(n.Op))
		format(b, n.Operand)
	case *Conditional:
		b.WriteString("(")
		format(b, n.Test)
		b.WriteString(" ? ")
		format(b, n.Then)
		b.WriteString(" : ")
		format(b, n.Else)
		b.WriteString(")")
	case *Parameter:
		b.WriteString(n.Name)
	case *Lambda:
		names := make([]string, len(n.Params))
		for i, p := range n.Params {
			names[i] = p.Name
		}
		b.WriteString(strings.Join(names, ", ") + " => ")
		format(b, n.Body)
	case *Call:
		if n.Receiver != nil {
			format(b, n.Receiver)
			b.WriteString(".")
		}
		b.WriteString(n.Method + "(")
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			format(b, a)
		}
		b.WriteString(")")
	case *New:
		b.WriteString("new " + n.Type + "{")
		for i, m := range n.Members {
			if i > 0 {
				b.WriteString(", ")
			}
			if m.Name != "" {
				b.WriteString(m.Name + " = ")
			}
			format(b, m.Value)
		}
		b.WriteString("}")
	case *Subquery:
		b.WriteString("{")
		format(b, n.Query)
		b.WriteString("}")
	default:
		fmt.Fprintf(b, "%T", n)
	}
}

func chain(b *strings.Builder, src Node, method string, args ...Node) {
	format(b, src)
	b.WriteString("." + method + "(")
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		format(b, a)
	}
	b.WriteString(")")
}
