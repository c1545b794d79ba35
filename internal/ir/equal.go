package ir

import (
	"reflect"
	"slices"
)

// Equal compares two trees structurally. Query parameters compare by name
// and type, not by value; producers are ignored.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a := a.(type) {
	case *Binary:
		if a.Op != b.(*Binary).Op {
			return false
		}
	case *Unary:
		if a.Op != b.(*Unary).Op {
			return false
		}
	case *Constant:
		return reflect.DeepEqual(a.Value, b.(*Constant).Value)
	case *Column:
		bb := b.(*Column)
		return a.Source == bb.Source && a.Name == bb.Name && slices.Equal(a.Path, bb.Path)
	case *NamedSource:
		bb := b.(*NamedSource)
		if a.Alias != bb.Alias || a.Binding != bb.Binding {
			return false
		}
	case *Projection:
		bb := b.(*Projection)
		if a.Distinct != bb.Distinct || a.ToClass != bb.ToClass || a.ToAnonymous != bb.ToAnonymous ||
			len(a.Bindings) != len(bb.Bindings) {
			return false
		}
	case *MethodCall:
		bb := b.(*MethodCall)
		if a.Name != bb.Name || len(a.Args) != len(bb.Args) {
			return false
		}
	case *New:
		if len(a.Members) != len(b.(*New).Members) {
			return false
		}
	case *OrderBy:
		if !slices.Equal(a.Desc, b.(*OrderBy).Desc) {
			return false
		}
	case *Parameter:
		return a.Name == b.(*Parameter).Name
	case *QueryParameter:
		bb := b.(*QueryParameter)
		return a.Name == bb.Name && a.Type == bb.Type && a.IsJSON == bb.IsJSON
	case *QuerySource:
		return a.Entity == b.(*QuerySource).Entity
	case *Join:
		if a.Type != b.(*Join).Type {
			return false
		}
	case *RowsFetchLimit:
		bb := b.(*RowsFetchLimit)
		if (a.Limit == nil) != (bb.Limit == nil) || (a.Offset == nil) != (bb.Offset == nil) {
			return false
		}
	case *Rename:
		if a.Name != b.(*Rename).Name {
			return false
		}
	case *Special:
		return a.Text == b.(*Special).Text
	case *Insert:
		bb := b.(*Insert)
		if a.Entity != bb.Entity || !slices.Equal(a.Columns, bb.Columns) {
			return false
		}
	case *Update:
		bb := b.(*Update)
		if (a.Where == nil) != (bb.Where == nil) || len(a.Set) != len(bb.Set) {
			return false
		}
	case *Delete:
		if (a.Where == nil) != (b.(*Delete).Where == nil) {
			return false
		}
	}
	ac, bc := Children(a), Children(b)
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !Equal(ac[i], bc[i]) {
			return false
		}
	}
	return true
}
