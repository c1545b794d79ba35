package translate

import (
	"fmt"
	"reflect"

	"github.com/atlekbai/entityql/internal/expr"
)

// recorder remembers where every query parameter's value came from, so a
// later tree with the same shape can be re-bound without translating it
// again. Literals are addressed by their pre-order position in the
// preprocessed tree.
type recorder struct {
	index map[*expr.Constant]int
	count int

	params  []paramRecord
	inlined []inlineRecord
	guards  []guardRecord

	inserts  []insertRecord
	rowKinds []string
}

type paramRecord struct {
	name  string
	index int // -1 for literals the translator synthesized
	deref bool
	fixed any
}

type inlineRecord struct {
	index int
	value any
}

type guardRecord struct {
	index int
	isNil bool
}

type insertRecord struct {
	name   string
	row    int
	column string
}

func newRecorder(n expr.Node) *recorder {
	r := &recorder{index: make(map[*expr.Constant]int)}
	if n == nil {
		return r
	}
	consts := expr.Constants(n)
	r.count = len(consts)
	for i, c := range consts {
		if _, seen := r.index[c]; !seen {
			r.index[c] = i
		}
	}
	return r
}

func (r *recorder) param(name string, c *expr.Constant, deref bool) {
	idx, ok := r.index[c]
	if !ok {
		v := c.Value
		if deref {
			v = derefValue(v)
		}
		r.params = append(r.params, paramRecord{name: name, index: -1, fixed: v})
		return
	}
	r.params = append(r.params, paramRecord{name: name, index: idx, deref: deref})
}

// inline records a literal rendered into the SQL text.
func (r *recorder) inline(c *expr.Constant) {
	if idx, ok := r.index[c]; ok {
		r.inlined = append(r.inlined, inlineRecord{index: idx, value: c.Value})
	}
}

// guard records which branch of a null guard was taken.
func (r *recorder) guard(c *expr.Constant, isNil bool) {
	if idx, ok := r.index[c]; ok {
		r.guards = append(r.guards, guardRecord{index: idx, isNil: isNil})
	}
}

func (r *recorder) insert(name string, row int, column string) {
	r.inserts = append(r.inserts, insertRecord{name: name, row: row, column: column})
}

func (r *recorder) extract(t *Translator, src expr.Node) (map[string]any, error) {
	n := t.pipeline.Run(src)
	consts := expr.Constants(n)
	if len(consts) != r.count {
		return nil, fmt.Errorf("%w: %d literals, translated with %d", ErrShapeChanged, len(consts), r.count)
	}
	for _, in := range r.inlined {
		if !reflect.DeepEqual(consts[in.index].Value, in.value) {
			return nil, fmt.Errorf("%w: inlined literal %d changed", ErrShapeChanged, in.index)
		}
	}
	for _, g := range r.guards {
		if isNilValue(consts[g.index].Value) != g.isNil {
			return nil, fmt.Errorf("%w: null guard on literal %d flipped", ErrShapeChanged, g.index)
		}
	}

	out := make(map[string]any, len(r.params)+len(r.inserts))
	for _, p := range r.params {
		if p.index < 0 {
			out[p.name] = p.fixed
			continue
		}
		v := consts[p.index].Value
		if isNilValue(v) {
			return nil, fmt.Errorf("%w: literal %d became nil", ErrShapeChanged, p.index)
		}
		if p.deref {
			v = derefValue(v)
		}
		out[p.name] = v
	}

	if len(r.inserts) == 0 {
		return out, nil
	}
	ins, ok := n.(*expr.Insert)
	if !ok {
		return nil, fmt.Errorf("%w: not an insert", ErrShapeChanged)
	}
	rows, err := orderRows(t.provider, ins.Records)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(r.rowKinds) {
		return nil, fmt.Errorf("%w: %d rows, translated with %d", ErrShapeChanged, len(rows), len(r.rowKinds))
	}
	for i, row := range rows {
		if row.Entity.Name != r.rowKinds[i] {
			return nil, fmt.Errorf("%w: row %d is %s, translated as %s", ErrShapeChanged, i, row.Entity.Name, r.rowKinds[i])
		}
	}
	for _, in := range r.inserts {
		out[in.name] = rows[in.row].Values[in.column]
	}
	return out, nil
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func derefValue(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer {
		return v
	}
	if rv.IsNil() {
		return nil
	}
	return rv.Elem().Interface()
}
