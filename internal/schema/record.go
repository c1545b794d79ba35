package schema

import (
	"fmt"
	"maps"
)

// Record is an entity instance handed to an insert. Values holds scalar
// members, Refs holds reference members and Items holds owned collections.
type Record struct {
	Entity string
	Values map[string]any
	Refs   map[string]*Record
	Items  map[string][]*Record
}

// Row is one flattened record ready to be written. Values already carries
// the foreign keys implied by Refs and by the owning collection. Deps lists
// the rows that must be written first.
type Row struct {
	Entity *EntityDef
	Record *Record // nil for synthesized bridge rows
	Key    any
	Values map[string]any
	Deps   []*Row
}

func (r *Row) addDep(dep *Row) {
	for _, d := range r.Deps {
		if d == dep {
			return
		}
	}
	r.Deps = append(r.Deps, dep)
}

// Identity is the (entity, primary key) pair rows are de-duplicated by.
func (r *Row) Identity() string {
	return identity(r.Entity.Name, r.Key)
}

func identity(entity string, key any) string {
	return fmt.Sprintf("%s\x00%v", entity, key)
}

// PrimaryKey extracts the primary key value of a record.
func PrimaryKey(p Provider, rec *Record) (any, error) {
	ent, ok := p.Entity(rec.Entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", rec.Entity)
	}
	key, ok := rec.Values[ent.PrimaryKey]
	if !ok || key == nil {
		return nil, fmt.Errorf("record of %s has no value for primary key %q", ent.Name, ent.PrimaryKey)
	}
	return key, nil
}

// Flatten walks every record reachable from roots through references, owned
// collections and bridge collections. Rows come back in discovery order,
// de-duplicated by (entity, primary key).
func Flatten(p Provider, roots []*Record) ([]*Row, error) {
	f := &flattener{provider: p, seen: make(map[string]*Row)}
	for _, rec := range roots {
		if _, err := f.visit(rec); err != nil {
			return nil, err
		}
	}
	return f.rows, nil
}

type flattener struct {
	provider Provider
	seen     map[string]*Row
	rows     []*Row
}

func (f *flattener) visit(rec *Record) (*Row, error) {
	ent, ok := f.provider.Entity(rec.Entity)
	if !ok {
		return nil, fmt.Errorf("flatten: unknown entity %q", rec.Entity)
	}
	key, err := PrimaryKey(f.provider, rec)
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	if row, ok := f.seen[identity(ent.Name, key)]; ok {
		return row, nil
	}

	row := &Row{Entity: ent, Record: rec, Key: key, Values: maps.Clone(rec.Values)}
	if row.Values == nil {
		row.Values = make(map[string]any)
	}
	f.seen[row.Identity()] = row
	f.rows = append(f.rows, row)

	for i := range ent.Columns {
		col := &ent.Columns[i]
		switch col.Relation {
		case RelationReference:
			target, ok := rec.Refs[col.Name]
			if !ok || target == nil {
				continue
			}
			trow, err := f.visit(target)
			if err != nil {
				return nil, err
			}
			row.addDep(trow)
			if _, set := row.Values[col.ForeignKey]; !set && col.ForeignKey != "" {
				row.Values[col.ForeignKey] = trow.Key
			}

		case RelationCollection:
			for _, item := range rec.Items[col.Name] {
				irow, err := f.visit(item)
				if err != nil {
					return nil, err
				}
				if col.BridgeID == nil {
					irow.addDep(row)
					if _, set := irow.Values[col.ForeignKey]; !set {
						irow.Values[col.ForeignKey] = row.Key
					}
					continue
				}
				if err := f.bridge(col, row, irow); err != nil {
					return nil, err
				}
			}
		}
	}

	return row, nil
}

// bridge synthesizes the join-table row linking owner and item. Its
// dependencies are its two endpoints.
func (f *flattener) bridge(col *ColumnDef, owner, item *Row) error {
	bent, ok := f.provider.EntityByID(*col.BridgeID)
	if !ok {
		return fmt.Errorf("flatten: bridge entity of %s.%s not found", owner.Entity.Name, col.Name)
	}
	key := fmt.Sprintf("%v:%v", owner.Key, item.Key)
	if _, ok := f.seen[identity(bent.Name, key)]; ok {
		return nil
	}
	row := &Row{
		Entity: bent,
		Key:    key,
		Values: map[string]any{col.ForeignKey: owner.Key, col.BridgeKey: item.Key},
	}
	row.addDep(owner)
	row.addDep(item)
	f.seen[row.Identity()] = row
	f.rows = append(f.rows, row)
	return nil
}
