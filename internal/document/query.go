package document

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atlekbai/entityql/internal/eql"
	"github.com/atlekbai/entityql/internal/expr"
	"github.com/atlekbai/entityql/internal/schema"
)

// Query is one named entry of a query document.
type Query struct {
	Name string
	Node expr.Node
}

type queriesDoc struct {
	Queries []queryDoc `yaml:"queries"`
}

type queryDoc struct {
	Name   string         `yaml:"name"`
	Query  string         `yaml:"query"`
	Params map[string]any `yaml:"params"`
	Insert []recordDoc    `yaml:"insert"`
}

type recordDoc struct {
	Entity string                 `yaml:"entity"`
	Values map[string]any         `yaml:"values"`
	Refs   map[string]recordDoc   `yaml:"refs"`
	Items  map[string][]recordDoc `yaml:"items"`
}

// LoadQueries reads the query document at path.
func LoadQueries(path string, p schema.Provider) ([]Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queries: %w", err)
	}
	defer f.Close()
	return ParseQueries(f, p)
}

// ParseQueries decodes a YAML query document. Each entry holds either an
// EQL query with its parameters or a list of records to insert:
//
//	queries:
//	  - name: big-orders
//	    query: Order | where(.Total > $min) | sort_by(.Total, desc)
//	    params: {min: 100}
//	  - name: new-customer
//	    insert:
//	      - entity: Customer
//	        values: {Id: "…", Name: acme}
//	        items:
//	          Orders:
//	            - values: {Id: "…", Number: A-1, Total: 10}
//
// Nested records may omit entity; it defaults to the relation's target.
func ParseQueries(r io.Reader, p schema.Provider) ([]Query, error) {
	var doc queriesDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode queries: %w", err)
	}

	out := make([]Query, 0, len(doc.Queries))
	for i, q := range doc.Queries {
		name := q.Name
		if name == "" {
			name = fmt.Sprintf("query %d", i)
		}
		n, err := q.node(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, Query{Name: name, Node: n})
	}
	return out, nil
}

func (q queryDoc) node(p schema.Provider) (expr.Node, error) {
	switch {
	case q.Query != "" && len(q.Insert) > 0:
		return nil, fmt.Errorf("query and insert are exclusive")
	case q.Query != "":
		return eql.Compile(q.Query, q.Params)
	case len(q.Insert) > 0:
		records := make([]*schema.Record, len(q.Insert))
		for i, rd := range q.Insert {
			rec, err := rd.record(p, "")
			if err != nil {
				return nil, err
			}
			records[i] = rec
		}
		return expr.InsertRecords(records...), nil
	}
	return nil, fmt.Errorf("empty entry")
}

// record converts rd, defaulting its entity to fallback.
func (rd recordDoc) record(p schema.Provider, fallback string) (*schema.Record, error) {
	name := rd.Entity
	if name == "" {
		name = fallback
	}
	if name == "" {
		return nil, fmt.Errorf("record without an entity")
	}
	ent, ok := p.Entity(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", name)
	}

	rec := &schema.Record{Entity: name, Values: rd.Values}
	for member, ref := range rd.Refs {
		target, err := relationTarget(p, ent, member, schema.RelationReference)
		if err != nil {
			return nil, err
		}
		child, err := ref.record(p, target)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, member, err)
		}
		if rec.Refs == nil {
			rec.Refs = make(map[string]*schema.Record)
		}
		rec.Refs[member] = child
	}
	for member, items := range rd.Items {
		target, err := relationTarget(p, ent, member, schema.RelationCollection)
		if err != nil {
			return nil, err
		}
		if rec.Items == nil {
			rec.Items = make(map[string][]*schema.Record)
		}
		for _, item := range items {
			child, err := item.record(p, target)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, member, err)
			}
			rec.Items[member] = append(rec.Items[member], child)
		}
	}
	return rec, nil
}

func relationTarget(p schema.Provider, ent *schema.EntityDef, member string, kind schema.RelationKind) (string, error) {
	col, ok := ent.Column(member)
	if !ok || col.Relation != kind {
		return "", fmt.Errorf("%s has no %s member %q", ent.Name, relationName(kind), member)
	}
	target, ok := schema.Target(p, col)
	if !ok {
		return "", fmt.Errorf("%s.%s targets an unknown entity", ent.Name, member)
	}
	return target.Name, nil
}

func relationName(k schema.RelationKind) string {
	if k == schema.RelationCollection {
		return "collection"
	}
	return "reference"
}
