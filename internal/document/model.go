// Package document decodes the YAML files the binaries read: the entity
// model and query documents.
package document

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/atlekbai/entityql/internal/schema"
)

// modelNamespace seeds the ids of entities declared without one, so the
// same model always yields the same ids.
var modelNamespace = uuid.MustParse("6f1c1f6e-4c1b-4d53-9f0e-2b7d1f3a9c10")

type modelDoc struct {
	Entities []entityDoc `yaml:"entities"`
}

type entityDoc struct {
	ID         string      `yaml:"id"`
	Name       string      `yaml:"name"`
	Schema     string      `yaml:"schema"`
	Table      string      `yaml:"table"`
	PrimaryKey string      `yaml:"primary_key"`
	Bridge     bool        `yaml:"bridge"`
	Columns    []columnDoc `yaml:"columns"`
}

type columnDoc struct {
	Name       string `yaml:"name"`
	Column     string `yaml:"column"`
	Type       string `yaml:"type"`
	Nullable   bool   `yaml:"nullable"`
	JSON       bool   `yaml:"json"`
	Reference  string `yaml:"reference"`
	Collection string `yaml:"collection"`
	Through    string `yaml:"through"`
	ForeignKey string `yaml:"foreign_key"`
	BridgeKey  string `yaml:"bridge_key"`
}

var fieldTypes = map[schema.FieldType]bool{
	schema.FieldText:     true,
	schema.FieldInteger:  true,
	schema.FieldBigint:   true,
	schema.FieldNumeric:  true,
	schema.FieldBoolean:  true,
	schema.FieldDate:     true,
	schema.FieldDatetime: true,
	schema.FieldUUID:     true,
	schema.FieldJSON:     true,
}

// LoadModel reads the model file at path.
func LoadModel(path string) (*schema.Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	return ParseModel(f)
}

// ParseModel decodes a YAML entity model into a metadata snapshot.
//
//	entities:
//	  - name: Order
//	    schema: shop
//	    table: orders
//	    primary_key: Id
//	    columns:
//	      - {name: Id, type: uuid}
//	      - {name: CustomerId, type: uuid}
//	      - {name: Customer, reference: Customer, foreign_key: CustomerId}
//	      - {name: Tags, collection: Tag, through: OrderTag, foreign_key: OrderId, bridge_key: TagId}
func ParseModel(r io.Reader) (*schema.Cache, error) {
	var doc modelDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("decode model: no entities")
	}

	ids := make(map[string]uuid.UUID, len(doc.Entities))
	for _, e := range doc.Entities {
		if e.Name == "" {
			return nil, fmt.Errorf("decode model: entity without a name")
		}
		id, err := entityID(e)
		if err != nil {
			return nil, err
		}
		ids[e.Name] = id
	}

	entities := make([]*schema.EntityDef, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		def, err := e.build(ids)
		if err != nil {
			return nil, err
		}
		entities = append(entities, def)
	}

	cache := schema.NewCache()
	if err := cache.Load(entities); err != nil {
		return nil, err
	}
	return cache, nil
}

func entityID(e entityDoc) (uuid.UUID, error) {
	if e.ID == "" {
		return uuid.NewSHA1(modelNamespace, []byte(e.Name)), nil
	}
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("entity %s: invalid id: %w", e.Name, err)
	}
	return id, nil
}

func (e entityDoc) build(ids map[string]uuid.UUID) (*schema.EntityDef, error) {
	def := &schema.EntityDef{
		ID:         ids[e.Name],
		Name:       e.Name,
		Schema:     e.Schema,
		Table:      e.Table,
		PrimaryKey: e.PrimaryKey,
		IsBridge:   e.Bridge,
		Columns:    make([]schema.ColumnDef, 0, len(e.Columns)),
	}
	if def.PrimaryKey == "" {
		def.PrimaryKey = "Id"
	}
	for _, c := range e.Columns {
		col, err := c.build(ids)
		if err != nil {
			return nil, fmt.Errorf("entity %s: column %s: %w", e.Name, c.Name, err)
		}
		def.Columns = append(def.Columns, col)
	}
	return def.Index(), nil
}

func (c columnDoc) build(ids map[string]uuid.UUID) (schema.ColumnDef, error) {
	col := schema.ColumnDef{
		Name:       c.Name,
		Column:     c.Column,
		Type:       schema.FieldType(c.Type),
		Nullable:   c.Nullable,
		InlineJSON: c.JSON,
		ForeignKey: c.ForeignKey,
		BridgeKey:  c.BridgeKey,
	}
	if c.Name == "" {
		return col, fmt.Errorf("missing name")
	}

	target := c.Reference
	switch {
	case c.Reference != "" && c.Collection != "":
		return col, fmt.Errorf("reference and collection are exclusive")
	case c.Reference != "":
		col.Relation = schema.RelationReference
	case c.Collection != "":
		col.Relation = schema.RelationCollection
		target = c.Collection
	}

	if col.Relation == schema.RelationNone {
		if c.Type == "" {
			col.Type = schema.FieldText
		}
		if c.JSON {
			col.Type = schema.FieldJSON
		}
		if !fieldTypes[col.Type] {
			return col, fmt.Errorf("unknown type %q", c.Type)
		}
		return col, nil
	}

	if c.ForeignKey == "" {
		return col, fmt.Errorf("relation needs foreign_key")
	}
	id, ok := ids[target]
	if !ok {
		return col, fmt.Errorf("unknown entity %q", target)
	}
	col.TargetID = new(id)

	if c.Through != "" {
		if col.Relation != schema.RelationCollection {
			return col, fmt.Errorf("through applies to collections only")
		}
		bridge, ok := ids[c.Through]
		if !ok {
			return col, fmt.Errorf("unknown bridge entity %q", c.Through)
		}
		if c.BridgeKey == "" {
			return col, fmt.Errorf("bridge collection needs bridge_key")
		}
		col.BridgeID = new(bridge)
	}
	return col, nil
}
