package schema

import (
	"strings"

	"github.com/google/uuid"
)

// QuoteIdent quotes a SQL identifier, escaping embedded double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldInteger  FieldType = "integer"
	FieldBigint   FieldType = "bigint"
	FieldNumeric  FieldType = "numeric"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "timestamptz"
	FieldUUID     FieldType = "uuid"
	FieldJSON     FieldType = "jsonb"
)

// RelationKind classifies a column: a plain scalar, a reference to one
// related entity, or a collection of related entities.
type RelationKind int

const (
	RelationNone RelationKind = iota
	RelationReference
	RelationCollection
)

// ColumnDef describes one member of an entity.
//
// For a reference, ForeignKey names the scalar member on the owning entity
// that holds the target's primary key. For a collection, ForeignKey names the
// member on the target (or on the bridge entity when BridgeID is set) that
// points back to the owner, and BridgeKey names the bridge member that points
// at the target.
type ColumnDef struct {
	Name       string
	Column     string
	Type       FieldType
	Nullable   bool
	Relation   RelationKind
	TargetID   *uuid.UUID
	ForeignKey string
	BridgeID   *uuid.UUID
	BridgeKey  string
	InlineJSON bool
}

// StorageColumn returns the column name in the table, defaulting to Name.
func (c *ColumnDef) StorageColumn() string {
	if c.Column != "" {
		return c.Column
	}
	return c.Name
}

// IsRelation reports whether the column navigates to another entity.
func (c *ColumnDef) IsRelation() bool {
	return c.Relation != RelationNone
}

type EntityDef struct {
	ID            uuid.UUID
	Name          string
	Schema        string
	Table         string
	PrimaryKey    string
	IsBridge      bool
	Columns       []ColumnDef
	ColumnsByName map[string]*ColumnDef
}

// TableName returns the fully qualified, quoted table name.
func (e *EntityDef) TableName() string {
	if e.Schema != "" {
		return QuoteIdent(e.Schema) + "." + QuoteIdent(e.table())
	}
	return QuoteIdent(e.table())
}

func (e *EntityDef) table() string {
	if e.Table != "" {
		return e.Table
	}
	return e.Name
}

// Column looks up a member by name.
func (e *EntityDef) Column(name string) (*ColumnDef, bool) {
	c, ok := e.ColumnsByName[name]
	return c, ok
}

// ScalarColumns returns the non-relation members in declaration order.
func (e *EntityDef) ScalarColumns() []*ColumnDef {
	cols := make([]*ColumnDef, 0, len(e.Columns))
	for i := range e.Columns {
		if !e.Columns[i].IsRelation() {
			cols = append(cols, &e.Columns[i])
		}
	}
	return cols
}

// PrimaryKeyColumn returns the primary key member.
func (e *EntityDef) PrimaryKeyColumn() *ColumnDef {
	return e.ColumnsByName[e.PrimaryKey]
}

// Index rebuilds ColumnsByName from Columns. It must be called after
// Columns is assembled and before the definition is shared.
func (e *EntityDef) Index() *EntityDef {
	e.ColumnsByName = make(map[string]*ColumnDef, len(e.Columns))
	for i := range e.Columns {
		e.ColumnsByName[e.Columns[i].Name] = &e.Columns[i]
	}
	return e
}

// Provider is the read-only metadata view the translator consumes.
type Provider interface {
	Entity(name string) (*EntityDef, bool)
	EntityByID(id uuid.UUID) (*EntityDef, bool)
}

// Target resolves the entity a relation column navigates to.
func Target(p Provider, c *ColumnDef) (*EntityDef, bool) {
	if c.TargetID == nil {
		return nil, false
	}
	return p.EntityByID(*c.TargetID)
}
