package ir

import (
	"errors"
	"fmt"

	"github.com/atlekbai/entityql/internal/schema"
)

var (
	ErrSlotOverflow  = errors.New("no free slot")
	ErrUnfilledSlot  = errors.New("slot left unfilled")
	ErrRejectedChild = errors.New("child kind not accepted")
)

// Builder assembles one IR node. Children arrive through Apply in slot
// order; Close validates that every required slot is filled and returns
// the finished, immutable node.
type Builder interface {
	Kind() Kind
	Apply(child Node) error
	Close() (Node, error)
}

// Mergeable is implemented by builders that a nested operator of the same
// kind may reuse instead of opening a duplicate scope.
type Mergeable interface {
	Mergeable() bool
}

type slot struct {
	name   string
	accept func(Node) bool
}

func anyNode(name string) slot { return slot{name: name} }

func relation(name string) slot {
	return slot{name: name, accept: IsRelational}
}

func ofKind(name string, k Kind) slot {
	return slot{name: name, accept: func(n Node) bool { return n.Kind() == k }}
}

func statement(name string) slot {
	return slot{name: name, accept: IsStatement}
}

// slotList is a fixed-arity list of positional slots, optionally followed
// by a variadic tail that must receive at least minRest children.
type slotList struct {
	owner   Kind
	fixed   []slot
	rest    *slot
	minRest int
	filled  []Node
}

func newSlots(owner Kind, fixed ...slot) slotList {
	for i := range fixed {
		if fixed[i].name == "" {
			fixed[i].name = fmt.Sprintf("#%d", i)
		}
	}
	return slotList{owner: owner, fixed: fixed}
}

func (s slotList) withRest(r slot, atLeast int) slotList {
	if r.name == "" {
		r.name = "rest"
	}
	s.rest = &r
	s.minRest = atLeast
	return s
}

func (s *slotList) put(n Node) error {
	if n == nil {
		return fmt.Errorf("%s: %w: nil child", s.owner, ErrRejectedChild)
	}
	i := len(s.filled)
	var sl *slot
	switch {
	case i < len(s.fixed):
		sl = &s.fixed[i]
	case s.rest != nil:
		sl = s.rest
	default:
		return fmt.Errorf("%s: %w for %s (%d slots)", s.owner, ErrSlotOverflow, n.Kind(), len(s.fixed))
	}
	if sl.accept != nil && !sl.accept(n) {
		return fmt.Errorf("%s.%s: %w: %s", s.owner, sl.name, ErrRejectedChild, n.Kind())
	}
	s.filled = append(s.filled, n)
	return nil
}

func (s *slotList) check() error {
	if len(s.filled) < len(s.fixed) {
		return fmt.Errorf("%s.%s: %w", s.owner, s.fixed[len(s.filled)].name, ErrUnfilledSlot)
	}
	if s.rest != nil && len(s.tail()) < s.minRest {
		return fmt.Errorf("%s.%s: %w (need %d)", s.owner, s.rest.name, ErrUnfilledSlot, s.minRest)
	}
	return nil
}

func (s *slotList) at(i int) Node {
	if i < len(s.filled) {
		return s.filled[i]
	}
	return nil
}

func (s *slotList) tail() []Node {
	if len(s.filled) <= len(s.fixed) {
		return nil
	}
	return s.filled[len(s.fixed):]
}

func (s *slotList) empty() bool { return len(s.filled) == 0 }

func renames(ns []Node) []*Rename {
	out := make([]*Rename, len(ns))
	for i, n := range ns {
		out[i] = n.(*Rename)
	}
	return out
}

// --- Expression builders ---

type BinaryBuilder struct {
	Op    BinaryOp
	slots slotList
}

func NewBinary(op BinaryOp) *BinaryBuilder {
	return &BinaryBuilder{Op: op, slots: newSlots(KindBinary, anyNode("left"), anyNode("right"))}
}

func (b *BinaryBuilder) Kind() Kind             { return KindBinary }
func (b *BinaryBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *BinaryBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &Binary{Op: b.Op, Left: b.slots.at(0), Right: b.slots.at(1)}, nil
}

type UnaryBuilder struct {
	Op    UnaryOp
	slots slotList
}

func NewUnary(op UnaryOp) *UnaryBuilder {
	return &UnaryBuilder{Op: op, slots: newSlots(KindUnary, anyNode("operand"))}
}

func (b *UnaryBuilder) Kind() Kind             { return KindUnary }
func (b *UnaryBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *UnaryBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &Unary{Op: b.Op, Operand: b.slots.at(0)}, nil
}

// ConditionalBuilder fills test, then and else in that order.
type ConditionalBuilder struct {
	slots slotList
}

func NewConditional() *ConditionalBuilder {
	return &ConditionalBuilder{slots: newSlots(KindConditional, slot{name: "test"}, slot{name: "then"}, slot{name: "else"})}
}

func (b *ConditionalBuilder) Kind() Kind             { return KindConditional }
func (b *ConditionalBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *ConditionalBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &Conditional{Test: b.slots.at(0), Then: b.slots.at(1), Else: b.slots.at(2)}, nil
}

type MethodCallBuilder struct {
	Name  string
	slots slotList
}

func NewMethodCall(name string) *MethodCallBuilder {
	return &MethodCallBuilder{Name: name, slots: newSlots(KindMethodCall).withRest(slot{name: "args"}, 0)}
}

func (b *MethodCallBuilder) Kind() Kind             { return KindMethodCall }
func (b *MethodCallBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *MethodCallBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &MethodCall{Name: b.Name, Args: append([]Node(nil), b.slots.tail()...)}, nil
}

type NewBuilder struct {
	slots slotList
}

func NewNew() *NewBuilder {
	return &NewBuilder{slots: newSlots(KindNew).withRest(ofKind("members", KindRename), 1)}
}

func (b *NewBuilder) Kind() Kind             { return KindNew }
func (b *NewBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *NewBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &New{Members: renames(b.slots.tail())}, nil
}

type RenameBuilder struct {
	Name  string
	slots slotList
}

func NewRename(name string) *RenameBuilder {
	return &RenameBuilder{Name: name, slots: newSlots(KindRename, anyNode("expr"))}
}

func (b *RenameBuilder) Kind() Kind             { return KindRename }
func (b *RenameBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *RenameBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &Rename{Name: b.Name, Expr: b.slots.at(0)}, nil
}

// --- Relational builders ---

// FilterBuilder takes a source followed by one or more predicates, which
// are ANDed on close.
type FilterBuilder struct {
	slots slotList
}

func NewFilter() *FilterBuilder {
	return &FilterBuilder{slots: newSlots(KindFilter, relation("source")).withRest(slot{name: "predicate"}, 1)}
}

func (b *FilterBuilder) Kind() Kind             { return KindFilter }
func (b *FilterBuilder) Apply(child Node) error { return b.slots.put(child) }

// Mergeable reports whether the source is still open, so a nested filter
// can add its predicates here.
func (b *FilterBuilder) Mergeable() bool { return b.slots.empty() }

func (b *FilterBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	preds := b.slots.tail()
	pred := preds[0]
	for _, p := range preds[1:] {
		pred = &Binary{Op: OpAnd, Left: pred, Right: p}
	}
	return &Filter{Source: b.slots.at(0), Predicate: pred}, nil
}

// NamedSourceBuilder binds its single source under Alias. Alias may be
// assigned any time before Close.
type NamedSourceBuilder struct {
	Alias   string
	Binding string
	slots   slotList
}

func NewNamedSource(alias, binding string) *NamedSourceBuilder {
	return &NamedSourceBuilder{Alias: alias, Binding: binding, slots: newSlots(KindNamedSource, relation("source"))}
}

func (b *NamedSourceBuilder) Kind() Kind             { return KindNamedSource }
func (b *NamedSourceBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *NamedSourceBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	if b.Alias == "" {
		return nil, fmt.Errorf("%s.alias: %w", KindNamedSource, ErrUnfilledSlot)
	}
	return &NamedSource{Alias: b.Alias, Binding: b.Binding, Source: b.slots.at(0)}, nil
}

// ProjectionBuilder takes a source followed by one or more Renames.
// Flags may be set until Close.
type ProjectionBuilder struct {
	Distinct    bool
	ToClass     bool
	ToAnonymous bool
	slots       slotList
}

func NewProjection() *ProjectionBuilder {
	return &ProjectionBuilder{slots: newSlots(KindProjection, relation("source")).withRest(ofKind("bindings", KindRename), 1)}
}

func (b *ProjectionBuilder) Kind() Kind             { return KindProjection }
func (b *ProjectionBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *ProjectionBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &Projection{
		Source:      b.slots.at(0),
		Bindings:    renames(b.slots.tail()),
		Distinct:    b.Distinct,
		ToClass:     b.ToClass,
		ToAnonymous: b.ToAnonymous,
	}, nil
}

// OrderByBuilder takes a source followed by sort keys. Direction sets the
// direction of the next key. Then marks an ordering opened by a secondary
// key; only such an ordering may absorb the keys of its source.
type OrderByBuilder struct {
	Then  bool
	next  bool
	desc  []bool
	slots slotList
}

func NewOrderBy(then bool) *OrderByBuilder {
	return &OrderByBuilder{Then: then, slots: newSlots(KindOrderBy, relation("source")).withRest(slot{name: "keys"}, 1)}
}

func (b *OrderByBuilder) Kind() Kind { return KindOrderBy }

func (b *OrderByBuilder) Direction(desc bool) { b.next = desc }

func (b *OrderByBuilder) Mergeable() bool { return b.Then && b.slots.empty() }

func (b *OrderByBuilder) Apply(child Node) error {
	if err := b.slots.put(child); err != nil {
		return err
	}
	if len(b.slots.filled) > len(b.slots.fixed) {
		b.desc = append(b.desc, b.next)
		b.next = false
	}
	return nil
}

func (b *OrderByBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &OrderBy{
		Source: b.slots.at(0),
		Keys:   append([]Node(nil), b.slots.tail()...),
		Desc:   append([]bool(nil), b.desc...),
	}, nil
}

type JoinBuilder struct {
	JoinKind JoinKind
	slots    slotList
}

func NewJoin(kind JoinKind) *JoinBuilder {
	return &JoinBuilder{JoinKind: kind, slots: newSlots(KindJoin, relation("left"), relation("right"), slot{name: "on"})}
}

func (b *JoinBuilder) Kind() Kind             { return KindJoin }
func (b *JoinBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *JoinBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &Join{Type: b.JoinKind, Left: b.slots.at(0), Right: b.slots.at(1), On: b.slots.at(2)}, nil
}

type GroupByBuilder struct {
	Values ValuesProducer
	slots  slotList
}

func NewGroupBy(values ValuesProducer) *GroupByBuilder {
	return &GroupByBuilder{Values: values, slots: newSlots(KindGroupBy, relation("source"), slot{name: "keys"})}
}

func (b *GroupByBuilder) Kind() Kind             { return KindGroupBy }
func (b *GroupByBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *GroupByBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &GroupBy{Source: b.slots.at(0), Keys: b.slots.at(1), Values: b.Values}, nil
}

// RowsFetchLimitBuilder takes a source, then the limit and offset it was
// created with, in that order.
type RowsFetchLimitBuilder struct {
	limit, offset bool
	slots         slotList
}

func NewRowsFetchLimit(limit, offset bool) *RowsFetchLimitBuilder {
	fixed := []slot{relation("source")}
	if limit {
		fixed = append(fixed, slot{name: "limit"})
	}
	if offset {
		fixed = append(fixed, slot{name: "offset"})
	}
	return &RowsFetchLimitBuilder{limit: limit, offset: offset, slots: newSlots(KindRowsFetchLimit, fixed...)}
}

func (b *RowsFetchLimitBuilder) Kind() Kind             { return KindRowsFetchLimit }
func (b *RowsFetchLimitBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *RowsFetchLimitBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	out := &RowsFetchLimit{Source: b.slots.at(0)}
	i := 1
	if b.limit {
		out.Limit = b.slots.at(i)
		i++
	}
	if b.offset {
		out.Offset = b.slots.at(i)
	}
	return out, nil
}

// --- Write builders ---

// InsertBuilder takes one Values row per record; every row must carry one
// item per column.
type InsertBuilder struct {
	Entity  *schema.EntityDef
	Columns []string
	slots   slotList
}

func NewInsert(entity *schema.EntityDef, columns []string) *InsertBuilder {
	return &InsertBuilder{
		Entity:  entity,
		Columns: columns,
		slots:   newSlots(KindInsert).withRest(ofKind("rows", KindValues), 1),
	}
}

func (b *InsertBuilder) Kind() Kind             { return KindInsert }
func (b *InsertBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *InsertBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	rows := make([]*Values, 0, len(b.slots.tail()))
	for _, n := range b.slots.tail() {
		v := n.(*Values)
		if len(v.Items) != len(b.Columns) {
			return nil, fmt.Errorf("%s: row has %d values for %d columns", KindInsert, len(v.Items), len(b.Columns))
		}
		rows = append(rows, v)
	}
	return &Insert{Entity: b.Entity, Columns: append([]string(nil), b.Columns...), Rows: rows}, nil
}

type ValuesBuilder struct {
	slots slotList
}

func NewValues() *ValuesBuilder {
	return &ValuesBuilder{slots: newSlots(KindValues).withRest(slot{name: "items"}, 1)}
}

func (b *ValuesBuilder) Kind() Kind             { return KindValues }
func (b *ValuesBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *ValuesBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &Values{Items: append([]Node(nil), b.slots.tail()...)}, nil
}

// UpdateBuilder takes the target, the predicate when hasWhere is set, then
// one Rename per assigned column.
type UpdateBuilder struct {
	hasWhere bool
	slots    slotList
}

func NewUpdate(hasWhere bool) *UpdateBuilder {
	fixed := []slot{ofKind("target", KindNamedSource)}
	if hasWhere {
		fixed = append(fixed, slot{name: "where"})
	}
	return &UpdateBuilder{hasWhere: hasWhere, slots: newSlots(KindUpdate, fixed...).withRest(ofKind("set", KindRename), 1)}
}

func (b *UpdateBuilder) Kind() Kind             { return KindUpdate }
func (b *UpdateBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *UpdateBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	out := &Update{Target: b.slots.at(0), Set: renames(b.slots.tail())}
	if b.hasWhere {
		out.Where = b.slots.at(1)
	}
	return out, nil
}

type DeleteBuilder struct {
	hasWhere bool
	slots    slotList
}

func NewDelete(hasWhere bool) *DeleteBuilder {
	fixed := []slot{ofKind("target", KindNamedSource)}
	if hasWhere {
		fixed = append(fixed, slot{name: "where"})
	}
	return &DeleteBuilder{hasWhere: hasWhere, slots: newSlots(KindDelete, fixed...)}
}

func (b *DeleteBuilder) Kind() Kind             { return KindDelete }
func (b *DeleteBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *DeleteBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	out := &Delete{Target: b.slots.at(0)}
	if b.hasWhere {
		out.Where = b.slots.at(1)
	}
	return out, nil
}

type BatchBuilder struct {
	slots slotList
}

func NewBatch() *BatchBuilder {
	return &BatchBuilder{slots: newSlots(KindBatch).withRest(statement("statements"), 1)}
}

func (b *BatchBuilder) Kind() Kind             { return KindBatch }
func (b *BatchBuilder) Apply(child Node) error { return b.slots.put(child) }
func (b *BatchBuilder) Close() (Node, error) {
	if err := b.slots.check(); err != nil {
		return nil, err
	}
	return &Batch{Statements: append([]Node(nil), b.slots.tail()...)}, nil
}
