package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Cache is an in-memory metadata snapshot keyed by entity name and id.
type Cache struct {
	mu      sync.RWMutex
	objects map[string]*EntityDef
	byID    map[uuid.UUID]*EntityDef
}

func NewCache() *Cache {
	return &Cache{
		objects: make(map[string]*EntityDef),
		byID:    make(map[uuid.UUID]*EntityDef),
	}
}

// NewCacheFromEntities builds a snapshot from already assembled definitions.
func NewCacheFromEntities(entities ...*EntityDef) *Cache {
	c := NewCache()
	if err := c.Load(entities); err != nil {
		panic(err)
	}
	return c
}

// Load replaces the snapshot. Definitions are validated first so a bad
// model never becomes visible to readers.
func (c *Cache) Load(entities []*EntityDef) error {
	objects := make(map[string]*EntityDef, len(entities))
	byID := make(map[uuid.UUID]*EntityDef, len(entities))

	for _, e := range entities {
		if e.ColumnsByName == nil {
			e.Index()
		}
		if _, dup := objects[e.Name]; dup {
			return fmt.Errorf("schema cache load: duplicate entity %q", e.Name)
		}
		if e.PrimaryKeyColumn() == nil {
			return fmt.Errorf("schema cache load: entity %q has no primary key member %q", e.Name, e.PrimaryKey)
		}
		objects[e.Name] = e
		byID[e.ID] = e
	}

	for _, e := range entities {
		for i := range e.Columns {
			col := &e.Columns[i]
			if !col.IsRelation() {
				continue
			}
			if col.TargetID == nil || byID[*col.TargetID] == nil {
				return fmt.Errorf("schema cache load: %s.%s targets an unknown entity", e.Name, col.Name)
			}
			if col.BridgeID != nil && byID[*col.BridgeID] == nil {
				return fmt.Errorf("schema cache load: %s.%s uses an unknown bridge entity", e.Name, col.Name)
			}
		}
	}

	c.mu.Lock()
	c.objects = objects
	c.byID = byID
	c.mu.Unlock()

	return nil
}

func (c *Cache) Get(name string) *EntityDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.objects[name]
}

// GetByID finds an entity definition by its UUID.
func (c *Cache) GetByID(id uuid.UUID) *EntityDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id]
}

// Entity implements Provider.
func (c *Cache) Entity(name string) (*EntityDef, bool) {
	e := c.Get(name)
	return e, e != nil
}

// EntityByID implements Provider.
func (c *Cache) EntityByID(id uuid.UUID) (*EntityDef, bool) {
	e := c.GetByID(id)
	return e, e != nil
}

// EntityCount returns the number of loaded entities.
func (c *Cache) EntityCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

// Names returns the loaded entity names in sorted order.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.objects))
	for name := range c.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
