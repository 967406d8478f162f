package keystore

import (
	"sync"
	"weak"

	"github.com/google/uuid"
)

// Cache is the single-writer, UUID-keyed decrypted-view cache described in
// the concurrency model: at most one decrypted view of a given record
// exists at a time, held by a weak reference so that once every caller
// drops its view the cache stops pinning it in memory.
type Cache[T any] struct {
	mu   sync.Mutex
	refs map[uuid.UUID]weak.Pointer[T]
}

// NewCache creates an empty decrypted-view cache.
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{refs: make(map[uuid.UUID]weak.Pointer[T])}
}

// Get returns the cached view for id, or nil if absent or collected.
func (c *Cache[T]) Get(id uuid.UUID) *T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.refs[id]
	if !ok {
		return nil
	}
	v := ref.Value()
	if v == nil {
		delete(c.refs, id)
	}
	return v
}

// Put installs v as the current decrypted view for id, replacing whatever
// was cached before.
func (c *Cache[T]) Put(id uuid.UUID, v *T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[id] = weak.Make(v)
}

// Invalidate drops the cached view for id, forcing the next Get to miss.
func (c *Cache[T]) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.refs, id)
}
