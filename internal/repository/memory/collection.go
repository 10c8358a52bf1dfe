// Package memory is an in-process ledger store. Collections keep insertion
// order so list operations return records in storage order.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-api/pkg/errors"
)

// Collection is a keyed set of records of one type. Values are cloned on
// the way in and out so callers never share memory with the store.
type Collection[T any] struct {
	mu    sync.RWMutex
	name  string
	order []uuid.UUID
	items map[uuid.UUID]T
	clone func(T) T
}

func NewCollection[T any](name string, clone func(T) T) *Collection[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Collection[T]{
		name:  name,
		items: make(map[uuid.UUID]T),
		clone: clone,
	}
}

func (c *Collection[T]) Insert(id uuid.UUID, v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[id]; exists {
		return errors.Conflict(c.name+" already exists", nil)
	}
	c.items[id] = c.clone(v)
	c.order = append(c.order, id)
	return nil
}

func (c *Collection[T]) Find(id uuid.UUID) (*T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.items[id]
	if !ok {
		return nil, errors.NotFound(c.name, nil)
	}
	out := c.clone(v)
	return &out, nil
}

func (c *Collection[T]) Replace(id uuid.UUID, v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; !ok {
		return errors.NotFound(c.name, nil)
	}
	c.items[id] = c.clone(v)
	return nil
}

// Mutate applies fn to the stored record under the write lock.
func (c *Collection[T]) Mutate(id uuid.UUID, fn func(*T)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.items[id]
	if !ok {
		return errors.NotFound(c.name, nil)
	}
	fn(&v)
	c.items[id] = v
	return nil
}

func (c *Collection[T]) Delete(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[id]; !ok {
		return errors.NotFound(c.name, nil)
	}
	delete(c.items, id)
	for i, key := range c.order {
		if key == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Filter returns clones of every record matching pred, in storage order.
func (c *Collection[T]) Filter(pred func(*T) bool) []*T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*T
	for _, id := range c.order {
		v := c.items[id]
		if pred == nil || pred(&v) {
			cp := c.clone(v)
			out = append(out, &cp)
		}
	}
	return out
}

// First returns the first record matching pred.
func (c *Collection[T]) First(pred func(*T) bool) (*T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range c.order {
		v := c.items[id]
		if pred(&v) {
			out := c.clone(v)
			return &out, true
		}
	}
	return nil, false
}

// RemoveWhere deletes every record matching pred and returns the count.
func (c *Collection[T]) RemoveWhere(pred func(*T) bool) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int64
	kept := c.order[:0]
	for _, id := range c.order {
		v := c.items[id]
		if pred(&v) {
			delete(c.items, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return removed
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
