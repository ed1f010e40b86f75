package entity

import "sync"

// Collection is a renderer's canonical cache. Views are always regenerated from it.
type Collection[T any] struct {
	key func(T) string

	mu     sync.RWMutex
	items  []T
	loaded bool
}

func NewCollection[T any](key func(T) string) *Collection[T] {
	return &Collection[T]{key: key}
}

func (c *Collection[T]) Replace(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]T(nil), items...)
	c.loaded = true
}

func (c *Collection[T]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, it := range c.items {
		if c.key(it) == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// Update applies fn to the item with id. It reports whether the item exists.
func (c *Collection[T]) Update(id string, fn func(*T)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.key(c.items[i]) == id {
			fn(&c.items[i])
			return true
		}
	}
	return false
}

// Put replaces the item sharing v's key, or appends v.
func (c *Collection[T]) Put(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.key(v)
	for i := range c.items {
		if c.key(c.items[i]) == id {
			c.items[i] = v
			return
		}
	}
	c.items = append(c.items, v)
}

func (c *Collection[T]) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.key(c.items[i]) == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Collection[T]) Filter(keep func(T) bool) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []T
	for _, it := range c.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// Reset forgets everything, including the loaded flag.
func (c *Collection[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.loaded = false
}
