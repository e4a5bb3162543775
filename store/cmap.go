package store

import "sync"

// cmap is a string-keyed map safe for concurrent per-key reads and writes.
// Every cache in the Store goes through one of these so no two mutations on
// the same key can interleave into a torn value.
type cmap[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

func newCmap[V any]() *cmap[V] {
	return &cmap[V]{m: make(map[string]V)}
}

func (c *cmap[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *cmap[V]) Set(key string, value V) {
	c.mu.Lock()
	c.m[key] = value
	c.mu.Unlock()
}

func (c *cmap[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *cmap[V]) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.m[key]
	return ok
}

func (c *cmap[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Range calls fn for each entry over a snapshot of the keys, so fn may
// safely mutate the map.
func (c *cmap[V]) Range(fn func(key string, value V) bool) {
	c.mu.RLock()
	keys := make([]string, 0, len(c.m))
	for k := range c.m {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	for _, k := range keys {
		v, ok := c.Get(k)
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}
