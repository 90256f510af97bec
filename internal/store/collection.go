package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Collection is a typed uuid-to-record map persisted under a single key. Every
// mutation is a read-modify-write of the whole map, serialized through the
// collection's mutex: the store itself has no record-level locking, so each
// collection must have exactly one writer at a time.
type Collection[T any] struct {
	kv  KV
	key string
	mu  sync.Mutex
}

// NewCollection returns a Collection persisted under key.
func NewCollection[T any](kv KV, key string) *Collection[T] {
	return &Collection[T]{kv: kv, key: key}
}

func (c *Collection[T]) load(ctx context.Context) (map[string]T, error) {
	data, err := c.kv.Get(ctx, c.key)
	if err != nil {
		return nil, err
	}
	m := make(map[string]T)
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode collection %s: %w", c.key, err)
	}
	return m, nil
}

func (c *Collection[T]) save(ctx context.Context, m map[string]T) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode collection %s: %w", c.key, err)
	}
	return c.kv.Set(ctx, c.key, data)
}

// All returns the full map. The result is owned by the caller.
func (c *Collection[T]) All(ctx context.Context) (map[string]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// Get returns the record under id and whether it exists.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	m, err := c.load(ctx)
	if err != nil {
		return zero, false, err
	}
	v, ok := m[id]
	return v, ok, nil
}

// Put inserts or replaces the record under id.
func (c *Collection[T]) Put(ctx context.Context, id string, v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.load(ctx)
	if err != nil {
		return err
	}
	m[id] = v
	return c.save(ctx, m)
}

// Delete removes the record under id, reporting whether it existed.
func (c *Collection[T]) Delete(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.load(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := m[id]; !ok {
		return false, nil
	}
	delete(m, id)
	return true, c.save(ctx, m)
}

// Update runs fn against the current map and persists the result. fn runs
// under the collection mutex, making the whole read-modify-write atomic with
// respect to other in-process callers.
func (c *Collection[T]) Update(ctx context.Context, fn func(m map[string]T) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return c.save(ctx, m)
}
