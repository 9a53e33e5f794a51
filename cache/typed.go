package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

// Cache is a typed front over one namespace of a Manager.
//
//	users := cache.NewCache[*User](manager, "users")
//	u, hit, err := users.Get(ctx, map[string]string{"user_id": "123"})
type Cache[T any] struct {
	manager   *Manager
	namespace string
}

// NewCache creates a typed accessor for the namespace.
func NewCache[T any](manager *Manager, namespace string) *Cache[T] {
	return &Cache[T]{manager: manager, namespace: namespace}
}

// Get reads and deserializes the entry for the composite key fields.
func (c *Cache[T]) Get(ctx context.Context, fields map[string]string) (T, Hit, error) {
	var zero T

	key := c.manager.RenderKey(c.namespace, fields)
	raw, hit, err := c.manager.Get(ctx, c.namespace, key)
	if err != nil || hit != HitValue {
		return zero, hit, err
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		// A decode failure means the stored shape no longer matches the
		// type; drop the entry and report a miss.
		_ = c.manager.Delete(ctx, c.namespace, key)
		return zero, Miss, errors.Wrapf(err, "unmarshal cache entry %s:%s", c.namespace, key)
	}
	return value, HitValue, nil
}

// Set stores the value under the composite key fields.
func (c *Cache[T]) Set(ctx context.Context, fields map[string]string, value T, ttl time.Duration) error {
	key := c.manager.RenderKey(c.namespace, fields)
	return c.manager.Set(ctx, c.namespace, key, value, ttl)
}

// SetNull records that the row does not exist.
func (c *Cache[T]) SetNull(ctx context.Context, fields map[string]string) error {
	key := c.manager.RenderKey(c.namespace, fields)
	return c.manager.SetNull(ctx, c.namespace, key)
}

// Delete removes the entry for the composite key fields.
func (c *Cache[T]) Delete(ctx context.Context, fields map[string]string) error {
	key := c.manager.RenderKey(c.namespace, fields)
	return c.manager.Delete(ctx, c.namespace, key)
}

// Exists reports whether any entry (value or sentinel) is present.
func (c *Cache[T]) Exists(ctx context.Context, fields map[string]string) (bool, error) {
	key := c.manager.RenderKey(c.namespace, fields)
	return c.manager.Exists(ctx, c.namespace, key)
}
