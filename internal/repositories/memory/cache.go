package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "moving-crm/pkg/errors"
)

type cacheItem struct {
	value   string
	expires time.Time
}

// Cache - кеш в памяти с TTL, заменяет Redis в тестах и без REDIS_ADDRESS.
type Cache struct {
	mu    sync.Mutex
	items map[string]cacheItem
	now   func() time.Time
}

func NewCache() *Cache {
	return &Cache{items: make(map[string]cacheItem), now: time.Now}
}

func (c *Cache) live(key string) (cacheItem, bool) {
	it, ok := c.items[key]
	if !ok {
		return cacheItem{}, false
	}
	if !it.expires.IsZero() && !c.now().Before(it.expires) {
		delete(c.items, key)
		return cacheItem{}, false
	}
	return it, true
}

func (c *Cache) put(key string, value interface{}, expiration time.Duration) {
	it := cacheItem{value: toString(value)}
	if expiration > 0 {
		it.expires = c.now().Add(expiration)
	}
	c.items[key] = it
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.live(key)
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return it.value, nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value, expiration)
	return nil
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.put(key, value, expiration)
	return true, nil
}

func (c *Cache) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.live(key)
	if !ok || it.value != value {
		return false, nil
	}
	delete(c.items, key)
	return true, nil
}
