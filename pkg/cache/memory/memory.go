package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veesix-networks/cmopt122/pkg/cache"
)

const DefaultCleanupInterval = time.Minute

type item struct {
	value      []byte
	expiration time.Time
}

func (i *item) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

type Cache struct {
	items map[string]*item
	mu    sync.RWMutex
	stop  chan struct{}
	once  sync.Once
	now   func() time.Time
}

func New(cleanupInterval time.Duration) *Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	c := &Cache{
		items: make(map[string]*item),
		stop:  make(chan struct{}),
		now:   time.Now,
	}

	go c.cleanup(cleanupInterval)

	return c
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration time.Time
	if ttl > 0 {
		expiration = c.now().Add(ttl)
	}

	c.items[key] = &item{
		value:      append([]byte(nil), value...),
		expiration: expiration,
	}

	return nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	itm, exists := c.items[key]
	if !exists || itm.expired(c.now()) {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}

	return append([]byte(nil), itm.value...), nil
}

func (c *Cache) GetAll(ctx context.Context, pattern string) (map[string][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	result := make(map[string][]byte)
	for key, itm := range c.items {
		if itm.expired(now) || !matchPattern(pattern, key) {
			continue
		}
		result[key] = append([]byte(nil), itm.value...)
	}

	return result, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	return nil
}

// Len counts live entries.
func (c *Cache) Len(ctx context.Context) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0
	for _, itm := range c.items {
		if !itm.expired(now) {
			n++
		}
	}
	return n
}

// matchPattern supports '*' as a wildcard for any run of characters.
func matchPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	i, j := 0, 0
	for i < len(pattern) && j < len(key) {
		if pattern[i] == '*' {
			if i == len(pattern)-1 {
				return true
			}
			for ; j < len(key); j++ {
				if matchPattern(pattern[i+1:], key[j:]) {
					return true
				}
			}
			return false
		}
		if pattern[i] != key[j] {
			return false
		}
		i++
		j++
	}

	for i < len(pattern) && pattern[i] == '*' {
		i++
	}
	return i == len(pattern) && j == len(key)
}

func (c *Cache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, itm := range c.items {
		if itm.expired(now) {
			delete(c.items, key)
		}
	}
}
