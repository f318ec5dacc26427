package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Cache stores opaque values under string keys. A ttl of zero keeps the entry
// until it is deleted.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetAll(ctx context.Context, pattern string) (map[string][]byte, error)
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) int
	Close() error
}
