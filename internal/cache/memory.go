package cache

import (
	"context"
	"fmt"
	"sync"
)

// MemoryCache is an in-memory SnapshotCache for tests and environments
// without Redis.
type MemoryCache struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	fail  error
}

var _ SnapshotCache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{blobs: make(map[string][]byte)}
}

// FailWith makes every subsequent call return err. Pass nil to heal.
func (c *MemoryCache) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

// Load implements SnapshotCache.
func (c *MemoryCache) Load(ctx context.Context, ownerID string) ([]byte, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwner
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fail != nil {
		return nil, c.fail
	}
	blob, ok := c.blobs[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: owner %s", ErrNoSnapshot, ownerID)
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Save implements SnapshotCache.
func (c *MemoryCache) Save(ctx context.Context, ownerID string, blob []byte) error {
	if ownerID == "" {
		return ErrEmptyOwner
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	stored := make([]byte, len(blob))
	copy(stored, blob)
	c.blobs[ownerID] = stored
	return nil
}

// Clear implements SnapshotCache.
func (c *MemoryCache) Clear(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return ErrEmptyOwner
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	delete(c.blobs, ownerID)
	return nil
}

// Close implements SnapshotCache.
func (c *MemoryCache) Close() error {
	return nil
}
