package identity

import (
	"context"
	"sync"
)

// PermissionCache stores resolved permission sets per principal with no TTL.
//
// Entries are tagged with the generation observed before the store read
// that produced them. InvalidateAll bumps the generation, so a Put carrying
// an older generation is dropped and a fill racing a mapping write can never
// resurrect pre-write data.
type PermissionCache interface {
	Generation(ctx context.Context) (uint64, error)
	Get(ctx context.Context, generation uint64, principal string) (PermissionSet, bool, error)
	Put(ctx context.Context, generation uint64, principal string, perms PermissionSet) error
	InvalidateAll(ctx context.Context) error
}

// MemoryPermissionCache is the in-process PermissionCache.
type MemoryPermissionCache struct {
	mu         sync.RWMutex
	generation uint64
	entries    map[string]PermissionSet
}

func NewMemoryPermissionCache() *MemoryPermissionCache {
	return &MemoryPermissionCache{
		entries: make(map[string]PermissionSet),
	}
}

func (c *MemoryPermissionCache) Generation(context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation, nil
}

func (c *MemoryPermissionCache) Get(_ context.Context, generation uint64, principal string) (PermissionSet, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if generation != c.generation {
		return nil, false, nil
	}
	perms, ok := c.entries[principal]
	return perms, ok, nil
}

func (c *MemoryPermissionCache) Put(_ context.Context, generation uint64, principal string, perms PermissionSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return nil
	}
	c.entries[principal] = perms
	return nil
}

// InvalidateAll drops every entry in one step
func (c *MemoryPermissionCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = make(map[string]PermissionSet)
	return nil
}

// Len reports the number of cached principals
func (c *MemoryPermissionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
