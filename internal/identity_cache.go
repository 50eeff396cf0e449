package internal

import (
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lychee-technology/resource"
)

// DefaultIdentityCacheSize bounds an identity cache built with size <= 0.
const DefaultIdentityCacheSize = 1024

// IdentityCache maps identity keys to the resource instances a list has
// produced, so a reload reuses the instance (and its staged edits) for a key
// it has seen before. It is bounded; the least recently used entry is
// evicted first. Safe for concurrent use.
type IdentityCache struct {
	kind  string
	cache *lru.Cache
}

// NewIdentityCache creates a cache for one entity kind.
func NewIdentityCache(kind string, size int) (*IdentityCache, error) {
	if size <= 0 {
		size = DefaultIdentityCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}
	return &IdentityCache{kind: kind, cache: c}, nil
}

func (c *IdentityCache) Kind() string { return c.kind }

// Get returns the instance cached under key.
func (c *IdentityCache) Get(key uuid.UUID) (resource.Resource, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(resource.Resource), true
}

// Put caches r under key, replacing any previous instance.
func (c *IdentityCache) Put(key uuid.UUID, r resource.Resource) {
	c.cache.Add(key, r)
}

func (c *IdentityCache) Remove(key uuid.UUID) {
	c.cache.Remove(key)
}

func (c *IdentityCache) Len() int {
	return c.cache.Len()
}

func (c *IdentityCache) Purge() {
	c.cache.Purge()
}
