// Package cache holds conversation headers across chat screens. The cache is
// owned by the session and cleared on logout.
package cache

import (
	"context"
	"sync"

	"tennismatch/models"
)

// MetaCache stores conversation headers by conversation id
type MetaCache interface {
	Get(ctx context.Context, conversationID int64) (models.ConversationMeta, bool)
	Set(ctx context.Context, conversationID int64, meta models.ConversationMeta)
	Clear(ctx context.Context) error
	Close() error
}

// MemoryMetaCache is an in-process MetaCache
type MemoryMetaCache struct {
	mu    sync.RWMutex
	items map[int64]models.ConversationMeta
}

// NewMemoryMetaCache creates an empty in-process cache
func NewMemoryMetaCache() *MemoryMetaCache {
	return &MemoryMetaCache{items: make(map[int64]models.ConversationMeta)}
}

func (c *MemoryMetaCache) Get(_ context.Context, conversationID int64) (models.ConversationMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.items[conversationID]
	return meta, ok
}

func (c *MemoryMetaCache) Set(_ context.Context, conversationID int64, meta models.ConversationMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[conversationID] = meta
}

// Clear drops every entry
func (c *MemoryMetaCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[int64]models.ConversationMeta)
	return nil
}

// Len is the number of cached conversations
func (c *MemoryMetaCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryMetaCache) Close() error { return nil }

var _ MetaCache = (*MemoryMetaCache)(nil)
