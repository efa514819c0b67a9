package stats

import (
	"context"
	"sync"
	"time"

	"github.com/degended/marketsync/internal/domain"
)

// MemoryCache is the in-process domain.StatsCache used when Redis is off.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	stats   domain.UserStats
	expires time.Time
}

var _ domain.StatsCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, address string) (domain.UserStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := domain.NormalizeAddress(address)
	e, ok := c.entries[key]
	if !ok {
		return domain.UserStats{}, domain.ErrNotFound
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return domain.UserStats{}, domain.ErrNotFound
	}
	return e.stats, nil
}

func (c *MemoryCache) Set(_ context.Context, stats domain.UserStats, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain.NormalizeAddress(stats.Address)] = memoryEntry{stats: stats, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, domain.NormalizeAddress(address))
	return nil
}
