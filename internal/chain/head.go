package chain

import (
	"context"
	"sync"
	"time"
)

// HeadProvider returns the current chain height.
type HeadProvider interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HeadCache memoises the chain head for a short TTL so one scan pass does
// not issue a height query per sub-range.
type HeadCache struct {
	provider HeadProvider
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	head      uint64
	fetchedAt time.Time
}

// NewHeadCache wraps provider with a cache of the given TTL.
func NewHeadCache(provider HeadProvider, ttl time.Duration) *HeadCache {
	return &HeadCache{provider: provider, ttl: ttl, now: time.Now}
}

// BlockNumber returns the cached head or refreshes it when stale.
func (h *HeadCache) BlockNumber(ctx context.Context) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.fetchedAt.IsZero() && h.now().Sub(h.fetchedAt) < h.ttl {
		return h.head, nil
	}
	head, err := h.provider.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	h.head = head
	h.fetchedAt = h.now()
	return head, nil
}

// Invalidate forces the next call to hit the provider.
func (h *HeadCache) Invalidate() {
	h.mu.Lock()
	h.fetchedAt = time.Time{}
	h.mu.Unlock()
}
