package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/degended/marketsync/internal/domain"
)

// StatsCache implements domain.StatsCache by storing JSON-encoded UserStats
// under stats:<address> with a TTL.
type StatsCache struct {
	c *Client
}

var _ domain.StatsCache = (*StatsCache)(nil)

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{c: c}
}

// Get returns the cached stats or domain.ErrNotFound on a miss.
func (sc *StatsCache) Get(ctx context.Context, address string) (domain.UserStats, error) {
	data, err := sc.c.rdb.Get(ctx, sc.statsKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UserStats{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("redis: get stats %s: %w", address, err)
	}

	var stats domain.UserStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.UserStats{}, fmt.Errorf("redis: unmarshal stats %s: %w", address, err)
	}
	return stats, nil
}

// Set stores stats for ttl.
func (sc *StatsCache) Set(ctx context.Context, stats domain.UserStats, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("redis: marshal stats %s: %w", stats.Address, err)
	}
	if err := sc.c.rdb.Set(ctx, sc.statsKey(stats.Address), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set stats %s: %w", stats.Address, err)
	}
	return nil
}

// Invalidate drops the cached entry for address.
func (sc *StatsCache) Invalidate(ctx context.Context, address string) error {
	if err := sc.c.rdb.Del(ctx, sc.statsKey(address)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stats %s: %w", address, err)
	}
	return nil
}

func (sc *StatsCache) statsKey(address string) string {
	return sc.c.key("stats", domain.NormalizeAddress(address))
}
