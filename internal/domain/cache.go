package domain

import (
	"context"
	"time"
)

// StatsCache holds recently computed user statistics.
type StatsCache interface {
	Get(ctx context.Context, address string) (UserStats, error)
	Set(ctx context.Context, stats UserStats, ttl time.Duration) error
	Invalidate(ctx context.Context, address string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus is a fire-and-forget pub/sub channel used for live streaming.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channel names.
const (
	ChannelEvents  = "ch:events"
	ChannelMarkets = "ch:markets"
)

// ListenerStateStore persists the listener's subscriber, processed and
// suggested sets so a restart does not replay notifications.
type ListenerStateStore interface {
	Load(ctx context.Context) (ListenerSnapshot, error)
	AddSubscriber(ctx context.Context, chatID int64) error
	RemoveSubscriber(ctx context.Context, chatID int64) error
	SaveProcessed(ctx context.Context, marketID uint64, status ProcessedStatus) error
	MarkSuggested(ctx context.Context, marketID uint64) error
}
