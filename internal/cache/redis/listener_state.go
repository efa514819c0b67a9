package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/degended/marketsync/internal/domain"
)

// ListenerState implements domain.ListenerStateStore with a set of chat ids,
// a hash of market id to processed status and a set of suggested markets.
type ListenerState struct {
	c *Client
}

var _ domain.ListenerStateStore = (*ListenerState)(nil)

// NewListenerState creates a ListenerState backed by the given Client.
func NewListenerState(c *Client) *ListenerState {
	return &ListenerState{c: c}
}

// Load reads all three sets in one pipeline.
func (ls *ListenerState) Load(ctx context.Context) (domain.ListenerSnapshot, error) {
	var (
		subs      *redis.StringSliceCmd
		processed *redis.MapStringStringCmd
		suggested *redis.StringSliceCmd
	)
	_, err := ls.c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		subs = p.SMembers(ctx, ls.c.key("listener", "subscribers"))
		processed = p.HGetAll(ctx, ls.c.key("listener", "processed"))
		suggested = p.SMembers(ctx, ls.c.key("listener", "suggested"))
		return nil
	})
	if err != nil {
		return domain.ListenerSnapshot{}, fmt.Errorf("redis: load listener state: %w", err)
	}

	snap := domain.ListenerSnapshot{Processed: make(map[uint64]domain.ProcessedStatus)}
	for _, s := range subs.Val() {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		snap.Subscribers = append(snap.Subscribers, id)
	}
	for k, v := range processed.Val() {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		var st domain.ProcessedStatus
		if err := json.Unmarshal([]byte(v), &st); err != nil {
			continue
		}
		snap.Processed[id] = st
	}
	for _, s := range suggested.Val() {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		snap.Suggested = append(snap.Suggested, id)
	}
	return snap, nil
}

// AddSubscriber records chatID as subscribed.
func (ls *ListenerState) AddSubscriber(ctx context.Context, chatID int64) error {
	if err := ls.c.rdb.SAdd(ctx, ls.c.key("listener", "subscribers"), chatID).Err(); err != nil {
		return fmt.Errorf("redis: add subscriber %d: %w", chatID, err)
	}
	return nil
}

// RemoveSubscriber drops chatID.
func (ls *ListenerState) RemoveSubscriber(ctx context.Context, chatID int64) error {
	if err := ls.c.rdb.SRem(ctx, ls.c.key("listener", "subscribers"), chatID).Err(); err != nil {
		return fmt.Errorf("redis: remove subscriber %d: %w", chatID, err)
	}
	return nil
}

// SaveProcessed stores the processed status of a market.
func (ls *ListenerState) SaveProcessed(ctx context.Context, marketID uint64, status domain.ProcessedStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: marshal processed %d: %w", marketID, err)
	}
	field := strconv.FormatUint(marketID, 10)
	if err := ls.c.rdb.HSet(ctx, ls.c.key("listener", "processed"), field, data).Err(); err != nil {
		return fmt.Errorf("redis: save processed %d: %w", marketID, err)
	}
	return nil
}

// MarkSuggested records that an AI suggestion was delivered for marketID.
func (ls *ListenerState) MarkSuggested(ctx context.Context, marketID uint64) error {
	if err := ls.c.rdb.SAdd(ctx, ls.c.key("listener", "suggested"), marketID).Err(); err != nil {
		return fmt.Errorf("redis: mark suggested %d: %w", marketID, err)
	}
	return nil
}
