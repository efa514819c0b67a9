// Package listener runs the Telegram side of the market: the poll loop that
// turns contract state transitions into notifications, the bot command
// router and the getUpdates loop feeding it.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/degended/marketsync/internal/domain"
)

// State holds the listener's process-wide sets: subscribed chats, the
// per-market notification status and the markets that already received an
// AI suggestion. Every mutation is written through to the optional durable
// store so a restart does not replay notifications.
type State struct {
	mu          sync.RWMutex
	subscribers map[int64]struct{}
	processed   map[uint64]domain.ProcessedStatus
	suggested   map[uint64]struct{}
	attempts    map[uint64]int
	restored    bool

	store  domain.ListenerStateStore
	logger *slog.Logger
}

// NewState creates an empty State. store may be nil for in-memory only.
func NewState(store domain.ListenerStateStore, logger *slog.Logger) *State {
	return &State{
		subscribers: make(map[int64]struct{}),
		processed:   make(map[uint64]domain.ProcessedStatus),
		suggested:   make(map[uint64]struct{}),
		attempts:    make(map[uint64]int),
		store:       store,
		logger:      logger.With(slog.String("component", "listener-state")),
	}
}

// Restore loads the durable snapshot. When nothing was persisted yet the
// configured seed chats become the initial subscribers.
func (s *State) Restore(ctx context.Context, seedChats []int64) error {
	var snap domain.ListenerSnapshot
	if s.store != nil {
		var err error
		snap, err = s.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("listener: restore state: %w", err)
		}
	}

	s.mu.Lock()
	for _, id := range snap.Subscribers {
		s.subscribers[id] = struct{}{}
	}
	for id, st := range snap.Processed {
		s.processed[id] = st
	}
	for _, id := range snap.Suggested {
		s.suggested[id] = struct{}{}
	}
	s.restored = len(snap.Processed) > 0
	s.mu.Unlock()

	if len(snap.Subscribers) == 0 {
		for _, id := range seedChats {
			if _, err := s.Subscribe(ctx, id); err != nil {
				return err
			}
		}
	}

	s.logger.Info("listener state restored",
		slog.Int("subscribers", len(s.Subscribers())),
		slog.Int("processed", len(snap.Processed)),
		slog.Int("suggested", len(snap.Suggested)),
	)
	return nil
}

// Restored reports whether processed statuses came from the durable store.
func (s *State) Restored() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restored
}

// Subscribers returns the subscribed chats in ascending order.
func (s *State) Subscribers() []int64 {
	s.mu.RLock()
	out := make([]int64, 0, len(s.subscribers))
	for id := range s.subscribers {
		out = append(out, id)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// IsSubscribed reports whether chatID receives broadcasts.
func (s *State) IsSubscribed(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscribers[chatID]
	return ok
}

// Subscribe adds chatID. It reports whether the chat was newly added.
func (s *State) Subscribe(ctx context.Context, chatID int64) (bool, error) {
	if s.store != nil {
		if err := s.store.AddSubscriber(ctx, chatID); err != nil {
			return false, fmt.Errorf("listener: subscribe %d: %w", chatID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, had := s.subscribers[chatID]
	s.subscribers[chatID] = struct{}{}
	return !had, nil
}

// Unsubscribe removes chatID. Removing an unknown chat is not an error.
func (s *State) Unsubscribe(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	delete(s.subscribers, chatID)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.RemoveSubscriber(ctx, chatID); err != nil {
			return fmt.Errorf("listener: unsubscribe %d: %w", chatID, err)
		}
	}
	return nil
}

// Status returns the notification status of a market and whether it is
// known at all.
func (s *State) Status(marketID uint64) (domain.ProcessedStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.processed[marketID]
	return st, ok
}

// SetStatus records a market's notification status. Resolved is terminal:
// a resolved market is never downgraded.
func (s *State) SetStatus(ctx context.Context, marketID uint64, st domain.ProcessedStatus) {
	s.mu.Lock()
	prev := s.processed[marketID]
	if prev.Resolved {
		st.Resolved = true
	}
	if prev.Created {
		st.Created = true
	}
	if st == prev {
		if _, known := s.processed[marketID]; known {
			s.mu.Unlock()
			return
		}
	}
	s.processed[marketID] = st
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveProcessed(ctx, marketID, st); err != nil {
			s.logger.Warn("persist processed status failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Counts returns how many markets are known and how many are terminal.
func (s *State) Counts() (known, resolved int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.processed {
		if st.Resolved {
			resolved++
		}
	}
	return len(s.processed), resolved
}

// Suggested reports whether the market already got an AI suggestion or ran
// out of attempts.
func (s *State) Suggested(marketID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.suggested[marketID]
	return ok
}

// MarkSuggested suppresses further AI suggestions for the market.
func (s *State) MarkSuggested(ctx context.Context, marketID uint64) {
	s.mu.Lock()
	s.suggested[marketID] = struct{}{}
	delete(s.attempts, marketID)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.MarkSuggested(ctx, marketID); err != nil {
			s.logger.Warn("persist suggested market failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RecordFailedAttempt counts a failed advisor call and returns the total
// for the market in this process.
func (s *State) RecordFailedAttempt(marketID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[marketID]++
	return s.attempts[marketID]
}
