package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// EventStore persists decoded contract events. Inserts are idempotent on
// (tx_hash, event_type, user_address).
type EventStore interface {
	InsertEventIfNew(ctx context.Context, ev DomainEvent) (bool, error)
	InsertEvents(ctx context.Context, evs []DomainEvent) (int, error)
	ListByUser(ctx context.Context, user string) ([]DomainEvent, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]DomainEvent, error)
	Count(ctx context.Context) (int64, error)
}

// CursorStore persists the last fully synced block per key. Reads of a key
// that was never written return the store's genesis block.
type CursorStore interface {
	GetCursor(ctx context.Context, key string) (uint64, error)
	AdvanceCursor(ctx context.Context, key string, block uint64) error
}

// SyncStore is what the sync loop needs from a backend.
type SyncStore interface {
	EventStore
	CursorStore
}

// RangeCommitter is implemented by stores that can insert a range's events
// and advance the cursor atomically.
type RangeCommitter interface {
	CommitRange(ctx context.Context, key string, evs []DomainEvent, toBlock uint64) (inserted int, err error)
}
