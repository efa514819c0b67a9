package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/degended/marketsync/internal/domain"
)

// EventStore implements domain.SyncStore on the market_events and
// sync_state tables.
type EventStore struct {
	pool         *pgxpool.Pool
	genesisBlock uint64
}

var (
	_ domain.SyncStore      = (*EventStore)(nil)
	_ domain.RangeCommitter = (*EventStore)(nil)
)

// NewEventStore creates an EventStore. genesisBlock is returned by
// GetCursor for keys that were never advanced.
func NewEventStore(pool *pgxpool.Pool, genesisBlock uint64) *EventStore {
	return &EventStore{pool: pool, genesisBlock: genesisBlock}
}

const eventSelectCols = `id, market_id, user_address, event_type, amount::text,
	is_option_a, tx_hash, block_number, log_index, created_at`

const insertEventSQL = `
	INSERT INTO market_events (
		market_id, user_address, event_type, amount, is_option_a,
		tx_hash, block_number, log_index
	) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	ON CONFLICT (tx_hash, event_type, user_address) DO NOTHING`

const advanceCursorSQL = `
	INSERT INTO sync_state (key, last_block, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (key) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = NOW()
		WHERE sync_state.last_block < EXCLUDED.last_block`

func insertArgs(ev domain.DomainEvent) []any {
	amount := "0"
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	return []any{
		int64(ev.MarketID),
		domain.NormalizeAddress(ev.User),
		string(ev.Type),
		amount,
		ev.IsOptionA,
		strings.ToLower(ev.TxHash),
		int64(ev.BlockNumber),
		int32(ev.LogIndex),
	}
}

// InsertEventIfNew inserts one event and reports whether a row was written.
// A duplicate (tx_hash, event_type, user_address) is not an error.
func (s *EventStore) InsertEventIfNew(ctx context.Context, ev domain.DomainEvent) (bool, error) {
	if !ev.Persistable() {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, insertEventSQL, insertArgs(ev)...)
	if err != nil {
		return false, fmt.Errorf("postgres: insert event %s: %w", ev.TxHash, err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertEvents inserts a batch and returns how many rows were new.
func (s *EventStore) InsertEvents(ctx context.Context, evs []domain.DomainEvent) (int, error) {
	return insertBatch(ctx, s.pool, evs)
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func insertBatch(ctx context.Context, db batchSender, evs []domain.DomainEvent) (int, error) {
	batch := &pgx.Batch{}
	queued := 0
	for _, ev := range evs {
		if !ev.Persistable() {
			continue
		}
		batch.Queue(insertEventSQL, insertArgs(ev)...)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	br := db.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := 0; i < queued; i++ {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert events batch item %d: %w", i, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListByUser returns every stored event of a user in block order.
func (s *EventStore) ListByUser(ctx context.Context, user string) ([]domain.DomainEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM market_events
		 WHERE user_address = $1
		 ORDER BY block_number, log_index`,
		domain.NormalizeAddress(user),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events by user: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// ListByMarket returns a page of a market's events in block order.
func (s *EventStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.DomainEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM market_events
		 WHERE market_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		 ORDER BY block_number, log_index
		 LIMIT $3 OFFSET $4`,
		int64(marketID), opts.Since, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events by market: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// Count returns the number of stored events.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return n, nil
}

// GetCursor returns the last synced block for key, or the genesis block.
func (s *EventStore) GetCursor(ctx context.Context, key string) (uint64, error) {
	var block int64
	err := s.pool.QueryRow(ctx, `SELECT last_block FROM sync_state WHERE key = $1`, key).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.genesisBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get cursor %s: %w", key, err)
	}
	return uint64(block), nil
}

// AdvanceCursor moves the cursor forward. Lower values are ignored so the
// cursor never decreases.
func (s *EventStore) AdvanceCursor(ctx context.Context, key string, block uint64) error {
	if _, err := s.pool.Exec(ctx, advanceCursorSQL, key, int64(block)); err != nil {
		return fmt.Errorf("postgres: advance cursor %s: %w", key, err)
	}
	return nil
}

// CommitRange inserts the events of a fully scanned range and advances the
// cursor in one transaction.
func (s *EventStore) CommitRange(ctx context.Context, key string, evs []domain.DomainEvent, toBlock uint64) (int, error) {
	var inserted int
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		n, err := insertBatch(ctx, tx, evs)
		if err != nil {
			return err
		}
		inserted = n
		_, err = tx.Exec(ctx, advanceCursorSQL, key, int64(toBlock))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: commit range to %d: %w", toBlock, err)
	}
	return inserted, nil
}

func scanEventRows(rows pgx.Rows) ([]domain.DomainEvent, error) {
	var out []domain.DomainEvent
	for rows.Next() {
		var (
			ev        domain.DomainEvent
			marketID  int64
			eventType string
			amount    string
			block     int64
			logIndex  int32
		)
		if err := rows.Scan(&ev.ID, &marketID, &ev.User, &eventType, &amount,
			&ev.IsOptionA, &ev.TxHash, &block, &logIndex, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: event %d: bad amount %q", ev.ID, amount)
		}
		ev.MarketID = uint64(marketID)
		ev.Type = domain.EventType(eventType)
		ev.Amount = v
		ev.BlockNumber = uint64(block)
		ev.LogIndex = uint(logIndex)
		out = append(out, ev)
	}
	return out, rows.Err()
}
