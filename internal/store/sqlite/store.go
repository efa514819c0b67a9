// Package sqlite implements the event and cursor stores on an embedded
// SQLite database. It backs single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/degended/marketsync/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS market_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    market_id    INTEGER NOT NULL,
    user_address TEXT    NOT NULL,
    event_type   TEXT    NOT NULL CHECK (event_type IN ('purchase', 'win', 'refund')),
    amount       TEXT    NOT NULL,
    is_option_a  INTEGER,
    tx_hash      TEXT    NOT NULL,
    block_number INTEGER NOT NULL,
    log_index    INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_market_events_user_address ON market_events(user_address);
CREATE INDEX IF NOT EXISTS idx_market_events_market_id ON market_events(market_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_market_events_tx_event_user
    ON market_events(tx_hash, event_type, user_address);

CREATE TABLE IF NOT EXISTS sync_state (
    key        TEXT PRIMARY KEY,
    last_block INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

const insertEventSQL = `
INSERT INTO market_events (market_id, user_address, event_type, amount, is_option_a,
                           tx_hash, block_number, log_index, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tx_hash, event_type, user_address) DO NOTHING`

const advanceCursorSQL = `
INSERT INTO sync_state (key, last_block, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE
    SET last_block = excluded.last_block, updated_at = excluded.updated_at
    WHERE sync_state.last_block < excluded.last_block`

const eventSelectCols = `id, market_id, user_address, event_type, amount, is_option_a,
	tx_hash, block_number, log_index, created_at`

// Store implements domain.SyncStore and domain.RangeCommitter.
type Store struct {
	db           *sql.DB
	genesisBlock uint64
	now          func() time.Time
}

var (
	_ domain.SyncStore      = (*Store)(nil)
	_ domain.RangeCommitter = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string, genesisBlock uint64) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, genesisBlock: genesisBlock, now: time.Now}, nil
}

// Ping checks the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, db execer, ev domain.DomainEvent) (bool, error) {
	if !ev.Persistable() {
		return false, nil
	}
	amount := "0"
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	res, err := db.ExecContext(ctx, insertEventSQL,
		int64(ev.MarketID),
		domain.NormalizeAddress(ev.User),
		string(ev.Type),
		amount,
		nullableBool(ev.IsOptionA),
		strings.ToLower(ev.TxHash),
		int64(ev.BlockNumber),
		int64(ev.LogIndex),
		s.now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: insert event %s: %w", ev.TxHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n == 1, nil
}

// InsertEventIfNew inserts one event; duplicates report false without error.
func (s *Store) InsertEventIfNew(ctx context.Context, ev domain.DomainEvent) (bool, error) {
	return s.insert(ctx, s.db, ev)
}

// InsertEvents inserts a batch in one transaction and returns the number of
// new rows.
func (s *Store) InsertEvents(ctx context.Context, evs []domain.DomainEvent) (int, error) {
	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.insertAll(ctx, tx, evs)
		inserted = n
		return err
	})
	return inserted, err
}

func (s *Store) insertAll(ctx context.Context, db execer, evs []domain.DomainEvent) (int, error) {
	inserted := 0
	for _, ev := range evs {
		ok, err := s.insert(ctx, db, ev)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// ListByUser returns a user's events in block order.
func (s *Store) ListByUser(ctx context.Context, user string) ([]domain.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventSelectCols+` FROM market_events WHERE user_address = ?
		 ORDER BY block_number, log_index`,
		domain.NormalizeAddress(user))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events by user: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByMarket returns a page of a market's events in block order.
func (s *Store) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.DomainEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	var since int64
	if opts.Since != nil {
		since = opts.Since.Unix()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventSelectCols+` FROM market_events
		 WHERE market_id = ? AND created_at >= ?
		 ORDER BY block_number, log_index LIMIT ? OFFSET ?`,
		int64(marketID), since, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events by market: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM market_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count events: %w", err)
	}
	return n, nil
}

// GetCursor returns the last synced block for key, or the genesis block.
func (s *Store) GetCursor(ctx context.Context, key string) (uint64, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, `SELECT last_block FROM sync_state WHERE key = ?`, key).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return s.genesisBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: get cursor %s: %w", key, err)
	}
	return uint64(block), nil
}

// AdvanceCursor moves the cursor forward and ignores attempts to move it back.
func (s *Store) AdvanceCursor(ctx context.Context, key string, block uint64) error {
	if _, err := s.db.ExecContext(ctx, advanceCursorSQL, key, int64(block), s.now().Unix()); err != nil {
		return fmt.Errorf("sqlite: advance cursor %s: %w", key, err)
	}
	return nil
}

// CommitRange inserts a range's events and advances the cursor atomically.
func (s *Store) CommitRange(ctx context.Context, key string, evs []domain.DomainEvent, toBlock uint64) (int, error) {
	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.insertAll(ctx, tx, evs)
		if err != nil {
			return err
		}
		inserted = n
		if _, err := tx.ExecContext(ctx, advanceCursorSQL, key, int64(toBlock), s.now().Unix()); err != nil {
			return fmt.Errorf("sqlite: advance cursor %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func scanEvents(rows *sql.Rows) ([]domain.DomainEvent, error) {
	var out []domain.DomainEvent
	for rows.Next() {
		var (
			ev        domain.DomainEvent
			marketID  int64
			eventType string
			amount    string
			isA       sql.NullBool
			block     int64
			logIndex  int64
			created   int64
		)
		if err := rows.Scan(&ev.ID, &marketID, &ev.User, &eventType, &amount, &isA,
			&ev.TxHash, &block, &logIndex, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("sqlite: event %d: bad amount %q", ev.ID, amount)
		}
		ev.MarketID = uint64(marketID)
		ev.Type = domain.EventType(eventType)
		ev.Amount = v
		if isA.Valid {
			b := isA.Bool
			ev.IsOptionA = &b
		}
		ev.BlockNumber = uint64(block)
		ev.LogIndex = uint(logIndex)
		ev.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
