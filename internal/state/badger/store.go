// Package badger persists the listener's process-wide sets in an embedded
// Badger database for deployments without Redis.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/degended/marketsync/internal/domain"
)

const (
	prefixSubscriber = "sub/"
	prefixProcessed  = "proc/"
	prefixSuggested  = "sugg/"
)

// OpenOptions configures the on-disk database.
type OpenOptions struct {
	// Path of the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// EncryptionKey must be 16, 24 or 32 bytes when set.
	EncryptionKey []byte
}

// Store implements domain.ListenerStateStore.
type Store struct {
	db *badger.DB
}

var _ domain.ListenerStateStore = (*Store)(nil)

// Open opens or creates the database.
func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("badger: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads every persisted entry.
func (s *Store) Load(_ context.Context) (domain.ListenerSnapshot, error) {
	snap := domain.ListenerSnapshot{Processed: make(map[uint64]domain.ProcessedStatus)}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			switch {
			case strings.HasPrefix(key, prefixSubscriber):
				snap.Subscribers = append(snap.Subscribers, int64(decodeID(key, prefixSubscriber)))
			case strings.HasPrefix(key, prefixSuggested):
				snap.Suggested = append(snap.Suggested, decodeID(key, prefixSuggested))
			case strings.HasPrefix(key, prefixProcessed):
				var st domain.ProcessedStatus
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &st)
				}); err != nil {
					return fmt.Errorf("decode %s: %w", key, err)
				}
				snap.Processed[decodeID(key, prefixProcessed)] = st
			}
		}
		return nil
	})
	if err != nil {
		return domain.ListenerSnapshot{}, fmt.Errorf("badger: load: %w", err)
	}
	return snap, nil
}

// AddSubscriber records chatID.
func (s *Store) AddSubscriber(_ context.Context, chatID int64) error {
	return s.set(encodeID(prefixSubscriber, uint64(chatID)), nil)
}

// RemoveSubscriber drops chatID.
func (s *Store) RemoveSubscriber(_ context.Context, chatID int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encodeID(prefixSubscriber, uint64(chatID)))
	})
	if err != nil {
		return fmt.Errorf("badger: remove subscriber %d: %w", chatID, err)
	}
	return nil
}

// SaveProcessed stores the processed status of a market.
func (s *Store) SaveProcessed(_ context.Context, marketID uint64, status domain.ProcessedStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("badger: marshal processed %d: %w", marketID, err)
	}
	return s.set(encodeID(prefixProcessed, marketID), data)
}

// MarkSuggested records marketID as suggested.
func (s *Store) MarkSuggested(_ context.Context, marketID uint64) error {
	return s.set(encodeID(prefixSuggested, marketID), nil)
}

func (s *Store) set(key, val []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("badger: set %q: %w", key, err)
	}
	return nil
}

// encodeID appends the id big-endian so keys iterate in numeric order.
func encodeID(prefix string, id uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], id)
	return k
}

func decodeID(key, prefix string) uint64 {
	raw := key[len(prefix):]
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64([]byte(raw))
}
