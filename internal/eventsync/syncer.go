// Package eventsync copies contract events into the durable event store.
//
// Each pass reads the cursor, scans [cursor+1, min(cursor+range, head)],
// stores every decoded event and only then advances the cursor. Advancing
// the cursor is the single commit point: a pass that fails or is killed
// before it leaves the cursor in place and the next pass rescans the same
// range, with the store's uniqueness key absorbing the replays.
package eventsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/degended/marketsync/internal/chain"
	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/metrics"
)

// DefaultCursorKey is the sync_state row used by the event sync loop.
const DefaultCursorKey = "last_block"

// LogScanner is the part of chain.Scanner the syncer needs.
type LogScanner interface {
	Head(ctx context.Context) (uint64, error)
	Scan(ctx context.Context, f chain.Filter) ([]types.Log, error)
}

// Config tunes a Syncer.
type Config struct {
	Contract common.Address
	// CursorKey selects the sync_state row.
	CursorKey string
	// RangeSize caps the number of blocks committed per pass.
	RangeSize uint64
	// LockTTL bounds how long a crashed instance can hold the cursor lock.
	LockTTL time.Duration
	// MaxPassesPerTick bounds catch-up work done by one Tick.
	MaxPassesPerTick int
}

// Syncer runs sync passes. Lock, archiver and bus are optional.
type Syncer struct {
	cfg      Config
	scanner  LogScanner
	store    domain.SyncStore
	lock     domain.LockManager
	archiver domain.EventArchiver
	bus      domain.SignalBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Syncer)

// WithLock serialises cursor read-modify-write across instances.
func WithLock(l domain.LockManager) Option { return func(s *Syncer) { s.lock = l } }

// WithArchiver copies every committed non-empty range to cold storage.
func WithArchiver(a domain.EventArchiver) Option { return func(s *Syncer) { s.archiver = a } }

// WithSignalBus publishes newly stored events on domain.ChannelEvents.
func WithSignalBus(b domain.SignalBus) Option { return func(s *Syncer) { s.bus = b } }

// WithMetrics records pass outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Syncer) { s.metrics = m } }

// New creates a Syncer.
func New(cfg Config, scanner LogScanner, store domain.SyncStore, logger *slog.Logger, opts ...Option) *Syncer {
	if cfg.CursorKey == "" {
		cfg.CursorKey = DefaultCursorKey
	}
	if cfg.RangeSize == 0 {
		cfg.RangeSize = 5000
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.MaxPassesPerTick <= 0 {
		cfg.MaxPassesPerTick = 100
	}
	s := &Syncer{
		cfg:     cfg,
		scanner: scanner,
		store:   store,
		logger:  logger.With(slog.String("component", "eventsync")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PassResult describes one committed (or attempted) range.
type PassResult struct {
	From     uint64 `json:"from"`
	To       uint64 `json:"to"`
	Head     uint64 `json:"head"`
	Scanned  int    `json:"scanned"`
	Inserted int    `json:"inserted"`
	// Committed is false when the range was empty or the cursor was
	// already at head.
	Committed bool `json:"committed"`
}

// CaughtUp reports whether the pass reached the head it observed.
func (r PassResult) CaughtUp() bool {
	return r.To >= r.Head
}

// Tick runs passes until the cursor reaches the chain head, an error
// occurs or MaxPassesPerTick is reached. A lock held by another instance
// is not an error: the tick is skipped. While the lock is held no pass
// starts after half the lock TTL has elapsed, and the tick is cancelled
// once the TTL expires, so the lock never lapses under a running tick.
func (s *Syncer) Tick(ctx context.Context) ([]PassResult, error) {
	var budget time.Duration
	if s.lock != nil {
		unlock, err := s.lock.Acquire(ctx, "sync:"+s.cfg.CursorKey, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Debug("sync lock held elsewhere, skipping tick")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("eventsync: acquire lock: %w", err)
		}
		defer unlock()

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LockTTL)
		defer cancel()
		budget = s.cfg.LockTTL / 2
	}

	start := time.Now()
	var results []PassResult
	for i := 0; i < s.cfg.MaxPassesPerTick; i++ {
		if budget > 0 && i > 0 && time.Since(start) >= budget {
			s.logger.Info("tick reached lock budget, resuming next tick",
				slog.Int("passes", i),
				slog.Duration("elapsed", time.Since(start)),
			)
			break
		}
		res, err := s.Pass(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if !res.Committed || res.CaughtUp() {
			break
		}
	}
	return results, nil
}

// Pass performs a single read-scan-store-advance cycle.
func (s *Syncer) Pass(ctx context.Context) (PassResult, error) {
	start := time.Now()

	cursor, err := s.store.GetCursor(ctx, s.cfg.CursorKey)
	if err != nil {
		return PassResult{}, fmt.Errorf("eventsync: read cursor: %w", err)
	}
	head, err := s.scanner.Head(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("eventsync: chain head: %w", err)
	}

	res := PassResult{From: cursor + 1, To: cursor, Head: head}
	if cursor >= head {
		s.metrics.ObserveSync("idle", cursor, head, time.Since(start))
		return res, nil
	}

	to := cursor + s.cfg.RangeSize
	if to > head {
		to = head
	}
	res.To = to

	logs, err := s.scanner.Scan(ctx, chain.Filter{
		Address:   s.cfg.Contract,
		Topics:    [][]common.Hash{chain.AllEventTopics},
		FromBlock: res.From,
		ToBlock:   &to,
	})
	if err != nil {
		// A partial scan must not move the cursor past the gap.
		var scanErr *chain.ScanError
		if errors.As(err, &scanErr) {
			s.metrics.AddFailedRanges(len(scanErr.Ranges))
		}
		s.metrics.ObserveSync("scan_error", cursor, head, time.Since(start))
		return res, fmt.Errorf("eventsync: scan [%d,%d]: %w", res.From, to, err)
	}

	decoded := chain.DecodeAll(logs, s.logger)
	domain.SortEvents(decoded)
	res.Scanned = len(decoded)

	persistable := make([]domain.DomainEvent, 0, len(decoded))
	for _, ev := range decoded {
		if ev.Persistable() {
			persistable = append(persistable, ev)
		}
	}

	inserted, err := s.commit(ctx, persistable, to)
	if err != nil {
		s.metrics.ObserveSync("store_error", cursor, head, time.Since(start))
		return res, err
	}
	res.Inserted = inserted
	res.Committed = true

	s.metrics.ObserveSync("ok", to, head, time.Since(start))
	for typ, n := range countByType(persistable) {
		s.metrics.AddInserted(string(typ), n)
	}

	s.logger.Info("synced range",
		slog.Uint64("from", res.From),
		slog.Uint64("to", to),
		slog.Uint64("head", head),
		slog.Int("decoded", len(decoded)),
		slog.Int("inserted", inserted),
		slog.Duration("took", time.Since(start)),
	)

	s.afterCommit(ctx, res, decoded, persistable)
	return res, nil
}

// commit stores events and advances the cursor, atomically when the store
// supports it.
func (s *Syncer) commit(ctx context.Context, evs []domain.DomainEvent, to uint64) (int, error) {
	if rc, ok := s.store.(domain.RangeCommitter); ok {
		n, err := rc.CommitRange(ctx, s.cfg.CursorKey, evs, to)
		if err != nil {
			return 0, fmt.Errorf("eventsync: commit range: %w", err)
		}
		return n, nil
	}

	n, err := s.store.InsertEvents(ctx, evs)
	if err != nil {
		return 0, fmt.Errorf("eventsync: insert events: %w", err)
	}
	if err := s.store.AdvanceCursor(ctx, s.cfg.CursorKey, to); err != nil {
		return n, fmt.Errorf("eventsync: advance cursor: %w", err)
	}
	return n, nil
}

// afterCommit runs best-effort side effects. Failures are logged only.
func (s *Syncer) afterCommit(ctx context.Context, res PassResult, decoded, stored []domain.DomainEvent) {
	if s.archiver != nil && len(stored) > 0 {
		path, err := s.archiver.ArchiveRange(ctx, res.From, res.To, stored)
		if err != nil {
			s.logger.Warn("archive range failed",
				slog.Uint64("from", res.From),
				slog.Uint64("to", res.To),
				slog.String("error", err.Error()),
			)
		} else if path != "" {
			s.logger.Debug("archived range", slog.String("path", path))
		}
	}

	if s.bus == nil {
		return
	}
	for _, ev := range decoded {
		channel := domain.ChannelEvents
		if ev.Type == domain.EventResolved {
			channel = domain.ChannelMarkets
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := s.bus.Publish(ctx, channel, payload); err != nil {
			s.logger.Warn("publish event failed", slog.String("error", err.Error()))
			return
		}
	}
}

// Status is the sync position exposed by the HTTP API.
type Status struct {
	Key    string `json:"key"`
	Cursor uint64 `json:"cursor"`
	Head   uint64 `json:"head"`
	Lag    uint64 `json:"lag"`
	Events int64  `json:"events"`
}

// Status reads the cursor, the head and the stored event count.
func (s *Syncer) Status(ctx context.Context) (Status, error) {
	cursor, err := s.store.GetCursor(ctx, s.cfg.CursorKey)
	if err != nil {
		return Status{}, fmt.Errorf("eventsync: read cursor: %w", err)
	}
	head, err := s.scanner.Head(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("eventsync: chain head: %w", err)
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("eventsync: count events: %w", err)
	}
	st := Status{Key: s.cfg.CursorKey, Cursor: cursor, Head: head, Events: count}
	if head > cursor {
		st.Lag = head - cursor
	}
	return st, nil
}

// RunLoop ticks immediately and then on every interval until ctx ends.
func (s *Syncer) RunLoop(ctx context.Context, interval time.Duration) error {
	s.runTick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Syncer) runTick(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sync tick failed", slog.String("error", err.Error()))
	}
}

func countByType(evs []domain.DomainEvent) map[domain.EventType]int {
	out := make(map[domain.EventType]int)
	for _, ev := range evs {
		out[ev.Type]++
	}
	return out
}
