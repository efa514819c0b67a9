package eventsync_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/chain"
	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/eventsync"
	"github.com/degended/marketsync/internal/store/sqlite"
)

const genesis = 100

var contract = common.HexToAddress("0xC04c1DE26F5b01151eC72183b5615635E609cC81")

type fakeScanner struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	scanErr error
	delay   time.Duration
	calls   [][2]uint64
}

func (f *fakeScanner) Head(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeScanner) Scan(_ context.Context, flt chain.Filter) ([]types.Log, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	to := f.head
	if flt.ToBlock != nil {
		to = *flt.ToBlock
	}
	f.calls = append(f.calls, [2]uint64{flt.FromBlock, to})

	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= flt.FromBlock && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	if f.scanErr != nil {
		return out, f.scanErr
	}
	return out, nil
}

func word(b []byte) []byte { return common.LeftPadBytes(b, 32) }

func purchaseLog(block uint64, tx string, user string, market int64, amount int64) types.Log {
	data := append(word([]byte{1}), word(big.NewInt(amount).Bytes())...)
	return types.Log{
		Address:     contract,
		BlockNumber: block,
		TxHash:      common.HexToHash(tx),
		Topics: []common.Hash{
			chain.TopicSharesPurchased,
			common.BigToHash(big.NewInt(market)),
			chain.ActorTopic(common.HexToAddress(user)),
		},
		Data: data,
	}
}

func resolvedLog(block uint64, tx string, market int64, outcome uint8) types.Log {
	return types.Log{
		Address:     contract,
		BlockNumber: block,
		TxHash:      common.HexToHash(tx),
		Topics:      []common.Hash{chain.TopicMarketResolved, common.BigToHash(big.NewInt(market))},
		Data:        word([]byte{outcome}),
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:", genesis)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// plainStore can fail the cursor write to simulate a crash between insert
// and advance.
type plainStore struct {
	*sqlite.Store
	failAdvance bool
}

func (p *plainStore) AdvanceCursor(ctx context.Context, key string, block uint64) error {
	if p.failAdvance {
		return errors.New("connection reset")
	}
	return p.Store.AdvanceCursor(ctx, key, block)
}

// syncStoreOnly hides CommitRange so the two-step commit path is used.
type syncStoreOnly struct{ domain.SyncStore }

func TestTick_CatchesUpInBoundedRanges(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sc := &fakeScanner{
		head: 12_000,
		logs: []types.Log{
			purchaseLog(150, "0x01", "0x1111111111111111111111111111111111111111", 1, 1_000_000),
			purchaseLog(6_000, "0x02", "0x2222222222222222222222222222222222222222", 1, 2_000_000),
			resolvedLog(11_000, "0x03", 1, 1),
		},
	}
	s := eventsync.New(eventsync.Config{Contract: contract, RangeSize: 5000}, sc, store, discard())

	results, err := s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, uint64(101), results[0].From)
	assert.Equal(t, uint64(5100), results[0].To)
	assert.Equal(t, uint64(12_000), results[2].To)
	assert.True(t, results[2].CaughtUp())

	cursor, err := store.GetCursor(ctx, eventsync.DefaultCursorKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_000), cursor)

	// MarketResolved is decoded but never stored.
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Nothing left to do.
	results, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Committed)
}

func TestPass_ScanErrorLeavesCursor(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sc := &fakeScanner{
		head:    500,
		logs:    []types.Log{purchaseLog(200, "0x01", "0x1111111111111111111111111111111111111111", 1, 5)},
		scanErr: &chain.ScanError{Ranges: []chain.FailedRange{{From: 300, To: 400, Err: errors.New("timeout")}}},
	}
	s := eventsync.New(eventsync.Config{Contract: contract}, sc, store, discard())

	_, err := s.Tick(ctx)
	require.Error(t, err)
	assert.True(t, chain.IsScanError(err))

	cursor, err := store.GetCursor(ctx, eventsync.DefaultCursorKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(genesis), cursor)

	// Provider recovers: the same range is rescanned and committed.
	sc.scanErr = nil
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	cursor, err = store.GetCursor(ctx, eventsync.DefaultCursorKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), cursor)
	assert.Equal(t, sc.calls[0], sc.calls[1])
}

func TestPass_CrashBeforeAdvanceIsReplayedWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	base := openStore(t)
	store := &plainStore{Store: base, failAdvance: true}
	sc := &fakeScanner{
		head: 1_000,
		logs: []types.Log{
			purchaseLog(200, "0x01", "0x1111111111111111111111111111111111111111", 1, 5),
			purchaseLog(300, "0x02", "0x1111111111111111111111111111111111111111", 2, 7),
		},
	}
	s := eventsync.New(eventsync.Config{Contract: contract}, sc, syncStoreOnly{store}, discard())

	_, err := s.Pass(ctx)
	require.Error(t, err)

	n, err := base.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	cursor, err := base.GetCursor(ctx, eventsync.DefaultCursorKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(genesis), cursor)

	store.failAdvance = false
	res, err := s.Pass(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)

	n, err = base.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	cursor, err = base.GetCursor(ctx, eventsync.DefaultCursorKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), cursor)
}

func TestTick_CursorIsMonotonicAndBoundedByHead(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sc := &fakeScanner{head: 800}
	s := eventsync.New(eventsync.Config{Contract: contract, RangeSize: 300}, sc, store, discard())

	var seen []uint64
	for _, head := range []uint64{800, 650, 900, 900, 1_400} {
		sc.head = head
		_, err := s.Tick(ctx)
		require.NoError(t, err)
		cursor, err := store.GetCursor(ctx, eventsync.DefaultCursorKey)
		require.NoError(t, err)
		seen = append(seen, cursor)
	}

	assert.Equal(t, []uint64{800, 800, 900, 900, 1_400}, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestTick_SkipsWhenLockHeld(t *testing.T) {
	store := openStore(t)
	sc := &fakeScanner{head: 1_000}
	s := eventsync.New(eventsync.Config{Contract: contract}, sc, store, discard(), eventsync.WithLock(heldLock{}))

	results, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, sc.calls)
}

type grantedLock struct {
	mu       sync.Mutex
	ttl      time.Duration
	released bool
}

func (l *grantedLock) Acquire(_ context.Context, _ string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttl = ttl
	return func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()
	}, nil
}

func TestTick_StopsWithinLockTTL(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	sc := &fakeScanner{head: 12_000, delay: 30 * time.Millisecond}
	lock := &grantedLock{}
	s := eventsync.New(eventsync.Config{
		Contract:  contract,
		RangeSize: 1000,
		LockTTL:   200 * time.Millisecond,
	}, sc, store, discard(), eventsync.WithLock(lock))

	start := time.Now()
	results, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, lock.ttl)
	assert.True(t, lock.released)

	require.NotEmpty(t, results)
	assert.Less(t, len(results), 12)
	last := results[len(results)-1]
	assert.False(t, last.CaughtUp())

	// The next tick resumes from the committed cursor.
	cursor, err := store.GetCursor(ctx, eventsync.DefaultCursorKey)
	require.NoError(t, err)
	assert.Equal(t, last.To, cursor)
}

type recordingBus struct {
	mu   sync.Mutex
	msgs map[string]int
}

func (b *recordingBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs[channel]++
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

type recordingArchiver struct{ ranges [][2]uint64 }

func (a *recordingArchiver) ArchiveRange(_ context.Context, from, to uint64, _ []domain.DomainEvent) (string, error) {
	a.ranges = append(a.ranges, [2]uint64{from, to})
	return "events/x.jsonl", nil
}

func TestPass_PublishesAndArchives(t *testing.T) {
	store := openStore(t)
	sc := &fakeScanner{
		head: 400,
		logs: []types.Log{
			purchaseLog(200, "0x01", "0x1111111111111111111111111111111111111111", 1, 5),
			resolvedLog(300, "0x02", 1, 2),
		},
	}
	bus := &recordingBus{msgs: map[string]int{}}
	arch := &recordingArchiver{}
	s := eventsync.New(eventsync.Config{Contract: contract}, sc, store, discard(),
		eventsync.WithSignalBus(bus), eventsync.WithArchiver(arch))

	_, err := s.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, bus.msgs[domain.ChannelEvents])
	assert.Equal(t, 1, bus.msgs[domain.ChannelMarkets])
	assert.Equal(t, [][2]uint64{{101, 400}}, arch.ranges)
}

func TestStatus(t *testing.T) {
	store := openStore(t)
	sc := &fakeScanner{head: 250}
	s := eventsync.New(eventsync.Config{Contract: contract}, sc, store, discard())

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(genesis), st.Cursor)
	assert.Equal(t, uint64(150), st.Lag)
}
