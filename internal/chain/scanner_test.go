package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves logs from a fixed set and rejects ranges wider than
// maxRange with a provider-style error.
type fakeProvider struct {
	mu        sync.Mutex
	head      uint64
	logs      []types.Log
	maxRange  uint64
	failRange map[[2]uint64]int // remaining transient failures per range
	failErr   error             // returned for failRange hits, defaults to a 503
	calls     int
	headCalls int
}

func (p *fakeProvider) BlockNumber(context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headCalls++
	return p.head, nil
}

func (p *fakeProvider) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if p.maxRange > 0 && to-from+1 > p.maxRange {
		return nil, errors.New("eth_getLogs is limited to a 100 block range")
	}
	key := [2]uint64{from, to}
	if n := p.failRange[key]; n != 0 {
		if n > 0 {
			p.failRange[key] = n - 1
		}
		if p.failErr != nil {
			return nil, p.failErr
		}
		return nil, errors.New("503 service unavailable")
	}

	var out []types.Log
	for _, lg := range p.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func logsAt(blocks ...uint64) []types.Log {
	out := make([]types.Log, 0, len(blocks))
	for i, b := range blocks {
		out = append(out, types.Log{BlockNumber: b, Index: uint(i), Topics: []common.Hash{TopicSharesPurchased}})
	}
	return out
}

func blocksOf(logs []types.Log) []uint64 {
	out := make([]uint64, 0, len(logs))
	for _, lg := range logs {
		out = append(out, lg.BlockNumber)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func testScanner(p LogProvider, cfg ScanConfig) *Scanner {
	cfg.RequestInterval = 0
	cfg.RetryBackoff = 0
	return NewScanner(p, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func u64(v uint64) *uint64 { return &v }

func TestScan_SplitsOnRangeLimit(t *testing.T) {
	p := &fakeProvider{
		head:     1000,
		maxRange: 100,
		logs:     logsAt(99, 100, 150, 199, 200, 201, 250, 251),
	}
	s := testScanner(p, ScanConfig{ChunkSize: 1000})

	logs, err := s.Scan(context.Background(), Filter{FromBlock: 100, ToBlock: u64(250)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 150, 199, 200, 201, 250}, blocksOf(logs))
	assert.Less(t, p.calls, 20)
}

func TestScan_EmptyRangeIsNotAnError(t *testing.T) {
	p := &fakeProvider{head: 500}
	s := testScanner(p, ScanConfig{ChunkSize: 100})

	logs, err := s.Scan(context.Background(), Filter{FromBlock: 0, ToBlock: u64(499)})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, 5, p.calls)
}

func TestScan_FromAfterToReturnsNothing(t *testing.T) {
	p := &fakeProvider{head: 10}
	s := testScanner(p, ScanConfig{})

	logs, err := s.Scan(context.Background(), Filter{FromBlock: 11})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, p.calls)
}

func TestScan_DefaultsToCachedHead(t *testing.T) {
	p := &fakeProvider{head: 42, logs: logsAt(42, 43)}
	s := testScanner(p, ScanConfig{ChunkSize: 10})

	_, err := s.Scan(context.Background(), Filter{FromBlock: 0})
	require.NoError(t, err)
	logs, err := s.Scan(context.Background(), Filter{FromBlock: 40})
	require.NoError(t, err)

	assert.Equal(t, []uint64{42}, blocksOf(logs))
	assert.Equal(t, 1, p.headCalls)
}

func TestScan_RetriesTransientErrors(t *testing.T) {
	p := &fakeProvider{
		head:      100,
		logs:      logsAt(5, 15),
		failRange: map[[2]uint64]int{{10, 19}: 2},
	}
	s := testScanner(p, ScanConfig{ChunkSize: 10, MaxRetries: 3})

	logs, err := s.Scan(context.Background(), Filter{FromBlock: 0, ToBlock: u64(19)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 15}, blocksOf(logs))
}

func TestScan_PersistentFailureKeepsOtherRanges(t *testing.T) {
	p := &fakeProvider{
		head:      100,
		logs:      logsAt(5, 15, 25),
		failRange: map[[2]uint64]int{{10, 19}: -1},
	}
	s := testScanner(p, ScanConfig{ChunkSize: 10, MaxRetries: 1})

	logs, err := s.Scan(context.Background(), Filter{FromBlock: 0, ToBlock: u64(29)})
	require.Error(t, err)

	var se *ScanError
	require.ErrorAs(t, err, &se)
	require.Len(t, se.Ranges, 1)
	assert.Equal(t, uint64(10), se.Ranges[0].From)
	assert.Equal(t, uint64(19), se.Ranges[0].To)
	assert.True(t, IsScanError(err))
	assert.Equal(t, []uint64{5, 25}, blocksOf(logs))
}

func TestScan_ActorFilterUsesLargerChunk(t *testing.T) {
	p := &fakeProvider{head: 10_000}
	s := testScanner(p, ScanConfig{ChunkSize: 100, ActorChunkSize: 5_000})

	actor := ActorTopic(common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	_, err := s.Scan(context.Background(), Filter{
		FromBlock: 0,
		ToBlock:   u64(9_999),
		Topics:    [][]common.Hash{UserEventTopics, nil, {actor}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
}

func TestIsRangeError(t *testing.T) {
	assert.True(t, IsRangeError(errors.New("exceed maximum block range: 10000")))
	assert.True(t, IsRangeError(errors.New("Query returned more than 10000 results")))
	assert.True(t, IsRangeError(errors.New("block range limit exceeded")))
	assert.False(t, IsRangeError(errors.New("connection reset")))
	assert.False(t, IsRangeError(errors.New("429 Too Many Requests: rate limit exceeded")))
	assert.False(t, IsRangeError(errors.New("daily request limit exceeded, rate limit reached")))
	assert.False(t, IsRangeError(nil))
}

func TestScan_RetriesThrottledRequests(t *testing.T) {
	p := &fakeProvider{
		head:      999,
		logs:      logsAt(10, 500),
		failRange: map[[2]uint64]int{{0, 999}: 1},
		failErr:   errors.New("429 Too Many Requests: rate limit exceeded"),
	}
	s := testScanner(p, ScanConfig{ChunkSize: 1000, MinChunkSize: 1000, MaxRetries: 3})

	logs, err := s.Scan(context.Background(), Filter{FromBlock: 0, ToBlock: u64(999)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 500}, blocksOf(logs))
	assert.Equal(t, 2, p.calls)
}

func TestScan_ThrottlingDoesNotShrinkChunk(t *testing.T) {
	p := &fakeProvider{
		head:      1999,
		failRange: map[[2]uint64]int{{0, 999}: 1},
		failErr:   errors.New("rate limit exceeded"),
	}
	s := testScanner(p, ScanConfig{ChunkSize: 1000, MinChunkSize: 100, MaxRetries: 2})

	_, err := s.Scan(context.Background(), Filter{FromBlock: 0, ToBlock: u64(1999)})
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls)
}
