package listener_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/degended/marketsync/internal/advisor"
	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/notify"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeReader struct {
	mu      sync.Mutex
	markets []domain.Market
	fail    map[uint64]bool
	reads   map[uint64]int
}

func newReader(markets ...domain.Market) *fakeReader {
	return &fakeReader{markets: markets, fail: map[uint64]bool{}, reads: map[uint64]int{}}
}

func (r *fakeReader) set(m domain.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.markets {
		if r.markets[i].ID == m.ID {
			r.markets[i] = m
			return
		}
	}
	r.markets = append(r.markets, m)
}

func (r *fakeReader) MarketCount(context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.markets)), nil
}

func (r *fakeReader) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[id]++
	if r.fail[id] || id >= uint64(len(r.markets)) {
		return domain.Market{}, errors.New("rpc down")
	}
	return r.markets[id], nil
}

func (r *fakeReader) SharesBalance(context.Context, uint64, string) (*big.Int, *big.Int, error) {
	return new(big.Int), new(big.Int), nil
}

func (r *fakeReader) Owner(context.Context) (string, error) { return "", nil }

func (r *fakeReader) readCount(id uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads[id]
}

type broadcast struct {
	title string
	html  string
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []broadcast
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, title, html string) notify.Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{title: title, html: html})
	return notify.Report{Delivered: 1}
}

func (b *fakeBroadcaster) titles() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	for i, s := range b.sent {
		out[i] = s.title
	}
	return out
}

type fakeAdvisor struct {
	mu     sync.Mutex
	calls  int
	result *advisor.Result
	err    error
}

func (a *fakeAdvisor) Suggest(context.Context, string) (*advisor.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.result, a.err
}

type reply struct {
	chatID int64
	html   string
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []reply
}

func (r *fakeReplier) Reply(_ context.Context, chatID int64, html string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply{chatID: chatID, html: html})
	return nil
}

func (r *fakeReplier) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1].html
}

type fakeResolver struct {
	calls []domain.Outcome
	err   error
}

func (r *fakeResolver) ResolveMarket(_ context.Context, _ uint64, outcome domain.Outcome) (string, error) {
	r.calls = append(r.calls, outcome)
	if r.err != nil {
		return "", r.err
	}
	return "0xfeed", nil
}

// memStore is an in-memory ListenerStateStore.
type memStore struct {
	mu   sync.Mutex
	snap domain.ListenerSnapshot
	err  error
}

func newMemStore() *memStore {
	return &memStore{snap: domain.ListenerSnapshot{Processed: map[uint64]domain.ProcessedStatus{}}}
}

func (s *memStore) Load(context.Context) (domain.ListenerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := domain.ListenerSnapshot{
		Subscribers: append([]int64(nil), s.snap.Subscribers...),
		Processed:   map[uint64]domain.ProcessedStatus{},
		Suggested:   append([]uint64(nil), s.snap.Suggested...),
	}
	for k, v := range s.snap.Processed {
		out.Processed[k] = v
	}
	return out, nil
}

func (s *memStore) AddSubscriber(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snap.Subscribers = append(s.snap.Subscribers, id)
	return nil
}

func (s *memStore) RemoveSubscriber(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap.Subscribers[:0]
	for _, v := range s.snap.Subscribers {
		if v != id {
			out = append(out, v)
		}
	}
	s.snap.Subscribers = out
	return nil
}

func (s *memStore) SaveProcessed(_ context.Context, id uint64, st domain.ProcessedStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Processed[id] = st
	return nil
}

func (s *memStore) MarkSuggested(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Suggested = append(s.snap.Suggested, id)
	return nil
}
