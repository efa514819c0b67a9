package listener_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/advisor"
	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/listener"
	"github.com/degended/marketsync/internal/notify"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func market(id uint64, end time.Time) domain.Market {
	return domain.Market{
		ID:                 id,
		Question:           "Will it rain?",
		OptionA:            "Yes",
		OptionB:            "No",
		EndTime:            end,
		TotalOptionAShares: big.NewInt(6_000_000),
		TotalOptionBShares: big.NewInt(4_000_000),
	}
}

func resolvedMarket(id uint64, outcome domain.Outcome) domain.Market {
	m := market(id, now.Add(-time.Hour))
	m.Resolved = true
	m.Outcome = outcome
	return m
}

func newPoller(reader *fakeReader, out *fakeBroadcaster, state *listener.State, cfg listener.PollConfig, opts ...listener.PollOption) *listener.Poller {
	opts = append(opts, listener.WithClock(func() time.Time { return now }))
	return listener.NewPoller(cfg, reader, state, out, notify.NewFormatter("https://degended.bet", "", ""), discard(), opts...)
}

func TestPoller_OneNotificationPerTransition(t *testing.T) {
	ctx := context.Background()
	reader := newReader()
	out := &fakeBroadcaster{}
	p := newPoller(reader, out, listener.NewState(nil, discard()), listener.PollConfig{Seed: true})

	_, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, out.titles())

	reader.set(market(0, now.Add(time.Hour)))
	for range 3 {
		_, err := p.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"New market #0"}, out.titles())

	reader.set(resolvedMarket(0, domain.OutcomeOptionA))
	for range 3 {
		_, err := p.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"New market #0", "Market #0 resolved"}, out.titles())
	assert.Contains(t, out.sent[1].html, "Winner: Yes")
}

func TestPoller_ResolvedIsTerminal(t *testing.T) {
	ctx := context.Background()
	reader := newReader(market(0, now.Add(time.Hour)))
	out := &fakeBroadcaster{}
	state := listener.NewState(nil, discard())
	p := newPoller(reader, out, state, listener.PollConfig{})

	_, err := p.Tick(ctx)
	require.NoError(t, err)
	reader.set(resolvedMarket(0, domain.OutcomeRefund))
	_, err = p.Tick(ctx)
	require.NoError(t, err)
	reads := reader.readCount(0)

	// Flip contract state back; a terminal market is never read again.
	reader.set(market(0, now.Add(time.Hour)))
	for range 5 {
		res, err := p.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
	}
	assert.Equal(t, reads, reader.readCount(0))
	assert.Equal(t, []string{"New market #0", "Market #0 resolved"}, out.titles())

	st, ok := state.Status(0)
	require.True(t, ok)
	assert.True(t, st.Resolved)
}

func TestPoller_CreatedAndResolvedInSameTick(t *testing.T) {
	reader := newReader(resolvedMarket(0, domain.OutcomeOptionB))
	out := &fakeBroadcaster{}
	p := newPoller(reader, out, listener.NewState(nil, discard()), listener.PollConfig{})

	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, []string{"New market #0", "Market #0 resolved"}, out.titles())
}

func TestPoller_ResolvedWithoutFinalOutcomeStaysOpen(t *testing.T) {
	ctx := context.Background()
	reader := newReader(market(0, now.Add(time.Hour)))
	out := &fakeBroadcaster{}
	state := listener.NewState(nil, discard())
	p := newPoller(reader, out, state, listener.PollConfig{})

	_, err := p.Tick(ctx)
	require.NoError(t, err)

	reader.set(resolvedMarket(0, domain.OutcomeUnresolved))
	for range 2 {
		res, err := p.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Checked)
		assert.Zero(t, res.Resolved)
	}
	st, ok := state.Status(0)
	require.True(t, ok)
	assert.False(t, st.Resolved)
	assert.Equal(t, []string{"New market #0"}, out.titles())

	reader.set(resolvedMarket(0, domain.OutcomeOptionB))
	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, []string{"New market #0", "Market #0 resolved"}, out.titles())
}

func TestPoller_SeedSkipsHistory(t *testing.T) {
	ctx := context.Background()
	reader := newReader(market(0, now.Add(time.Hour)), resolvedMarket(1, domain.OutcomeOptionA))
	out := &fakeBroadcaster{}
	state := listener.NewState(nil, discard())
	p := newPoller(reader, out, state, listener.PollConfig{Seed: true})

	_, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, out.titles())

	known, resolved := state.Counts()
	assert.Equal(t, 2, known)
	assert.Equal(t, 1, resolved)

	reader.set(resolvedMarket(0, domain.OutcomeOptionB))
	_, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Market #0 resolved"}, out.titles())
}

func TestPoller_RestoredStateSeedsOnlyNewMarkets(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.snap.Processed[0] = domain.ProcessedStatus{Created: true}

	state := listener.NewState(store, discard())
	require.NoError(t, state.Restore(ctx, []int64{42}))
	assert.True(t, state.Restored())
	assert.Equal(t, []int64{42}, state.Subscribers())

	reader := newReader(resolvedMarket(0, domain.OutcomeOptionA), market(1, now.Add(time.Hour)))
	out := &fakeBroadcaster{}
	p := newPoller(reader, out, state, listener.PollConfig{Seed: true})

	_, err := p.Tick(ctx)
	require.NoError(t, err)
	// Market 0 resolved while the process was down; market 1 is seeded.
	assert.Equal(t, []string{"Market #0 resolved"}, out.titles())
	assert.Equal(t, domain.ProcessedStatus{Created: true, Resolved: true}, store.snap.Processed[0])
	assert.Equal(t, domain.ProcessedStatus{Created: true}, store.snap.Processed[1])
}

func TestPoller_AdvisorSuppressedAfterSuccess(t *testing.T) {
	ctx := context.Background()
	reader := newReader(market(0, now.Add(-time.Minute)))
	out := &fakeBroadcaster{}
	adv := &fakeAdvisor{result: &advisor.Result{
		Suggestion: advisor.VerdictYes,
		Outcome:    domain.OutcomeOptionA,
		Reasoning:  "YES, it rained.",
		Sources:    []string{"https://weather.example"},
	}}
	state := listener.NewState(nil, discard())
	p := newPoller(reader, out, state, listener.PollConfig{AdvisorMaxAttempts: 3}, listener.WithAdvisor(adv))

	for range 3 {
		_, err := p.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, adv.calls)
	assert.True(t, state.Suggested(0))
	assert.Equal(t, []string{"New market #0", "AI suggestion for market #0"}, out.titles())
	assert.Contains(t, out.sent[1].html, "/resolve 0 1")
}

func TestPoller_AdvisorRetriesFailuresUpToLimit(t *testing.T) {
	ctx := context.Background()
	reader := newReader(market(0, now.Add(-time.Minute)))
	out := &fakeBroadcaster{}
	adv := &fakeAdvisor{err: errors.New("timeout")}
	state := listener.NewState(nil, discard())
	p := newPoller(reader, out, state, listener.PollConfig{AdvisorMaxAttempts: 3}, listener.WithAdvisor(adv))

	_, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, state.Suggested(0))

	for range 5 {
		_, err := p.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, adv.calls)
	assert.True(t, state.Suggested(0))
	assert.Equal(t, []string{"New market #0"}, out.titles())
}

func TestPoller_AdvisorSkipsOpenMarkets(t *testing.T) {
	reader := newReader(market(0, now.Add(time.Hour)))
	adv := &fakeAdvisor{}
	p := newPoller(reader, &fakeBroadcaster{}, listener.NewState(nil, discard()), listener.PollConfig{}, listener.WithAdvisor(adv))

	_, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, adv.calls)
}

func TestPoller_ReadErrorRetriedNextTick(t *testing.T) {
	ctx := context.Background()
	reader := newReader(market(0, now.Add(time.Hour)))
	reader.fail[0] = true
	out := &fakeBroadcaster{}
	p := newPoller(reader, out, listener.NewState(nil, discard()), listener.PollConfig{})

	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Empty(t, out.titles())

	reader.mu.Lock()
	reader.fail[0] = false
	reader.mu.Unlock()
	_, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"New market #0"}, out.titles())
}

// blockingBroadcaster parks the first broadcast until released.
type blockingBroadcaster struct {
	fakeBroadcaster
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBroadcaster) Broadcast(ctx context.Context, title, html string) notify.Report {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.fakeBroadcaster.Broadcast(ctx, title, html)
}

func TestPoller_OverlappingTickSkipped(t *testing.T) {
	ctx := context.Background()
	reader := newReader(market(0, now.Add(time.Hour)))
	out := &blockingBroadcaster{entered: make(chan struct{}), release: make(chan struct{})}
	p := listener.NewPoller(listener.PollConfig{}, reader, listener.NewState(nil, discard()), out,
		notify.NewFormatter("", "", ""), discard(), listener.WithClock(func() time.Time { return now }))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Tick(ctx)
	}()
	<-out.entered

	res, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Overlap)

	close(out.release)
	<-done
	assert.Equal(t, []string{"New market #0"}, out.titles())
}
