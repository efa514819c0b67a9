// Package stats computes per-user invested, earned, refunded and PNL
// figures from stored or scanned events and current market state.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/metrics"
)

// Config tunes an Aggregator.
type Config struct {
	CacheTTL time.Duration
	// TouchedOnly limits balance reads to markets seen in events. By default
	// every market is probed so a market whose events were missed still
	// counts when the user holds shares in it.
	TouchedOnly bool
	// Concurrency bounds parallel contract reads.
	Concurrency int
}

// Aggregator implements the user statistics computation.
type Aggregator struct {
	cfg     Config
	sources Sources
	reader  domain.MarketReader
	cache   domain.StatsCache
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group
}

// NewAggregator creates an Aggregator. A nil cache selects MemoryCache.
func NewAggregator(cfg Config, sources Sources, reader domain.MarketReader, cache domain.StatsCache, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Aggregator{
		cfg:     cfg,
		sources: sources,
		reader:  reader,
		cache:   cache,
		metrics: m,
		logger:  logger.With(slog.String("component", "stats")),
		now:     time.Now,
	}
}

// UserStats returns statistics for address. A cached value younger than
// the TTL is returned unless refresh is set, in which case the cache entry
// is dropped first. Concurrent computations for one address are coalesced.
func (a *Aggregator) UserStats(ctx context.Context, address string, refresh bool) (domain.UserStats, error) {
	if !common.IsHexAddress(address) {
		return domain.UserStats{}, domain.ErrInvalidAddress
	}
	addr := domain.NormalizeAddress(address)

	if refresh {
		if err := a.cache.Invalidate(ctx, addr); err != nil {
			a.logger.Warn("stats cache invalidate failed", slog.String("error", err.Error()))
		}
	} else {
		cached, err := a.cache.Get(ctx, addr)
		if err == nil {
			cached.Source = "cache"
			a.metrics.StatsServed("cache")
			return cached, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn("stats cache read failed", slog.String("error", err.Error()))
		}
	}

	v, err, _ := a.group.Do(addr, func() (any, error) {
		st, err := a.compute(ctx, addr)
		if err != nil {
			return domain.UserStats{}, err
		}
		if err := a.cache.Set(ctx, st, a.cfg.CacheTTL); err != nil {
			a.logger.Warn("stats cache write failed", slog.String("error", err.Error()))
		}
		return st, nil
	})
	if err != nil {
		return domain.UserStats{}, err
	}
	st := v.(domain.UserStats)
	a.metrics.StatsServed(st.Source)
	return st, nil
}

func (a *Aggregator) compute(ctx context.Context, addr string) (domain.UserStats, error) {
	events, source, err := a.sources.Resolve(ctx, addr, a.logger)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("stats: resolve events: %w", err)
	}

	touched := make(map[uint64]struct{})
	for _, ev := range events {
		touched[ev.MarketID] = struct{}{}
	}

	probe := make(map[uint64]struct{}, len(touched))
	for id := range touched {
		probe[id] = struct{}{}
	}
	if !a.cfg.TouchedOnly {
		count, err := a.reader.MarketCount(ctx)
		if err != nil {
			a.logger.Warn("market count failed, probing touched markets only", slog.String("error", err.Error()))
		}
		for id := uint64(0); id < count; id++ {
			probe[id] = struct{}{}
		}
	}

	balances := a.readBalances(ctx, addr, probe)
	for id, bal := range balances {
		if bal.nonZero() {
			touched[id] = struct{}{}
		}
	}

	// Market state is read last so it is at least as new as the events.
	markets := a.readMarkets(ctx, touched)

	st := Fold(addr, events, balances, markets, a.now())
	st.Source = source
	return st, nil
}

func (a *Aggregator) readBalances(ctx context.Context, addr string, ids map[uint64]struct{}) map[uint64]Balance {
	var mu sync.Mutex
	out := make(map[uint64]Balance, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for id := range ids {
		g.Go(func() error {
			optA, optB, err := a.reader.SharesBalance(gctx, id, addr)
			if err != nil {
				a.logger.Debug("shares balance read failed",
					slog.Uint64("market_id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			out[id] = Balance{OptionA: optA, OptionB: optB}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (a *Aggregator) readMarkets(ctx context.Context, ids map[uint64]struct{}) map[uint64]domain.Market {
	var mu sync.Mutex
	out := make(map[uint64]domain.Market, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for id := range ids {
		g.Go(func() error {
			m, err := a.reader.GetMarket(gctx, id)
			if err != nil {
				a.logger.Warn("market read failed",
					slog.Uint64("market_id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			out[id] = m
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Claimable previews what address can claim from one market right now.
func (a *Aggregator) Claimable(ctx context.Context, marketID uint64, address string) (Claim, error) {
	if !common.IsHexAddress(address) {
		return Claim{}, domain.ErrInvalidAddress
	}
	addr := domain.NormalizeAddress(address)

	optA, optB, err := a.reader.SharesBalance(ctx, marketID, addr)
	if err != nil {
		return Claim{}, fmt.Errorf("stats: shares balance: %w", err)
	}
	m, err := a.reader.GetMarket(ctx, marketID)
	if err != nil {
		return Claim{}, fmt.Errorf("stats: get market: %w", err)
	}

	c := Claim{
		MarketID: marketID,
		Address:  addr,
		OptionA:  optA,
		OptionB:  optB,
		Outcome:  m.Outcome,
		Resolved: m.Resolved,
		Amount:   domain.Payout(m, optA, optB),
		Gross:    new(big.Int),
		Fee:      new(big.Int),
	}
	if m.Resolved && m.Outcome != domain.OutcomeRefund {
		c.Gross = domain.GrossWinnings(m, optA, optB)
		_, c.Fee = domain.ApplyProtocolFee(c.Gross)
	}
	c.Display = domain.FormatUSDC(c.Amount)
	return c, nil
}

// Claim is a payout preview.
type Claim struct {
	MarketID uint64         `json:"marketId"`
	Address  string         `json:"address"`
	OptionA  *big.Int       `json:"optionAShares"`
	OptionB  *big.Int       `json:"optionBShares"`
	Outcome  domain.Outcome `json:"outcome"`
	Resolved bool           `json:"resolved"`
	Gross    *big.Int       `json:"gross"`
	Fee      *big.Int       `json:"fee"`
	Amount   *big.Int       `json:"amount"`
	Display  string         `json:"display"`
}
