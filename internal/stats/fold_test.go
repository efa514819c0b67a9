package stats_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/stats"
)

const user = "0x1111111111111111111111111111111111111111"

func boolPtr(b bool) *bool { return &b }

func purchase(market uint64, amount int64, optionA bool) domain.DomainEvent {
	return domain.DomainEvent{Type: domain.EventPurchase, MarketID: market, User: user, Amount: big.NewInt(amount), IsOptionA: boolPtr(optionA)}
}

func claim(t domain.EventType, market uint64, amount int64) domain.DomainEvent {
	return domain.DomainEvent{Type: t, MarketID: market, User: user, Amount: big.NewInt(amount)}
}

func market(id uint64, outcome domain.Outcome, a, b int64) domain.Market {
	return domain.Market{
		ID:                 id,
		Question:           "q",
		OptionA:            "Yes",
		OptionB:            "No",
		Outcome:            outcome,
		Resolved:           outcome != domain.OutcomeUnresolved,
		TotalOptionAShares: big.NewInt(a),
		TotalOptionBShares: big.NewInt(b),
	}
}

func findMarket(t *testing.T, st domain.UserStats, id uint64) domain.MarketParticipation {
	t.Helper()
	for _, p := range st.PerMarket {
		if p.MarketID == id {
			return p
		}
	}
	t.Fatalf("market %d not in stats", id)
	return domain.MarketParticipation{}
}

func TestFold_OutcomesAndTotals(t *testing.T) {
	events := []domain.DomainEvent{
		purchase(1, 3_000_000, true),
		claim(domain.EventWin, 1, 4_500_000),
		purchase(2, 2_000_000, false),
		purchase(3, 1_000_000, true),
		purchase(3, 500_000, false),
		claim(domain.EventRefund, 3, 1_500_000),
		purchase(4, 700_000, true),
	}
	markets := map[uint64]domain.Market{
		1: market(1, domain.OutcomeOptionA, 6_000_000, 4_000_000),
		2: market(2, domain.OutcomeOptionA, 5_000_000, 2_000_000),
		3: market(3, domain.OutcomeRefund, 1_000_000, 500_000),
		4: market(4, domain.OutcomeUnresolved, 700_000, 0),
	}

	st := stats.Fold(user, events, nil, markets, time.Unix(0, 0))

	assert.Equal(t, domain.ParticipationWin, findMarket(t, st, 1).Outcome)
	assert.Equal(t, domain.ParticipationLoss, findMarket(t, st, 2).Outcome)
	assert.Equal(t, domain.ParticipationRefund, findMarket(t, st, 3).Outcome)
	assert.Equal(t, domain.ParticipationPending, findMarket(t, st, 4).Outcome)
	assert.Nil(t, findMarket(t, st, 2).Earned)

	assert.Equal(t, big.NewInt(7_200_000), st.TotalInvested)
	assert.Equal(t, big.NewInt(4_500_000), st.TotalEarned)
	assert.Equal(t, big.NewInt(1_500_000), st.TotalRefunded)
	assert.Equal(t, big.NewInt(-1_200_000), st.PNL)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.InDelta(t, 0.5, st.WinRatio, 1e-9)
	assert.Equal(t, 4, st.TotalMarkets)
	assert.Equal(t, 1, st.ActiveMarkets)
}

func TestFold_PNLIdentity(t *testing.T) {
	fixtures := [][]domain.DomainEvent{
		nil,
		{purchase(0, 1, true)},
		{purchase(0, 10, true), claim(domain.EventWin, 0, 17)},
		{purchase(0, 10, false), purchase(1, 20, true), claim(domain.EventRefund, 1, 20)},
		{claim(domain.EventWin, 5, 99)},
	}
	for _, evs := range fixtures {
		st := stats.Fold(user, evs, nil, nil, time.Now())
		want := new(big.Int).Add(st.TotalEarned, st.TotalRefunded)
		want.Sub(want, st.TotalInvested)
		assert.Equal(t, 0, want.Cmp(st.PNL))
	}
}

func TestFold_NoResolvedMarketsGivesZeroRatio(t *testing.T) {
	st := stats.Fold(user, []domain.DomainEvent{purchase(1, 5, true)}, nil, nil, time.Now())
	assert.Zero(t, st.WinRatio)
	assert.Equal(t, 1, st.ActiveMarkets)
}

func TestFold_BalanceSafeguardAddsMissedMarket(t *testing.T) {
	balances := map[uint64]stats.Balance{
		9: {OptionA: big.NewInt(2_000_000), OptionB: big.NewInt(1_000_000)},
		8: {OptionA: big.NewInt(0), OptionB: big.NewInt(0)},
	}
	markets := map[uint64]domain.Market{9: market(9, domain.OutcomeRefund, 2_000_000, 1_000_000)}

	st := stats.Fold(user, nil, balances, markets, time.Now())
	require.Len(t, st.PerMarket, 1)

	p := st.PerMarket[0]
	assert.Equal(t, big.NewInt(3_000_000), p.Invested)
	assert.Equal(t, big.NewInt(3_000_000), p.Claimable)
	assert.True(t, p.IsResolved)
}

func TestFold_UnclaimedWinIsClaimable(t *testing.T) {
	events := []domain.DomainEvent{purchase(7, 3_000_000, true)}
	balances := map[uint64]stats.Balance{7: {OptionA: big.NewInt(3_000_000), OptionB: big.NewInt(0)}}
	markets := map[uint64]domain.Market{7: market(7, domain.OutcomeOptionA, 6_000_000, 4_000_000)}

	st := stats.Fold(user, events, balances, markets, time.Now())
	p := findMarket(t, st, 7)
	assert.Equal(t, big.NewInt(4_500_000), p.Claimable)
	assert.Equal(t, "4.50", domain.FormatUSDC(p.Claimable))
}
