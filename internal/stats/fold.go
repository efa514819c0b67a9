package stats

import (
	"math/big"
	"sort"
	"time"

	"github.com/degended/marketsync/internal/domain"
)

// Balance is a live share balance read from the contract.
type Balance struct {
	OptionA *big.Int
	OptionB *big.Int
}

func (b Balance) nonZero() bool {
	return (b.OptionA != nil && b.OptionA.Sign() > 0) || (b.OptionB != nil && b.OptionB.Sign() > 0)
}

// Fold derives per-market participation and the aggregate from events,
// live balances and current market state. Markets present only in
// balances count their balance as invested. All arithmetic is on base
// units.
func Fold(user string, events []domain.DomainEvent, balances map[uint64]Balance, markets map[uint64]domain.Market, now time.Time) domain.UserStats {
	parts := make(map[uint64]*domain.MarketParticipation)
	get := func(id uint64) *domain.MarketParticipation {
		p, ok := parts[id]
		if !ok {
			p = &domain.MarketParticipation{
				MarketID:  id,
				Invested:  new(big.Int),
				InvestedA: new(big.Int),
				InvestedB: new(big.Int),
			}
			parts[id] = p
		}
		return p
	}

	for _, ev := range events {
		if ev.Amount == nil {
			continue
		}
		p := get(ev.MarketID)
		switch ev.Type {
		case domain.EventPurchase:
			p.Invested.Add(p.Invested, ev.Amount)
			if ev.IsOptionA != nil && *ev.IsOptionA {
				p.InvestedA.Add(p.InvestedA, ev.Amount)
			} else {
				p.InvestedB.Add(p.InvestedB, ev.Amount)
			}
		case domain.EventWin:
			p.Earned = addOpt(p.Earned, ev.Amount)
		case domain.EventRefund:
			p.Refunded = addOpt(p.Refunded, ev.Amount)
		}
	}

	// Safeguard against missed purchase events.
	for id, bal := range balances {
		if !bal.nonZero() {
			continue
		}
		p := get(id)
		if p.Invested.Sign() == 0 {
			p.InvestedA.Set(orZero(bal.OptionA))
			p.InvestedB.Set(orZero(bal.OptionB))
			p.Invested.Add(p.InvestedA, p.InvestedB)
		}
	}

	out := domain.UserStats{
		Address:       domain.NormalizeAddress(user),
		TotalInvested: new(big.Int),
		TotalEarned:   new(big.Int),
		TotalRefunded: new(big.Int),
		PNL:           new(big.Int),
		PerMarket:     make([]domain.MarketParticipation, 0, len(parts)),
		ComputedAt:    now.UTC(),
	}

	for id, p := range parts {
		if m, ok := markets[id]; ok {
			p.Question = m.Question
			p.MarketOutcome = m.Outcome
			p.IsResolved = m.Resolved
			if m.Resolved && p.Earned == nil && p.Refunded == nil {
				shares := balances[id]
				a, b := shares.OptionA, shares.OptionB
				if !shares.nonZero() {
					a, b = p.InvestedA, p.InvestedB
				}
				if c := domain.Payout(m, a, b); c.Sign() > 0 {
					p.Claimable = c
				}
			}
		}

		// A claim is only possible after resolution.
		if p.Earned != nil || p.Refunded != nil {
			p.IsResolved = true
		}

		switch {
		case p.Earned != nil:
			p.Outcome = domain.ParticipationWin
		case p.Refunded != nil:
			p.Outcome = domain.ParticipationRefund
		case p.IsResolved:
			p.Outcome = domain.ParticipationLoss
		default:
			p.Outcome = domain.ParticipationPending
		}

		out.TotalInvested.Add(out.TotalInvested, p.Invested)
		out.TotalEarned.Add(out.TotalEarned, orZero(p.Earned))
		out.TotalRefunded.Add(out.TotalRefunded, orZero(p.Refunded))

		if p.IsResolved {
			switch p.Outcome {
			case domain.ParticipationWin:
				out.Wins++
			case domain.ParticipationLoss:
				out.Losses++
			}
		} else if p.Invested.Sign() > 0 {
			out.ActiveMarkets++
		}
		out.PerMarket = append(out.PerMarket, *p)
	}

	out.PNL.Add(out.TotalEarned, out.TotalRefunded)
	out.PNL.Sub(out.PNL, out.TotalInvested)
	out.TotalMarkets = len(out.PerMarket)
	if decided := out.Wins + out.Losses; decided > 0 {
		out.WinRatio = float64(out.Wins) / float64(decided)
	}

	sort.Slice(out.PerMarket, func(i, j int) bool {
		return out.PerMarket[i].MarketID < out.PerMarket[j].MarketID
	})
	return out
}

func addOpt(acc, v *big.Int) *big.Int {
	if acc == nil {
		return new(big.Int).Set(v)
	}
	return acc.Add(acc, v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
