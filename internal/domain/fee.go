package domain

import "math/big"

const (
	// ProtocolFeeBps is charged on gross winnings only. Refunds are fee free.
	ProtocolFeeBps = 1000
	BpsDenominator = 10000
)

// ApplyProtocolFee splits gross winnings into the amount paid to the winner
// and the protocol fee. Integer division truncates the fee, never the payout.
func ApplyProtocolFee(gross *big.Int) (net, fee *big.Int) {
	g := orZero(gross)
	fee = new(big.Int).Mul(g, big.NewInt(ProtocolFeeBps))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	net = new(big.Int).Sub(g, fee)
	return net, fee
}

// GrossWinnings returns the user's pro-rata share of the whole pool before
// fees. Zero is returned for unresolved or refunded markets.
func GrossWinnings(m Market, sharesA, sharesB *big.Int) *big.Int {
	var userWinning, sideTotal *big.Int
	switch m.Outcome {
	case OutcomeOptionA:
		userWinning, sideTotal = orZero(sharesA), orZero(m.TotalOptionAShares)
	case OutcomeOptionB:
		userWinning, sideTotal = orZero(sharesB), orZero(m.TotalOptionBShares)
	default:
		return new(big.Int)
	}
	if userWinning.Sign() <= 0 || sideTotal.Sign() <= 0 {
		return new(big.Int)
	}
	gross := new(big.Int).Mul(m.TotalPool(), userWinning)
	return gross.Quo(gross, sideTotal)
}

// Payout is the amount a user can claim from a resolved market given their
// share balances. Winners receive GrossWinnings minus the protocol fee, a
// refund returns both sides in full, and anything else is zero.
func Payout(m Market, sharesA, sharesB *big.Int) *big.Int {
	if !m.Resolved {
		return new(big.Int)
	}
	switch m.Outcome {
	case OutcomeRefund:
		return new(big.Int).Add(orZero(sharesA), orZero(sharesB))
	case OutcomeOptionA, OutcomeOptionB:
		net, _ := ApplyProtocolFee(GrossWinnings(m, sharesA, sharesB))
		return net
	default:
		return new(big.Int)
	}
}
