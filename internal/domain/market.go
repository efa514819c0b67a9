package domain

import (
	"math/big"
	"time"
)

// Outcome is the resolution code stored on a market.
type Outcome uint8

const (
	OutcomeUnresolved Outcome = 0
	OutcomeOptionA    Outcome = 1
	OutcomeOptionB    Outcome = 2
	OutcomeRefund     Outcome = 3
)

// Final reports whether o is one of the three terminal resolution codes.
func (o Outcome) Final() bool {
	return o >= OutcomeOptionA && o <= OutcomeRefund
}

func (o Outcome) String() string {
	switch o {
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeOptionA:
		return "option_a"
	case OutcomeOptionB:
		return "option_b"
	case OutcomeRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// ParseOutcome converts a user-supplied resolution code into an Outcome.
// Only 1, 2 and 3 are accepted.
func ParseOutcome(n int) (Outcome, error) {
	o := Outcome(n)
	if n < 0 || n > 255 || !o.Final() {
		return OutcomeUnresolved, ErrInvalidOutcome
	}
	return o, nil
}

// Market is the on-chain state of a single binary prediction market.
// Share totals are USDC base units (6 decimals).
type Market struct {
	ID                 uint64    `json:"id"`
	Question           string    `json:"question"`
	OptionA            string    `json:"optionA"`
	OptionB            string    `json:"optionB"`
	EndTime            time.Time `json:"endTime"`
	Outcome            Outcome   `json:"outcome"`
	TotalOptionAShares *big.Int  `json:"totalOptionAShares"`
	TotalOptionBShares *big.Int  `json:"totalOptionBShares"`
	Resolved           bool      `json:"resolved"`
}

// TotalPool returns the sum of both sides of the market.
func (m Market) TotalPool() *big.Int {
	return new(big.Int).Add(orZero(m.TotalOptionAShares), orZero(m.TotalOptionBShares))
}

// Expired reports whether betting has closed at the given instant.
func (m Market) Expired(now time.Time) bool {
	return !m.EndTime.IsZero() && !now.Before(m.EndTime)
}

// WinningLabel returns the option label matching the resolved outcome.
func (m Market) WinningLabel() string {
	switch m.Outcome {
	case OutcomeOptionA:
		return m.OptionA
	case OutcomeOptionB:
		return m.OptionB
	default:
		return ""
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
