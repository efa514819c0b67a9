package domain

import (
	"math/big"
	"time"
)

// ParticipationOutcome is the per-market result from the user's perspective.
type ParticipationOutcome string

const (
	ParticipationWin     ParticipationOutcome = "win"
	ParticipationLoss    ParticipationOutcome = "loss"
	ParticipationRefund  ParticipationOutcome = "refund"
	ParticipationPending ParticipationOutcome = "pending"
)

// MarketParticipation is derived from events and current market state and is
// never persisted. Earned and Refunded are nil when no claim was observed.
type MarketParticipation struct {
	MarketID      uint64               `json:"marketId"`
	Question      string               `json:"question"`
	Invested      *big.Int             `json:"invested"`
	InvestedA     *big.Int             `json:"investedA"`
	InvestedB     *big.Int             `json:"investedB"`
	Earned        *big.Int             `json:"earned"`
	Refunded      *big.Int             `json:"refunded"`
	Claimable     *big.Int             `json:"claimable,omitempty"`
	Outcome       ParticipationOutcome `json:"outcome"`
	MarketOutcome Outcome              `json:"marketOutcome"`
	IsResolved    bool                 `json:"isResolved"`
}

// UserStats is the aggregate returned by the statistics aggregator.
type UserStats struct {
	Address       string                `json:"address"`
	TotalInvested *big.Int              `json:"totalInvested"`
	TotalEarned   *big.Int              `json:"totalEarned"`
	TotalRefunded *big.Int              `json:"totalRefunded"`
	PNL           *big.Int              `json:"pnl"`
	Wins          int                   `json:"wins"`
	Losses        int                   `json:"losses"`
	WinRatio      float64               `json:"winRatio"`
	TotalMarkets  int                   `json:"totalMarkets"`
	ActiveMarkets int                   `json:"activeMarkets"`
	PerMarket     []MarketParticipation `json:"perMarket"`
	Source        string                `json:"source"`
	ComputedAt    time.Time             `json:"computedAt"`
}
