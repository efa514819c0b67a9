package domain

import (
	"context"
	"math/big"
)

// MarketReader exposes the read-only contract methods.
type MarketReader interface {
	MarketCount(ctx context.Context) (uint64, error)
	GetMarket(ctx context.Context, marketID uint64) (Market, error)
	SharesBalance(ctx context.Context, marketID uint64, user string) (optionA, optionB *big.Int, err error)
	Owner(ctx context.Context) (string, error)
}

// MarketResolver submits the admin-only resolveMarket transaction.
type MarketResolver interface {
	ResolveMarket(ctx context.Context, marketID uint64, outcome Outcome) (txHash string, err error)
}
