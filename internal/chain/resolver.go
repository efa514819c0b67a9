package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/degended/marketsync/internal/domain"
)

// resolveGasLimit is used when gas estimation fails.
const resolveGasLimit = uint64(300_000)

// TxBackend is the write-side RPC surface needed to submit a transaction.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Resolver signs and submits resolveMarket transactions with the admin key.
type Resolver struct {
	backend  TxBackend
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	logger   *slog.Logger
}

var _ domain.MarketResolver = (*Resolver)(nil)

// NewResolver builds a Resolver for the given chain id.
func NewResolver(backend TxBackend, contract common.Address, key *ecdsa.PrivateKey, chainID int64, logger *slog.Logger) *Resolver {
	return &Resolver{
		backend:  backend,
		contract: contract,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(chainID),
		logger:   logger.With(slog.String("component", "resolver")),
	}
}

// From returns the address transactions are sent from.
func (r *Resolver) From() common.Address { return r.from }

// ResolveMarket sends resolveMarket(marketId, outcome) and returns the tx
// hash without waiting for inclusion.
func (r *Resolver) ResolveMarket(ctx context.Context, marketID uint64, outcome domain.Outcome) (string, error) {
	if !outcome.Final() {
		return "", domain.ErrInvalidOutcome
	}
	data, err := marketABI.Pack("resolveMarket", new(big.Int).SetUint64(marketID), uint8(outcome))
	if err != nil {
		return "", fmt.Errorf("chain: pack resolveMarket: %w", err)
	}

	nonce, err := r.backend.PendingNonceAt(ctx, r.from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w", err)
	}
	gasPrice, err := r.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}

	to := r.contract
	gas, err := r.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     r.from,
		To:       &to,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "gas estimate failed, using default",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		gas = resolveGasLimit
	}
	gas = gas * 12 / 10

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign resolveMarket: %w", err)
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send resolveMarket: %w", err)
	}

	hash := signed.Hash().Hex()
	r.logger.InfoContext(ctx, "resolveMarket sent",
		slog.Uint64("market_id", marketID),
		slog.String("outcome", outcome.String()),
		slog.String("tx", hash),
	)
	return hash, nil
}
