package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/degended/marketsync/internal/chain"
	"github.com/degended/marketsync/internal/domain"
)

// EventSource yields every purchase, win and refund event of one user.
type EventSource interface {
	Name() string
	UserEvents(ctx context.Context, user string) ([]domain.DomainEvent, error)
}

// Sources is an ordered fallback chain. The first source that succeeds
// with a non-empty result wins.
type Sources []EventSource

// Resolve walks the chain. When every source succeeds but returns nothing,
// the empty result of the last successful source is returned. An error is
// returned only when every source failed.
func (s Sources) Resolve(ctx context.Context, user string, logger *slog.Logger) ([]domain.DomainEvent, string, error) {
	var (
		errs     []error
		lastName string
		ok       bool
	)
	for _, src := range s {
		evs, err := src.UserEvents(ctx, user)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			logger.Warn("event source failed",
				slog.String("source", src.Name()),
				slog.String("user", user),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if len(evs) > 0 {
			return evs, src.Name(), nil
		}
		lastName, ok = src.Name(), true
	}
	if ok {
		return nil, lastName, nil
	}
	if len(errs) == 0 {
		return nil, "", domain.ErrNoEvents
	}
	return nil, "", errors.Join(errs...)
}

// DBSource reads events from the durable event store.
type DBSource struct {
	store domain.EventStore
}

// NewDBSource creates a DBSource.
func NewDBSource(store domain.EventStore) *DBSource {
	return &DBSource{store: store}
}

func (s *DBSource) Name() string { return "database" }

func (s *DBSource) UserEvents(ctx context.Context, user string) ([]domain.DomainEvent, error) {
	evs, err := s.store.ListByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("stats: list user events: %w", err)
	}
	return evs, nil
}

// LogScanner is the part of chain.Scanner the chain source needs.
type LogScanner interface {
	Scan(ctx context.Context, f chain.Filter) ([]types.Log, error)
}

// ChainSource scans the contract for logs whose indexed actor is the user.
// Partial scans are accepted: the balance safeguard and the next request
// fill the gap.
type ChainSource struct {
	scanner   LogScanner
	contract  common.Address
	fromBlock uint64
	logger    *slog.Logger
}

// NewChainSource creates a ChainSource that scans from fromBlock to head.
func NewChainSource(scanner LogScanner, contract common.Address, fromBlock uint64, logger *slog.Logger) *ChainSource {
	return &ChainSource{scanner: scanner, contract: contract, fromBlock: fromBlock, logger: logger}
}

func (s *ChainSource) Name() string { return "chain" }

func (s *ChainSource) UserEvents(ctx context.Context, user string) ([]domain.DomainEvent, error) {
	if !common.IsHexAddress(user) {
		return nil, domain.ErrInvalidAddress
	}
	logs, err := s.scanner.Scan(ctx, chain.Filter{
		Address: s.contract,
		Topics: [][]common.Hash{
			chain.UserEventTopics,
			nil,
			{chain.ActorTopic(common.HexToAddress(user))},
		},
		FromBlock: s.fromBlock,
	})
	if err != nil {
		if !chain.IsScanError(err) {
			return nil, fmt.Errorf("stats: scan user logs: %w", err)
		}
		s.logger.Warn("partial user log scan", slog.String("user", user), slog.String("error", err.Error()))
	}
	evs := chain.DecodeAll(logs, s.logger)
	domain.SortEvents(evs)
	return evs, nil
}
