package chain

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/degended/marketsync/internal/domain"
)

// Decode maps a raw contract log to a DomainEvent by its topic0.
func Decode(lg types.Log) (domain.DomainEvent, error) {
	if len(lg.Topics) == 0 {
		return domain.DomainEvent{}, fmt.Errorf("%w: no topics", domain.ErrMalformedLog)
	}

	ev := domain.DomainEvent{
		TxHash:      strings.ToLower(lg.TxHash.Hex()),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}

	var name string
	switch lg.Topics[0] {
	case TopicSharesPurchased:
		ev.Type, name = domain.EventPurchase, "SharesPurchased"
	case TopicWinningsClaimed:
		ev.Type, name = domain.EventWin, "WinningsClaimed"
	case TopicRefundClaimed:
		ev.Type, name = domain.EventRefund, "RefundClaimed"
	case TopicMarketResolved:
		ev.Type, name = domain.EventResolved, "MarketResolved"
	default:
		return domain.DomainEvent{}, fmt.Errorf("%w: %s", domain.ErrUnknownEvent, lg.Topics[0].Hex())
	}

	wantTopics := 3
	if ev.Type == domain.EventResolved {
		wantTopics = 2
	}
	if len(lg.Topics) < wantTopics {
		return domain.DomainEvent{}, fmt.Errorf("%w: %s has %d topics", domain.ErrMalformedLog, name, len(lg.Topics))
	}

	id := new(big.Int).SetBytes(lg.Topics[1].Bytes())
	if !id.IsUint64() {
		return domain.DomainEvent{}, fmt.Errorf("%w: market id overflows uint64", domain.ErrMalformedLog)
	}
	ev.MarketID = id.Uint64()
	if wantTopics == 3 {
		ev.User = topicAddress(lg.Topics[2])
	}

	vals, err := marketABI.Unpack(name, lg.Data)
	if err != nil {
		return domain.DomainEvent{}, fmt.Errorf("%w: unpack %s: %v", domain.ErrMalformedLog, name, err)
	}

	switch ev.Type {
	case domain.EventPurchase:
		if len(vals) != 2 {
			return domain.DomainEvent{}, fmt.Errorf("%w: %s fields", domain.ErrMalformedLog, name)
		}
		isA, ok1 := vals[0].(bool)
		amount, ok2 := vals[1].(*big.Int)
		if !ok1 || !ok2 {
			return domain.DomainEvent{}, fmt.Errorf("%w: %s field types", domain.ErrMalformedLog, name)
		}
		ev.IsOptionA = &isA
		ev.Amount = amount
	case domain.EventWin, domain.EventRefund:
		if len(vals) != 1 {
			return domain.DomainEvent{}, fmt.Errorf("%w: %s fields", domain.ErrMalformedLog, name)
		}
		amount, ok := vals[0].(*big.Int)
		if !ok {
			return domain.DomainEvent{}, fmt.Errorf("%w: %s field types", domain.ErrMalformedLog, name)
		}
		ev.Amount = amount
	case domain.EventResolved:
		if len(vals) != 1 {
			return domain.DomainEvent{}, fmt.Errorf("%w: %s fields", domain.ErrMalformedLog, name)
		}
		outcome, ok := vals[0].(uint8)
		if !ok {
			return domain.DomainEvent{}, fmt.Errorf("%w: %s field types", domain.ErrMalformedLog, name)
		}
		ev.Outcome = domain.Outcome(outcome)
	}
	return ev, nil
}

// DecodeAll decodes logs, dropping and logging the ones that fail so a single
// bad record never aborts a batch.
func DecodeAll(logs []types.Log, logger *slog.Logger) []domain.DomainEvent {
	out := make([]domain.DomainEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := Decode(lg)
		if err != nil {
			logger.Warn("dropping undecodable log",
				slog.String("tx", lg.TxHash.Hex()),
				slog.Uint64("block", lg.BlockNumber),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func topicAddress(h common.Hash) string {
	return strings.ToLower(common.BytesToAddress(h.Bytes()).Hex())
}
