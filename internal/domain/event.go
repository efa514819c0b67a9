package domain

import (
	"math/big"
	"sort"
	"strings"
	"time"
)

// EventType is the persisted discriminator of a DomainEvent.
type EventType string

const (
	EventPurchase EventType = "purchase"
	EventWin      EventType = "win"
	EventRefund   EventType = "refund"
	EventResolved EventType = "resolved"
)

// DomainEvent is a decoded contract log. User is the lower-cased hex address
// of the indexed actor and is empty for MarketResolved.
type DomainEvent struct {
	ID          int64     `json:"id,omitempty"`
	Type        EventType `json:"eventType"`
	MarketID    uint64    `json:"marketId"`
	User        string    `json:"userAddress,omitempty"`
	Amount      *big.Int  `json:"amount,omitempty"`
	IsOptionA   *bool     `json:"isOptionA,omitempty"`
	Outcome     Outcome   `json:"outcome,omitempty"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber"`
	LogIndex    uint      `json:"logIndex"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// Persistable reports whether the event belongs in the market_events table.
// MarketResolved carries no actor and is only published.
func (e DomainEvent) Persistable() bool {
	switch e.Type {
	case EventPurchase, EventWin, EventRefund:
		return e.User != ""
	default:
		return false
	}
}

// DedupKey is the uniqueness key used by every event store.
func (e DomainEvent) DedupKey() string {
	return strings.ToLower(e.TxHash) + "|" + string(e.Type) + "|" + strings.ToLower(e.User)
}

// NormalizeAddress lower-cases a 0x-prefixed address for storage and lookups.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// GroupByMarket buckets events by market id. Buckets keep block order.
func GroupByMarket(events []DomainEvent) map[uint64][]DomainEvent {
	out := make(map[uint64][]DomainEvent)
	for _, ev := range events {
		out[ev.MarketID] = append(out[ev.MarketID], ev)
	}
	for id := range out {
		SortEvents(out[id])
	}
	return out
}

// SortEvents orders events by block number then log index.
func SortEvents(events []DomainEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}
