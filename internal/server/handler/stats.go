package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/stats"
)

// StatsService computes user statistics and claim previews.
type StatsService interface {
	UserStats(ctx context.Context, address string, refresh bool) (domain.UserStats, error)
	Claimable(ctx context.Context, marketID uint64, address string) (stats.Claim, error)
}

// EventLister reads stored events for one user.
type EventLister interface {
	ListByUser(ctx context.Context, user string) ([]domain.DomainEvent, error)
}

// StatsHandler serves the per-user endpoints.
type StatsHandler struct {
	svc    StatsService
	events EventLister
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(svc StatsService, events EventLister, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{svc: svc, events: events, logger: logHandler(logger, "stats")}
}

func requireAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := r.URL.Query().Get("address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return "", false
	}
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return "", false
	}
	return domain.NormalizeAddress(addr), true
}

// UserStats returns invested, earned, refunded and PNL for an address.
// GET /api/user-stats?address=0x..[&refresh=true]
func (h *StatsHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	addr, ok := requireAddress(w, r)
	if !ok {
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	st, err := h.svc.UserStats(r.Context(), addr, refresh)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "user stats failed", slog.String("address", addr), slog.String("error", err.Error()))
		writeError(w, statusFor(err), "failed to compute user stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": st})
}

type eventView struct {
	Type        domain.EventType `json:"type"`
	Amount      *big.Int         `json:"amount"`
	IsOptionA   *bool            `json:"isOptionA"`
	TxHash      string           `json:"txHash"`
	BlockNumber uint64           `json:"blockNumber"`
}

// UserEvents returns the stored events of an address grouped by market,
// newest first within each market.
// GET /api/user-events?address=0x..
func (h *StatsHandler) UserEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := requireAddress(w, r)
	if !ok {
		return
	}

	evs, err := h.events.ListByUser(r.Context(), addr)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list user events failed", slog.String("address", addr), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to fetch events from database")
		return
	}

	grouped := make(map[string][]eventView)
	for id, bucket := range domain.GroupByMarket(evs) {
		views := make([]eventView, 0, len(bucket))
		for i := len(bucket) - 1; i >= 0; i-- {
			ev := bucket[i]
			views = append(views, eventView{
				Type:        ev.Type,
				Amount:      ev.Amount,
				IsOptionA:   ev.IsOptionA,
				TxHash:      ev.TxHash,
				BlockNumber: ev.BlockNumber,
			})
		}
		grouped[strconv.FormatUint(id, 10)] = views
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    grouped,
		"count":   len(evs),
	})
}

// Claimable previews what an address can claim from a market.
// GET /api/claimable?market=<id>&address=0x..
func (h *StatsHandler) Claimable(w http.ResponseWriter, r *http.Request) {
	marketID, ok := queryUint(r, "market")
	if !ok {
		writeError(w, http.StatusBadRequest, "market is required")
		return
	}
	addr, ok := requireAddress(w, r)
	if !ok {
		return
	}

	claim, err := h.svc.Claimable(r.Context(), marketID, addr)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "claimable failed",
			slog.Uint64("market_id", marketID),
			slog.String("address", addr),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to compute claimable amount")
		return
	}
	writeJSON(w, http.StatusOK, claim)
}
