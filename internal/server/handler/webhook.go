package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/degended/marketsync/internal/crypto"
	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/notify"
)

const maxWebhookBody = 64 << 10

// Broadcaster delivers a message to every subscriber.
type Broadcaster interface {
	Broadcast(ctx context.Context, title, html string) notify.Report
}

// WebhookHandler turns pushed market events into Telegram broadcasts.
type WebhookHandler struct {
	secret string
	out    Broadcaster
	format *notify.Formatter
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. When secret is set every
// request must carry a valid HMAC signature.
func NewWebhookHandler(secret string, out Broadcaster, format *notify.Formatter, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, out: out, format: format, logger: logHandler(logger, "webhook")}
}

type webhookRequest struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

type webhookData struct {
	MarketID           uint64      `json:"marketId"`
	Question           string      `json:"question"`
	OptionA            string      `json:"optionA"`
	OptionB            string      `json:"optionB"`
	EndTime            int64       `json:"endTime"`
	Outcome            uint8       `json:"outcome"`
	TotalOptionAShares json.Number `json:"totalOptionAShares"`
	TotalOptionBShares json.Number `json:"totalOptionBShares"`
}

func (d webhookData) market() (domain.Market, bool) {
	m := domain.Market{
		ID:                 d.MarketID,
		Question:           d.Question,
		OptionA:            d.OptionA,
		OptionB:            d.OptionB,
		Outcome:            domain.Outcome(d.Outcome),
		TotalOptionAShares: new(big.Int),
		TotalOptionBShares: new(big.Int),
	}
	if d.EndTime > 0 {
		m.EndTime = time.Unix(d.EndTime, 0).UTC()
	}
	for _, p := range []struct {
		raw json.Number
		dst *big.Int
	}{{d.TotalOptionAShares, m.TotalOptionAShares}, {d.TotalOptionBShares, m.TotalOptionBShares}} {
		if p.raw == "" {
			continue
		}
		if _, ok := p.dst.SetString(p.raw.String(), 10); !ok {
			return domain.Market{}, false
		}
	}
	return m, true
}

// Receive handles market_created and market_resolved pushes.
// POST /api/telegram/webhook
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if h.secret != "" && !crypto.VerifyPayload(h.secret, body, r.Header.Get(crypto.SignatureHeader)) {
		h.logger.WarnContext(r.Context(), "webhook signature rejected")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m, ok := req.Data.market()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid share totals")
		return
	}

	var title, msg string
	switch req.Event {
	case "market_created":
		title, msg = "New market", h.format.MarketCreated(m)
	case "market_resolved":
		m.Resolved = true
		title, msg = "Market resolved", h.format.MarketResolved(m)
	default:
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	rep := h.out.Broadcast(r.Context(), title, msg)
	h.logger.InfoContext(r.Context(), "webhook dispatched",
		slog.String("event", req.Event),
		slog.Uint64("market_id", m.ID),
		slog.Int("delivered", rep.Delivered),
		slog.Int("failed", rep.Failed),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"delivered": rep.Delivered,
		"failed":    rep.Failed,
	})
}
