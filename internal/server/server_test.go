package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/crypto"
	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/eventsync"
	"github.com/degended/marketsync/internal/metrics"
	"github.com/degended/marketsync/internal/notify"
	"github.com/degended/marketsync/internal/server"
	"github.com/degended/marketsync/internal/server/handler"
	"github.com/degended/marketsync/internal/stats"
)

const user = "0x00000000000000000000000000000000000000aa"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeStats struct {
	refresh bool
	err     error
}

func (f *fakeStats) UserStats(_ context.Context, address string, refresh bool) (domain.UserStats, error) {
	f.refresh = refresh
	if f.err != nil {
		return domain.UserStats{}, f.err
	}
	return domain.UserStats{Address: address, TotalInvested: big.NewInt(5_000_000)}, nil
}

func (f *fakeStats) Claimable(_ context.Context, marketID uint64, address string) (stats.Claim, error) {
	return stats.Claim{MarketID: marketID, Address: address, Amount: big.NewInt(4_500_000), Display: "4.50"}, nil
}

type fakeEvents struct{ evs []domain.DomainEvent }

func (f fakeEvents) ListByUser(context.Context, string) ([]domain.DomainEvent, error) {
	return f.evs, nil
}

type fakeStatus struct{ err error }

func (f fakeStatus) Status(context.Context) (eventsync.Status, error) {
	return eventsync.Status{Key: "last_block", Cursor: 90, Head: 100, Lag: 10}, f.err
}

type fakeOut struct{ titles []string }

func (f *fakeOut) Broadcast(_ context.Context, title, _ string) notify.Report {
	f.titles = append(f.titles, title)
	return notify.Report{Delivered: 2}
}

type env struct {
	h     http.Handler
	stats *fakeStats
	out   *fakeOut
}

func newEnv(t *testing.T, apiKey, secret string, healthErr error) env {
	t.Helper()
	yes := true
	st := &fakeStats{}
	out := &fakeOut{}
	events := fakeEvents{evs: []domain.DomainEvent{
		{Type: domain.EventPurchase, MarketID: 7, User: user, Amount: big.NewInt(3_000_000), IsOptionA: &yes, TxHash: "0x1", BlockNumber: 10},
		{Type: domain.EventWin, MarketID: 7, User: user, Amount: big.NewInt(4_500_000), TxHash: "0x2", BlockNumber: 20},
		{Type: domain.EventPurchase, MarketID: 8, User: user, Amount: big.NewInt(1_000_000), IsOptionA: &yes, TxHash: "0x3", BlockNumber: 15},
	}}
	checks := map[string]handler.Check{"store": func(context.Context) error { return healthErr }}

	srv := server.NewServer(
		server.Config{APIKey: apiKey},
		server.Handlers{
			Health:  handler.NewHealthHandler("server", checks, discard()),
			Stats:   handler.NewStatsHandler(st, events, discard()),
			Sync:    handler.NewSyncHandler(fakeStatus{}, discard()),
			Webhook: handler.NewWebhookHandler(secret, out, notify.NewFormatter("https://degended.bet", "", ""), discard()),
		},
		nil, metrics.New(), nil, discard(),
	)
	return env{h: srv.Handler(), stats: st, out: out}
}

func (e env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := newEnv(t, "", "", nil).do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = newEnv(t, "", "", errors.New("connection refused")).do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestUserStats(t *testing.T) {
	e := newEnv(t, "", "", nil)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/user-stats", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/user-stats?address=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/user-stats?refresh=true&address="+user, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, e.stats.refresh)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	e.stats.err = errors.New("rpc down")
	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/user-stats?address="+user, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUserEvents_GroupedNewestFirst(t *testing.T) {
	rec := newEnv(t, "", "", nil).do(httptest.NewRequest(http.MethodGet, "/api/user-events?address="+user, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data  map[string][]map[string]any `json:"data"`
		Count int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Data["7"], 2)
	assert.Equal(t, "win", body.Data["7"][0]["type"])
	assert.Equal(t, "purchase", body.Data["7"][1]["type"])
	assert.Len(t, body.Data["8"], 1)
}

func TestClaimable(t *testing.T) {
	e := newEnv(t, "", "", nil)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/claimable?address="+user, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/claimable?market=7&address="+user, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"display":"4.50"`)
}

func TestSyncStatus(t *testing.T) {
	rec := newEnv(t, "", "", nil).do(httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"lag":10`)
}

func TestAuthProtectsAPI(t *testing.T) {
	e := newEnv(t, "key", "", nil)
	assert.Equal(t, http.StatusUnauthorized, e.do(httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)).Code)
	assert.Equal(t, http.StatusOK, e.do(httptest.NewRequest(http.MethodGet, "/api/health", nil)).Code)
	assert.Equal(t, http.StatusOK, e.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	req.Header.Set("X-API-Key", "key")
	assert.Equal(t, http.StatusOK, e.do(req).Code)
}

func TestWebhook(t *testing.T) {
	body := `{"event":"market_resolved","data":{"marketId":7,"question":"Q?","optionA":"Yes","optionB":"No",` +
		`"outcome":1,"totalOptionAShares":"6000000","totalOptionBShares":4000000}}`

	e := newEnv(t, "", "s3cret", nil)

	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(body))
	req.Header.Set(crypto.SignatureHeader, "sha256="+crypto.SignPayload("s3cret", []byte(body)))
	rec = e.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"Market resolved"}, e.out.titles)

	open := newEnv(t, "", "", nil)
	rec = open.do(httptest.NewRequest(http.MethodPost, "/api/telegram/webhook", strings.NewReader(`{"event":"market_moved","data":{}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, open.out.titles)
}
