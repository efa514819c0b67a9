package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/notify"
)

func TestTelegramClient_SendMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	c := notify.NewTelegramClient("TOKEN", srv.URL)
	err := c.SendMessage(context.Background(), -100123, "<b>hi</b>", notify.HTML(true))
	require.NoError(t, err)

	assert.Equal(t, float64(-100123), got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, true, got["disable_web_page_preview"])
}

func TestTelegramClient_ErrorClasses(t *testing.T) {
	status := http.StatusForbidden
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was kicked"}`))
	}))
	defer srv.Close()

	c := notify.NewTelegramClient("TOKEN", srv.URL)
	err := c.SendMessage(context.Background(), 1, "x", notify.SendOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPermanentDelivery))

	var apiErr *notify.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Forbidden: bot was kicked", apiErr.Description)

	status = http.StatusTooManyRequests
	err = c.SendMessage(context.Background(), 1, "x", notify.SendOptions{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrPermanentDelivery))
}

func TestTelegramClient_GetUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(42), req["offset"])
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":42,"message":{"message_id":1,"chat":{"id":7,"type":"private"},"text":"/help"}},
			{"update_id":43,"channel_post":{"message_id":2,"chat":{"id":-5,"type":"channel"},"text":"/markets"}}
		]}`))
	}))
	defer srv.Close()

	c := notify.NewTelegramClient("TOKEN", srv.URL)
	ups, err := c.GetUpdates(context.Background(), 42, time.Second)
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.Equal(t, int64(7), ups[0].Msg().Chat.ID)
	assert.Equal(t, "/markets", ups[1].Msg().Text)
}
