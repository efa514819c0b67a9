package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/degended/marketsync/internal/domain"
)

// DefaultTelegramAPI is the public Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// SendOptions are the per-message Bot API flags.
type SendOptions struct {
	// ParseMode is "HTML" for every message this service composes.
	ParseMode             string
	DisableWebPagePreview bool
}

// HTML returns options for rich text, optionally without link previews.
func HTML(disablePreview bool) SendOptions {
	return SendOptions{ParseMode: "HTML", DisableWebPagePreview: disablePreview}
}

// APIError is a non-2xx Bot API response.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}

// Permanent reports whether retrying the same recipient is pointless: the
// chat is gone, the bot was removed, or the request is malformed.
func (e *APIError) Permanent() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusForbidden
}

// Is lets callers match permanent failures with domain.ErrPermanentDelivery.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrPermanentDelivery && e.Permanent()
}

// TelegramClient talks to the Bot API.
type TelegramClient struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramClient creates a client. An empty baseURL selects the public
// API. The HTTP timeout must exceed the long-poll timeout used with
// GetUpdates.
func NewTelegramClient(token, baseURL string) *TelegramClient {
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	return &TelegramClient{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 70 * time.Second},
	}
}

// apiResponse is the common Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (t *TelegramClient) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var env apiResponse
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		desc := env.Description
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
			if len(desc) > 256 {
				desc = desc[:256]
			}
		}
		status := resp.StatusCode
		if status >= 200 && status < 300 && env.ErrorCode != 0 {
			status = env.ErrorCode
		}
		return &APIError{Method: method, StatusCode: status, Description: desc}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// SendMessage posts text to one chat.
func (t *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if opts.DisableWebPagePreview {
		payload["disable_web_page_preview"] = true
	}
	return t.call(ctx, "sendMessage", payload, nil)
}

// Chat is the subset of the Bot API Chat object used here.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is the subset of the Bot API Message object used here.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
	Date      int64  `json:"date"`
}

// Update is one inbound Bot API update.
type Update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *Message `json:"message,omitempty"`
	ChannelPost *Message `json:"channel_post,omitempty"`
}

// Msg returns the message carried by the update, if any.
func (u Update) Msg() *Message {
	if u.Message != nil {
		return u.Message
	}
	return u.ChannelPost
}

// GetUpdates long-polls for updates with id >= offset.
func (t *TelegramClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var out []Update
	err := t.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "channel_post"},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BotCommand is a menu entry registered with SetMyCommands.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// SetMyCommands registers the command menu.
func (t *TelegramClient) SetMyCommands(ctx context.Context, cmds []BotCommand) error {
	return t.call(ctx, "setMyCommands", map[string]any{"commands": cmds}, nil)
}

// DeleteWebhook switches the bot back to getUpdates delivery.
func (t *TelegramClient) DeleteWebhook(ctx context.Context) error {
	return t.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": false}, nil)
}
