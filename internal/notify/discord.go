package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// discordContentLimit is Discord's message content cap.
const discordContentLimit = 2000

// DiscordSender mirrors broadcasts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts message under a bold title, in as many posts as needed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	for _, part := range SplitMessage(content, discordContentLimit) {
		if err := d.post(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordSender) post(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

var (
	reLink = regexp.MustCompile(`<a href="([^"]*)">([^<]*)</a>`)
	reBold = regexp.MustCompile(`</?b>`)
	reCode = regexp.MustCompile(`</?code>`)
	reTag  = regexp.MustCompile(`<[^>]+>`)

	htmlUnescaper = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#039;", "'",
		"&amp;", "&",
	)
)

// PlainText converts the bot's HTML subset to Discord markdown.
func PlainText(html string) string {
	s := reLink.ReplaceAllString(html, "[$2]($1)")
	s = reBold.ReplaceAllString(s, "**")
	s = reCode.ReplaceAllString(s, "`")
	s = reTag.ReplaceAllString(s, "")
	return htmlUnescaper.Replace(s)
}
