// Package notify delivers bot messages: the Telegram Bot API client, HTML
// message formatting, size-limited splitting and the subscriber fan-out
// with automatic unsubscription on permanent failures. Discord webhooks
// can mirror every broadcast.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/metrics"
)

// Sender is a broadcast-only channel such as a Discord webhook. It has no
// notion of recipients.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// ChatSender delivers to one addressed chat.
type ChatSender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error
}

// Subscribers is the recipient set the dispatcher fans out to.
type Subscribers interface {
	Subscribers() []int64
	Unsubscribe(ctx context.Context, chatID int64) error
}

// Report summarises one broadcast.
type Report struct {
	Delivered int
	Failed    int
	Removed   []int64
}

// Dispatcher fans a message out to every subscriber independently.
type Dispatcher struct {
	chat    ChatSender
	subs    Subscribers
	mirrors []Sender
	limit   int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. mirrors receive a plain-text copy of
// every broadcast.
func NewDispatcher(chat ChatSender, subs Subscribers, mirrors []Sender, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		chat:    chat,
		subs:    subs,
		mirrors: mirrors,
		limit:   MaxMessageLen,
		metrics: m,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// Broadcast delivers html to every subscriber. One recipient's failure never
// blocks the others. Permanent failures unsubscribe the recipient; transient
// ones are logged and left for the next message.
func (d *Dispatcher) Broadcast(ctx context.Context, title, html string) Report {
	recipients := d.subs.Subscribers()
	if len(recipients) == 0 {
		d.logger.Warn("no subscribed chats, message not sent", slog.String("title", title))
	}

	parts := SplitMessage(html, d.limit)

	var (
		mu  sync.Mutex
		rep Report
		wg  sync.WaitGroup
	)
	for _, chatID := range recipients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.sendParts(ctx, chatID, parts, HTML(false))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				rep.Delivered++
				d.metrics.Delivery("ok")
				return
			}
			rep.Failed++
			if errors.Is(err, domain.ErrPermanentDelivery) {
				d.metrics.Delivery("permanent")
				rep.Removed = append(rep.Removed, chatID)
				return
			}
			d.metrics.Delivery("transient")
			d.logger.Warn("delivery failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
		}()
	}
	wg.Wait()

	for _, chatID := range rep.Removed {
		if err := d.subs.Unsubscribe(ctx, chatID); err != nil {
			d.logger.Error("auto-unsubscribe failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.metrics.AutoUnsubscribed()
		d.logger.Info("removed chat from subscriptions", slog.Int64("chat_id", chatID))
	}

	d.mirror(ctx, title, html)

	d.logger.Info("broadcast sent",
		slog.String("title", title),
		slog.Int("delivered", rep.Delivered),
		slog.Int("failed", rep.Failed),
		slog.Int("removed", len(rep.Removed)),
	)
	return rep
}

// Reply sends html to a single chat, split if needed, without link previews
// when disablePreview is set. Used for command responses.
func (d *Dispatcher) Reply(ctx context.Context, chatID int64, html string, disablePreview bool) error {
	return d.sendParts(ctx, chatID, SplitMessage(html, d.limit), HTML(disablePreview))
}

func (d *Dispatcher) sendParts(ctx context.Context, chatID int64, parts []string, opts SendOptions) error {
	for i, p := range parts {
		if err := d.chat.SendMessage(ctx, chatID, p, opts); err != nil {
			return fmt.Errorf("notify: send part %d/%d to %d: %w", i+1, len(parts), chatID, err)
		}
	}
	return nil
}

func (d *Dispatcher) mirror(ctx context.Context, title, html string) {
	if len(d.mirrors) == 0 {
		return
	}
	text := PlainText(html)
	for _, s := range d.mirrors {
		if err := s.Send(ctx, title, text); err != nil {
			d.logger.Warn("mirror failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}
