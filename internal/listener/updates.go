package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/degended/marketsync/internal/notify"
)

// UpdateSource long-polls the Bot API.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]notify.Update, error)
}

// MessageHandler processes one inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, msg notify.Message)
}

// UpdatePoller feeds inbound messages to a handler. Messages are handled in
// arrival order; the offset is advanced past each update before the next
// poll so nothing is processed twice.
type UpdatePoller struct {
	src     UpdateSource
	handler MessageHandler
	timeout time.Duration
	backoff time.Duration
	logger  *slog.Logger
	offset  int64
}

// NewUpdatePoller creates an UpdatePoller with a 30s long-poll timeout.
func NewUpdatePoller(src UpdateSource, handler MessageHandler, logger *slog.Logger) *UpdatePoller {
	return &UpdatePoller{
		src:     src,
		handler: handler,
		timeout: 30 * time.Second,
		backoff: 5 * time.Second,
		logger:  logger.With(slog.String("component", "updates")),
	}
}

// Offset returns the next update id to request.
func (u *UpdatePoller) Offset() int64 { return u.offset }

// Poll fetches and handles one batch of updates.
func (u *UpdatePoller) Poll(ctx context.Context) (int, error) {
	updates, err := u.src.GetUpdates(ctx, u.offset, u.timeout)
	if err != nil {
		return 0, err
	}
	for _, upd := range updates {
		if upd.UpdateID >= u.offset {
			u.offset = upd.UpdateID + 1
		}
		if msg := upd.Msg(); msg != nil {
			u.handler.Handle(ctx, *msg)
		}
	}
	return len(updates), nil
}

// Run polls until ctx is done. Failures back off before the next poll.
func (u *UpdatePoller) Run(ctx context.Context) error {
	u.logger.Info("update poller started")
	for {
		if ctx.Err() != nil {
			u.logger.Info("update poller stopped")
			return ctx.Err()
		}
		if _, err := u.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			u.logger.Warn("get updates failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(u.backoff):
			}
		}
	}
}
