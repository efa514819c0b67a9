package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/notify"
)

// LatestResolvedLimit is how many resolved markets /resolved lists.
const LatestResolvedLimit = 10

// Replier sends a direct reply to one chat.
type Replier interface {
	Reply(ctx context.Context, chatID int64, html string, disablePreview bool) error
}

// Commands routes inbound bot commands. Every handled command produces a
// reply, including on failure.
type Commands struct {
	reader   domain.MarketReader
	state    *State
	reply    Replier
	format   *notify.Formatter
	resolver domain.MarketResolver
	admins   map[int64]struct{}
	logger   *slog.Logger
	now      func() time.Time
}

// NewCommands creates the router. resolver may be nil when no admin key is
// configured; /resolve then answers with an error.
func NewCommands(reader domain.MarketReader, state *State, reply Replier, format *notify.Formatter, resolver domain.MarketResolver, adminChats []int64, logger *slog.Logger) *Commands {
	admins := make(map[int64]struct{}, len(adminChats))
	for _, id := range adminChats {
		admins[id] = struct{}{}
	}
	return &Commands{
		reader:   reader,
		state:    state,
		reply:    reply,
		format:   format,
		resolver: resolver,
		admins:   admins,
		logger:   logger.With(slog.String("component", "commands")),
		now:      time.Now,
	}
}

// BotCommands is the menu registered with Telegram.
var BotCommands = []notify.BotCommand{
	{Command: "markets", Description: "List all currently open markets"},
	{Command: "resolved", Description: "Show the latest resolved markets"},
	{Command: "subscribe", Description: "Subscribe to market notifications"},
	{Command: "unsubscribe", Description: "Unsubscribe from notifications"},
	{Command: "help", Description: "Show available commands"},
}

// ParseCommand splits "/cmd@bot arg1 arg2" into a lower-case command name
// and its arguments. ok is false for text that is not a command.
func ParseCommand(text string) (cmd string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd == "" {
		return "", nil, false
	}
	return strings.ToLower(cmd), fields[1:], true
}

// Handle processes one inbound message. Non-command text is ignored.
func (c *Commands) Handle(ctx context.Context, msg notify.Message) {
	cmd, args, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}
	chatID := msg.Chat.ID
	log := c.logger.With(slog.String("command", cmd), slog.Int64("chat_id", chatID))
	log.Debug("command received")

	var err error
	switch cmd {
	case "markets", "open", "active":
		err = c.markets(ctx, chatID)
	case "resolved":
		err = c.resolved(ctx, chatID)
	case "subscribe":
		err = c.subscribe(ctx, chatID, msg.Chat.Type)
	case "unsubscribe":
		err = c.unsubscribe(ctx, chatID)
	case "resolve":
		err = c.resolve(ctx, chatID, args)
	case "help", "start":
		err = c.send(ctx, chatID, c.format.Help(c.state.IsSubscribed(chatID)), false)
	default:
		err = c.send(ctx, chatID, notify.MsgUnknownCommand, false)
	}
	if err != nil {
		log.Error("command reply failed", slog.String("error", err.Error()))
	}
}

func (c *Commands) send(ctx context.Context, chatID int64, html string, disablePreview bool) error {
	return c.reply.Reply(ctx, chatID, html, disablePreview)
}

func (c *Commands) markets(ctx context.Context, chatID int64) error {
	if err := c.send(ctx, chatID, notify.MsgFetchingMarkets, false); err != nil {
		return err
	}
	markets, err := c.allMarkets(ctx)
	if err != nil {
		c.logger.Error("list markets failed", slog.String("error", err.Error()))
		return c.send(ctx, chatID, notify.MsgMarketsError, false)
	}

	now := c.now()
	open := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if !m.Resolved && !m.Expired(now) {
			open = append(open, m)
		}
	}
	return c.send(ctx, chatID, c.format.OpenMarkets(open), true)
}

func (c *Commands) resolved(ctx context.Context, chatID int64) error {
	if err := c.send(ctx, chatID, notify.MsgFetchingResolved, false); err != nil {
		return err
	}
	markets, err := c.allMarkets(ctx)
	if err != nil {
		c.logger.Error("list markets failed", slog.String("error", err.Error()))
		return c.send(ctx, chatID, notify.MsgResolvedError, false)
	}

	latest := make([]domain.Market, 0, LatestResolvedLimit)
	for i := len(markets) - 1; i >= 0 && len(latest) < LatestResolvedLimit; i-- {
		if m := markets[i]; m.Resolved && m.Outcome.Final() {
			latest = append(latest, m)
		}
	}
	return c.send(ctx, chatID, c.format.LatestResolved(latest), false)
}

func (c *Commands) subscribe(ctx context.Context, chatID int64, chatType string) error {
	if _, err := c.state.Subscribe(ctx, chatID); err != nil {
		c.logger.Error("subscribe failed", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
		return c.send(ctx, chatID, notify.MsgSubscriptionError, false)
	}
	c.logger.Info("chat subscribed", slog.Int64("chat_id", chatID), slog.String("chat_type", chatType))
	return c.send(ctx, chatID, notify.MsgSubscribed, false)
}

func (c *Commands) unsubscribe(ctx context.Context, chatID int64) error {
	if err := c.state.Unsubscribe(ctx, chatID); err != nil {
		c.logger.Error("unsubscribe failed", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
		return c.send(ctx, chatID, notify.MsgSubscriptionError, false)
	}
	c.logger.Info("chat unsubscribed", slog.Int64("chat_id", chatID))
	return c.send(ctx, chatID, notify.MsgUnsubscribed, false)
}

// resolve validates authorization and arguments before delegating the
// resolveMarket transaction.
func (c *Commands) resolve(ctx context.Context, chatID int64, args []string) error {
	if _, ok := c.admins[chatID]; !ok {
		c.logger.Warn("unauthorized resolve attempt", slog.Int64("chat_id", chatID))
		return c.send(ctx, chatID, notify.MsgUnauthorized, false)
	}
	if c.resolver == nil {
		return c.send(ctx, chatID, notify.MsgNoAdminKey, false)
	}
	if len(args) != 2 {
		return c.send(ctx, chatID, notify.MsgResolveUsage, false)
	}
	marketID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return c.send(ctx, chatID, notify.MsgResolveUsage, false)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return c.send(ctx, chatID, notify.MsgInvalidOutcome, false)
	}
	outcome, err := domain.ParseOutcome(n)
	if err != nil {
		return c.send(ctx, chatID, notify.MsgInvalidOutcome, false)
	}

	if err := c.checkResolvable(ctx, marketID); err != nil {
		return c.send(ctx, chatID, notify.ResolveFailed(err), false)
	}

	if err := c.send(ctx, chatID, notify.ResolveExecuting(marketID, outcome), false); err != nil {
		return err
	}
	txHash, err := c.resolver.ResolveMarket(ctx, marketID, outcome)
	if err != nil {
		c.logger.Error("resolve market failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return c.send(ctx, chatID, notify.ResolveFailed(err), false)
	}
	c.logger.Info("market resolution submitted",
		slog.Uint64("market_id", marketID),
		slog.String("outcome", outcome.String()),
		slog.String("tx", txHash),
	)
	return c.send(ctx, chatID, c.format.ResolveSubmitted(marketID, txHash), false)
}

func (c *Commands) checkResolvable(ctx context.Context, marketID uint64) error {
	count, err := c.reader.MarketCount(ctx)
	if err != nil {
		return fmt.Errorf("read market count: %w", err)
	}
	if marketID >= count {
		return fmt.Errorf("market #%d: %w", marketID, domain.ErrNotFound)
	}
	m, err := c.reader.GetMarket(ctx, marketID)
	if err != nil {
		return fmt.Errorf("read market #%d: %w", marketID, err)
	}
	if m.Resolved {
		return fmt.Errorf("market #%d: %w", marketID, domain.ErrMarketResolved)
	}
	return nil
}

// allMarkets reads every market in id order. Markets that fail to read are
// logged and left out; the call fails only if none could be read.
func (c *Commands) allMarkets(ctx context.Context) ([]domain.Market, error) {
	count, err := c.reader.MarketCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("listener: market count: %w", err)
	}

	results := make([]*domain.Market, count)
	var g errgroup.Group
	g.SetLimit(8)
	for id := uint64(0); id < count; id++ {
		g.Go(func() error {
			m, err := c.reader.GetMarket(ctx, id)
			if err != nil {
				c.logger.Warn("read market failed", slog.Uint64("market_id", id), slog.String("error", err.Error()))
				return nil
			}
			results[id] = &m
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Market, 0, count)
	for _, m := range results {
		if m != nil {
			out = append(out, *m)
		}
	}
	if count > 0 && len(out) == 0 {
		return nil, errors.New("listener: no market could be read")
	}
	return out, nil
}
