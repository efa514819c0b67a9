package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/degended/marketsync/internal/advisor"
	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/metrics"
	"github.com/degended/marketsync/internal/notify"
)

// Advisor suggests a resolution for an expired market question.
type Advisor interface {
	Suggest(ctx context.Context, question string) (*advisor.Result, error)
}

// Broadcaster delivers a message to every subscriber.
type Broadcaster interface {
	Broadcast(ctx context.Context, title, html string) notify.Report
}

// Transition kinds published on the markets channel.
const (
	TransitionCreated   = "market_created"
	TransitionResolved  = "market_resolved"
	TransitionSuggested = "market_suggested"
)

// Transition is the bus payload for a market state change.
type Transition struct {
	Kind   string          `json:"kind"`
	Market domain.Market   `json:"market"`
	Advice *advisor.Result `json:"advice,omitempty"`
	At     time.Time       `json:"at"`
}

// PollConfig configures the poll loop.
type PollConfig struct {
	// AdvisorMaxAttempts bounds failed advisor calls per market before the
	// market is suppressed anyway. Zero disables the bound.
	AdvisorMaxAttempts int
	// Seed marks every market present at the first tick as already
	// notified.
	Seed bool
}

// PollOption configures optional Poller collaborators.
type PollOption func(*Poller)

// WithAdvisor enables AI suggestions for expired unresolved markets.
func WithAdvisor(a Advisor) PollOption {
	return func(p *Poller) { p.advisor = a }
}

// WithBus publishes market transitions.
func WithBus(bus domain.SignalBus) PollOption {
	return func(p *Poller) { p.bus = bus }
}

// WithMetrics records poll metrics.
func WithMetrics(m *metrics.Metrics) PollOption {
	return func(p *Poller) { p.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) PollOption {
	return func(p *Poller) { p.now = now }
}

// Poller drives the per-market state machine unknown -> created -> resolved
// from polled contract state. Resolved is terminal: a resolved market is
// never read again.
type Poller struct {
	cfg     PollConfig
	reader  domain.MarketReader
	state   *State
	out     Broadcaster
	format  *notify.Formatter
	advisor Advisor
	bus     domain.SignalBus
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	running sync.Mutex
	seeded  bool
}

// NewPoller creates a Poller.
func NewPoller(cfg PollConfig, reader domain.MarketReader, state *State, out Broadcaster, format *notify.Formatter, logger *slog.Logger, opts ...PollOption) *Poller {
	p := &Poller{
		cfg:    cfg,
		reader: reader,
		state:  state,
		out:    out,
		format: format,
		logger: logger.With(slog.String("component", "poller")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if !cfg.Seed {
		p.seeded = true
	}
	return p
}

// TickResult summarises one poll.
type TickResult struct {
	Markets   uint64
	Checked   int
	Skipped   int
	Created   int
	Resolved  int
	Suggested int
	Errors    int
	// Overlap is true when the tick was skipped because the previous one
	// was still running.
	Overlap bool
}

// Tick polls every non-terminal market once. A tick that starts while
// another is in flight returns immediately.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	if !p.running.TryLock() {
		p.logger.Warn("previous poll still running, skipping tick")
		p.metrics.PollTick("overlap", 0)
		return TickResult{Overlap: true}, nil
	}
	defer p.running.Unlock()

	count, err := p.reader.MarketCount(ctx)
	if err != nil {
		p.metrics.PollTick("error", 0)
		return TickResult{}, fmt.Errorf("listener: market count: %w", err)
	}

	if !p.seeded {
		p.seed(ctx, count)
		p.seeded = true
	}

	res := TickResult{Markets: count}
	for id := uint64(0); id < count; id++ {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if st, _ := p.state.Status(id); st.Resolved {
			res.Skipped++
			continue
		}

		m, err := p.reader.GetMarket(ctx, id)
		if err != nil {
			res.Errors++
			p.logger.Error("read market failed", slog.Uint64("market_id", id), slog.String("error", err.Error()))
			continue
		}
		res.Checked++
		p.step(ctx, m, &res)
	}

	p.metrics.PollTick("ok", count)
	p.logger.Info("poll complete",
		slog.Uint64("markets", count),
		slog.Int("checked", res.Checked),
		slog.Int("skipped", res.Skipped),
		slog.Int("errors", res.Errors),
	)
	return res, nil
}

// step advances one market through the state machine.
func (p *Poller) step(ctx context.Context, m domain.Market, res *TickResult) {
	prev, _ := p.state.Status(m.ID)

	if !prev.Created {
		p.out.Broadcast(ctx, fmt.Sprintf("New market #%d", m.ID), p.format.MarketCreated(m))
		p.state.SetStatus(ctx, m.ID, domain.ProcessedStatus{Created: true})
		p.publish(ctx, TransitionCreated, m, nil)
		res.Created++
	}

	if m.Resolved {
		// Only a final outcome makes the market terminal; anything else is
		// re-read on the next tick.
		if !m.Outcome.Final() {
			p.logger.Warn("market resolved without final outcome",
				slog.Uint64("market_id", m.ID),
				slog.Int("outcome", int(m.Outcome)),
			)
			return
		}
		p.out.Broadcast(ctx, fmt.Sprintf("Market #%d resolved", m.ID), p.format.MarketResolved(m))
		p.state.SetStatus(ctx, m.ID, domain.ProcessedStatus{Created: true, Resolved: true})
		p.publish(ctx, TransitionResolved, m, nil)
		res.Resolved++
		return
	}

	if p.advisor != nil && m.Expired(p.now()) && !p.state.Suggested(m.ID) {
		if p.suggest(ctx, m) {
			res.Suggested++
		}
	}
}

// suggest asks the advisor about an expired market. The market is
// suppressed after a delivered suggestion, or once the failure budget is
// spent.
func (p *Poller) suggest(ctx context.Context, m domain.Market) bool {
	log := p.logger.With(slog.Uint64("market_id", m.ID))
	log.Info("market expired and unresolved, querying advisor")

	advice, err := p.advisor.Suggest(ctx, m.Question)
	if err != nil || advice == nil {
		p.metrics.AdvisorCall("error")
		n := p.state.RecordFailedAttempt(m.ID)
		attrs := []any{slog.Int("attempt", n)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		log.Warn("advisor call failed", attrs...)
		if p.cfg.AdvisorMaxAttempts > 0 && n >= p.cfg.AdvisorMaxAttempts {
			log.Warn("advisor attempts exhausted, suppressing market")
			p.state.MarkSuggested(ctx, m.ID)
		}
		return false
	}

	p.metrics.AdvisorCall(advice.Suggestion)
	msg := p.format.AISuggestion(m, notify.Suggestion{
		Verdict:   advice.Suggestion,
		Outcome:   advice.Outcome,
		Reasoning: advice.Reasoning,
		Sources:   advice.Sources,
	})
	p.out.Broadcast(ctx, fmt.Sprintf("AI suggestion for market #%d", m.ID), msg)
	p.state.MarkSuggested(ctx, m.ID)
	p.publish(ctx, TransitionSuggested, m, advice)
	log.Info("advisor suggestion sent", slog.String("suggestion", advice.Suggestion))
	return true
}

// seed marks existing markets as already notified so a fresh start does not
// replay history. Markets restored from the durable store keep their status.
func (p *Poller) seed(ctx context.Context, count uint64) {
	var seeded, resolved int
	for id := uint64(0); id < count; id++ {
		if _, known := p.state.Status(id); known {
			continue
		}
		st := domain.ProcessedStatus{Created: true}
		m, err := p.reader.GetMarket(ctx, id)
		if err != nil {
			p.logger.Warn("seed: read market failed", slog.Uint64("market_id", id), slog.String("error", err.Error()))
		} else if m.Resolved && m.Outcome.Final() {
			st.Resolved = true
			resolved++
		}
		p.state.SetStatus(ctx, id, st)
		seeded++
	}
	p.logger.Info("seeded existing markets",
		slog.Uint64("markets", count),
		slog.Int("seeded", seeded),
		slog.Int("resolved", resolved),
	)
}

func (p *Poller) publish(ctx context.Context, kind string, m domain.Market, advice *advisor.Result) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(Transition{Kind: kind, Market: m, Advice: advice, At: p.now().UTC()})
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.ChannelMarkets, payload); err != nil {
		p.logger.Warn("publish transition failed", slog.String("error", err.Error()))
	}
}

// RunLoop polls immediately and then on every interval until ctx is done.
func (p *Poller) RunLoop(ctx context.Context, interval time.Duration) error {
	p.runTick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poll loop stopped")
			return ctx.Err()
		case <-ticker.C:
			// Tick drops itself if the previous one is still running.
			go p.runTick(ctx)
		}
	}
}

func (p *Poller) runTick(ctx context.Context) {
	if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("poll tick failed", slog.String("error", err.Error()))
	}
}
