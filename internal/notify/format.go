package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/degended/marketsync/internal/domain"
)

// Separator divides sections of list messages. SplitMessage cuts here.
const Separator = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ReasoningLimit caps the advisor reasoning quoted in a suggestion.
const ReasoningLimit = 500

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeHTML escapes text for Telegram's HTML parse mode.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// Formatter renders the bot's HTML messages.
type Formatter struct {
	SiteURL string
	// ExplorerURL prefixes transaction links, e.g. https://sonicscan.org.
	ExplorerURL string
	Location    *time.Location
}

// NewFormatter creates a Formatter. Dates render in tz, or UTC when tz
// cannot be loaded.
func NewFormatter(siteURL, explorerURL, tz string) *Formatter {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return &Formatter{
		SiteURL:     strings.TrimRight(siteURL, "/"),
		ExplorerURL: strings.TrimRight(explorerURL, "/"),
		Location:    loc,
	}
}

// MarketURL links to a market on the site.
func (f *Formatter) MarketURL(id uint64) string {
	return fmt.Sprintf("%s/?market=%d", f.SiteURL, id)
}

// ResolvedMarketURL links to a market on the resolved tab.
func (f *Formatter) ResolvedMarketURL(id uint64) string {
	return f.MarketURL(id) + "&tab=resolved"
}

func (f *Formatter) date(t time.Time, withYear bool) string {
	layout := "Jan 2, 03:04 PM"
	if withYear {
		layout = "Jan 2, 2006, 03:04 PM"
	}
	return t.In(f.Location).Format(layout)
}

// MarketCreated announces a new market.
func (f *Formatter) MarketCreated(m domain.Market) string {
	var b strings.Builder
	b.WriteString("🎲 <b>New Market Created!</b>\n\n")
	fmt.Fprintf(&b, "📊 <b>Market #%d</b>\n\n", m.ID)
	fmt.Fprintf(&b, "❓ <b>Question:</b> %s\n\n", EscapeHTML(m.Question))
	fmt.Fprintf(&b, "✅ <b>Option A:</b> %s\n", EscapeHTML(m.OptionA))
	fmt.Fprintf(&b, "❌ <b>Option B:</b> %s\n\n", EscapeHTML(m.OptionB))
	fmt.Fprintf(&b, "⏰ <b>Ends:</b> %s\n", f.date(m.EndTime, true))
	if f.SiteURL != "" {
		fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">View Market →</a>", f.MarketURL(m.ID))
	}
	return b.String()
}

// MarketResolved announces a resolution with the final betting totals.
func (f *Formatter) MarketResolved(m domain.Market) string {
	return f.resolved("🏁 <b>Market Resolved!</b>\n\n", m)
}

// LatestResolved renders the /resolved reply. markets are newest first.
func (f *Formatter) LatestResolved(markets []domain.Market) string {
	if len(markets) == 0 {
		return "📊 <b>No Resolved Markets</b>\n\nThere are currently no resolved markets."
	}
	if len(markets) == 1 {
		return f.resolved("🏁 <b>Latest Resolved Market</b>\n\n", markets[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🏁 <b>Latest Resolved Markets (%d)</b>\n\n", len(markets))
	b.WriteString(Separator + "\n\n")
	for _, m := range markets {
		b.WriteString(f.resolved("", m))
		b.WriteString("\n\n" + Separator + "\n\n")
	}
	return b.String()
}

func (f *Formatter) resolved(header string, m domain.Market) string {
	var b strings.Builder
	b.WriteString(header)
	fmt.Fprintf(&b, "📊 <b>Market #%d</b>\n\n", m.ID)
	fmt.Fprintf(&b, "❓ <b>Question:</b> %s\n\n", EscapeHTML(m.Question))

	switch m.Outcome {
	case domain.OutcomeOptionA, domain.OutcomeOptionB:
		fmt.Fprintf(&b, "✅ <b>Winner: %s</b>\n\n", EscapeHTML(m.WinningLabel()))
	case domain.OutcomeRefund:
		b.WriteString("🔄 <b>Refunded</b>\n\n")
	}

	b.WriteString("📈 <b>Betting Results:</b>\n")
	fmt.Fprintf(&b, "   ✅ %s: %s\n", EscapeHTML(m.OptionA), domain.FormatUSD(m.TotalOptionAShares))
	fmt.Fprintf(&b, "   ❌ %s: %s\n", EscapeHTML(m.OptionB), domain.FormatUSD(m.TotalOptionBShares))
	fmt.Fprintf(&b, "   💰 Total Pool: %s\n", domain.FormatUSD(m.TotalPool()))
	if f.SiteURL != "" {
		fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">View Market →</a>", f.ResolvedMarketURL(m.ID))
	}
	return b.String()
}

// OpenMarkets renders the /markets reply.
func (f *Formatter) OpenMarkets(markets []domain.Market) string {
	if len(markets) == 0 {
		return "📊 <b>No Open Markets</b>\n\nThere are currently no active markets."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Open Markets (%d)</b>\n\n", len(markets))
	b.WriteString(Separator + "\n\n")
	for _, m := range markets {
		fmt.Fprintf(&b, "🎲 <b>Market #%d</b>\n", m.ID)
		fmt.Fprintf(&b, "❓ %s\n\n", EscapeHTML(m.Question))
		fmt.Fprintf(&b, "✅ %s: %s\n", EscapeHTML(m.OptionA), domain.FormatUSD(m.TotalOptionAShares))
		fmt.Fprintf(&b, "❌ %s: %s\n", EscapeHTML(m.OptionB), domain.FormatUSD(m.TotalOptionBShares))
		fmt.Fprintf(&b, "💰 Pool: %s\n", domain.FormatUSD(m.TotalPool()))
		fmt.Fprintf(&b, "⏰ Ends: %s\n", f.date(m.EndTime, false))
		if f.SiteURL != "" {
			fmt.Fprintf(&b, "🔗 <a href=\"%s\">View →</a>\n", f.MarketURL(m.ID))
		}
		b.WriteString("\n" + Separator + "\n\n")
	}
	return b.String()
}

// Suggestion is what the advisor produced for a market.
type Suggestion struct {
	Verdict   string
	Outcome   domain.Outcome
	Reasoning string
	Sources   []string
}

// AISuggestion renders an advisory message with the command to apply it.
func (f *Formatter) AISuggestion(m domain.Market, s Suggestion) string {
	reasoning := s.Reasoning
	if r := []rune(reasoning); len(r) > ReasoningLimit {
		reasoning = string(r[:ReasoningLimit]) + "..."
	}

	var b strings.Builder
	b.WriteString("🤖 <b>AI Resolution Suggestion</b>\n\n")
	fmt.Fprintf(&b, "📊 <b>Market #%d</b>\n", m.ID)
	fmt.Fprintf(&b, "❓ <b>Question:</b> %s\n\n", EscapeHTML(m.Question))
	fmt.Fprintf(&b, "💡 <b>Suggested Outcome:</b> %s\n", EscapeHTML(s.Verdict))
	fmt.Fprintf(&b, "📝 <b>Reasoning:</b> %s\n\n", EscapeHTML(reasoning))

	sources := s.Sources
	if len(sources) > 3 {
		sources = sources[:3]
	}
	if len(sources) > 0 {
		b.WriteString("🔗 <b>Sources:</b>\n")
		for _, src := range sources {
			fmt.Fprintf(&b, "• <a href=\"%s\">Link</a>\n", EscapeHTML(src))
		}
		b.WriteString("\n")
	}

	if s.Outcome.Final() {
		fmt.Fprintf(&b, "✅ To resolve, type:\n<code>/resolve %d %d</code>", m.ID, s.Outcome)
	} else {
		b.WriteString("⚠️ No clear outcome. Review manually before resolving.")
	}
	return b.String()
}

// Help renders the /help reply.
func (f *Formatter) Help(subscribed bool) string {
	var b strings.Builder
	b.WriteString("🤖 <b>DEGENDED MARKETS Bot</b>\n\n")
	b.WriteString("📋 <b>Available Commands:</b>\n\n")
	b.WriteString("/<b>markets</b> - List all currently open markets\n")
	b.WriteString("/<b>resolved</b> - Show the latest resolved markets\n")
	b.WriteString("/<b>subscribe</b> - Subscribe to market notifications\n")
	b.WriteString("/<b>unsubscribe</b> - Unsubscribe from notifications\n")
	b.WriteString("/<b>resolve [id] [outcome]</b> - Admin only: Resolve a market\n")
	b.WriteString("/<b>help</b> - Show this help message\n\n")
	if subscribed {
		b.WriteString("📢 ✅ <b>You are subscribed!</b> You will receive notifications when:\n")
	} else {
		b.WriteString("📢 Subscribe to receive notifications when:\n")
	}
	b.WriteString("  • New markets are created\n")
	b.WriteString("  • Markets are resolved (with betting totals)\n")
	b.WriteString("  • AI suggests resolutions for expired markets\n")
	if f.SiteURL != "" {
		fmt.Fprintf(&b, "\n🔗 Visit: %s", f.SiteURL)
	}
	return b.String()
}

// ResolveSubmitted confirms an admin resolution transaction.
func (f *Formatter) ResolveSubmitted(marketID uint64, txHash string) string {
	msg := fmt.Sprintf("✅ <b>Market #%d Resolved!</b>", marketID)
	if f.ExplorerURL != "" {
		msg += fmt.Sprintf("\n\n🔗 <a href=\"%s/tx/%s\">View Transaction</a>", f.ExplorerURL, txHash)
	} else {
		msg += fmt.Sprintf("\n\n<code>%s</code>", txHash)
	}
	return msg
}

// Fixed command replies.
const (
	MsgSubscribed        = "✅ <b>Subscribed!</b> You will now receive notifications for new markets and resolutions."
	MsgUnsubscribed      = "❌ <b>Unsubscribed.</b> You will no longer receive notifications."
	MsgFetchingMarkets   = "🔍 Fetching open markets..."
	MsgFetchingResolved  = "🔍 Fetching latest resolved markets..."
	MsgMarketsError      = "❌ Error fetching markets. Please try again later."
	MsgResolvedError     = "❌ Error fetching resolved market. Please try again later."
	MsgUnauthorized      = "🚫 Unauthorized. Only the admin can resolve markets."
	MsgNoAdminKey        = "❌ Error: admin key not configured for this bot."
	MsgInvalidOutcome    = "❌ Invalid outcome. Use 1 (A), 2 (B), or 3 (Refund)."
	MsgResolveUsage      = "Usage: <code>/resolve [id] [outcome]</code>"
	MsgUnknownCommand    = "🤔 Unknown command. Send /help for the list of commands."
	MsgSubscriptionError = "❌ Could not update your subscription. Please try again later."
)

// ResolveExecuting acknowledges a /resolve before the transaction is sent.
func ResolveExecuting(marketID uint64, outcome domain.Outcome) string {
	return fmt.Sprintf("⚙️ Executing resolution for Market #%d with outcome %d...", marketID, outcome)
}

// ResolveFailed reports a failed /resolve.
func ResolveFailed(err error) string {
	return "❌ Error resolving market: " + EscapeHTML(err.Error())
}
