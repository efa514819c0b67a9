// Package advisor asks a grounded reasoning model whether an expired market
// resolved YES or NO.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/degended/marketsync/internal/domain"
)

// Verdicts returned by the advisor.
const (
	VerdictYes          = "YES"
	VerdictNo           = "NO"
	VerdictInconclusive = "INCONCLUSIVE"
)

// DefaultBaseURL is the Generative Language API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// ErrNoCandidate is returned when the model produced no text.
var ErrNoCandidate = errors.New("advisor: empty response")

// Result is a parsed suggestion. Outcome is OutcomeUnresolved for
// INCONCLUSIVE.
type Result struct {
	Suggestion string         `json:"suggestion"`
	Outcome    domain.Outcome `json:"outcome"`
	Reasoning  string         `json:"reasoning"`
	Sources    []string       `json:"sources"`
}

// Config configures the Gemini client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// Retries applies to 429 and 5xx responses.
	Retries int
}

// Gemini calls generateContent with the google_search tool enabled.
type Gemini struct {
	client *resty.Client
	apiKey string
	model  string
}

// NewGemini creates the client.
func NewGemini(cfg Config) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10*time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return false
			}
			return resp.StatusCode() == 429 || resp.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Gemini{client: client, apiKey: cfg.APIKey, model: cfg.Model}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content        `json:"contents"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content           content `json:"content"`
		GroundingMetadata struct {
			GroundingChunks []struct {
				Web struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func prompt(question string) string {
	return "You are a prediction market resolver. Based on real-world data, answer the following " +
		"question with a clear YES or NO. Also provide a confidence score (0-100) and a brief reasoning.\n\n" +
		"Question: " + question
}

// Suggest asks the model about question. Any transport, status or parse
// failure is returned as an error; callers treat it as "no suggestion".
func (g *Gemini) Suggest(ctx context.Context, question string) (*Result, error) {
	if g.apiKey == "" {
		return nil, errors.New("advisor: api key not configured")
	}

	var (
		out    generateResponse
		errOut apiError
	)
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("key", g.apiKey).
		SetBody(generateRequest{
			Contents: []content{{Role: "user", Parts: []part{{Text: prompt(question)}}}},
			Tools:    []map[string]any{{"google_search": map[string]any{}}},
		}).
		SetResult(&out).
		SetError(&errOut).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", g.model))
	if err != nil {
		return nil, fmt.Errorf("advisor: generate content: %w", err)
	}
	if resp.IsError() {
		msg := errOut.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("advisor: generate content: status %d: %s", resp.StatusCode(), msg)
	}

	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, ErrNoCandidate
	}
	cand := out.Candidates[0]

	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	reasoning := strings.TrimSpace(text.String())
	if reasoning == "" {
		return nil, ErrNoCandidate
	}

	verdict, outcome := ParseVerdict(reasoning)
	res := &Result{Suggestion: verdict, Outcome: outcome, Reasoning: reasoning}
	for _, ch := range cand.GroundingMetadata.GroundingChunks {
		if ch.Web.URI != "" {
			res.Sources = append(res.Sources, ch.Web.URI)
		}
	}
	return res, nil
}

var (
	reYes = regexp.MustCompile(`\bYES\b`)
	reNo  = regexp.MustCompile(`\bNO\b`)
)

// ParseVerdict maps free text to a verdict by whole-word keyword match.
// When both words occur the earlier one wins.
func ParseVerdict(text string) (string, domain.Outcome) {
	upper := strings.ToUpper(text)
	yes := reYes.FindStringIndex(upper)
	no := reNo.FindStringIndex(upper)

	switch {
	case yes != nil && (no == nil || yes[0] < no[0]):
		return VerdictYes, domain.OutcomeOptionA
	case no != nil:
		return VerdictNo, domain.OutcomeOptionB
	default:
		return VerdictInconclusive, domain.OutcomeUnresolved
	}
}
