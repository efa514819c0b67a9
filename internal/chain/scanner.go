package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// LogProvider is the subset of ethclient the scanner uses.
type LogProvider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ScanConfig tunes sub-range sizing and pacing.
type ScanConfig struct {
	// ChunkSize is the initial sub-range length for wildcard filters.
	ChunkSize uint64
	// ActorChunkSize is used when the filter pins the indexed actor topic,
	// since providers cap result size rather than range length.
	ActorChunkSize uint64
	MinChunkSize   uint64
	// RequestInterval is the minimum gap between two getLogs calls.
	RequestInterval time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	HeadCacheTTL    time.Duration
}

// DefaultScanConfig returns the settings used against the public Sonic RPC.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		ChunkSize:       1000,
		ActorChunkSize:  50_000,
		MinChunkSize:    1,
		RequestInterval: 50 * time.Millisecond,
		MaxRetries:      3,
		RetryBackoff:    500 * time.Millisecond,
		HeadCacheTTL:    5 * time.Second,
	}
}

// Filter selects logs for a scan. A nil ToBlock means the current head.
type Filter struct {
	Address   common.Address
	Topics    [][]common.Hash
	FromBlock uint64
	ToBlock   *uint64
}

func (f Filter) actorScoped() bool {
	return len(f.Topics) > 2 && len(f.Topics[2]) > 0
}

// FailedRange is a sub-range that could not be fetched.
type FailedRange struct {
	From, To uint64
	Err      error
}

// ScanError lists the sub-ranges a scan gave up on. Logs from every other
// sub-range are still returned alongside it.
type ScanError struct {
	Ranges []FailedRange
}

func (e *ScanError) Error() string {
	parts := make([]string, 0, len(e.Ranges))
	for _, r := range e.Ranges {
		parts = append(parts, fmt.Sprintf("[%d,%d]: %v", r.From, r.To, r.Err))
	}
	return fmt.Sprintf("chain: scan: %d sub-range(s) failed: %s", len(e.Ranges), strings.Join(parts, "; "))
}

func (e *ScanError) Unwrap() []error {
	errs := make([]error, 0, len(e.Ranges))
	for _, r := range e.Ranges {
		errs = append(errs, r.Err)
	}
	return errs
}

var rangeErrorMarkers = []string{
	"block range",
	"range too large",
	"range is too large",
	"exceed maximum block range",
	"query returned more than",
	"response size",
	"too many results",
	"block range limit exceeded",
	"log response size exceeded",
}

// Throttling replies share wording with range errors but must be retried.
var throttleMarkers = []string{
	"rate limit",
	"too many requests",
}

// IsRangeError reports whether err is the provider rejecting a request for
// spanning too many blocks or matching too many logs.
func IsRangeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range throttleMarkers {
		if strings.Contains(msg, m) {
			return false
		}
	}
	for _, m := range rangeErrorMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Scanner splits wide getLogs queries into sub-ranges the provider accepts.
type Scanner struct {
	provider LogProvider
	head     *HeadCache
	cfg      ScanConfig
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewScanner creates a Scanner. Zero fields in cfg fall back to defaults.
func NewScanner(provider LogProvider, cfg ScanConfig, logger *slog.Logger) *Scanner {
	def := DefaultScanConfig()
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ActorChunkSize == 0 {
		cfg.ActorChunkSize = def.ActorChunkSize
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	if cfg.HeadCacheTTL == 0 {
		cfg.HeadCacheTTL = def.HeadCacheTTL
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	return &Scanner{
		provider: provider,
		head:     NewHeadCache(provider, cfg.HeadCacheTTL),
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.With(slog.String("component", "scanner")),
	}
}

// Head returns the cached chain head.
func (s *Scanner) Head(ctx context.Context) (uint64, error) {
	return s.head.BlockNumber(ctx)
}

// Scan returns every log matching f between FromBlock and ToBlock inclusive.
// Logs are not sorted across sub-ranges. When some sub-ranges fail after
// retries the logs of the others are returned together with a *ScanError.
func (s *Scanner) Scan(ctx context.Context, f Filter) ([]types.Log, error) {
	var to uint64
	if f.ToBlock != nil {
		to = *f.ToBlock
	} else {
		head, err := s.head.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain: scan: head: %w", err)
		}
		to = head
	}
	if f.FromBlock > to {
		return nil, nil
	}

	chunk := s.cfg.ChunkSize
	if f.actorScoped() {
		chunk = s.cfg.ActorChunkSize
	}

	var (
		logs   []types.Log
		failed []FailedRange
		offset = f.FromBlock
	)
	for offset <= to {
		end := to
		if to-offset >= chunk {
			end = offset + chunk - 1
		}

		got, err := s.fetch(ctx, f, offset, end)
		switch {
		case err == nil:
			logs = append(logs, got...)
			if end == to {
				offset = to + 1
				continue
			}
			offset = end + 1

		case ctx.Err() != nil:
			return logs, ctx.Err()

		case IsRangeError(err) && chunk > s.cfg.MinChunkSize:
			chunk /= 2
			if chunk < s.cfg.MinChunkSize {
				chunk = s.cfg.MinChunkSize
			}
			s.logger.DebugContext(ctx, "range rejected, shrinking chunk",
				slog.Uint64("from", offset),
				slog.Uint64("to", end),
				slog.Uint64("chunk", chunk),
			)

		default:
			s.logger.WarnContext(ctx, "sub-range failed",
				slog.Uint64("from", offset),
				slog.Uint64("to", end),
				slog.String("error", err.Error()),
			)
			failed = append(failed, FailedRange{From: offset, To: end, Err: err})
			if end == to {
				offset = to + 1
				continue
			}
			offset = end + 1
		}
	}

	if len(failed) > 0 {
		return logs, &ScanError{Ranges: failed}
	}
	return logs, nil
}

// fetch issues one getLogs call, retrying transient failures with
// exponential backoff. Range errors are returned immediately so the caller
// can shrink the chunk.
func (s *Scanner) fetch(ctx context.Context, f Filter, from, to uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{f.Address},
		Topics:    f.Topics,
	}

	backoff := s.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		logs, err := s.provider.FilterLogs(ctx, q)
		if err == nil {
			return logs, nil
		}
		lastErr = err
		if IsRangeError(err) || attempt == s.cfg.MaxRetries {
			break
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

// IsScanError reports whether err carries partial-failure details.
func IsScanError(err error) bool {
	var se *ScanError
	return errors.As(err, &se)
}
