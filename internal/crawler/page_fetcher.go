package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/metrics"
)

// Default cooldowns for the transient response classes.
const (
	DefaultThrottleCooldown = 60 * time.Second
	DefaultServerBackoff    = 30 * time.Second
)

// PageFetcherConfig controls the fixed waits applied to transient responses.
type PageFetcherConfig struct {
	ThrottleCooldown time.Duration
	ServerBackoff    time.Duration
}

// PageFetcher retrieves one listing page, retrying transient responses on the
// same cursor without limit and failing fast on every other non-success status.
type PageFetcher struct {
	source  ListingSource
	limiter RateLimiter
	sleeper Sleeper
	cfg     PageFetcherConfig
	logger  *zap.Logger
}

// NewPageFetcher wires a PageFetcher. Zero config values fall back to the defaults.
func NewPageFetcher(
	source ListingSource,
	limiter RateLimiter,
	sleeper Sleeper,
	cfg PageFetcherConfig,
	logger *zap.Logger,
) *PageFetcher {
	if cfg.ThrottleCooldown <= 0 {
		cfg.ThrottleCooldown = DefaultThrottleCooldown
	}
	if cfg.ServerBackoff <= 0 {
		cfg.ServerBackoff = DefaultServerBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageFetcher{
		source:  source,
		limiter: limiter,
		sleeper: sleeper,
		cfg:     cfg,
		logger:  logger,
	}
}

// FetchPage returns the page at cursor. Quota, throttle and server-error
// responses are waited out and retried; they never count as failed attempts.
func (f *PageFetcher) FetchPage(ctx context.Context, cursor Cursor) (Page, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Page{}, fmt.Errorf("fetch page since=%d: %w", cursor, err)
		}
		resp, err := f.source.List(ctx, cursor)
		if err != nil {
			return Page{}, fmt.Errorf("fetch page since=%d: %w: %w", cursor, ErrUnrecoverableTransport, err)
		}
		f.limiter.Observe(resp.Rate)
		metrics.ObserveUpstream("listing", resp.Status)

		class := Classify(resp.Status, f.limiter.ShouldWait(resp.Status, resp.Rate.Remaining))
		switch class {
		case ClassOK:
			return Page{Cursor: cursor, Records: resp.Records, Rate: resp.Rate}, nil
		case ClassQuota:
			f.logger.Warn("listing quota exhausted",
				zap.Int64("cursor", int64(cursor)),
				zap.Time("reset", resp.Rate.Reset),
			)
			if err := f.limiter.WaitUntil(ctx, resp.Rate.Reset); err != nil {
				return Page{}, fmt.Errorf("wait for quota reset: %w", err)
			}
		case ClassThrottle:
			if err := f.backoff(ctx, cursor, class, resp.Status, f.cfg.ThrottleCooldown); err != nil {
				return Page{}, err
			}
		case ClassServer:
			if err := f.backoff(ctx, cursor, class, resp.Status, f.cfg.ServerBackoff); err != nil {
				return Page{}, err
			}
		default:
			f.logger.Error("listing request failed",
				zap.Int64("cursor", int64(cursor)),
				zap.Int("status", resp.Status),
			)
			return Page{}, &StatusError{Status: resp.Status, Cursor: cursor}
		}
	}
}

func (f *PageFetcher) backoff(ctx context.Context, cursor Cursor, class Class, status int, d time.Duration) error {
	f.logger.Warn("transient listing response, backing off",
		zap.Int64("cursor", int64(cursor)),
		zap.Int("status", status),
		zap.String("class", string(class)),
		zap.Duration("delay", d),
	)
	start := time.Now()
	if err := f.sleeper.Sleep(ctx, d); err != nil {
		return fmt.Errorf("backoff after HTTP %d: %w", status, err)
	}
	metrics.ObserveWait(string(class), time.Since(start))
	return nil
}
