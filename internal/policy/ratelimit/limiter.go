// Package ratelimit tracks the upstream call quota and suspends the crawl
// when the quota is spent until the advertised reset time.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
	"github.com/JakeFAU/userdir-pipeline/internal/metrics"
)

// Defaults applied by New for zero Config values.
const (
	DefaultPadding  = time.Second
	DefaultFallback = 60 * time.Second
)

// Config holds rate limiter configuration.
type Config struct {
	// Padding is added to the reset time before resuming.
	Padding time.Duration
	// Fallback is the wait used when the response carried no reset time.
	Fallback time.Duration
}

// Limiter is the quota-aware RateLimiter used by the page fetcher.
type Limiter struct {
	mu      sync.Mutex
	state   crawler.RateState
	cfg     Config
	clock   crawler.Clock
	sleeper crawler.Sleeper
	logger  *zap.Logger
}

var _ crawler.RateLimiter = (*Limiter)(nil)

// New creates a new Limiter.
func New(cfg Config, clock crawler.Clock, sleeper crawler.Sleeper, logger *zap.Logger) *Limiter {
	if cfg.Padding <= 0 {
		cfg.Padding = DefaultPadding
	}
	if cfg.Fallback <= 0 {
		cfg.Fallback = DefaultFallback
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		state:   crawler.RateState{Remaining: crawler.RemainingUnknown},
		cfg:     cfg,
		clock:   clock,
		sleeper: sleeper,
		logger:  logger,
	}
}

// Observe records the quota signals of the latest upstream response.
func (l *Limiter) Observe(state crawler.RateState) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
	metrics.SetRateRemaining(state.Remaining)
}

// State returns the last observed quota signals.
func (l *Limiter) State() crawler.RateState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ShouldWait reports whether a response means the quota is spent. Both signals
// are required: a 403 with calls remaining is a real authorization failure.
func (l *Limiter) ShouldWait(status int, remaining int) bool {
	return status == http.StatusForbidden && remaining == 0
}

// Delay returns how long WaitUntil would suspend for reset.
func (l *Limiter) Delay(reset time.Time) time.Duration {
	if reset.IsZero() {
		return l.cfg.Fallback
	}
	d := reset.Add(l.cfg.Padding).Sub(l.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// WaitUntil blocks until reset plus the padding has passed.
func (l *Limiter) WaitUntil(ctx context.Context, reset time.Time) error {
	d := l.Delay(reset)
	l.logger.Info("quota exhausted, waiting for reset",
		zap.Time("reset", reset),
		zap.Duration("delay", d),
	)
	if err := l.sleeper.Sleep(ctx, d); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	metrics.ObserveWait(string(crawler.ClassQuota), d)
	return nil
}
