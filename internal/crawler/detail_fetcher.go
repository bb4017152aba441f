package crawler

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/metrics"
)

// DetailFetcher performs the per-entity detail lookup. It never retries and
// never fails: any problem degrades the detail fields to absent.
type DetailFetcher struct {
	source  DetailSource
	limiter RateLimiter
	logger  *zap.Logger
}

// NewDetailFetcher wires a DetailFetcher. limiter may be nil.
func NewDetailFetcher(source DetailSource, limiter RateLimiter, logger *zap.Logger) *DetailFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailFetcher{source: source, limiter: limiter, logger: logger}
}

// FetchDetail looks up the entity behind a listing record.
func (f *DetailFetcher) FetchDetail(ctx context.Context, rec ListingRecord) DetailRecord {
	resp, err := f.source.Detail(ctx, rec.Login)
	if err != nil {
		f.logger.Warn("detail lookup failed",
			zap.Int64("id", rec.ID),
			zap.String("login", rec.Login),
			zap.Error(err),
		)
		metrics.ObserveUpstream("detail", 0)
		return DetailRecord{}
	}
	if f.limiter != nil {
		f.limiter.Observe(resp.Rate)
	}
	metrics.ObserveUpstream("detail", resp.Status)
	if resp.Status < 200 || resp.Status >= 300 {
		f.logger.Warn("detail lookup returned non-success status",
			zap.Int64("id", rec.ID),
			zap.String("login", rec.Login),
			zap.Int("status", resp.Status),
		)
		return DetailRecord{}
	}
	return resp.Record
}
