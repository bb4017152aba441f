package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/metrics"
)

// Pager fetches a single listing page at a cursor.
type Pager interface {
	FetchPage(ctx context.Context, cursor Cursor) (Page, error)
}

// Enricher looks up the detail record for a listing entry.
type Enricher interface {
	FetchDetail(ctx context.Context, rec ListingRecord) DetailRecord
}

// Crawler walks the listing from a seed cursor, enriching every record, until
// it has buffered the requested number of entities.
//
// The upstream listing is ordered by ascending identity key, so the last record
// of a page carries the page's maximum key. Crawl checks this on every page and
// aborts on violation rather than mis-paginating.
type Crawler struct {
	pages   Pager
	details Enricher
	seed    Cursor
	logger  *zap.Logger
}

// New builds a Crawler that starts every run at seed.
func New(pages Pager, details Enricher, seed Cursor, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{pages: pages, details: details, seed: seed, logger: logger}
}

// Crawl fetches pages until at least target entities are buffered. On abort it
// returns the entities buffered so far together with the error.
func (c *Crawler) Crawl(ctx context.Context, target int) ([]RawEntity, error) {
	if target <= 0 {
		return []RawEntity{}, nil
	}
	buf := make([]RawEntity, 0, target)
	cursor := c.seed
	for len(buf) < target {
		if err := ctx.Err(); err != nil {
			return buf, fmt.Errorf("crawl canceled: %w", err)
		}
		page, err := c.pages.FetchPage(ctx, cursor)
		if err != nil {
			return buf, err
		}
		if len(page.Records) == 0 {
			c.logger.Error("empty listing page", zap.Int64("cursor", int64(cursor)))
			return buf, fmt.Errorf("since=%d: %w", cursor, ErrEmptyPage)
		}
		next, err := NextCursor(cursor, page.Records)
		if err != nil {
			return buf, err
		}
		for _, rec := range page.Records {
			detail := c.details.FetchDetail(ctx, rec)
			entity, err := Merge(rec, detail)
			if err != nil {
				c.logger.Warn("dropping entity", zap.Int64("id", rec.ID), zap.Error(err))
				metrics.AddEntities(metrics.StageRejected, 1)
				continue
			}
			buf = append(buf, entity)
		}
		metrics.AddEntities(metrics.StageCrawled, len(page.Records))
		c.logger.Info("page crawled",
			zap.Int64("cursor", int64(cursor)),
			zap.Int64("next_cursor", int64(next)),
			zap.Int("records", len(page.Records)),
			zap.Int("buffered", len(buf)),
			zap.Int("remaining_quota", page.Rate.Remaining),
		)
		cursor = next
	}
	return buf, nil
}

// NextCursor returns the cursor that follows records. The last record must hold
// the largest key of the page and that key must be past the current cursor.
func NextCursor(current Cursor, records []ListingRecord) (Cursor, error) {
	if len(records) == 0 {
		return current, ErrEmptyPage
	}
	last := records[len(records)-1].ID
	for _, rec := range records {
		if rec.ID > last {
			return current, fmt.Errorf("since=%d: id %d follows %d: %w", current, rec.ID, last, ErrCursorOrder)
		}
	}
	if Cursor(last) <= current {
		return current, fmt.Errorf("since=%d: last id %d does not advance: %w", current, last, ErrCursorOrder)
	}
	return Cursor(last), nil
}

// Merge combines a listing record with its detail lookup. It fails when the
// listing record is unusable or the detail belongs to another entity.
func Merge(rec ListingRecord, detail DetailRecord) (RawEntity, error) {
	if rec.ID <= 0 {
		return RawEntity{}, fmt.Errorf("%w: invalid id %d", ErrMerge, rec.ID)
	}
	if rec.Login == "" {
		return RawEntity{}, fmt.Errorf("%w: id %d has no login", ErrMerge, rec.ID)
	}
	if detail.ID != 0 && detail.ID != rec.ID {
		return RawEntity{}, fmt.Errorf("%w: detail id %d does not match %d", ErrMerge, detail.ID, rec.ID)
	}
	return RawEntity{
		ID:        rec.ID,
		Login:     rec.Login,
		AvatarURL: rec.AvatarURL,
		CreatedAt: detail.CreatedAt,
		Bio:       detail.Bio,
	}, nil
}
