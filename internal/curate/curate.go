// Package curate turns the raw crawl output into the curated dataset:
// identity-key deduplication followed by the inclusion filter.
package curate

import (
	"time"

	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
	"github.com/JakeFAU/userdir-pipeline/internal/metrics"
)

// DefaultCutoff is the creation date an entity must be strictly after to be kept.
var DefaultCutoff = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// Summary reports what each curation step did.
type Summary struct {
	// Loaded is the number of raw records considered.
	Loaded int `json:"loaded"`
	// Unique is the number left after deduplication.
	Unique int `json:"unique"`
	// Kept is the number that passed the filter.
	Kept int `json:"kept"`
	// Duplicates is Loaded minus Unique.
	Duplicates int `json:"duplicates"`
	// FilteredOut is Unique minus Kept.
	FilteredOut int `json:"filtered_out"`
}

// Result is the output of Curate.
type Result struct {
	Unique  []crawler.RawEntity
	Curated []crawler.CuratedEntity
	Summary Summary
}

// Dedupe drops every record whose identity key was already seen, keeping the
// first occurrence and the original order. Login is never consulted.
func Dedupe(records []crawler.RawEntity) []crawler.RawEntity {
	seen := make(map[int64]struct{}, len(records))
	out := make([]crawler.RawEntity, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// Keep reports whether rec passes the inclusion predicate: a non-empty bio, a
// non-empty avatar and a creation time strictly after cutoff. A missing or
// unparseable creation time fails the predicate.
func Keep(rec crawler.RawEntity, cutoff time.Time) bool {
	if rec.BioText() == "" || rec.AvatarURL == "" {
		return false
	}
	return rec.CreatedAt.After(cutoff)
}

// Filter returns the records that pass Keep, in input order.
func Filter(records []crawler.RawEntity, cutoff time.Time) []crawler.CuratedEntity {
	out := make([]crawler.CuratedEntity, 0, len(records))
	for _, rec := range records {
		if Keep(rec, cutoff) {
			out = append(out, crawler.CuratedEntity(rec))
		}
	}
	return out
}

// Curate runs Dedupe then Filter and summarizes the counts.
func Curate(raw []crawler.RawEntity, cutoff time.Time) Result {
	unique := Dedupe(raw)
	curated := Filter(unique, cutoff)
	sum := Summary{
		Loaded:      len(raw),
		Unique:      len(unique),
		Kept:        len(curated),
		Duplicates:  len(raw) - len(unique),
		FilteredOut: len(unique) - len(curated),
	}
	metrics.AddEntities(metrics.StageDuplicate, sum.Duplicates)
	metrics.AddEntities(metrics.StageFilteredOut, sum.FilteredOut)
	metrics.AddEntities(metrics.StageCurated, sum.Kept)
	return Result{Unique: unique, Curated: curated, Summary: sum}
}
