// Package pipeline orchestrates one acquisition run: crawl, raw snapshot,
// curation, curated snapshot and the optional downstream sinks.
//
// Nothing here runs on import. Callers build a Pipeline and invoke Run or
// Recurate explicitly.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
	"github.com/JakeFAU/userdir-pipeline/internal/curate"
	"github.com/JakeFAU/userdir-pipeline/internal/snapshot"
)

const snapshotContentType = "application/json; charset=utf-8"

var tracer = otel.Tracer("github.com/JakeFAU/userdir-pipeline/internal/pipeline")

// ErrSink marks a failure in a downstream sink after the local snapshots were written.
var ErrSink = errors.New("snapshot sink failed")

// Crawler produces the raw entity list for a run.
type Crawler interface {
	Crawl(ctx context.Context, target int) ([]crawler.RawEntity, error)
}

// Config holds the run parameters.
type Config struct {
	Target      int
	RawPath     string
	CuratedPath string
	Cutoff      time.Time
	// Topic receives the SnapshotReady notification when a Publisher is set.
	Topic string
}

// Sinks are the optional destinations fed after the curated snapshot is saved.
// Nil fields are skipped.
type Sinks struct {
	Blobs     crawler.BlobStore
	Users     crawler.UserStore
	Publisher crawler.Publisher
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Crawler Crawler
	Hasher  crawler.Hasher
	IDs     crawler.IDGenerator
	Clock   crawler.Clock
	Sinks   Sinks
	Logger  *zap.Logger
}

// Report describes a finished run.
type Report struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Crawled       int            `json:"crawled"`
	Summary       curate.Summary `json:"summary"`
	RawPath       string         `json:"raw_path"`
	CuratedPath   string         `json:"curated_path"`
	CuratedSHA256 string         `json:"curated_sha256"`
	RawURI        string         `json:"raw_uri,omitempty"`
	CuratedURI    string         `json:"curated_uri,omitempty"`
	UsersUpserted int            `json:"users_upserted"`
	MessageID     string         `json:"message_id,omitempty"`
}

// SnapshotReady is published once the curated snapshot is available.
type SnapshotReady struct {
	RunID       string         `json:"run_id"`
	CuratedPath string         `json:"curated_path"`
	URI         string         `json:"uri,omitempty"`
	SHA256      string         `json:"sha256"`
	Summary     curate.Summary `json:"summary"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// Pipeline runs acquisition passes.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates the configuration and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.RawPath == "" || cfg.CuratedPath == "" {
		return nil, fmt.Errorf("raw and curated paths are required")
	}
	if deps.Hasher == nil || deps.IDs == nil || deps.Clock == nil {
		return nil, fmt.Errorf("hasher, id generator and clock are required")
	}
	if cfg.Cutoff.IsZero() {
		cfg.Cutoff = curate.DefaultCutoff
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger}, nil
}

// Run crawls up to the target, writes the raw snapshot, curates it, writes the
// curated snapshot and feeds the sinks. The crawl buffer is only written at the
// end: when the crawl aborts nothing is persisted and the returned report
// carries the number of entities that were buffered.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	if p.deps.Crawler == nil {
		return Report{}, fmt.Errorf("pipeline has no crawler")
	}
	report, err := p.begin()
	if err != nil {
		return report, err
	}
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", report.RunID), attribute.Int("target", p.cfg.Target))
	logger := p.logger.With(zap.String("run_id", report.RunID))

	logger.Info("crawl started", zap.Int("target", p.cfg.Target))
	raw, err := p.deps.Crawler.Crawl(ctx, p.cfg.Target)
	report.Crawled = len(raw)
	if err != nil {
		logger.Error("crawl aborted, nothing persisted", zap.Int("buffered", len(raw)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "crawl aborted")
		return report, fmt.Errorf("crawl: %w", err)
	}
	logger.Info("crawl finished", zap.Int("entities", len(raw)))

	rawData, err := snapshot.Save(p.cfg.RawPath, raw)
	if err != nil {
		span.RecordError(err)
		return report, fmt.Errorf("save raw snapshot: %w", err)
	}
	report, err = p.finish(ctx, logger, report, raw, rawData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

// Recurate rebuilds the curated snapshot from the existing raw snapshot without
// crawling. Missing or malformed raw snapshots are returned as
// snapshot.ErrNotFound or snapshot.ErrMalformed.
func (p *Pipeline) Recurate(ctx context.Context) (Report, error) {
	report, err := p.begin()
	if err != nil {
		return report, err
	}
	ctx, span := tracer.Start(ctx, "pipeline.recurate")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", report.RunID))
	logger := p.logger.With(zap.String("run_id", report.RunID))

	raw, err := snapshot.Load[crawler.RawEntity](p.cfg.RawPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load raw snapshot")
		return report, fmt.Errorf("recurate: %w", err)
	}
	logger.Info("raw snapshot loaded", zap.String("path", p.cfg.RawPath), zap.Int("entities", len(raw)))
	report.Crawled = len(raw)

	report, err = p.finish(ctx, logger, report, raw, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (p *Pipeline) begin() (Report, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("run id: %w", err)
	}
	return Report{
		RunID:       runID,
		StartedAt:   p.deps.Clock.Now(),
		RawPath:     p.cfg.RawPath,
		CuratedPath: p.cfg.CuratedPath,
	}, nil
}

// finish curates raw, saves the curated snapshot and delivers to the sinks.
// rawData is mirrored when non-nil.
func (p *Pipeline) finish(
	ctx context.Context,
	logger *zap.Logger,
	report Report,
	raw []crawler.RawEntity,
	rawData []byte,
) (Report, error) {
	_, span := tracer.Start(ctx, "pipeline.curate")
	result := curate.Curate(raw, p.cfg.Cutoff)
	span.SetAttributes(
		attribute.Int("loaded", result.Summary.Loaded),
		attribute.Int("kept", result.Summary.Kept),
	)
	span.End()
	report.Summary = result.Summary
	logger.Info("curation summary",
		zap.Int("loaded", result.Summary.Loaded),
		zap.Int("unique", result.Summary.Unique),
		zap.Int("duplicates", result.Summary.Duplicates),
		zap.Int("filtered_out", result.Summary.FilteredOut),
		zap.Int("kept", result.Summary.Kept),
	)

	curatedData, err := snapshot.Save(p.cfg.CuratedPath, result.Curated)
	if err != nil {
		return report, fmt.Errorf("save curated snapshot: %w", err)
	}
	report.CuratedSHA256, err = p.deps.Hasher.Hash(curatedData)
	if err != nil {
		return report, fmt.Errorf("hash curated snapshot: %w", err)
	}
	logger.Info("snapshots written",
		zap.String("raw_path", p.cfg.RawPath),
		zap.String("curated_path", p.cfg.CuratedPath),
		zap.String("sha256", report.CuratedSHA256),
	)

	report, err = p.deliver(ctx, logger, report, result.Curated, rawData, curatedData)
	report.FinishedAt = p.deps.Clock.Now()
	return report, err
}

func (p *Pipeline) deliver(
	ctx context.Context,
	logger *zap.Logger,
	report Report,
	curated []crawler.CuratedEntity,
	rawData, curatedData []byte,
) (Report, error) {
	ctx, span := tracer.Start(ctx, "pipeline.deliver")
	defer span.End()
	sinks := p.deps.Sinks

	if sinks.Blobs != nil {
		var err error
		if rawData != nil {
			report.RawURI, err = sinks.Blobs.PutObject(ctx, p.blobPath(report.RunID, p.cfg.RawPath), snapshotContentType, bytes.NewReader(rawData))
			if err != nil {
				return report, fmt.Errorf("%w: mirror raw snapshot: %w", ErrSink, err)
			}
		}
		report.CuratedURI, err = sinks.Blobs.PutObject(ctx, p.blobPath(report.RunID, p.cfg.CuratedPath), snapshotContentType, bytes.NewReader(curatedData))
		if err != nil {
			return report, fmt.Errorf("%w: mirror curated snapshot: %w", ErrSink, err)
		}
		logger.Info("snapshots mirrored", zap.String("raw_uri", report.RawURI), zap.String("curated_uri", report.CuratedURI))
	}

	if sinks.Users != nil {
		n, err := sinks.Users.UpsertUsers(ctx, curated)
		if err != nil {
			return report, fmt.Errorf("%w: upsert users: %w", ErrSink, err)
		}
		report.UsersUpserted = n
		logger.Info("curated users upserted", zap.Int("rows", n))
	}

	if sinks.Publisher != nil && p.cfg.Topic != "" {
		event := SnapshotReady{
			RunID:       report.RunID,
			CuratedPath: p.cfg.CuratedPath,
			URI:         report.CuratedURI,
			SHA256:      report.CuratedSHA256,
			Summary:     report.Summary,
			FinishedAt:  p.deps.Clock.Now(),
		}
		id, err := sinks.Publisher.Publish(ctx, p.cfg.Topic, event)
		if err != nil {
			return report, fmt.Errorf("%w: publish snapshot notification: %w", ErrSink, err)
		}
		report.MessageID = id
		logger.Info("snapshot notification published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
	}
	return report, nil
}

func (p *Pipeline) blobPath(runID, local string) string {
	return path.Join(runID, filepath.Base(local))
}
