// Package app builds the pipeline and its sinks from configuration and owns
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/catalog"
	"github.com/JakeFAU/userdir-pipeline/internal/clock/system"
	"github.com/JakeFAU/userdir-pipeline/internal/config"
	"github.com/JakeFAU/userdir-pipeline/internal/crawler"
	collyfetcher "github.com/JakeFAU/userdir-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/userdir-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/userdir-pipeline/internal/id/uuid"
	"github.com/JakeFAU/userdir-pipeline/internal/pipeline"
	"github.com/JakeFAU/userdir-pipeline/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/userdir-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/userdir-pipeline/internal/server"
	gcsstorage "github.com/JakeFAU/userdir-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/userdir-pipeline/internal/storage/local"
	memorystorage "github.com/JakeFAU/userdir-pipeline/internal/storage/memory"
	pgstore "github.com/JakeFAU/userdir-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/userdir-pipeline/internal/telemetry"
)

const closeTimeout = 10 * time.Second

// App holds the long-lived services of one command invocation.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	pipeline  *pipeline.Pipeline
	gcsClient *storage.Client
	users     *pgstore.UserStore
	publisher *gcppublisher.Publisher
	tracer    *sdktrace.TracerProvider
}

// Build wires the crawler, curation and the configured sinks. Sinks that are not
// configured are left out of the pipeline.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.Int("target", cfg.Crawl.TargetCount),
		zap.String("storage", cfg.Storage.Provider),
	)

	cutoff, err := cfg.CutoffTime()
	if err != nil {
		return nil, err
	}
	a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	var sinks pipeline.Sinks
	if sinks.Blobs, err = a.setupStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err = a.setupDatabase(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.users != nil {
		sinks.Users = a.users
	}
	if err = a.setupPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.publisher != nil {
		sinks.Publisher = a.publisher
	}

	clock := system.New()
	a.pipeline, err = pipeline.New(pipeline.Config{
		Target:      cfg.Crawl.TargetCount,
		RawPath:     cfg.Output.RawPath,
		CuratedPath: cfg.Output.CuratedPath,
		Cutoff:      cutoff,
		Topic:       cfg.PubSub.TopicName,
	}, pipeline.Deps{
		Crawler: newCrawler(cfg, clock, logger),
		Hasher:  sha256.New(),
		IDs:     uuid.New(),
		Clock:   clock,
		Sinks:   sinks,
		Logger:  logger.Named("pipeline"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	return a, nil
}

func newCrawler(cfg config.Config, clock *system.Clock, logger *zap.Logger) *crawler.Crawler {
	source := collyfetcher.New(collyfetcher.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		ListingPath: cfg.Upstream.ListingPath,
		DetailPath:  cfg.Upstream.DetailPath,
		Token:       cfg.Upstream.Token,
		UserAgent:   cfg.Upstream.UserAgent,
		PageSize:    cfg.Upstream.PageSize,
		Timeout:     config.Seconds(cfg.Upstream.TimeoutSeconds),
	})
	limiter := ratelimit.New(ratelimit.Config{
		Padding:  config.Seconds(cfg.Crawl.QuotaPaddingSeconds),
		Fallback: config.Seconds(cfg.Crawl.QuotaFallbackSeconds),
	}, clock, clock, logger.Named("ratelimit"))
	pages := crawler.NewPageFetcher(source, limiter, clock, crawler.PageFetcherConfig{
		ThrottleCooldown: config.Seconds(cfg.Crawl.ThrottleCooldownSeconds),
		ServerBackoff:    config.Seconds(cfg.Crawl.ServerBackoffSeconds),
	}, logger.Named("pages"))
	details := crawler.NewDetailFetcher(source, limiter, logger.Named("details"))
	if cfg.Upstream.Token == "" {
		logger.Warn("no upstream token configured, anonymous quota applies")
	}
	return crawler.New(pages, details, crawler.Cursor(cfg.Crawl.SeedCursor), logger.Named("crawler"))
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case config.StorageGCS:
		a.logger.Info("using GCS snapshot mirror", zap.String("bucket", a.cfg.Storage.GCSBucket))
		var err error
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.StorageLocal:
		a.logger.Info("using local snapshot mirror", zap.String("path", a.cfg.Storage.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory snapshot mirror")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("snapshot mirror disabled")
		return nil, nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no DSN specified, skipping curated user store")
		return nil
	}
	store, err := pgstore.NewUserStore(ctx, pgstore.UserStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("user store init failed: %w", err)
	}
	a.users = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("user store schema: %w", err)
	}
	a.logger.Info("curated user store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, skipping notifications")
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = pub
	if err := pub.CheckTopic(ctx, a.cfg.PubSub.TopicName); err != nil {
		return fmt.Errorf("pubsub topic check failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Run executes a full acquisition run, serving metrics for its duration when
// metrics.addr is set.
func (a *App) Run(ctx context.Context) (pipeline.Report, error) {
	if a.cfg.Metrics.Addr != "" {
		srv := server.New(a.cfg.Metrics.Addr, a.logger.Named("metrics"))
		if _, err := srv.Start(); err != nil {
			return pipeline.Report{}, err
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				a.logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}
	return a.pipeline.Run(ctx)
}

// Recurate rebuilds the curated snapshot from the raw snapshot on disk.
func (a *App) Recurate(ctx context.Context) (pipeline.Report, error) {
	return a.pipeline.Recurate(ctx)
}

// Catalog opens the curated snapshot for lookups. A missing or malformed
// snapshot yields a degraded, empty catalog rather than an error.
func (a *App) Catalog() *catalog.Service {
	svc := catalog.New(a.cfg.Output.CuratedPath, a.logger.Named("catalog"))
	_ = svc.Init()
	return svc
}

// Close releases the sink clients.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.users != nil {
		a.users.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
