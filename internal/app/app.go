// Package app wires configuration into a ready-to-use import service.
// Both the HTTP server and the one-shot importer build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/trail-importer/internal/api"
	"github.com/trail-importer/internal/circuitbreaker"
	"github.com/trail-importer/internal/config"
	"github.com/trail-importer/internal/dedup"
	"github.com/trail-importer/internal/ingest"
	"github.com/trail-importer/internal/job"
	"github.com/trail-importer/internal/logging"
	"github.com/trail-importer/internal/models"
	"github.com/trail-importer/internal/quality"
	"github.com/trail-importer/internal/ratelimit"
	"github.com/trail-importer/internal/retry"
	"github.com/trail-importer/internal/source"
	"github.com/trail-importer/internal/storage"
)

// App holds every long-lived connection and the service built on them
type App struct {
	Config     *config.Config
	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB
	Trails     *storage.TrailRepository
	Jobs       *storage.ImportJobRepository
	Duplicates *storage.DuplicateRepository
	Registry   *source.Registry
	Breakers   *circuitbreaker.Manager
	Service    *job.ImportService
}

// LoggerConfig converts the logging section into a logger configuration
func LoggerConfig(cfg config.LoggingConfig) *logging.Config {
	return &logging.Config{
		Level:      logging.ParseLogLevel(cfg.Level),
		Format:     logging.ParseLogFormat(cfg.Format),
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// New connects to every configured backend and builds the import service.
// On error, connections opened so far are closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	var err error

	a.Postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	logging.Info("Connected to PostgreSQL")

	a.Redis, err = storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	logging.Info("Connected to Redis")

	a.Trails = storage.NewTrailRepository(a.Postgres)
	a.Jobs = storage.NewImportJobRepository(a.Postgres)
	a.Duplicates = storage.NewDuplicateRepository(a.Postgres)

	deps := job.Dependencies{
		Jobs:       a.Jobs,
		Cache:      storage.NewJobStatusCache(a.Redis.Client(), cfg.Database.Redis.StatusTTL),
		Trails:     a.Trails,
		Finder:     a.Trails,
		Duplicates: a.Duplicates,
	}

	if cfg.Database.ClickHouse.Enabled {
		a.ClickHouse, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			return fmt.Errorf("failed to connect to clickhouse: %w", err)
		}
		deps.Rejections = storage.NewRejectionLog(a.ClickHouse)
		logging.Info("Connected to ClickHouse")
	}

	if cfg.Archive.Enabled {
		archive, archiveErr := storage.NewReportArchive(ctx, &cfg.Archive)
		if archiveErr != nil {
			return fmt.Errorf("failed to configure report archive: %w", archiveErr)
		}
		deps.Archive = archive
	}

	a.Registry = NewRegistry(cfg)
	deps.Registry = a.Registry

	fetcher, err := a.newFetcher(cfg)
	if err != nil {
		return err
	}
	deps.Fetcher = fetcher

	deps.Scorer, err = quality.NewScorer(quality.Weights{
		Description: cfg.Quality.DescriptionWeight,
		Location:    cfg.Quality.LocationWeight,
		Length:      cfg.Quality.LengthWeight,
	}, cfg.Quality.MinDescriptionLength)
	if err != nil {
		return fmt.Errorf("invalid quality weights: %w", err)
	}

	opts, err := Options(cfg)
	if err != nil {
		return err
	}

	a.Service, err = job.NewImportService(deps, opts)
	return err
}

// NewRegistry registers an adapter for every enabled source
func NewRegistry(cfg *config.Config) *source.Registry {
	ua := cfg.Fetch.UserAgent
	var adapters []source.Adapter
	if s := cfg.Sources.HikingProject; s.Enabled {
		adapters = append(adapters, source.NewHikingProject(s.BaseURL, s.CredentialName, ua))
	}
	if s := cfg.Sources.OpenStreetMap; s.Enabled {
		adapters = append(adapters, source.NewOpenStreetMap(s.BaseURL, ua))
	}
	if s := cfg.Sources.Parks; s.Enabled {
		adapters = append(adapters, source.NewParks(s.BaseURL, s.CredentialName, ua))
	}
	return source.NewRegistry(adapters...)
}

func (a *App) newFetcher(cfg *config.Config) (*source.Fetcher, error) {
	var quota source.Quota
	if cfg.Fetch.DailyQuota > 0 {
		q, err := ratelimit.NewSourceQuota(&ratelimit.SourceQuotaConfig{
			Redis:      a.Redis.Client(),
			DailyLimit: cfg.Fetch.DailyQuota,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create source quota: %w", err)
		}
		quota = q
	}

	a.Breakers = circuitbreaker.NewManager(nil)
	creds := source.NewEnvKeyringStore(cfg.Credentials.KeyringEnabled, cfg.Credentials.KeyringService)

	return source.NewFetcher(creds, a.Breakers, quota, source.FetcherConfig{
		Timeout:           cfg.Fetch.Timeout,
		InterRequestDelay: cfg.Fetch.InterRequestDelay,
		MaxAttempts:       cfg.Fetch.MaxAttempts,
		Backoff:           retry.PowerOfTwoSeconds,
	}), nil
}

// Options maps configuration onto pipeline options
func Options(cfg *config.Config) (job.Options, error) {
	opts := job.DefaultOptions()
	opts.Defaults = models.ImportDefaults{
		TrailsPerSource: cfg.Import.TrailsPerSource,
		BatchSize:       cfg.Import.BatchSize,
		MinQualityScore: cfg.Import.MinQualityScore,
	}
	opts.InterBatchDelay = cfg.Import.InterBatchDelay
	opts.InterSourceDelay = cfg.Import.InterSourceDelay
	opts.MaxRecordedFailures = cfg.Import.MaxRecordedFailures
	opts.Dedup = dedup.Config{
		BoxDelta:      cfg.Dedup.BoxDelta,
		Threshold:     cfg.Dedup.Threshold,
		MaxCandidates: dedup.DefaultMaxCandidates,
	}
	opts.Insert = ingest.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff: retry.ExponentialBackoff(&retry.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.BaseDelay,
			MaxDelay:     time.Minute,
			Multiplier:   2.0,
		}),
	}

	if cfg.Fetch.RegionsFile != "" {
		specs, err := config.LoadRegions(cfg.Fetch.RegionsFile)
		if err != nil {
			return opts, err
		}
		regions := make([]models.Region, 0, len(specs))
		for _, s := range specs {
			regions = append(regions, models.Region{Name: s.Name, Lat: s.Lat, Lng: s.Lng, RadiusMiles: s.RadiusMiles})
		}
		opts.Regions = regions
	}
	return opts, nil
}

// HealthChecks returns a ping per connected backend
func (a *App) HealthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"postgres": a.Postgres.Ping,
		"redis":    a.Redis.Ping,
	}
	if a.ClickHouse != nil {
		checks["clickhouse"] = a.ClickHouse.Ping
	}
	return checks
}

// Close releases every open connection
func (a *App) Close() {
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			logging.WithError(err).Warn("Failed to close ClickHouse")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logging.WithError(err).Warn("Failed to close Redis")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
