// Package bootstrap assembles the relay's components from configuration.
// Both the API server and the reconciler worker start from here.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"meshrelay/internal/adapter/repo"
	"meshrelay/internal/cache"
	"meshrelay/internal/catalog"
	"meshrelay/internal/http/handlers"
	"meshrelay/internal/idempotency"
	"meshrelay/internal/infra"
	"meshrelay/internal/infra/credentials"
	"meshrelay/internal/infra/geoip"
	"meshrelay/internal/metrics"
	"meshrelay/internal/prediction"
	"meshrelay/internal/presenter"
	"meshrelay/internal/providers/replicate"
	"meshrelay/internal/storage"
	"meshrelay/internal/upload"
)

// Components holds everything a process needs. Pool, SQL, Ledger, Redis,
// Files and Geo are nil when the matching setting is absent.
type Components struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Catalog   *catalog.Catalog
	Pool      *pgxpool.Pool
	SQL       *infra.SQLRunner
	Ledger    *repo.PredictionRepositoryPG
	Redis     *redis.Client
	Store     storage.Store
	Files     *storage.FileStore
	Metrics   *metrics.Collector
	Provider  *replicate.Client
	Service   *prediction.Service
	Presenter *presenter.Presenter
	Geo       *geoip.Resolver
}

// Build connects optional backends and wires the prediction service. On
// error every resource opened so far is released.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger, Metrics: metrics.NewCollector()}
	fail := func(err error) (*Components, error) {
		c.Close()
		return nil, err
	}

	var err error
	c.Catalog, err = catalog.New(cfg.ModelVersions)
	if err != nil {
		return fail(err)
	}

	c.Pool, err = infra.NewDBPool(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if c.Pool != nil {
		c.SQL = infra.NewSQLRunner(c.Pool, logger)
		c.Ledger = repo.NewPredictionRepository(c.SQL)
		if err := c.Ledger.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
	}

	c.Redis, err = infra.NewRedisClient(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	c.Store, err = storage.New(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if fs, ok := c.Store.(*storage.FileStore); ok {
		c.Files = fs
	}

	c.Geo, err = geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		return fail(err)
	}

	c.Provider = replicate.NewClient(replicate.Options{
		APIKey:  resolveToken(ctx, cfg, c.SQL, logger),
		BaseURL: cfg.ReplicateBaseURL,
		Logger:  &logger,
	})

	opts := prediction.Options{
		Catalog:      c.Catalog,
		Provider:     c.Provider,
		Uploader:     upload.NewRelay(upload.Options{Store: c.Store, TTL: cfg.SignedURLTTL, Logger: &logger}),
		Metrics:      c.Metrics,
		PollInterval: cfg.PollInterval,
		PollMaxWait:  cfg.PollMaxWait,
		Logger:       &logger,
	}
	if c.Ledger != nil {
		opts.Ledger = c.Ledger
	}
	if c.Redis != nil {
		opts.Idempotency = idempotency.NewRedisStore(c.Redis, cfg.IdempotencyTTL, &logger)
		opts.Cache = cache.NewPredictions(c.Redis, cfg.ResultCacheTTL, &logger)
	} else {
		opts.Idempotency = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}
	c.Service = prediction.NewService(opts)

	c.Presenter = presenter.New(presenter.Options{Catalog: c.Catalog, Logger: &logger})
	return c, nil
}

// resolveToken prefers REPLICATE_API_TOKEN and falls back to the token
// stored with cmd/providerkey.
func resolveToken(ctx context.Context, cfg *infra.Config, sql *infra.SQLRunner, logger zerolog.Logger) string {
	if cfg.HasInferenceCredential() {
		return cfg.ReplicateAPIToken
	}
	if sql == nil {
		logger.Warn().Msg("REPLICATE_API_TOKEN is not set; submissions will fail")
		return ""
	}
	store := credentials.NewStore(sql)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to ensure credential schema")
		return ""
	}
	token, err := store.ReplicateAPIToken(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load replicate token from store")
		return ""
	}
	if strings.TrimSpace(token) == "" {
		logger.Warn().Msg("no replicate token configured or stored; submissions will fail")
	}
	return token
}

// HealthChecks returns probes for the configured backends.
func (c *Components) HealthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if c.Pool != nil {
		checks["database"] = func(ctx context.Context) error { return c.Pool.Ping(ctx) }
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases every backend connection.
func (c *Components) Close() {
	if c == nil {
		return
	}
	if c.Geo != nil {
		if err := c.Geo.Close(); err != nil {
			c.Logger.Warn().Err(err).Msg("close geoip database")
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn().Err(err).Msg("close redis")
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

func (c *Components) String() string {
	return fmt.Sprintf("storage=%s database=%t redis=%t geoip=%t", c.Config.StorageDriver, c.Pool != nil, c.Redis != nil, c.Geo != nil)
}
