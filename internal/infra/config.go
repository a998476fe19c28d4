package infra

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorageDriverFilesystem = "filesystem"
	StorageDriverS3         = "s3"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	Port          string `env:"PORT" envDefault:"8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	ReplicateAPIToken string            `env:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL  string            `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com/v1"`
	ModelVersions     map[string]string `env:"MODEL_VERSIONS" envSeparator:"," envKeyValSeparator:"="`

	StorageDriver     string        `env:"STORAGE_DRIVER" envDefault:"filesystem"`
	StoragePath       string        `env:"STORAGE_PATH" envDefault:"./storage"`
	StorageSigningKey string        `env:"STORAGE_SIGNING_KEY"`
	S3Bucket          string        `env:"S3_BUCKET"`
	S3Region          string        `env:"S3_REGION"`
	S3Endpoint        string        `env:"S3_ENDPOINT"`
	S3AccessKeyID     string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `env:"S3_SECRET_ACCESS_KEY"`
	SignedURLTTL      time.Duration `env:"SIGNED_URL_TTL" envDefault:"1h"`

	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	PollMaxWait  time.Duration `env:"POLL_MAX_WAIT" envDefault:"10m"`

	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	ResultCacheTTL time.Duration `env:"RESULT_CACHE_TTL" envDefault:"24h"`

	ReconcileInterval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15s"`
	ReconcileStaleAfter time.Duration `env:"RECONCILE_STALE_AFTER" envDefault:"30s"`
	ReconcileBatchSize  int           `env:"RECONCILE_BATCH_SIZE" envDefault:"20"`

	GeoIPDBPath        string   `env:"GEOIP_DB_PATH"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	RateLimitPerMin    int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	MaxUploadBytes     int64    `env:"MAX_UPLOAD_BYTES" envDefault:"33554432"`

	HTTPReadTimeoutSeconds  int `env:"HTTP_READ_TIMEOUT_SECONDS" envDefault:"15"`
	HTTPWriteTimeoutSeconds int `env:"HTTP_WRITE_TIMEOUT_SECONDS" envDefault:"120"`
	HTTPIdleTimeoutSeconds  int `env:"HTTP_IDLE_TIMEOUT_SECONDS" envDefault:"60"`

	HTTPReadTimeout  time.Duration `env:"-"`
	HTTPWriteTimeout time.Duration `env:"-"`
	HTTPIdleTimeout  time.Duration `env:"-"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.HTTPReadTimeout = time.Second * time.Duration(cfg.HTTPReadTimeoutSeconds)
	cfg.HTTPWriteTimeout = time.Second * time.Duration(cfg.HTTPWriteTimeoutSeconds)
	cfg.HTTPIdleTimeout = time.Second * time.Duration(cfg.HTTPIdleTimeoutSeconds)

	cfg.ReplicateAPIToken = strings.TrimSpace(cfg.ReplicateAPIToken)
	cfg.ReplicateBaseURL = strings.TrimRight(strings.TrimSpace(cfg.ReplicateBaseURL), "/")
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageDriverFilesystem
	}
	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = "8080"
	}

	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is invalid: %w", err)
	}

	switch cfg.StorageDriver {
	case StorageDriverFilesystem:
		if strings.TrimSpace(cfg.StoragePath) == "" {
			return nil, fmt.Errorf("STORAGE_PATH is required for the filesystem driver")
		}
	case StorageDriverS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required for the s3 driver")
		}
		if cfg.S3Region == "" {
			return nil, fmt.Errorf("S3_REGION is required for the s3 driver")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollMaxWait < 0 {
		cfg.PollMaxWait = 0
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 15 * time.Second
	}
	if cfg.ReconcileStaleAfter <= 0 {
		cfg.ReconcileStaleAfter = 30 * time.Second
	}
	if cfg.ReconcileBatchSize <= 0 {
		cfg.ReconcileBatchSize = 20
	}

	return cfg, nil
}

// HasInferenceCredential reports whether outbound prediction calls can be made.
func (c *Config) HasInferenceCredential() bool {
	return c != nil && c.ReplicateAPIToken != ""
}
