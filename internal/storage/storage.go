// Package storage writes uploaded inputs to object storage and hands out
// time-bounded URLs the inference provider can fetch them from.
package storage

import (
	"context"
	"fmt"
	"time"

	"meshrelay/internal/infra"
)

// Store is an object store addressed by slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// SignedURL returns a URL that grants read access to key until the
	// returned expiry.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

// New builds the store selected by STORAGE_DRIVER.
func New(ctx context.Context, cfg *infra.Config) (Store, error) {
	switch cfg.StorageDriver {
	case infra.StorageDriverS3:
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	case infra.StorageDriverFilesystem, "":
		return NewFileStore(cfg.StoragePath, FileStoreOptions{
			PublicBaseURL: cfg.PublicBaseURL,
			SigningKey:    cfg.StorageSigningKey,
		})
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.StorageDriver)
	}
}
