// Package upload stores user-supplied input images and returns a URL the
// inference provider can read them from.
package upload

import (
	"context"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meshrelay/internal/domain"
	"meshrelay/internal/infra"
	"meshrelay/internal/storage"
)

const (
	keyPrefix       = "uploads"
	defaultFilename = "upload"
	maxFilenameLen  = 128
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Options configures a Relay.
type Options struct {
	Store  storage.Store
	TTL    time.Duration
	Logger *infra.Logger
	NewID  func() string
}

// Relay writes each upload to a fresh key. Signed URLs are never renewed.
type Relay struct {
	store  storage.Store
	ttl    time.Duration
	logger zerolog.Logger
	newID  func() string
}

func NewRelay(opts Options) *Relay {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return &Relay{
		store:  opts.Store,
		ttl:    ttl,
		logger: infra.LoggerOrDiscard(opts.Logger),
		newID:  newID,
	}
}

// Upload stores blob and returns its signed location.
func (r *Relay) Upload(ctx context.Context, blob *domain.Blob) (*domain.UploadedAsset, error) {
	if blob.Empty() {
		return nil, domain.Validation(domain.ErrMissingAsset, "No image file provided")
	}
	contentType := strings.TrimSpace(blob.ContentType)
	if contentType == "" {
		contentType = http.DetectContentType(blob.Data)
	}
	key := path.Join(keyPrefix, r.newID(), SanitizeFilename(blob.Filename))

	if err := r.store.Put(ctx, key, blob.Data, contentType); err != nil {
		return nil, domain.Transport(err, "Failed to upload image")
	}
	url, expiresAt, err := r.store.SignedURL(ctx, key, r.ttl)
	if err != nil {
		return nil, domain.Transport(err, "Failed to sign upload URL")
	}

	r.logger.Info().
		Str("key", key).
		Int("size", len(blob.Data)).
		Str("content_type", contentType).
		Time("expires_at", expiresAt).
		Msg("upload stored")

	return &domain.UploadedAsset{
		Key:         key,
		URL:         url,
		ContentType: contentType,
		Size:        int64(len(blob.Data)),
		ExpiresAt:   expiresAt,
	}, nil
}

// SanitizeFilename keeps the base name's safe characters.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return defaultFilename
	}
	if len(name) > maxFilenameLen {
		name = name[len(name)-maxFilenameLen:]
	}
	return name
}
