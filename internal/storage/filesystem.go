package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"meshrelay/internal/domain"
)

// FilesRoute is the path prefix the HTTP layer serves FileStore objects on.
const FilesRoute = "/files/"

var (
	ErrInvalidSignature = errors.New("storage: invalid signature")
	ErrURLExpired       = errors.New("storage: url expired")
)

// FileStoreOptions configures signed URL generation.
type FileStoreOptions struct {
	PublicBaseURL string
	// SigningKey signs download URLs. A random key is generated when empty,
	// which invalidates outstanding URLs on restart.
	SigningKey string
	Now        func() time.Time
}

// FileStore persists objects onto the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available; objects are served back through FilesRoute.
type FileStore struct {
	basePath string
	baseURL  string
	key      []byte
	now      func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string, opts FileStoreOptions) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	key := []byte(strings.TrimSpace(opts.SigningKey))
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("storage: generate signing key: %w", err)
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		key:      key,
		now:      now,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data at key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s == nil {
		return errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	return nil
}

// SignedURL returns an absolute FilesRoute URL valid for ttl.
func (s *FileStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return "", time.Time{}, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := s.now().Add(ttl).UTC().Truncate(time.Second)
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	q := url.Values{}
	q.Set("expires", exp)
	q.Set("sig", s.sign(cleanKey, exp))
	u := s.baseURL + FilesRoute + escapeKey(cleanKey) + "?" + q.Encode()
	return u, expiresAt, nil
}

// Verify checks a signature produced by SignedURL.
func (s *FileStore) Verify(key, expires, sig string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return ErrInvalidSignature
	}
	expected := s.sign(cleanKey, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().Unix() > unix {
		return ErrURLExpired
	}
	return nil
}

// Open returns the stored object for key.
func (s *FileStore) Open(key string) (*os.File, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open file: %w", err)
	}
	return f, nil
}

func (s *FileStore) path(key string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey)), nil
}

func (s *FileStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key + "\n" + expires))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
