package domain

import "time"

// Blob is a binary payload received from a form upload.
type Blob struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Empty reports whether the blob carries no bytes.
func (b *Blob) Empty() bool {
	return b == nil || len(b.Data) == 0
}

// UploadedAsset describes an object written by the upload relay. The URL is
// only valid until ExpiresAt and is never renewed.
type UploadedAsset struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
	ExpiresAt   time.Time
}
