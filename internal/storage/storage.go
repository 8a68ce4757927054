// Package storage mints signed upload/download URLs and deletes objects on
// the backing stores. One Provider per storage type.
package storage

import (
	"context"
	"time"
)

// URLExpiry is the lifetime of every minted URL. The issuing store enforces
// it; callers re-validate ExpiresAt locally before handing a URL out.
const URLExpiry = 30 * time.Minute

// SignedURL is a minted, expiring URL for one object operation.
type SignedURL struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the embedded timestamp has passed.
func (u SignedURL) Expired(now time.Time) bool {
	return now.After(u.ExpiresAt)
}

// Provider talks to one storage backend.
type Provider interface {
	SignUpload(ctx context.Context, bucket, object string) (SignedURL, error)
	SignDownload(ctx context.Context, bucket, object string) (SignedURL, error)
	DeleteObject(ctx context.Context, bucket, object string) error
}
