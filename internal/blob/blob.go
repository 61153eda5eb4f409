// Package blob defines the byte-range readable object store the ingestion
// core depends on, with local filesystem, Google Cloud Storage and Amazon S3
// backends.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the blob-store capability set used by the core.
type Store interface {
	// Put writes the full contents of r under key.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error

	// Get streams the whole object.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// GetRange streams bytes start..end inclusive. A range past the end of
	// the object is truncated.
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Backend names.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
	BackendS3    = "s3"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	LocalDir string
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// New opens the backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendLocal:
		return NewLocal(cfg.LocalDir)
	case BackendGCS:
		return NewGCS(ctx, cfg.Bucket, cfg.Prefix)
	case BackendS3:
		return NewS3(ctx, cfg.Bucket, cfg.Prefix, cfg.Region, cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

func validRange(start, end int64) error {
	if start < 0 || end < start {
		return fmt.Errorf("invalid byte range %d-%d", start, end)
	}
	return nil
}

func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
