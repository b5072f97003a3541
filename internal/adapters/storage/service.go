// Package storage provides a domain-agnostic adapter for S3-compatible
// object storage, used for archiving raw capture payloads.
package storage

import (
	"context"
	"io"
)

// ObjectStore defines the object storage operations modules may use.
type ObjectStore interface {
	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// Upload stores an object under the given key.
	Upload(ctx context.Context, bucket, key, contentType string, reader io.Reader, size int64) error

	// Download fetches an object. The caller closes the returned reader.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Delete removes an object.
	Delete(ctx context.Context, bucket, key string) error
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	IsMinIOEnabled() bool
}
