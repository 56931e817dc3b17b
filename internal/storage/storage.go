// Package storage persists downloaded artifacts. It defines the Store interface
// and implementations for local disk and S3.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/maauso/videogen-lro/internal/operation"
)

// Static errors for storage operations.
var (
	// ErrObjectNotFound is returned when a stored artifact does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrInvalidKey is returned for keys that are empty or escape the storage root.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrBucketRequired is returned when S3 storage is configured without a bucket.
	ErrBucketRequired = errors.New("storage: S3 bucket is required")
)

// Object describes a stored artifact.
type Object struct {
	// Key identifies the object within the store, e.g. "job-1/abc.mp4".
	Key string
	// Path is the local file path.
	Path string
	// URL is the remote location when the object was uploaded.
	URL         string
	ContentType string
	Size        int64
}

// Store persists artifacts.
type Store interface {
	// Save writes the artifact under prefix and returns where it was stored.
	Save(ctx context.Context, prefix string, artifact operation.Artifact) (Object, error)

	// Open returns a reader for a stored object.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a stored object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}
