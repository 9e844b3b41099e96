// Package storage defines the ObjectStore interface for the cloud relay
// target.
package storage

import (
	"context"
	"io"
)

// ObjectStore is the durable destination for ingested media. Implementations
// take a caller-supplied key inside a folder namespace and return a public
// HTTPS URL for the stored object.
type ObjectStore interface {
	// Upload stores body under key and returns the object's durable URL.
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error

	// Type returns the backend type identifier ("s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
