// Package rawstore provides durable storage for original uploaded files,
// addressed by opaque keys.
package rawstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("raw object not found")

// Store is a key-addressed object store for raw uploaded bytes.
// Put overwrites any existing object under the same key. Delete is
// idempotent; deleting a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Key builds the storage key for a tenant's file.
func Key(tenantID, fileID string) string {
	return tenantID + "/" + fileID
}
