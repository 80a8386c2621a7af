// Package artifact provides access to the blob store holding built site
// archives. The deployment service only ever reads from it; objects are
// written by the external workflow run that produced them. Backends may
// expire objects at any time, which readers observe as ErrNotFound.
package artifact

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get when no object exists under the key,
// including objects that have been expired by the backend.
var ErrNotFound = errors.New("artifact not found")

// Store defines the interface for artifact storage backends.
type Store interface {
	// Put stores an object under the given key. The reader's content is
	// consumed and stored; its SHA256 checksum is computed during storage
	// and becomes the object's ETag.
	Put(ctx context.Context, key, contentType string, reader io.Reader) (Info, error)

	// Get retrieves an object by key. The caller is responsible for
	// closing the returned Object's Body.
	Get(ctx context.Context, key string) (*Object, error)

	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
}

// Info describes a stored object.
type Info struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	ETag        string    `json:"etag"` // SHA256 hex digest of the content
}

// Object is a retrieved artifact with its content stream.
type Object struct {
	Info
	Body io.ReadCloser
}
