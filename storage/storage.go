// Package storage keeps uploaded files out of the database. Records hold
// only the key a Store returned.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"expertflow/apperr"
)

var (
	ErrNotFound = apperr.NotFound("storage: object not found")
	// ErrPresignUnsupported is returned by stores that can only stream.
	ErrPresignUnsupported = errors.New("storage: presigned urls not supported")
)

// Store is a flat blob store addressed by key.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NewKey returns a fresh key under prefix partitioned by day, e.g.
// deliverables/2026/3/14/<uuid>.
func NewKey(prefix string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%d/%d/%v", prefix, now.Year(), now.Month(), now.Day(), uuid.New())
}
