package blob

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by Get for absent keys.
var ErrObjectNotFound = errors.New("object not found")

// Store is the blob tier consumed by the hybrid store: object put/get/
// delete by key, prefix delete for cleanup, and presigned GET issuance.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
