// Package store defines the TTL key-value contract the session core runs on,
// with a Redis implementation for production and an in-memory one for tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// KV is a key-value store with per-key time-to-live. All session, index, and
// blacklist state lives behind this interface; implementations must be safe
// for concurrent use across many request handlers and process instances.
//
// A ttl of zero means the key does not expire. Infrastructure failures are
// returned as-is and must not be conflated with ErrNotFound: the lifecycle
// manager treats "absent" as an authentication outcome and "unavailable" as a
// retryable infrastructure one.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetNX sets the key only if it does not exist. Returns true when the key
	// was set. Used for the per-session lock.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
