// Package revocation holds the access-token denylist. Tokens land here on
// logout and on breach cascades, stay until their natural expiry, and are
// consulted by the authentication middleware before any token is trusted.
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"medilink/backend/internal/store"
)

const blacklistPrefix = "blacklist"

// Blacklist is a TTL-keyed denylist of access tokens. Entries self-expire,
// so a blacklisted token is rejected exactly until its exp claim.
type Blacklist struct {
	kv store.KV
}

// NewBlacklist returns a Blacklist over kv.
func NewBlacklist(kv store.KV) *Blacklist {
	return &Blacklist{kv: kv}
}

// blacklistKey hashes the token so raw token values never appear as store
// keys (keys surface in Redis tooling and logs).
func blacklistKey(token string) string {
	h := sha256.Sum256([]byte(token))
	return blacklistPrefix + ":" + hex.EncodeToString(h[:])
}

// Add denylists token for ttl. A non-positive ttl means the token is already
// expired and there is nothing to do.
func (b *Blacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.kv.Set(ctx, blacklistKey(token), []byte("1"), ttl)
}

// Contains reports whether token is currently denylisted. Store failures are
// returned so the caller can fail closed on the authentication path.
func (b *Blacklist) Contains(ctx context.Context, token string) (bool, error) {
	_, err := b.kv.Get(ctx, blacklistKey(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
