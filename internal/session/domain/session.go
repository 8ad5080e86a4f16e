// Package domain holds the session record and the lifecycle constants shared
// with deployed clients. The TTLs and the session bound are interop contracts
// and must not be made configurable.
package domain

import "time"

const (
	// AccessTokenTTL is the fixed lifetime of an access token.
	AccessTokenTTL = time.Hour
	// RefreshTokenTTL is the fixed lifetime of a refresh token and of the
	// session record it belongs to.
	RefreshTokenTTL = 30 * 24 * time.Hour
	// MaxSessionsPerUser bounds live sessions per (user, guard). The oldest
	// session is evicted when a login would exceed it.
	MaxSessionsPerUser = 5
)

// Guard is an audience scope partitioning otherwise-identical session state.
// The same user may hold independent session sets under different guards.
type Guard string

const (
	// GuardAdmin is the back-office surface.
	GuardAdmin Guard = "admin"
	// GuardUser is the end-user (patient-facing) surface.
	GuardUser Guard = "user"
)

// Valid reports whether g is a known guard.
func (g Guard) Valid() bool {
	return g == GuardAdmin || g == GuardUser
}

// Session binds a user, a device, and the current rotating credential pair.
// One record exists per (user, device) authentication event; rotation
// replaces fields in place under the same ID.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Guard        Guard     `json:"guard"`
	DeviceID     string    `json:"deviceId"`
	RefreshToken string    `json:"refreshToken"`
	CSRFToken    string    `json:"csrfToken"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	// WasUsed marks the current refresh token as already redeemed once.
	// A session with WasUsed set must never refresh again; a later attempt
	// with its token is a replay.
	WasUsed bool `json:"wasUsed"`
	// Revoked sessions are tombstoned in place until TTL expiry so replay
	// attempts can still be observed and classified as breaches.
	Revoked   bool      `json:"revoked"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session's refresh lifetime has passed at t.
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && t.After(s.ExpiresAt)
}

// RemainingTTL returns the time left until ExpiresAt, or zero if passed.
// Tombstone writes use this so a revoked record never outlives its TTL.
func (s *Session) RemainingTTL(t time.Time) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	d := s.ExpiresAt.Sub(t)
	if d < 0 {
		return 0
	}
	return d
}
