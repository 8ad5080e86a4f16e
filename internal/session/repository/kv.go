// Package repository maps session records and their two indices onto the TTL
// key-value store. All key composition lives here so the cross-namespace
// invariants stay enforceable in one place; callers never build keys.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medilink/backend/internal/session/domain"
	"medilink/backend/internal/store"
)

// Key namespaces. Guards partition every namespace, so two guards can hold
// fully independent session sets for the same user.
const (
	sessionPrefix      = "session"
	refreshPrefix      = "refresh"
	userSessionsPrefix = "usersessions"
)

// Sessions stores session records by ID.
type Sessions struct {
	kv store.KV
}

// NewSessions returns a session record repository over kv.
func NewSessions(kv store.KV) *Sessions {
	return &Sessions{kv: kv}
}

func sessionKey(guard domain.Guard, id string) string {
	return fmt.Sprintf("%s:%s:%s", sessionPrefix, guard, id)
}

// Get returns the session for id under guard, or nil if absent or expired.
// It returns an error only for store failures, never for missing records.
func (r *Sessions) Get(ctx context.Context, guard domain.Guard, id string) (*domain.Session, error) {
	b, err := r.kv.Get(ctx, sessionKey(guard, id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Put writes the session with the given TTL. Rotation and tombstoning both
// go through Put; the caller chooses the TTL (full refresh lifetime on
// creation/rotation, remaining lifetime on tombstone writes).
func (r *Sessions) Put(ctx context.Context, s *domain.Session, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, sessionKey(s.Guard, s.ID), b, ttl)
}

// RefreshIndex maps a refresh-token value to its session ID. Entries share
// their session's TTL and are deleted when the session is revoked, so a dead
// token can never resolve to a live-looking lookup.
type RefreshIndex struct {
	kv store.KV
}

// NewRefreshIndex returns a refresh-token index over kv.
func NewRefreshIndex(kv store.KV) *RefreshIndex {
	return &RefreshIndex{kv: kv}
}

func refreshKey(guard domain.Guard, token string) string {
	return fmt.Sprintf("%s:%s:%s", refreshPrefix, guard, token)
}

// Resolve returns the session ID the token points to, or "" if absent.
func (r *RefreshIndex) Resolve(ctx context.Context, guard domain.Guard, token string) (string, error) {
	b, err := r.kv.Get(ctx, refreshKey(guard, token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(b), nil
}

// Put binds token to sessionID for ttl.
func (r *RefreshIndex) Put(ctx context.Context, guard domain.Guard, token, sessionID string, ttl time.Duration) error {
	return r.kv.Set(ctx, refreshKey(guard, token), []byte(sessionID), ttl)
}

// Delete removes the binding for token.
func (r *RefreshIndex) Delete(ctx context.Context, guard domain.Guard, token string) error {
	return r.kv.Delete(ctx, refreshKey(guard, token))
}

// UserSessions holds the ordered list of live session IDs per (guard, user).
// The list is bounded by domain.MaxSessionsPerUser after every login, which
// keeps eviction and breach-cascade iteration cheap.
type UserSessions struct {
	kv store.KV
}

// NewUserSessions returns a user session index over kv.
func NewUserSessions(kv store.KV) *UserSessions {
	return &UserSessions{kv: kv}
}

func userSessionsKey(guard domain.Guard, userID string) string {
	return fmt.Sprintf("%s:%s:%s", userSessionsPrefix, guard, userID)
}

// Get returns the user's live session IDs in insertion order. A missing key
// is an empty list, not an error.
func (r *UserSessions) Get(ctx context.Context, guard domain.Guard, userID string) ([]string, error) {
	b, err := r.kv.Get(ctx, userSessionsKey(guard, userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Put replaces the user's session ID list. An empty list deletes the key so
// the index never holds stale empty entries.
func (r *UserSessions) Put(ctx context.Context, guard domain.Guard, userID string, ids []string, ttl time.Duration) error {
	key := userSessionsKey(guard, userID)
	if len(ids) == 0 {
		return r.kv.Delete(ctx, key)
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, key, b, ttl)
}
