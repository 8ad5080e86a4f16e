// Package service implements the session lifecycle: login, refresh-token
// rotation with reuse detection, and logout. All session state lives in the
// TTL key-value store behind the repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medilink/backend/internal/audit"
	"medilink/backend/internal/device"
	identityservice "medilink/backend/internal/identity/service"
	"medilink/backend/internal/revocation"
	"medilink/backend/internal/security"
	"medilink/backend/internal/session/domain"
	"medilink/backend/internal/session/repository"
	"medilink/backend/internal/store"
)

// Sentinel errors for the lifecycle manager; the handler maps both to one
// generic Unauthorized response. Any other error is an infrastructure
// failure and maps to Service Unavailable.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRefreshTokenReuse = errors.New("refresh token reuse detected; all sessions revoked")
)

// Per-session lock parameters. The lock serializes refresh attempts for one
// session so the read-check-write rotation sequence cannot interleave.
const (
	lockTTL        = 3 * time.Second
	lockRetryDelay = 25 * time.Millisecond
	lockAttempts   = 40
)

// Credentials is the full token set minted by Login and Refresh. The handler
// splits it across transports: access and CSRF tokens in the response body,
// the refresh token in an HttpOnly cookie.
type Credentials struct {
	SessionID       string
	AccessToken     string
	RefreshToken    string
	CSRFToken       string
	AccessExpiresAt time.Time
}

// PrincipalResolver is the slice of the identity service the lifecycle needs:
// re-resolving a user at refresh time so deleted or disabled users stop
// rotating.
type PrincipalResolver interface {
	GetPrincipal(ctx context.Context, id string) (*identityservice.Principal, error)
}

// Manager owns session records, both indices, and the rotation protocol.
type Manager struct {
	sessions   *repository.Sessions
	refreshIdx *repository.RefreshIndex
	userIdx    *repository.UserSessions
	locks      store.KV
	principals PrincipalResolver
	issuer     *security.Issuer
	blacklist  *revocation.Blacklist
	emitter    audit.Emitter
	logger     zerolog.Logger

	clock func() time.Time
}

// NewManager returns a Manager over kv. emitter may be nil to disable audit
// events.
func NewManager(
	kv store.KV,
	principals PrincipalResolver,
	issuer *security.Issuer,
	blacklist *revocation.Blacklist,
	emitter audit.Emitter,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		sessions:   repository.NewSessions(kv),
		refreshIdx: repository.NewRefreshIndex(kv),
		userIdx:    repository.NewUserSessions(kv),
		locks:      kv,
		principals: principals,
		issuer:     issuer,
		blacklist:  blacklist,
		emitter:    emitter,
		logger:     logger,
		clock:      time.Now,
	}
}

// Login creates a session for an already-verified principal. It revokes any
// previous session from the same device, evicts the oldest session when the
// user is at the concurrent-session bound, and mints the full credential set.
func (m *Manager) Login(ctx context.Context, p *identityservice.Principal, guard domain.Guard, dev device.Context) (*Credentials, error) {
	if p == nil || !guard.Valid() {
		return nil, ErrUnauthorized
	}
	now := m.clock().UTC()
	deviceID := dev.Fingerprint()

	ids, err := m.userIdx.Get(ctx, guard, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load user session index: %w", err)
	}

	kept := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		s, err := m.sessions.Get(ctx, guard, id)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		if s == nil || s.Revoked || s.Expired(now) {
			// Index entry pointing at a dead session: prune it here rather
			// than letting it count against the session bound.
			m.logger.Warn().Str("guard", string(guard)).Str("userId", p.ID).Str("sessionId", id).
				Msg("user session index referenced a dead session")
			continue
		}
		if s.DeviceID == deviceID {
			// Same device logging in again replaces its old session. Failure
			// here must not abort the login; the stale session stays indexed
			// and ages out.
			if err := m.revokeSession(ctx, s, now); err != nil {
				m.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("same-device session cleanup failed")
				kept = append(kept, s)
			}
			continue
		}
		kept = append(kept, s)
	}

	for len(kept) >= domain.MaxSessionsPerUser {
		victim, rest := oldestSession(kept)
		if err := m.revokeSession(ctx, victim, now); err != nil {
			return nil, fmt.Errorf("evict session %s: %w", victim.ID, err)
		}
		m.logger.Info().Str("guard", string(guard)).Str("userId", p.ID).Str("sessionId", victim.ID).
			Msg("session evicted at concurrent-session bound")
		audit.EmitAsync(m.emitter, ctx, m.newEvent(guard, p.ID, victim.DeviceID, victim.ID, audit.ActionEviction))
		kept = rest
	}

	refreshToken, err := security.IssueOpaqueSecret()
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	csrfToken, err := security.IssueOpaqueSecret()
	if err != nil {
		return nil, fmt.Errorf("issue csrf token: %w", err)
	}
	accessToken, accessExp, err := m.issuer.IssueAccess(p.ID, string(p.Role), string(guard))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	s := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       p.ID,
		Guard:        guard,
		DeviceID:     deviceID,
		RefreshToken: refreshToken,
		CSRFToken:    csrfToken,
		CreatedAt:    now,
		LastUsedAt:   now,
		ExpiresAt:    now.Add(domain.RefreshTokenTTL),
	}
	if err := m.sessions.Put(ctx, s, domain.RefreshTokenTTL); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if err := m.refreshIdx.Put(ctx, guard, refreshToken, s.ID, domain.RefreshTokenTTL); err != nil {
		return nil, fmt.Errorf("persist refresh index: %w", err)
	}
	newIDs := make([]string, 0, len(kept)+1)
	for _, k := range kept {
		newIDs = append(newIDs, k.ID)
	}
	newIDs = append(newIDs, s.ID)
	if err := m.userIdx.Put(ctx, guard, p.ID, newIDs, domain.RefreshTokenTTL); err != nil {
		return nil, fmt.Errorf("persist user session index: %w", err)
	}

	m.logger.Info().Str("guard", string(guard)).Str("userId", p.ID).Str("deviceId", deviceID).
		Str("sessionId", s.ID).Msg("session created")
	audit.EmitAsync(m.emitter, ctx, m.newEvent(guard, p.ID, deviceID, s.ID, audit.ActionLogin))

	return &Credentials{
		SessionID:       s.ID,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		CSRFToken:       csrfToken,
		AccessExpiresAt: accessExp,
	}, nil
}

// Refresh redeems a refresh token exactly once, rotating the session's
// refresh and CSRF tokens and minting a new access token. Presenting a
// consumed token, or any token of a revoked session, is a breach: every
// session the user holds under the guard is revoked and ErrRefreshTokenReuse
// is returned. Reuse is classified before the CSRF comparison, so a replayed
// token triggers the cascade even when it arrives with a stale or missing
// CSRF secret.
func (m *Manager) Refresh(ctx context.Context, guard domain.Guard, refreshToken, csrfToken string) (*Credentials, error) {
	if !guard.Valid() || refreshToken == "" || csrfToken == "" {
		return nil, ErrUnauthorized
	}
	sid, err := m.refreshIdx.Resolve(ctx, guard, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("resolve refresh token: %w", err)
	}
	if sid == "" {
		return nil, ErrUnauthorized
	}

	unlock, err := m.lockSession(ctx, guard, sid)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.sessions.Get(ctx, guard, sid)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sid, err)
	}
	if s == nil {
		return nil, ErrUnauthorized
	}
	now := m.clock().UTC()

	if s.Revoked || s.WasUsed {
		return nil, m.breach(ctx, guard, s)
	}
	if !security.SecretsEqual(refreshToken, s.RefreshToken) {
		// The token resolved through an index entry left behind by an
		// earlier rotation. Someone is redeeming a token that was already
		// redeemed once.
		return nil, m.breach(ctx, guard, s)
	}
	if !security.SecretsEqual(csrfToken, s.CSRFToken) {
		m.logger.Warn().Str("guard", string(guard)).Str("userId", s.UserID).Str("sessionId", s.ID).
			Msg("refresh rejected: csrf token mismatch")
		return nil, ErrUnauthorized
	}
	if s.Expired(now) {
		return nil, ErrUnauthorized
	}

	p, err := m.principals.GetPrincipal(ctx, s.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve principal %s: %w", s.UserID, err)
	}
	if p == nil {
		// User deleted or disabled since login. Tombstone the session so
		// later attempts fail fast.
		if err := m.revokeSession(ctx, s, now); err != nil {
			m.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("revoking session of missing user failed")
		}
		return nil, ErrUnauthorized
	}

	// Consume the old token before issuing replacements so a crash between
	// the two writes leaves the token unusable, never usable twice.
	s.WasUsed = true
	s.LastUsedAt = now
	if err := m.sessions.Put(ctx, s, s.RemainingTTL(now)); err != nil {
		return nil, fmt.Errorf("mark refresh token used: %w", err)
	}

	newRefresh, err := security.IssueOpaqueSecret()
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	newCSRF, err := security.IssueOpaqueSecret()
	if err != nil {
		return nil, fmt.Errorf("issue csrf token: %w", err)
	}
	accessToken, accessExp, err := m.issuer.IssueAccess(p.ID, string(p.Role), string(guard))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	rotated := *s
	rotated.RefreshToken = newRefresh
	rotated.CSRFToken = newCSRF
	rotated.WasUsed = false
	rotated.LastUsedAt = now
	rotated.ExpiresAt = now.Add(domain.RefreshTokenTTL)
	if err := m.sessions.Put(ctx, &rotated, domain.RefreshTokenTTL); err != nil {
		return nil, fmt.Errorf("persist rotated session: %w", err)
	}
	if err := m.refreshIdx.Put(ctx, guard, newRefresh, s.ID, domain.RefreshTokenTTL); err != nil {
		return nil, fmt.Errorf("persist refresh index: %w", err)
	}
	// The old token's index entry is left to age out. It now resolves to a
	// session whose stored token no longer matches, which is exactly how a
	// replay of the old token gets classified above.

	m.logger.Debug().Str("guard", string(guard)).Str("userId", s.UserID).Str("sessionId", s.ID).
		Msg("session rotated")
	audit.EmitAsync(m.emitter, ctx, m.newEvent(guard, s.UserID, s.DeviceID, s.ID, audit.ActionRefresh))

	return &Credentials{
		SessionID:       s.ID,
		AccessToken:     accessToken,
		RefreshToken:    newRefresh,
		CSRFToken:       newCSRF,
		AccessExpiresAt: accessExp,
	}, nil
}

// Logout revokes the authenticated user's session on the calling device and
// denylists the presented access token for its remaining lifetime. Logout is
// idempotent: a missing or already-revoked session is logged, not an error.
func (m *Manager) Logout(ctx context.Context, guard domain.Guard, userID string, dev device.Context, accessToken string) error {
	if !guard.Valid() || userID == "" {
		return ErrUnauthorized
	}
	now := m.clock().UTC()
	deviceID := dev.Fingerprint()

	ids, err := m.userIdx.Get(ctx, guard, userID)
	if err != nil {
		// A failed read is not an empty index. Leave the index alone so its
		// sessions stay visible to eviction and the breach cascade; the
		// device's session can still be revoked on a later attempt.
		m.logger.Warn().Err(err).Str("userId", userID).Msg("logout: loading user session index failed")
	} else {
		found := false
		kept := make([]string, 0, len(ids))
		for _, id := range ids {
			s, err := m.sessions.Get(ctx, guard, id)
			if err != nil {
				m.logger.Warn().Err(err).Str("sessionId", id).Msg("logout: loading session failed")
				kept = append(kept, id)
				continue
			}
			if s == nil || s.Revoked || s.Expired(now) {
				continue
			}
			if s.DeviceID != deviceID {
				kept = append(kept, id)
				continue
			}
			if err := m.revokeSession(ctx, s, now); err != nil {
				m.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("logout: revoking session failed")
				kept = append(kept, id)
				continue
			}
			found = true
		}
		// Rewrite only when the scan removed something.
		if len(kept) != len(ids) {
			if err := m.userIdx.Put(ctx, guard, userID, kept, domain.RefreshTokenTTL); err != nil {
				m.logger.Warn().Err(err).Str("userId", userID).Msg("logout: updating user session index failed")
			}
		}
		if !found {
			m.logger.Warn().Str("guard", string(guard)).Str("userId", userID).Str("deviceId", deviceID).
				Msg("logout found no active session for device")
		}
	}

	if accessToken != "" {
		if claims, err := m.issuer.DecodeUnverified(accessToken); err == nil && claims.ExpiresAt != nil {
			if err := m.blacklist.Add(ctx, accessToken, claims.ExpiresAt.Time.Sub(now)); err != nil {
				m.logger.Warn().Err(err).Str("userId", userID).Msg("logout: blacklisting access token failed")
			}
		}
	}

	m.logger.Info().Str("guard", string(guard)).Str("userId", userID).Str("deviceId", deviceID).
		Msg("session logged out")
	audit.EmitAsync(m.emitter, ctx, m.newEvent(guard, userID, deviceID, "", audit.ActionLogout))
	return nil
}

// breach revokes every session the user holds under the guard and returns
// ErrRefreshTokenReuse. Partial cascade failures are logged; the request is
// rejected either way.
func (m *Manager) breach(ctx context.Context, guard domain.Guard, s *domain.Session) error {
	now := m.clock().UTC()
	m.logger.Error().Str("guard", string(guard)).Str("userId", s.UserID).Str("deviceId", s.DeviceID).
		Str("sessionId", s.ID).Msg("refresh token reuse detected; revoking all sessions for user")

	ids, err := m.userIdx.Get(ctx, guard, s.UserID)
	if err != nil {
		m.logger.Error().Err(err).Str("userId", s.UserID).Msg("breach cascade: loading user session index failed")
	}
	for _, id := range ids {
		victim, err := m.sessions.Get(ctx, guard, id)
		if err != nil {
			m.logger.Error().Err(err).Str("sessionId", id).Msg("breach cascade: loading session failed")
			continue
		}
		if victim == nil || victim.Revoked {
			continue
		}
		if err := m.revokeSession(ctx, victim, now); err != nil {
			m.logger.Error().Err(err).Str("sessionId", id).Msg("breach cascade: revoking session failed")
		}
	}
	// The replayed-at session may already be outside the index (e.g. evicted);
	// make sure its tombstone lands regardless.
	if !s.Revoked {
		if err := m.revokeSession(ctx, s, now); err != nil {
			m.logger.Error().Err(err).Str("sessionId", s.ID).Msg("breach cascade: revoking replayed session failed")
		}
	}
	if err := m.userIdx.Put(ctx, guard, s.UserID, nil, 0); err != nil {
		m.logger.Error().Err(err).Str("userId", s.UserID).Msg("breach cascade: clearing user session index failed")
	}

	audit.EmitAsync(m.emitter, ctx, m.newEvent(guard, s.UserID, s.DeviceID, s.ID, audit.ActionReuseBreach))
	return ErrRefreshTokenReuse
}

// revokeSession tombstones the session in place for its remaining lifetime,
// then removes its refresh index entry. The tombstone is written first so the
// token can never resolve to a live-looking session mid-revocation.
func (m *Manager) revokeSession(ctx context.Context, s *domain.Session, now time.Time) error {
	s.Revoked = true
	ttl := s.RemainingTTL(now)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := m.sessions.Put(ctx, s, ttl); err != nil {
		return fmt.Errorf("tombstone session: %w", err)
	}
	if err := m.refreshIdx.Delete(ctx, s.Guard, s.RefreshToken); err != nil {
		return fmt.Errorf("delete refresh index entry: %w", err)
	}
	return nil
}

// lockSession serializes refresh processing per session via SetNX. Returns a
// release func on success. The lock self-expires so a crashed holder cannot
// wedge the session.
func (m *Manager) lockSession(ctx context.Context, guard domain.Guard, sessionID string) (func(), error) {
	key := fmt.Sprintf("lock:%s:%s", guard, sessionID)
	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := m.locks.SetNX(ctx, key, []byte("1"), lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			return func() {
				if err := m.locks.Delete(context.Background(), key); err != nil {
					m.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("releasing session lock failed")
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return nil, fmt.Errorf("session lock contention timeout for %s", sessionID)
}

// oldestSession returns the session with the earliest CreatedAt (ties broken
// by lexicographically smallest ID) and the remaining sessions.
func oldestSession(sessions []*domain.Session) (*domain.Session, []*domain.Session) {
	oldest := sessions[0]
	for _, s := range sessions[1:] {
		if s.CreatedAt.Before(oldest.CreatedAt) ||
			(s.CreatedAt.Equal(oldest.CreatedAt) && s.ID < oldest.ID) {
			oldest = s
		}
	}
	rest := make([]*domain.Session, 0, len(sessions)-1)
	for _, s := range sessions {
		if s != oldest {
			rest = append(rest, s)
		}
	}
	return oldest, rest
}

func (m *Manager) newEvent(guard domain.Guard, userID, deviceID, sessionID, action string) *audit.Event {
	return &audit.Event{
		ID:        uuid.New().String(),
		Guard:     string(guard),
		UserID:    userID,
		DeviceID:  deviceID,
		SessionID: sessionID,
		Action:    action,
		Source:    "api",
		CreatedAt: m.clock().UTC(),
	}
}
