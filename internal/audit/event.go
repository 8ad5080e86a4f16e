// Package audit defines security audit events for the session lifecycle and
// the emitter interface used to ship them (e.g. to Kafka).
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Actions recorded by the session lifecycle.
const (
	ActionLogin       = "session.login"
	ActionRefresh     = "session.refresh"
	ActionLogout      = "session.logout"
	ActionEviction    = "session.eviction"
	ActionReuseBreach = "session.reuse_breach"
	ActionRegister    = "identity.register"
)

// Event is a single audit record. Token values are never carried on events;
// sessions and users are referenced by ID only.
type Event struct {
	ID        string            `json:"id"`
	Guard     string            `json:"guard"`
	UserID    string            `json:"userId,omitempty"`
	DeviceID  string            `json:"deviceId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Action    string            `json:"action"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Emitter emits audit events. Best-effort; callers log and ignore errors.
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before
// shutting down OTel providers, so in-flight async emits have time to complete.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not
// blocked. Use from request handlers for fire-and-forget auditing; errors are
// logged.
//
// emitter and event may be nil; EmitAsync returns immediately without starting
// a goroutine. The goroutine uses context.Background() with emitTimeout so
// request cancellation does not abort an in-flight emit.
func EmitAsync(emitter Emitter, ctx context.Context, event *Event) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Warn().Err(err).Str("action", event.Action).Msg("audit: async emit failed")
		}
	}()
}
