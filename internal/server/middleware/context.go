// Package middleware holds the HTTP middleware chain: device context,
// request logging, panic recovery, and bearer authentication.
package middleware

import (
	"context"

	"medilink/backend/internal/device"
)

type ctxKey int

const (
	deviceKey ctxKey = iota
	identityKey
)

// Identity is the authenticated caller, placed in the request context by the
// bearer middleware.
type Identity struct {
	UserID      string
	Role        string
	Guard       string
	AccessToken string
}

// WithDevice returns ctx carrying the device context.
func WithDevice(ctx context.Context, d device.Context) context.Context {
	return context.WithValue(ctx, deviceKey, d)
}

// DeviceFromContext returns the device context, or a zero value if absent.
func DeviceFromContext(ctx context.Context) device.Context {
	d, _ := ctx.Value(deviceKey).(device.Context)
	return d
}

// WithIdentity returns ctx carrying the authenticated identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated identity and whether one is
// present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
