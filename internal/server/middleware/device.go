package middleware

import (
	"net/http"

	"medilink/backend/internal/device"
)

// Device captures the user agent and remote address into the request context
// so handlers can fingerprint the calling device. Run after RealIP so the
// address survives proxies.
func Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := device.Context{
			UserAgent:  r.Header.Get("User-Agent"),
			SourceAddr: r.RemoteAddr,
		}
		next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), d)))
	})
}
