package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"medilink/backend/internal/revocation"
	"medilink/backend/internal/security"
)

// Authenticate verifies the bearer access token and consults the revocation
// blacklist before letting the request through. Every rejection uses the same
// generic body so callers cannot probe which check failed. A blacklist store
// failure fails closed with 503.
func Authenticate(issuer *security.Issuer, blacklist *revocation.Blacklist, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			claims, err := issuer.VerifyAccess(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			listed, err := blacklist.Contains(r.Context(), token)
			if err != nil {
				logger.Error().Err(err).Msg("blacklist lookup failed")
				writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}
			if listed {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			id := Identity{
				UserID:      claims.Subject,
				Role:        claims.Role,
				Guard:       claims.Guard,
				AccessToken: token,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
