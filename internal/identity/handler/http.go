// Package handler exposes the auth surface over HTTP: login, refresh,
// logout, register, and the authenticated profile endpoint.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	identityservice "medilink/backend/internal/identity/service"
	"medilink/backend/internal/server/middleware"
	sessiondomain "medilink/backend/internal/session/domain"
	sessionservice "medilink/backend/internal/session/service"
	userdomain "medilink/backend/internal/user/domain"
)

const (
	refreshCookieName = "refresh_token"
	csrfHeader        = "X-CSRF-Token"
)

// AuthHandler wires the identity service and the session lifecycle to the
// HTTP routes.
type AuthHandler struct {
	identity      *identityservice.IdentityService
	sessions      *sessionservice.Manager
	secureCookies bool
	logger        zerolog.Logger
}

// NewAuthHandler returns an AuthHandler.
func NewAuthHandler(identity *identityservice.IdentityService, sessions *sessionservice.Manager, secureCookies bool, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, sessions: sessions, secureCookies: secureCookies, logger: logger}
}

// Routes mounts the guard-scoped auth routes. requireAuth wraps the routes
// that need a verified access token.
func (h *AuthHandler) Routes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Route("/v1/auth", func(r chi.Router) {
		r.Route("/{guard}", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
			r.Post("/register", h.Register)
			r.With(requireAuth).Post("/logout", h.Logout)
		})
		r.With(requireAuth).Get("/me", h.Me)
	})
}

// tokenResponse is the login/refresh response body. The refresh token never
// appears here; it travels only in the HttpOnly cookie.
type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	CSRFToken   string `json:"csrfToken"`
	ExpiresAt   int64  `json:"expiresAt"` // seconds until the access token expires
	TokenType   string `json:"tokenType"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and opens a session under the guard in the URL.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	guard := sessiondomain.Guard(chi.URLParam(r, "guard"))
	if !guard.Valid() {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	principal, err := h.identity.VerifyCredentials(r.Context(), req.Email, req.Password, guard)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	creds, err := h.sessions.Login(r.Context(), principal, guard, middleware.DeviceFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.setRefreshCookie(w, guard, creds.RefreshToken, int(sessiondomain.RefreshTokenTTL.Seconds()))
	writeJSON(w, http.StatusOK, h.tokenResponse(creds))
}

// Refresh rotates the session behind the refresh cookie. The CSRF token must
// be echoed in the X-CSRF-Token header.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	guard := sessiondomain.Guard(chi.URLParam(r, "guard"))
	if !guard.Valid() {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	creds, err := h.sessions.Refresh(r.Context(), guard, cookie.Value, r.Header.Get(csrfHeader))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.setRefreshCookie(w, guard, creds.RefreshToken, int(sessiondomain.RefreshTokenTTL.Seconds()))
	writeJSON(w, http.StatusOK, h.tokenResponse(creds))
}

// Logout revokes the caller's session on this device and clears the refresh
// cookie. Requires a valid access token; the guard in the URL must match the
// token's guard.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	guard := sessiondomain.Guard(chi.URLParam(r, "guard"))
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok || !guard.Valid() || id.Guard != string(guard) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	err := h.sessions.Logout(r.Context(), guard, id.UserID, middleware.DeviceFromContext(r.Context()), id.AccessToken)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.setRefreshCookie(w, guard, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type registerResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Register creates an account for the guard's surface: patients on the user
// guard, admins on the admin guard.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	guard := sessiondomain.Guard(chi.URLParam(r, "guard"))
	if !guard.Valid() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := userdomain.RolePatient
	if guard == sessiondomain.GuardAdmin {
		role = userdomain.RoleAdmin
	}
	principal, err := h.identity.Register(r.Context(), req.Email, req.Password, req.Name, role)
	if err != nil {
		if errors.Is(err, identityservice.ErrEmailAlreadyRegistered) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{ID: principal.ID, Email: principal.Email, Role: string(principal.Role)})
}

type meResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Guard string `json:"guard"`
}

// Me returns the authenticated caller's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	principal, err := h.identity.GetPrincipal(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:    principal.ID,
		Email: principal.Email,
		Role:  string(principal.Role),
		Guard: id.Guard,
	})
}

func (h *AuthHandler) tokenResponse(creds *sessionservice.Credentials) tokenResponse {
	remaining := time.Until(creds.AccessExpiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return tokenResponse{
		AccessToken: creds.AccessToken,
		CSRFToken:   creds.CSRFToken,
		ExpiresAt:   int64(remaining.Seconds()),
		TokenType:   "Bearer",
	}
}

// setRefreshCookie scopes the cookie path to the guard's refresh endpoint so
// the browser never sends the refresh token anywhere else.
func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, guard sessiondomain.Guard, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     "/v1/auth/" + string(guard) + "/refresh",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeServiceError maps service errors onto the wire: every validation
// failure becomes the same generic 401, everything else is an infrastructure
// failure and becomes 503.
func (h *AuthHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identityservice.ErrInvalidCredentials),
		errors.Is(err, sessionservice.ErrUnauthorized),
		errors.Is(err, sessionservice.ErrRefreshTokenReuse):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		h.logger.Error().Err(err).Msg("auth request failed on infrastructure")
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
