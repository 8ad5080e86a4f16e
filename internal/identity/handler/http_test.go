package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identityservice "medilink/backend/internal/identity/service"
	"medilink/backend/internal/revocation"
	"medilink/backend/internal/security"
	"medilink/backend/internal/server/middleware"
	sessiondomain "medilink/backend/internal/session/domain"
	sessionservice "medilink/backend/internal/session/service"
	"medilink/backend/internal/store"
	userdomain "medilink/backend/internal/user/domain"
)

// memUserRepo is an in-memory user repository for handler tests.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func newTestRouter(t *testing.T) *httptest.Server {
	t.Helper()
	kv := store.NewMemoryKV()
	issuer, err := security.NewTestIssuer(sessiondomain.AccessTokenTTL)
	require.NoError(t, err)

	identity := identityservice.NewIdentityService(&memUserRepo{users: map[string]*userdomain.User{}}, security.NewHasher(4))
	blacklist := revocation.NewBlacklist(kv)
	manager := sessionservice.NewManager(kv, identity, issuer, blacklist, nil, zerolog.Nop())
	auth := NewAuthHandler(identity, manager, false, zerolog.Nop())

	r := chi.NewRouter()
	r.Use(middleware.Device)
	auth.Routes(r, middleware.Authenticate(issuer, blacklist, zerolog.Nop()))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, decorate func(*http.Request)) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func refreshCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	t.Fatal("no refresh cookie in response")
	return nil
}

func registerAndLogin(t *testing.T, srv *httptest.Server, guard, email string) (tokenResponse, *http.Cookie) {
	t.Helper()
	resp := postJSON(t, srv.URL+"/v1/auth/"+guard+"/register", registerRequest{
		Email: email, Password: "correct horse", Name: "Test User",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/auth/"+guard+"/login", loginRequest{Email: email, Password: "correct horse"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookie := refreshCookie(t, resp)
	return decode[tokenResponse](t, resp), cookie
}

func TestLogin_ReturnsTokensAndScopedCookie(t *testing.T) {
	srv := newTestRouter(t)
	tokens, cookie := registerAndLogin(t, srv, "user", "pat@example.com")

	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.CSRFToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.InDelta(t, 3600, tokens.ExpiresAt, 10)

	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/v1/auth/user/refresh", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.NotEmpty(t, cookie.Value)
}

func TestLogin_BadCredentials(t *testing.T) {
	srv := newTestRouter(t)
	resp := postJSON(t, srv.URL+"/v1/auth/user/login", loginRequest{Email: "ghost@example.com", Password: "nope"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestLogin_UnknownGuard(t *testing.T) {
	srv := newTestRouter(t)
	resp := postJSON(t, srv.URL+"/v1/auth/mobile/login", loginRequest{Email: "a@b.co", Password: "x"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	srv := newTestRouter(t)
	tokens, cookie := registerAndLogin(t, srv, "user", "pat@example.com")

	refreshURL := srv.URL + "/v1/auth/user/refresh"
	resp := postJSON(t, refreshURL, nil, func(req *http.Request) {
		req.AddCookie(cookie)
		req.Header.Set(csrfHeader, tokens.CSRFToken)
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	newCookie := refreshCookie(t, resp)
	newTokens := decode[tokenResponse](t, resp)
	assert.NotEqual(t, cookie.Value, newCookie.Value)
	assert.NotEqual(t, tokens.CSRFToken, newTokens.CSRFToken)

	// Replaying the consumed refresh token gets the generic 401 and nukes
	// every session.
	resp = postJSON(t, refreshURL, nil, func(req *http.Request) {
		req.AddCookie(cookie)
		req.Header.Set(csrfHeader, tokens.CSRFToken)
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "unauthorized", body["error"])

	resp = postJSON(t, refreshURL, nil, func(req *http.Request) {
		req.AddCookie(newCookie)
		req.Header.Set(csrfHeader, newTokens.CSRFToken)
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRefresh_MissingCookie(t *testing.T) {
	srv := newTestRouter(t)
	resp := postJSON(t, srv.URL+"/v1/auth/user/refresh", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRefresh_WrongCSRFHeader(t *testing.T) {
	srv := newTestRouter(t)
	tokens, cookie := registerAndLogin(t, srv, "user", "pat@example.com")
	refreshURL := srv.URL + "/v1/auth/user/refresh"

	resp := postJSON(t, refreshURL, nil, func(req *http.Request) {
		req.AddCookie(cookie)
		req.Header.Set(csrfHeader, "forged")
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// The session survives a csrf miss; the legitimate client still works.
	resp = postJSON(t, refreshURL, nil, func(req *http.Request) {
		req.AddCookie(cookie)
		req.Header.Set(csrfHeader, tokens.CSRFToken)
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestMe_RequiresValidToken(t *testing.T) {
	srv := newTestRouter(t)
	tokens, _ := registerAndLogin(t, srv, "user", "pat@example.com")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[meResponse](t, resp)
	assert.Equal(t, "pat@example.com", me.Email)
	assert.Equal(t, "user", me.Guard)
	assert.Equal(t, "patient", me.Role)

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/v1/auth/me", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLogout_ClearsCookieAndBlacklistsToken(t *testing.T) {
	srv := newTestRouter(t)
	tokens, _ := registerAndLogin(t, srv, "user", "pat@example.com")

	resp := postJSON(t, srv.URL+"/v1/auth/user/logout", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	cleared := refreshCookie(t, resp)
	assert.Less(t, cleared.MaxAge, 0)
	resp.Body.Close()

	// The blacklisted access token no longer authenticates.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLogout_GuardMismatch(t *testing.T) {
	srv := newTestRouter(t)
	tokens, _ := registerAndLogin(t, srv, "user", "pat@example.com")

	resp := postJSON(t, srv.URL+"/v1/auth/admin/logout", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRegister_DuplicateEmail(t *testing.T) {
	srv := newTestRouter(t)
	registerAndLogin(t, srv, "user", "pat@example.com")

	resp := postJSON(t, srv.URL+"/v1/auth/user/register", registerRequest{
		Email: "pat@example.com", Password: "another pass", Name: "Dup",
	}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestRegister_AdminGuardAssignsAdminRole(t *testing.T) {
	srv := newTestRouter(t)
	resp := postJSON(t, srv.URL+"/v1/auth/admin/register", registerRequest{
		Email: "boss@example.com", Password: "correct horse", Name: "Boss",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[registerResponse](t, resp)
	assert.Equal(t, "admin", created.Role)

	// And the new admin can enter the admin guard.
	resp = postJSON(t, srv.URL+"/v1/auth/admin/login", loginRequest{Email: "boss@example.com", Password: "correct horse"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
