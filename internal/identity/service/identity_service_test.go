package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"medilink/backend/internal/security"
	sessiondomain "medilink/backend/internal/session/domain"
	userdomain "medilink/backend/internal/user/domain"
)

// memUserRepo implements the user repository in memory for tests.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*userdomain.User // by ID
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*userdomain.User{}}
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

func newTestService(t *testing.T) (*IdentityService, *memUserRepo) {
	t.Helper()
	repo := newMemUserRepo()
	return NewIdentityService(repo, security.NewHasher(4)), repo
}

func register(t *testing.T, svc *IdentityService, email, password string, role userdomain.Role) *Principal {
	t.Helper()
	p, err := svc.Register(context.Background(), email, password, "Test User", role)
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return p
}

func TestRegisterAndVerifyCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "pat@example.com", "correct horse", userdomain.RolePatient)

	p, err := svc.VerifyCredentials(ctx, "pat@example.com", "correct horse", sessiondomain.GuardUser)
	if err != nil {
		t.Fatalf("VerifyCredentials: %v", err)
	}
	if p.Email != "pat@example.com" || p.Role != userdomain.RolePatient {
		t.Errorf("principal = %+v", p)
	}
}

func TestVerifyCredentials_EmailNormalized(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "Pat@Example.com", "correct horse", userdomain.RolePatient)

	if _, err := svc.VerifyCredentials(context.Background(), "  PAT@EXAMPLE.COM ", "correct horse", sessiondomain.GuardUser); err != nil {
		t.Fatalf("VerifyCredentials with mixed-case email: %v", err)
	}
}

func TestVerifyCredentials_FailuresAreIndistinguishable(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	p := register(t, svc, "pat@example.com", "correct horse", userdomain.RolePatient)

	cases := []struct {
		name     string
		email    string
		password string
		guard    sessiondomain.Guard
		prep     func()
	}{
		{name: "unknown email", email: "ghost@example.com", password: "correct horse", guard: sessiondomain.GuardUser},
		{name: "wrong password", email: "pat@example.com", password: "wrong", guard: sessiondomain.GuardUser},
		{name: "empty password", email: "pat@example.com", password: "", guard: sessiondomain.GuardUser},
		{name: "guard mismatch", email: "pat@example.com", password: "correct horse", guard: sessiondomain.GuardAdmin},
		{name: "disabled user", email: "pat@example.com", password: "correct horse", guard: sessiondomain.GuardUser, prep: func() {
			repo.mu.Lock()
			repo.users[p.ID].Status = userdomain.UserStatusDisabled
			repo.mu.Unlock()
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prep != nil {
				tc.prep()
			}
			if _, err := svc.VerifyCredentials(ctx, tc.email, tc.password, tc.guard); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestVerifyCredentials_AdminGuard(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "admin@example.com", "correct horse", userdomain.RoleAdmin)

	if _, err := svc.VerifyCredentials(ctx, "admin@example.com", "correct horse", sessiondomain.GuardAdmin); err != nil {
		t.Fatalf("admin on admin guard: %v", err)
	}
	// Admins may also use the end-user surface.
	if _, err := svc.VerifyCredentials(ctx, "admin@example.com", "correct horse", sessiondomain.GuardUser); err != nil {
		t.Fatalf("admin on user guard: %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "pat@example.com", "correct horse", userdomain.RolePatient)

	_, err := svc.Register(context.Background(), "pat@example.com", "another pass", "Dup", userdomain.RolePatient)
	if !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrEmailAlreadyRegistered", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "not-an-email", "long enough", "X", userdomain.RolePatient); err == nil {
		t.Error("expected error for malformed email")
	}
	if _, err := svc.Register(ctx, "ok@example.com", "short", "X", userdomain.RolePatient); err == nil {
		t.Error("expected error for short password")
	}
}

func TestGetPrincipal(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	p := register(t, svc, "pat@example.com", "correct horse", userdomain.RolePatient)

	got, err := svc.GetPrincipal(ctx, p.ID)
	if err != nil || got == nil {
		t.Fatalf("GetPrincipal: got=%v err=%v", got, err)
	}

	gone, err := svc.GetPrincipal(ctx, "no-such-id")
	if err != nil || gone != nil {
		t.Fatalf("missing user: got=%v err=%v", gone, err)
	}

	repo.mu.Lock()
	repo.users[p.ID].Status = userdomain.UserStatusDisabled
	repo.mu.Unlock()
	disabled, err := svc.GetPrincipal(ctx, p.ID)
	if err != nil || disabled != nil {
		t.Fatalf("disabled user: got=%v err=%v", disabled, err)
	}
}
