// Package service verifies credentials and resolves principals for the
// session lifecycle. It owns no session state.
package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"medilink/backend/internal/security"
	sessiondomain "medilink/backend/internal/session/domain"
	userdomain "medilink/backend/internal/user/domain"
	userrepo "medilink/backend/internal/user/repository"
)

// Sentinel errors for the identity service; the handler maps all credential
// failures to one generic Unauthorized response.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
)

// Principal is a verified user identity handed to the session lifecycle.
type Principal struct {
	ID    string
	Email string
	Role  userdomain.Role
}

// IdentityService authenticates credentials against the user store.
type IdentityService struct {
	users  userrepo.Repository
	hasher *security.Hasher
}

// NewIdentityService returns an IdentityService over the given user store.
func NewIdentityService(users userrepo.Repository, hasher *security.Hasher) *IdentityService {
	return &IdentityService{users: users, hasher: hasher}
}

// VerifyCredentials checks email/password and that the user may enter the
// given guard. Missing users, disabled users, wrong passwords, and guard
// mismatches all return ErrInvalidCredentials so callers cannot distinguish
// them.
func (s *IdentityService) VerifyCredentials(ctx context.Context, email, password string, guard sessiondomain.Guard) (*Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !guardAllows(guard, user.Role) {
		return nil, ErrInvalidCredentials
	}
	return &Principal{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// GetPrincipal resolves a user ID to a principal, or nil if the user no
// longer exists or is disabled.
func (s *IdentityService) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, nil
	}
	return &Principal{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// Register creates a user with a hashed password. Duplicate emails are
// rejected with ErrEmailAlreadyRegistered.
func (s *IdentityService) Register(ctx context.Context, email, password, name string, role userdomain.Role) (*Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashed,
		Role:         role,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return &Principal{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// guardAllows gates the admin surface to admin users. The end-user guard
// accepts every active role.
func guardAllows(guard sessiondomain.Guard, role userdomain.Role) bool {
	if guard == sessiondomain.GuardAdmin {
		return role == userdomain.RoleAdmin
	}
	return true
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	if ok, _ := regexp.MatchString(simpleEmail, email); !ok {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
