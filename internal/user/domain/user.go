package domain

import (
	"errors"
	"time"
)

// User is the principal record behind every session.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string // bcrypt; never serialized outward
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate checks the user for persistence. Returns the first failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	switch u.Role {
	case RoleAdmin, RoleDoctor, RolePatient:
	default:
		return errors.New("unknown role")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
