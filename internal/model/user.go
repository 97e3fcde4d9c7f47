package model

import (
	"strings"
	"time"
)

// Role names stored in users.role and carried in the JWT "role" claim.
const (
	RoleAdmin   = "ADMIN"
	RoleDoctor  = "DOCTOR"
	RolePatient = "PATIENT"
	RoleStaff   = "STAFF"
)

// NormalizeRole upper-cases raw and falls back to PATIENT for unknown roles.
func NormalizeRole(raw string) string {
	switch r := strings.ToUpper(strings.TrimSpace(raw)); r {
	case RoleAdmin, RoleDoctor, RolePatient, RoleStaff:
		return r
	}
	return RolePatient
}

// User represents an application user record as stored in the
// `users` table.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address.
//	PasswordHash – bcrypt hashed password.
//	Role         – ADMIN, DOCTOR, PATIENT or STAFF.
//	IsActive     – whether the account is active.
type User struct {
	ID           uint64
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor is the authenticated caller of an operation.  It is built once
// from the verified access token and passed explicitly into every service
// call instead of being looked up from ambient session state.
type Actor struct {
	UserID uint64
	Role   string
}

// IsAdmin reports whether the actor holds administrative privilege.
func (a Actor) IsAdmin() bool { return a.UserID != 0 && a.Role == RoleAdmin }
