package users

import "time"

// User is an identity record. A user holds at most one role at a time; the
// nullable RoleID keeps that invariant in the type system instead of a set.
type User struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	IsActive       bool       `json:"is_active"`
	RoleID         *int64     `json:"role_id"`
	RoleAssignedAt *time.Time `json:"role_assigned_at,omitempty"`
	RoleAssignedBy *int64     `json:"role_assigned_by,omitempty"`
	TokenVersion   int        `json:"-"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
