package session

import "time"

// Status is the lifecycle state of a session. Terminal states are final.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Session is one device login. Termination is a state transition, never a row
// delete, so the login history stays auditable.
type Session struct {
	Token        string
	UserID       int64
	DeviceID     string
	IP           string
	UserAgent    string
	IsActive     bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActiveAt time.Time
	RevokedAt    *time.Time
}

// StatusAt derives the lifecycle state at the given instant.
func (s Session) StatusAt(now time.Time) Status {
	if !s.IsActive {
		if s.RevokedAt != nil {
			return StatusRevoked
		}
		return StatusExpired
	}
	if !now.Before(s.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

// Identity is the slim user record a session resolves to.
type Identity struct {
	ID           int64
	Name         string
	Email        string
	IsActive     bool
	RoleID       *int64
	TokenVersion int
}

// Resolved is the cached outcome of a session lookup: the owning user plus
// its role snapshot, everything an authorization decision needs.
type Resolved struct {
	Token        string    `json:"token"`
	UserID       int64     `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	RoleName     string    `json:"role_name"`
	Power        int       `json:"power"`
	Permissions  []string  `json:"permissions"`
	TokenVersion int       `json:"token_version"`
	ExpiresAt    time.Time `json:"expires_at"`
}
