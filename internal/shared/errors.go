package shared

import "errors"

var (
	// ErrUnauthorized indicates the caller holds no valid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates a valid session with insufficient authority.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates a referenced user/role/permission/session is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a unique-name collision or a mutation against a protected role.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInternal indicates a storage or transaction failure. Callers may retry.
	ErrInternal = errors.New("internal error")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
