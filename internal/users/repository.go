package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-admin/aegis-admin/internal/platform/db"
	"github.com/aegis-admin/aegis-admin/internal/shared"
)

// Repository defines persistence operations for the users module.
type Repository interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, page shared.Pagination) ([]User, int, error)
	CreateUser(ctx context.Context, user User) (*User, error)
	SetRole(ctx context.Context, userID int64, roleID *int64, assignedBy int64) error
	SetActive(ctx context.Context, userID int64, active bool) error
	RecordLogin(ctx context.Context, userID int64, at time.Time) error
	DeleteUser(ctx context.Context, userID, reassignTo int64) ([]string, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, name, email, password_hash, is_active, role_id, role_assigned_at, role_assigned_by, token_version, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.IsActive,
		&user.RoleID, &user.RoleAssignedAt, &user.RoleAssignedBy, &user.TokenVersion,
		&user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUser fetches a user by ID.
func (r *PGRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail fetches a user by unique email.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// ListUsers returns one page of users plus the total count.
func (r *PGRepository) ListUsers(ctx context.Context, page shared.Pagination) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`,
		page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var result []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.IsActive,
			&user.RoleID, &user.RoleAssignedAt, &user.RoleAssignedBy, &user.TokenVersion,
			&user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, user)
	}
	return result, total, rows.Err()
}

// CreateUser inserts a new user. Email collisions map to ErrConflict.
func (r *PGRepository) CreateUser(ctx context.Context, user User) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, is_active, role_id, token_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, NOW(), NOW())
		RETURNING `+userColumns,
		user.Name, user.Email, user.PasswordHash, user.IsActive, user.RoleID)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

// SetRole assigns (or clears, with nil) the user's single role and bumps the
// token version so stale permission snapshots age out immediately.
func (r *PGRepository) SetRole(ctx context.Context, userID int64, roleID *int64, assignedBy int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET role_id = $2, role_assigned_at = NOW(), role_assigned_by = $3,
		    token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1`, userID, roleID, assignedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetActive flips the user's active flag.
func (r *PGRepository) SetActive(ctx context.Context, userID int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, userID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RecordLogin stamps a successful authentication.
func (r *PGRepository) RecordLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1`, userID, at.UTC())
	return err
}

// DeleteUser removes a user after reassigning dependent references to
// reassignTo, all in one transaction. It returns the tokens of the session
// rows it deleted so the caller can purge their cached resolutions.
func (r *PGRepository) DeleteUser(ctx context.Context, userID, reassignTo int64) ([]string, error) {
	var tokens []string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE role_has_permissions SET granted_by = $2 WHERE granted_by = $1`, userID, reassignTo); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET role_assigned_by = NULL WHERE role_assigned_by = $1`, userID); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `DELETE FROM sessions WHERE user_id = $1 RETURNING token`, userID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var token string
			if err := rows.Scan(&token); err != nil {
				rows.Close()
				return err
			}
			tokens = append(tokens, token)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

var _ Repository = (*PGRepository)(nil)
