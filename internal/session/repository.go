package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-admin/aegis-admin/internal/shared"
)

// Repository defines persistence operations for the session module.
type Repository interface {
	CreateSession(ctx context.Context, sess Session) error
	FindSessionUser(ctx context.Context, token string) (*Session, *Identity, error)
	FindIdentity(ctx context.Context, userID int64) (*Identity, error)
	RevokeByToken(ctx context.Context, token string, at time.Time) (int64, error)
	RevokeOthers(ctx context.Context, userID int64, excludeToken string, at time.Time) ([]string, error)
	RevokeAll(ctx context.Context, userID int64, at time.Time) ([]string, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	PruneTerminated(ctx context.Context, cutoff time.Time) (int64, error)
	ActiveTokens(ctx context.Context, userID int64) ([]string, error)
	ActiveSessions(ctx context.Context, userID int64) ([]Session, error)
	TouchLastActive(ctx context.Context, token string, at time.Time) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateSession persists a new session row.
func (r *PGRepository) CreateSession(ctx context.Context, sess Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (token, user_id, device_id, ip, user_agent, is_active, created_at, expires_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $6)`,
		sess.Token, sess.UserID, sess.DeviceID, sess.IP, sess.UserAgent, sess.CreatedAt.UTC(), sess.ExpiresAt.UTC())
	return err
}

// FindSessionUser fetches a session and its owner in one round trip.
func (r *PGRepository) FindSessionUser(ctx context.Context, token string) (*Session, *Identity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT s.token, s.user_id, s.device_id, s.ip, s.user_agent, s.is_active,
		       s.created_at, s.expires_at, s.last_active_at, s.revoked_at,
		       u.id, u.name, u.email, u.is_active, u.role_id, u.token_version
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1`, token)
	var (
		sess Session
		user Identity
	)
	err := row.Scan(
		&sess.Token, &sess.UserID, &sess.DeviceID, &sess.IP, &sess.UserAgent, &sess.IsActive,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastActiveAt, &sess.RevokedAt,
		&user.ID, &user.Name, &user.Email, &user.IsActive, &user.RoleID, &user.TokenVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, shared.ErrNotFound
		}
		return nil, nil, err
	}
	return &sess, &user, nil
}

// FindIdentity fetches the slim user record.
func (r *PGRepository) FindIdentity(ctx context.Context, userID int64) (*Identity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, is_active, role_id, token_version FROM users WHERE id = $1`, userID)
	var user Identity
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.IsActive, &user.RoleID, &user.TokenVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// RevokeByToken deactivates exactly one session. Returns rows affected.
func (r *PGRepository) RevokeByToken(ctx context.Context, token string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, revoked_at = $2
		WHERE token = $1 AND is_active = TRUE`, token, at.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeOthers deactivates every active session of userID except excludeToken,
// returning the affected tokens.
func (r *PGRepository) RevokeOthers(ctx context.Context, userID int64, excludeToken string, at time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE sessions SET is_active = FALSE, revoked_at = $3
		WHERE user_id = $1 AND token <> $2 AND is_active = TRUE
		RETURNING token`, userID, excludeToken, at.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTokens(rows)
}

// RevokeAll deactivates every active session of userID.
func (r *PGRepository) RevokeAll(ctx context.Context, userID int64, at time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE sessions SET is_active = FALSE, revoked_at = $2
		WHERE user_id = $1 AND is_active = TRUE
		RETURNING token`, userID, at.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTokens(rows)
}

// ExpireStale flips sessions past expiry to inactive. revoked_at stays NULL so
// the row still reads as expired, not revoked.
func (r *PGRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneTerminated deletes terminated rows older than cutoff.
func (r *PGRepository) PruneTerminated(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE is_active = FALSE AND expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ActiveTokens lists the active session tokens of userID.
func (r *PGRepository) ActiveTokens(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token FROM sessions WHERE user_id = $1 AND is_active = TRUE`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTokens(rows)
}

// ActiveSessions lists the active sessions of userID, newest first.
func (r *PGRepository) ActiveSessions(ctx context.Context, userID int64) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token, user_id, device_id, ip, user_agent, is_active,
		       created_at, expires_at, last_active_at, revoked_at
		FROM sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > NOW()
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.Token, &sess.UserID, &sess.DeviceID, &sess.IP, &sess.UserAgent,
			&sess.IsActive, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastActiveAt, &sess.RevokedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// TouchLastActive bumps the activity timestamp, best effort.
func (r *PGRepository) TouchLastActive(ctx context.Context, token string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET last_active_at = $2 WHERE token = $1`, token, at.UTC())
	return err
}

func collectTokens(rows pgx.Rows) ([]string, error) {
	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
