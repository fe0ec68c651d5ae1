package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-admin/aegis-admin/internal/platform/db"
	"github.com/aegis-admin/aegis-admin/internal/shared"
)

// PermissionFilter narrows a permission listing.
type PermissionFilter struct {
	Category string
	Search   string
	Page     int
	PerPage  int
}

// Repository defines persistence operations for the rbac module.
type Repository interface {
	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (*Role, error)
	UpdateRole(ctx context.Context, id int64, displayName string, isActive bool) (*Role, error)
	ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, int, error)
	PermissionsByNames(ctx context.Context, names []string) ([]Permission, error)
	EffectivePermissions(ctx context.Context, roleName string) ([]string, error)
	RoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the mutations that must share one transaction.
type TxRepository interface {
	DeleteRolePermissions(ctx context.Context, roleName string) error
	InsertRolePermissions(ctx context.Context, rows []RolePermission) error
	ReassignMember(ctx context.Context, userID, roleID, assignedBy int64) error
	DeleteRole(ctx context.Context, roleID int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roleColumns = `id, name, display_name, power, is_active, is_protected, created_at, updated_at`

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Power, &role.IsActive, &role.IsProtected, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (*Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetRoleByName fetches a role by its unique machine name.
func (r *PGRepository) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// ListRoles returns all roles ordered by power descending.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY power DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Power, &role.IsActive, &role.IsProtected, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CreateRole inserts a new role. A name collision maps to ErrConflict.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (*Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, display_name, power, is_active, is_protected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW(), NOW())
		RETURNING `+roleColumns,
		role.Name, role.DisplayName, role.Power, role.IsActive)
	created, err := scanRole(row)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return created, nil
}

// UpdateRole updates the display metadata of an existing role.
func (r *PGRepository) UpdateRole(ctx context.Context, id int64, displayName string, isActive bool) (*Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET display_name = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns, id, displayName, isActive)
	return scanRole(row)
}

// ListPermissions returns one page of the permission catalog plus the total count.
func (r *PGRepository) ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, int, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	clauses := []string{"is_active = TRUE"}
	args := []any{}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`
		SELECT id, name, category, action, display_names, descriptions, is_active
		FROM permissions WHERE %s
		ORDER BY name LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	perms, err := collectPermissions(rows)
	if err != nil {
		return nil, 0, err
	}
	return perms, total, nil
}

// PermissionsByNames fetches the active permission records matching names.
// Unknown names are simply absent from the result.
func (r *PGRepository) PermissionsByNames(ctx context.Context, names []string) ([]Permission, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, category, action, display_names, descriptions, is_active
		FROM permissions WHERE is_active = TRUE AND name = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// EffectivePermissions returns the names with is_allowed and is_active for roleName.
func (r *PGRepository) EffectivePermissions(ctx context.Context, roleName string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT permission_name FROM role_has_permissions
		WHERE role_name = $1 AND is_allowed = TRUE AND is_active = TRUE
		ORDER BY permission_name`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RoleMemberIDs lists the users currently holding roleID.
func (r *PGRepository) RoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE role_id = $1 ORDER BY id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WithTx runs fn inside one RepeatableRead transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) DeleteRolePermissions(ctx context.Context, roleName string) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM role_has_permissions WHERE role_name = $1`, roleName)
	return err
}

func (r *pgTxRepository) InsertRolePermissions(ctx context.Context, grants []RolePermission) error {
	if len(grants) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, grant := range grants {
		batch.Queue(`
			INSERT INTO role_has_permissions (role_name, permission_name, is_allowed, is_active, granted_by, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())`,
			grant.RoleName, grant.PermissionName, grant.IsAllowed, grant.IsActive, grant.GrantedBy)
	}
	results := r.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range grants {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgTxRepository) ReassignMember(ctx context.Context, userID, roleID, assignedBy int64) error {
	tag, err := r.tx.Exec(ctx, `
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

func (r *pgTxRepository) DeleteRole(ctx context.Context, roleID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND is_protected = FALSE`, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var (
			perm         Permission
			displayNames []byte
			descriptions []byte
		)
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Category, &perm.Action, &displayNames, &descriptions, &perm.IsActive); err != nil {
			return nil, err
		}
		if len(displayNames) > 0 {
			if err := json.Unmarshal(displayNames, &perm.DisplayNames); err != nil {
				return nil, err
			}
		}
		if len(descriptions) > 0 {
			if err := json.Unmarshal(descriptions, &perm.Descriptions); err != nil {
				return nil, err
			}
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrConflict
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
