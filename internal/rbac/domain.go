package rbac

import "time"

// Well-known protected roles installed by the seeder.
const (
	// RoleSuperAdmin is the apex role, exempt from hierarchy comparisons.
	RoleSuperAdmin = "superadmin"
	// RoleAdmin is the default administrative role.
	RoleAdmin = "admin"
	// RoleMember is the system default role users fall back to when their
	// role is deleted without an explicit transfer target.
	RoleMember = "member"
)

// Role represents a permission grouping ranked by power. Higher power means
// more authority. Protected roles cannot be deleted or have their permission
// set altered through the generic path.
type Role struct {
	ID          int64
	Name        string
	DisplayName string
	Power       int
	IsActive    bool
	IsProtected bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability named category.resourcePath.action.
// Display fields are localized maps keyed by BCP 47 tag.
type Permission struct {
	ID           int64
	Name         string
	Category     string
	Action       string
	DisplayNames map[string]string
	Descriptions map[string]string
	IsActive     bool
}

// RolePermission ties a permission to a role. The effective permission set of
// a role is every name with IsAllowed and IsActive both true.
type RolePermission struct {
	RoleName       string
	PermissionName string
	IsAllowed      bool
	IsActive       bool
	GrantedBy      int64
	CreatedAt      time.Time
}

// PermissionView is a Permission resolved for one locale.
type PermissionView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Action      string `json:"action"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// Localize picks the display strings for tag, falling back to English.
func (p Permission) Localize(tag string) PermissionView {
	view := PermissionView{
		ID:       p.ID,
		Name:     p.Name,
		Category: p.Category,
		Action:   p.Action,
	}
	view.DisplayName = localized(p.DisplayNames, tag)
	view.Description = localized(p.Descriptions, tag)
	return view
}

func localized(values map[string]string, tag string) string {
	if values == nil {
		return ""
	}
	if v, ok := values[tag]; ok {
		return v
	}
	return values["en"]
}
