package rbac

// Permission categories and actions.
const (
	CategoryUsers       = "users"
	CategoryRoles       = "roles"
	CategoryPermissions = "permissions"
	CategorySessions    = "sessions"
	CategoryContent     = "content"

	ActionView   = "view"
	ActionEdit   = "edit"
	ActionDelete = "delete"
	ActionAssign = "assign"
	ActionRevoke = "revoke"
)

// Core platform permissions. Names follow category.resourcePath.action.
const (
	PermUsersView    = "users.accounts.view"
	PermUsersEdit    = "users.accounts.edit"
	PermUsersDelete  = "users.accounts.delete"
	PermRolesView    = "roles.catalog.view"
	PermRolesEdit    = "roles.catalog.edit"
	PermRolesDelete  = "roles.catalog.delete"
	PermRolesAssign  = "roles.members.assign"
	PermPermsView    = "permissions.catalog.view"
	PermPermsAssign  = "permissions.grants.assign"
	PermSessionsView = "sessions.devices.view"
	PermSessionsKill = "sessions.devices.revoke"
)

// CatalogEntry is a seedable permission definition.
type CatalogEntry struct {
	Name          string
	Category      string
	Action        string
	DisplayEN     string
	DescriptionEN string
}

// CoreCatalog lists every permission the platform ships with. The seeder
// inserts these; administrative flows only ever reference known names.
func CoreCatalog() []CatalogEntry {
	return []CatalogEntry{
		{PermUsersView, CategoryUsers, ActionView, "View users", "List and inspect user accounts"},
		{PermUsersEdit, CategoryUsers, ActionEdit, "Edit users", "Update user accounts and role assignments"},
		{PermUsersDelete, CategoryUsers, ActionDelete, "Delete users", "Remove user accounts"},
		{PermRolesView, CategoryRoles, ActionView, "View roles", "List roles and their permission sets"},
		{PermRolesEdit, CategoryRoles, ActionEdit, "Edit roles", "Create and update roles"},
		{PermRolesDelete, CategoryRoles, ActionDelete, "Delete roles", "Delete roles and migrate their members"},
		{PermRolesAssign, CategoryRoles, ActionAssign, "Assign roles", "Assign roles to users"},
		{PermPermsView, CategoryPermissions, ActionView, "View permissions", "Browse the permission catalog"},
		{PermPermsAssign, CategoryPermissions, ActionAssign, "Grant permissions", "Replace a role's permission set"},
		{PermSessionsView, CategorySessions, ActionView, "View sessions", "List a user's active sessions"},
		{PermSessionsKill, CategorySessions, ActionRevoke, "Revoke sessions", "Terminate sessions for any user"},
	}
}
