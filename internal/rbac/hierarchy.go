package rbac

import "sort"

// Level is the authority of an actor or role for hierarchy comparisons.
// The zero value is the least-privileged sentinel: every decision over an
// unknown role resolves to deny.
type Level struct {
	Name  string
	Power int
}

// LevelOf extracts the authority level of a role, tolerating nil.
func LevelOf(role *Role) Level {
	if role == nil {
		return Level{}
	}
	return Level{Name: role.Name, Power: role.Power}
}

// IsApex reports whether name identifies the apex role.
func IsApex(name string) bool {
	return name == RoleSuperAdmin
}

// CanAssignRole reports whether an actor at level actor may hand out the
// target role. The apex actor may assign anything except apex itself; everyone
// else needs strictly more power than the target.
func CanAssignRole(actor, target Level) bool {
	if IsApex(target.Name) {
		return false
	}
	if IsApex(actor.Name) {
		return true
	}
	return actor.Power > 0 && actor.Power > target.Power
}

// CanEditRole reports whether the actor may modify the target role. Protected
// and apex roles yield only to the apex actor, never to power comparison.
func CanEditRole(actor, target Level, targetProtected bool) bool {
	if targetProtected || IsApex(target.Name) {
		return IsApex(actor.Name)
	}
	if IsApex(actor.Name) {
		return true
	}
	return actor.Power > 0 && actor.Power > target.Power
}

// CanDeleteRole reports whether the actor may delete the target role.
// Protected roles can never be deleted, by anyone.
func CanDeleteRole(actor, target Level, targetProtected bool) bool {
	if targetProtected || IsApex(target.Name) {
		return false
	}
	if IsApex(actor.Name) {
		return true
	}
	return actor.Power > 0 && actor.Power > target.Power
}

// AssignableRoles returns the roles the actor may hand out, most senior first.
// The apex actor sees every role except apex itself.
func AssignableRoles(actor Level, roles []Role) []Role {
	assignable := make([]Role, 0, len(roles))
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		if CanAssignRole(actor, LevelOf(&role)) {
			assignable = append(assignable, role)
		}
	}
	sort.Slice(assignable, func(i, j int) bool {
		if assignable[i].Power != assignable[j].Power {
			return assignable[i].Power > assignable[j].Power
		}
		return assignable[i].Name < assignable[j].Name
	})
	return assignable
}
