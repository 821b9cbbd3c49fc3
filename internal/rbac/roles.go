package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts and are
// stored on every call session row.
const (
	RoleParent       = "parent"
	RoleChild        = "child"
	RoleFamilyMember = "family_member"
)

func IsParent(role string) bool { return role == RoleParent }

func IsKnownRole(role string) bool {
	switch role {
	case RoleParent, RoleChild, RoleFamilyMember:
		return true
	default:
		return false
	}
}
