package authz

type Role string

const (
	RoleUser  Role = "user"
	RoleOwner Role = "owner"
)

// Decision lists the moderation capabilities of a principal over a prompt.
type Decision struct {
	CanToggleVisibility bool
	CanDelete           bool
}

// CanModerate is a pure capability check. Visibility changes are reserved for
// the prompt's author; deletion is open to the author or an owner-role
// principal. Anonymous principals hold no capabilities. Handlers performing
// the mutation re-check against stored rows before acting.
func CanModerate(principalID, authorID string, role Role) Decision {
	if principalID == "" {
		return Decision{}
	}
	isAuthor := principalID == authorID
	return Decision{
		CanToggleVisibility: isAuthor,
		CanDelete:           isAuthor || role == RoleOwner,
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleOwner:
		return Role(role)
	default:
		return RoleUser
	}
}
