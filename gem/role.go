package gem

// Role tags the origin of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	// RoleSystem turns are sent as the system instruction, not as contents.
	RoleSystem Role = "system"
)

func (r Role) String() string { return string(r) }

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleSystem:
		return true
	default:
		return false
	}
}
