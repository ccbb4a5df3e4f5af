package auth

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleViewer may read receivers, sources and history.
	RoleViewer Role = "viewer"

	// RoleOperator may also execute commands and trigger refreshes.
	RoleOperator Role = "operator"
)

// Permission is an action on the API.
type Permission string

const (
	PermReceiverRead    Permission = "receiver:read"
	PermReceiverControl Permission = "receiver:control"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermReceiverRead},
	RoleOperator: {PermReceiverRead, PermReceiverControl},
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Can reports whether r grants p.
func (r Role) Can(p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}
