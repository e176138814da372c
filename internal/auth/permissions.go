package auth

// Scope is the coarse grant carried by a host token.
type Scope string

// Token scopes.
const (
	ScopeRead    Scope = "read"
	ScopeControl Scope = "control"
)

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
	PermDeviceResync  Permission = "device:resync"
)

// scopePermissions is the single source of truth for what each scope may do.
var scopePermissions = map[Scope][]Permission{
	ScopeRead: {
		PermDeviceRead,
	},
	ScopeControl: {
		PermDeviceRead,
		PermDeviceOperate,
		PermDeviceResync,
	},
}

// IsValid reports whether s is a known scope.
func (s Scope) IsValid() bool {
	_, ok := scopePermissions[s]
	return ok
}

// HasPermission reports whether scope s grants perm.
func HasPermission(s Scope, perm Permission) bool {
	for _, p := range scopePermissions[s] {
		if p == perm {
			return true
		}
	}
	return false
}
