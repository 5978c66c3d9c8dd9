package identity

import "strings"

// ServerRole is the server wide role of a user.
type ServerRole string

const (
	// RoleAdmin administers the server.
	RoleAdmin ServerRole = "server:admin"
	// RoleUser is the default role.
	RoleUser ServerRole = "server:user"
	// RoleGuest can only collaborate on resources shared with them.
	RoleGuest ServerRole = "server:guest"
	// RoleArchivedUser is a disabled account, hidden from search.
	RoleArchivedUser ServerRole = "server:archived-user"
)

var roleAliases = map[string]ServerRole{
	"admin":         RoleAdmin,
	"user":          RoleUser,
	"guest":         RoleGuest,
	"archived-user": RoleArchivedUser,
}

// ParseRole accepts both the full ("server:admin") and short ("admin") names.
func ParseRole(s string) (ServerRole, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if r := ServerRole(s); r.IsValid() {
		return r, true
	}
	r, ok := roleAliases[s]
	return r, ok
}

// IsValid checks if the role is one of the predefined server roles
func (r ServerRole) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleGuest, RoleArchivedUser:
		return true
	default:
		return false
	}
}

func (r ServerRole) String() string { return string(r) }

// IsAtLeast checks if this role meets the minimum required level
func (r ServerRole) IsAtLeast(minRole ServerRole) bool {
	hierarchy := map[ServerRole]int{
		RoleArchivedUser: 0,
		RoleGuest:        1,
		RoleUser:         2,
		RoleAdmin:        3,
	}

	current, ok := hierarchy[r]
	if !ok {
		return false
	}
	required, ok := hierarchy[minRole]
	if !ok {
		return false
	}
	return current >= required
}
