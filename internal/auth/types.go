package auth

import "time"

// Role is one of the closed set of authorization roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Roles lists every valid role. The set is closed and unordered; RoleAdmin is
// only special in that at least one admin record must exist once bootstrapped.
var Roles = []Role{RoleUser, RoleAdmin}

// Claims is the authorization state persisted per user: role, flat scope
// strings and the monotonically increasing token version. The version is the
// sole revocation mechanism: any mismatch between a cached and a stored value
// invalidates the cache.
type Claims struct {
	Role         Role     `json:"role"`
	Scopes       []string `json:"scopes"`
	TokenVersion int64    `json:"token_version"`
}

// Session is the claims snapshot carried inside a bearer credential. It is
// never the source of truth; VerifiedAt records the last successful
// reconciliation against the claims store.
//
// Sessions are values. Reconciliation returns a new Session instead of
// mutating the one it was given, so a Session may be shared across goroutines
// without synchronization.
type Session struct {
	Subject      string    `json:"subject"`
	Name         string    `json:"name,omitempty"`
	Email        string    `json:"email,omitempty"`
	Role         Role      `json:"role"`
	Scopes       []string  `json:"scopes"`
	TokenVersion int64     `json:"token_version"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// Authenticated reports whether the session carries a subject. An invalidated
// session has no subject and therefore fails every authenticated guard.
func (s Session) Authenticated() bool {
	return s.Subject != ""
}

// HasScope reports whether the session carries the exact scope string.
func (s Session) HasScope(scope string) bool {
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// Claims returns the claims portion of the session.
func (s Session) Claims() Claims {
	return Claims{Role: s.Role, Scopes: s.Scopes, TokenVersion: s.TokenVersion}
}
