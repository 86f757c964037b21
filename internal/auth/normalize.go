package auth

import "regexp"

// scopePattern matches resource:action scope tokens: a lowercase alphanumeric
// left segment starting with a letter, a colon, and a lowercase right segment
// that may include wildcards and dots.
var scopePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*:[a-z0-9*.-]+$`)

// IsRole reports whether v is a member of the closed role set.
func IsRole(v string) bool {
	return v == string(RoleUser) || v == string(RoleAdmin)
}

// IsScope reports whether v is a well-formed scope token.
func IsScope(v string) bool {
	return scopePattern.MatchString(v)
}

// NormalizeRole coerces arbitrary input into a valid role. Anything outside
// the closed set collapses to RoleUser. Total and idempotent; callers past
// this boundary never re-validate.
func NormalizeRole(v string) Role {
	if IsRole(v) {
		return Role(v)
	}
	return RoleUser
}

// NormalizeScopes keeps only well-formed scope tokens, deduplicated. Order of
// the surviving entries is preserved but not significant. A nil or empty input
// yields an empty (non-nil) set so downstream JSON stays `[]` rather than null.
func NormalizeScopes(v []string) []string {
	out := make([]string, 0, len(v))
	seen := make(map[string]struct{}, len(v))
	for _, scope := range v {
		if !IsScope(scope) {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}

// NormalizeTokenVersion coerces arbitrary input into a non-negative version.
func NormalizeTokenVersion(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// NormalizeClaims applies all three normalizers. Used at every boundary
// crossing: store reads, credential hydration, RPC input.
func NormalizeClaims(c Claims) Claims {
	return Claims{
		Role:         NormalizeRole(string(c.Role)),
		Scopes:       NormalizeScopes(c.Scopes),
		TokenVersion: NormalizeTokenVersion(c.TokenVersion),
	}
}
