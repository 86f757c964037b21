package rpc

import (
	"context"
	"errors"
	"fmt"

	"flyttribe.org/internal/auth"
	"flyttribe.org/internal/obs"
)

// Guard is one composable check in the authorization chain. A nil return lets
// the chain continue; a non-nil return short-circuits the call before later
// guards or the procedure body run. Guards touch only the Call's memoized
// resolution fields.
type Guard func(ctx context.Context, call *Call) error

// Chain composes guards left to right. The first denial wins; no guard
// downgrades or swallows a denial from an earlier one.
func Chain(guards ...Guard) Guard {
	return func(ctx context.Context, call *Call) error {
		for _, g := range guards {
			if err := g(ctx, call); err != nil {
				return err
			}
		}
		return nil
	}
}

// Authenticated requires a resolved subject. It accepts the session's cached
// claims as-is: the bounded staleness window is acceptable at this level.
func Authenticated() Guard {
	return func(ctx context.Context, call *Call) error {
		sess, err := call.Resolve(ctx)
		if err != nil {
			return internal("session resolution failed")
		}
		if !sess.Authenticated() {
			return unauthenticated("authentication required")
		}
		return nil
	}
}

// FreshlyVerified requires a successful live reconciliation against the
// claims store during this call. Privilege-sensitive procedures use it when
// the bounded staleness of Authenticated is unacceptable. The refreshed
// claims replace the call's session so later guards in the chain see them.
func FreshlyVerified(store auth.Store) Guard {
	return func(ctx context.Context, call *Call) error {
		sess, err := call.Resolve(ctx)
		if err != nil {
			return internal("session resolution failed")
		}
		if !sess.Authenticated() {
			return unauthenticated("authentication required")
		}
		claims, err := store.GetClaims(ctx, sess.Subject)
		obs.ObserveClaimsRead()
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				call.setSession(auth.Session{})
				obs.ObserveSessionInvalidation("missing_user")
				return unauthenticated("identity no longer exists")
			}
			return internal("claims lookup failed")
		}
		if auth.NormalizeTokenVersion(sess.TokenVersion) != claims.TokenVersion {
			call.setSession(auth.Session{})
			obs.ObserveSessionInvalidation("version_mismatch")
			return unauthenticated("credential revoked")
		}
		next := sess
		next.Role = claims.Role
		next.Scopes = claims.Scopes
		next.TokenVersion = claims.TokenVersion
		call.setSession(next)
		call.reverified = true
		return nil
	}
}

// RequireRole denies with a forbidden error unless the call's role is in the
// allowed set. Runs after authentication, so a denial never reveals whether a
// resource exists.
func RequireRole(roles ...auth.Role) Guard {
	return func(_ context.Context, call *Call) error {
		sess := call.Session()
		for _, role := range roles {
			if sess.Role == role {
				return nil
			}
		}
		return forbidden(fmt.Sprintf("role %q is not permitted", sess.Role))
	}
}

// RequireScopes denies unless every required scope is present, compared by
// exact string match.
func RequireScopes(scopes ...string) Guard {
	return func(_ context.Context, call *Call) error {
		sess := call.Session()
		for _, scope := range scopes {
			if !sess.HasScope(scope) {
				return forbidden(fmt.Sprintf("missing scope %q", scope))
			}
		}
		return nil
	}
}
