package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"flyttribe.org/internal/audit"
	"flyttribe.org/internal/auth"
)

// Service exposes the authorization procedures. Each operation composes its
// guard chain from the levels below; a denial anywhere in the chain
// short-circuits before the body runs.
type Service struct {
	store    auth.Store
	now      func() time.Time
	onDenial func(code string)
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithDenialHook registers a callback invoked with the taxonomy code of every
// guard denial, used to feed metrics.
func WithDenialHook(fn func(code string)) ServiceOption {
	return func(s *Service) { s.onDenial = fn }
}

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the procedure layer over the claims store.
func NewService(store auth.Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Guard levels. Procedures pick the weakest level that satisfies their
// sensitivity; anything that changes authorization state uses Strict or above.

// Protected requires a resolved subject; cached claims are acceptable.
func (s *Service) Protected() Guard { return Authenticated() }

// Strict additionally requires live reconciliation against the store during
// this call.
func (s *Service) Strict() Guard {
	return Chain(Authenticated(), FreshlyVerified(s.store))
}

// RoleProtected gates on the reverified role.
func (s *Service) RoleProtected(roles ...auth.Role) Guard {
	return Chain(s.Strict(), RequireRole(roles...))
}

// ScopeProtected gates on the reverified scope set.
func (s *Service) ScopeProtected(scopes ...string) Guard {
	return Chain(s.Strict(), RequireScopes(scopes...))
}

// authorize runs the guard and records any denial.
func (s *Service) authorize(ctx context.Context, call *Call, guard Guard) error {
	if err := guard(ctx, call); err != nil {
		var rpcErr *Error
		if s.onDenial != nil && errors.As(err, &rpcErr) {
			s.onDenial(rpcErr.Code.String())
		}
		return err
	}
	return nil
}

// auditContext threads call identifiers and the acting user into the context
// for security event logging.
func auditContext(ctx context.Context, call *Call) context.Context {
	ctx = audit.WithRequestID(ctx, call.RequestID)
	ctx = audit.WithCorrelationID(ctx, call.CorrelationID)
	if sess := call.Session(); sess.Authenticated() {
		ctx = auth.ContextWithUserID(ctx, sess.Subject)
	}
	return ctx
}

// HealthResult is the public health probe payload.
type HealthResult struct {
	OK   bool      `json:"ok"`
	Ping string    `json:"ping"`
	Time time.Time `json:"ts"`
}

// Health is a public procedure: no guard runs at all.
func (s *Service) Health(_ context.Context, ping string) HealthResult {
	if ping == "" {
		ping = "pong"
	}
	return HealthResult{OK: true, Ping: ping, Time: s.now().UTC()}
}

// MeResult mirrors the caller's current session claims.
type MeResult struct {
	Subject string      `json:"subject"`
	Name    string      `json:"name,omitempty"`
	Email   string      `json:"email,omitempty"`
	Claims  auth.Claims `json:"claims"`
}

// Me returns the caller's claims as currently cached in the credential. It
// deliberately tolerates the bounded staleness window: the endpoint exists
// for display, not for privilege decisions.
func (s *Service) Me(ctx context.Context, call *Call) (MeResult, error) {
	if err := s.authorize(ctx, call, s.Protected()); err != nil {
		return MeResult{}, err
	}
	sess := call.Session()
	return MeResult{
		Subject: sess.Subject,
		Name:    sess.Name,
		Email:   sess.Email,
		Claims:  sess.Claims(),
	}, nil
}

// AccessResult reports the caller's reverified authorization state.
type AccessResult struct {
	Role   auth.Role `json:"role"`
	Scopes []string  `json:"scopes"`
}

// AuthAccess requires the auth:read scope on freshly reverified claims.
func (s *Service) AuthAccess(ctx context.Context, call *Call) (AccessResult, error) {
	if err := s.authorize(ctx, call, s.ScopeProtected("auth:read")); err != nil {
		return AccessResult{}, err
	}
	sess := call.Session()
	return AccessResult{Role: sess.Role, Scopes: sess.Scopes}, nil
}

// UpdateAuthorizationInput is the admin mutation payload. Malformed input is
// rejected here, at the boundary; normalization never errors.
type UpdateAuthorizationInput struct {
	UserID string   `json:"user_id"`
	Role   string   `json:"role"`
	Scopes []string `json:"scopes"`
}

func (in UpdateAuthorizationInput) validate() error {
	if _, err := uuid.Parse(in.UserID); err != nil {
		return invalidInput("user_id must be a valid uuid")
	}
	if !auth.IsRole(in.Role) {
		return invalidInput("role must be one of: user, admin")
	}
	for _, scope := range in.Scopes {
		if !auth.IsScope(scope) {
			return invalidInput("scope " + scope + " is malformed")
		}
	}
	return nil
}

// AdminUpdateUserAuthorization replaces the target user's role and scopes.
// Admin only. The store bumps the token version even when nothing changed,
// so every outstanding credential for the target is invalidated.
func (s *Service) AdminUpdateUserAuthorization(ctx context.Context, call *Call, in UpdateAuthorizationInput) (auth.Claims, error) {
	if err := s.authorize(ctx, call, s.RoleProtected(auth.RoleAdmin)); err != nil {
		return auth.Claims{}, err
	}
	if err := in.validate(); err != nil {
		return auth.Claims{}, err
	}

	claims, err := s.store.UpdateClaims(ctx, in.UserID, auth.NormalizeRole(in.Role), auth.NormalizeScopes(in.Scopes))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFound):
			return auth.Claims{}, notFound("user not found")
		case errors.Is(err, auth.ErrLastAdmin):
			return auth.Claims{}, conflict("cannot remove admin role from the last administrator")
		default:
			return auth.Claims{}, internal("authorization update failed")
		}
	}

	_ = audit.LogEvent(auditContext(ctx, call), audit.EventRoleChange, map[string]any{
		"target_user_id": in.UserID,
		"role":           claims.Role,
		"scopes_count":   len(claims.Scopes),
		"token_version":  claims.TokenVersion,
	})
	return claims, nil
}

// AdminRevokeUserSessions bumps the target's token version without touching
// privileges, forcing re-authentication everywhere. Admin only.
func (s *Service) AdminRevokeUserSessions(ctx context.Context, call *Call, userID string) (int64, error) {
	if err := s.authorize(ctx, call, s.RoleProtected(auth.RoleAdmin)); err != nil {
		return 0, err
	}
	if _, err := uuid.Parse(userID); err != nil {
		return 0, invalidInput("user_id must be a valid uuid")
	}

	version, err := s.store.Revoke(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return 0, notFound("user not found")
		}
		return 0, internal("revocation failed")
	}

	_ = audit.LogEvent(auditContext(ctx, call), audit.EventRevoke, map[string]any{
		"target_user_id": userID,
		"token_version":  version,
	})
	return version, nil
}
