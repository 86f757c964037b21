package auth

import "context"

// Store describes persistence operations required by the claims subsystem.
// Implementations must make every mutation atomic: a cancelled call leaves no
// partial state observable.
type Store interface {
	// GetClaims returns the current claims for the user, normalized.
	// Plain read: takes no lock and may run concurrently with mutations.
	GetClaims(ctx context.Context, userID string) (Claims, error)

	// UpdateClaims replaces role and scopes inside a serialized transaction
	// and bumps the token version by exactly one, even when the new values
	// equal the current ones. The unconditional bump guarantees that every
	// authorization-relevant write invalidates all outstanding credentials
	// for the user. Returns ErrNotFound or ErrLastAdmin.
	UpdateClaims(ctx context.Context, userID string, role Role, scopes []string) (Claims, error)

	// Revoke bumps the token version without touching role or scopes,
	// forcing re-authentication while leaving privileges intact.
	// Returns the new version or ErrNotFound.
	Revoke(ctx context.Context, userID string) (int64, error)

	// BootstrapFirstAdmin promotes the user to administrator inside a
	// serialized transaction, but only while no administrator exists.
	// Returns ErrAlreadyInitialized or ErrNotFound.
	BootstrapFirstAdmin(ctx context.Context, userID string, scopes []string) (Claims, error)

	// HasAdmin reports whether any administrator record exists.
	HasAdmin(ctx context.Context) (bool, error)
}
