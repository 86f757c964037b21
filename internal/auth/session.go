package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Verifier decides when a session's cached claims can be trusted and when
// they must be reconciled against the claims store. The refresh interval
// bounds how long a revoked privilege can survive inside an outstanding
// credential: a stale session is re-checked on its next call, so propagation
// delay is at most the interval.
type Verifier struct {
	store    Store
	interval time.Duration
	now      func() time.Time

	onInvalidate func(reason string)
	onRead       func()
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// WithInvalidationHook registers a callback invoked whenever a session is
// invalidated, with the reason ("missing_user" or "version_mismatch").
func WithInvalidationHook(fn func(reason string)) VerifierOption {
	return func(v *Verifier) {
		v.onInvalidate = fn
	}
}

// WithReadHook registers a callback invoked on every claims store read,
// used to feed metrics.
func WithReadHook(fn func()) VerifierOption {
	return func(v *Verifier) {
		v.onRead = fn
	}
}

// NewVerifier constructs a Verifier. The interval must already be validated
// by configuration; a negative value is treated as zero (always reconcile).
func NewVerifier(store Store, interval time.Duration, opts ...VerifierOption) *Verifier {
	if interval < 0 {
		interval = 0
	}
	v := &Verifier{store: store, interval: interval, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Fresh reports whether the session's cached claims are still inside the
// refresh window. A session without a subject is never fresh.
func (v *Verifier) Fresh(sess Session) bool {
	if !sess.Authenticated() {
		return false
	}
	return v.now().Sub(sess.VerifiedAt) <= v.interval
}

// Reconcile returns the session to use for the rest of the call.
//
// Fresh sessions are returned unchanged without touching the store. Stale
// sessions are compared against current store claims: a missing user or a
// token version mismatch invalidates the credential entirely (zero Session,
// forcing re-authentication rather than a silent downgrade), while a match
// refreshes role, scopes and VerifiedAt from the normalized store values.
func (v *Verifier) Reconcile(ctx context.Context, sess Session) (Session, error) {
	if v.Fresh(sess) {
		return sess, nil
	}
	if !sess.Authenticated() {
		return Session{}, nil
	}

	claims, err := v.store.GetClaims(ctx, sess.Subject)
	v.observeRead()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v.invalidate("missing_user"), nil
		}
		return Session{}, fmt.Errorf("reconcile claims: %w", err)
	}

	// A credential that never carried a version only matches a store that
	// has never revoked, i.e. version 0.
	if NormalizeTokenVersion(sess.TokenVersion) != claims.TokenVersion {
		return v.invalidate("version_mismatch"), nil
	}

	next := sess
	next.Role = claims.Role
	next.Scopes = claims.Scopes
	next.TokenVersion = claims.TokenVersion
	next.VerifiedAt = v.now()
	return next, nil
}

func (v *Verifier) observeRead() {
	if v.onRead != nil {
		v.onRead()
	}
}

func (v *Verifier) invalidate(reason string) Session {
	if v.onInvalidate != nil {
		v.onInvalidate(reason)
	}
	return Session{}
}

// NewSession builds the session minted at sign-in by copying the identity
// record's normalized claims. VerifiedAt is set to now: the copy itself is
// the first reconciliation.
func (v *Verifier) NewSession(ctx context.Context, userID, name, email string) (Session, error) {
	claims, err := v.store.GetClaims(ctx, userID)
	v.observeRead()
	if err != nil {
		return Session{}, err
	}
	return Session{
		Subject:      userID,
		Name:         name,
		Email:        email,
		Role:         claims.Role,
		Scopes:       claims.Scopes,
		TokenVersion: claims.TokenVersion,
		VerifiedAt:   v.now(),
	}, nil
}
