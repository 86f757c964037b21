package rpc

import (
	"context"

	"flyttribe.org/internal/auth"
)

// AuthState tags the resolution state of a call.
type AuthState int

const (
	// StateUnresolved means the credential has not been inspected yet.
	StateUnresolved AuthState = iota
	// StateAnonymous means resolution ran and found no subject.
	StateAnonymous
	// StateAuthenticated means resolution produced a session with a subject.
	StateAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unresolved"
	}
}

// Resolver produces the session for a call, typically by decoding the bearer
// credential and reconciling it against the claims store. It is invoked at
// most once per call.
type Resolver func(ctx context.Context) (auth.Session, error)

// Call is the per-call context threaded through the guard chain. It is owned
// exclusively by one call and memoizes session resolution so repeated guard
// checks never re-fetch. Guards read and write only these fields.
type Call struct {
	RequestID     string
	CorrelationID string
	RemoteIP      string

	resolver Resolver

	resolved   bool
	resolveErr error
	session    auth.Session
	state      AuthState
	reverified bool
}

// NewCall builds a call context with a lazy resolver.
func NewCall(requestID, correlationID, remoteIP string, resolver Resolver) *Call {
	return &Call{
		RequestID:     requestID,
		CorrelationID: correlationID,
		RemoteIP:      remoteIP,
		resolver:      resolver,
		state:         StateUnresolved,
	}
}

// NewResolvedCall builds a call context whose session is already known,
// skipping lazy resolution. Used by tests and by transports that resolve the
// credential eagerly.
func NewResolvedCall(requestID, correlationID, remoteIP string, sess auth.Session) *Call {
	c := &Call{
		RequestID:     requestID,
		CorrelationID: correlationID,
		RemoteIP:      remoteIP,
		resolved:      true,
		session:       sess,
		state:         StateAnonymous,
	}
	if sess.Authenticated() {
		c.state = StateAuthenticated
	}
	return c
}

// Resolve returns the call's session, running the resolver on first use and
// returning the memoized outcome afterwards. A resolver failure (for example
// the claims store being unreachable) is memoized too so the call fails the
// same way however many guards inspect it.
func (c *Call) Resolve(ctx context.Context) (auth.Session, error) {
	if c.resolved {
		return c.session, c.resolveErr
	}
	c.resolved = true
	if c.resolver == nil {
		c.state = StateAnonymous
		return c.session, nil
	}
	sess, err := c.resolver(ctx)
	if err != nil {
		c.resolveErr = err
		c.state = StateAnonymous
		return auth.Session{}, err
	}
	c.session = sess
	if sess.Authenticated() {
		c.state = StateAuthenticated
	} else {
		c.state = StateAnonymous
	}
	return c.session, nil
}

// State returns the call's resolution state tag.
func (c *Call) State() AuthState { return c.state }

// Session returns the most recently resolved session without triggering
// resolution. Zero value until Resolve has run.
func (c *Call) Session() auth.Session { return c.session }

// setSession installs a replacement session, used by the freshly-verified
// guard after live reconciliation and on invalidation.
func (c *Call) setSession(sess auth.Session) {
	c.resolved = true
	c.session = sess
	if sess.Authenticated() {
		c.state = StateAuthenticated
	} else {
		c.state = StateAnonymous
	}
}

// Reverified reports whether a live store reconciliation succeeded during
// this call.
func (c *Call) Reverified() bool { return c.reverified }
