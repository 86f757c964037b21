package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"flyttribe.org/internal/auth"
	"flyttribe.org/internal/rpc"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// sessionTokenHeader carries a reissued credential after a stale session
	// was reconciled in place. Clients replace their stored token when the
	// header is present.
	sessionTokenHeader = "X-Session-Token"
)

type callContextKey struct{}

func contextWithCall(ctx context.Context, call *rpc.Call) context.Context {
	return context.WithValue(ctx, callContextKey{}, call)
}

func callFromContext(ctx context.Context) *rpc.Call {
	if call, ok := ctx.Value(callContextKey{}).(*rpc.Call); ok {
		return call
	}
	return rpc.NewResolvedCall("", "", "", auth.Session{})
}

// withSession attaches a call context to every request. A request without a
// credential gets an anonymous call; a request with a bearer token gets a
// lazy resolver, so endpoints that never consult identity never pay for the
// store round-trip.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := RequestIDFromContext(r.Context())
		cid := CorrelationIDFromContext(r.Context())
		ip := clientIP(r)

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			call := rpc.NewResolvedCall(rid, cid, ip, auth.Session{})
			next.ServeHTTP(w, r.WithContext(contextWithCall(r.Context(), call)))
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		// Signature and expiry are checked here; whether the claims are
		// still current is decided lazily, only for endpoints that resolve.
		cached, err := a.codec.Decode(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid session token")
			return
		}

		call := rpc.NewCall(rid, cid, ip, func(ctx context.Context) (auth.Session, error) {
			current, err := a.verifier.Reconcile(ctx, cached)
			if err != nil {
				return auth.Session{}, err
			}
			if current.Authenticated() && current.VerifiedAt.After(cached.VerifiedAt) {
				if reissued, err := a.codec.Encode(current); err == nil {
					w.Header().Set(sessionTokenHeader, reissued)
				}
			}
			return current, nil
		})
		next.ServeHTTP(w, r.WithContext(contextWithCall(r.Context(), call)))
	})
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
