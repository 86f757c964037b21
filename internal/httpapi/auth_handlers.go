package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"flyttribe.org/internal/audit"
	"flyttribe.org/internal/auth"
)

type signInRequest struct {
	Provider string `json:"provider"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

type sessionResponse struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Subject      string    `json:"subject"`
	Role         auth.Role `json:"role"`
	Scopes       []string  `json:"scopes"`
	TokenVersion int64     `json:"token_version"`
}

// bootstrapSecretHeader must carry the shared sign-in secret. Only the
// provider callback relay knows it, so an identity assertion without it is
// rejected before any claims are read.
const bootstrapSecretHeader = "X-Bootstrap-Secret"

// handleSignIn exchanges a verified provider identity for a session token.
// The caller arrives here after the provider callback has confirmed who they
// are; this endpoint loads the user's current claims and mints the
// credential that caches them.
func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	presented := r.Header.Get(bootstrapSecretHeader)
	if a.signInSecret == "" ||
		subtle.ConstantTimeCompare([]byte(presented), []byte(a.signInSecret)) != 1 {
		_ = audit.LogEvent(r.Context(), audit.EventLoginFail, map[string]any{
			"reason": "bad_bootstrap_secret",
		})
		writeError(w, r, http.StatusUnauthorized, "invalid bootstrap secret")
		return
	}

	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = a.defaultProvider
	}
	if !a.providerEnabled(provider) {
		writeError(w, r, http.StatusBadRequest, "unknown provider")
		return
	}
	if _, err := uuid.Parse(strings.TrimSpace(req.UserID)); err != nil {
		writeError(w, r, http.StatusBadRequest, "user_id must be a valid uuid")
		return
	}

	sess, err := a.verifier.NewSession(r.Context(), strings.TrimSpace(req.UserID), req.Name, req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			_ = audit.LogEvent(r.Context(), audit.EventLoginFail, map[string]any{
				"provider": provider,
				"user_id":  req.UserID,
				"reason":   "unknown_user",
			})
			writeError(w, r, http.StatusUnauthorized, "unknown user")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "sign-in failed")
		return
	}

	token, err := a.codec.Encode(sess)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "sign-in failed")
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventLoginSuccess, map[string]any{
		"provider":      provider,
		"user_id":       sess.Subject,
		"role":          sess.Role,
		"token_version": sess.TokenVersion,
	})

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:        token,
		ExpiresAt:    sess.VerifiedAt.Add(a.codec.TTL()).UTC(),
		Subject:      sess.Subject,
		Role:         sess.Role,
		Scopes:       sess.Scopes,
		TokenVersion: sess.TokenVersion,
	})
}

func (a *API) providerEnabled(provider string) bool {
	for _, p := range a.providers {
		if p == provider {
			return true
		}
	}
	return false
}
