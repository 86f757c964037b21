package httpapi

import (
	"net/http"
	"strings"

	"flyttribe.org/internal/rpc"
)

type updateAuthorizationRequest struct {
	Role   string   `json:"role"`
	Scopes []string `json:"scopes"`
}

type revokeResponse struct {
	TokenVersion int64 `json:"token_version"`
}

func (a *API) handleAdminUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "authorization":
		a.handleUpdateAuthorization(w, r, userID)
	case "revoke":
		a.handleRevokeSessions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUpdateAuthorization(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req updateAuthorizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	claims, err := a.svc.AdminUpdateUserAuthorization(r.Context(), callFromContext(r.Context()), rpc.UpdateAuthorizationInput{
		UserID: userID,
		Role:   req.Role,
		Scopes: req.Scopes,
	})
	if err != nil {
		handleRPCError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func (a *API) handleRevokeSessions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	version, err := a.svc.AdminRevokeUserSessions(r.Context(), callFromContext(r.Context()), userID)
	if err != nil {
		handleRPCError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{TokenVersion: version})
}
