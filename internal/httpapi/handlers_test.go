package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flyttribe.org/internal/auth"
	"flyttribe.org/internal/rpc"
)

const (
	testSecret          = "0123456789abcdef0123456789abcdef"
	testBootstrapSecret = "bootstrap-secret-0123456789"
	testAdminID         = "11111111-1111-4111-8111-111111111111"
	testUserID          = "33333333-3333-4333-8333-333333333333"
)

// memStore is an in-memory claims store for end-to-end handler tests.
type memStore struct {
	claims map[string]auth.Claims
}

func newMemStore() *memStore {
	return &memStore{claims: map[string]auth.Claims{
		testAdminID: {Role: auth.RoleAdmin, Scopes: []string{"auth:read"}, TokenVersion: 1},
		testUserID:  {Role: auth.RoleUser, Scopes: []string{}, TokenVersion: 0},
	}}
}

func (s *memStore) GetClaims(_ context.Context, userID string) (auth.Claims, error) {
	c, ok := s.claims[userID]
	if !ok {
		return auth.Claims{}, auth.ErrNotFound
	}
	return auth.NormalizeClaims(c), nil
}

func (s *memStore) UpdateClaims(_ context.Context, userID string, role auth.Role, scopes []string) (auth.Claims, error) {
	current, ok := s.claims[userID]
	if !ok {
		return auth.Claims{}, auth.ErrNotFound
	}
	if current.Role == auth.RoleAdmin && role != auth.RoleAdmin {
		admins := 0
		for _, c := range s.claims {
			if c.Role == auth.RoleAdmin {
				admins++
			}
		}
		if admins <= 1 {
			return auth.Claims{}, auth.ErrLastAdmin
		}
	}
	next := auth.Claims{Role: role, Scopes: auth.NormalizeScopes(scopes), TokenVersion: current.TokenVersion + 1}
	s.claims[userID] = next
	return next, nil
}

func (s *memStore) Revoke(_ context.Context, userID string) (int64, error) {
	current, ok := s.claims[userID]
	if !ok {
		return 0, auth.ErrNotFound
	}
	current.TokenVersion++
	s.claims[userID] = current
	return current.TokenVersion, nil
}

func (s *memStore) BootstrapFirstAdmin(_ context.Context, userID string, scopes []string) (auth.Claims, error) {
	for _, c := range s.claims {
		if c.Role == auth.RoleAdmin {
			return auth.Claims{}, auth.ErrAlreadyInitialized
		}
	}
	current, ok := s.claims[userID]
	if !ok {
		return auth.Claims{}, auth.ErrNotFound
	}
	next := auth.Claims{Role: auth.RoleAdmin, Scopes: auth.NormalizeScopes(scopes), TokenVersion: current.TokenVersion + 1}
	s.claims[userID] = next
	return next, nil
}

func (s *memStore) HasAdmin(context.Context) (bool, error) {
	for _, c := range s.claims {
		if c.Role == auth.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memStore
}

func newTestAPI(t *testing.T) *apiClient {
	return newTestAPIWithInterval(t, 5*time.Second)
}

func newTestAPIWithInterval(t *testing.T, interval time.Duration) *apiClient {
	t.Helper()

	store := newMemStore()
	codec, err := auth.NewCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	verifier := auth.NewVerifier(store, interval)
	svc := rpc.NewService(store)

	api := New(ReadyProbe{}, "test", svc, codec, verifier, []string{"github", "google"}, "github", testBootstrapSecret)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodGet, path, nil, headers)
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func bootstrapHeader() map[string]string {
	return map[string]string{bootstrapSecretHeader: testBootstrapSecret}
}

func (c *apiClient) signIn(userID string) sessionResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/session", signInRequest{UserID: userID, Name: "Test User"}, bootstrapHeader())
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("sign-in status %d", resp.StatusCode)
	}
	var out sessionResponse
	decodeBody(c.t, resp, &out)
	return out
}

func bearerFor(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" || body["ping"] != "pong" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSignInUnknownUser(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/v1/auth/session", signInRequest{UserID: "99999999-9999-4999-8999-999999999999"}, bootstrapHeader())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSignInRejectsUnknownProvider(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/v1/auth/session", signInRequest{Provider: "facebook", UserID: testUserID}, bootstrapHeader())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// Knowing a user id must never be enough to mint a session: the sign-in
// endpoint only trusts callers holding the shared bootstrap secret.
func TestSignInRequiresBootstrapSecret(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/session", signInRequest{UserID: testAdminID}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing secret: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/auth/session", signInRequest{UserID: testAdminID},
		map[string]string{bootstrapSecretHeader: "wrong-secret"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMeRequiresCredential(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/me", bearerFor("garbage.token.here"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSignInThenMe(t *testing.T) {
	c := newTestAPI(t)
	sess := c.signIn(testUserID)

	resp := c.get("/v1/me", bearerFor(sess.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var me rpc.MeResult
	decodeBody(t, resp, &me)
	if me.Subject != testUserID || me.Name != "Test User" {
		t.Fatalf("unexpected me: %+v", me)
	}
}

// Scope grant end to end: denied, granted by an admin, the outstanding
// credential invalidated by the version bump, then permitted after a fresh
// sign-in.
func TestScopeGrantFlowEndToEnd(t *testing.T) {
	c := newTestAPI(t)
	adminSess := c.signIn(testAdminID)
	userSess := c.signIn(testUserID)

	resp := c.get("/v1/auth/access", bearerFor(userSess.Token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("before grant: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/admin/users/"+testUserID+"/authorization",
		updateAuthorizationRequest{Role: "user", Scopes: []string{"auth:read"}},
		bearerFor(adminSess.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant: status %d", resp.StatusCode)
	}
	var granted auth.Claims
	decodeBody(t, resp, &granted)
	if granted.TokenVersion != 1 {
		t.Fatalf("grant must bump version to 1, got %d", granted.TokenVersion)
	}

	// The old credential carries version 0; the store now says 1.
	resp = c.get("/v1/auth/access", bearerFor(userSess.Token))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stale credential: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	fresh := c.signIn(testUserID)
	resp = c.get("/v1/auth/access", bearerFor(fresh.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("after re-auth: status %d", resp.StatusCode)
	}
	var access rpc.AccessResult
	decodeBody(t, resp, &access)
	if len(access.Scopes) != 1 || access.Scopes[0] != "auth:read" {
		t.Fatalf("unexpected scopes: %v", access.Scopes)
	}
}

func TestRevokeInvalidatesOutstandingCredential(t *testing.T) {
	c := newTestAPI(t)
	adminSess := c.signIn(testAdminID)
	userSess := c.signIn(testUserID)

	resp := c.post("/v1/admin/users/"+testUserID+"/revoke", nil, bearerFor(adminSess.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status %d", resp.StatusCode)
	}
	var out revokeResponse
	decodeBody(t, resp, &out)
	if out.TokenVersion != 1 {
		t.Fatalf("expected version 1, got %d", out.TokenVersion)
	}

	// Strict endpoints reject the revoked credential.
	resp = c.get("/v1/auth/access", bearerFor(userSess.Token))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked credential: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	c := newTestAPI(t)
	userSess := c.signIn(testUserID)

	resp := c.post("/v1/admin/users/"+testUserID+"/authorization",
		updateAuthorizationRequest{Role: "admin"},
		bearerFor(userSess.Token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("authorization: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/admin/users/"+testUserID+"/revoke", nil, bearerFor(userSess.Token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("revoke: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLastAdminDemotionConflicts(t *testing.T) {
	c := newTestAPI(t)
	adminSess := c.signIn(testAdminID)

	resp := c.post("/v1/admin/users/"+testAdminID+"/authorization",
		updateAuthorizationRequest{Role: "user"},
		bearerFor(adminSess.Token))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUpdateAuthorizationValidation(t *testing.T) {
	c := newTestAPI(t)
	adminSess := c.signIn(testAdminID)

	resp := c.post("/v1/admin/users/not-a-uuid/authorization",
		updateAuthorizationRequest{Role: "user"},
		bearerFor(adminSess.Token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad uuid: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/admin/users/"+testUserID+"/authorization",
		updateAuthorizationRequest{Role: "superuser"},
		bearerFor(adminSess.Token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad role: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminUpdateUnknownUser(t *testing.T) {
	c := newTestAPI(t)
	adminSess := c.signIn(testAdminID)

	resp := c.post("/v1/admin/users/99999999-9999-4999-8999-999999999999/authorization",
		updateAuthorizationRequest{Role: "user"},
		bearerFor(adminSess.Token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStaleSessionReissuesToken(t *testing.T) {
	// Interval zero forces every resolution down the reconcile path.
	c := newTestAPIWithInterval(t, 0)
	sess := c.signIn(testUserID)

	time.Sleep(5 * time.Millisecond)
	resp := c.get("/v1/me", bearerFor(sess.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	reissued := resp.Header.Get("X-Session-Token")
	resp.Body.Close()
	if reissued == "" {
		t.Fatalf("expected a reissued session token header")
	}
	if reissued == sess.Token {
		t.Fatalf("reissued token must differ from the original")
	}

	// The reissued credential is itself valid.
	resp = c.get("/v1/me", bearerFor(reissued))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reissued token rejected: status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnknownRouteIs404(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/v1/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp.Body.Close()
}
