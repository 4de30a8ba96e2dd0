package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/query"
)

// fakeStore is a minimal in-memory auth.Store for exercising the HTTP layer.
type fakeStore struct {
	mu         sync.Mutex
	principals map[string]*auth.Principal
	byEmail    map[string]string
	tokens     map[string]*auth.RefreshToken
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		principals: make(map[string]*auth.Principal),
		byEmail:    make(map[string]string),
		tokens:     make(map[string]*auth.RefreshToken),
	}
}

func (f *fakeStore) Principals(ctx context.Context) auth.PrincipalStore { return (*fakePrincipals)(f) }
func (f *fakeStore) RefreshTokens(ctx context.Context) auth.RefreshTokenStore {
	return (*fakeTokens)(f)
}

type fakePrincipals fakeStore

func (f *fakePrincipals) Create(ctx context.Context, p *auth.Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[p.Email]; ok {
		return auth.ErrAlreadyExists
	}
	cp := *p
	f.principals[p.ID] = &cp
	f.byEmail[p.Email] = p.ID
	return nil
}

func (f *fakePrincipals) FindByID(ctx context.Context, id string) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePrincipals) FindByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *f.principals[id]
	return &cp, nil
}

func (f *fakePrincipals) UpdatePassword(ctx context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func (f *fakePrincipals) SoftDelete(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok || p.DeletedAt != nil {
		return auth.ErrNotFound
	}
	p.DeletedAt = &at
	return nil
}

type fakeTokens fakeStore

func (f *fakeTokens) Create(ctx context.Context, tok *auth.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *tok
	f.tokens[tok.ID] = &cp
	return nil
}

func (f *fakeTokens) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (f *fakeTokens) Consume(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok || tok.ConsumedAt != nil {
		return auth.ErrRefreshAlreadyUsed
	}
	tok.ConsumedAt = &at
	return nil
}

func (f *fakeTokens) RevokeByPrincipal(ctx context.Context, principalID string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, tok := range f.tokens {
		if tok.PrincipalID == principalID && tok.ConsumedAt == nil {
			tok.ConsumedAt = &at
			n++
		}
	}
	return n, nil
}

// stubExecutor records the predicate set it was handed and serves canned rows.
type stubExecutor struct {
	mu       sync.Mutex
	lastSet  query.PredicateSet
	rows     []json.RawMessage
	failWith error
}

func (s *stubExecutor) Count(ctx context.Context, schema query.Schema, set query.PredicateSet) (int64, error) {
	s.mu.Lock()
	s.lastSet = set
	s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	return int64(len(s.rows)), nil
}

func (s *stubExecutor) Fetch(ctx context.Context, schema query.Schema, set query.PredicateSet, sort query.Sort, limit, offset int) ([]json.RawMessage, error) {
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

type testEnv struct {
	api   *API
	store *fakeStore
	exec  *stubExecutor
	svc   *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	svc, err := auth.NewService(store, "test-secret-0123456789", auth.WithIssuer("gatehouse-test"))
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	exec := &stubExecutor{rows: []json.RawMessage{json.RawMessage(`{"id":"p-1"}`)}}
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}
	api := New(Deps{
		Auth:      svc,
		Engine:    query.NewEngine(exec, query.WithRetryBackoff(0)),
		Trail:     audit.New(nil),
		Resources: reg,
		Version:   "test",
	})
	return &testEnv{api: api, store: store, exec: exec, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rr, req)
	return rr
}

// register/login shortcut for tests needing an authenticated caller.
func (e *testEnv) loginAs(t *testing.T, email string, role auth.Role, org string) (auth.TokenPair, *auth.Principal) {
	t.Helper()
	p, err := e.svc.Register(context.Background(), email, "password123", org, role)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	pair, _, err := e.svc.Login(context.Background(), email, "password123")
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return pair, p
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("body = %v", body)
	}
}

func TestRegisterLoginRefreshLogout(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email":           "alice@example.com",
		"password":        "password123",
		"organization_id": "org-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    "alice@example.com",
		"password": "password123",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rr.Code, rr.Body.String())
	}
	var login loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatal("token pair missing")
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": login.RefreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body=%s", rr.Code, rr.Body.String())
	}
	var rotated auth.TokenPair
	if err := json.Unmarshal(rr.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}

	// the consumed token is now useless
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": login.RefreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/logout", rotated.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": rotated.RefreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d", rr.Code)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t)
	env.loginAs(t, "bob@example.com", auth.RoleMember, "org-1")

	unknown := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "nobody@example.com", "password": "password123",
	})
	wrongPw := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "bob@example.com", "password": "wrong-password",
	})
	if unknown.Code != http.StatusUnauthorized || wrongPw.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d", unknown.Code, wrongPw.Code)
	}
	if unknown.Body.String() != wrongPw.Body.String() {
		// request ids differ; compare error messages only
		var a, b map[string]any
		_ = json.Unmarshal(unknown.Body.Bytes(), &a)
		_ = json.Unmarshal(wrongPw.Body.Bytes(), &b)
		if a["error"] != b["error"] {
			t.Fatalf("login error bodies diverge: %v vs %v", a["error"], b["error"])
		}
	}
}

// Self-signup takes the declared organization at face value but grants
// only the member role, which holds no search or admin surface.
func TestRegisterSelfSignupOrganizationIsDeclarative(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email": "joiner@example.com", "password": "password123",
		"organization_id": "org-claimed",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("self-signup status = %d body=%s", rr.Code, rr.Body.String())
	}
	var created auth.Principal
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Role != auth.RoleMember {
		t.Fatalf("role = %q, want member", created.Role)
	}
	if created.OrganizationID != "org-claimed" {
		t.Fatalf("org = %q", created.OrganizationID)
	}

	// the claimed organization buys no visibility into tenant data
	rr = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "joiner@example.com", "password": "password123",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d", rr.Code)
	}
	var lr loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &lr); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	rr = env.do(t, http.MethodPost, "/v1/principals/search", lr.AccessToken, map[string]any{})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("member search status = %d", rr.Code)
	}
}

func TestRegisterElevatedRoleRequiresGrant(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"email": "mallory@example.com", "password": "password123",
		"role": "orgAdmin", "organization_id": "org-1",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous elevated register status = %d", rr.Code)
	}

	member, _ := env.loginAs(t, "member@example.com", auth.RoleMember, "org-1")
	rr = env.do(t, http.MethodPost, "/v1/auth/register", member.AccessToken, map[string]any{
		"email": "mallory2@example.com", "password": "password123",
		"role": "orgAdmin", "organization_id": "org-1",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("member elevated register status = %d", rr.Code)
	}

	orgAdmin, _ := env.loginAs(t, "boss@example.com", auth.RoleOrgAdmin, "org-1")
	rr = env.do(t, http.MethodPost, "/v1/auth/register", orgAdmin.AccessToken, map[string]any{
		"email": "mod@example.com", "password": "password123",
		"role": "moderator",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("orgAdmin moderator register status = %d body=%s", rr.Code, rr.Body.String())
	}
	var created auth.Principal
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.OrganizationID != "org-1" {
		t.Fatalf("created org = %q, want caller org", created.OrganizationID)
	}

	// scoped admin cannot plant principals in another tenant
	rr = env.do(t, http.MethodPost, "/v1/auth/register", orgAdmin.AccessToken, map[string]any{
		"email": "spy@example.com", "password": "password123",
		"role": "moderator", "organization_id": "org-2",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("cross-org register status = %d", rr.Code)
	}
}

func TestDeactivatePrincipal(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := env.loginAs(t, "root@example.com", auth.RoleAdmin, "")
	orgAdmin, _ := env.loginAs(t, "boss@example.com", auth.RoleOrgAdmin, "org-1")
	_, victim := env.loginAs(t, "victim@example.com", auth.RoleMember, "org-2")

	// scoped admin cannot see, let alone deactivate, another tenant's member
	rr := env.do(t, http.MethodDelete, "/v1/principals/"+victim.ID, orgAdmin.AccessToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-org deactivate status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/v1/principals/"+victim.ID, admin.AccessToken, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("deactivate status = %d body=%s", rr.Code, rr.Body.String())
	}

	// repeat deactivation conflicts
	rr = env.do(t, http.MethodDelete, "/v1/principals/"+victim.ID, admin.AccessToken, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second deactivate status = %d", rr.Code)
	}

	// deactivated principal can no longer log in
	rr = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "victim@example.com", "password": "password123",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("login after deactivation status = %d", rr.Code)
	}
}

func TestRotatePasswordEndpoint(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.loginAs(t, "carol@example.com", auth.RoleMember, "org-1")

	rr := env.do(t, http.MethodPost, "/v1/auth/password", pair.AccessToken, map[string]any{
		"current_password": "wrong", "new_password": "password456",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current password status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/password", pair.AccessToken, map[string]any{
		"current_password": "password123", "new_password": "password456",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("rotate status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email": "carol@example.com", "password": "password456",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login with rotated password status = %d", rr.Code)
	}
}
