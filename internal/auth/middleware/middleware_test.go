package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/provas/internal/docstore"
	"github.com/mind-engage/provas/internal/identity"
	"github.com/mind-engage/provas/internal/rbac"
)

func newAuth() *AuthService {
	return NewAuthService("test-secret", time.Hour, identity.NewSessions(time.Hour, nil))
}

func echoRole() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(SubjectFromContext(r.Context()) + ":" + rbac.RoleFromContext(r.Context())))
	})
}

func TestJWTMiddleware(t *testing.T) {
	a := newAuth()
	tok, err := a.IssueJWT(identity.User{ID: "u1", DisplayName: "Alice"}, identity.RoleStudent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	h := JWTMiddleware(a)(echoRole())

	cases := []struct {
		name  string
		setup func(*http.Request)
		code  int
		body  string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, 200, "u1:aluno"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: tok}) }, 200, "u1:aluno"},
		{"query", func(r *http.Request) { r.URL.RawQuery = "access_token=" + tok }, 200, "u1:aluno"},
		{"missing", func(*http.Request) {}, 401, ""},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, 401, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("expected %q, got %q", tc.body, rec.Body.String())
			}
		})
	}
}

func TestForeignSignatureRejected(t *testing.T) {
	other := NewAuthService("other-secret", time.Hour, identity.NewSessions(time.Hour, nil))
	tok, _ := other.IssueJWT(identity.User{ID: "u1"}, identity.RoleAdmin)
	if _, err := newAuth().Parse(tok); err == nil {
		t.Fatalf("token signed with another secret must not parse")
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	a := newAuth()
	tok, _ := a.IssueJWT(identity.User{ID: "u1"}, identity.RoleStudent)
	mw := JWTMiddleware(a)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	mw(LogoutHandler(a)).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	mw(MeHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("signed-out token should be refused, got %d", rec.Code)
	}
}

func TestAdminLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	a := newAuth()
	h := AdminLoginHandler(a, "admin", string(hash))

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/admin/login", strings.NewReader(body)))
		return rec
	}
	if rec := post(`{"username":"admin","password":"wrong"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", rec.Code)
	}
	if rec := post(`{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", rec.Code)
	}
	rec := post(`{"username":"admin","password":"s3cret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	var out map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&out)
	c, err := a.Parse(out["access_token"])
	if err != nil || c.Role != identity.RoleAdmin {
		t.Fatalf("expected an admin token, got %+v (%v)", c, err)
	}

	disabled := AdminLoginHandler(a, "admin", "")
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"admin","password":""}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no hash configured: expected 401, got %d", rec.Code)
	}
}

func TestAttachRoleFromProfiles(t *testing.T) {
	store := docstore.NewMemory(nil)
	profiles := identity.NewProfiles(store)
	a := newAuth()
	ctx := context.Background()

	// token says admin, the stored profile says otherwise
	_, _ = profiles.Ensure(ctx, identity.User{ID: "u1"})
	tok, _ := a.IssueJWT(identity.User{ID: "u1"}, identity.RoleAdmin)
	h := JWTMiddleware(a)(AttachRoleFromProfiles(profiles, false)(echoRole()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Body.String() != "u1:aluno" {
		t.Fatalf("stored role should win, got %q", rec.Body.String())
	}

	_ = store.Set(ctx, "admins/u1", map[string]any{}, false)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Body.String() != "u1:admin" {
		t.Fatalf("admins entry should promote, got %q", rec.Body.String())
	}

	local, _ := a.IssueJWT(identity.User{ID: localPrefix + "root", DisplayName: "root"}, identity.RoleAdmin)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+local)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Body.String() != "local-root:admin" {
		t.Fatalf("local admin keeps its role, got %q", rec.Body.String())
	}
}
