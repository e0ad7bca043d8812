package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckerDefaults(t *testing.T) {
	c := NewChecker(nil)
	cases := []struct {
		role, perm string
		want       bool
	}{
		{"aluno", "attempt:open", true},
		{"aluno", "attempt:finish", true},
		{"aluno", "prova:edit", false},
		{"aluno", "results:reset", false},
		{"admin", "results:reset", true},
		{"admin", "anything:at-all", true},
		{"", "attempt:open", false},
		{"ghost", "prova:view", false},
	}
	for _, tc := range cases {
		if got := c.Has(tc.role, tc.perm); got != tc.want {
			t.Fatalf("Has(%q, %q) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

func TestWildcardSuffix(t *testing.T) {
	c := NewChecker(map[string][]string{"grader": {"results:*"}})
	if !c.Has("grader", "results:view") || c.Has("grader", "prova:view") {
		t.Fatalf("suffix wildcard mismatch")
	}
	if !c.Any("grader", "prova:view", "results:audit") {
		t.Fatalf("Any should match one permission")
	}
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Require("results:reset")(ok)

	for role, want := range map[string]int{"admin": http.StatusNoContent, "aluno": http.StatusForbidden, "": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodDelete, "/admin/results/x", nil)
		req = req.WithContext(WithRole(context.Background(), role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("role %q: expected %d, got %d", role, want, rec.Code)
		}
	}

	either := RequireAny("prova:edit", "prova:view")(ok)
	req := httptest.NewRequest(http.MethodGet, "/provas", nil).WithContext(WithRole(context.Background(), "aluno"))
	rec := httptest.NewRecorder()
	either.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("aluno should pass RequireAny via prova:view, got %d", rec.Code)
	}
}
