package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/mind-engage/provas/internal/identity"
	"github.com/mind-engage/provas/internal/rbac"
)

// AttachRoleFromProfiles replaces the token's role with the stored one, so a
// demoted admin loses access without signing out.
// allowClaimFallback=true in offline mode; false online.
func AttachRoleFromProfiles(profiles *identity.Profiles, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			c := ClaimsFromContext(ctx)
			if c == nil {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			// the local admin has no stored profile
			if c.Role == identity.RoleAdmin && strings.HasPrefix(c.Sub, localPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			role, err := profiles.Role(ctx, c.Sub)
			if err != nil {
				log.Printf("[auth] role lookup for %s: %v", c.Sub, err)
				if allowClaimFallback && c.Role != "" {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
		})
	}
}
