// internal/auth/google_oauth.go
package auth

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	authmw "github.com/mind-engage/provas/internal/auth/middleware"
	"github.com/mind-engage/provas/internal/config"
	"github.com/mind-engage/provas/internal/identity"
)

const (
	stateCookie    = "provas_oauth_state"
	redirectCookie = "provas_post_auth_redirect"
)

// CodeURLer is the interactive half of a sign-in provider.
type CodeURLer interface {
	AuthCodeURL(state string) string
}

// /auth/google/login → redirect to Google
func GoogleLoginHandler(g CodeURLer, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// caller can pass the page to come back to (e.g. /prova/, /admin/)
		next := r.URL.Query().Get("redirect")
		if next == "" && r.Referer() != "" {
			next = r.Referer()
		}
		if next == "" || !sameOrigin(next, cfg.PublicURL) {
			if r.URL.Query().Get("redirect") != "" {
				http.Error(w, "bad redirect", http.StatusBadRequest)
				return
			}
			next = homeURL(cfg)
		}

		state := uuid.NewString()
		secure := strings.HasPrefix(cfg.PublicURL, "https://")
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookie,
			Value:    state,
			Path:     "/",
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(10 * time.Minute),
		})
		http.SetCookie(w, &http.Cookie{
			Name:     redirectCookie,
			Value:    url.QueryEscape(next),
			Path:     "/",
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(10 * time.Minute),
		})
		http.Redirect(w, r, g.AuthCodeURL(state), http.StatusFound)
	}
}

// /auth/google/callback → authenticate, bootstrap profile, mint our token
func GoogleCallbackHandler(a *authmw.AuthService, idp identity.Authenticator, profiles *identity.Profiles, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(stateCookie)
		if err != nil || c.Value == "" || c.Value != r.URL.Query().Get("state") {
			http.Error(w, "bad state", http.StatusBadRequest)
			return
		}

		u, err := idp.AuthenticateInteractively(r.Context(), r.URL.Query().Get("code"))
		if err != nil {
			log.Printf("[auth] google sign-in: %v", err)
			if errors.Is(err, identity.ErrAuthFailed) {
				http.Error(w, "authentication failed", http.StatusUnauthorized)
				return
			}
			http.Error(w, "authentication error", http.StatusBadGateway)
			return
		}

		if _, err := profiles.Ensure(r.Context(), u); err != nil {
			log.Printf("[auth] profile for %s: %v", u.ID, err)
			http.Error(w, "profile error", http.StatusServiceUnavailable)
			return
		}
		role, err := profiles.Role(r.Context(), u.ID)
		if err != nil {
			http.Error(w, "profile error", http.StatusServiceUnavailable)
			return
		}

		tok, err := a.IssueJWT(u, role)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     authmw.CookieName,
			Value:    tok,
			Path:     "/",
			HttpOnly: true,
			Secure:   strings.HasPrefix(cfg.PublicURL, "https://"),
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(a.TTL()),
		})

		target := ""
		if rc, err := r.Cookie(redirectCookie); err == nil {
			target, _ = url.QueryUnescape(rc.Value)
		}
		if target == "" || !sameOrigin(target, cfg.PublicURL) {
			target = homeURL(cfg)
		}

		http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1})
		http.SetCookie(w, &http.Cookie{Name: redirectCookie, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1})

		// the SPA picks the token up from the query string
		t, _ := url.Parse(target)
		q := t.Query()
		q.Set("access_token", tok)
		t.RawQuery = q.Encode()
		http.Redirect(w, r, t.String(), http.StatusFound)
	}
}

func homeURL(cfg config.Config) string {
	base := strings.TrimRight(cfg.PublicURL, "/")
	return base + "/"
}

// sameOrigin allows relative targets, PUBLIC_URL's origin and localhost.
func sameOrigin(target, publicURL string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Host == "" {
		return strings.HasPrefix(u.Path, "/") && !strings.HasPrefix(u.Path, "//")
	}
	if strings.HasPrefix(u.Host, "localhost") || strings.HasPrefix(u.Host, "127.0.0.1") {
		return true
	}
	base, err := url.Parse(publicURL)
	return err == nil && base.Host != "" && u.Scheme == base.Scheme && u.Host == base.Host
}
