package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/provas/internal/identity"
	"github.com/mind-engage/provas/internal/rbac"
)

const (
	CookieName = "provas_access_token"
	issuer     = "provas-gateway"

	// Google subjects are numeric, so this prefix cannot collide.
	localPrefix = "local-"
)

var errRevoked = errors.New("session signed out")

// AuthService mints and checks the gateway's own session tokens. Every token
// carries a session id; signing out revokes it for the rest of its lifetime.
type AuthService struct {
	hmac     []byte
	ttl      time.Duration
	sessions *identity.Sessions
}

func NewAuthService(secret string, ttl time.Duration, sessions *identity.Sessions) *AuthService {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &AuthService{hmac: []byte(secret), ttl: ttl, sessions: sessions}
}

func (a *AuthService) Sessions() *identity.Sessions { return a.sessions }

func (a *AuthService) TTL() time.Duration { return a.ttl }

type Claims struct {
	Sub   string `json:"sub"`
	Role  string `json:"role"` // "aluno" or "admin"
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Sid   string `json:"sid"`
	jwt.RegisteredClaims
}

func (c *Claims) User() identity.User {
	return identity.User{ID: c.Sub, DisplayName: c.Name, Email: c.Email}
}

// IssueJWT starts a session for u and returns its token.
func (a *AuthService) IssueJWT(u identity.User, role string) (string, error) {
	sid := a.sessions.Start(u)
	now := time.Now()
	claims := &Claims{
		Sub:   u.ID,
		Role:  role,
		Name:  u.DisplayName,
		Email: u.Email,
		Sid:   sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if a.sessions.Revoked(c.Sid) {
		return nil, errRevoked
	}
	a.sessions.Resume(c.Sid, c.User())
	return c, nil
}

// tokenFromRequest looks at the bearer header, then the session cookie, then
// ?access_token= (browsers cannot set headers on a websocket upgrade).
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("access_token")
}

func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := tokenFromRequest(r)
			if tok == "" {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			c, err := a.Parse(tok)
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := WithClaims(r.Context(), c)
			ctx = rbac.WithRole(ctx, c.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// POST /auth/admin/login  { "username": "...", "password": "..." }
// Only enabled when an admin password hash is configured.
func AdminLoginHandler(a *AuthService, username, passHash string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if passHash == "" || req.Username != username ||
			bcrypt.CompareHashAndPassword([]byte(passHash), []byte(req.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		tok, err := a.IssueJWT(identity.User{ID: localPrefix + username, DisplayName: username}, identity.RoleAdmin)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok})
	}
}

// POST /auth/logout
func LogoutHandler(a *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c := ClaimsFromContext(r.Context()); c != nil {
			a.sessions.SignOut(c.Sid)
		}
		http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1})
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /auth/me
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := ClaimsFromContext(r.Context())
		if c == nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user": c.User(),
			"role": rbac.RoleFromContext(r.Context()),
		})
	}
}
