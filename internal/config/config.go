package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode      Mode
	HTTPAddr  string
	PublicURL string

	DocstoreDriver string // memory|sql|firestore
	DBDriver       string // sqlite|postgres (docstore=sql)
	DBDSN          string

	FirestoreProjectID string
	RedisAddr          string // optional finish guard shared by replicas

	// Attempt timing
	ExamDuration  time.Duration
	UrgentWindow  time.Duration
	TickInterval  time.Duration
	SweepSchedule string // cron spec; empty disables the sweeper

	AuthHMACSecret string
	SessionTTL     time.Duration

	EnableLocalAuth bool
	AdminUser       string
	AdminPassHash   string // bcrypt

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	EnableGoogleAuth   bool
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string // e.g., PUBLIC_URL + "/auth/google/callback"
	GoogleAllowedHD    string // optional hosted-domain restriction
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	pub := os.Getenv("PUBLIC_URL")
	defStore := "memory"
	if mode == ModeOnline {
		defStore = "firestore"
	}
	return Config{
		Mode:      mode,
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		PublicURL: pub,

		DocstoreDriver: envOr("DOCSTORE_DRIVER", defStore),
		DBDriver:       envOr("DB_DRIVER", "sqlite"),
		DBDSN:          envOr("DB_DSN", ""),

		FirestoreProjectID: os.Getenv("FIRESTORE_PROJECT_ID"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),

		ExamDuration:  envDuration("EXAM_DURATION", 6*time.Hour),
		UrgentWindow:  envDuration("URGENT_WINDOW", 30*time.Minute),
		TickInterval:  envDuration("TICK_INTERVAL", time.Second),
		SweepSchedule: envOr("SWEEP_SCHEDULE", "@every 1m"),

		AuthHMACSecret: envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		SessionTTL:     envDuration("SESSION_TTL", 8*time.Hour),

		EnableLocalAuth: envBool("ENABLE_LOCAL_AUTH", mode == ModeOffline),
		AdminUser:       envOr("ADMIN_USER", "admin"),
		AdminPassHash:   os.Getenv("ADMIN_PASS_HASH"), // empty disables local admin login

		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://provas.example.com"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:5173"),

		EnableGoogleAuth:   envBool("ENABLE_GOOGLE_AUTH", mode == ModeOnline),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURI:  envOr("GOOGLE_REDIRECT_URI", strings.TrimSuffix(pub, "/")+"/auth/google/callback"),
		GoogleAllowedHD:    os.Getenv("GOOGLE_ALLOWED_HD"),
	}
}

// CORSOrigins returns the allow-list for the current mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// envDuration accepts Go durations ("90m") or, under KEY_SECONDS, a plain
// number of seconds.
func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	if v := os.Getenv(k + "_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
