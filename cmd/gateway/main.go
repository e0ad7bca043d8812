package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	api "github.com/mind-engage/provas/internal/api/http"
	googleauth "github.com/mind-engage/provas/internal/auth"
	auth "github.com/mind-engage/provas/internal/auth/middleware"
	"github.com/mind-engage/provas/internal/config"
	"github.com/mind-engage/provas/internal/db"
	"github.com/mind-engage/provas/internal/docstore"
	"github.com/mind-engage/provas/internal/exam"
	"github.com/mind-engage/provas/internal/identity"
	"github.com/mind-engage/provas/internal/jobs"
	"github.com/mind-engage/provas/internal/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env: %v", err)
	}
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Document store ---
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("docstore (%s): %v", cfg.DocstoreDriver, err)
	}
	defer store.Close()

	// --- Finish guard (shared across replicas when redis is configured) ---
	var guard exam.Guard = exam.LocalGuard{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis %s: %v", cfg.RedisAddr, err)
		}
		defer rdb.Close()
		guard = exam.NewRedisGuard(rdb, 30*time.Second)
	}

	// --- Exams ---
	repo := exam.NewRepo(store)
	svc := exam.NewService(repo, exam.Options{
		Duration:     cfg.ExamDuration,
		UrgentWindow: cfg.UrgentWindow,
		TickInterval: cfg.TickInterval,
		Guard:        guard,
	})
	defer svc.Close()
	editor := exam.NewEditor(repo)

	// --- Identity ---
	sessions := identity.NewSessions(cfg.SessionTTL, nil)
	profiles := identity.NewProfiles(store)
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret, cfg.SessionTTL, sessions)

	sweeper := jobs.NewSweeper(svc, sessions, nil)
	if cfg.SweepSchedule != "" {
		if err := sweeper.Start(cfg.SweepSchedule); err != nil {
			log.Fatalf("sweeper: %v", err)
		}
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.EnableLocalAuth {
		r.Post("/auth/admin/login", auth.AdminLoginHandler(authSvc, cfg.AdminUser, cfg.AdminPassHash))
	}
	if cfg.EnableGoogleAuth {
		if cfg.GoogleClientID == "" {
			log.Fatalf("ENABLE_GOOGLE_AUTH needs GOOGLE_CLIENT_ID")
		}
		g := identity.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI, cfg.GoogleAllowedHD)
		r.Get("/auth/google/login", googleauth.GoogleLoginHandler(g, cfg))
		r.Get("/auth/google/callback", googleauth.GoogleCallbackHandler(authSvc, g, profiles, cfg))
	}

	// Protected API (JWT → stored role → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(auth.AttachRoleFromProfiles(profiles, cfg.Mode == config.ModeOffline))

		pr.Post("/auth/logout", auth.LogoutHandler(authSvc))
		pr.Get("/auth/me", auth.MeHandler())

		api.MountTicks(pr, svc, sessions, cfg.CORSOrigins(), time.Second)

		pr.Group(func(tr chi.Router) {
			tr.Use(middleware.Timeout(30 * time.Second))
			api.MountStudent(tr, svc, editor)
			api.MountAdmin(tr, svc, editor)
		})
	})

	r.Get("/healthz", api.HealthzHandler())
	r.Get("/readyz", api.ReadyzHandler(store))
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		<-sweeper.Stop().Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s (mode=%s, docstore=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DocstoreDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (docstore.Store, error) {
	switch cfg.DocstoreDriver {
	case "memory":
		log.Printf("[docstore] in-memory; nothing survives a restart")
		return docstore.NewMemory(nil), nil
	case "sql":
		octx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		dbh, err := db.Open(octx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		return docstore.NewSQL(dbh, cfg.DBDriver, nil), nil
	case "firestore":
		return docstore.NewFirestore(ctx, cfg.FirestoreProjectID)
	}
	return nil, errors.New("unknown DOCSTORE_DRIVER " + cfg.DocstoreDriver)
}
