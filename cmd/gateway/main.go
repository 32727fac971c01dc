package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/tdmanh/toxgate/config"
	"github.com/tdmanh/toxgate/internal/account"
	"github.com/tdmanh/toxgate/internal/auth"
	"github.com/tdmanh/toxgate/internal/classifier"
	"github.com/tdmanh/toxgate/internal/gateway"
	"github.com/tdmanh/toxgate/internal/keystore"
	"github.com/tdmanh/toxgate/internal/ledger"
	"github.com/tdmanh/toxgate/internal/metrics"
	"github.com/tdmanh/toxgate/internal/migrate"
	"github.com/tdmanh/toxgate/internal/seeder"
	"github.com/tdmanh/toxgate/internal/telemetry"
	"github.com/tdmanh/toxgate/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("toxgate", cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init stores
	keyStore := keystore.NewPostgresStore(pool)
	usageLedger := ledger.NewPostgresStore(pool)
	ownerStore := account.NewPostgresStore(pool)

	// 6. Bootstrap schema if RUN_MIGRATE=true
	if os.Getenv("RUN_MIGRATE") == "true" {
		if err := migrate.Run(ctx, pool); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Println("Schema ready")
	}

	// 7. Seed test owner + key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestKey(ctx, ownerStore, keyStore)
	}

	// 8. Init auth
	authCache := auth.NewCache(rdb)
	authMiddleware := auth.NewMiddleware(keyStore, authCache)

	// 9. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	// 10. Init classifier client
	cls := classifier.New(cfg.ClassifierURL, cfg.ClassifierTimeout)

	// 11. Init handler
	tracer := otel.GetTracerProvider().Tracer("toxgate")
	handler := gateway.NewHandler(keyStore, usageLedger, ownerStore, cls, limiter, authCache, tracer, cfg.BaseAllowance)

	// 12. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware())

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"toxgate"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/register", handler.HandleRegister)
	r.Get("/v1/keys/recover", handler.HandleRecover)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/predict", handler.HandlePredict)
		r.Post("/v1/purchase", handler.HandlePurchase)
		r.Get("/v1/usage", handler.HandleUsage)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(auth.AdminOnly(cfg.AdminToken))
		r.Post("/v1/admin/keys", handler.HandleIssueKey)
		r.Delete("/v1/admin/keys/{token}", handler.HandleRevokeKey)
	})

	// 13. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("toxgate starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
