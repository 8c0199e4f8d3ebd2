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
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/tokenmeter/gateway/config"
	"github.com/tokenmeter/gateway/internal/ledger"
	"github.com/tokenmeter/gateway/internal/meter"
	"github.com/tokenmeter/gateway/internal/pricing"
	"github.com/tokenmeter/gateway/internal/seeder"
	"github.com/tokenmeter/gateway/internal/storage"
	"github.com/tokenmeter/gateway/internal/telemetry"
	"github.com/tokenmeter/gateway/internal/tokenizer"
	"github.com/tokenmeter/gateway/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("metering-gateway", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := storage.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()
	log.Println("PostgreSQL connected")

	// 4. Provision schema once at startup; handlers assume it exists
	if err := storage.Migrate(ctx, cfg.PostgresDSN); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	log.Println("Schema up to date")

	// 5. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 6. Init stores
	priceStore := pricing.NewCachedStore(pricing.NewPostgresStore(pool), rdb)
	ledgerStore := ledger.NewPostgresStore(pool)

	// 7. Init tokenizer
	counter := tokenizer.New(cfg.TokenizerModel)

	// 8. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	// 9. Init handler
	tracer := otel.GetTracerProvider().Tracer("metering-gateway")
	handler := meter.NewHandler(priceStore, ledgerStore, counter, limiter, tracer)

	// 10. Seed demo prices and user if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedDemoData(ctx, pool)
	}

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"metering-gateway"}`))
	})

	r.Post("/v1/outlet", handler.HandleMeter)
	r.Get("/v1/usage", handler.HandleUsage)
	r.Get("/v1/models", handler.HandleListPrices)

	// 12. Graceful shutdown
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
		log.Printf("Metering gateway starting on port %s", cfg.Port)
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
