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
	"go.opentelemetry.io/otel"

	"github.com/hqvu/usage-relay/config"
	"github.com/hqvu/usage-relay/internal/ledger"
	"github.com/hqvu/usage-relay/internal/pricing"
	"github.com/hqvu/usage-relay/internal/relay"
	"github.com/hqvu/usage-relay/internal/seeder"
	"github.com/hqvu/usage-relay/internal/telemetry"
	"github.com/hqvu/usage-relay/internal/worker"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("usage-relay", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Open the ledger
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}
	defer store.Close()
	log.Printf("Ledger ready (%s)", cfg.LedgerDriver)

	// 4. Init async recorder
	recorder := worker.NewRecorder(store, cfg.RecordQueueSize)

	// 5. Init upstream client
	upstream := relay.NewUpstream(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey)
	if cfg.AnthropicAPIKey == "" {
		log.Println("WARNING: ANTHROPIC_API_KEY not set, forwarding disabled")
	}

	// 6. Init pricing + handler
	prices := pricing.MustLoadDefault()
	tracer := otel.GetTracerProvider().Tracer("usage-relay")
	handler := relay.NewHandler(upstream, store, recorder, prices, tracer)

	// 7. Seed simulated usage if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedSimulatedUsage(ctx, store, prices)
	}

	// 8. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"usage-relay"}`))
	})

	// Forwarding
	r.Post("/v1/messages", handler.HandleMessages)

	// Ledger collaborators
	r.Route("/v1/usage", func(r chi.Router) {
		r.Post("/logs", handler.HandleManualEntry)
		r.Get("/logs", handler.HandleListLogs)
		r.Delete("/logs", handler.HandleDeleteAll)
		r.Post("/import", handler.HandleImport)
		r.Get("/daily", handler.HandleDailyWindow)
		r.Get("/daily/{date}", handler.HandleDailyDate)
		r.Get("/totals", handler.HandleTotals)
		r.Get("/export", handler.HandleExport)
	})

	// 9. Graceful shutdown
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No write timeout: streamed completions legitimately run for
		// minutes.
		IdleTimeout: 120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Usage relay starting on port %s", cfg.Port)
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

	// Drain any usage still waiting for the ledger before closing it.
	recorder.Stop()
	log.Println("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	if cfg.LedgerDriver == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return ledger.NewPostgresStore(ctx, pool)
	}
	return ledger.NewSQLiteStore(cfg.SQLitePath)
}
