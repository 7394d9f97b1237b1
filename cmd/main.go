// piata-matcher-service
//
// Continuous agent matching and notification engine for the marketplace.
// Periodically (and on an authenticated POST /run) evaluates recent listings
// against every active shopping agent, persists scored matches exactly once
// per (agent, listing) pair, and emails owners a digest of the best finds.
//
// Listings, user accounts and payments are owned by the marketplace core;
// this service only reads listings and profiles, and owns the agent and
// match tables.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"piata/matcher-service/internal/ai"
	"piata/matcher-service/internal/api"
	"piata/matcher-service/internal/config"
	"piata/matcher-service/internal/db"
	"piata/matcher-service/internal/engine"
	"piata/matcher-service/internal/match"
	"piata/matcher-service/internal/notify"
	"piata/matcher-service/internal/scheduler"
	"piata/matcher-service/internal/store"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[matcher-service] Config error: %v", err)
	}

	policy, err := match.ParsePolicy(cfg.ScoringPolicy)
	if err != nil {
		log.Fatalf("[matcher-service] Config error: %v", err)
	}
	if policy == match.PolicyAI && cfg.OpenAIAPIKey == "" {
		log.Fatalf("[matcher-service] Config error: OPENAI_API_KEY is required with SCORING_POLICY=ai")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[matcher-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[matcher-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	log.Println("[matcher-service] PostgreSQL connected ✓")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[matcher-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[matcher-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[matcher-service] Redis connected ✓")

	// ── Pipeline wiring ──────────────────────────────────────────────────────
	agents := store.NewAgentStore(pool)
	listings := store.NewListingStore(pool)
	matches := store.NewMatchStore(pool)

	var scorer engine.Scorer
	if cfg.OpenAIAPIKey != "" {
		scorer = ai.NewOpenAIScorer(cfg.OpenAIAPIKey)
	}

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.ResendAPIKey != "" {
		mailer = notify.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom)
	} else {
		log.Println("[matcher-service] RESEND_API_KEY not set — digests will be logged, not sent")
	}
	dispatcher := notify.NewDispatcher(mailer, rdb, cfg.AppBaseURL)

	worker := engine.NewWorker(matches, agents, scorer, dispatcher, policy)
	lock := engine.NewRedisLocker(rdb, cfg.RunTimeout+time.Minute)
	orchestrator := engine.NewOrchestrator(
		agents, listings, worker, lock,
		cfg.ListingWindow, cfg.RunTimeout, cfg.AgentConcurrency,
	)
	log.Printf("[matcher-service] Scoring policy: %s", policy)

	// ── Scheduler ────────────────────────────────────────────────────────────
	sched := scheduler.New(orchestrator, cfg.RunIntervalMinutes)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[matcher-service] Scheduler: %v", err)
	}
	defer sched.Stop()

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)

	h := api.NewHandler(agents, matches, orchestrator, cfg.CronSecret)
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RunTimeout + 30*time.Second, // POST /run replies after the batch
	}

	go func() {
		log.Printf("[matcher-service] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[matcher-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[matcher-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[matcher-service] Shutdown error: %v", err)
	}
	log.Println("[matcher-service] Stopped.")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "matcher-service",
		"version": version,
	})
}
