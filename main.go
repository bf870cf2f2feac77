package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"review-analytics/internal/api"
	"review-analytics/internal/domain"
	"review-analytics/internal/infrastructure/repository"
	"review-analytics/pkg/config"
	"review-analytics/pkg/database"
	"review-analytics/pkg/health"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/queue"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting review analytics API", "port", cfg.Port, "env", cfg.Env)

	db, err := database.NewWithConfig(cfg.DatabaseURL, cfg)
	if err != nil {
		log.Error("database init failed", logging.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	q, err := queue.New(cfg.RedisURL, cfg.QueuePrefix, log)
	if err != nil {
		log.Error("queue init failed", logging.Err(err))
		os.Exit(1)
	}
	defer q.Close()

	var repo domain.Repository = repository.NewSQLRepository(db)

	hc := health.NewRegistry(5 * time.Second)
	hc.Register("database", db.PingCtx)
	hc.Register("redis", q.Ping)

	opts := api.Options{
		PendingBatchSize: cfg.PendingBatchSize,
		EnrichmentOpts:   queue.Options{Attempts: cfg.EnrichmentAttempts, Backoff: cfg.EnrichmentBackoff},
		AuditOpts:        queue.Options{Attempts: cfg.AuditLogAttempts, Backoff: cfg.AuditLogBackoff},
		HideInternals:    cfg.IsProduction(),
	}
	router := api.NewRouter(repo, q, hc, opts, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logging.Err(err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logging.Err(err))
	}
	log.Info("shutdown complete")
}
