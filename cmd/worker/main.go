// Command worker runs both queue consumers: the enrichment pool and the
// single-worker audit log consumer.
package main

import (
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"review-analytics/internal/analyzer"
	"review-analytics/internal/infrastructure/repository"
	"review-analytics/internal/worker"
	"review-analytics/pkg/config"
	"review-analytics/pkg/database"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/queue"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("starting review analytics workers",
		"enrichment_concurrency", cfg.EnrichmentWorkers, "env", cfg.Env)

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

	repo := repository.NewSQLRepository(db)

	clf := analyzer.New(analyzer.Config{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		MaxTokens:   cfg.OpenAIMaxTokens,
		Timeout:     cfg.OpenAITimeout,
	}, log)

	auditOpts := queue.Options{Attempts: cfg.AuditLogAttempts, Backoff: cfg.AuditLogBackoff}

	enrichment := worker.NewPool(q,
		worker.NewEnrichmentHandler(repo, clf, q, auditOpts, log),
		cfg.EnrichmentWorkers, cfg.DequeueBlockDuration, log)
	auditLog := worker.NewPool(q,
		worker.NewAuditLogHandler(repo, log),
		1, cfg.DequeueBlockDuration, log)

	enrichment.Start()
	auditLog.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutdown signal received")

	if err := enrichment.Stop(cfg.WorkerStopTimeout); err != nil {
		log.Warn("enrichment pool shutdown", logging.Err(err))
	}
	if err := auditLog.Stop(cfg.WorkerStopTimeout); err != nil {
		log.Warn("audit log pool shutdown", logging.Err(err))
	}
	log.Info("workers stopped")
}
