package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL  string
	RedisURL     string
	OpenAIAPIKey string
	Port         string

	// Database performance settings
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime int // minutes
	DBConnMaxIdleTime int // minutes
	DBReadTimeout     time.Duration
	DBWriteTimeout    time.Duration

	// OpenAI client settings
	OpenAIModel       string
	OpenAITemperature float64
	OpenAIMaxTokens   int
	OpenAITimeout     time.Duration

	// Queue and worker settings
	QueuePrefix          string
	EnrichmentWorkers    int
	EnrichmentAttempts   int
	EnrichmentBackoff    time.Duration
	AuditLogAttempts     int
	AuditLogBackoff      time.Duration
	PendingBatchSize     int
	WorkerStopTimeout    time.Duration
	DequeueBlockDuration time.Duration

	// Logging settings
	LogLevel  string
	LogFormat string // "json" or "text"

	// Environment
	Env string // development, staging, production

	// Optional YAML tuning overrides file (queue/worker knobs)
	TuningFile string
}

func Load() *Config {
	// Database performance settings with defaults
	dbMaxOpenConns, _ := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	dbMaxIdleConns, _ := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "10"))
	dbConnMaxLifetime, _ := strconv.Atoi(getEnv("DB_CONN_MAX_LIFETIME_MINUTES", "10"))
	dbConnMaxIdleTime, _ := strconv.Atoi(getEnv("DB_CONN_MAX_IDLE_TIME_MINUTES", "5"))

	// Timeouts
	dbReadTO, _ := time.ParseDuration(getEnv("DB_READ_TIMEOUT", "8s"))
	dbWriteTO, _ := time.ParseDuration(getEnv("DB_WRITE_TIMEOUT", "6s"))

	// OpenAI config
	openAIModel := getEnv("OPENAI_MODEL", "gpt-4o-mini")
	openAITemp, _ := strconv.ParseFloat(getEnv("OPENAI_TEMPERATURE", "0.1"), 64)
	openAIMaxTokens, _ := strconv.Atoi(getEnv("OPENAI_MAX_TOKENS", "100"))
	openAIReqTimeoutSec, _ := strconv.Atoi(getEnv("OPENAI_REQUEST_TIMEOUT_SECONDS", "30"))

	// Queue and worker defaults mirror the production queue policy:
	// enrichment retries back off from 2s, audit logging from 1s.
	enrichWorkers, _ := strconv.Atoi(getEnv("ENRICHMENT_WORKERS", "5"))
	enrichAttempts, _ := strconv.Atoi(getEnv("ENRICHMENT_ATTEMPTS", "3"))
	enrichBackoff, _ := time.ParseDuration(getEnv("ENRICHMENT_BACKOFF", "2s"))
	auditAttempts, _ := strconv.Atoi(getEnv("AUDITLOG_ATTEMPTS", "3"))
	auditBackoff, _ := time.ParseDuration(getEnv("AUDITLOG_BACKOFF", "1s"))
	pendingBatch, _ := strconv.Atoi(getEnv("PENDING_BATCH_SIZE", "50"))
	stopTimeout, _ := time.ParseDuration(getEnv("WORKER_STOP_TIMEOUT", "30s"))
	dequeueBlock, _ := time.ParseDuration(getEnv("DEQUEUE_BLOCK", "5s"))

	env := strings.ToLower(getEnv("ENV", "development"))

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		Port:         getEnv("PORT", "5000"),

		DBMaxOpenConns:    dbMaxOpenConns,
		DBMaxIdleConns:    dbMaxIdleConns,
		DBConnMaxLifetime: dbConnMaxLifetime,
		DBConnMaxIdleTime: dbConnMaxIdleTime,
		DBReadTimeout:     dbReadTO,
		DBWriteTimeout:    dbWriteTO,

		OpenAIModel:       openAIModel,
		OpenAITemperature: openAITemp,
		OpenAIMaxTokens:   openAIMaxTokens,
		OpenAITimeout:     time.Duration(openAIReqTimeoutSec) * time.Second,

		QueuePrefix:          getEnv("QUEUE_PREFIX", "ra:"),
		EnrichmentWorkers:    enrichWorkers,
		EnrichmentAttempts:   enrichAttempts,
		EnrichmentBackoff:    enrichBackoff,
		AuditLogAttempts:     auditAttempts,
		AuditLogBackoff:      auditBackoff,
		PendingBatchSize:     pendingBatch,
		WorkerStopTimeout:    stopTimeout,
		DequeueBlockDuration: dequeueBlock,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		Env:        env,
		TuningFile: getEnv("TUNING_FILE", ""),
	}

	if cfg.EnrichmentWorkers <= 0 {
		cfg.EnrichmentWorkers = 5
	}
	if cfg.PendingBatchSize <= 0 || cfg.PendingBatchSize > 50 {
		cfg.PendingBatchSize = 50
	}

	if cfg.TuningFile != "" {
		if err := cfg.applyTuningFile(cfg.TuningFile); err != nil {
			log.Printf("[Warning] tuning file %s not applied: %v", cfg.TuningFile, err)
		}
	}

	return cfg
}

// IsProduction reports whether internal error details should be hidden from
// API responses.
func (c *Config) IsProduction() bool { return c.Env == "production" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
