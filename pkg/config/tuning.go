package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// tuning holds the optional operator-supplied overrides for queue and worker
// behavior. Only non-zero fields are applied over the env-derived config.
type tuning struct {
	EnrichmentWorkers  int           `yaml:"enrichment_workers"`
	EnrichmentAttempts int           `yaml:"enrichment_attempts"`
	EnrichmentBackoff  time.Duration `yaml:"enrichment_backoff"`
	AuditLogAttempts   int           `yaml:"auditlog_attempts"`
	AuditLogBackoff    time.Duration `yaml:"auditlog_backoff"`
	PendingBatchSize   int           `yaml:"pending_batch_size"`
	WorkerStopTimeout  time.Duration `yaml:"worker_stop_timeout"`
}

func (c *Config) applyTuningFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var t tuning
	if err := yaml.Unmarshal(b, &t); err != nil {
		return err
	}
	if t.EnrichmentWorkers > 0 {
		c.EnrichmentWorkers = t.EnrichmentWorkers
	}
	if t.EnrichmentAttempts > 0 {
		c.EnrichmentAttempts = t.EnrichmentAttempts
	}
	if t.EnrichmentBackoff > 0 {
		c.EnrichmentBackoff = t.EnrichmentBackoff
	}
	if t.AuditLogAttempts > 0 {
		c.AuditLogAttempts = t.AuditLogAttempts
	}
	if t.AuditLogBackoff > 0 {
		c.AuditLogBackoff = t.AuditLogBackoff
	}
	if t.PendingBatchSize > 0 && t.PendingBatchSize <= 50 {
		c.PendingBatchSize = t.PendingBatchSize
	}
	if t.WorkerStopTimeout > 0 {
		c.WorkerStopTimeout = t.WorkerStopTimeout
	}
	return nil
}
