package worker

import (
	"context"
	"encoding/json"

	"review-analytics/internal/domain"
	"review-analytics/internal/models"
	errs "review-analytics/pkg/errors"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/queue"
)

// AuditLogHandler persists audit messages. It runs with a single worker so
// entries land in roughly the order they were emitted.
type AuditLogHandler struct {
	repo domain.AuditLogRepository
	log  *logging.Logger
}

func NewAuditLogHandler(repo domain.AuditLogRepository, log *logging.Logger) *AuditLogHandler {
	return &AuditLogHandler{
		repo: repo,
		log:  log.Component("auditlog"),
	}
}

func (h *AuditLogHandler) Queue() string { return queue.QueueAuditLog }

func (h *AuditLogHandler) Handle(ctx context.Context, job *queue.Job) error {
	var payload models.LogJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errs.NewValidation("worker.AuditLogHandler.Handle", "undecodable log payload", err)
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	entry := models.AccessLog{Text: payload.Message}
	if err := h.repo.CreateAccessLogCtx(ctx, &entry); err != nil {
		return err
	}
	h.log.Debug("audit entry persisted", "id", entry.ID)
	return nil
}
