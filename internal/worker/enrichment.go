package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"review-analytics/internal/analyzer"
	"review-analytics/internal/domain"
	"review-analytics/internal/models"
	errs "review-analytics/pkg/errors"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/queue"
)

// Classifier produces tone/sentiment labels for review text.
type Classifier interface {
	Classify(ctx context.Context, text string, stars int) analyzer.Result
}

// EnrichmentHandler consumes enrichment jobs: classify the review text and
// persist the labels on the exact revision row the job names. The update is
// a single idempotent write, so redelivered jobs converge to the same state.
type EnrichmentHandler struct {
	repo      domain.ReviewRepository
	classify  Classifier
	queue     JobQueue
	auditOpts queue.Options
	log       *logging.Logger
}

// NewEnrichmentHandler wires the enrichment consumer. auditOpts controls the
// retry policy of the audit entries it emits.
func NewEnrichmentHandler(repo domain.ReviewRepository, c Classifier, q JobQueue, auditOpts queue.Options, log *logging.Logger) *EnrichmentHandler {
	return &EnrichmentHandler{
		repo:      repo,
		classify:  c,
		queue:     q,
		auditOpts: auditOpts,
		log:       log.Component("enrichment"),
	}
}

func (h *EnrichmentHandler) Queue() string { return queue.QueueEnrichment }

func (h *EnrichmentHandler) Handle(ctx context.Context, job *queue.Job) error {
	var payload models.EnrichmentJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errs.NewValidation("worker.EnrichmentHandler.Handle", "undecodable enrichment payload", err)
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	result := h.classify.Classify(ctx, payload.Text, payload.Stars)

	if err := h.repo.UpdateReviewAnalysisCtx(ctx, payload.RecordID, result.Tone, result.Sentiment); err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			// Row deleted since enqueue; nothing left to enrich.
			h.log.Warn("review row gone, skipping", "record_id", payload.RecordID)
			return nil
		}
		h.audit(ctx, fmt.Sprintf("Review %d analysis write failed (attempt %d): %v", payload.RecordID, job.Attempt, err))
		return err
	}

	h.audit(ctx, fmt.Sprintf("Review %d analyzed: tone=%s, sentiment=%s (fallback=%t)",
		payload.RecordID, result.Tone, result.Sentiment, result.Fallback))
	return nil
}

// Exhausted records the permanent failure in the audit trail.
func (h *EnrichmentHandler) Exhausted(ctx context.Context, job *queue.Job, cause error) {
	var payload models.EnrichmentJob
	recordID := int64(-1)
	if err := json.Unmarshal(job.Payload, &payload); err == nil {
		recordID = payload.RecordID
	}
	h.audit(ctx, fmt.Sprintf("Review %d enrichment failed after %d attempts: %v", recordID, job.Attempt, cause))
}

// audit emits an access-log job. Failures are logged and swallowed; the
// audit trail never blocks enrichment.
func (h *EnrichmentHandler) audit(ctx context.Context, message string) {
	_, err := h.queue.Enqueue(ctx, queue.QueueAuditLog, models.JobTypeAccessLog,
		models.LogJob{Message: message}, h.auditOpts)
	if err != nil {
		h.log.Warn("failed to enqueue audit entry", logging.Err(err))
	}
}
