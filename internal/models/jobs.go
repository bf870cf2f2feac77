package models

import (
	errs "review-analytics/pkg/errors"
)

// Queue job type tags. Payloads are validated at dequeue time; anything with
// an unknown tag or a malformed body is dead-lettered instead of trusted.
const (
	JobTypeEnrichReview = "enrich-review"
	JobTypeAccessLog    = "access-log"
)

// EnrichmentJob asks the worker pool to classify one review revision and
// persist the labels. RecordID targets the exact row that was read, not the
// business key: a newer revision inserted meanwhile must not be touched.
type EnrichmentJob struct {
	RecordID int64  `json:"record_id"`
	Text     string `json:"text"`
	Stars    int    `json:"stars"`
}

func (j EnrichmentJob) Validate() error {
	if j.RecordID <= 0 {
		return errs.NewValidation("models.EnrichmentJob", "record_id must be positive", nil)
	}
	if j.Stars < 0 {
		return errs.NewValidation("models.EnrichmentJob", "stars must not be negative", nil)
	}
	return nil
}

// LogJob carries one audit message for the audit-log worker.
type LogJob struct {
	Message string `json:"message"`
}

func (j LogJob) Validate() error {
	if j.Message == "" {
		return errs.NewValidation("models.LogJob", "message must not be empty", nil)
	}
	return nil
}
