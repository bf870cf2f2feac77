// Package api exposes the review analytics HTTP surface. Handlers are
// constructor closures over their dependencies so tests can swap fakes in.
package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"review-analytics/internal/domain"
	"review-analytics/internal/models"
	errs "review-analytics/pkg/errors"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/pagination"
	"review-analytics/pkg/queue"
)

// Queue is the slice of the queue client the handlers use.
type Queue interface {
	Enqueue(ctx context.Context, queue, typ string, payload any, opts queue.Options) (string, error)
	EnqueueBulk(ctx context.Context, queue, typ string, payloads []any, opts queue.Options) (int, error)
	Counts(ctx context.Context, queue string) (queue.Counts, error)
	Clean(ctx context.Context, queue string) error
	Ping(ctx context.Context) error
}

// Options carries per-route tuning pulled from configuration.
type Options struct {
	PendingBatchSize int
	EnrichmentOpts   queue.Options
	AuditOpts        queue.Options
	HideInternals    bool
}

// auditEnqueueTimeout bounds the background enqueue after the response has
// already been written.
const auditEnqueueTimeout = 3 * time.Second

// reviewItem is one row of the paginated listing; the flag tells API
// consumers whether analysis is still in flight for that revision.
type reviewItem struct {
	models.ReviewWithCategory
	NeedsLLMProcessing bool `json:"needs_llm_processing"`
}

// TrendsHandler returns the top categories by average star rating across
// latest review revisions.
func TrendsHandler(repo domain.ReviewRepository, q Queue, opts Options, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trends, err := repo.GetTrendingCategoriesCtx(r.Context())
		if err != nil {
			writeError(w, log, err, opts.HideInternals)
			return
		}
		for i := range trends {
			trends[i].AverageStars = math.Round(trends[i].AverageStars*100) / 100
		}

		auditAsync(q, opts.AuditOpts, "Trending categories accessed", log)

		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Data:    trends,
			Count:   intPtr(len(trends)),
		})
	}
}

// ReviewsHandler lists the latest revision of each review in a category,
// paginated, and queues enrichment for any unanalyzed rows in the page.
func ReviewsHandler(repo domain.ReviewRepository, q Queue, opts Options, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()

		rawCategory := qs.Get("category_id")
		if rawCategory == "" {
			writeError(w, log, errs.NewValidation("api.Reviews", "category_id is required", nil), opts.HideInternals)
			return
		}
		categoryID, err := strconv.ParseInt(rawCategory, 10, 64)
		if err != nil || categoryID <= 0 {
			writeError(w, log, errs.NewValidation("api.Reviews", "category_id must be a positive integer", nil), opts.HideInternals)
			return
		}

		params, err := pagination.Validate(qs.Get("page"), qs.Get("limit"))
		if err != nil {
			writeError(w, log, err, opts.HideInternals)
			return
		}

		exists, err := repo.CategoryExistsCtx(r.Context(), categoryID)
		if err != nil {
			writeError(w, log, err, opts.HideInternals)
			return
		}
		if !exists {
			writeError(w, log, errs.NewNotFound("api.Reviews", fmt.Sprintf("category %d not found", categoryID), nil), opts.HideInternals)
			return
		}

		total, err := repo.CountDistinctReviewsCtx(r.Context(), categoryID)
		if err != nil {
			writeError(w, log, err, opts.HideInternals)
			return
		}

		offset, limit := pagination.Window(params.Page, params.Limit)
		reviews, err := repo.GetReviewsByCategoryCtx(r.Context(), categoryID, limit, offset)
		if err != nil {
			writeError(w, log, err, opts.HideInternals)
			return
		}

		queued := queueEnrichment(r.Context(), q, reviews, opts, log)

		items := make([]reviewItem, len(reviews))
		for i, rev := range reviews {
			items[i] = reviewItem{
				ReviewWithCategory: rev,
				NeedsLLMProcessing: rev.NeedsAnalysis(),
			}
		}

		auditAsync(q, opts.AuditOpts, fmt.Sprintf("Reviews accessed for category %d (page %d)", categoryID, params.Page), log)

		writeJSON(w, http.StatusOK, envelope{
			Success:    true,
			Data:       items,
			Pagination: pagination.BuildMeta(params.Page, params.Limit, total),
			LLMQueued:  intPtr(queued),
		})
	}
}

// queueEnrichment enqueues analysis jobs for page rows still missing labels,
// capped at the configured batch size. Queue trouble is reported in the log
// only; the listing itself must not fail because Redis is down. The returned
// count is what actually reached the queue: textless rows and enqueue
// failures are excluded, so it can be lower than the number of flagged rows
// on the page.
func queueEnrichment(ctx context.Context, q Queue, reviews []models.ReviewWithCategory, opts Options, log *logging.Logger) int {
	batch := opts.PendingBatchSize
	if batch <= 0 {
		batch = 50
	}

	var payloads []any
	for _, rev := range reviews {
		if !rev.NeedsAnalysis() || rev.Text == nil {
			continue
		}
		payloads = append(payloads, models.EnrichmentJob{
			RecordID: rev.ID,
			Text:     *rev.Text,
			Stars:    rev.Stars,
		})
		if len(payloads) >= batch {
			break
		}
	}
	if len(payloads) == 0 {
		return 0
	}

	n, err := q.EnqueueBulk(ctx, queue.QueueEnrichment, models.JobTypeEnrichReview, payloads, opts.EnrichmentOpts)
	if err != nil {
		log.Warn("failed to queue enrichment jobs", "count", len(payloads), logging.Err(err))
		return 0
	}
	return n
}

// PendingHandler lists reviews still awaiting analysis, optionally scoped to
// one category.
func PendingHandler(repo domain.ReviewRepository, opts Options, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var categoryID *int64
		if raw := r.URL.Query().Get("category_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				writeError(w, log, errs.NewValidation("api.PendingLLM", "category_id must be a positive integer", nil), opts.HideInternals)
				return
			}
			categoryID = &id
		}

		limit := opts.PendingBatchSize
		if limit <= 0 {
			limit = 50
		}
		pending, err := repo.GetReviewsNeedingAnalysisCtx(r.Context(), categoryID, limit)
		if err != nil {
			writeError(w, log, err, opts.HideInternals)
			return
		}

		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Data:    pending,
			Count:   intPtr(len(pending)),
		})
	}
}

// RecentLogsHandler returns the newest audit trail entries for operators.
// Accepts an optional limit (default 50, capped at 200).
func RecentLogsHandler(repo domain.AuditLogRepository, opts Options, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, log, errs.NewValidation("api.RecentLogs", "limit must be a positive integer", nil), opts.HideInternals)
				return
			}
			limit = n
		}
		if limit > 200 {
			limit = 200
		}

		logs, err := repo.GetRecentAccessLogsCtx(r.Context(), limit)
		if err != nil {
			writeError(w, log, err, opts.HideInternals)
			return
		}

		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Data:    logs,
			Count:   intPtr(len(logs)),
		})
	}
}

// QueueStatsHandler reports per-queue job counts.
func QueueStatsHandler(q Queue, opts Options, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := make(map[string]queue.Counts, 2)
		for _, name := range []string{queue.QueueEnrichment, queue.QueueAuditLog} {
			counts, err := q.Counts(r.Context(), name)
			if err != nil {
				writeError(w, log, err, opts.HideInternals)
				return
			}
			stats[name] = counts
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
	}
}

// QueueCleanHandler drops parked failed jobs. Cleaning is explicit only; no
// background sweeper exists.
func QueueCleanHandler(q Queue, opts Options, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := []string{queue.QueueEnrichment, queue.QueueAuditLog}
		if requested := r.URL.Query().Get("queue"); requested != "" {
			if requested != queue.QueueEnrichment && requested != queue.QueueAuditLog {
				writeError(w, log, errs.NewValidation("api.QueueClean", "unknown queue: "+requested, nil), opts.HideInternals)
				return
			}
			names = []string{requested}
		}

		for _, name := range names {
			if err := q.Clean(r.Context(), name); err != nil {
				writeError(w, log, err, opts.HideInternals)
				return
			}
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{"cleaned": names}})
	}
}

// auditAsync fires an access-log job without blocking the response path.
func auditAsync(q Queue, opts queue.Options, message string, log *logging.Logger) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditEnqueueTimeout)
		defer cancel()
		if _, err := q.Enqueue(ctx, queue.QueueAuditLog, models.JobTypeAccessLog, models.LogJob{Message: message}, opts); err != nil {
			log.Warn("failed to enqueue audit entry", logging.Err(err))
		}
	}()
}
