package domain

import (
	"context"

	"review-analytics/internal/models"
)

// ReviewRepository defines read access over review revisions. All listing
// operations resolve the latest revision per business key before anything
// else; callers never see stale revisions.
type ReviewRepository interface {
	GetTrendingCategoriesCtx(ctx context.Context) ([]models.TrendingCategory, error)
	GetReviewsByCategoryCtx(ctx context.Context, categoryID int64, limit, offset int) ([]models.ReviewWithCategory, error)
	CountDistinctReviewsCtx(ctx context.Context, categoryID int64) (int, error)
	GetReviewsNeedingAnalysisCtx(ctx context.Context, categoryID *int64, limit int) ([]models.PendingReview, error)
	CategoryExistsCtx(ctx context.Context, categoryID int64) (bool, error)

	UpdateReviewAnalysisCtx(ctx context.Context, recordID int64, tone, sentiment string) error
}

// AuditLogRepository defines the append-only audit trail.
type AuditLogRepository interface {
	CreateAccessLogCtx(ctx context.Context, entry *models.AccessLog) error
	GetRecentAccessLogsCtx(ctx context.Context, limit int) ([]models.AccessLog, error)
}

// Repository aggregates the repos required by handlers and workers.
type Repository interface {
	ReviewRepository
	AuditLogRepository
}
