package repository

import (
	"context"

	"review-analytics/internal/domain"
	"review-analytics/internal/models"
	"review-analytics/pkg/database"
)

// SQLRepository is a thin adapter over pkg/database.DB to satisfy domain
// repositories. It keeps business logic decoupled from the SQL layer.
type SQLRepository struct {
	db *database.DB
}

func NewSQLRepository(db *database.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Ensure interface compliance at compile time
var _ domain.Repository = (*SQLRepository)(nil)

// ReviewRepository methods

func (r *SQLRepository) GetTrendingCategoriesCtx(ctx context.Context) ([]models.TrendingCategory, error) {
	return r.db.GetTrendingCategoriesCtx(ctx)
}

func (r *SQLRepository) GetReviewsByCategoryCtx(ctx context.Context, categoryID int64, limit, offset int) ([]models.ReviewWithCategory, error) {
	return r.db.GetReviewsByCategoryCtx(ctx, categoryID, limit, offset)
}

func (r *SQLRepository) CountDistinctReviewsCtx(ctx context.Context, categoryID int64) (int, error) {
	return r.db.CountDistinctReviewsCtx(ctx, categoryID)
}

func (r *SQLRepository) GetReviewsNeedingAnalysisCtx(ctx context.Context, categoryID *int64, limit int) ([]models.PendingReview, error) {
	return r.db.GetReviewsNeedingAnalysisCtx(ctx, categoryID, limit)
}

func (r *SQLRepository) CategoryExistsCtx(ctx context.Context, categoryID int64) (bool, error) {
	return r.db.CategoryExistsCtx(ctx, categoryID)
}

func (r *SQLRepository) UpdateReviewAnalysisCtx(ctx context.Context, recordID int64, tone, sentiment string) error {
	return r.db.UpdateReviewAnalysisCtx(ctx, recordID, tone, sentiment)
}

// AuditLogRepository methods

func (r *SQLRepository) CreateAccessLogCtx(ctx context.Context, entry *models.AccessLog) error {
	return r.db.CreateAccessLogCtx(ctx, entry)
}

func (r *SQLRepository) GetRecentAccessLogsCtx(ctx context.Context, limit int) ([]models.AccessLog, error) {
	return r.db.GetRecentAccessLogsCtx(ctx, limit)
}
