package database

import (
	"context"
	"database/sql"

	"review-analytics/internal/models"
	errs "review-analytics/pkg/errors"
)

// latestRevisionCTE ranks revisions within each business key so rn = 1
// selects the current revision. Ties on created_at resolve to the highest
// row id, i.e. the most recently inserted revision.
const latestRevisionCTE = `
	SELECT r.id, r.review_id, r.text, r.stars, r.tone, r.sentiment,
	       r.category_id, r.created_at, r.updated_at,
	       ROW_NUMBER() OVER (PARTITION BY r.review_id ORDER BY r.created_at DESC, r.id DESC) AS rn
	FROM review_histories r`

// GetTrendingCategoriesCtx returns the top 5 categories by average stars,
// aggregated over current revisions only. Ties on average break by category
// id for a deterministic order on a fixed dataset.
func (db *DB) GetTrendingCategoriesCtx(ctx context.Context) ([]models.TrendingCategory, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `WITH latest AS (` + latestRevisionCTE + `)
	          SELECT l.category_id, c.name, AVG(l.stars), COUNT(*)
	          FROM latest l
	          INNER JOIN categories c ON c.id = l.category_id
	          WHERE l.rn = 1
	          GROUP BY l.category_id, c.name
	          ORDER BY AVG(l.stars) DESC, l.category_id ASC
	          LIMIT 5`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.NewDB("database.GetTrendingCategoriesCtx", "failed to query trends", err)
	}
	defer rows.Close()

	var trends []models.TrendingCategory
	for rows.Next() {
		var t models.TrendingCategory
		if err := rows.Scan(&t.CategoryID, &t.CategoryName, &t.AverageStars, &t.TotalReviews); err != nil {
			return nil, errs.NewDB("database.GetTrendingCategoriesCtx", "failed to scan trend row", err)
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewDB("database.GetTrendingCategoriesCtx", "row iteration error", err)
	}

	return trends, nil
}

// GetReviewsByCategoryCtx returns one page of current revisions for a
// category, newest first, each joined with its category.
func (db *DB) GetReviewsByCategoryCtx(ctx context.Context, categoryID int64, limit, offset int) ([]models.ReviewWithCategory, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `WITH latest AS (` + latestRevisionCTE + ` WHERE r.category_id = ?)
	          SELECT l.id, l.review_id, l.text, l.stars, l.tone, l.sentiment,
	                 l.category_id, l.created_at, l.updated_at,
	                 c.id, c.name, c.description
	          FROM latest l
	          INNER JOIN categories c ON c.id = l.category_id
	          WHERE l.rn = 1
	          ORDER BY l.created_at DESC, l.id DESC
	          LIMIT ? OFFSET ?`

	rows, err := db.conn.QueryContext(ctx, query, categoryID, limit, offset)
	if err != nil {
		return nil, errs.NewDB("database.GetReviewsByCategoryCtx", "failed to query reviews", err)
	}
	defer rows.Close()

	var reviews []models.ReviewWithCategory
	for rows.Next() {
		r, err := scanReviewWithCategory(rows)
		if err != nil {
			return nil, errs.NewDB("database.GetReviewsByCategoryCtx", "failed to scan review row", err)
		}
		reviews = append(reviews, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewDB("database.GetReviewsByCategoryCtx", "row iteration error", err)
	}

	return reviews, nil
}

func scanReviewWithCategory(rows *sql.Rows) (*models.ReviewWithCategory, error) {
	var r models.ReviewWithCategory
	var text, tone, sentiment, description sql.NullString

	if err := rows.Scan(
		&r.ID, &r.ReviewID, &text, &r.Stars, &tone, &sentiment,
		&r.CategoryID, &r.CreatedAt, &r.UpdatedAt,
		&r.Category.ID, &r.Category.Name, &description,
	); err != nil {
		return nil, err
	}

	if text.Valid {
		r.Text = &text.String
	}
	if tone.Valid {
		r.Tone = &tone.String
	}
	if sentiment.Valid {
		r.Sentiment = &sentiment.String
	}
	if description.Valid {
		r.Category.Description = &description.String
	}

	return &r, nil
}

// CountDistinctReviewsCtx counts the logical reviews (distinct business
// keys) in a category. This is the pagination total, not the raw row count.
func (db *DB) CountDistinctReviewsCtx(ctx context.Context, categoryID int64) (int, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	var count int
	query := `SELECT COUNT(DISTINCT review_id) FROM review_histories WHERE category_id = ?`
	if err := db.conn.QueryRowContext(ctx, query, categoryID).Scan(&count); err != nil {
		return 0, errs.NewDB("database.CountDistinctReviewsCtx", "failed to count reviews", err)
	}
	return count, nil
}

// GetReviewsNeedingAnalysisCtx returns up to limit revisions missing tone or
// sentiment, optionally filtered by category. It operates over raw rows, not
// only current revisions: stale revisions still get labeled so redelivered
// jobs stay idempotent.
func (db *DB) GetReviewsNeedingAnalysisCtx(ctx context.Context, categoryID *int64, limit int) ([]models.PendingReview, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, text, stars, tone, sentiment
	          FROM review_histories
	          WHERE (tone IS NULL OR sentiment IS NULL)`
	args := []any{}
	if categoryID != nil {
		query += ` AND category_id = ?`
		args = append(args, *categoryID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.NewDB("database.GetReviewsNeedingAnalysisCtx", "failed to query pending reviews", err)
	}
	defer rows.Close()

	var pending []models.PendingReview
	for rows.Next() {
		var p models.PendingReview
		var text, tone, sentiment sql.NullString
		if err := rows.Scan(&p.ID, &text, &p.Stars, &tone, &sentiment); err != nil {
			return nil, errs.NewDB("database.GetReviewsNeedingAnalysisCtx", "failed to scan pending row", err)
		}
		if text.Valid {
			p.Text = &text.String
		}
		if tone.Valid {
			p.Tone = &tone.String
		}
		if sentiment.Valid {
			p.Sentiment = &sentiment.String
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewDB("database.GetReviewsNeedingAnalysisCtx", "row iteration error", err)
	}

	return pending, nil
}

// CategoryExistsCtx reports whether a category id is known.
func (db *DB) CategoryExistsCtx(ctx context.Context, categoryID int64) (bool, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	var one int
	err := db.stmts["categoryExists"].QueryRowContext(ctx, categoryID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.NewDB("database.CategoryExistsCtx", "failed to check category", err)
	}
	return true, nil
}

// UpdateReviewAnalysisCtx writes tone/sentiment to one revision by row id.
// The update never reads the current values first, so concurrent or
// redelivered jobs writing the same labels are harmless.
func (db *DB) UpdateReviewAnalysisCtx(ctx context.Context, recordID int64, tone, sentiment string) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	res, err := db.stmts["updateReviewAnalysis"].ExecContext(ctx, tone, sentiment, recordID)
	if err != nil {
		return errs.NewDB("database.UpdateReviewAnalysisCtx", "failed to update review analysis", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errs.NewDB("database.UpdateReviewAnalysisCtx", "failed to read rows affected", err)
	}
	if affected == 0 {
		// Zero can mean "row gone" or "identical values rewritten"; only the
		// former is an error.
		exists, err := db.reviewExistsCtx(ctx, recordID)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NewNotFound("database.UpdateReviewAnalysisCtx", "review record does not exist", nil)
		}
	}

	return nil
}

func (db *DB) reviewExistsCtx(ctx context.Context, recordID int64) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM review_histories WHERE id = ? LIMIT 1`, recordID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.NewDB("database.reviewExistsCtx", "failed to check review record", err)
	}
	return true, nil
}
