package database

import (
	"context"

	"review-analytics/internal/models"
	errs "review-analytics/pkg/errors"
)

// CreateAccessLogCtx appends one audit entry. Entries are never mutated or
// deleted by the application.
func (db *DB) CreateAccessLogCtx(ctx context.Context, entry *models.AccessLog) error {
	ctx, cancel := db.withWriteTimeout(ctx)
	defer cancel()

	result, err := db.stmts["insertAccessLog"].ExecContext(ctx, entry.Text)
	if err != nil {
		return errs.NewDB("database.CreateAccessLogCtx", "failed to insert access log", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errs.NewDB("database.CreateAccessLogCtx", "failed to get last insert ID", err)
	}

	entry.ID = id
	return nil
}

// GetRecentAccessLogsCtx returns the newest audit entries for operator
// inspection. Persisted timestamps, not enqueue order, are authoritative.
func (db *DB) GetRecentAccessLogsCtx(ctx context.Context, limit int) ([]models.AccessLog, error) {
	ctx, cancel := db.withReadTimeout(ctx)
	defer cancel()

	query := `SELECT id, text, created_at
	          FROM access_logs
	          ORDER BY created_at DESC, id DESC
	          LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errs.NewDB("database.GetRecentAccessLogsCtx", "failed to query access logs", err)
	}
	defer rows.Close()

	var logs []models.AccessLog
	for rows.Next() {
		var l models.AccessLog
		if err := rows.Scan(&l.ID, &l.Text, &l.CreatedAt); err != nil {
			return nil, errs.NewDB("database.GetRecentAccessLogsCtx", "failed to scan access log", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewDB("database.GetRecentAccessLogsCtx", "row iteration error", err)
	}

	return logs, nil
}
