// Package pagination computes page windows and metadata for listing
// endpoints. All functions are pure.
package pagination

import (
	"strconv"

	errs "review-analytics/pkg/errors"
)

const (
	DefaultPage  = 1
	DefaultLimit = 15
	MaxLimit     = 100
)

// Params are validated page/limit inputs.
type Params struct {
	Page  int
	Limit int
}

// Meta describes the window relative to the full result set.
type Meta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalPages int  `json:"totalPages"`
	TotalCount int  `json:"totalCount"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Validate parses and validates raw query values. Empty strings select the
// defaults (page=1, limit=15). Page must be >= 1; limit must be in [1,100].
func Validate(pageStr, limitStr string) (Params, error) {
	page := DefaultPage
	if pageStr != "" {
		n, err := strconv.Atoi(pageStr)
		if err != nil {
			return Params{}, errs.NewValidation("pagination.Validate", "page must be a positive integer", err)
		}
		page = n
	}
	if page < 1 {
		return Params{}, errs.NewValidation("pagination.Validate", "page must be a positive integer", nil)
	}

	limit := DefaultLimit
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			return Params{}, errs.NewValidation("pagination.Validate", "limit must be between 1 and 100", err)
		}
		limit = n
	}
	if limit < 1 || limit > MaxLimit {
		return Params{}, errs.NewValidation("pagination.Validate", "limit must be between 1 and 100", nil)
	}

	return Params{Page: page, Limit: limit}, nil
}

// Window converts page/limit into an offset/count pair for SQL LIMIT/OFFSET.
func Window(page, limit int) (offset, count int) {
	return (page - 1) * limit, limit
}

// BuildMeta derives page metadata from the validated window and the total
// number of distinct items.
func BuildMeta(page, limit, totalCount int) Meta {
	totalPages := (totalCount + limit - 1) / limit
	return Meta{
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
		TotalCount: totalCount,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
