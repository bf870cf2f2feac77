package models

import "time"

// Category groups reviews. Created at setup time and immutable afterwards.
type Category struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// Review is one revision of a logical review. Multiple rows may share the
// same ReviewID (the business key); the row with the latest CreatedAt is the
// current revision and the only one exposed through read APIs. Tone and
// Sentiment start NULL and are populated once by the enrichment pipeline.
type Review struct {
	ID         int64     `json:"id"`
	ReviewID   string    `json:"review_id"`
	Text       *string   `json:"text"`
	Stars      int       `json:"stars"`
	Tone       *string   `json:"tone"`
	Sentiment  *string   `json:"sentiment"`
	CategoryID int64     `json:"category_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NeedsAnalysis reports whether the enrichment pipeline still owes this
// revision its tone/sentiment labels.
func (r Review) NeedsAnalysis() bool {
	return r.Tone == nil || r.Sentiment == nil
}

// ReviewWithCategory is the listing shape: a current revision joined with
// its category.
type ReviewWithCategory struct {
	Review
	Category Category `json:"category"`
}

// TrendingCategory is one row of the trends aggregation: averages computed
// over current revisions only.
type TrendingCategory struct {
	CategoryID   int64   `json:"category_id"`
	CategoryName string  `json:"category_name"`
	AverageStars float64 `json:"average_stars"`
	TotalReviews int     `json:"total_reviews"`
}

// PendingReview is the trimmed projection returned by the pending-analysis
// query and fed to the enrichment queue.
type PendingReview struct {
	ID        int64   `json:"id"`
	Text      *string `json:"text"`
	Stars     int     `json:"stars"`
	Tone      *string `json:"tone"`
	Sentiment *string `json:"sentiment"`
}

// AccessLog is an append-only audit record written by the audit-log worker.
type AccessLog struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
