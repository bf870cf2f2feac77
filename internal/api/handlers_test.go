package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"review-analytics/internal/models"
	errs "review-analytics/pkg/errors"
	"review-analytics/pkg/health"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/queue"
)

type stubRepo struct {
	trends       []models.TrendingCategory
	reviews      []models.ReviewWithCategory
	pending      []models.PendingReview
	logs         []models.AccessLog
	total        int
	categories   map[int64]bool
	err          error
	lastLogLimit int
}

func (s *stubRepo) GetTrendingCategoriesCtx(context.Context) ([]models.TrendingCategory, error) {
	return s.trends, s.err
}
func (s *stubRepo) GetReviewsByCategoryCtx(context.Context, int64, int, int) ([]models.ReviewWithCategory, error) {
	return s.reviews, s.err
}
func (s *stubRepo) CountDistinctReviewsCtx(context.Context, int64) (int, error) {
	return s.total, s.err
}
func (s *stubRepo) GetReviewsNeedingAnalysisCtx(context.Context, *int64, int) ([]models.PendingReview, error) {
	return s.pending, s.err
}
func (s *stubRepo) CategoryExistsCtx(_ context.Context, id int64) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.categories[id], nil
}
func (s *stubRepo) UpdateReviewAnalysisCtx(context.Context, int64, string, string) error {
	return s.err
}
func (s *stubRepo) CreateAccessLogCtx(context.Context, *models.AccessLog) error { return s.err }
func (s *stubRepo) GetRecentAccessLogsCtx(_ context.Context, limit int) ([]models.AccessLog, error) {
	s.lastLogLimit = limit
	return s.logs, s.err
}

type stubQueue struct {
	mu       sync.Mutex
	bulk     [][]any
	singles  []string
	counts   queue.Counts
	cleaned  []string
	enqErr   error
	countErr error
}

func (s *stubQueue) Enqueue(_ context.Context, q, _ string, payload any, _ queue.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqErr != nil {
		return "", s.enqErr
	}
	raw, _ := json.Marshal(payload)
	s.singles = append(s.singles, q+":"+string(raw))
	return "id", nil
}

func (s *stubQueue) EnqueueBulk(_ context.Context, _ string, _ string, payloads []any, _ queue.Options) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqErr != nil {
		return 0, s.enqErr
	}
	s.bulk = append(s.bulk, payloads)
	return len(payloads), nil
}

func (s *stubQueue) Counts(context.Context, string) (queue.Counts, error) {
	return s.counts, s.countErr
}

func (s *stubQueue) Clean(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned = append(s.cleaned, name)
	return nil
}

func (s *stubQueue) Ping(context.Context) error { return nil }

func (s *stubQueue) bulkJobs() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, b := range s.bulk {
		out = append(out, b...)
	}
	return out
}

func strPtr(s string) *string { return &s }

func testOpts() Options {
	return Options{PendingBatchSize: 50}
}

func newRouter(repo *stubRepo, q *stubQueue) http.Handler {
	hc := health.NewRegistry(time.Second)
	hc.Register("database", func(context.Context) error { return nil })
	hc.Register("redis", func(context.Context) error { return nil })
	return NewRouter(repo, q, hc, testOpts(), logging.New("error", "text"))
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v\n%s", err, rr.Body.String())
	}
	return body
}

func TestTrendsRoundsAverages(t *testing.T) {
	repo := &stubRepo{trends: []models.TrendingCategory{
		{CategoryID: 1, CategoryName: "Electronics", AverageStars: 8.666666, TotalReviews: 3},
		{CategoryID: 2, CategoryName: "Books", AverageStars: 7.5, TotalReviews: 2},
	}}
	rr := doGet(t, newRouter(repo, &stubQueue{}), "/reviews/trends")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Fatal("expected success envelope")
	}
	if body["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", body["count"])
	}
	data := body["data"].([]any)
	first := data[0].(map[string]any)
	if got := first["average_stars"].(float64); got != 8.67 {
		t.Fatalf("average_stars = %v, want 8.67", got)
	}
}

func TestReviewsRequiresCategoryID(t *testing.T) {
	rr := doGet(t, newRouter(&stubRepo{}, &stubQueue{}), "/reviews")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestReviewsRejectsBadCategoryID(t *testing.T) {
	for _, q := range []string{"category_id=abc", "category_id=-3", "category_id=0"} {
		rr := doGet(t, newRouter(&stubRepo{}, &stubQueue{}), "/reviews?"+q)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rr.Code)
		}
	}
}

func TestReviewsUnknownCategory(t *testing.T) {
	repo := &stubRepo{categories: map[int64]bool{1: true}}
	rr := doGet(t, newRouter(repo, &stubQueue{}), "/reviews?category_id=99")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestReviewsRejectsBadPagination(t *testing.T) {
	repo := &stubRepo{categories: map[int64]bool{1: true}}
	for _, q := range []string{"page=0", "limit=0", "limit=101", "page=x"} {
		rr := doGet(t, newRouter(repo, &stubQueue{}), "/reviews?category_id=1&"+q)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rr.Code)
		}
	}
}

// Mirrors the seed data shape: REV001 has two revisions (latest carries 10
// stars, unanalyzed), REV002 has one analyzed revision. The listing returns
// one row per logical review and queues enrichment only for the unanalyzed
// latest revision.
func TestReviewsListingWithEnrichmentQueue(t *testing.T) {
	now := time.Now()
	cat := models.Category{ID: 1, Name: "Electronics"}
	repo := &stubRepo{
		categories: map[int64]bool{1: true},
		total:      2,
		reviews: []models.ReviewWithCategory{
			{
				Review: models.Review{
					ID: 3, ReviewID: "REV001", Text: strPtr("Amazing after the update"),
					Stars: 10, CategoryID: 1, CreatedAt: now,
				},
				Category: cat,
			},
			{
				Review: models.Review{
					ID: 2, ReviewID: "REV002", Text: strPtr("Solid purchase"),
					Stars: 8, Tone: strPtr("positive"), Sentiment: strPtr("satisfied"),
					CategoryID: 1, CreatedAt: now,
				},
				Category: cat,
			},
		},
	}
	sq := &stubQueue{}
	rr := doGet(t, newRouter(repo, sq), "/reviews?category_id=1")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)

	data := body["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("got %d rows, want 2", len(data))
	}
	first := data[0].(map[string]any)
	if first["review_id"] != "REV001" || first["stars"].(float64) != 10 {
		t.Fatalf("first row = %v, want REV001 latest revision with 10 stars", first)
	}
	if first["needs_llm_processing"] != true {
		t.Fatal("REV001 latest revision should be flagged for analysis")
	}
	second := data[1].(map[string]any)
	if second["needs_llm_processing"] != false {
		t.Fatal("analyzed REV002 must not be flagged")
	}

	if body["llm_processing_queued"].(float64) != 1 {
		t.Fatalf("llm_processing_queued = %v, want 1", body["llm_processing_queued"])
	}
	jobs := sq.bulkJobs()
	if len(jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1", len(jobs))
	}
	job := jobs[0].(models.EnrichmentJob)
	if job.RecordID != 3 || job.Stars != 10 {
		t.Fatalf("job = %+v, want record 3 with 10 stars", job)
	}

	meta := body["pagination"].(map[string]any)
	if meta["page"].(float64) != 1 || meta["limit"].(float64) != 15 {
		t.Fatalf("pagination defaults wrong: %v", meta)
	}
	if meta["totalCount"].(float64) != 2 || meta["hasNext"] != false {
		t.Fatalf("pagination meta wrong: %v", meta)
	}
}

func TestReviewsSkipsTextlessRows(t *testing.T) {
	repo := &stubRepo{
		categories: map[int64]bool{1: true},
		total:      1,
		reviews: []models.ReviewWithCategory{
			{Review: models.Review{ID: 4, ReviewID: "REV003", Stars: 6, CategoryID: 1}},
		},
	}
	sq := &stubQueue{}
	rr := doGet(t, newRouter(repo, sq), "/reviews?category_id=1")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if jobs := sq.bulkJobs(); len(jobs) != 0 {
		t.Fatalf("textless rows must not be queued, got %d jobs", len(jobs))
	}
}

func TestReviewsSurvivesQueueOutage(t *testing.T) {
	repo := &stubRepo{
		categories: map[int64]bool{1: true},
		total:      1,
		reviews: []models.ReviewWithCategory{
			{Review: models.Review{ID: 5, ReviewID: "REV004", Text: strPtr("ok"), Stars: 5, CategoryID: 1}},
		},
	}
	sq := &stubQueue{enqErr: errors.New("redis down")}
	rr := doGet(t, newRouter(repo, sq), "/reviews?category_id=1")

	if rr.Code != http.StatusOK {
		t.Fatalf("listing must succeed despite queue outage, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["llm_processing_queued"].(float64) != 0 {
		t.Fatalf("llm_processing_queued = %v, want 0", body["llm_processing_queued"])
	}
}

func TestPendingLLM(t *testing.T) {
	repo := &stubRepo{pending: []models.PendingReview{
		{ID: 3, Text: strPtr("Amazing"), Stars: 10},
	}}
	rr := doGet(t, newRouter(repo, &stubQueue{}), "/reviews/pending-llm")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", body["count"])
	}
}

func TestPendingLLMRejectsBadCategory(t *testing.T) {
	rr := doGet(t, newRouter(&stubRepo{}, &stubQueue{}), "/reviews/pending-llm?category_id=no")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestRecentLogs(t *testing.T) {
	repo := &stubRepo{logs: []models.AccessLog{
		{ID: 2, Text: "Reviews accessed for category 1 (page 1)"},
		{ID: 1, Text: "Trending categories accessed"},
	}}
	rr := doGet(t, newRouter(repo, &stubQueue{}), "/logs/recent")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", body["count"])
	}
	if repo.lastLogLimit != 50 {
		t.Fatalf("default limit = %d, want 50", repo.lastLogLimit)
	}
}

func TestRecentLogsCapsLimit(t *testing.T) {
	repo := &stubRepo{}
	rr := doGet(t, newRouter(repo, &stubQueue{}), "/logs/recent?limit=9999")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if repo.lastLogLimit != 200 {
		t.Fatalf("limit = %d, want cap of 200", repo.lastLogLimit)
	}
}

func TestRecentLogsRejectsBadLimit(t *testing.T) {
	for _, q := range []string{"limit=0", "limit=-5", "limit=abc"} {
		rr := doGet(t, newRouter(&stubRepo{}, &stubQueue{}), "/logs/recent?"+q)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rr.Code)
		}
	}
}

func TestRepositoryErrorIs500(t *testing.T) {
	repo := &stubRepo{err: errs.NewDB("test", "connection lost", nil)}
	rr := doGet(t, newRouter(repo, &stubQueue{}), "/reviews/trends")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	hc := health.NewRegistry(time.Second)
	hc.Register("database", func(context.Context) error { return nil })
	hc.Register("redis", func(context.Context) error { return errors.New("dial tcp: refused") })
	router := NewRouter(&stubRepo{}, &stubQueue{}, hc, testOpts(), logging.New("error", "text"))

	rr := doGet(t, router, "/health")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with failing probe", rr.Code)
	}
	var report health.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if report.Status != "degraded" || report.Components["database"] != "ok" {
		t.Fatalf("report = %+v", report)
	}
}

func TestQueueStats(t *testing.T) {
	sq := &stubQueue{counts: queue.Counts{Waiting: 4, Done: 10}}
	rr := doGet(t, newRouter(&stubRepo{}, sq), "/queue/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	data := body["data"].(map[string]any)
	if _, ok := data["enrichment"]; !ok {
		t.Fatal("missing enrichment queue stats")
	}
}

func TestQueueClean(t *testing.T) {
	sq := &stubQueue{}
	req := httptest.NewRequest(http.MethodPost, "/queue/clean?queue=enrichment", nil)
	rr := httptest.NewRecorder()
	newRouter(&stubRepo{}, sq).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(sq.cleaned) != 1 || sq.cleaned[0] != "enrichment" {
		t.Fatalf("cleaned = %v, want [enrichment]", sq.cleaned)
	}
}

func TestQueueCleanRejectsUnknownQueue(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/queue/clean?queue=bogus", nil)
	rr := httptest.NewRecorder()
	newRouter(&stubRepo{}, &stubQueue{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestUnknownRouteIs404JSON(t *testing.T) {
	rr := doGet(t, newRouter(&stubRepo{}, &stubQueue{}), "/nope")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Fatal("expected JSON error envelope")
	}
}
