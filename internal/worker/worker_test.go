package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"review-analytics/internal/analyzer"
	"review-analytics/internal/models"
	errs "review-analytics/pkg/errors"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/queue"
)

// fakeQueue is an in-memory JobQueue. Jobs pushed before Start are consumed
// in order; Dequeue returns nil once drained.
type fakeQueue struct {
	mu       sync.Mutex
	jobs     []*queue.Job
	acked    []string
	failed   []string
	dead     []string
	enqueued []string
	// exhaust makes Fail report job exhaustion instead of scheduling a retry.
	exhaust bool
}

func (f *fakeQueue) push(typ string, payload any) *queue.Job {
	raw, _ := json.Marshal(payload)
	j := &queue.Job{ID: typ + "-job", Type: typ, Payload: raw, Attempt: 1, MaxAttempts: 3}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
	return j
}

func (f *fakeQueue) Dequeue(_ context.Context, _ string, _ time.Duration) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil, nil
	}
	j := f.jobs[0]
	f.jobs = f.jobs[1:]
	return j, nil
}

func (f *fakeQueue) Ack(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, job.ID)
	return nil
}

func (f *fakeQueue) Fail(_ context.Context, job *queue.Job, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, job.ID)
	if f.exhaust {
		return errs.NewJobExhausted(job.Queue, job.ID, job.Attempt, cause)
	}
	return nil
}

func (f *fakeQueue) DeadLetter(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, job.ID)
	return nil
}

func (f *fakeQueue) RequeueStale(_ context.Context, _ string) (int, error) { return 0, nil }

func (f *fakeQueue) Enqueue(_ context.Context, q, typ string, payload any, _ queue.Options) (string, error) {
	raw, _ := json.Marshal(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, q+":"+string(raw))
	return "enq", nil
}

func (f *fakeQueue) snapshot() (acked, failed, enqueued []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...), append([]string(nil), f.failed...), append([]string(nil), f.enqueued...)
}

func (f *fakeQueue) deadLettered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dead...)
}

// fakeReviewRepo records analysis updates.
type fakeReviewRepo struct {
	mu      sync.Mutex
	updates map[int64]string
	err     error
}

func newFakeReviewRepo() *fakeReviewRepo {
	return &fakeReviewRepo{updates: make(map[int64]string)}
}

func (f *fakeReviewRepo) GetTrendingCategoriesCtx(context.Context) ([]models.TrendingCategory, error) {
	return nil, nil
}
func (f *fakeReviewRepo) GetReviewsByCategoryCtx(context.Context, int64, int, int) ([]models.ReviewWithCategory, error) {
	return nil, nil
}
func (f *fakeReviewRepo) CountDistinctReviewsCtx(context.Context, int64) (int, error) { return 0, nil }
func (f *fakeReviewRepo) GetReviewsNeedingAnalysisCtx(context.Context, *int64, int) ([]models.PendingReview, error) {
	return nil, nil
}
func (f *fakeReviewRepo) CategoryExistsCtx(context.Context, int64) (bool, error) { return true, nil }

func (f *fakeReviewRepo) UpdateReviewAnalysisCtx(_ context.Context, recordID int64, tone, sentiment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates[recordID] = tone + "/" + sentiment
	return nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []string
	err     error
}

func (f *fakeAuditRepo) CreateAccessLogCtx(_ context.Context, entry *models.AccessLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry.Text)
	return nil
}

func (f *fakeAuditRepo) GetRecentAccessLogsCtx(context.Context, int) ([]models.AccessLog, error) {
	return nil, nil
}

// cannedClassifier returns a fixed result.
type cannedClassifier struct {
	result analyzer.Result
	calls  int
}

func (c *cannedClassifier) Classify(context.Context, string, int) analyzer.Result {
	c.calls++
	return c.result
}

func testLogger() *logging.Logger { return logging.New("error", "text") }

func runPool(t *testing.T, q JobQueue, h Handler, concurrency int) *Pool {
	t.Helper()
	p := NewPool(q, h, concurrency, 10*time.Millisecond, testLogger())
	p.Start()
	time.Sleep(100 * time.Millisecond)
	if err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("pool stop: %v", err)
	}
	return p
}

func TestEnrichmentHandlerSuccess(t *testing.T) {
	fq := &fakeQueue{}
	fq.push(models.JobTypeEnrichReview, models.EnrichmentJob{RecordID: 7, Text: "great", Stars: 9})

	repo := newFakeReviewRepo()
	clf := &cannedClassifier{result: analyzer.Result{Tone: "positive", Sentiment: "happy"}}
	h := NewEnrichmentHandler(repo, clf, fq, queue.Options{}, testLogger())

	p := runPool(t, fq, h, 2)

	if got := repo.updates[7]; got != "positive/happy" {
		t.Fatalf("update for record 7 = %q, want positive/happy", got)
	}
	acked, failed, enqueued := fq.snapshot()
	if len(acked) != 1 || len(failed) != 0 {
		t.Fatalf("acked=%d failed=%d, want 1/0", len(acked), len(failed))
	}
	if len(enqueued) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(enqueued))
	}
	if s := p.GetStats(); s.Completed != 1 {
		t.Fatalf("completed = %d, want 1", s.Completed)
	}
}

func TestEnrichmentHandlerRetryOnDBError(t *testing.T) {
	fq := &fakeQueue{}
	fq.push(models.JobTypeEnrichReview, models.EnrichmentJob{RecordID: 3, Text: "ok", Stars: 5})

	repo := newFakeReviewRepo()
	repo.err = errs.NewDB("test", "deadlock", errors.New("1213"))
	h := NewEnrichmentHandler(repo, &cannedClassifier{}, fq, queue.Options{}, testLogger())

	p := runPool(t, fq, h, 1)

	acked, failed, enqueued := fq.snapshot()
	if len(failed) != 1 || len(acked) != 0 {
		t.Fatalf("acked=%d failed=%d, want 0/1", len(acked), len(failed))
	}
	if len(enqueued) != 1 {
		t.Fatalf("expected audit entry for the failed attempt, got %d", len(enqueued))
	}
	if s := p.GetStats(); s.Retried != 1 {
		t.Fatalf("retried = %d, want 1", s.Retried)
	}
}

func TestEnrichmentHandlerDropsInvalidPayload(t *testing.T) {
	fq := &fakeQueue{}
	fq.push(models.JobTypeEnrichReview, models.EnrichmentJob{RecordID: 0})

	repo := newFakeReviewRepo()
	clf := &cannedClassifier{}
	h := NewEnrichmentHandler(repo, clf, fq, queue.Options{}, testLogger())

	p := runPool(t, fq, h, 1)

	if clf.calls != 0 {
		t.Fatal("classifier should not run for invalid payloads")
	}
	acked, failed, _ := fq.snapshot()
	if len(acked) != 0 || len(failed) != 0 {
		t.Fatalf("invalid job must be neither acked nor retried: acked=%d failed=%d", len(acked), len(failed))
	}
	if dead := fq.deadLettered(); len(dead) != 1 {
		t.Fatalf("invalid job should be dead-lettered for inspection, got %d", len(dead))
	}
	if s := p.GetStats(); s.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped)
	}
}

func TestEnrichmentHandlerSkipsDeletedRow(t *testing.T) {
	fq := &fakeQueue{}
	fq.push(models.JobTypeEnrichReview, models.EnrichmentJob{RecordID: 42, Text: "x", Stars: 8})

	repo := newFakeReviewRepo()
	repo.err = errs.NewNotFound("test", "row gone", nil)
	h := NewEnrichmentHandler(repo, &cannedClassifier{result: analyzer.Fallback(8)}, fq, queue.Options{}, testLogger())

	runPool(t, fq, h, 1)

	acked, failed, _ := fq.snapshot()
	if len(acked) != 1 || len(failed) != 0 {
		t.Fatalf("deleted-row job should be acked: acked=%d failed=%d", len(acked), len(failed))
	}
}

func TestEnrichmentExhaustionEmitsAudit(t *testing.T) {
	fq := &fakeQueue{exhaust: true}
	fq.push(models.JobTypeEnrichReview, models.EnrichmentJob{RecordID: 5, Text: "x", Stars: 5})

	repo := newFakeReviewRepo()
	repo.err = errs.NewDB("test", "down", errors.New("dial tcp"))
	h := NewEnrichmentHandler(repo, &cannedClassifier{}, fq, queue.Options{}, testLogger())

	p := runPool(t, fq, h, 1)

	_, _, enqueued := fq.snapshot()
	if len(enqueued) != 2 {
		t.Fatalf("expected audit entries for the failed attempt and exhaustion, got %d", len(enqueued))
	}
	if s := p.GetStats(); s.Exhausted != 1 {
		t.Fatalf("exhausted = %d, want 1", s.Exhausted)
	}
}

func TestEnrichmentIdempotentOnRedelivery(t *testing.T) {
	fq := &fakeQueue{}
	job := models.EnrichmentJob{RecordID: 9, Text: "fine", Stars: 7}
	fq.push(models.JobTypeEnrichReview, job)
	fq.push(models.JobTypeEnrichReview, job)

	repo := newFakeReviewRepo()
	h := NewEnrichmentHandler(repo, &cannedClassifier{result: analyzer.Fallback(7)}, fq, queue.Options{}, testLogger())

	runPool(t, fq, h, 2)

	if got := repo.updates[9]; got != "neutral/pleased" {
		t.Fatalf("record 9 = %q, want neutral/pleased after double delivery", got)
	}
	acked, _, _ := fq.snapshot()
	if len(acked) != 2 {
		t.Fatalf("both deliveries should ack, got %d", len(acked))
	}
}

func TestAuditLogHandlerPersists(t *testing.T) {
	fq := &fakeQueue{}
	fq.push(models.JobTypeAccessLog, models.LogJob{Message: "trends accessed"})

	repo := &fakeAuditRepo{}
	h := NewAuditLogHandler(repo, testLogger())

	runPool(t, fq, h, 1)

	if len(repo.entries) != 1 || repo.entries[0] != "trends accessed" {
		t.Fatalf("entries = %v, want one 'trends accessed'", repo.entries)
	}
}

func TestAuditLogHandlerRetriesOnDBError(t *testing.T) {
	fq := &fakeQueue{}
	fq.push(models.JobTypeAccessLog, models.LogJob{Message: "x"})

	repo := &fakeAuditRepo{err: errs.NewDB("test", "down", nil)}
	h := NewAuditLogHandler(repo, testLogger())

	runPool(t, fq, h, 1)

	_, failed, _ := fq.snapshot()
	if len(failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(failed))
	}
}

func TestAuditLogHandlerDropsEmptyMessage(t *testing.T) {
	fq := &fakeQueue{}
	fq.push(models.JobTypeAccessLog, models.LogJob{})

	repo := &fakeAuditRepo{}
	h := NewAuditLogHandler(repo, testLogger())

	p := runPool(t, fq, h, 1)

	if len(repo.entries) != 0 {
		t.Fatal("empty message must not be persisted")
	}
	if s := p.GetStats(); s.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped)
	}
}

func TestPoolStopIsIdempotent(t *testing.T) {
	fq := &fakeQueue{}
	h := NewAuditLogHandler(&fakeAuditRepo{}, testLogger())
	p := NewPool(fq, h, 1, 10*time.Millisecond, testLogger())
	p.Start()
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
