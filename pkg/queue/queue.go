// Package queue is a Redis-backed job queue with at-least-once delivery.
//
// Each named queue owns five keys: a waiting list, an active list, a delayed
// sorted set scored by ready-time, a failed list retained for inspection,
// and a done counter. Workers move jobs waiting→active atomically (BLMOVE),
// then Ack or Fail; a crash between the two leaves the job in active, where
// RequeueStale recovers it on the next worker start. Retries back off
// exponentially; jobs that exhaust their budget are parked in the failed
// list and never retried automatically.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errs "review-analytics/pkg/errors"
	"review-analytics/pkg/logging"
)

const (
	QueueEnrichment = "enrichment"
	QueueAuditLog   = "auditlog"

	defaultAttempts = 3
)

// Options configure the retry policy for an enqueued job.
type Options struct {
	Attempts int           // delivery attempts before parking (default 3)
	Backoff  time.Duration // base delay; doubles per attempt
}

// Job is the queue envelope. Payload shape is owned by the producer and
// validated by the consumer at dequeue time.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"` // deliveries so far, including the current one
	MaxAttempts int             `json:"max_attempts"`
	BackoffMS   int64           `json:"backoff_ms"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`

	raw string // exact member stored in Redis, used for LREM
}

// NextDelay computes the backoff before the next delivery: base * 2^(n-1)
// where n is the number of deliveries already made.
func (j *Job) NextDelay() time.Duration {
	base := time.Duration(j.BackoffMS) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	n := j.Attempt
	if n < 1 {
		n = 1
	}
	return base << (n - 1)
}

// Counts is a queue depth snapshot.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
	Done    int64 `json:"completed"`
}

// Client talks to one Redis instance shared by producers and workers.
type Client struct {
	rdb    *redis.Client
	prefix string
	log    *logging.Logger
}

// New connects to Redis using a URL (redis://host:port/db) and verifies the
// connection before returning.
func New(url, prefix string, log *logging.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.NewQueue("queue.New", "", "invalid redis URL", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errs.NewQueue("queue.New", "", "redis unreachable", err)
	}

	return &Client{rdb: rdb, prefix: prefix, log: log.Component("queue")}, nil
}

func (c *Client) key(queue, part string) string {
	return c.prefix + "queue:" + queue + ":" + part
}

// Ping verifies connectivity for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }

// defaultBackoff is the per-queue retry base used when the producer does
// not set one. Enrichment retries are slower because the provider call is
// the expensive part.
func defaultBackoff(queue string) time.Duration {
	if queue == QueueEnrichment {
		return 2 * time.Second
	}
	return time.Second
}

func (c *Client) buildJob(queue, typ string, payload any, opts Options) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.NewQueue("queue.buildJob", queue, "failed to marshal payload", err)
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff(queue)
	}
	return &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Type:        typ,
		Payload:     body,
		Attempt:     0,
		MaxAttempts: attempts,
		BackoffMS:   backoff.Milliseconds(),
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// Enqueue appends one job to the waiting list.
func (c *Client) Enqueue(ctx context.Context, queue, typ string, payload any, opts Options) (string, error) {
	job, err := c.buildJob(queue, typ, payload, opts)
	if err != nil {
		return "", err
	}
	member, _ := json.Marshal(job)
	if err := c.rdb.LPush(ctx, c.key(queue, "waiting"), member).Err(); err != nil {
		return "", errs.NewQueue("queue.Enqueue", queue, "failed to push job", err)
	}
	return job.ID, nil
}

// EnqueueBulk submits all payloads in a single pipeline. From the caller's
// perspective the batch either reaches Redis or errors as a unit.
func (c *Client) EnqueueBulk(ctx context.Context, queue, typ string, payloads []any, opts Options) (int, error) {
	if len(payloads) == 0 {
		return 0, nil
	}

	pipe := c.rdb.Pipeline()
	waiting := c.key(queue, "waiting")
	for _, p := range payloads {
		job, err := c.buildJob(queue, typ, p, opts)
		if err != nil {
			return 0, err
		}
		member, _ := json.Marshal(job)
		pipe.LPush(ctx, waiting, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errs.NewQueue("queue.EnqueueBulk", queue, "failed to push jobs", err)
	}
	return len(payloads), nil
}

// Dequeue blocks up to block for the next job, promoting due delayed jobs
// first. Returns (nil, nil) when the wait times out. Malformed members are
// dead-lettered to the failed list and skipped.
func (c *Client) Dequeue(ctx context.Context, queue string, block time.Duration) (*Job, error) {
	if err := c.promoteDelayed(ctx, queue); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(block)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}

		raw, err := c.rdb.BLMove(ctx, c.key(queue, "waiting"), c.key(queue, "active"), "RIGHT", "LEFT", wait).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, errs.NewQueue("queue.Dequeue", queue, "failed to move job to active", err)
		}

		var job Job
		if uerr := json.Unmarshal([]byte(raw), &job); uerr != nil || job.ID == "" || job.Type == "" {
			c.deadLetter(ctx, queue, raw)
			c.log.Warn("dead-lettered malformed job", "queue", queue)
			continue
		}

		job.raw = raw
		job.Attempt++
		return &job, nil
	}
}

// promoteDelayed moves jobs whose backoff has elapsed back to waiting.
func (c *Client) promoteDelayed(ctx context.Context, queue string) error {
	delayed := c.key(queue, "delayed")
	now := time.Now()

	members, err := c.rdb.ZRangeByScore(ctx, delayed, &redis.ZRangeBy{
		Min: "-inf", Max: formatScore(now), Count: 100,
	}).Result()
	if err != nil {
		return errs.NewQueue("queue.promoteDelayed", queue, "failed to read delayed jobs", err)
	}
	if len(members) == 0 {
		return nil
	}

	pipe := c.rdb.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, c.key(queue, "waiting"), m)
		pipe.ZRem(ctx, delayed, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.NewQueue("queue.promoteDelayed", queue, "failed to promote delayed jobs", err)
	}
	return nil
}

func (c *Client) deadLetter(ctx context.Context, queue, raw string) {
	pipe := c.rdb.Pipeline()
	pipe.LRem(ctx, c.key(queue, "active"), 1, raw)
	pipe.LPush(ctx, c.key(queue, "failed"), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Error("failed to dead-letter job", "queue", queue, logging.Err(err))
	}
}

// DeadLetter parks a job in the failed list immediately, bypassing the
// retry schedule. For payloads that no amount of retrying can fix; the job
// stays visible to operators alongside exhausted ones until Clean.
func (c *Client) DeadLetter(ctx context.Context, job *Job) error {
	member, _ := json.Marshal(job)
	pipe := c.rdb.Pipeline()
	pipe.LRem(ctx, c.key(job.Queue, "active"), 1, job.raw)
	pipe.LPush(ctx, c.key(job.Queue, "failed"), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.NewQueue("queue.DeadLetter", job.Queue, "failed to dead-letter job", err)
	}
	return nil
}

// Ack marks a job complete and removes it from the active set.
func (c *Client) Ack(ctx context.Context, job *Job) error {
	pipe := c.rdb.Pipeline()
	pipe.LRem(ctx, c.key(job.Queue, "active"), 1, job.raw)
	pipe.Incr(ctx, c.key(job.Queue, "done"))
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.NewQueue("queue.Ack", job.Queue, "failed to ack job", err)
	}
	return nil
}

// Fail records a delivery failure. With attempts remaining the job is
// scheduled for redelivery after its backoff; otherwise it is parked in the
// failed list and a JobExhaustedError is returned for the worker to log.
func (c *Client) Fail(ctx context.Context, job *Job, cause error) error {
	member, _ := json.Marshal(job) // persists the incremented attempt count
	active := c.key(job.Queue, "active")

	if job.Attempt >= job.MaxAttempts {
		pipe := c.rdb.Pipeline()
		pipe.LRem(ctx, active, 1, job.raw)
		pipe.LPush(ctx, c.key(job.Queue, "failed"), member)
		if _, err := pipe.Exec(ctx); err != nil {
			return errs.NewQueue("queue.Fail", job.Queue, "failed to park exhausted job", err)
		}
		return errs.NewJobExhausted(job.Queue, job.ID, job.Attempt, cause)
	}

	readyAt := time.Now().Add(job.NextDelay())
	pipe := c.rdb.Pipeline()
	pipe.LRem(ctx, active, 1, job.raw)
	pipe.ZAdd(ctx, c.key(job.Queue, "delayed"), redis.Z{Score: scoreOf(readyAt), Member: member})
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.NewQueue("queue.Fail", job.Queue, "failed to schedule retry", err)
	}
	return nil
}

// RequeueStale moves everything from active back to waiting. Called once at
// worker start to recover jobs abandoned by a crashed worker; combined with
// idempotent handlers this yields at-least-once processing.
func (c *Client) RequeueStale(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		_, err := c.rdb.LMove(ctx, c.key(queue, "active"), c.key(queue, "waiting"), "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, errs.NewQueue("queue.RequeueStale", queue, "failed to requeue stale job", err)
		}
		moved++
	}
}

// Counts returns a depth snapshot for operators.
func (c *Client) Counts(ctx context.Context, queue string) (Counts, error) {
	pipe := c.rdb.Pipeline()
	waiting := pipe.LLen(ctx, c.key(queue, "waiting"))
	active := pipe.LLen(ctx, c.key(queue, "active"))
	delayed := pipe.ZCard(ctx, c.key(queue, "delayed"))
	failed := pipe.LLen(ctx, c.key(queue, "failed"))
	done := pipe.Get(ctx, c.key(queue, "done"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, errs.NewQueue("queue.Counts", queue, "failed to read queue depth", err)
	}

	doneN, _ := done.Int64() // missing counter reads as zero
	return Counts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
		Done:    doneN,
	}, nil
}

// Clean drops the failed list. Explicit operator action only; failures are
// never purged automatically.
func (c *Client) Clean(ctx context.Context, queue string) error {
	if err := c.rdb.Del(ctx, c.key(queue, "failed")).Err(); err != nil {
		return errs.NewQueue("queue.Clean", queue, "failed to clean failed jobs", err)
	}
	return nil
}

func scoreOf(t time.Time) float64 { return float64(t.UnixMilli()) }

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
