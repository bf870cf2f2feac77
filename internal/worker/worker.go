// Package worker runs job consumers against the Redis-backed queue. A Pool
// owns a fixed set of goroutines that dequeue, dispatch to a Handler, and
// ack or fail the job based on the outcome.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	errs "review-analytics/pkg/errors"
	"review-analytics/pkg/logging"
	"review-analytics/pkg/queue"
)

// JobQueue is the slice of the queue client the pool needs. Narrowed so
// tests can substitute a fake.
type JobQueue interface {
	Dequeue(ctx context.Context, queue string, block time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, cause error) error
	DeadLetter(ctx context.Context, job *queue.Job) error
	RequeueStale(ctx context.Context, queue string) (int, error)
	Enqueue(ctx context.Context, queue, typ string, payload any, opts queue.Options) (string, error)
}

// Handler processes one job. A ValidationError return means the payload is
// unusable and the job is dead-lettered without retry; any other error
// schedules a retry until attempts are exhausted.
type Handler interface {
	Queue() string
	Handle(ctx context.Context, job *queue.Job) error
}

// exhaustedNotifier lets a handler observe jobs that failed their final
// attempt, after the queue has parked them.
type exhaustedNotifier interface {
	Exhausted(ctx context.Context, job *queue.Job, cause error)
}

// Stats tracks pool counters.
type Stats struct {
	Dequeued  int64
	Completed int64
	Retried   int64
	Exhausted int64
	Dropped   int64
	Workers   int
	StartTime time.Time
}

// Pool is a fixed-size worker pool over one queue.
type Pool struct {
	queue       JobQueue
	handler     Handler
	concurrency int
	block       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logging.Logger

	stats        Stats
	shutdownOnce sync.Once
}

// NewPool builds a pool; Start must be called before jobs are consumed.
func NewPool(q JobQueue, h Handler, concurrency int, block time.Duration, log *logging.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if block <= 0 {
		block = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       q,
		handler:     h,
		concurrency: concurrency,
		block:       block,
		ctx:         ctx,
		cancel:      cancel,
		log:         log.Component("worker").With("queue", h.Queue()),
		stats: Stats{
			Workers:   concurrency,
			StartTime: time.Now(),
		},
	}
}

// Start requeues jobs stranded in the active list by a previous crashed run,
// then launches the workers.
func (p *Pool) Start() {
	if n, err := p.queue.RequeueStale(p.ctx, p.handler.Queue()); err != nil {
		p.log.Warn("failed to requeue stale jobs", logging.Err(err))
	} else if n > 0 {
		p.log.Info("requeued stale jobs from previous run", "count", n)
	}

	p.log.Info("starting workers", "concurrency", p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels the workers and waits up to timeout for in-flight jobs to
// finish.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.shutdownOnce.Do(func() {
		p.log.Info("stopping workers")
		p.cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.log.Info("all workers stopped")
		case <-time.After(timeout):
			err = fmt.Errorf("worker shutdown timeout exceeded")
			p.log.Warn("shutdown timeout reached")
		}
	})
	return err
}

// GetStats returns a snapshot of the pool counters.
func (p *Pool) GetStats() Stats {
	return Stats{
		Dequeued:  atomic.LoadInt64(&p.stats.Dequeued),
		Completed: atomic.LoadInt64(&p.stats.Completed),
		Retried:   atomic.LoadInt64(&p.stats.Retried),
		Exhausted: atomic.LoadInt64(&p.stats.Exhausted),
		Dropped:   atomic.LoadInt64(&p.stats.Dropped),
		Workers:   p.stats.Workers,
		StartTime: p.stats.StartTime,
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.log.With("worker", id)
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(p.ctx, p.handler.Queue(), p.block)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", logging.Err(err))
			select {
			case <-time.After(time.Second):
			case <-p.ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		atomic.AddInt64(&p.stats.Dequeued, 1)
		p.process(job, log)
	}
}

func (p *Pool) process(job *queue.Job, log *logging.Logger) {
	err := p.handler.Handle(p.ctx, job)
	switch {
	case err == nil:
		if ackErr := p.queue.Ack(p.ctx, job); ackErr != nil {
			log.Error("ack failed", "job", job.ID, logging.Err(ackErr))
			return
		}
		atomic.AddInt64(&p.stats.Completed, 1)

	case errs.Is(err, errs.ErrValidation):
		// Unusable payload; retrying cannot fix it, but it stays in the
		// failed list for inspection.
		log.Warn("dead-lettering invalid job", "job", job.ID, logging.Err(err))
		if dlErr := p.queue.DeadLetter(p.ctx, job); dlErr != nil {
			log.Error("dead-letter of invalid job failed", "job", job.ID, logging.Err(dlErr))
		}
		atomic.AddInt64(&p.stats.Dropped, 1)

	default:
		failErr := p.queue.Fail(p.ctx, job, err)
		if failErr == nil {
			atomic.AddInt64(&p.stats.Retried, 1)
			log.Warn("job failed, retry scheduled", "job", job.ID, "attempt", job.Attempt, logging.Err(err))
			return
		}
		if errs.Is(failErr, errs.ErrJobExhausted) {
			atomic.AddInt64(&p.stats.Exhausted, 1)
			log.Error("job exhausted all attempts", "job", job.ID, "attempts", job.Attempt, logging.Err(err))
			if n, ok := p.handler.(exhaustedNotifier); ok {
				n.Exhausted(p.ctx, job, err)
			}
			return
		}
		log.Error("failed to schedule retry", "job", job.ID, logging.Err(failErr))
	}
}
