// Package circuit provides a circuit breaker for outbound calls. Closed is
// normal operation, Open fails fast, HalfOpen lets one probe through.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"review-analytics/pkg/logging"
	"review-analytics/pkg/metrics"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// ErrOpen indicates the breaker is open and the call was short-circuited.
var ErrOpen = errors.New("circuit open")

// Config tunes a breaker instance.
type Config struct {
	Name              string
	OperationTimeout  time.Duration // per-call timeout, 0 disables
	OpenFor           time.Duration // how long to stay open before probing
	MaxConsecFailures int           // consecutive failures to open
}

type Breaker struct {
	cfg        Config
	mu         sync.Mutex
	st         State
	nextProbe  time.Time
	consecFail int

	log      *logging.Logger
	mState   *metrics.Gauge
	mOpens   *metrics.Counter
	mSuccess *metrics.Counter
	mFailure *metrics.Counter
}

func New(cfg Config, log *logging.Logger) *Breaker {
	if cfg.MaxConsecFailures <= 0 {
		cfg.MaxConsecFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = time.Minute
	}
	b := &Breaker{
		cfg:      cfg,
		st:       Closed,
		log:      log.Component("circuit").With("name", cfg.Name),
		mState:   metrics.Default.Gauge("cb_"+cfg.Name+"_state", "Circuit breaker state (0=closed,1=open,2=half-open)"),
		mOpens:   metrics.Default.Counter("cb_"+cfg.Name+"_opens_total", "Circuit opened events"),
		mSuccess: metrics.Default.Counter("cb_"+cfg.Name+"_success_total", "Successful calls through circuit"),
		mFailure: metrics.Default.Counter("cb_"+cfg.Name+"_failure_total", "Failed calls through circuit"),
	}
	b.mState.Set(0)
	return b
}

func (b *Breaker) setStateLocked(st State) {
	if b.st == st {
		return
	}
	b.st = st
	b.mState.Set(float64(st))
	if st == Open {
		b.mOpens.Inc(1)
	}
	b.log.Info("breaker state change", "state", int(st))
}

// State reports the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Do runs op under the breaker. When open, fallback handles the call if
// provided; otherwise ErrOpen is returned. Outputs are captured via closure
// variables.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error, fallback func(ctx context.Context, cause error) error) error {
	b.mu.Lock()
	if b.st == Open {
		if time.Now().Before(b.nextProbe) {
			b.mu.Unlock()
			if fallback != nil {
				return fallback(ctx, ErrOpen)
			}
			return ErrOpen
		}
		b.setStateLocked(HalfOpen)
	}
	b.mu.Unlock()

	if b.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.OperationTimeout)
		defer cancel()
	}

	err := op(ctx)

	b.mu.Lock()
	if err != nil {
		b.consecFail++
		b.mFailure.Inc(1)
		if b.st == HalfOpen || b.consecFail >= b.cfg.MaxConsecFailures {
			b.setStateLocked(Open)
			b.nextProbe = time.Now().Add(b.cfg.OpenFor)
			b.consecFail = 0
		}
		b.mu.Unlock()
		if fallback != nil {
			return fallback(ctx, err)
		}
		return err
	}

	b.consecFail = 0
	b.mSuccess.Inc(1)
	if b.st == HalfOpen {
		b.setStateLocked(Closed)
	}
	b.mu.Unlock()
	return nil
}
