// Package health aggregates liveness checks for the service's backing
// systems.
package health

import (
	"context"
	"sync"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Report is the health endpoint body.
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Registry holds named checks and runs them on demand.
type Registry struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
	}
}

func (r *Registry) Register(name string, check CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// Check runs all registered probes. healthy is false if any probe fails.
func (r *Registry) Check(ctx context.Context) (Report, bool) {
	r.mu.RLock()
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	r.mu.RUnlock()

	report := Report{
		Status:     "ok",
		Components: make(map[string]string, len(checks)),
		CheckedAt:  time.Now().UTC(),
	}
	healthy := true
	for name, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := check(cctx)
		cancel()
		if err != nil {
			report.Components[name] = err.Error()
			healthy = false
			continue
		}
		report.Components[name] = "ok"
	}
	if !healthy {
		report.Status = "degraded"
	}
	return report, healthy
}
