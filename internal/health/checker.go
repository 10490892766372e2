// Package health reports liveness and backend readiness of the launcher.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker is implemented by workload orchestrators to verify their
// backend is reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status  Status                 `json:"status"`
	Backend string                 `json:"backend,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// Checker checks the selected backend.
type Checker struct {
	backend  ReadinessChecker
	name     string
	timeout  time.Duration
	cacheTTL time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a checker for backend, reported under name ("kube" or "docker").
func NewChecker(backend ReadinessChecker, name string) *Checker {
	return &Checker{
		backend:  backend,
		name:     name,
		timeout:  5 * time.Second,
		cacheTTL: time.Second,
	}
}

// Liveness returns healthy while the process runs. It checks no dependencies.
func (c *Checker) Liveness(context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness checks that the backend is reachable. Results are cached briefly
// so probes do not hammer the backend API.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status:  StatusUnhealthy,
			Backend: c.name,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "launcher is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheTTL {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	check := c.checkBackend(ctx)
	response := &Response{
		Status:  check.Status,
		Backend: c.name,
		Checks:  map[string]CheckResult{"backend": check},
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) checkBackend(ctx context.Context) CheckResult {
	if c.backend == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "backend not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown makes readiness fail from now on.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
