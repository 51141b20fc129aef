package router

import (
	"sync"
	"time"

	"github.com/af-corp/relay-router/internal/clock"
	"github.com/af-corp/relay-router/internal/config"
)

// HealthState is the per-backend health classification.
type HealthState string

const (
	StateHealthy     HealthState = "healthy"
	StateDegraded    HealthState = "degraded"
	StateUnavailable HealthState = "unavailable"
)

// HealthStatus is the tracked health record for one backend.
type HealthStatus struct {
	State                HealthState `json:"state"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
	LastChecked          time.Time   `json:"last_checked"`
	// RetryAt is the failure-backoff re-eligibility time: after a transient
	// failure the backend sits out future rankings for min(base·2^n, cap).
	RetryAt time.Time `json:"retry_at"`
}

// HealthTracker maintains the health state machine for every backend, fed by
// both live-traffic outcomes and the background probe loop. State never skips
// from unavailable to healthy: recovery passes through degraded and needs a
// second consecutive success, which stops flapping.
type HealthTracker struct {
	cfg config.HealthConfig
	clk clock.Clock

	mu      sync.RWMutex
	entries map[string]*healthEntry
}

type healthEntry struct {
	mu     sync.Mutex
	status HealthStatus
}

func NewHealthTracker(cfg config.HealthConfig, clk clock.Clock) *HealthTracker {
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = 3
	}
	if cfg.UnavailableThreshold <= 0 {
		cfg.UnavailableThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 60 * time.Second
	}
	return &HealthTracker{
		cfg:     cfg,
		clk:     clk,
		entries: make(map[string]*healthEntry),
	}
}

func (t *HealthTracker) entry(backendID string) *healthEntry {
	t.mu.RLock()
	e, ok := t.entries[backendID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[backendID]; ok {
		return e
	}
	e = &healthEntry{status: HealthStatus{State: StateHealthy}}
	t.entries[backendID] = e
	return e
}

// ReportSuccess records a successful call (live traffic or probe).
func (t *HealthTracker) ReportSuccess(backendID string) {
	e := t.entry(backendID)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.status
	s.ConsecutiveFailures = 0
	s.ConsecutiveSuccesses++
	s.LastChecked = t.clk.Now()
	s.RetryAt = time.Time{}

	switch s.State {
	case StateUnavailable:
		s.State = StateDegraded
		s.ConsecutiveSuccesses = 1
	case StateDegraded:
		if s.ConsecutiveSuccesses >= t.cfg.SuccessThreshold {
			s.State = StateHealthy
		}
	}
}

// ReportFailure records a transient failure. Rate-limit signals must not be
// reported here: they are an expected condition, not a health problem.
func (t *HealthTracker) ReportFailure(backendID string) {
	e := t.entry(backendID)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.status
	s.ConsecutiveSuccesses = 0
	s.ConsecutiveFailures++
	s.LastChecked = t.clk.Now()

	if s.ConsecutiveFailures >= t.cfg.UnavailableThreshold {
		s.State = StateUnavailable
	} else if s.ConsecutiveFailures >= t.cfg.DegradedThreshold {
		s.State = StateDegraded
	}

	s.RetryAt = t.clk.Now().Add(t.backoff(s.ConsecutiveFailures))
}

// backoff returns min(base·2^(failures-1), cap).
func (t *HealthTracker) backoff(failures int) time.Duration {
	d := t.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= t.cfg.BackoffCap {
			return t.cfg.BackoffCap
		}
	}
	if d > t.cfg.BackoffCap {
		return t.cfg.BackoffCap
	}
	return d
}

// Status returns the current record for a backend. Unseen backends are
// healthy.
func (t *HealthTracker) Status(backendID string) HealthStatus {
	e := t.entry(backendID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Snapshot returns a point-in-time copy of every tracked backend. The ranker
// treats backends absent from the snapshot as healthy.
func (t *HealthTracker) Snapshot() map[string]HealthStatus {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	out := make(map[string]HealthStatus, len(ids))
	for _, id := range ids {
		e := t.entry(id)
		e.mu.Lock()
		out[id] = e.status
		e.mu.Unlock()
	}
	return out
}
