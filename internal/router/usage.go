package router

import (
	"sync"
	"time"

	"github.com/af-corp/relay-router/internal/clock"
)

// UsageStats is the recent-usage record for one backend, used only as a
// load-spreading bias in ranking, never as a hard gate.
type UsageStats struct {
	// Count is the number of attempts in the rolling window.
	Count int `json:"count"`
	// Decayed is the recency-weighted count: each attempt contributes
	// 1 − age/window, so newer attempts weigh more.
	Decayed float64 `json:"decayed"`
}

// UsageRecorder tracks attempts per backend over a rolling window.
type UsageRecorder struct {
	window time.Duration
	clk    clock.Clock

	mu      sync.RWMutex
	entries map[string]*usageEntry
}

type usageEntry struct {
	mu       sync.Mutex
	attempts []time.Time
}

func NewUsageRecorder(window time.Duration, clk clock.Clock) *UsageRecorder {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &UsageRecorder{
		window:  window,
		clk:     clk,
		entries: make(map[string]*usageEntry),
	}
}

func (u *UsageRecorder) entry(backendID string) *usageEntry {
	u.mu.RLock()
	e, ok := u.entries[backendID]
	u.mu.RUnlock()
	if ok {
		return e
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.entries[backendID]; ok {
		return e
	}
	e = &usageEntry{}
	u.entries[backendID] = e
	return e
}

// Record notes one attempt against a backend.
func (u *UsageRecorder) Record(backendID string) {
	now := u.clk.Now()
	e := u.entry(backendID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts = append(e.attempts, now)
	e.prune(now, u.window)
}

// prune drops attempts older than the window. Must hold the entry lock.
func (e *usageEntry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(e.attempts); i++ {
		if e.attempts[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		e.attempts = append(e.attempts[:0], e.attempts[i:]...)
	}
}

func (e *usageEntry) stats(now time.Time, window time.Duration) UsageStats {
	var s UsageStats
	for _, at := range e.attempts {
		age := now.Sub(at)
		if age < 0 || age >= window {
			continue
		}
		s.Count++
		s.Decayed += 1 - float64(age)/float64(window)
	}
	return s
}

// Stats returns the current usage record for a backend.
func (u *UsageRecorder) Stats(backendID string) UsageStats {
	now := u.clk.Now()
	e := u.entry(backendID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prune(now, u.window)
	return e.stats(now, u.window)
}

// Snapshot returns a point-in-time copy of all tracked usage.
func (u *UsageRecorder) Snapshot() map[string]UsageStats {
	now := u.clk.Now()

	u.mu.RLock()
	ids := make([]string, 0, len(u.entries))
	for id := range u.entries {
		ids = append(ids, id)
	}
	u.mu.RUnlock()

	out := make(map[string]UsageStats, len(ids))
	for _, id := range ids {
		e := u.entry(id)
		e.mu.Lock()
		e.prune(now, u.window)
		out[id] = e.stats(now, u.window)
		e.mu.Unlock()
	}
	return out
}
