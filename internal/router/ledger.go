package router

import (
	"sync"
	"time"

	"github.com/af-corp/relay-router/internal/catalog"
	"github.com/af-corp/relay-router/internal/clock"
)

// RateLimitState is the advisory rate-window state for one backend. The
// upstream provider remains authoritative; this state only exists to avoid
// wasted calls and to bias ranking.
type RateLimitState struct {
	WindowStart    time.Time `json:"window_start"`
	Requests       int       `json:"requests"`
	Tokens         int       `json:"tokens"`
	AvailableAfter time.Time `json:"available_after"`
}

// Ledger tracks per-backend request/token consumption against the configured
// budget windows. Entries are locked individually so concurrent requests
// against different backends never contend.
type Ledger struct {
	registry        func() *catalog.Registry
	clk             clock.Clock
	defaultCooldown time.Duration

	mu      sync.RWMutex
	entries map[string]*ledgerEntry
}

type ledgerEntry struct {
	mu    sync.Mutex
	state RateLimitState
}

func NewLedger(registry func() *catalog.Registry, clk clock.Clock, defaultCooldown time.Duration) *Ledger {
	if defaultCooldown <= 0 {
		defaultCooldown = 30 * time.Second
	}
	return &Ledger{
		registry:        registry,
		clk:             clk,
		defaultCooldown: defaultCooldown,
		entries:         make(map[string]*ledgerEntry),
	}
}

func (l *Ledger) entry(backendID string) *ledgerEntry {
	l.mu.RLock()
	e, ok := l.entries[backendID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[backendID]; ok {
		return e
	}
	e = &ledgerEntry{}
	l.entries[backendID] = e
	return e
}

// rollover resets the window counters if the budget window has elapsed.
// Must be called with the entry lock held. AvailableAfter is deliberately
// left alone: it is monotonic and expires only by time passing.
func (l *Ledger) rollover(e *ledgerEntry, budget catalog.Budget, now time.Time) {
	if e.state.WindowStart.IsZero() || now.Sub(e.state.WindowStart) >= budget.Window {
		e.state.WindowStart = now
		e.state.Requests = 0
		e.state.Tokens = 0
	}
}

// RecordUsage charges one request and its token volume against the backend's
// window. If the charge exhausts the budget, the backend is marked
// unavailable until the window ends, so consumed counters never sit above
// budget without a matching availability downgrade.
func (l *Ledger) RecordUsage(backendID string, tokens int) {
	d, ok := l.registry().Get(backendID)
	if !ok {
		return
	}
	now := l.clk.Now()

	e := l.entry(backendID)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.rollover(e, d.Budget, now)
	e.state.Requests++
	e.state.Tokens += tokens

	exhausted := e.state.Requests >= d.Budget.Requests ||
		(d.Budget.Tokens > 0 && e.state.Tokens >= d.Budget.Tokens)
	if exhausted {
		windowEnd := e.state.WindowStart.Add(d.Budget.Window)
		if windowEnd.After(e.state.AvailableAfter) {
			e.state.AvailableAfter = windowEnd
		}
	}
}

// RecordRateLimited applies an upstream hard rate-limit signal. The cooldown
// comes from the provider's retry-after hint when present, otherwise from the
// configured default. AvailableAfter only ever moves forward.
func (l *Ledger) RecordRateLimited(backendID string, retryAfter time.Duration) {
	now := l.clk.Now()
	cooldown := retryAfter
	if cooldown <= 0 {
		cooldown = l.defaultCooldown
	}

	e := l.entry(backendID)
	e.mu.Lock()
	defer e.mu.Unlock()

	until := now.Add(cooldown)
	if until.After(e.state.AvailableAfter) {
		e.state.AvailableAfter = until
	}
}

// Available reports whether the backend's availability cooldown has passed.
func (l *Ledger) Available(backendID string) bool {
	e := l.entry(backendID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.state.AvailableAfter.After(l.clk.Now())
}

// Snapshot returns a point-in-time copy of all tracked state, with window
// rollover applied so headroom reads as of now. The returned map shares no
// memory with the ledger.
func (l *Ledger) Snapshot() map[string]RateLimitState {
	now := l.clk.Now()
	reg := l.registry()

	l.mu.RLock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	out := make(map[string]RateLimitState, len(ids))
	for _, id := range ids {
		e := l.entry(id)
		e.mu.Lock()
		if d, ok := reg.Get(id); ok {
			l.rollover(e, d.Budget, now)
		}
		out[id] = e.state
		e.mu.Unlock()
	}
	return out
}
