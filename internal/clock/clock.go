// Package clock provides an injectable time source so that rate-limit
// windows, health backoff, and usage decay can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time.Now.
type Clock interface {
	Now() time.Time
}

// Real is the wall-clock implementation used in production.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// New returns the production clock.
func New() Clock { return Real{} }

// Mock is a manually-advanced clock for tests.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock creates a mock clock frozen at the given instant.
func NewMock(now time.Time) *Mock {
	return &Mock{now: now}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the mock clock to an absolute instant.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
