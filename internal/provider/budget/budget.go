// Package budget tracks per-provider call budgets across fixed windows.
// A provider may carry several windows at once (e.g. 5/minute and 25/day);
// a call is admitted only when every window has headroom. Counts reset
// exactly at the window boundary, never early.
package budget

import (
	"context"
	"sync"
	"time"
)

// WindowKind is the length of a budget window.
type WindowKind string

const (
	PerMinute WindowKind = "minute"
	PerDay    WindowKind = "day"
	PerMonth  WindowKind = "month"
)

// Window is one call budget: at most Limit calls per Kind-sized interval.
type Window struct {
	Kind  WindowKind
	Limit int
}

// Limiter admits or denies outbound provider calls. TryAcquire must be
// called before every request, including retries.
type Limiter interface {
	TryAcquire(ctx context.Context, providerName string) bool
}

// ResetAt returns the end of the window containing now. Day and month
// boundaries are computed in UTC.
func (k WindowKind) ResetAt(now time.Time) time.Time {
	now = now.UTC()
	switch k {
	case PerMinute:
		return now.Truncate(time.Minute).Add(time.Minute)
	case PerDay:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	case PerMonth:
		y, m, _ := now.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
	return now.Add(time.Minute)
}

type counter struct {
	count   int
	resetAt time.Time
}

// Memory is a process-local Limiter. State is single-writer per process;
// a multi-instance deployment needs the Redis limiter or partitioned
// provider credentials to keep budgets honest.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]Window
	state   map[string]map[WindowKind]*counter
	clock   func() time.Time
}

// NewMemory builds a limiter from per-provider window lists. Providers
// absent from the map are unlimited.
func NewMemory(windows map[string][]Window) *Memory {
	return &Memory{
		windows: windows,
		state:   make(map[string]map[WindowKind]*counter),
		clock:   time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

// TryAcquire admits one call for the provider if every configured window
// has headroom, incrementing each. Denial increments nothing.
func (m *Memory) TryAcquire(_ context.Context, providerName string) bool {
	windows, ok := m.windows[providerName]
	if !ok || len(windows) == 0 {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	counters := m.state[providerName]
	if counters == nil {
		counters = make(map[WindowKind]*counter, len(windows))
		m.state[providerName] = counters
	}

	// First pass: lazy reset at the boundary, then check headroom.
	for _, w := range windows {
		c := counters[w.Kind]
		if c == nil {
			c = &counter{resetAt: w.Kind.ResetAt(now)}
			counters[w.Kind] = c
		}
		if !now.Before(c.resetAt) {
			c.count = 0
			c.resetAt = w.Kind.ResetAt(now)
		}
		if c.count >= w.Limit {
			return false
		}
	}
	// Second pass: consume from every window.
	for _, w := range windows {
		counters[w.Kind].count++
	}
	return true
}
