// Package symbolcache maps user-facing tickers to provider-internal
// identifiers. The whole mapping table is loaded lazily, cached with a
// TTL, and refreshed on miss or expiry; concurrent refreshes coalesce
// into one upstream call.
package symbolcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a loaded mapping table stays fresh.
const DefaultTTL = 24 * time.Hour

// LoadFunc fetches the full ticker -> provider-id table.
type LoadFunc func(ctx context.Context) (map[string]string, error)

// Table is a lazily refreshed symbol-mapping cache.
type Table struct {
	ttl  time.Duration
	load LoadFunc

	mu      sync.RWMutex
	entries map[string]string
	expires time.Time

	sf    singleflight.Group
	clock func() time.Time
}

func New(ttl time.Duration, load LoadFunc) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Table{ttl: ttl, load: load, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (t *Table) WithClock(clock func() time.Time) *Table {
	t.clock = clock
	return t
}

// Lookup resolves a ticker to its provider id, refreshing the table if it
// is stale. ok=false means the provider genuinely does not know the
// symbol, a terminal condition that is never retried.
func (t *Table) Lookup(ctx context.Context, symbol string) (string, bool, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	t.mu.RLock()
	entries, expires := t.entries, t.expires
	t.mu.RUnlock()

	now := t.clock()
	if entries != nil && now.Before(expires) {
		id, ok := entries[key]
		return id, ok, nil
	}

	// Stale or never loaded: refresh once for all concurrent callers.
	v, err, _ := t.sf.Do("refresh", func() (any, error) {
		fresh, err := t.load(ctx)
		if err != nil {
			return nil, err
		}
		normalized := make(map[string]string, len(fresh))
		for k, id := range fresh {
			normalized[strings.ToUpper(strings.TrimSpace(k))] = id
		}
		t.mu.Lock()
		t.entries = normalized
		t.expires = t.clock().Add(t.ttl)
		t.mu.Unlock()
		return normalized, nil
	})
	if err != nil {
		// Serve stale data over failing outright, if there is any.
		if entries != nil {
			id, ok := entries[key]
			return id, ok, nil
		}
		return "", false, err
	}

	id, ok := v.(map[string]string)[key]
	return id, ok, nil
}
