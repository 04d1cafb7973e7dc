package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// Redis is a Limiter backed by shared Redis counters, for deployments
// running more than one instance against the same provider credentials.
// Keys embed the window reset time, so a new window starts with a fresh
// key and the old one expires on its own.
type Redis struct {
	rdb     *redis.Client
	windows map[string][]Window
	clock   func() time.Time
	log     zerolog.Logger
}

func NewRedis(rdb *redis.Client, windows map[string][]Window, log zerolog.Logger) *Redis {
	return &Redis{rdb: rdb, windows: windows, clock: time.Now, log: log}
}

// TryAcquire admits one call if every configured window has headroom.
// INCR-then-compare keeps counts monotone within a window; an instance
// that loses the race is denied rather than over-spending the budget.
// Redis errors deny the call: skipping one cycle is cheaper than blowing
// a monthly budget.
func (r *Redis) TryAcquire(ctx context.Context, providerName string) bool {
	windows, ok := r.windows[providerName]
	if !ok || len(windows) == 0 {
		return true
	}

	now := r.clock()
	for _, w := range windows {
		resetAt := w.Kind.ResetAt(now)
		key := fmt.Sprintf("assetwatch:budget:%s:%s:%d", providerName, w.Kind, resetAt.Unix())
		n, err := r.rdb.Incr(ctx, key).Result()
		if err != nil {
			r.log.Error().Err(err).Str("provider", providerName).Msg("budget counter unavailable, denying call")
			return false
		}
		if n == 1 {
			r.rdb.ExpireAt(ctx, key, resetAt.Add(time.Minute))
		}
		if n > int64(w.Limit) {
			return false
		}
	}
	return true
}
