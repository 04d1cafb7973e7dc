package provider

import (
	"context"
	"time"

	"assetwatch/internal/backoff"
	"assetwatch/internal/provider/budget"
)

// CallTimeout bounds every individual outbound provider request.
const CallTimeout = 10 * time.Second

// Call wraps one provider operation with budget admission and the backoff
// executor. The budget is consulted before every attempt, retries
// included; a denial is classified KindRateLimit so the executor stops
// and the fallback chain escalates instead.
func Call[T any](ctx context.Context, name string, lim budget.Limiter, pol backoff.Policy, op func(context.Context) (T, error)) (T, error) {
	if pol.Retryable == nil {
		pol.Retryable = Retryable
	}
	return backoff.Do(ctx, pol, func(ctx context.Context) (T, error) {
		var zero T
		if lim != nil && !lim.TryAcquire(ctx, name) {
			return zero, NewError(name, KindRateLimit, ErrRateLimited)
		}
		callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
		defer cancel()
		return op(callCtx)
	})
}
