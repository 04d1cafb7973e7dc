// Package chain coordinates provider fallback per asset class. A
// priority-ordered list of clients is tried in sequence; whatever one
// provider cannot resolve moves on to the next. Retrying a single
// provider is the backoff executor's job; this layer only escalates
// provider-to-provider.
package chain

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"assetwatch/internal/model"
	"assetwatch/internal/provider"
)

// Outcome is the per-symbol result of walking a fallback chain.
// Degraded marks quotes resolved by a non-primary provider.
type Outcome struct {
	Quote    provider.Quote
	Source   string
	Degraded bool
	Err      error
}

// Coordinator holds one provider chain per asset class.
type Coordinator struct {
	chains map[model.AssetClass][]provider.Client
	log    zerolog.Logger
}

func New(chains map[model.AssetClass][]provider.Client, log zerolog.Logger) *Coordinator {
	return &Coordinator{chains: chains, log: log}
}

// Providers returns the configured chain for a class, in priority order.
func (c *Coordinator) Providers(class model.AssetClass) []provider.Client {
	return c.chains[class]
}

// FetchQuotes resolves symbols for one asset class. The returned map
// holds an entry for every input symbol: a quote from the first provider
// that produced one, or the last error seen once the chain is exhausted.
func (c *Coordinator) FetchQuotes(ctx context.Context, class model.AssetClass, symbols []string) map[string]Outcome {
	out := make(map[string]Outcome, len(symbols))
	if len(symbols) == 0 {
		return out
	}

	providers := c.chains[class]
	if len(providers) == 0 {
		err := fmt.Errorf("no providers configured for class %q", class)
		for _, s := range symbols {
			out[s] = Outcome{Err: err}
		}
		return out
	}

	pending := append([]string(nil), symbols...)
	lastErr := make(map[string]error, len(symbols))

	for i, p := range providers {
		if len(pending) == 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		results, err := p.FetchBatch(ctx, pending)
		if err != nil {
			// Wholesale failure: every unresolved symbol escalates.
			c.log.Warn().
				Err(err).
				Str("provider", p.Name()).
				Str("class", string(class)).
				Int("symbols", len(pending)).
				Msg("provider failed, escalating to next in chain")
		}

		next := pending[:0]
		for _, s := range pending {
			r, ok := results[s]
			switch {
			case ok && r.Err == nil:
				out[s] = Outcome{
					Quote:    r.Quote,
					Source:   p.Name(),
					Degraded: i > 0,
				}
			case ok:
				lastErr[s] = r.Err
				next = append(next, s)
			default:
				// Never attempted (wholesale abort before this symbol).
				if err != nil {
					lastErr[s] = err
				}
				next = append(next, s)
			}
		}
		pending = next
	}

	for _, s := range pending {
		err := lastErr[s]
		if err == nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = fmt.Errorf("all providers exhausted for %q", s)
			}
		}
		out[s] = Outcome{Err: err}
	}
	return out
}
