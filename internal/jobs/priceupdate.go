package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"assetwatch/internal/model"
	"assetwatch/internal/notify"
	"assetwatch/internal/provider/chain"
	"assetwatch/internal/storage"
)

// DefaultWorkers bounds the per-run fan-out across users so a large
// user base cannot stampede the providers.
const DefaultWorkers = 4

// PriceUpdate refreshes current prices for every user that is due.
type PriceUpdate struct {
	Store    storage.Store
	Chain    *chain.Coordinator
	Notifier notify.Notifier
	Workers  int
	Logger   zerolog.Logger
	Clock    func() time.Time
}

func (j *PriceUpdate) now() time.Time {
	if j.Clock != nil {
		return j.Clock()
	}
	return time.Now()
}

// Run executes one price-update pass. A single user's failure never
// aborts the loop over other users; the error return is reserved for
// being unable to even list users.
func (j *PriceUpdate) Run(ctx context.Context) (Summary, error) {
	var total Summary
	users, err := j.Store.SubscribedUserIDs(ctx)
	if err != nil {
		return total, fmt.Errorf("list subscribed users: %w", err)
	}

	workers := j.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, userID := range users {
		g.Go(func() error {
			s := j.updateUser(gctx, userID)
			mu.Lock()
			total.add(s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	j.Logger.Info().
		Int("users_processed", total.UsersProcessed).
		Int("assets_updated", total.AssetsUpdated).
		Int("assets_failed", total.AssetsFailed).
		Msg("price update pass finished")
	return total, ctx.Err()
}

// eligible implements the update-eligibility gate: a user is due when
// the most recently updated listed asset is at least one cadence old.
// This is admission control, not a lock: overlapping ticks may select
// the same user twice and the persistence pass tolerates that.
func eligible(tier model.SubscriptionTier, listed []model.Asset, now time.Time) bool {
	if len(listed) == 0 {
		return false
	}
	var latest time.Time
	for _, a := range listed {
		if a.LastPriceUpdate.After(latest) {
			latest = a.LastPriceUpdate
		}
	}
	if latest.IsZero() {
		return true
	}
	return now.Sub(latest) >= tier.UpdateEvery()
}

func (j *PriceUpdate) updateUser(ctx context.Context, userID string) Summary {
	var s Summary
	log := j.Logger.With().Str("user_id", userID).Logger()

	tier, err := j.Store.Tier(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("load tier")
		return s
	}
	assets, err := j.Store.AssetsByOwner(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("load assets")
		return s
	}

	var listed []model.Asset
	for _, a := range assets {
		if a.Listed() {
			listed = append(listed, a)
		}
	}
	if !eligible(tier, listed, j.now()) {
		return s
	}
	s.UsersProcessed = 1

	// Partition by asset class and fetch each class through its chain.
	byClass := make(map[model.AssetClass][]model.Asset)
	for _, a := range listed {
		byClass[a.Class] = append(byClass[a.Class], a)
	}

	type classOutcome struct {
		class    model.AssetClass
		outcomes map[string]chain.Outcome
	}
	results := make([]classOutcome, 0, len(byClass))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(byClass))
	for class, classAssets := range byClass {
		symbols := uniqueSymbols(classAssets)
		g.Go(func() error {
			out := j.Chain.FetchQuotes(gctx, class, symbols)
			mu.Lock()
			results = append(results, classOutcome{class: class, outcomes: out})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		// Canceled mid-fetch: abandon without partial writes.
		return s
	}

	// Single persistence pass: successful quotes update the asset and
	// append history; failures leave the stale price in place.
	now := j.now()
	var updated []model.Asset
	for _, co := range results {
		for _, a := range byClass[co.class] {
			outcome, ok := co.outcomes[a.Symbol]
			if !ok || outcome.Err != nil {
				s.AssetsFailed++
				if ok {
					log.Warn().Err(outcome.Err).Str("asset_id", a.ID).Str("symbol", a.Symbol).Msg("quote unavailable, keeping stale price")
				}
				continue
			}
			if outcome.Degraded {
				log.Debug().Str("symbol", a.Symbol).Str("source", outcome.Source).Msg("quote resolved by backup provider")
			}
			if err := j.Store.UpdateAssetPrice(ctx, a.ID, outcome.Quote.Price, now); err != nil {
				s.AssetsFailed++
				log.Error().Err(err).Str("asset_id", a.ID).Msg("persist price")
				continue
			}
			if err := j.Store.AppendPriceHistory(ctx, model.PriceHistoryRecord{
				AssetID:    a.ID,
				Price:      outcome.Quote.Price,
				ObservedAt: outcome.Quote.ObservedAt,
				Source:     outcome.Source,
			}); err != nil {
				log.Error().Err(err).Str("asset_id", a.ID).Msg("append price history")
			}
			s.AssetsUpdated++
			a.CurrentPrice = outcome.Quote.Price
			updated = append(updated, a)
		}
	}

	// One aggregated change event per user. Best effort: the price
	// writes above stay committed even if this never lands.
	if len(updated) > 0 && j.Notifier != nil {
		if j.Notifier.Send(ctx, userID, "Prices updated", changeSummary(updated), uuid.NewString()) {
			s.NotificationsSent++
		} else {
			log.Warn().Msg("price change event not delivered")
		}
	}
	return s
}

func uniqueSymbols(assets []model.Asset) []string {
	seen := make(map[string]struct{}, len(assets))
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		if _, dup := seen[a.Symbol]; dup {
			continue
		}
		seen[a.Symbol] = struct{}{}
		out = append(out, a.Symbol)
	}
	return out
}

func changeSummary(updated []model.Asset) string {
	parts := make([]string, 0, len(updated))
	for _, a := range updated {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Symbol, a.CurrentPrice.StringFixed(2)))
	}
	return strings.Join(parts, ", ")
}
