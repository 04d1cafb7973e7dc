package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"assetwatch/internal/model"
	"assetwatch/internal/notify"
	"assetwatch/internal/storage"
)

// AlertCheck evaluates every active alert against the latest stored
// prices. It never touches providers; stale prices are evaluated as-is.
type AlertCheck struct {
	Store    storage.Store
	Notifier notify.Notifier
	Workers  int
	Logger   zerolog.Logger
	Clock    func() time.Time
}

func (j *AlertCheck) now() time.Time {
	if j.Clock != nil {
		return j.Clock()
	}
	return time.Now()
}

// Run executes one alert-check pass. Users are evaluated in parallel;
// alerts within a user run sequentially so one triggered alert's write
// never races another for the same owner.
func (j *AlertCheck) Run(ctx context.Context) (Summary, error) {
	var total Summary
	alerts, err := j.Store.ActiveAlerts(ctx)
	if err != nil {
		return total, fmt.Errorf("list active alerts: %w", err)
	}

	byOwner := make(map[string][]model.Alert)
	for _, a := range alerts {
		byOwner[a.OwnerID] = append(byOwner[a.OwnerID], a)
	}

	workers := j.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for ownerID, ownerAlerts := range byOwner {
		g.Go(func() error {
			s := j.checkOwner(gctx, ownerID, ownerAlerts)
			mu.Lock()
			total.add(s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	j.Logger.Info().
		Int("users_processed", total.UsersProcessed).
		Int("alerts_triggered", total.AlertsTriggered).
		Msg("alert check pass finished")
	return total, ctx.Err()
}

func (j *AlertCheck) checkOwner(ctx context.Context, ownerID string, alerts []model.Alert) Summary {
	var s Summary
	s.UsersProcessed = 1
	log := j.Logger.With().Str("user_id", ownerID).Logger()

	for _, alert := range alerts {
		if ctx.Err() != nil {
			return s
		}
		now := j.now()

		asset, err := j.Store.Asset(ctx, alert.AssetID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Warn().Str("alert_id", alert.ID).Str("asset_id", alert.AssetID).Msg("alert references missing asset")
			} else {
				log.Error().Err(err).Str("alert_id", alert.ID).Msg("load asset for alert")
			}
			continue
		}

		// LastCheckedAt advances on every evaluation, hit or miss.
		alert.LastCheckedAt = now
		fired := evaluate(alert, asset, now)
		if fired {
			alert.State = model.StateTriggered
			at := now
			alert.TriggeredAt = &at
		}
		if err := j.Store.UpsertAlert(ctx, alert); err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("persist alert state")
			continue
		}
		if !fired {
			continue
		}

		s.AlertsTriggered++
		if j.Notifier != nil {
			if j.Notifier.Send(ctx, ownerID, alertTitle(alert), alertBody(alert, asset), uuid.NewString()) {
				s.NotificationsSent++
			} else {
				log.Warn().Str("alert_id", alert.ID).Msg("trigger notification not delivered")
			}
		}
		log.Info().
			Str("alert_id", alert.ID).
			Str("asset_id", asset.ID).
			Str("kind", string(alert.Kind)).
			Msg("alert triggered")
	}
	return s
}

// evaluate decides whether an alert's condition holds. It is pure:
// no I/O, no mutation, the clock arrives as an argument.
func evaluate(alert model.Alert, asset model.Asset, now time.Time) bool {
	switch alert.Kind {
	case model.KindPriceTarget:
		switch alert.Operator {
		case model.OpAbove:
			return asset.CurrentPrice.GreaterThanOrEqual(alert.Threshold)
		case model.OpBelow:
			return asset.CurrentPrice.LessThanOrEqual(alert.Threshold)
		}
		return false

	case model.KindPercentageChange:
		// Change is measured against the static purchase price, not a
		// rolling window. A zero purchase price makes the ratio
		// undefined, so the alert can never fire.
		if asset.PurchasePrice.IsZero() {
			return false
		}
		pct := asset.CurrentPrice.Sub(asset.PurchasePrice).
			Div(asset.PurchasePrice).
			Mul(decimal.NewFromInt(100))
		switch alert.Operator {
		case model.OpChangeUp:
			return pct.GreaterThanOrEqual(alert.Threshold)
		case model.OpChangeDown:
			return pct.LessThanOrEqual(alert.Threshold.Neg())
		}
		return false

	case model.KindMaturityReminder:
		if asset.MaturityDate == nil {
			return false
		}
		maturity := *asset.MaturityDate
		windowStart := maturity.AddDate(0, 0, -alert.ReminderDaysBefore)
		// Half-open window: fires from windowStart up to but not past
		// the maturity date itself.
		return !now.Before(windowStart) && now.Before(maturity)
	}
	return false
}

func alertTitle(alert model.Alert) string {
	switch alert.Kind {
	case model.KindPriceTarget:
		return "Price target reached"
	case model.KindPercentageChange:
		return "Price moved past threshold"
	case model.KindMaturityReminder:
		return "Asset approaching maturity"
	}
	return "Alert triggered"
}

func alertBody(alert model.Alert, asset model.Asset) string {
	switch alert.Kind {
	case model.KindPriceTarget:
		return fmt.Sprintf("%s is at %s (target %s %s)",
			asset.Symbol, asset.CurrentPrice.StringFixed(2), alert.Operator, alert.Threshold.StringFixed(2))
	case model.KindPercentageChange:
		return fmt.Sprintf("%s is at %s, %s%% threshold crossed against purchase price %s",
			asset.Symbol, asset.CurrentPrice.StringFixed(2), alert.Threshold.String(), asset.PurchasePrice.StringFixed(2))
	case model.KindMaturityReminder:
		return fmt.Sprintf("%s matures on %s", asset.Symbol, asset.MaturityDate.Format("2006-01-02"))
	}
	return asset.Symbol
}
