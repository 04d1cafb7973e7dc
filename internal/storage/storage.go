// Package storage is the persistence collaborator: a keyed store for
// assets, alerts and subscription tiers, plus an append-only price
// history. The jobs never assume a specific query language.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"assetwatch/internal/model"
)

// ErrNotFound is returned when a keyed lookup has no match.
var ErrNotFound = errors.New("not found")

// Store is implemented by the in-memory and SQLite backends.
type Store interface {
	// SubscribedUserIDs lists users that carry a subscription record.
	SubscribedUserIDs(ctx context.Context) ([]string, error)
	Tier(ctx context.Context, ownerID string) (model.SubscriptionTier, error)
	UpsertTier(ctx context.Context, tier model.SubscriptionTier) error

	AssetsByOwner(ctx context.Context, ownerID string) ([]model.Asset, error)
	Asset(ctx context.Context, id string) (model.Asset, error)
	UpsertAsset(ctx context.Context, asset model.Asset) error
	// UpdateAssetPrice writes only the price fields; everything else on
	// the asset belongs to user CRUD.
	UpdateAssetPrice(ctx context.Context, assetID string, price decimal.Decimal, at time.Time) error

	AppendPriceHistory(ctx context.Context, rec model.PriceHistoryRecord) error
	PriceHistory(ctx context.Context, assetID string) ([]model.PriceHistoryRecord, error)

	ActiveAlerts(ctx context.Context) ([]model.Alert, error)
	UpsertAlert(ctx context.Context, alert model.Alert) error

	Close() error
}
