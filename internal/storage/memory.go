package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"assetwatch/internal/model"
)

// Memory is a mutex-guarded map store, used in tests and as the default
// backend when no database path is configured.
type Memory struct {
	mu      sync.RWMutex
	tiers   map[string]model.SubscriptionTier // by owner
	assets  map[string]model.Asset            // by asset id
	alerts  map[string]model.Alert            // by alert id
	history map[string][]model.PriceHistoryRecord
}

func NewMemory() *Memory {
	return &Memory{
		tiers:   make(map[string]model.SubscriptionTier),
		assets:  make(map[string]model.Asset),
		alerts:  make(map[string]model.Alert),
		history: make(map[string][]model.PriceHistoryRecord),
	}
}

func (m *Memory) SubscribedUserIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tiers))
	for id := range m.tiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Tier(_ context.Context, ownerID string) (model.SubscriptionTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tiers[ownerID]
	if !ok {
		return model.SubscriptionTier{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) UpsertTier(_ context.Context, tier model.SubscriptionTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[tier.OwnerID] = tier
	return nil
}

func (m *Memory) AssetsByOwner(_ context.Context, ownerID string) ([]model.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Asset
	for _, a := range m.assets {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Asset(_ context.Context, id string) (model.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return model.Asset{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) UpsertAsset(_ context.Context, asset model.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[asset.ID] = asset
	return nil
}

func (m *Memory) UpdateAssetPrice(_ context.Context, assetID string, price decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetID]
	if !ok {
		return ErrNotFound
	}
	a.CurrentPrice = price
	a.LastPriceUpdate = at
	m.assets[assetID] = a
	return nil
}

func (m *Memory) AppendPriceHistory(_ context.Context, rec model.PriceHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[rec.AssetID] = append(m.history[rec.AssetID], rec)
	return nil
}

func (m *Memory) PriceHistory(_ context.Context, assetID string) ([]model.PriceHistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.PriceHistoryRecord(nil), m.history[assetID]...), nil
}

func (m *Memory) ActiveAlerts(context.Context) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Alert
	for _, a := range m.alerts {
		if a.State == model.StateActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertAlert(_ context.Context, alert model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = alert
	return nil
}

func (m *Memory) Close() error { return nil }
