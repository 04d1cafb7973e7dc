package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"assetwatch/internal/model"
	"assetwatch/internal/provider"
	"assetwatch/internal/provider/chain"
	"assetwatch/internal/storage"
)

// fakeClient scripts per-symbol prices and records batch calls.
type fakeClient struct {
	mu        sync.Mutex
	name      string
	prices    map[string]string
	wholesale error
	calls     [][]string
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	res, err := f.FetchBatch(ctx, []string{symbol})
	if err != nil {
		return provider.Quote{}, err
	}
	r := res[symbol]
	return r.Quote, r.Err
}

func (f *fakeClient) FetchBatch(_ context.Context, symbols []string) (map[string]provider.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), symbols...))
	if f.wholesale != nil {
		return nil, f.wholesale
	}
	out := make(map[string]provider.Result, len(symbols))
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = provider.Result{Quote: provider.Quote{
				Symbol:     s,
				Price:      decimal.RequireFromString(p),
				Currency:   "USD",
				Source:     f.name,
				ObservedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
			}}
			continue
		}
		out[s] = provider.Result{Err: provider.NewError(f.name, provider.KindServer, errors.New("upstream down"))}
	}
	return out, nil
}

func (f *fakeClient) batchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingNotifier captures every Send so tests can assert delivery.
type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string // userID
	fail  bool
	texts []string
}

func (n *recordingNotifier) Send(_ context.Context, userID, _, body, correlationID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if correlationID == "" {
		panic("empty correlation id")
	}
	if n.fail {
		return false
	}
	n.sent = append(n.sent, userID)
	n.texts = append(n.texts, body)
	return true
}

func seedUser(t *testing.T, store storage.Store, ownerID string, premium bool, assets ...model.Asset) {
	t.Helper()
	require.NoError(t, store.UpsertTier(t.Context(), model.SubscriptionTier{OwnerID: ownerID, Premium: premium}))
	for _, a := range assets {
		require.NoError(t, store.UpsertAsset(t.Context(), a))
	}
}

func newPriceUpdate(store storage.Store, chains map[model.AssetClass][]provider.Client, notifier *recordingNotifier, now time.Time) *PriceUpdate {
	return &PriceUpdate{
		Store:    store,
		Chain:    chain.New(chains, zerolog.Nop()),
		Notifier: notifier,
		Workers:  2,
		Logger:   zerolog.Nop(),
		Clock:    func() time.Time { return now },
	}
}

func TestPriceUpdate_UpdatesDueUser(t *testing.T) {
	t.Parallel()

	// Arrange
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	seedUser(t, store, "u1", false, model.Asset{
		ID: "a1", OwnerID: "u1", Class: model.ClassEquity, Symbol: "AAPL",
		CurrentPrice:    decimal.RequireFromString("100"),
		LastPriceUpdate: now.Add(-time.Hour),
	})
	equities := &fakeClient{name: "primary", prices: map[string]string{"AAPL": "187.32"}}
	notifier := &recordingNotifier{}
	job := newPriceUpdate(store, map[model.AssetClass][]provider.Client{
		model.ClassEquity: {equities},
	}, notifier, now)

	// Act
	sum, err := job.Run(t.Context())

	// Assert
	require.NoError(t, err)
	require.Equal(t, 1, sum.UsersProcessed)
	require.Equal(t, 1, sum.AssetsUpdated)
	require.Zero(t, sum.AssetsFailed)
	require.Equal(t, 1, sum.NotificationsSent)

	got, err := store.Asset(t.Context(), "a1")
	require.NoError(t, err)
	require.True(t, got.CurrentPrice.Equal(decimal.RequireFromString("187.32")))
	require.Equal(t, now, got.LastPriceUpdate)

	hist, err := store.PriceHistory(t.Context(), "a1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "primary", hist[0].Source)
}

func TestPriceUpdate_GateSkipsFreshUser(t *testing.T) {
	t.Parallel()

	// Free tier refreshes every 15 minutes; 5 minutes ago is fresh.
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	seedUser(t, store, "u1", false, model.Asset{
		ID: "a1", OwnerID: "u1", Class: model.ClassEquity, Symbol: "AAPL",
		LastPriceUpdate: now.Add(-5 * time.Minute),
	})
	equities := &fakeClient{name: "primary", prices: map[string]string{"AAPL": "187.32"}}
	job := newPriceUpdate(store, map[model.AssetClass][]provider.Client{
		model.ClassEquity: {equities},
	}, &recordingNotifier{}, now)

	sum, err := job.Run(t.Context())
	require.NoError(t, err)
	require.Zero(t, sum.UsersProcessed)
	require.Zero(t, equities.batchCalls(), "ineligible users must not reach providers")
}

func TestPriceUpdate_GateUsesTierCadence(t *testing.T) {
	t.Parallel()

	// 10 minutes old: due for premium (5m cadence), fresh for free (15m).
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	seedUser(t, store, "free", false, model.Asset{
		ID: "f1", OwnerID: "free", Class: model.ClassEquity, Symbol: "AAPL",
		LastPriceUpdate: now.Add(-10 * time.Minute),
	})
	seedUser(t, store, "premium", true, model.Asset{
		ID: "p1", OwnerID: "premium", Class: model.ClassEquity, Symbol: "MSFT",
		LastPriceUpdate: now.Add(-10 * time.Minute),
	})
	equities := &fakeClient{name: "primary", prices: map[string]string{"AAPL": "1", "MSFT": "2"}}
	job := newPriceUpdate(store, map[model.AssetClass][]provider.Client{
		model.ClassEquity: {equities},
	}, &recordingNotifier{}, now)

	sum, err := job.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, sum.UsersProcessed)

	freeAsset, err := store.Asset(t.Context(), "f1")
	require.NoError(t, err)
	require.Equal(t, now.Add(-10*time.Minute), freeAsset.LastPriceUpdate)

	premiumAsset, err := store.Asset(t.Context(), "p1")
	require.NoError(t, err)
	require.Equal(t, now, premiumAsset.LastPriceUpdate)
}

func TestPriceUpdate_NeverUpdatedUserIsDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	seedUser(t, store, "u1", false, model.Asset{
		ID: "a1", OwnerID: "u1", Class: model.ClassCrypto, Symbol: "BTC",
	})
	crypto := &fakeClient{name: "primary", prices: map[string]string{"BTC": "64000.5"}}
	job := newPriceUpdate(store, map[model.AssetClass][]provider.Client{
		model.ClassCrypto: {crypto},
	}, &recordingNotifier{}, now)

	sum, err := job.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, sum.UsersProcessed)
	require.Equal(t, 1, sum.AssetsUpdated)
}

func TestPriceUpdate_OnlyUnlistedAssetsSkipsUser(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	seedUser(t, store, "u1", true, model.Asset{
		ID: "a1", OwnerID: "u1", Class: model.ClassUnlisted,
	})
	job := newPriceUpdate(store, nil, &recordingNotifier{}, now)

	sum, err := job.Run(t.Context())
	require.NoError(t, err)
	require.Zero(t, sum.UsersProcessed)
}

func TestPriceUpdate_FailedSymbolKeepsStalePrice(t *testing.T) {
	t.Parallel()

	// Arrange: AAPL resolves, MSFT fails everywhere in the chain.
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)
	store := storage.NewMemory()
	seedUser(t, store, "u1", false,
		model.Asset{
			ID: "a1", OwnerID: "u1", Class: model.ClassEquity, Symbol: "AAPL",
			CurrentPrice: decimal.RequireFromString("100"), LastPriceUpdate: stale,
		},
		model.Asset{
			ID: "a2", OwnerID: "u1", Class: model.ClassEquity, Symbol: "MSFT",
			CurrentPrice: decimal.RequireFromString("250"), LastPriceUpdate: stale,
		},
	)
	equities := &fakeClient{name: "primary", prices: map[string]string{"AAPL": "187.32"}}
	notifier := &recordingNotifier{}
	job := newPriceUpdate(store, map[model.AssetClass][]provider.Client{
		model.ClassEquity: {equities},
	}, notifier, now)

	// Act
	sum, err := job.Run(t.Context())

	// Assert: the failure is counted, the stale record is untouched,
	// and the successful symbol still lands.
	require.NoError(t, err)
	require.Equal(t, 1, sum.AssetsUpdated)
	require.Equal(t, 1, sum.AssetsFailed)

	msft, err := store.Asset(t.Context(), "a2")
	require.NoError(t, err)
	require.True(t, msft.CurrentPrice.Equal(decimal.RequireFromString("250")))
	require.Equal(t, stale, msft.LastPriceUpdate)

	require.Len(t, notifier.sent, 1)
	require.Contains(t, notifier.texts[0], "AAPL")
	require.NotContains(t, notifier.texts[0], "MSFT")
}

func TestPriceUpdate_NotificationFailureKeepsPrices(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	seedUser(t, store, "u1", false, model.Asset{
		ID: "a1", OwnerID: "u1", Class: model.ClassEquity, Symbol: "AAPL",
		LastPriceUpdate: now.Add(-time.Hour),
	})
	equities := &fakeClient{name: "primary", prices: map[string]string{"AAPL": "187.32"}}
	notifier := &recordingNotifier{fail: true}
	job := newPriceUpdate(store, map[model.AssetClass][]provider.Client{
		model.ClassEquity: {equities},
	}, notifier, now)

	sum, err := job.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, sum.AssetsUpdated)
	require.Zero(t, sum.NotificationsSent)

	got, err := store.Asset(t.Context(), "a1")
	require.NoError(t, err)
	require.Equal(t, now, got.LastPriceUpdate)
}

func TestPriceUpdate_ClassesUseDistinctChains(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemory()
	seedUser(t, store, "u1", true,
		model.Asset{ID: "a1", OwnerID: "u1", Class: model.ClassEquity, Symbol: "AAPL", LastPriceUpdate: now.Add(-time.Hour)},
		model.Asset{ID: "a2", OwnerID: "u1", Class: model.ClassCrypto, Symbol: "BTC", LastPriceUpdate: now.Add(-time.Hour)},
	)
	equities := &fakeClient{name: "stocks", prices: map[string]string{"AAPL": "187.32"}}
	crypto := &fakeClient{name: "coins", prices: map[string]string{"BTC": "64000"}}
	job := newPriceUpdate(store, map[model.AssetClass][]provider.Client{
		model.ClassEquity: {equities},
		model.ClassCrypto: {crypto},
	}, &recordingNotifier{}, now)

	sum, err := job.Run(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, sum.AssetsUpdated)
	require.Equal(t, 1, equities.batchCalls())
	require.Equal(t, 1, crypto.batchCalls())

	hist, err := store.PriceHistory(t.Context(), "a2")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "coins", hist[0].Source)
}
