package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"assetwatch/internal/model"
)

// SQLite persists the keyed store in a single database file. Prices are
// stored as their exact decimal text, not floats.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tiers (
			owner_id                 TEXT PRIMARY KEY,
			premium                  INTEGER NOT NULL,
			update_frequency_minutes INTEGER NOT NULL,
			max_active_alerts        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assets (
			id                TEXT PRIMARY KEY,
			owner_id          TEXT NOT NULL,
			class             TEXT NOT NULL,
			symbol            TEXT,
			current_price     TEXT NOT NULL,
			purchase_price    TEXT NOT NULL,
			quantity          TEXT NOT NULL,
			maturity_date     INTEGER,
			last_price_update INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets(owner_id)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id                   TEXT PRIMARY KEY,
			owner_id             TEXT NOT NULL,
			asset_id             TEXT NOT NULL,
			kind                 TEXT NOT NULL,
			operator             TEXT NOT NULL,
			threshold            TEXT NOT NULL,
			reminder_days_before INTEGER NOT NULL,
			state                TEXT NOT NULL,
			last_checked_at      INTEGER NOT NULL,
			triggered_at         INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_id    TEXT NOT NULL,
			price       TEXT NOT NULL,
			observed_at INTEGER NOT NULL,
			source      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_asset ON price_history(asset_id, observed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) SubscribedUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_id FROM tiers ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) Tier(ctx context.Context, ownerID string) (model.SubscriptionTier, error) {
	var t model.SubscriptionTier
	var premium int
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, premium, update_frequency_minutes, max_active_alerts FROM tiers WHERE owner_id = ?`,
		ownerID,
	).Scan(&t.OwnerID, &premium, &t.UpdateFrequencyMinutes, &t.MaxActiveAlerts)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Premium = premium != 0
	return t, nil
}

func (s *SQLite) UpsertTier(ctx context.Context, tier model.SubscriptionTier) error {
	premium := 0
	if tier.Premium {
		premium = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tiers (owner_id, premium, update_frequency_minutes, max_active_alerts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			premium = excluded.premium,
			update_frequency_minutes = excluded.update_frequency_minutes,
			max_active_alerts = excluded.max_active_alerts`,
		tier.OwnerID, premium, tier.UpdateFrequencyMinutes, tier.MaxActiveAlerts)
	return err
}

func scanAsset(scan func(dest ...any) error) (model.Asset, error) {
	var a model.Asset
	var cur, pur, qty string
	var maturity, updated sql.NullInt64
	if err := scan(&a.ID, &a.OwnerID, (*string)(&a.Class), &a.Symbol, &cur, &pur, &qty, &maturity, &updated); err != nil {
		return a, err
	}
	var err error
	if a.CurrentPrice, err = decimal.NewFromString(cur); err != nil {
		return a, fmt.Errorf("asset %s current_price: %w", a.ID, err)
	}
	if a.PurchasePrice, err = decimal.NewFromString(pur); err != nil {
		return a, fmt.Errorf("asset %s purchase_price: %w", a.ID, err)
	}
	if a.Quantity, err = decimal.NewFromString(qty); err != nil {
		return a, fmt.Errorf("asset %s quantity: %w", a.ID, err)
	}
	if maturity.Valid {
		t := time.Unix(maturity.Int64, 0).UTC()
		a.MaturityDate = &t
	}
	if updated.Valid && updated.Int64 > 0 {
		a.LastPriceUpdate = time.Unix(updated.Int64, 0).UTC()
	}
	return a, nil
}

const assetColumns = `id, owner_id, class, symbol, current_price, purchase_price, quantity, maturity_date, last_price_update`

func (s *SQLite) AssetsByOwner(ctx context.Context, ownerID string) ([]model.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) Asset(ctx context.Context, id string) (model.Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (s *SQLite) UpsertAsset(ctx context.Context, a model.Asset) error {
	var maturity any
	if a.MaturityDate != nil {
		maturity = a.MaturityDate.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			class = excluded.class,
			symbol = excluded.symbol,
			current_price = excluded.current_price,
			purchase_price = excluded.purchase_price,
			quantity = excluded.quantity,
			maturity_date = excluded.maturity_date,
			last_price_update = excluded.last_price_update`,
		a.ID, a.OwnerID, string(a.Class), a.Symbol,
		a.CurrentPrice.String(), a.PurchasePrice.String(), a.Quantity.String(),
		maturity, a.LastPriceUpdate.Unix())
	return err
}

func (s *SQLite) UpdateAssetPrice(ctx context.Context, assetID string, price decimal.Decimal, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assets SET current_price = ?, last_price_update = ? WHERE id = ?`,
		price.String(), at.Unix(), assetID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) AppendPriceHistory(ctx context.Context, rec model.PriceHistoryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history (asset_id, price, observed_at, source) VALUES (?, ?, ?, ?)`,
		rec.AssetID, rec.Price.String(), rec.ObservedAt.Unix(), rec.Source)
	return err
}

func (s *SQLite) PriceHistory(ctx context.Context, assetID string) ([]model.PriceHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, price, observed_at, source FROM price_history WHERE asset_id = ? ORDER BY observed_at`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PriceHistoryRecord
	for rows.Next() {
		var rec model.PriceHistoryRecord
		var price string
		var observed int64
		if err := rows.Scan(&rec.AssetID, &price, &observed, &rec.Source); err != nil {
			return nil, err
		}
		if rec.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		rec.ObservedAt = time.Unix(observed, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) ActiveAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, asset_id, kind, operator, threshold,
		       reminder_days_before, state, last_checked_at, triggered_at
		FROM alerts WHERE state = ? ORDER BY id`, string(model.StateActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var threshold string
		var checked sql.NullInt64
		var triggered sql.NullInt64
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.AssetID, (*string)(&a.Kind), (*string)(&a.Operator),
			&threshold, &a.ReminderDaysBefore, (*string)(&a.State), &checked, &triggered); err != nil {
			return nil, err
		}
		if a.Threshold, err = decimal.NewFromString(threshold); err != nil {
			return nil, err
		}
		if checked.Valid && checked.Int64 > 0 {
			a.LastCheckedAt = time.Unix(checked.Int64, 0).UTC()
		}
		if triggered.Valid {
			t := time.Unix(triggered.Int64, 0).UTC()
			a.TriggeredAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertAlert(ctx context.Context, a model.Alert) error {
	var triggered any
	if a.TriggeredAt != nil {
		triggered = a.TriggeredAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, owner_id, asset_id, kind, operator, threshold,
			reminder_days_before, state, last_checked_at, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			asset_id = excluded.asset_id,
			kind = excluded.kind,
			operator = excluded.operator,
			threshold = excluded.threshold,
			reminder_days_before = excluded.reminder_days_before,
			state = excluded.state,
			last_checked_at = excluded.last_checked_at,
			triggered_at = excluded.triggered_at`,
		a.ID, a.OwnerID, a.AssetID, string(a.Kind), string(a.Operator), a.Threshold.String(),
		a.ReminderDaysBefore, string(a.State), a.LastCheckedAt.Unix(), triggered)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }
