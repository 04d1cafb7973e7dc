package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass partitions assets by the market segment that prices them.
type AssetClass string

const (
	ClassEquity    AssetClass = "equity"
	ClassCrypto    AssetClass = "crypto"
	ClassCommodity AssetClass = "commodity"
	// ClassUnlisted covers assets with no market symbol (real estate,
	// private holdings). They are never price-refreshed.
	ClassUnlisted AssetClass = "unlisted"
)

// Asset is a single holding owned by one user. Price fields are mutated
// only by the price-update job; everything else belongs to user CRUD.
type Asset struct {
	ID              string
	OwnerID         string
	Class           AssetClass
	Symbol          string // empty for unlisted assets
	CurrentPrice    decimal.Decimal
	PurchasePrice   decimal.Decimal
	Quantity        decimal.Decimal
	MaturityDate    *time.Time
	LastPriceUpdate time.Time
}

// Listed reports whether the asset has a market symbol that can be quoted.
func (a Asset) Listed() bool {
	return a.Class != ClassUnlisted && a.Symbol != ""
}

// PriceHistoryRecord is one append-only price observation for an asset.
type PriceHistoryRecord struct {
	AssetID    string
	Price      decimal.Decimal
	ObservedAt time.Time
	Source     string
}

// AlertKind selects which condition an alert evaluates.
type AlertKind string

const (
	KindPriceTarget      AlertKind = "price_target"
	KindPercentageChange AlertKind = "percentage_change"
	KindMaturityReminder AlertKind = "maturity_reminder"
)

// AlertOperator refines the direction of a condition.
type AlertOperator string

const (
	OpAbove      AlertOperator = "above"
	OpBelow      AlertOperator = "below"
	OpChangeUp   AlertOperator = "change_up"
	OpChangeDown AlertOperator = "change_down"
)

// AlertState is the explicit lifecycle state of an alert.
// Triggered is terminal: no alert ever re-arms.
type AlertState string

const (
	StateActive    AlertState = "active"
	StateTriggered AlertState = "triggered"
)

// Alert is a user-defined condition over one asset. Once triggered it
// stays triggered; watching the same condition again requires a new alert.
type Alert struct {
	ID                 string
	OwnerID            string
	AssetID            string
	Kind               AlertKind
	Operator           AlertOperator
	Threshold          decimal.Decimal
	ReminderDaysBefore int
	State              AlertState
	LastCheckedAt      time.Time
	TriggeredAt        *time.Time
}

// SubscriptionTier controls how often a user's prices refresh and how many
// alerts they may hold. Alert-count enforcement lives in the CRUD layer.
type SubscriptionTier struct {
	OwnerID                string
	Premium                bool
	UpdateFrequencyMinutes int
	MaxActiveAlerts        int
}

// UpdateEvery returns the refresh cadence as a duration.
func (t SubscriptionTier) UpdateEvery() time.Duration {
	m := t.UpdateFrequencyMinutes
	if m <= 0 {
		if t.Premium {
			m = 5
		} else {
			m = 15
		}
	}
	return time.Duration(m) * time.Minute
}
