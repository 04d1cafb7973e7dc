package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized shape returned by all providers:
// one price observation for one symbol at one instant.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	Source     string          `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Result is the per-symbol outcome of a batch fetch. Exactly one of
// Quote or Err is meaningful.
type Result struct {
	Quote Quote
	Err   error
}

// Client is the capability interface implemented by every price source.
//
// FetchBatch returns an entry for every requested symbol; one symbol's
// failure never suppresses another's quote. A non-nil error signals a
// provider-level failure (budget exhausted, network abort); the map may
// then be missing entries for symbols that were never attempted.
type Client interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
	FetchBatch(ctx context.Context, symbols []string) (map[string]Result, error)
}
