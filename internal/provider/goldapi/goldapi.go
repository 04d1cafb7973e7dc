// Package goldapi implements the backup commodities price source. One
// metal per request, authenticated with an access-token header.
package goldapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"assetwatch/internal/backoff"
	"assetwatch/internal/httpx"
	"assetwatch/internal/provider"
	"assetwatch/internal/provider/budget"
)

type Config struct {
	Name     string
	BaseURL  string
	APIKey   string
	Currency string
	Limiter  budget.Limiter
	Policy   backoff.Policy
}

type Client struct {
	cfg    Config
	client *httpx.Client
	clock  func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.Name == "" {
		cfg.Name = "goldapi"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.goldapi.io/api"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Policy.InitialDelay == 0 {
		cfg.Policy = backoff.Default()
	}
	return &Client{cfg: cfg, client: hc, clock: time.Now}
}

func (c *Client) Name() string { return c.cfg.Name }

type metalPayload struct {
	Metal     string      `json:"metal"`
	Currency  string      `json:"currency"`
	Price     json.Number `json:"price"`
	Timestamp int64       `json:"timestamp"`
}

func (c *Client) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	return provider.Call(ctx, c.cfg.Name, c.cfg.Limiter, c.cfg.Policy, func(ctx context.Context) (provider.Quote, error) {
		return c.fetchQuote(ctx, symbol)
	})
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	var zero provider.Quote

	endpoint := fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, strings.ToUpper(symbol), c.cfg.Currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return zero, provider.NewError(c.cfg.Name, provider.KindClient, err)
	}
	req.Header.Set("x-access-token", c.cfg.APIKey)

	res, err := c.client.Do(ctx, req)
	if err != nil {
		return zero, provider.NewError(c.cfg.Name, provider.KindNetwork, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusBadRequest:
		// Unsupported metal symbol.
		return zero, provider.NewError(c.cfg.Name, provider.KindClient,
			fmt.Errorf("%w: %q", provider.ErrUnknownSymbol, symbol))
	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return zero, provider.StatusError(c.cfg.Name, res.StatusCode, string(b))
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	var body metalPayload
	if err := dec.Decode(&body); err != nil {
		return zero, provider.NewError(c.cfg.Name, provider.KindParse, fmt.Errorf("decoding metal quote: %w", err))
	}

	price, err := decimal.NewFromString(body.Price.String())
	if err != nil || price.IsZero() {
		return zero, provider.NewError(c.cfg.Name, provider.KindParse, fmt.Errorf("bad price %q for %q", body.Price, symbol))
	}

	observed := c.clock().UTC()
	if body.Timestamp > 0 {
		observed = time.Unix(body.Timestamp, 0).UTC()
	}
	return provider.Quote{
		Symbol:     symbol,
		Price:      price,
		Currency:   c.cfg.Currency,
		Source:     c.cfg.Name,
		ObservedAt: observed,
	}, nil
}

// FetchBatch loops FetchQuote; the API has no batch endpoint.
func (c *Client) FetchBatch(ctx context.Context, symbols []string) (map[string]provider.Result, error) {
	out := make(map[string]provider.Result, len(symbols))
	succeeded := 0
	var firstErr error
	for _, s := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		q, err := c.FetchQuote(ctx, s)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			out[s] = provider.Result{Err: err}
			continue
		}
		succeeded++
		out[s] = provider.Result{Quote: q}
	}
	if succeeded == 0 && firstErr != nil {
		return out, firstErr
	}
	return out, nil
}
