// Package finnhub implements the backup equities price source. Its free
// tier carries tight budgets (per-minute and per-day), so the limiter is
// consulted before every request.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"assetwatch/internal/backoff"
	"assetwatch/internal/httpx"
	"assetwatch/internal/provider"
	"assetwatch/internal/provider/budget"
)

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Limiter budget.Limiter
	Policy  backoff.Policy
}

type Client struct {
	cfg    Config
	client *httpx.Client
	clock  func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.Name == "" {
		cfg.Name = "finnhub"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://finnhub.io/api/v1"
	}
	if cfg.Policy.InitialDelay == 0 {
		cfg.Policy = backoff.Default()
	}
	return &Client{cfg: cfg, client: hc, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (c *Client) WithClock(clock func() time.Time) *Client {
	c.clock = clock
	return c
}

func (c *Client) Name() string { return c.cfg.Name }

// quotePayload mirrors the /quote response: c is the current price, t the
// unix timestamp of the observation. Both zero means the symbol is unknown.
type quotePayload struct {
	Current   json.Number `json:"c"`
	Timestamp int64       `json:"t"`
}

func (c *Client) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	return provider.Call(ctx, c.cfg.Name, c.cfg.Limiter, c.cfg.Policy, func(ctx context.Context) (provider.Quote, error) {
		return c.fetchQuote(ctx, symbol)
	})
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	var zero provider.Quote

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", c.cfg.APIKey)
	endpoint := fmt.Sprintf("%s/quote?%s", c.cfg.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return zero, provider.NewError(c.cfg.Name, provider.KindClient, err)
	}
	res, err := c.client.Do(ctx, req)
	if err != nil {
		return zero, provider.NewError(c.cfg.Name, provider.KindNetwork, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return zero, provider.StatusError(c.cfg.Name, res.StatusCode, string(b))
	}

	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	var body quotePayload
	if err := dec.Decode(&body); err != nil {
		return zero, provider.NewError(c.cfg.Name, provider.KindParse, fmt.Errorf("decoding quote: %w", err))
	}
	if body.Timestamp == 0 {
		return zero, provider.NewError(c.cfg.Name, provider.KindClient, fmt.Errorf("%w: %q", provider.ErrUnknownSymbol, symbol))
	}

	price, err := decimal.NewFromString(body.Current.String())
	if err != nil {
		return zero, provider.NewError(c.cfg.Name, provider.KindParse, fmt.Errorf("parsing price %q: %w", body.Current, err))
	}

	return provider.Quote{
		Symbol:     symbol,
		Price:      price,
		Currency:   "USD",
		Source:     c.cfg.Name,
		ObservedAt: time.Unix(body.Timestamp, 0).UTC(),
	}, nil
}

// FetchBatch loops FetchQuote; the API quotes one symbol per request.
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
