// Package metalprice implements the primary commodities price source.
// The API quotes metal symbols (XAU, XAG, ...) as rates against a base
// currency; a monthly call budget makes the batch endpoint the only
// sensible way to use it.
package metalprice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
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
	Base    string // quote currency, e.g. USD
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
		cfg.Name = "metalprice"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.metalpriceapi.com/v1"
	}
	if cfg.Base == "" {
		cfg.Base = "USD"
	}
	if cfg.Policy.InitialDelay == 0 {
		cfg.Policy = backoff.Default()
	}
	return &Client{cfg: cfg, client: hc, clock: time.Now}
}

func (c *Client) Name() string { return c.cfg.Name }

type latestPayload struct {
	Success   bool                   `json:"success"`
	Timestamp int64                  `json:"timestamp"`
	Rates     map[string]json.Number `json:"rates"`
	Error     struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

func (c *Client) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	res, err := c.FetchBatch(ctx, []string{symbol})
	if err != nil {
		return provider.Quote{}, err
	}
	r := res[symbol]
	if r.Err != nil {
		return provider.Quote{}, r.Err
	}
	return r.Quote, nil
}

// FetchBatch quotes all symbols in one request. Rates come back as units
// of metal per base currency, so the price is the inverse.
func (c *Client) FetchBatch(ctx context.Context, symbols []string) (map[string]provider.Result, error) {
	out := make(map[string]provider.Result, len(symbols))

	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(s))
	}

	body, err := provider.Call(ctx, c.cfg.Name, c.cfg.Limiter, c.cfg.Policy, func(ctx context.Context) (latestPayload, error) {
		var zero latestPayload
		q := url.Values{}
		q.Set("api_key", c.cfg.APIKey)
		q.Set("base", c.cfg.Base)
		q.Set("currencies", strings.Join(upper, ","))
		endpoint := fmt.Sprintf("%s/latest?%s", c.cfg.BaseURL, q.Encode())

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
		var p latestPayload
		if err := dec.Decode(&p); err != nil {
			return zero, provider.NewError(c.cfg.Name, provider.KindParse, fmt.Errorf("decoding rates: %w", err))
		}
		if !p.Success {
			return zero, provider.NewError(c.cfg.Name, provider.KindClient,
				fmt.Errorf("api error %d: %s", p.Error.Code, p.Error.Info))
		}
		return p, nil
	})
	if err != nil {
		for _, s := range symbols {
			out[s] = provider.Result{Err: err}
		}
		return out, err
	}

	observed := c.clock().UTC()
	if body.Timestamp > 0 {
		observed = time.Unix(body.Timestamp, 0).UTC()
	}
	one := decimal.NewFromInt(1)
	for i, s := range symbols {
		raw, ok := body.Rates[upper[i]]
		if !ok {
			out[s] = provider.Result{Err: provider.NewError(c.cfg.Name, provider.KindClient,
				fmt.Errorf("%w: %q", provider.ErrUnknownSymbol, s))}
			continue
		}
		rate, err := decimal.NewFromString(raw.String())
		if err != nil || rate.IsZero() || rate.IsNegative() {
			out[s] = provider.Result{Err: provider.NewError(c.cfg.Name, provider.KindParse,
				fmt.Errorf("bad rate %q for %q", raw, s))}
			continue
		}
		out[s] = provider.Result{Quote: provider.Quote{
			Symbol:     s,
			Price:      one.Div(rate).Round(6),
			Currency:   c.cfg.Base,
			Source:     c.cfg.Name,
			ObservedAt: observed,
		}}
	}
	return out, nil
}
