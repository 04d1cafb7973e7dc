// Package coingecko implements the crypto price source. Tickers are not
// API identifiers here ("BTC" -> "bitcoin"), so the client keeps a lazily
// refreshed mapping table with a 24-hour TTL.
package coingecko

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
	"assetwatch/internal/provider/symbolcache"
)

type Config struct {
	Name     string
	BaseURL  string
	Currency string // vs_currency, lower case
	MapTTL   time.Duration
	Limiter  budget.Limiter
	Policy   backoff.Policy
}

type Client struct {
	cfg     Config
	client  *httpx.Client
	symbols *symbolcache.Table
	clock   func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.Name == "" {
		cfg.Name = "coingecko"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Policy.InitialDelay == 0 {
		cfg.Policy = backoff.Default()
	}
	c := &Client{cfg: cfg, client: hc, clock: time.Now}
	c.symbols = symbolcache.New(cfg.MapTTL, c.loadCoinList)
	return c
}

func (c *Client) Name() string { return c.cfg.Name }

type coinEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

// loadCoinList fetches the full coin registry. Many coins share a ticker;
// first listing wins, which matches the API's own ranking order.
func (c *Client) loadCoinList(ctx context.Context) (map[string]string, error) {
	entries, err := provider.Call(ctx, c.cfg.Name, c.cfg.Limiter, c.cfg.Policy, func(ctx context.Context) ([]coinEntry, error) {
		endpoint := c.cfg.BaseURL + "/coins/list"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return nil, provider.NewError(c.cfg.Name, provider.KindClient, err)
		}
		res, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, provider.NewError(c.cfg.Name, provider.KindNetwork, err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
			return nil, provider.StatusError(c.cfg.Name, res.StatusCode, string(b))
		}
		var list []coinEntry
		if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
			return nil, provider.NewError(c.cfg.Name, provider.KindParse, fmt.Errorf("decoding coin list: %w", err))
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		key := strings.ToUpper(e.Symbol)
		if _, taken := m[key]; !taken {
			m[key] = e.ID
		}
	}
	return m, nil
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

// FetchBatch resolves tickers through the mapping table, then quotes all
// known ids in a single request. Unknown tickers fail individually and
// are never sent upstream.
func (c *Client) FetchBatch(ctx context.Context, symbols []string) (map[string]provider.Result, error) {
	out := make(map[string]provider.Result, len(symbols))

	symbolByID := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id, ok, err := c.symbols.Lookup(ctx, s)
		if err != nil {
			// Mapping table unavailable: nothing can be quoted.
			for _, s2 := range symbols {
				out[s2] = provider.Result{Err: err}
			}
			return out, err
		}
		if !ok {
			out[s] = provider.Result{Err: provider.NewError(c.cfg.Name, provider.KindClient,
				fmt.Errorf("%w: %q", provider.ErrUnknownSymbol, s))}
			continue
		}
		if _, dup := symbolByID[id]; !dup {
			ids = append(ids, id)
		}
		symbolByID[id] = s
	}
	if len(ids) == 0 {
		return out, nil
	}

	prices, err := provider.Call(ctx, c.cfg.Name, c.cfg.Limiter, c.cfg.Policy, func(ctx context.Context) (map[string]map[string]json.Number, error) {
		q := url.Values{}
		q.Set("ids", strings.Join(ids, ","))
		q.Set("vs_currencies", c.cfg.Currency)
		q.Set("include_last_updated_at", "true")
		endpoint := fmt.Sprintf("%s/simple/price?%s", c.cfg.BaseURL, q.Encode())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return nil, provider.NewError(c.cfg.Name, provider.KindClient, err)
		}
		res, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, provider.NewError(c.cfg.Name, provider.KindNetwork, err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
			return nil, provider.StatusError(c.cfg.Name, res.StatusCode, string(b))
		}
		dec := json.NewDecoder(res.Body)
		dec.UseNumber()
		var body map[string]map[string]json.Number
		if err := dec.Decode(&body); err != nil {
			return nil, provider.NewError(c.cfg.Name, provider.KindParse, fmt.Errorf("decoding prices: %w", err))
		}
		return body, nil
	})
	if err != nil {
		for _, id := range ids {
			out[symbolByID[id]] = provider.Result{Err: err}
		}
		return out, err
	}

	now := c.clock().UTC()
	for _, id := range ids {
		sym := symbolByID[id]
		fields, ok := prices[id]
		if !ok {
			out[sym] = provider.Result{Err: provider.NewError(c.cfg.Name, provider.KindClient,
				fmt.Errorf("%w: %q", provider.ErrUnknownSymbol, sym))}
			continue
		}
		raw, ok := fields[c.cfg.Currency]
		if !ok {
			out[sym] = provider.Result{Err: provider.NewError(c.cfg.Name, provider.KindParse,
				fmt.Errorf("no %s price for %q", c.cfg.Currency, sym))}
			continue
		}
		price, err := decimal.NewFromString(raw.String())
		if err != nil {
			out[sym] = provider.Result{Err: provider.NewError(c.cfg.Name, provider.KindParse,
				fmt.Errorf("parsing price %q: %w", raw, err))}
			continue
		}
		observed := now
		if ts, ok := fields["last_updated_at"]; ok {
			if sec, err := ts.Int64(); err == nil && sec > 0 {
				observed = time.Unix(sec, 0).UTC()
			}
		}
		out[sym] = provider.Result{Quote: provider.Quote{
			Symbol:     sym,
			Price:      price,
			Currency:   strings.ToUpper(c.cfg.Currency),
			Source:     c.cfg.Name,
			ObservedAt: observed,
		}}
	}
	return out, nil
}
