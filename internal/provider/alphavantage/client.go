// Package alphavantage implements the primary equities price source.
package alphavantage

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
	"assetwatch/internal/provider"
	"assetwatch/internal/provider/budget"
)

const defaultBaseURL = "https://www.alphavantage.co"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches equity quotes from the Alpha Vantage API.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	limiter    budget.Limiter
	policy     backoff.Policy
	clock      func() time.Time
}

// Option is a configuration option for the client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLimiter sets the call-budget limiter consulted before each request.
func WithLimiter(lim budget.Limiter) Option {
	return func(c *Client) { c.limiter = lim }
}

// WithPolicy sets the retry policy.
func WithPolicy(p backoff.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// New creates an Alpha Vantage client.
func New(apiKey string, options ...Option) *Client {
	c := &Client{
		name:       "alphavantage",
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		policy:     backoff.Default(),
		clock:      time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// globalQuote mirrors the GLOBAL_QUOTE payload. Field keys really do
// carry numeric prefixes upstream.
type globalQuote struct {
	Symbol        string `json:"01. symbol"`
	Price         string `json:"05. price"`
	LatestTrading string `json:"07. latest trading day"`
}

type quoteResponse struct {
	GlobalQuote globalQuote `json:"Global Quote"`
	// Note and Information are how the API reports throttling inside a
	// 200 response.
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// FetchQuote returns the latest quote for one symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	return provider.Call(ctx, c.name, c.limiter, c.policy, func(ctx context.Context) (provider.Quote, error) {
		return c.fetchQuote(ctx, symbol)
	})
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	var zero provider.Quote

	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)
	endpoint := fmt.Sprintf("%s/query?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return zero, provider.NewError(c.name, provider.KindClient, err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return zero, provider.NewError(c.name, provider.KindNetwork, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return zero, provider.StatusError(c.name, res.StatusCode, string(b))
	}

	var body quoteResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return zero, provider.NewError(c.name, provider.KindParse, fmt.Errorf("decoding quote response: %w", err))
	}
	if body.Note != "" || body.Information != "" {
		// Upstream throttle disguised as a 200.
		return zero, provider.NewError(c.name, provider.KindServer, fmt.Errorf("throttled: %s%s", body.Note, body.Information))
	}
	if body.GlobalQuote.Symbol == "" {
		return zero, provider.NewError(c.name, provider.KindClient, fmt.Errorf("%w: %q", provider.ErrUnknownSymbol, symbol))
	}

	price, err := decimal.NewFromString(body.GlobalQuote.Price)
	if err != nil {
		return zero, provider.NewError(c.name, provider.KindParse, fmt.Errorf("parsing price %q: %w", body.GlobalQuote.Price, err))
	}

	return provider.Quote{
		Symbol:     symbol,
		Price:      price,
		Currency:   "USD",
		Source:     c.name,
		ObservedAt: c.clock().UTC(),
	}, nil
}

// FetchBatch resolves each symbol with its own request; the API has no
// batch endpoint. One symbol's failure never suppresses the others.
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
