package goldapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"assetwatch/internal/backoff"
	"assetwatch/internal/httpx"
	"assetwatch/internal/provider"
)

func fastPolicy() backoff.Policy {
	p := backoff.Default()
	p.InitialDelay = time.Millisecond
	return p
}

func TestFetchQuote(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/XAU/USD", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("x-access-token"))
		fmt.Fprint(w, `{"metal":"XAU","currency":"USD","price":2031.55,"timestamp":1582641000}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret", Policy: fastPolicy()}, httpx.New(5*time.Second))

	q, err := c.FetchQuote(t.Context(), "xau")
	require.NoError(t, err)
	require.True(t, q.Price.Equal(decimal.RequireFromString("2031.55")), "got %s", q.Price)
	require.Equal(t, "USD", q.Currency)
	require.Equal(t, time.Unix(1582641000, 0).UTC(), q.ObservedAt)
	require.Equal(t, "goldapi", q.Source)
}

func TestFetchQuote_NotFoundIsUnknownSymbol(t *testing.T) {
	t.Parallel()

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "x", Policy: fastPolicy()}, httpx.New(5*time.Second))

	_, err := c.FetchQuote(t.Context(), "XYZ")
	require.ErrorIs(t, err, provider.ErrUnknownSymbol)
	require.Equal(t, 1, requests, "unknown symbol must never be retried")
}

func TestFetchBatch_PartialFailureKeepsSuccesses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/XAU/USD" {
			fmt.Fprint(w, `{"metal":"XAU","currency":"USD","price":2031.55,"timestamp":1582641000}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "x", Policy: fastPolicy()}, httpx.New(5*time.Second))

	res, err := c.FetchBatch(t.Context(), []string{"XAU", "XYZ"})
	require.NoError(t, err, "partial failure is not a batch failure")
	require.Len(t, res, 2)
	require.NoError(t, res["XAU"].Err)
	require.ErrorIs(t, res["XYZ"].Err, provider.ErrUnknownSymbol)
}

func TestFetchBatch_AllFailuresFailTheBatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "x", Policy: fastPolicy()}, httpx.New(5*time.Second))

	res, err := c.FetchBatch(t.Context(), []string{"XYZ", "ABC"})
	require.Error(t, err)
	require.Len(t, res, 2)
}
