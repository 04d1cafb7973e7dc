package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Keyed providers default to enabled, so tests that only exercise the
// file/env layering need keys to pass validation.
func setAllKeys(t *testing.T) {
	t.Helper()
	t.Setenv("ALPHAVANTAGE_API_KEY", "av-key")
	t.Setenv("FINNHUB_API_KEY", "fh-key")
	t.Setenv("METALPRICE_API_KEY", "mp-key")
	t.Setenv("GOLDAPI_API_KEY", "ga-key")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	setAllKeys(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.True(t, cfg.AlphaVantage.Enabled)
	require.Equal(t, "https://www.alphavantage.co", cfg.AlphaVantage.BaseURL)
	require.Equal(t, []string{"alphavantage", "finnhub"}, cfg.Chains["equity"])
	require.Equal(t, 4, cfg.Workers)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	setAllKeys(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
alphavantage:
  enabled: true
  base_url: https://alphavantage.example
  requests_per_minute: 2
workers: 8
storage:
  sqlite_path: /tmp/assetwatch.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://alphavantage.example", cfg.AlphaVantage.BaseURL)
	require.Equal(t, 2, cfg.AlphaVantage.PerMin)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, "/tmp/assetwatch.db", cfg.Storage.SQLitePath)
	// Untouched sections keep their defaults.
	require.Equal(t, "https://finnhub.io/api/v1", cfg.Finnhub.BaseURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	setAllKeys(t)
	t.Setenv("WORKERS", "16")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 8\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Workers)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_EnabledProviderWithoutKeyFails(t *testing.T) {
	setAllKeys(t)
	t.Setenv("FINNHUB_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
finnhub:
  enabled: true
`), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "finnhub")
	require.ErrorContains(t, err, "no api key")
}

func TestLoad_DisabledProviderNeedsNoKey(t *testing.T) {
	setAllKeys(t)
	t.Setenv("GOLDAPI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
goldapi:
  enabled: false
`), 0o644))

	_, err := Load(path)
	require.NoError(t, err)
}

func TestLoad_UnknownChainProviderFails(t *testing.T) {
	setAllKeys(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chains:
  equity: [alphavantage, yahoofinance]
`), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "yahoofinance")
}
