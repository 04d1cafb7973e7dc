// Package config loads application configuration from a YAML file with
// environment overrides on top of built-in defaults. Secrets are
// expected to arrive via environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"assetwatch/internal/logging"
)

// Provider configures one upstream price source. Zero window limits
// mean the window is unbounded.
type Provider struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	PerMin   int    `yaml:"requests_per_minute"`
	PerDay   int    `yaml:"requests_per_day"`
	PerMonth int    `yaml:"requests_per_month"`
}

type Schedule struct {
	UpdateCron string `yaml:"update_cron"`
	AlertCron  string `yaml:"alert_cron"`
}

type Storage struct {
	// SQLitePath empty selects the in-memory store.
	SQLitePath string `yaml:"sqlite_path"`
}

type Redis struct {
	// Addr empty keeps budget counters in process memory.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Notify struct {
	WebhookURL string `yaml:"webhook_url"`
}

type Config struct {
	AlphaVantage Provider `yaml:"alphavantage"`
	Finnhub      Provider `yaml:"finnhub"`
	CoinGecko    Provider `yaml:"coingecko"`
	MetalPrice   Provider `yaml:"metalprice"`
	GoldAPI      Provider `yaml:"goldapi"`

	// Chains lists provider names in priority order per asset class.
	Chains map[string][]string `yaml:"chains"`

	Schedule Schedule       `yaml:"schedule"`
	Storage  Storage        `yaml:"storage"`
	Redis    Redis          `yaml:"redis"`
	Notify   Notify         `yaml:"notify"`
	Logging  logging.Config `yaml:"logging"`

	Workers int `yaml:"workers"`
}

func Default() Config {
	return Config{
		AlphaVantage: Provider{
			Enabled: true,
			BaseURL: "https://www.alphavantage.co",
			PerMin:  5, PerDay: 500,
		},
		Finnhub: Provider{
			Enabled: true,
			BaseURL: "https://finnhub.io/api/v1",
			PerMin:  60,
		},
		CoinGecko: Provider{
			Enabled: true,
			BaseURL: "https://api.coingecko.com/api/v3",
			PerMin:  30,
		},
		MetalPrice: Provider{
			Enabled:  true,
			BaseURL:  "https://api.metalpriceapi.com",
			PerMonth: 100,
		},
		GoldAPI: Provider{
			Enabled: true,
			BaseURL: "https://www.goldapi.io",
			PerDay:  100,
		},
		Chains: map[string][]string{
			"equity":    {"alphavantage", "finnhub"},
			"crypto":    {"coingecko"},
			"commodity": {"metalprice", "goldapi"},
		},
		Schedule: Schedule{
			// Every minute; the eligibility gate turns this into the
			// per-tier cadence.
			UpdateCron: "0 * * * * *",
			AlertCron:  "30 * * * * *",
		},
		Logging: logging.Default(),
		Workers: 4,
	}
}

// Load reads YAML config from path on top of defaults, then applies
// environment overrides. A missing file is not an error; defaults and
// environment carry a minimal setup.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Finnhub.APIKey = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.CoinGecko.APIKey = v
	}
	if v := os.Getenv("METALPRICE_API_KEY"); v != "" {
		cfg.MetalPrice.APIKey = v
	}
	if v := os.Getenv("GOLDAPI_API_KEY"); v != "" {
		cfg.GoldAPI.APIKey = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("UPDATE_CRON"); v != "" {
		cfg.Schedule.UpdateCron = v
	}
	if v := os.Getenv("ALERT_CRON"); v != "" {
		cfg.Schedule.AlertCron = v
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = true
		cfg.Logging.FilePath = v
	}
}

// validate rejects configurations that cannot start. CoinGecko works
// without a key on its public tier, so only the keyed providers are
// checked.
func (c Config) validate() error {
	keyed := []struct {
		name string
		p    Provider
	}{
		{"alphavantage", c.AlphaVantage},
		{"finnhub", c.Finnhub},
		{"metalprice", c.MetalPrice},
		{"goldapi", c.GoldAPI},
	}
	for _, k := range keyed {
		if k.p.Enabled && k.p.APIKey == "" {
			return fmt.Errorf("provider %s is enabled but has no api key", k.name)
		}
	}
	known := map[string]bool{
		"alphavantage": true, "finnhub": true, "coingecko": true,
		"metalprice": true, "goldapi": true,
	}
	for class, names := range c.Chains {
		for _, n := range names {
			if !known[n] {
				return fmt.Errorf("chain for class %q references unknown provider %q", class, n)
			}
		}
	}
	return nil
}
