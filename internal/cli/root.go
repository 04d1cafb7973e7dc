// Package cli wires configuration into providers, storage and jobs, and
// exposes them as the assetwatch command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"assetwatch/internal/config"
	"assetwatch/internal/httpx"
	"assetwatch/internal/jobs"
	"assetwatch/internal/logging"
	"assetwatch/internal/model"
	"assetwatch/internal/notify"
	"assetwatch/internal/provider"
	"assetwatch/internal/provider/alphavantage"
	"assetwatch/internal/provider/budget"
	"assetwatch/internal/provider/chain"
	"assetwatch/internal/provider/coingecko"
	"assetwatch/internal/provider/finnhub"
	"assetwatch/internal/provider/goldapi"
	"assetwatch/internal/provider/metalprice"
	"assetwatch/internal/scheduler"
	"assetwatch/internal/storage"
)

const Version = "0.1.0"

// App holds everything the subcommands share.
type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Store    storage.Store
	Chain    *chain.Coordinator
	Notifier notify.Notifier
}

// NewRootCmd builds the command tree. Dependency construction is lazy:
// it happens in PersistentPreRunE so `--help` never opens a database.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:           "assetwatch",
		Short:         "Asset price tracking and alerting daemon",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.Logging.Level = "debug"
			}
			return app.init(cfg)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if app.Store != nil {
				return app.Store.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default: config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newUpdatePricesCmd(app))
	rootCmd.AddCommand(newCheckAlertsCmd(app))
	return rootCmd
}

func (a *App) init(cfg config.Config) error {
	a.Config = cfg
	a.Logger = logging.New(cfg.Logging)

	limiter := buildLimiter(cfg, a.Logger)
	hc := httpx.New(provider.CallTimeout)

	clients := map[string]provider.Client{}
	if cfg.AlphaVantage.Enabled {
		clients["alphavantage"] = alphavantage.New(cfg.AlphaVantage.APIKey,
			alphavantage.WithBaseURL(cfg.AlphaVantage.BaseURL),
			alphavantage.WithLimiter(limiter),
		)
	}
	if cfg.Finnhub.Enabled {
		clients["finnhub"] = finnhub.New(finnhub.Config{
			BaseURL: cfg.Finnhub.BaseURL,
			APIKey:  cfg.Finnhub.APIKey,
			Limiter: limiter,
		}, hc)
	}
	if cfg.CoinGecko.Enabled {
		clients["coingecko"] = coingecko.New(coingecko.Config{
			BaseURL: cfg.CoinGecko.BaseURL,
			Limiter: limiter,
		}, hc)
	}
	if cfg.MetalPrice.Enabled {
		clients["metalprice"] = metalprice.New(metalprice.Config{
			BaseURL: cfg.MetalPrice.BaseURL,
			APIKey:  cfg.MetalPrice.APIKey,
			Limiter: limiter,
		}, hc)
	}
	if cfg.GoldAPI.Enabled {
		clients["goldapi"] = goldapi.New(goldapi.Config{
			BaseURL: cfg.GoldAPI.BaseURL,
			APIKey:  cfg.GoldAPI.APIKey,
			Limiter: limiter,
		}, hc)
	}

	chains := make(map[model.AssetClass][]provider.Client)
	for class, names := range cfg.Chains {
		for _, name := range names {
			c, ok := clients[name]
			if !ok {
				a.Logger.Warn().
					Str("provider", name).
					Str("class", class).
					Msg("provider disabled, dropping from chain")
				continue
			}
			chains[model.AssetClass(class)] = append(chains[model.AssetClass(class)], c)
		}
	}
	a.Chain = chain.New(chains, a.Logger)

	if cfg.Storage.SQLitePath != "" {
		st, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.Store = st
	} else {
		a.Logger.Warn().Msg("no sqlite path configured, using in-memory store")
		a.Store = storage.NewMemory()
	}

	if cfg.Notify.WebhookURL != "" {
		a.Notifier = notify.NewWebhook(cfg.Notify.WebhookURL, a.Logger)
	} else {
		a.Notifier = notify.Log{Logger: a.Logger}
	}
	return nil
}

// buildLimiter translates config windows into a budget limiter. With a
// Redis address configured the counters are shared across instances.
func buildLimiter(cfg config.Config, log zerolog.Logger) budget.Limiter {
	windows := map[string][]budget.Window{}
	add := func(name string, p config.Provider) {
		if !p.Enabled {
			return
		}
		var w []budget.Window
		if p.PerMin > 0 {
			w = append(w, budget.Window{Kind: budget.PerMinute, Limit: p.PerMin})
		}
		if p.PerDay > 0 {
			w = append(w, budget.Window{Kind: budget.PerDay, Limit: p.PerDay})
		}
		if p.PerMonth > 0 {
			w = append(w, budget.Window{Kind: budget.PerMonth, Limit: p.PerMonth})
		}
		if len(w) > 0 {
			windows[name] = w
		}
	}
	add("alphavantage", cfg.AlphaVantage)
	add("finnhub", cfg.Finnhub)
	add("coingecko", cfg.CoinGecko)
	add("metalprice", cfg.MetalPrice)
	add("goldapi", cfg.GoldAPI)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return budget.NewRedis(rdb, windows, log)
	}
	return budget.NewMemory(windows)
}

func (a *App) priceUpdate() *jobs.PriceUpdate {
	return &jobs.PriceUpdate{
		Store:    a.Store,
		Chain:    a.Chain,
		Notifier: a.Notifier,
		Workers:  a.Config.Workers,
		Logger:   logging.WithJob(a.Logger, "price_update"),
	}
}

func (a *App) alertCheck() *jobs.AlertCheck {
	return &jobs.AlertCheck{
		Store:    a.Store,
		Notifier: a.Notifier,
		Workers:  a.Config.Workers,
		Logger:   logging.WithJob(a.Logger, "alert_check"),
	}
}

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon",
		Long: `Start the daemon: price updates and alert checks run on their
configured cron expressions until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(ctx, app.priceUpdate(), app.alertCheck(), app.Logger)
			if err := sched.Register(app.Config.Schedule.UpdateCron, app.Config.Schedule.AlertCron); err != nil {
				return err
			}
			sched.Start()
			<-ctx.Done()
			app.Logger.Info().Msg("shutting down")
			sched.Stop()
			return nil
		},
	}
}

func newUpdatePricesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "update-prices",
		Short: "Run a single price-update pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), app.priceUpdate(), app.Logger)
		},
	}
}

func newCheckAlertsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check-alerts",
		Short: "Run a single alert-check pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), app.alertCheck(), app.Logger)
		},
	}
}

func runOnce(ctx context.Context, job scheduler.Job, log zerolog.Logger) error {
	sum, err := job.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("users_processed", sum.UsersProcessed).
		Int("assets_updated", sum.AssetsUpdated).
		Int("assets_failed", sum.AssetsFailed).
		Int("alerts_triggered", sum.AlertsTriggered).
		Int("notifications_sent", sum.NotificationsSent).
		Msg("done")
	return nil
}
