// Package bootstrap wires all dependencies and runs the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lusis-developers/bakano-billing/adapters/clock"
	billinghttp "github.com/lusis-developers/bakano-billing/adapters/http"
	"github.com/lusis-developers/bakano-billing/adapters/idgen"
	"github.com/lusis-developers/bakano-billing/adapters/memory"
	"github.com/lusis-developers/bakano-billing/adapters/metrics"
	"github.com/lusis-developers/bakano-billing/adapters/sqlite"
	"github.com/lusis-developers/bakano-billing/app"
	"github.com/lusis-developers/bakano-billing/config"
	"github.com/lusis-developers/bakano-billing/ports"
)

// App represents the running application.
type App struct {
	Logger    zerolog.Logger
	Holder    *config.Holder
	DB        *sqlite.DB // nil with the memory driver
	Store     ports.LedgerStore
	Metrics   *metrics.Collector
	Lifecycle *app.LifecycleService
	Sweeper   *app.Sweeper
	Server    *http.Server
}

// New loads configuration from path (with env overrides) and wires the
// application. Hot reload of the config file is enabled when watch is true.
func New(path string, watch bool) (*App, error) {
	holder, err := config.NewHolder(path, zerolog.New(os.Stderr).With().Timestamp().Logger())
	if err != nil {
		return nil, err
	}
	a, err := fromHolder(holder)
	if err != nil {
		return nil, err
	}
	if watch {
		if err := holder.WatchFile(); err != nil {
			return nil, fmt.Errorf("watch config: %w", err)
		}
		holder.WatchSignals()
	}
	return a, nil
}

// NewFromEnv wires the application from defaults and BAKANO_* environment
// variables only.
func NewFromEnv() (*App, error) {
	cfg, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	return fromHolder(config.NewStaticHolder(cfg))
}

func fromHolder(holder *config.Holder) (*App, error) {
	cfg := holder.Get()

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing bakano-billing")

	a := &App{
		Logger: logger,
		Holder: holder,
	}

	switch cfg.Database.Driver {
	case "memory":
		a.Store = memory.NewLedgerStore()
	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.DB = db
		a.Store = sqlite.NewLedgerStore(db)
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	a.Lifecycle = app.NewLifecycleService(
		a.Store,
		clock.Real{},
		idgen.UUID{},
		logger.With().Str("component", "lifecycle").Logger(),
		a.Metrics,
	)
	a.Sweeper = app.NewSweeper(
		a.Lifecycle,
		a.Store,
		clock.Real{},
		logger.With().Str("component", "sweeper").Logger(),
		a.Metrics,
	)

	handler := billinghttp.NewHandler(
		a.Lifecycle,
		logger.With().Str("component", "http").Logger(),
		billinghttp.Options{
			DefaultTrialDays: cfg.Billing.DefaultTrialDays,
			DefaultProvider:  cfg.Billing.DefaultProvider,
			MetricsEnabled:   cfg.Metrics.Enabled,
		},
	)
	a.Server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	holder.OnChange(func(next *config.Config) {
		setLogLevel(next.Logging.Level)
		if a.Metrics != nil {
			a.Metrics.ConfigReloads.Inc()
		}
	})

	return a, nil
}

// Run starts the sweeper and the HTTP server, blocking until ctx is
// canceled, then shuts both down gracefully.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Holder.Get()

	if cfg.Sweep.Enabled {
		if err := a.Sweeper.Start(cfg.Sweep.Schedule); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.Server.Addr).Msg("http server listening")
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
	}
	a.Close()
	return nil
}

// Close releases all resources.
func (a *App) Close() {
	a.Sweeper.Stop()
	a.Holder.Stop()
	if a.DB != nil {
		a.DB.Close()
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	setLogLevel(cfg.Level)
	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
