package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lusis-developers/bakano-billing/bootstrap"
	"github.com/lusis-developers/bakano-billing/config"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the billing API server",
	Long: `Start the bakano-billing API server.

Configuration is read from the config file (--config), with BAKANO_*
environment variables as overrides. Without a config file the server runs
from environment variables and defaults alone.

Environment variables:
  BAKANO_SERVER_PORT         - Server port (default: 8080)
  BAKANO_DATABASE_DRIVER     - "sqlite" or "memory"
  BAKANO_DATABASE_DSN        - Database path (default: bakano-billing.db)
  BAKANO_DEFAULT_TRIAL_DAYS  - Trial days when a start request omits them
  BAKANO_SWEEP_SCHEDULE      - Cron spec for the period-end sweep
  BAKANO_LOG_LEVEL           - debug, info, warn, error`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var (
		app *bootstrap.App
		err error
	)
	switch {
	case hasConfigFile:
		app, err = bootstrap.New(cfgFile, hotReload)
	case config.HasEnvConfig():
		app, err = bootstrap.NewFromEnv()
	default:
		fmt.Printf("No configuration found. Create %s or set BAKANO_* environment variables.\n", cfgFile)
		return nil
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
