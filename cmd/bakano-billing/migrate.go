package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lusis-developers/bakano-billing/adapters/sqlite"
	"github.com/lusis-developers/bakano-billing/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "sqlite" {
			return fmt.Errorf("migrate requires the sqlite driver, got %q", cfg.Database.Driver)
		}

		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err == nil {
		return cfg, nil
	}
	return config.LoadEnv()
}
