package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bakano-billing",
	Short: "Subscription lifecycle service for tenant accounts",
	Long: `bakano-billing manages paid subscriptions for tenant accounts:
starting a plan, tracking trial and billed periods, cancellation
(immediate or at period end), and serving the derived entitlement view.

Quick start:
  bakano-billing migrate   # Apply database migrations
  bakano-billing serve     # Start the API server`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "bakano-billing.yaml", "config file path")
}
