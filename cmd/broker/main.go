package main

import (
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const envFileFlagName = "env-file"

var rootCmd = &cobra.Command{
	Use:   "broker",
	Short: "Single-venue stock broker: matching engine, price feed and live event push",
	// serve is the default action
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().String(envFileFlagName, "", "Path to a .env file (defaults to ./.env when present)")
}

func main() {
	// prices and quantities go over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
