package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/ledger"
	"github.com/uhyunpark/tickerbook/pkg/app/core/market"
)

const symbolFlagName = "symbol"

func init() {
	rootCmd.AddCommand(exportTradesCmd)
	exportTradesCmd.Flags().String(symbolFlagName, "", "Only export trades of this symbol")
}

var exportTradesCmd = &cobra.Command{
	Use:   "export-trades",
	Short: "Write the persisted trade ledger as CSV to stdout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		symbol, err := cmd.Flags().GetString(symbolFlagName)
		if err != nil {
			return err
		}
		if symbol != "" {
			if err := market.Default().Validate(core.Symbol(symbol)); err != nil {
				return err
			}
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Storage.DBPath == "" {
			return fmt.Errorf("DB_PATH is not set; nothing to export from an in-memory store")
		}
		store, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		snap, err := store.Load(context.Background())
		if err != nil {
			return err
		}
		l := ledger.New()
		l.Restore(snap.Trades)
		return ledger.WriteCSV(cmd.OutOrStdout(), l.All(core.Symbol(symbol)))
	},
}
