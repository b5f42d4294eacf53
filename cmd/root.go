package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seoworks/indexer-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "indexer-cli",
	Short: "Batch URL submission to the Google Indexing API",
	Long:  "Probes URL lists, classifies each page as updated or deleted, and submits notifications to the Google Indexing API, rotating service-account credentials as their quotas drain.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
