// Command catalogctl is the operator CLI for the book catalog: it runs
// ingestion, inspects run history, rolls back a bad publish and queries the
// published index directly from disk.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/book-catalog/pkg/logger"
)

type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "catalogctl",
		Short: "Operate the book catalog",
		Long: `catalogctl runs and inspects catalog ingestion and queries the published index.

Commands:
  ingest    Run one ingestion pass (full or delta)
  rollback  Restore the previously published index
  runs      Show recent ingestion runs
  get       Print one record by catalog ID
  list      Filter and page through the published index`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
			a.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(
		a.ingestCommand(),
		a.rollbackCommand(),
		a.runsCommand(),
		a.getCommand(),
		a.listCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
