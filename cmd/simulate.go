/*
Copyright © 2026 Swap Service Authors
*/
package cmd

import (
	"github.com/dexrouter/swap-service/internal/bootstrap"
	"github.com/dexrouter/swap-service/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the pipeline end to end in memory",
	Long: `Simulate submits a batch of swap orders through the in-memory store,
queue, and fanout against seeded venues. No external dependencies are
required; a config file is optional.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadConfig(configPath); err != nil {
			logrus.Warnf("running with default config: %v", err)
			config.Env = &config.EnvConfig{}
		}

		return setupLogger()
	},
	Run: bootstrap.StartSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Int("orders", 20, "number of orders to submit")
	simulateCmd.Flags().Int64("seed", 0, "venue rng seed, 0 means time based")
}
