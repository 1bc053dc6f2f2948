/*
Copyright © 2026 Swap Service Authors
*/
package cmd

import (
	"os"

	"github.com/dexrouter/swap-service/internal/config"
	"github.com/dexrouter/swap-service/internal/constant"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "swap-service",
	Short: "Order execution service routing swap orders across liquidity venues",
	Long: `swap-service accepts swap orders over HTTP, routes each order to the
venue quoting the best output amount, executes through a bounded worker
pool fed by a durable JetStream queue, and streams per-order lifecycle
events over WebSocket.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}

		return setupLogger()
	},
}

func setupLogger() error {
	logrus.SetReportCaller(config.Env.Log.ShowCaller)

	if config.Env.Env == constant.ProductionEnvironment {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	rawLevel := config.Env.Log.LogLevel
	if rawLevel == "" {
		rawLevel = "info"
	}

	logLevel, err := logrus.ParseLevel(rawLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(logLevel)

	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: ./config.yml)")
}
