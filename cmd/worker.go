/*
Copyright © 2026 Swap Service Authors
*/
package cmd

import (
	"github.com/dexrouter/swap-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start order execution workers without the HTTP gateway",
	Long: `Worker runs only the scheduler worker pool. Jobs arrive through the
durable order queue from gateway processes; status events are published
back onto the status stream for gateways to serve.`,
	Run: bootstrap.StartWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
