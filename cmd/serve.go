/*
Copyright © 2026 Swap Service Authors
*/
package cmd

import (
	"github.com/dexrouter/swap-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the swap service gateway and workers in one process",
	Long: `Serve runs the full order execution service: the HTTP API that accepts
swap orders and streams status over WebSocket, and the scheduler workers
that route and execute each order against the configured venues.`,
	Run: bootstrap.StartServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
