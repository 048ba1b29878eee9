// Command syncd is the syncmesh daemon and CLI: it serves the job queue,
// scheduler, and webhook intake, and exposes one-shot trigger commands for
// operators and scripts, mirroring the teacher's cmd/bd root-command shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/syncmesh/syncmesh/internal/connector/azuredevops"
	_ "github.com/syncmesh/syncmesh/internal/connector/servicedeskplus"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "syncd - bidirectional work-item synchronization daemon",
	Long:  "syncd mirrors issues between heterogeneous trackers via pluggable connectors.",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "syncmesh.toml", "Path to syncmesh.toml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddGroup(&cobra.Group{ID: "core", Title: "Core:"})
	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync & Data:"})
	rootCmd.AddGroup(&cobra.Group{ID: "advanced", Title: "Integrations & Advanced:"})

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(connectorCmd)
	rootCmd.AddCommand(webhookCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// notifyContext builds a context cancelled on SIGINT/SIGTERM, the same
// signal-aware shutdown pattern the teacher's root command installs before
// running any subcommand that blocks.
func notifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
