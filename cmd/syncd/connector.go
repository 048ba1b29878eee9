package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncmesh/syncmesh/internal/config"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/crypto"
	"github.com/syncmesh/syncmesh/internal/storage/dolt"
)

var connectorCmd = &cobra.Command{
	Use:     "connector",
	GroupID: "advanced",
	Short:   "Inspect and test registered connectors",
}

var connectorTestCmd = &cobra.Command{
	Use:   "test <connectorId>",
	Short: "Test connectivity and credentials for a connector (§4.D)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectorTest,
}

func init() {
	connectorTestCmd.Flags().String("dolt-path", "", "Path to the embedded Dolt database directory")
	connectorCmd.AddCommand(connectorTestCmd)
}

func runConnectorTest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	doltPath, _ := cmd.Flags().GetString("dolt-path")
	if doltPath == "" {
		doltPath = cfg.DatabaseDSN
	}
	store, err := dolt.Open(cmd.Context(), dolt.Config{Path: doltPath})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	vault, err := crypto.New(cfg.ProcessSecret)
	if err != nil {
		return fmt.Errorf("init crypto vault: %w", err)
	}

	registry := connector.NewRegistry(store, vault)
	conn, err := registry.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("load connector %s: %w", args[0], err)
	}

	result, err := conn.TestConnection(cmd.Context())
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	status := "FAIL"
	if result.Success {
		status = "OK"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", status, result.Message)
	return nil
}
