package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncmesh/syncmesh/internal/config"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/crypto"
	"github.com/syncmesh/syncmesh/internal/storage/dolt"
	syncengine "github.com/syncmesh/syncmesh/internal/sync"
	"github.com/syncmesh/syncmesh/internal/types"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run or preview a sync configuration",
}

var syncRunCmd = &cobra.Command{
	Use:   "run <configId>",
	Short: "Execute a sync configuration immediately (§4.I, bypassing the job queue)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncRun,
}

var syncPreviewCmd = &cobra.Command{
	Use:   "preview <configId>",
	Short: "Preview a sync configuration without writing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncPreview,
}

func init() {
	for _, c := range []*cobra.Command{syncRunCmd, syncPreviewCmd} {
		c.Flags().StringSlice("work-item-ids", nil, "Restrict the execution to these source work item ids")
		c.Flags().String("direction", "", "Override the config's configured direction for this run")
	}
	syncCmd.AddCommand(syncRunCmd, syncPreviewCmd)
}

func jobOptionsFromFlags(cmd *cobra.Command) types.JobOptions {
	ids, _ := cmd.Flags().GetStringSlice("work-item-ids")
	dir, _ := cmd.Flags().GetString("direction")
	return types.JobOptions{WorkItemIDs: ids, Direction: types.Direction(dir)}
}

func openEngine(cmd *cobra.Command) (*syncengine.Engine, *dolt.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	doltPath, _ := cmd.Flags().GetString("dolt-path")
	if doltPath == "" {
		doltPath = cfg.DatabaseDSN
	}
	store, err := dolt.Open(cmd.Context(), dolt.Config{Path: doltPath})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	vault, err := crypto.New(cfg.ProcessSecret)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("init crypto vault: %w", err)
	}
	registry := connector.NewRegistry(store, vault)
	engine := syncengine.New(store, registry)
	return engine, store, func() { _ = store.Close() }, nil
}

func printSummary(cmd *cobra.Command, summary *types.ExecutionSummary) {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "execution %s: total=%d created=%d updated=%d skipped=%d conflicts=%d/%d errors=%d\n",
		summary.ExecutionID, summary.Total, summary.Created, summary.Updated, summary.Skipped,
		summary.ConflictsResolved, summary.ConflictsDetected, summary.Errors)
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	engine, store, closeFn, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg, err := store.GetSyncConfig(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("load sync config %s: %w", args[0], err)
	}

	summary, err := engine.Execute(cmd.Context(), cfg, jobOptionsFromFlags(cmd), types.ExecTriggerManual)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	printSummary(cmd, summary)
	return nil
}

func runSyncPreview(cmd *cobra.Command, args []string) error {
	engine, store, closeFn, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg, err := store.GetSyncConfig(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("load sync config %s: %w", args[0], err)
	}

	summary, err := engine.Preview(cmd.Context(), cfg, jobOptionsFromFlags(cmd))
	if err != nil {
		return fmt.Errorf("preview: %w", err)
	}
	printSummary(cmd, summary)
	return nil
}
