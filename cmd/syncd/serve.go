package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/syncmesh/syncmesh/internal/applog"
	"github.com/syncmesh/syncmesh/internal/config"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/crypto"
	"github.com/syncmesh/syncmesh/internal/queue"
	"github.com/syncmesh/syncmesh/internal/scheduler"
	"github.com/syncmesh/syncmesh/internal/storage/dolt"
	syncengine "github.com/syncmesh/syncmesh/internal/sync"
	"github.com/syncmesh/syncmesh/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "core",
	Short:   "Run the sync daemon: queue workers, cron scheduler, and webhook intake",
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().String("dolt-path", "", "Path to the embedded Dolt database directory (overrides syncmesh.toml database_dsn)")
}

// runServe implements §5's process lifecycle: open the store, construct
// the registries and engine, start the job queue workers, start the
// scheduler, start the webhook server, then wait for a shutdown signal and
// tear everything down (scheduler first, then queue drains with a bounded
// grace period, then the webhook server shuts down, then the store closes).
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := notifyContext()
	defer cancel()

	doltPath, _ := cmd.Flags().GetString("dolt-path")
	if doltPath == "" {
		doltPath = cfg.DatabaseDSN
	}
	store, err := dolt.Open(ctx, dolt.Config{Path: doltPath})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	vault, err := crypto.New(cfg.ProcessSecret)
	if err != nil {
		return fmt.Errorf("init crypto vault: %w", err)
	}

	registry := connector.NewRegistry(store, vault)
	engine := syncengine.New(store, registry)

	q := queue.New(store, engine, cfg.WorkerCount, cfg.MaxQueueLength)
	q.Start(ctx)

	sched := scheduler.New(store, q)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := webhook.NewServer(webhook.ServerConfig{Store: store, Queue: q})

	// liveCfg tracks the most recently reloaded config so shutdown picks up
	// an edited shutdown_grace without a restart; fields that size fixed
	// infrastructure (worker_count, webhook_addr) need a restart to apply,
	// same as the teacher's own file watchers only ever refresh what the
	// in-memory view they back can change live.
	var liveCfg atomic.Pointer[config.Config]
	liveCfg.Store(cfg)
	watchLog := applog.New("config")
	watcher, err := config.WatchFile(configPath, func(next *config.Config) {
		prev := liveCfg.Swap(next)
		if next.WorkerCount != prev.WorkerCount || next.WebhookAddr != prev.WebhookAddr || next.MaxQueueLength != prev.MaxQueueLength {
			watchLog.Warn("worker_count, max_queue_length, and webhook_addr changes require a restart to take effect")
		}
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()
	serveErrCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.WebhookAddr); err != nil {
			serveErrCh <- err
		}
	}()
	fmt.Printf("syncd listening on %s (workers=%d)\n", cfg.WebhookAddr, cfg.WorkerCount)

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "webhook server error: %v\n", err)
		}
	}

	fmt.Println("shutting down...")
	grace := liveCfg.Load().ShutdownGrace
	sched.Stop()
	q.Stop(grace)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
	defer stopCancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "webhook shutdown error: %v\n", err)
	}

	return nil
}
