// Package sync implements the sync engine (§4.I): the orchestrator that
// ties the connector registry, mapping engine, and conflict detector/
// resolver together into execute/preview passes over one sync configuration.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/syncmesh/syncmesh/internal/applog"
	"github.com/syncmesh/syncmesh/internal/conflict"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/mapping"
	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/types"
)

// Engine is the sync engine bound to a store, connector registry, mapping
// engine, and conflict detector/resolver. The registry is supplied by the
// caller; the mapping engine, detector and resolver it constructs for
// itself from the store, so callers only need one object per process.
type Engine struct {
	store    storage.Store
	registry *connector.Registry
	mapper   *mapping.Engine
	detector *conflict.Detector
	resolver *conflict.Resolver
	log      *applog.Logger
}

// New constructs an Engine. registry supplies connector instances; store
// backs the mapping engine, conflict detector, and resolver directly.
func New(store storage.Store, registry *connector.Registry) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		mapper:   mapping.New(store),
		detector: conflict.New(store),
		resolver: conflict.NewResolver(store),
		log:      applog.New("sync"),
	}
}

// Execute runs a real sync pass for cfg, persisting a SyncExecution row,
// identity-map updates, version snapshots, and conflict records.
func (e *Engine) Execute(ctx context.Context, cfg *types.SyncConfig, opts types.JobOptions, trigger types.ExecutionTrigger) (*types.ExecutionSummary, error) {
	return e.run(ctx, cfg, opts, trigger, false)
}

// Preview performs the unidirectional query+map steps as a dry run: no
// writes, no identity-map mutation, no execution row. Bidirectional configs
// preview their source->target leg only, since a dry run has no identity
// pairs to walk for the reverse leg beyond what source->target would create.
func (e *Engine) Preview(ctx context.Context, cfg *types.SyncConfig, opts types.JobOptions) (*types.ExecutionSummary, error) {
	opts.DryRun = true
	return e.run(ctx, cfg, opts, types.ExecTriggerManual, true)
}

func (e *Engine) run(ctx context.Context, cfg *types.SyncConfig, opts types.JobOptions, trigger types.ExecutionTrigger, preview bool) (*types.ExecutionSummary, error) {
	sourceConn, err := e.registry.Get(ctx, cfg.SourceConnectorID)
	if err != nil {
		return nil, fmt.Errorf("sync: resolve source connector: %w", err)
	}
	targetConn, err := e.registry.Get(ctx, cfg.TargetConnectorID)
	if err != nil {
		return nil, fmt.Errorf("sync: resolve target connector: %w", err)
	}
	if err := sourceConn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("sync: connect source connector %s: %w", cfg.SourceConnectorID, err)
	}
	if err := targetConn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("sync: connect target connector %s: %w", cfg.TargetConnectorID, err)
	}

	direction := opts.Direction
	if direction == "" {
		direction = cfg.Direction
	}
	dryRun := preview || opts.DryRun

	var exec *types.SyncExecution
	if !dryRun {
		exec = &types.SyncExecution{
			SyncConfigID: cfg.ID,
			Direction:    direction,
			Trigger:      trigger,
			Status:       types.ExecutionRunning,
			StartedAt:    time.Now().UTC(),
		}
		if err := e.store.CreateExecution(ctx, exec); err != nil {
			return nil, fmt.Errorf("sync: create execution: %w", err)
		}
	}

	summary, runErr := e.dispatch(ctx, cfg, sourceConn, targetConn, direction, opts, exec, dryRun)

	if dryRun {
		return summary, runErr
	}
	return summary, e.complete(ctx, cfg, exec, summary, runErr)
}

// dispatch routes to the unidirectional or bidirectional pass. A nil
// summary is never returned: even a failed pass returns whatever partial
// summary it accumulated so completion bookkeeping has counts to work with.
func (e *Engine) dispatch(ctx context.Context, cfg *types.SyncConfig, sourceConn, targetConn connector.Connector, direction types.Direction, opts types.JobOptions, exec *types.SyncExecution, dryRun bool) (*types.ExecutionSummary, error) {
	execID := ""
	if exec != nil {
		execID = exec.ID
	}

	switch direction {
	case types.DirectionSourceToTarget:
		return e.runUnidirectional(ctx, cfg, execID, sourceConn, targetConn, cfg.SourceConnectorID, cfg.TargetConnectorID, true, opts, dryRun)
	case types.DirectionTargetToSource:
		return e.runUnidirectional(ctx, cfg, execID, targetConn, sourceConn, cfg.TargetConnectorID, cfg.SourceConnectorID, false, opts, dryRun)
	case types.DirectionBidirectional:
		if dryRun {
			return e.runUnidirectional(ctx, cfg, execID, sourceConn, targetConn, cfg.SourceConnectorID, cfg.TargetConnectorID, true, opts, dryRun)
		}
		return e.runBidirectional(ctx, cfg, execID, sourceConn, targetConn)
	default:
		return &types.ExecutionSummary{}, fmt.Errorf("sync: unknown direction %q", direction)
	}
}

// complete applies §4.I's "Completion" rule: on a thrown error, mark the
// execution failed and record a top-level execution_failed error row; on
// success, roll up counts/status and advance the config's lastSyncAt.
func (e *Engine) complete(ctx context.Context, cfg *types.SyncConfig, exec *types.SyncExecution, summary *types.ExecutionSummary, runErr error) error {
	now := time.Now().UTC()
	exec.CompletedAt = &now

	if runErr != nil {
		exec.Status = types.ExecutionFailed
		exec.ErrorMessage = runErr.Error()
		exec.Logs = append(exec.Logs, e.logEntry("error", "execution failed: "+runErr.Error()))
		if updErr := e.store.UpdateExecution(ctx, exec); updErr != nil {
			e.log.Error(fmt.Sprintf("update failed execution %s: %v", exec.ID, updErr))
		}
		if appendErr := e.store.AppendSyncError(ctx, &types.SyncError{
			ExecutionID: exec.ID, ErrorType: "execution_failed", Message: runErr.Error(), CreatedAt: now,
		}); appendErr != nil {
			e.log.Error(fmt.Sprintf("record execution_failed error for %s: %v", exec.ID, appendErr))
		}
		return runErr
	}

	exec.ItemsCreated = summary.Created
	exec.ItemsUpdated = summary.Updated
	exec.ItemsSynced = summary.Created + summary.Updated
	exec.ItemsFailed = summary.Errors
	exec.ConflictsDetected = summary.ConflictsDetected
	exec.ConflictsResolved = summary.ConflictsResolved
	if summary.Errors > 0 {
		exec.Status = types.ExecutionCompletedWithErrors
	} else {
		exec.Status = types.ExecutionCompleted
	}
	exec.Logs = append(exec.Logs, e.logEntry("info", fmt.Sprintf(
		"execution completed: %d total, %d created, %d updated, %d errors, %d conflicts",
		summary.Total, summary.Created, summary.Updated, summary.Errors, summary.ConflictsDetected)))

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("sync: update execution %s: %w", exec.ID, err)
	}
	summary.ExecutionID = exec.ID

	snapshot := *cfg
	snapshot.LastSyncAt = &now
	if err := e.store.SetLastSyncAt(ctx, cfg.ID, snapshot); err != nil {
		e.log.Warn(fmt.Sprintf("set last_sync_at for config %s: %v", cfg.ID, err))
	}
	return nil
}

func (e *Engine) logEntry(level, message string) types.LogEntry {
	return types.LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message, Context: e.log.Fields()}
}

// ctxVars builds the $context.* substitution map transformations can draw
// on (§4.E); the sync config id is always available, drivers may contribute
// more via connector metadata in the future.
func ctxVars(cfg *types.SyncConfig) map[string]string {
	return map[string]string{"syncConfigId": cfg.ID}
}
