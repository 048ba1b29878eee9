package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syncmesh/syncmesh/internal/conflict"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

// runBidirectional implements §4.I's "Bidirectional pass": it iterates
// every SyncedItem pair, classifies which side(s) changed, and resolves
// conflicts when both did.
func (e *Engine) runBidirectional(ctx context.Context, cfg *types.SyncConfig, execID string, sourceConn, targetConn connector.Connector) (*types.ExecutionSummary, error) {
	pairs, err := e.store.ListSyncedItems(ctx, cfg.ID)
	if err != nil {
		return &types.ExecutionSummary{}, fmt.Errorf("sync: list synced items: %w", err)
	}

	summary := &types.ExecutionSummary{}
	for _, identity := range pairs {
		if ctx.Err() != nil {
			e.log.Warn(fmt.Sprintf("execution %s cancelled after %d/%d pairs", execID, summary.Total, len(pairs)))
			return summary, synerr.ErrCancelled
		}
		summary.Total++
		outcome, err := e.processPair(ctx, cfg, execID, sourceConn, targetConn, identity, summary)
		if err != nil {
			summary.Errors++
			outcome = &types.ItemOutcome{SourceID: identity.SourceItemID, SourceType: identity.SourceItemType, Action: "error", Error: err.Error()}
			if appendErr := e.store.AppendSyncError(ctx, &types.SyncError{
				ExecutionID: execID, ItemID: identity.SourceItemID, ErrorType: "sync_failed", Message: err.Error(), CreatedAt: time.Now().UTC(),
			}); appendErr != nil {
				e.log.Error(fmt.Sprintf("record sync_failed error for %s: %v", identity.SourceItemID, appendErr))
			}
		}
		summary.Items = append(summary.Items, *outcome)
	}

	fwd := leg{cfg: cfg, execID: execID, fromConn: sourceConn, toConn: targetConn, fromConnID: cfg.SourceConnectorID, toConnID: cfg.TargetConnectorID, forward: true}
	if err := e.promotePendingLinks(ctx, fwd); err != nil {
		e.log.Warn(fmt.Sprintf("promote pending links for %s: %v", cfg.ID, err))
	}
	return summary, nil
}

// processPair fetches both sides of one identity pair, classifies change,
// and applies the matching §4.I bidirectional-pass case.
func (e *Engine) processPair(ctx context.Context, cfg *types.SyncConfig, execID string, sourceConn, targetConn connector.Connector, identity *types.SyncedItem, summary *types.ExecutionSummary) (*types.ItemOutcome, error) {
	sourceItem, srcErr := sourceConn.GetWorkItem(ctx, identity.SourceItemID)
	if srcErr != nil {
		return e.handleMissingItem(ctx, cfg, execID, identity, identity.SourceConnectorID, identity.SourceItemID, identity.TargetItemID, identity.SourceItemType, summary, srcErr)
	}
	targetItem, tgtErr := targetConn.GetWorkItem(ctx, identity.TargetItemID)
	if tgtErr != nil {
		return e.handleMissingItem(ctx, cfg, execID, identity, identity.TargetConnectorID, identity.TargetItemID, identity.SourceItemID, identity.TargetItemType, summary, tgtErr)
	}

	sourceChange, err := e.detector.HasChanged(ctx, cfg.ID, cfg.SourceConnectorID, identity.SourceItemID, sourceItem.Fields)
	if err != nil {
		return nil, fmt.Errorf("check source change: %w", err)
	}
	targetChange, err := e.detector.HasChanged(ctx, cfg.ID, cfg.TargetConnectorID, identity.TargetItemID, targetItem.Fields)
	if err != nil {
		return nil, fmt.Errorf("check target change: %w", err)
	}

	outcome := &types.ItemOutcome{SourceID: sourceItem.ID, SourceType: sourceItem.Type, TargetID: targetItem.ID}
	if v, ok := sourceItem.Fields[connector.RefTitle]; ok {
		outcome.Title = fmt.Sprintf("%v", v)
	}

	switch {
	case !sourceChange.Changed && !targetChange.Changed:
		outcome.Action = "skip"
		summary.Skipped++

	case sourceChange.Changed && !targetChange.Changed:
		lg := leg{cfg: cfg, execID: execID, fromConn: sourceConn, toConn: targetConn, fromConnID: cfg.SourceConnectorID, toConnID: cfg.TargetConnectorID, forward: true}
		_, mappedFields, err := e.mapForLeg(ctx, lg, *sourceItem)
		if err != nil {
			return nil, fmt.Errorf("map source->target: %w", err)
		}
		if _, err := targetConn.UpdateWorkItem(ctx, identity.TargetItemID, mappedFields); err != nil {
			return nil, fmt.Errorf("update target from source: %w", err)
		}
		outcome.Action = "source-to-target"
		summary.Updated++

	case !sourceChange.Changed && targetChange.Changed:
		lg := leg{cfg: cfg, execID: execID, fromConn: targetConn, toConn: sourceConn, fromConnID: cfg.TargetConnectorID, toConnID: cfg.SourceConnectorID, forward: false}
		_, mappedFields, err := e.mapForLeg(ctx, lg, *targetItem)
		if err != nil {
			return nil, fmt.Errorf("map target->source: %w", err)
		}
		if _, err := sourceConn.UpdateWorkItem(ctx, identity.SourceItemID, mappedFields); err != nil {
			return nil, fmt.Errorf("update source from target: %w", err)
		}
		outcome.Action = "target-to-source"
		summary.Updated++

	default: // both changed
		if err := e.resolveBothChanged(ctx, cfg, execID, sourceConn, targetConn, identity, *sourceItem, *targetItem, sourceChange, targetChange, summary); err != nil {
			return nil, err
		}
		outcome.Action = "conflict"
	}

	if cfg.TrackVersions {
		if sourceChange.Changed {
			if _, err := e.detector.CaptureVersion(ctx, cfg.ID, cfg.SourceConnectorID, *sourceItem, execID); err != nil {
				e.log.Warn(fmt.Sprintf("capture source version for %s: %v", sourceItem.ID, err))
			}
		}
		if targetChange.Changed {
			if _, err := e.detector.CaptureVersion(ctx, cfg.ID, cfg.TargetConnectorID, *targetItem, execID); err != nil {
				e.log.Warn(fmt.Sprintf("capture target version for %s: %v", targetItem.ID, err))
			}
		}
	}

	return outcome, nil
}

// resolveBothChanged implements §4.I's "Both changed" case: detect field
// and version conflicts, persist them, then resolve and apply each.
func (e *Engine) resolveBothChanged(ctx context.Context, cfg *types.SyncConfig, execID string, sourceConn, targetConn connector.Connector, identity *types.SyncedItem, sourceItem, targetItem connector.WorkItem, sourceChange, targetChange *conflict.ChangeResult, summary *types.ExecutionSummary) error {
	pairs, err := e.mapper.FieldRefPairs(ctx, cfg.ID, sourceItem.Type)
	if err != nil {
		return fmt.Errorf("resolve field pairs: %w", err)
	}
	fieldPairs := make([]conflict.FieldPair, len(pairs))
	for i, p := range pairs {
		fieldPairs[i] = conflict.FieldPair{FieldMappingID: p.FieldMappingID, SourceRef: p.SourceRef, TargetRef: p.TargetRef}
	}

	sourceBase := snapshotFields(sourceChange.PreviousVersion)
	targetBase := snapshotFields(targetChange.PreviousVersion)

	conflicts := e.detector.DetectFieldConflicts(sourceItem, targetItem, fieldPairs, sourceBase, targetBase)

	srcChangedAt := changedDateOf(sourceItem)
	tgtChangedAt := changedDateOf(targetItem)
	for _, c := range conflicts {
		meta := map[string]string{}
		if srcChangedAt != nil {
			meta["sourceChangedDate"] = srcChangedAt.Format(time.RFC3339)
		}
		if tgtChangedAt != nil {
			meta["targetChangedDate"] = tgtChangedAt.Format(time.RFC3339)
		}
		c.Metadata = meta
	}

	if vc := e.detector.DetectVersionConflict(sourceChange.PreviousVersion, targetChange.PreviousVersion,
		srcChangedAt, tgtChangedAt, conflicts); vc != nil {
		conflicts = append(conflicts, vc)
	}

	if err := e.detector.SaveConflicts(ctx, cfg.ID, execID, identity.SourceItemID, identity.TargetItemID, sourceItem.Type, conflicts); err != nil {
		return fmt.Errorf("save conflicts: %w", err)
	}
	summary.ConflictsDetected += len(conflicts)

	for _, c := range conflicts {
		c.TargetWorkItemID = identity.TargetItemID
		c.SourceWorkItemID = identity.SourceItemID
		res, err := e.resolver.Resolve(ctx, c, cfg, "", "system")
		if err != nil {
			var manual *synerr.ConflictRequiresManual
			if errors.As(err, &manual) {
				continue // left unresolved for a human, not an execution error (§7)
			}
			return fmt.Errorf("resolve conflict %s: %w", c.ID, err)
		}
		if c.FieldName != "" {
			if err := e.resolver.ApplyResolution(ctx, c, res, cfg, sourceConn, targetConn); err != nil {
				return fmt.Errorf("apply resolution for conflict %s: %w", c.ID, err)
			}
		}
		summary.ConflictsResolved++
	}
	return nil
}

// handleMissingItem implements §4.G's deletion-conflict path for the
// bidirectional pass: a side that can no longer be fetched either never
// existed (propagate the error) or was deleted after a prior version was
// captured (record a deletion_conflict and skip, not an execution error).
func (e *Engine) handleMissingItem(ctx context.Context, cfg *types.SyncConfig, execID string, identity *types.SyncedItem, connectorID, workItemID, counterpartID, workItemType string, summary *types.ExecutionSummary, getErr error) (*types.ItemOutcome, error) {
	c, err := e.detector.DetectDeletion(ctx, cfg.ID, connectorID, workItemID, execID)
	if err != nil {
		return nil, fmt.Errorf("detect deletion for %s: %w", workItemID, err)
	}
	if c == nil {
		return nil, fmt.Errorf("fetch %s: %w", workItemID, getErr)
	}

	c.SourceWorkItemID = identity.SourceItemID
	c.TargetWorkItemID = identity.TargetItemID
	c.WorkItemType = workItemType
	if err := e.detector.SaveConflicts(ctx, cfg.ID, execID, identity.SourceItemID, identity.TargetItemID, workItemType, []*types.SyncConflict{c}); err != nil {
		return nil, fmt.Errorf("save deletion conflict: %w", err)
	}
	summary.ConflictsDetected++
	return &types.ItemOutcome{SourceID: identity.SourceItemID, SourceType: identity.SourceItemType, TargetID: identity.TargetItemID, Action: "conflict"}, nil
}

func snapshotFields(v *types.WorkItemVersion) map[string]interface{} {
	out := map[string]interface{}{}
	if v == nil || v.FieldsSnapshot == "" {
		return out
	}
	_ = json.Unmarshal([]byte(v.FieldsSnapshot), &out)
	return out
}

func changedDateOf(item connector.WorkItem) *time.Time {
	raw, ok := item.Fields[connector.RefChangedDate]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case time.Time:
		return &v
	case string:
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return &t
			}
		}
	}
	return nil
}
