package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

// leg bundles one unidirectional pass's fixed parameters so per-item helpers
// don't need a dozen positional arguments.
type leg struct {
	cfg        *types.SyncConfig
	execID     string
	fromConn   connector.Connector
	toConn     connector.Connector
	fromConnID string
	toConnID   string
	// forward is true for source->target, false for target->source. The
	// identity map's SourceConnectorID/TargetConnectorID columns always
	// name the config's fixed source/target regardless of which way a
	// pass currently walks (§4.I).
	forward bool
}

// runUnidirectional implements §4.I's "Unidirectional pass": query, map,
// upsert by identity, optional comments/links, optional version capture.
func (e *Engine) runUnidirectional(ctx context.Context, cfg *types.SyncConfig, execID string, fromConn, toConn connector.Connector, fromConnID, toConnID string, forward bool, opts types.JobOptions, dryRun bool) (*types.ExecutionSummary, error) {
	lg := leg{cfg: cfg, execID: execID, fromConn: fromConn, toConn: toConn, fromConnID: fromConnID, toConnID: toConnID, forward: forward}

	items, err := e.resolveItems(ctx, lg, opts)
	if err != nil {
		return &types.ExecutionSummary{}, fmt.Errorf("sync: resolve items: %w", err)
	}

	summary := &types.ExecutionSummary{}
	for _, item := range items {
		if ctx.Err() != nil {
			e.log.Warn(fmt.Sprintf("execution %s cancelled after %d/%d items", execID, summary.Total, len(items)))
			return summary, synerr.ErrCancelled
		}
		outcome, err := e.processItem(ctx, lg, item, dryRun)
		summary.Total++
		if err != nil {
			summary.Errors++
			outcome = &types.ItemOutcome{SourceID: item.ID, SourceType: item.Type, Action: "error", Error: err.Error()}
			if !dryRun {
				if appendErr := e.store.AppendSyncError(ctx, &types.SyncError{
					ExecutionID: execID, ItemID: item.ID, ErrorType: "sync_failed", Message: err.Error(), CreatedAt: time.Now().UTC(),
				}); appendErr != nil {
					e.log.Error(fmt.Sprintf("record sync_failed error for %s: %v", item.ID, appendErr))
				}
			}
		} else {
			switch outcome.Action {
			case "create":
				summary.Created++
			case "update":
				summary.Updated++
			case "skip":
				summary.Skipped++
			}
		}
		summary.Items = append(summary.Items, *outcome)
	}

	if !dryRun {
		if err := e.promotePendingLinks(ctx, lg); err != nil {
			e.log.Warn(fmt.Sprintf("promote pending links for %s: %v", cfg.ID, err))
		}
	}
	return summary, nil
}

// resolveItems implements §4.I step 1: explicit ids, else the config's
// syncFilter, else a default filter synthesized from active type mappings.
func (e *Engine) resolveItems(ctx context.Context, lg leg, opts types.JobOptions) ([]connector.WorkItem, error) {
	if len(opts.WorkItemIDs) > 0 {
		items := make([]connector.WorkItem, 0, len(opts.WorkItemIDs))
		for _, id := range opts.WorkItemIDs {
			item, err := lg.fromConn.GetWorkItem(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("get work item %s: %w", id, err)
			}
			items = append(items, *item)
		}
		return items, nil
	}

	filter := lg.cfg.SyncFilter
	if filter == "" {
		var err error
		filter, err = e.defaultFilter(ctx, lg)
		if err != nil {
			return nil, err
		}
	}
	return lg.fromConn.QueryWorkItems(ctx, filter)
}

// defaultFilter synthesizes a query scoped to the active type mappings'
// from-side type names. Drivers that need further scoping (e.g. a project)
// must inject it themselves from connector.Config.Endpoint.
func (e *Engine) defaultFilter(ctx context.Context, lg leg) (string, error) {
	set, err := e.mapper.LoadMappings(ctx, lg.cfg.ID)
	if err != nil {
		return "", err
	}
	var typeNames []string
	for _, tm := range set.Types {
		if !tm.Active {
			continue
		}
		typeID := tm.SourceTypeID
		if !lg.forward {
			typeID = tm.TargetTypeID
		}
		wt, err := e.store.GetWorkItemTypeByID(ctx, typeID)
		if err != nil {
			continue
		}
		typeNames = append(typeNames, wt.TypeName)
	}
	encoded, err := json.Marshal(map[string][]string{"types": typeNames})
	if err != nil {
		return "", fmt.Errorf("encode default filter: %w", err)
	}
	return string(encoded), nil
}

// processItem implements §4.I steps 3a-3g for one item.
func (e *Engine) processItem(ctx context.Context, lg leg, fromItem connector.WorkItem, dryRun bool) (*types.ItemOutcome, error) {
	mappedType, mappedFields, err := e.mapForLeg(ctx, lg, fromItem)
	if err != nil {
		return nil, fmt.Errorf("map item %s: %w", fromItem.ID, err)
	}

	outcome := &types.ItemOutcome{SourceID: fromItem.ID, SourceType: fromItem.Type, MappedFields: mappedFields}
	if v, ok := fromItem.Fields[connector.RefTitle]; ok {
		outcome.Title = fmt.Sprintf("%v", v)
	}
	if v, ok := fromItem.Fields[connector.RefState]; ok {
		outcome.State = fmt.Sprintf("%v", v)
	}
	if v, ok := fromItem.Fields[connector.RefAssignee]; ok {
		outcome.AssignedTo = fmt.Sprintf("%v", v)
	}

	identity, found, err := e.findIdentity(ctx, lg, fromItem.ID)
	if err != nil {
		return nil, fmt.Errorf("load identity for %s: %w", fromItem.ID, err)
	}

	if dryRun {
		if found {
			outcome.Action = "update"
			outcome.TargetID = e.toItemID(lg, identity)
			ls := identity.LastSyncedAt
			outcome.LastSyncedAt = &ls
			outcome.SyncCount = identity.SyncCount
		} else {
			outcome.Action = "create"
		}
		return outcome, nil
	}

	if found {
		if _, err := lg.toConn.UpdateWorkItem(ctx, e.toItemID(lg, identity), mappedFields); err != nil {
			return nil, fmt.Errorf("update target %s: %w", e.toItemID(lg, identity), err)
		}
		identity.SyncCount++
		identity.LastSyncedAt = time.Now().UTC()
		if err := e.store.UpsertSyncedItem(ctx, identity); err != nil {
			return nil, fmt.Errorf("update identity for %s: %w", fromItem.ID, err)
		}
		outcome.Action = "update"
	} else {
		typ := mappedType
		if typ == "" {
			typ = "Task"
		}
		created, err := lg.toConn.CreateWorkItem(ctx, typ, mappedFields)
		if err != nil {
			return nil, fmt.Errorf("create on target: %w", err)
		}
		now := time.Now().UTC()
		identity = e.newIdentity(lg, fromItem, *created, now)
		if err := e.store.UpsertSyncedItem(ctx, identity); err != nil {
			return nil, fmt.Errorf("save identity for %s: %w", fromItem.ID, err)
		}
		outcome.Action = "create"
	}

	outcome.TargetID = e.toItemID(lg, identity)
	ls := identity.LastSyncedAt
	outcome.LastSyncedAt = &ls
	outcome.SyncCount = identity.SyncCount

	if lg.cfg.Options.SyncComments {
		if err := e.syncComments(ctx, lg, identity); err != nil {
			e.log.Warn(fmt.Sprintf("sync comments for %s: %v", fromItem.ID, err))
		}
	}
	if lg.cfg.Options.SyncLinks {
		if err := e.syncLinks(ctx, lg, identity); err != nil {
			e.log.Warn(fmt.Sprintf("sync links for %s: %v", fromItem.ID, err))
		}
	}
	if lg.cfg.TrackVersions {
		if _, err := e.detector.CaptureVersion(ctx, lg.cfg.ID, lg.fromConnID, fromItem, lg.execID); err != nil {
			e.log.Warn(fmt.Sprintf("capture version for %s: %v", fromItem.ID, err))
		}
	}

	return outcome, nil
}

// mapForLeg applies §4.F in whichever direction the leg runs.
func (e *Engine) mapForLeg(ctx context.Context, lg leg, fromItem connector.WorkItem) (string, map[string]interface{}, error) {
	if lg.forward {
		mapped, err := e.mapper.MapWorkItem(ctx, fromItem, lg.cfg.ID, ctxVars(lg.cfg))
		if err != nil {
			return "", nil, err
		}
		fields := mapped.Fields
		if mapped.Status != "" {
			if fields == nil {
				fields = map[string]interface{}{}
			}
			fields[connector.RefState] = mapped.Status
		}
		return mapped.Type, fields, nil
	}

	fields, err := e.mapper.ReverseMapFields(ctx, fromItem, lg.cfg.ID, ctxVars(lg.cfg))
	if err != nil {
		return "", nil, err
	}
	typ, err := e.mapper.ReverseMapType(ctx, lg.cfg.ID, fromItem.Type)
	if err != nil {
		return "", nil, err
	}
	return typ, fields, nil
}

// findIdentity looks up the SyncedItem pairing fromItem.ID, regardless of
// which side the leg currently walks from.
func (e *Engine) findIdentity(ctx context.Context, lg leg, fromItemID string) (*types.SyncedItem, bool, error) {
	if lg.forward {
		it, err := e.store.GetSyncedItemBySource(ctx, lg.cfg.ID, lg.cfg.SourceConnectorID, fromItemID)
		if err != nil {
			if isNotFound(err) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return it, true, nil
	}

	items, err := e.store.ListSyncedItems(ctx, lg.cfg.ID)
	if err != nil {
		return nil, false, err
	}
	for _, it := range items {
		if it.TargetItemID == fromItemID {
			return it, true, nil
		}
	}
	return nil, false, nil
}

func (e *Engine) toItemID(lg leg, identity *types.SyncedItem) string {
	if lg.forward {
		return identity.TargetItemID
	}
	return identity.SourceItemID
}

func (e *Engine) newIdentity(lg leg, fromItem, toItem connector.WorkItem, now time.Time) *types.SyncedItem {
	it := &types.SyncedItem{
		SyncConfigID:      lg.cfg.ID,
		SourceConnectorID: lg.cfg.SourceConnectorID,
		TargetConnectorID: lg.cfg.TargetConnectorID,
		FirstSyncedAt:     now,
		LastSyncedAt:      now,
		SyncCount:         1,
		Status:            types.SyncedItemSynced,
	}
	if lg.forward {
		it.SourceItemID, it.SourceItemType = fromItem.ID, fromItem.Type
		it.TargetItemID, it.TargetItemType = toItem.ID, toItem.Type
	} else {
		it.TargetItemID, it.TargetItemType = fromItem.ID, fromItem.Type
		it.SourceItemID, it.SourceItemType = toItem.ID, toItem.Type
	}
	return it
}

// syncComments implements §4.I.d: diff the from-side's comments against
// SyncedComment by sourceCommentId and mirror any missing ones, wrapped in
// the synthetic preamble.
func (e *Engine) syncComments(ctx context.Context, lg leg, identity *types.SyncedItem) error {
	if !lg.fromConn.Capabilities().Comments || !lg.toConn.Capabilities().Comments {
		return nil
	}
	comments, err := lg.fromConn.GetComments(ctx, e.fromItemID(lg, identity))
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	for _, c := range comments {
		_, err := e.store.GetSyncedCommentBySource(ctx, identity.ID, c.ID)
		if err == nil {
			continue // already mirrored
		}
		if !isNotFound(err) {
			return err
		}

		text := fmt.Sprintf("[Synced from source]\n%s\n\n--- %s (%s)", c.Text, c.Author, c.CreatedAt.Format(time.RFC3339))
		mirrored, err := lg.toConn.AddComment(ctx, e.toItemID(lg, identity), text)
		if err != nil {
			return fmt.Errorf("mirror comment %s: %w", c.ID, err)
		}
		if err := e.store.UpsertSyncedComment(ctx, &types.SyncedComment{
			SyncedItemID: identity.ID, SourceCommentID: c.ID, TargetCommentID: mirrored.ID,
			Status: types.SyncedItemSynced, SyncedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("record synced comment %s: %w", c.ID, err)
		}
	}
	return nil
}

// syncLinks implements §4.I.e: mirror from-side relations whose counterpart
// already has a target identity; record the rest as pending for later
// promotion.
func (e *Engine) syncLinks(ctx context.Context, lg leg, identity *types.SyncedItem) error {
	if !lg.fromConn.Capabilities().Links || !lg.toConn.Capabilities().Links {
		return nil
	}
	relations, err := lg.fromConn.GetWorkItemRelations(ctx, e.fromItemID(lg, identity))
	if err != nil {
		return fmt.Errorf("list relations: %w", err)
	}
	for _, rel := range relations {
		existing, err := e.store.GetSyncedLinkBySource(ctx, identity.ID, rel.LinkedWorkItemID)
		if err == nil && existing.Status == types.SyncedItemSynced {
			continue
		}
		if err != nil && !isNotFound(err) {
			return err
		}

		counterpart, foundCounterpart, err := e.findIdentity(ctx, lg, rel.LinkedWorkItemID)
		if err != nil {
			return err
		}

		link := &types.SyncedLink{SyncedItemID: identity.ID, SourceLinkedItemID: rel.LinkedWorkItemID, RelationKind: rel.RelationKind, SyncedAt: time.Now().UTC()}
		if foundCounterpart {
			targetLinkedID := e.toItemID(lg, counterpart)
			if err := lg.toConn.AddWorkItemRelation(ctx, e.toItemID(lg, identity), connector.Relation{LinkedWorkItemID: targetLinkedID, RelationKind: rel.RelationKind}); err != nil {
				return fmt.Errorf("mirror relation to %s: %w", rel.LinkedWorkItemID, err)
			}
			link.TargetLinkedItemID = targetLinkedID
			link.Status = types.SyncedItemSynced
		} else {
			link.Status = types.SyncedItemPending
		}
		if err := e.store.UpsertSyncedLink(ctx, link); err != nil {
			return fmt.Errorf("record synced link %s: %w", rel.LinkedWorkItemID, err)
		}
	}
	return nil
}

// promotePendingLinks re-examines every pending link for the config and
// mirrors it once its counterpart now has a target identity (§4.I.e, §9).
func (e *Engine) promotePendingLinks(ctx context.Context, lg leg) error {
	pending, err := e.store.ListPendingLinks(ctx, lg.cfg.ID)
	if err != nil {
		return fmt.Errorf("list pending links: %w", err)
	}
	for _, link := range pending {
		items, err := e.store.ListSyncedItems(ctx, lg.cfg.ID)
		if err != nil {
			return err
		}
		var owner *types.SyncedItem
		for _, it := range items {
			if it.ID == link.SyncedItemID {
				cp := *it
				owner = &cp
				break
			}
		}
		if owner == nil {
			continue
		}

		counterpart, foundCounterpart, err := e.findIdentity(ctx, lg, link.SourceLinkedItemID)
		if err != nil || !foundCounterpart {
			continue
		}

		targetLinkedID := e.toItemID(lg, counterpart)
		if err := lg.toConn.AddWorkItemRelation(ctx, e.toItemID(lg, owner), connector.Relation{LinkedWorkItemID: targetLinkedID, RelationKind: link.RelationKind}); err != nil {
			e.log.Warn(fmt.Sprintf("promote pending link %s: %v", link.ID, err))
			continue
		}
		link.TargetLinkedItemID = targetLinkedID
		link.Status = types.SyncedItemSynced
		link.SyncedAt = time.Now().UTC()
		if err := e.store.UpsertSyncedLink(ctx, link); err != nil {
			return fmt.Errorf("promote link %s: %w", link.ID, err)
		}
	}
	return nil
}

func (e *Engine) fromItemID(lg leg, identity *types.SyncedItem) string {
	if lg.forward {
		return identity.SourceItemID
	}
	return identity.TargetItemID
}

func isNotFound(err error) bool {
	return errors.Is(err, synerr.ErrNotFound)
}
