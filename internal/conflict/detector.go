// Package conflict implements the conflict detector and resolver (§4.G,
// §4.H): version snapshots, change detection, field-level conflict
// identification, and strategy-based resolution.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syncmesh/syncmesh/internal/applog"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

// Side identifies which connector a version/conflict value belongs to.
type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// Detector maintains versions and computes changes without relying on
// remote clocks being trustworthy (§9 "version store as authoritative base").
type Detector struct {
	store storage.Store
	log   *applog.Logger
}

// New constructs a Detector backed by store.
func New(store storage.Store) *Detector {
	return &Detector{store: store, log: applog.New("conflict")}
}

// ChangeResult is the outcome of HasChanged.
type ChangeResult struct {
	Changed         bool
	IsNew           bool
	PreviousVersion *types.WorkItemVersion
}

// CaptureVersion stores a content snapshot of item's fields, assigning the
// next monotonic version number for (configID, connectorID, item.ID).
// changedDate/changedBy are read best-effort from the canonical
// changedDate/assignee fields; their absence is tolerated (§4.G).
func (d *Detector) CaptureVersion(ctx context.Context, configID, connectorID string, item connector.WorkItem, execID string) (*types.WorkItemVersion, error) {
	snapshot, err := Serialize(item.Fields)
	if err != nil {
		return nil, fmt.Errorf("conflict: serialize fields for %s: %w", item.ID, err)
	}

	v := &types.WorkItemVersion{
		SyncConfigID:   configID,
		ConnectorID:    connectorID,
		WorkItemID:     item.ID,
		Revision:       item.Rev,
		FieldsSnapshot: snapshot,
		Hash:           Hash(snapshot),
		ExecutionID:    execID,
		CapturedAt:     time.Now().UTC(),
	}
	if cd, ok := item.Fields[connector.RefChangedDate]; ok {
		if t, ok := parseTime(cd); ok {
			v.ChangedDate = &t
		}
	}
	if who, ok := item.Fields[connector.RefAssignee]; ok {
		v.ChangedBy = fmt.Sprintf("%v", who)
	}

	if err := d.store.AppendVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("conflict: append version for %s: %w", item.ID, err)
	}
	return v, nil
}

// HasChanged compares currentFields' content hash to the latest stored
// snapshot for (configID, connectorID, workItemID).
func (d *Detector) HasChanged(ctx context.Context, configID, connectorID, workItemID string, currentFields map[string]interface{}) (*ChangeResult, error) {
	prev, err := d.store.LatestVersion(ctx, configID, connectorID, workItemID)
	if errors.Is(err, synerr.ErrNotFound) {
		return &ChangeResult{Changed: true, IsNew: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conflict: load latest version for %s: %w", workItemID, err)
	}

	hash, err := HashFields(currentFields)
	if err != nil {
		return nil, fmt.Errorf("conflict: hash current fields for %s: %w", workItemID, err)
	}
	return &ChangeResult{Changed: hash != prev.Hash, PreviousVersion: prev}, nil
}

// DetectDeletion reports a deletion_conflict when a prior version exists
// for (configID, connectorID, workItemID) but the item could no longer be
// fetched from the remote system (§4.G).
func (d *Detector) DetectDeletion(ctx context.Context, configID, connectorID, workItemID, execID string) (*types.SyncConflict, error) {
	prev, err := d.store.LatestVersion(ctx, configID, connectorID, workItemID)
	if errors.Is(err, synerr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conflict: load latest version for %s: %w", workItemID, err)
	}
	return &types.SyncConflict{
		SyncConfigID:     configID,
		ExecutionID:      execID,
		SourceWorkItemID: workItemID,
		ConflictKind:     types.ConflictDeletion,
		Status:           types.ConflictUnresolved,
		DetectedAt:       time.Now().UTC(),
		Metadata:         map[string]string{"previousVersion": fmt.Sprintf("%d", prev.Version)},
	}, nil
}

// FieldPair describes one field mapping's canonical reference names on
// each side, resolved ahead of time by the caller (normally the sync
// engine, via the mapping engine's storage lookups).
type FieldPair struct {
	FieldMappingID string
	SourceRef      string
	TargetRef      string
}

// DetectFieldConflicts compares sourceItem/targetItem against their last
// captured base snapshots for each field pair, emitting a field_conflict
// iff both sides changed from base AND the current values disagree (§4.G,
// §8 "conflict locality" — no conflict for a field unchanged on one side).
func (d *Detector) DetectFieldConflicts(sourceItem, targetItem connector.WorkItem, pairs []FieldPair, sourceBase, targetBase map[string]interface{}) []*types.SyncConflict {
	var out []*types.SyncConflict
	for _, p := range pairs {
		srcCur, srcOK := sourceItem.Fields[p.SourceRef]
		tgtCur, tgtOK := targetItem.Fields[p.TargetRef]
		srcBase, srcBaseOK := sourceBase[p.SourceRef]
		tgtBase, tgtBaseOK := targetBase[p.TargetRef]

		sourceChanged := srcOK != srcBaseOK || !valuesEqual(srcCur, srcBase)
		targetChanged := tgtOK != tgtBaseOK || !valuesEqual(tgtCur, tgtBase)

		if !sourceChanged || !targetChanged {
			continue
		}
		if valuesEqual(srcCur, tgtCur) {
			continue
		}

		out = append(out, &types.SyncConflict{
			ConflictKind: types.ConflictField,
			FieldName:    p.SourceRef,
			SourceValue:  srcCur,
			TargetValue:  tgtCur,
			BaseValue:    srcBase,
			Status:       types.ConflictUnresolved,
			DetectedAt:   time.Now().UTC(),
		})
	}
	return out
}

// DetectVersionConflict emits a single version_conflict when both sides'
// changedDate moved past their respective base changedDate but no
// field-level conflict was produced for this pair (§4.G).
func (d *Detector) DetectVersionConflict(sourceBase, targetBase *types.WorkItemVersion, sourceChangedDate, targetChangedDate *time.Time, fieldConflicts []*types.SyncConflict) *types.SyncConflict {
	if len(fieldConflicts) > 0 {
		return nil
	}
	if sourceChangedDate == nil || targetChangedDate == nil {
		return nil
	}
	sourceNewer := sourceBase == nil || sourceBase.ChangedDate == nil || sourceChangedDate.After(*sourceBase.ChangedDate)
	targetNewer := targetBase == nil || targetBase.ChangedDate == nil || targetChangedDate.After(*targetBase.ChangedDate)
	if !sourceNewer || !targetNewer {
		return nil
	}

	meta := map[string]string{
		"sourceChangedDate": sourceChangedDate.Format(time.RFC3339),
		"targetChangedDate": targetChangedDate.Format(time.RFC3339),
	}
	if sourceBase != nil {
		meta["sourceRevision"] = sourceBase.Revision
	}
	if targetBase != nil {
		meta["targetRevision"] = targetBase.Revision
	}
	return &types.SyncConflict{
		ConflictKind: types.ConflictVersion,
		Status:       types.ConflictUnresolved,
		Metadata:     meta,
		DetectedAt:   time.Now().UTC(),
	}
}

// SaveConflicts persists conflicts via the store, stamping shared
// identifying fields first.
func (d *Detector) SaveConflicts(ctx context.Context, configID, execID, sourceItemID, targetItemID, workItemType string, conflicts []*types.SyncConflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	for _, c := range conflicts {
		c.SyncConfigID = configID
		c.ExecutionID = execID
		if c.SourceWorkItemID == "" {
			c.SourceWorkItemID = sourceItemID
		}
		c.TargetWorkItemID = targetItemID
		c.WorkItemType = workItemType
	}
	if err := d.store.SaveConflicts(ctx, conflicts); err != nil {
		return fmt.Errorf("conflict: save conflicts: %w", err)
	}
	return nil
}

func parseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
