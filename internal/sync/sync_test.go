package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncmesh/syncmesh/internal/conflict"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/connector/faketracker"
	"github.com/syncmesh/syncmesh/internal/storage/memory"
	"github.com/syncmesh/syncmesh/internal/types"
)

// setup wires a Task->Task, New->Open, title->title (direct),
// description->description (upper transform) config between two faketracker
// connectors, mirroring mapping.setupConfig one layer up the stack.
func setup(t *testing.T) (context.Context, *memory.Store, *connector.Registry, *faketracker.Driver, *faketracker.Driver, *types.SyncConfig) {
	t.Helper()
	ctx := context.Background()
	store := memory.New("")

	const srcID, tgtID = "conn-src", "conn-tgt"
	require.NoError(t, store.CreateConnector(ctx, &types.Connector{ID: srcID, Name: "src", Kind: "faketracker", Active: true}))
	require.NoError(t, store.CreateConnector(ctx, &types.Connector{ID: tgtID, Name: "tgt", Kind: "faketracker", Active: true}))

	registry := connector.NewRegistry(store, nil)
	srcRaw, err := registry.Get(ctx, srcID)
	require.NoError(t, err)
	tgtRaw, err := registry.Get(ctx, tgtID)
	require.NoError(t, err)
	fakeSrc := srcRaw.(*faketracker.Driver)
	fakeTgt := tgtRaw.(*faketracker.Driver)

	require.NoError(t, store.SaveDiscoveredMetadata(ctx, srcID,
		[]types.WorkItemType{{ID: "src-task", ConnectorID: srcID, TypeName: "Task", TypeID: "1"}},
		[]types.Field{
			{ID: "src-title", ConnectorID: srcID, TypeID: "1", ReferenceName: "title", DataType: types.DataString},
			{ID: "src-desc", ConnectorID: srcID, TypeID: "1", ReferenceName: "description", DataType: types.DataString},
		},
		[]types.Status{
			{ID: "src-new", ConnectorID: srcID, TypeID: "1", Name: "New", Value: "New"},
		}))
	require.NoError(t, store.SaveDiscoveredMetadata(ctx, tgtID,
		[]types.WorkItemType{{ID: "tgt-task", ConnectorID: tgtID, TypeName: "Task", TypeID: "1"}},
		[]types.Field{
			{ID: "tgt-title", ConnectorID: tgtID, TypeID: "1", ReferenceName: "title", DataType: types.DataString},
			{ID: "tgt-desc", ConnectorID: tgtID, TypeID: "1", ReferenceName: "description", DataType: types.DataString},
		},
		[]types.Status{
			{ID: "tgt-open", ConnectorID: tgtID, TypeID: "1", Name: "Open", Value: "Open"},
		}))

	tm := &types.TypeMapping{SyncConfigID: "cfg-1", SourceTypeID: "src-task", TargetTypeID: "tgt-task", Active: true}
	require.NoError(t, store.CreateTypeMapping(ctx, tm))
	require.NoError(t, store.CreateFieldMapping(ctx, &types.FieldMapping{
		TypeMappingID: tm.ID, SourceFieldID: "src-title", TargetFieldID: "tgt-title", MappingKind: types.MappingDirect,
	}))
	require.NoError(t, store.CreateFieldMapping(ctx, &types.FieldMapping{
		TypeMappingID: tm.ID, SourceFieldID: "src-desc", TargetFieldID: "tgt-desc", MappingKind: types.MappingTransformation,
		Transformation: []types.TransformStep{{Name: "upper"}},
	}))
	require.NoError(t, store.CreateStatusMapping(ctx, &types.StatusMapping{
		TypeMappingID: tm.ID, SourceStatusID: "src-new", TargetStatusID: "tgt-open",
	}))

	cfg := &types.SyncConfig{
		ID: "cfg-1", Name: "test", SourceConnectorID: srcID, TargetConnectorID: tgtID,
		Active: true, TriggerKind: types.TriggerManual, Direction: types.DirectionSourceToTarget,
		TrackVersions: true, ConflictStrategy: types.StrategyLastWriteWins,
	}
	require.NoError(t, store.CreateSyncConfig(ctx, cfg))

	return ctx, store, registry, fakeSrc, fakeTgt, cfg
}

func TestExecuteCreatesOnFirstSync(t *testing.T) {
	ctx, store, registry, fakeSrc, fakeTgt, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{
		"title": "Hello", "description": "world", "state": "New",
	}})

	engine := New(store, registry)
	summary, err := engine.Execute(ctx, cfg, types.JobOptions{}, types.ExecTriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)
	require.Equal(t, 0, summary.Updated)
	require.Len(t, summary.Items, 1)

	targetID := summary.Items[0].TargetID
	require.NotEmpty(t, targetID)

	item, err := fakeTgt.GetWorkItem(ctx, targetID)
	require.NoError(t, err)
	require.Equal(t, "Hello", item.Fields["title"])
	require.Equal(t, "WORLD", item.Fields["description"])
	require.Equal(t, "Open", item.Fields["state"])

	exec, err := store.GetExecution(ctx, summary.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, types.ExecutionCompleted, exec.Status)
	require.Equal(t, 1, exec.ItemsCreated)
}

func TestExecuteUpdatesOnResync(t *testing.T) {
	ctx, store, registry, fakeSrc, _, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{
		"title": "Hello", "description": "world", "state": "New",
	}})

	engine := New(store, registry)
	_, err := engine.Execute(ctx, cfg, types.JobOptions{}, types.ExecTriggerManual)
	require.NoError(t, err)

	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{
		"title": "Hello changed", "description": "world", "state": "New",
	}})
	summary, err := engine.Execute(ctx, cfg, types.JobOptions{}, types.ExecTriggerManual)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Created)
	require.Equal(t, 1, summary.Updated)
	require.Equal(t, 2, summary.Items[0].SyncCount)
}

func TestPreviewDoesNotWrite(t *testing.T) {
	ctx, store, registry, fakeSrc, _, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{
		"title": "Hello", "description": "world", "state": "New",
	}})

	engine := New(store, registry)
	summary, err := engine.Preview(ctx, cfg, types.JobOptions{})
	require.NoError(t, err)
	require.Equal(t, "create", summary.Items[0].Action)

	items, err := store.ListSyncedItems(ctx, cfg.ID)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestBidirectionalLastWriteWinsResolvesConflict(t *testing.T) {
	ctx, store, registry, fakeSrc, fakeTgt, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{
		"title": "Hello", "description": "world", "state": "New",
	}})

	engine := New(store, registry)
	_, err := engine.Execute(ctx, cfg, types.JobOptions{}, types.ExecTriggerManual)
	require.NoError(t, err)

	items, err := store.ListSyncedItems(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	targetID := items[0].TargetItemID

	// Seed a target-side baseline version matching the current target
	// fields, since the forward pass only captures the source side.
	tgtItem, err := fakeTgt.GetWorkItem(ctx, targetID)
	require.NoError(t, err)
	det := conflict.New(store)
	_, err = det.CaptureVersion(ctx, cfg.ID, cfg.TargetConnectorID, *tgtItem, "seed")
	require.NoError(t, err)

	past := time.Now().Add(-1 * time.Hour).UTC()
	now := time.Now().UTC()
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{
		"title": "Source edit", "description": "world", "state": "New", "changedDate": now.Format(time.RFC3339),
	}})
	_, err = fakeTgt.UpdateWorkItem(ctx, targetID, map[string]interface{}{
		"title": "Target edit", "changedDate": past.Format(time.RFC3339),
	})
	require.NoError(t, err)

	cfg.Direction = types.DirectionBidirectional
	summary, err := engine.Execute(ctx, cfg, types.JobOptions{}, types.ExecTriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.ConflictsDetected)
	require.Equal(t, 1, summary.ConflictsResolved)

	resolved, err := fakeTgt.GetWorkItem(ctx, targetID)
	require.NoError(t, err)
	require.Equal(t, "Source edit", resolved.Fields["title"])

	unresolved, err := store.ListUnresolvedConflicts(ctx, cfg.ID)
	require.NoError(t, err)
	require.Empty(t, unresolved)
}

func TestBidirectionalManualStrategyLeavesConflictUnresolved(t *testing.T) {
	ctx, store, registry, fakeSrc, fakeTgt, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{
		"title": "Hello", "description": "world", "state": "New",
	}})

	engine := New(store, registry)
	_, err := engine.Execute(ctx, cfg, types.JobOptions{}, types.ExecTriggerManual)
	require.NoError(t, err)

	items, err := store.ListSyncedItems(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	targetID := items[0].TargetItemID

	tgtItem, err := fakeTgt.GetWorkItem(ctx, targetID)
	require.NoError(t, err)
	det := conflict.New(store)
	_, err = det.CaptureVersion(ctx, cfg.ID, cfg.TargetConnectorID, *tgtItem, "seed")
	require.NoError(t, err)

	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{
		"title": "Source edit", "description": "world", "state": "New",
	}})
	_, err = fakeTgt.UpdateWorkItem(ctx, targetID, map[string]interface{}{"title": "Target edit"})
	require.NoError(t, err)

	cfg.Direction = types.DirectionBidirectional
	cfg.ConflictStrategy = types.StrategyManual
	summary, err := engine.Execute(ctx, cfg, types.JobOptions{}, types.ExecTriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.ConflictsDetected)
	require.Equal(t, 0, summary.ConflictsResolved)

	resolved, err := fakeTgt.GetWorkItem(ctx, targetID)
	require.NoError(t, err)
	require.Equal(t, "Target edit", resolved.Fields["title"]) // untouched: awaiting human resolution

	unresolved, err := store.ListUnresolvedConflicts(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	require.Equal(t, types.ConflictUnresolved, unresolved[0].Status)
}
