package mapping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/storage/memory"
	"github.com/syncmesh/syncmesh/internal/types"
)

// setupConfig wires a minimal Task->Task, New->Open, title->title (direct),
// description->description (upper transform) mapping in the memory store.
func setupConfig(t *testing.T) (context.Context, *memory.Store, string) {
	t.Helper()
	ctx := context.Background()
	store := memory.New("")

	const sourceConnID, targetConnID = "conn-src", "conn-tgt"
	require.NoError(t, store.SaveDiscoveredMetadata(ctx, sourceConnID,
		[]types.WorkItemType{{ID: "src-task", ConnectorID: sourceConnID, TypeName: "Task", TypeID: "1"}},
		[]types.Field{
			{ID: "src-title", ConnectorID: sourceConnID, TypeID: "1", ReferenceName: "title", DataType: types.DataString},
			{ID: "src-desc", ConnectorID: sourceConnID, TypeID: "1", ReferenceName: "description", DataType: types.DataString},
		},
		[]types.Status{
			{ID: "src-new", ConnectorID: sourceConnID, TypeID: "1", Name: "New", Value: "New"},
		}))
	require.NoError(t, store.SaveDiscoveredMetadata(ctx, targetConnID,
		[]types.WorkItemType{{ID: "tgt-task", ConnectorID: targetConnID, TypeName: "Task", TypeID: "1"}},
		[]types.Field{
			{ID: "tgt-title", ConnectorID: targetConnID, TypeID: "1", ReferenceName: "title", DataType: types.DataString},
			{ID: "tgt-desc", ConnectorID: targetConnID, TypeID: "1", ReferenceName: "description", DataType: types.DataString},
		},
		[]types.Status{
			{ID: "tgt-open", ConnectorID: targetConnID, TypeID: "1", Name: "Open", Value: "Open"},
		}))

	configID := "cfg-1"
	tm := &types.TypeMapping{SyncConfigID: configID, SourceTypeID: "src-task", TargetTypeID: "tgt-task", Active: true}
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

	return ctx, store, configID
}

func TestMapWorkItemDirectTransformAndStatus(t *testing.T) {
	ctx, store, configID := setupConfig(t)
	engine := New(store)

	item := connector.WorkItem{
		ID:   "A-1",
		Type: "Task",
		Fields: map[string]interface{}{
			"title":       "Hello",
			"description": "world",
			"state":       "New",
		},
	}

	mapped, err := engine.MapWorkItem(ctx, item, configID, nil)
	require.NoError(t, err)
	require.Equal(t, "Task", mapped.Type)
	require.Equal(t, "Open", mapped.Status)
	require.Equal(t, "Hello", mapped.Fields["title"])
	require.Equal(t, "WORLD", mapped.Fields["description"])
}

func TestMapWorkItemUnknownTypeYieldsEmptyType(t *testing.T) {
	ctx, store, configID := setupConfig(t)
	engine := New(store)

	item := connector.WorkItem{ID: "A-2", Type: "Bug", Fields: map[string]interface{}{"title": "x"}}
	mapped, err := engine.MapWorkItem(ctx, item, configID, nil)
	require.NoError(t, err)
	require.Empty(t, mapped.Type)
	require.Empty(t, mapped.Fields)
}

func TestReverseMapFieldsDefaultsToNameRewrite(t *testing.T) {
	ctx, store, configID := setupConfig(t)
	engine := New(store)

	targetItem := connector.WorkItem{
		ID:   "B-7",
		Type: "Task",
		Fields: map[string]interface{}{
			"title":       "Edited on target",
			"description": "ALREADY UPPER",
		},
	}
	fields, err := engine.ReverseMapFields(ctx, targetItem, configID, nil)
	require.NoError(t, err)
	require.Equal(t, "Edited on target", fields["title"])
	require.Equal(t, "ALREADY UPPER", fields["description"])
}

func TestValidateMappingsFlagsUnknownTransform(t *testing.T) {
	ctx, store, configID := setupConfig(t)
	engine := New(store)

	set, err := store.LoadMappings(ctx, configID)
	require.NoError(t, err)
	require.NoError(t, store.CreateFieldMapping(ctx, &types.FieldMapping{
		TypeMappingID: set.Types[0].ID, SourceFieldID: "src-title", TargetFieldID: "tgt-title",
		MappingKind: types.MappingTransformation, Transformation: []types.TransformStep{{Name: "bogus"}},
	}))
	engine.ClearCache(configID)

	result, err := engine.ValidateMappings(ctx, configID)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Issues)
}

func TestClearCacheForcesReload(t *testing.T) {
	ctx, store, configID := setupConfig(t)
	engine := New(store)

	_, err := engine.LoadMappings(ctx, configID)
	require.NoError(t, err)

	require.NoError(t, store.CreateTypeMapping(ctx, &types.TypeMapping{SyncConfigID: configID, SourceTypeID: "x", TargetTypeID: "y"}))
	engine.ClearCache(configID)

	set, err := engine.LoadMappings(ctx, configID)
	require.NoError(t, err)
	require.Len(t, set.Types, 2)
}
