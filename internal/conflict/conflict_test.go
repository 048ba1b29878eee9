package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/storage/memory"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

func TestHashDeterministic(t *testing.T) {
	h1, err := HashFields(map[string]interface{}{"title": "Hello", "state": "New"})
	require.NoError(t, err)
	h2, err := HashFields(map[string]interface{}{"state": "New", "title": "Hello"})
	require.NoError(t, err)
	require.Equal(t, h1, h2, "key order must not affect the hash")

	h3, err := HashFields(map[string]interface{}{"title": "Hello world", "state": "New"})
	require.NoError(t, err)
	require.NotEqual(t, h1, h3, "a changed field must change the hash")
}

func TestHasChangedDetectsNewAndChanged(t *testing.T) {
	ctx := context.Background()
	store := memory.New("")
	d := New(store)

	res, err := d.HasChanged(ctx, "cfg", "conn", "item-1", map[string]interface{}{"title": "a"})
	require.NoError(t, err)
	require.True(t, res.IsNew)
	require.True(t, res.Changed)

	_, err = d.CaptureVersion(ctx, "cfg", "conn", connector.WorkItem{ID: "item-1", Fields: map[string]interface{}{"title": "a"}}, "exec-1")
	require.NoError(t, err)

	res, err = d.HasChanged(ctx, "cfg", "conn", "item-1", map[string]interface{}{"title": "a"})
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.False(t, res.IsNew)

	res, err = d.HasChanged(ctx, "cfg", "conn", "item-1", map[string]interface{}{"title": "b"})
	require.NoError(t, err)
	require.True(t, res.Changed)
}

func TestCaptureVersionMonotonic(t *testing.T) {
	ctx := context.Background()
	store := memory.New("")
	d := New(store)

	v1, err := d.CaptureVersion(ctx, "cfg", "conn", connector.WorkItem{ID: "item-1", Fields: map[string]interface{}{"title": "a"}}, "exec-1")
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)

	v2, err := d.CaptureVersion(ctx, "cfg", "conn", connector.WorkItem{ID: "item-1", Fields: map[string]interface{}{"title": "b"}}, "exec-2")
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)
}

func TestDetectFieldConflictsOnlyWhenBothChangedAndDisagree(t *testing.T) {
	d := New(memory.New(""))

	sourceItem := connector.WorkItem{Fields: map[string]interface{}{"title": "S", "description": "same"}}
	targetItem := connector.WorkItem{Fields: map[string]interface{}{"title": "T", "description": "same"}}
	base := map[string]interface{}{"title": "orig", "description": "same"}

	pairs := []FieldPair{
		{FieldMappingID: "fm-title", SourceRef: "title", TargetRef: "title"},
		{FieldMappingID: "fm-desc", SourceRef: "description", TargetRef: "description"},
	}

	conflicts := d.DetectFieldConflicts(sourceItem, targetItem, pairs, base, base)
	require.Len(t, conflicts, 1)
	require.Equal(t, types.ConflictField, conflicts[0].ConflictKind)
	require.Equal(t, "title", conflicts[0].FieldName)
	require.Equal(t, "S", conflicts[0].SourceValue)
	require.Equal(t, "T", conflicts[0].TargetValue)
}

func TestDetectFieldConflictsNoneWhenOnlyOneSideChanged(t *testing.T) {
	d := New(memory.New(""))

	sourceItem := connector.WorkItem{Fields: map[string]interface{}{"title": "S"}}
	targetItem := connector.WorkItem{Fields: map[string]interface{}{"title": "orig"}}
	base := map[string]interface{}{"title": "orig"}

	conflicts := d.DetectFieldConflicts(sourceItem, targetItem,
		[]FieldPair{{SourceRef: "title", TargetRef: "title"}}, base, base)
	require.Empty(t, conflicts)
}

func TestDetectDeletionReportsOnlyWithPriorVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.New("")
	d := New(store)

	c, err := d.DetectDeletion(ctx, "cfg", "conn", "item-1", "exec-1")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = d.CaptureVersion(ctx, "cfg", "conn", connector.WorkItem{ID: "item-1", Fields: map[string]interface{}{"title": "a"}}, "exec-1")
	require.NoError(t, err)

	c, err = d.DetectDeletion(ctx, "cfg", "conn", "item-1", "exec-2")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, types.ConflictDeletion, c.ConflictKind)
}

func TestResolverLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := memory.New("")
	r := NewResolver(store)

	c := &types.SyncConflict{
		ID:          "c1",
		FieldName:   "title",
		SourceValue: "S",
		TargetValue: "T",
		BaseValue:   "orig",
		Status:      types.ConflictUnresolved,
		Metadata: map[string]string{
			"sourceChangedDate": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
			"targetChangedDate": time.Now().Format(time.RFC3339),
		},
	}
	require.NoError(t, store.SaveConflicts(ctx, []*types.SyncConflict{c}))

	res, err := r.Resolve(ctx, c, &types.SyncConfig{ConflictStrategy: types.StrategyLastWriteWins}, "", "system")
	require.NoError(t, err)
	require.Equal(t, SideSource, res.Winner)
	require.Equal(t, "S", res.ResolvedValue)

	reloaded, err := store.GetConflict(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, types.ConflictResolved, reloaded.Status)
}

func TestResolverManualRequiresHumanAndLeavesUnresolved(t *testing.T) {
	ctx := context.Background()
	store := memory.New("")
	r := NewResolver(store)

	c := &types.SyncConflict{ID: "c2", FieldName: "title", SourceValue: "S", TargetValue: "T", Status: types.ConflictUnresolved}
	require.NoError(t, store.SaveConflicts(ctx, []*types.SyncConflict{c}))

	_, err := r.Resolve(ctx, c, &types.SyncConfig{ConflictStrategy: types.StrategyManual}, "", "system")
	require.Error(t, err)
	var manualErr *synerr.ConflictRequiresManual
	require.True(t, errors.As(err, &manualErr))

	reloaded, err := store.GetConflict(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, types.ConflictUnresolved, reloaded.Status)
}

func TestResolverMergeFallsBackWhenBothChanged(t *testing.T) {
	ctx := context.Background()
	store := memory.New("")
	r := NewResolver(store)

	c := &types.SyncConflict{
		ID: "c3", FieldName: "title", SourceValue: "S", TargetValue: "T", BaseValue: "orig",
		Status: types.ConflictUnresolved,
		Metadata: map[string]string{
			"sourceChangedDate": time.Now().Format(time.RFC3339),
			"targetChangedDate": time.Now().Add(-1 * time.Hour).Format(time.RFC3339),
		},
	}
	require.NoError(t, store.SaveConflicts(ctx, []*types.SyncConflict{c}))

	res, err := r.Resolve(ctx, c, &types.SyncConfig{ConflictStrategy: types.StrategyMerge}, "", "system")
	require.NoError(t, err)
	require.Equal(t, SideSource, res.Winner) // falls back to last-write-wins, source is newer
}

func TestResolverMergeUsesUnchangedSide(t *testing.T) {
	ctx := context.Background()
	store := memory.New("")
	r := NewResolver(store)

	c := &types.SyncConflict{
		ID: "c4", FieldName: "title", SourceValue: "orig", TargetValue: "T", BaseValue: "orig",
		Status: types.ConflictUnresolved,
	}
	require.NoError(t, store.SaveConflicts(ctx, []*types.SyncConflict{c}))

	res, err := r.Resolve(ctx, c, &types.SyncConfig{ConflictStrategy: types.StrategyMerge}, "", "system")
	require.NoError(t, err)
	require.Equal(t, SideTarget, res.Winner)
	require.Equal(t, "T", res.ResolvedValue)
}

func TestResolveManually(t *testing.T) {
	ctx := context.Background()
	store := memory.New("")
	r := NewResolver(store)

	c := &types.SyncConflict{ID: "c5", FieldName: "title", SourceValue: "S", TargetValue: "T", Status: types.ConflictUnresolved}
	require.NoError(t, store.SaveConflicts(ctx, []*types.SyncConflict{c}))

	_, err := r.ResolveManually(ctx, "c5", "T", "chose target", "alice")
	require.NoError(t, err)

	reloaded, err := store.GetConflict(ctx, "c5")
	require.NoError(t, err)
	require.Equal(t, types.ConflictResolved, reloaded.Status)
	require.Equal(t, "alice", reloaded.ResolvedBy)
	require.Equal(t, "T", reloaded.ResolvedValue)
}
