package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/connector/faketracker"
	"github.com/syncmesh/syncmesh/internal/queue"
	"github.com/syncmesh/syncmesh/internal/storage/memory"
	syncengine "github.com/syncmesh/syncmesh/internal/sync"
	"github.com/syncmesh/syncmesh/internal/types"
)

// setup wires a minimal one-field Task->Task config, same fixture shape as
// internal/queue's tests, so the scheduler only needs a config row that
// resolves cleanly through the engine when its job fires.
func setup(t *testing.T) (*memory.Store, *connector.Registry, *faketracker.Driver, *types.SyncConfig) {
	t.Helper()
	ctx := context.Background()
	store := memory.New("")

	const srcID, tgtID = "conn-src", "conn-tgt"
	require.NoError(t, store.CreateConnector(ctx, &types.Connector{ID: srcID, Kind: "faketracker", Active: true}))
	require.NoError(t, store.CreateConnector(ctx, &types.Connector{ID: tgtID, Kind: "faketracker", Active: true}))

	registry := connector.NewRegistry(store, nil)
	srcRaw, err := registry.Get(ctx, srcID)
	require.NoError(t, err)
	_, err = registry.Get(ctx, tgtID)
	require.NoError(t, err)
	fakeSrc := srcRaw.(*faketracker.Driver)

	require.NoError(t, store.SaveDiscoveredMetadata(ctx, srcID,
		[]types.WorkItemType{{ID: "src-task", ConnectorID: srcID, TypeName: "Task", TypeID: "1"}},
		[]types.Field{{ID: "src-title", ConnectorID: srcID, TypeID: "1", ReferenceName: "title", DataType: types.DataString}},
		nil))
	require.NoError(t, store.SaveDiscoveredMetadata(ctx, tgtID,
		[]types.WorkItemType{{ID: "tgt-task", ConnectorID: tgtID, TypeName: "Task", TypeID: "1"}},
		[]types.Field{{ID: "tgt-title", ConnectorID: tgtID, TypeID: "1", ReferenceName: "title", DataType: types.DataString}},
		nil))

	tm := &types.TypeMapping{SyncConfigID: "cfg-1", SourceTypeID: "src-task", TargetTypeID: "tgt-task", Active: true}
	require.NoError(t, store.CreateTypeMapping(ctx, tm))
	require.NoError(t, store.CreateFieldMapping(ctx, &types.FieldMapping{
		TypeMappingID: tm.ID, SourceFieldID: "src-title", TargetFieldID: "tgt-title", MappingKind: types.MappingDirect,
	}))

	cfg := &types.SyncConfig{
		ID: "cfg-1", Name: "test", SourceConnectorID: srcID, TargetConnectorID: tgtID,
		Active: true, TriggerKind: types.TriggerManual, Direction: types.DirectionSourceToTarget,
	}
	require.NoError(t, store.CreateSyncConfig(ctx, cfg))

	return store, registry, fakeSrc, cfg
}

func TestStartWithNoScheduledConfigsIsIdle(t *testing.T) {
	store, registry, _, _ := setup(t)
	engine := syncengine.New(store, registry)
	q := queue.New(store, engine, 1, 10)
	s := New(store, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	st := s.Status()
	require.False(t, st.IsRunning)
	require.Equal(t, 0, st.JobCount)
}

func TestScheduleRegistersAndPersistsCronEntry(t *testing.T) {
	store, registry, fakeSrc, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{"title": "Hello"}})

	engine := syncengine.New(store, registry)
	q := queue.New(store, engine, 1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	s := New(store, q)
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.Schedule(ctx, cfg.ID, "* * * * *"))

	st := s.Status()
	require.True(t, st.IsRunning)
	require.Equal(t, 1, st.JobCount)

	persisted, err := store.GetSyncConfig(ctx, cfg.ID)
	require.NoError(t, err)
	require.Equal(t, types.TriggerScheduled, persisted.TriggerKind)
	require.Equal(t, "* * * * *", persisted.CronExpr)
}

func TestUnscheduleRemovesCronEntry(t *testing.T) {
	store, registry, _, cfg := setup(t)
	engine := syncengine.New(store, registry)
	q := queue.New(store, engine, 1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	s := New(store, q)
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Schedule(ctx, cfg.ID, "*/5 * * * *"))
	require.Equal(t, 1, s.Status().JobCount)

	require.NoError(t, s.Unschedule(ctx, cfg.ID))
	st := s.Status()
	require.Equal(t, 0, st.JobCount)
	require.False(t, st.IsRunning)

	persisted, err := store.GetSyncConfig(ctx, cfg.ID)
	require.NoError(t, err)
	require.Equal(t, types.TriggerManual, persisted.TriggerKind)
	require.Empty(t, persisted.CronExpr)
}

func TestStopHaltsCronRunner(t *testing.T) {
	store, registry, _, cfg := setup(t)
	engine := syncengine.New(store, registry)
	q := queue.New(store, engine, 1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	s := New(store, q)
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Schedule(ctx, cfg.ID, "*/5 * * * *"))
	require.True(t, s.Status().IsRunning)

	s.Stop()
	require.False(t, s.Status().IsRunning)
}
