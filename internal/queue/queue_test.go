package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/connector/faketracker"
	syncengine "github.com/syncmesh/syncmesh/internal/sync"
	"github.com/syncmesh/syncmesh/internal/storage/memory"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

// setup wires a one-field Task->Task config between two faketracker
// connectors, minimal enough to exercise the queue without the full mapping
// fixture internal/sync's tests use.
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

func TestAddRunsJobToCompletion(t *testing.T) {
	store, registry, fakeSrc, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{"title": "Hello"}})

	engine := syncengine.New(store, registry)
	q := New(store, engine, 2, 10)

	var events []Event
	q.OnEvent(func(e Event) { events = append(events, e) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	job, err := q.Add(cfg.ID, types.JobOptions{}, types.ExecTriggerManual, 3)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		got, err := q.Status(job.ID)
		return err == nil && got.State == types.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final, err := q.Status(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, final.State)
	require.NotNil(t, final.Result)
	require.Equal(t, 1, final.Result.Created)

	counts := q.Counts()
	require.Equal(t, 1, counts.Completed)

	var eventTypes []EventType
	for _, e := range events {
		eventTypes = append(eventTypes, e.Type)
	}
	require.Contains(t, eventTypes, EventQueued)
	require.Contains(t, eventTypes, EventStarted)
	require.Contains(t, eventTypes, EventCompleted)
}

func TestAddReturnsQueueFullWhenSaturated(t *testing.T) {
	store, registry, _, cfg := setup(t)
	engine := syncengine.New(store, registry)
	q := New(store, engine, 1, 1) // capacity 1, workers never started

	_, err := q.Add(cfg.ID, types.JobOptions{}, types.ExecTriggerManual, 3)
	require.NoError(t, err)

	_, err = q.Add(cfg.ID, types.JobOptions{}, types.ExecTriggerManual, 3)
	require.ErrorIs(t, err, synerr.ErrQueueFull)
}

func TestCancelStopsRunningJob(t *testing.T) {
	store, registry, fakeSrc, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{"title": "Hello"}})
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-2", Type: "Task", Fields: map[string]interface{}{"title": "World"}})

	tgtRaw, err := registry.Get(context.Background(), cfg.TargetConnectorID)
	require.NoError(t, err)
	fakeTgt := tgtRaw.(*faketracker.Driver)
	fakeTgt.SetItemDelay(300 * time.Millisecond)

	engine := syncengine.New(store, registry)
	q := New(store, engine, 1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	job, err := q.Add(cfg.ID, types.JobOptions{}, types.ExecTriggerManual, 3)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := q.Status(job.ID)
		return err == nil && got.State == types.JobRunning
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, q.Cancel(job.ID))

	require.Eventually(t, func() bool {
		got, err := q.Status(job.ID)
		return err == nil && got.State == types.JobCancelled
	}, 2*time.Second, 10*time.Millisecond)

	final, err := q.Status(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCancelled, final.State)
	require.Equal(t, "cancelled", final.Error)

	counts := q.Counts()
	require.Equal(t, 1, counts.Failed)
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	store, registry, fakeSrc, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{"title": "Hello"}})

	engine := syncengine.New(store, registry)
	q := New(store, engine, 1, 10) // workers never started

	job, err := q.Add(cfg.ID, types.JobOptions{}, types.ExecTriggerManual, 3)
	require.NoError(t, err)

	require.NoError(t, q.Cancel(job.ID))

	// Cancel flips the in-memory flag immediately; the job's visible state
	// only transitions to JobCancelled once a worker picks it up and checks
	// it at runJob's entry, which never happens here since Start was never
	// called.
	final, err := q.Status(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobQueued, final.State)
}

func TestCancelUnknownJobReturnsNotFound(t *testing.T) {
	store, registry, _, _ := setup(t)
	engine := syncengine.New(store, registry)
	q := New(store, engine, 1, 10)

	require.ErrorIs(t, q.Cancel("no-such-job"), synerr.ErrNotFound)
}

func TestRetriesTransientFailureThenSucceeds(t *testing.T) {
	store, registry, fakeSrc, cfg := setup(t)
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{"title": "Hello"}})
	fakeSrc.SetConnectError(&synerr.RemoteTransient{Detail: "flaky upstream"})

	engine := syncengine.New(store, registry)
	q := New(store, engine, 1, 10)

	q.OnEvent(func(e Event) {
		// Clear the injected failure once the first attempt has failed and
		// been re-queued, simulating the upstream recovering before retry.
		if e.Type == EventQueued && e.Job.Attempts > 0 {
			fakeSrc.SetConnectError(nil)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	job, err := q.Add(cfg.ID, types.JobOptions{}, types.ExecTriggerManual, 3)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := q.Status(job.ID)
		return err == nil && (got.State == types.JobCompleted || got.State == types.JobFailed)
	}, 5*time.Second, 20*time.Millisecond)

	final, err := q.Status(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, final.State)
	require.GreaterOrEqual(t, final.Attempts, 2)
}
