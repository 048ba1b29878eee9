package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/connector/faketracker"
	"github.com/syncmesh/syncmesh/internal/crypto"
	"github.com/syncmesh/syncmesh/internal/queue"
	"github.com/syncmesh/syncmesh/internal/storage/memory"
	syncengine "github.com/syncmesh/syncmesh/internal/sync"
	"github.com/syncmesh/syncmesh/internal/types"
)

// setup wires a minimal sync config plus one active webhook bound to it.
func setup(t *testing.T) (*Server, *memory.Store, *types.Webhook) {
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
	fakeSrc.SeedItem(connector.WorkItem{ID: "SRC-1", Type: "Task", Fields: map[string]interface{}{"title": "Hello"}})

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
		Active: true, TriggerKind: types.TriggerWebhook, Direction: types.DirectionSourceToTarget,
	}
	require.NoError(t, store.CreateSyncConfig(ctx, cfg))

	hook := &types.Webhook{ID: "wh-1", Name: "test hook", SyncConfigID: cfg.ID, Token: "tok123", Secret: "shh", Active: true}
	require.NoError(t, store.CreateWebhook(ctx, hook))

	engine := syncengine.New(store, registry)
	q := queue.New(store, engine, 1, 10)
	ctx2, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx2)

	server := NewServer(ServerConfig{Store: store, Queue: q})
	return server, store, hook
}

func TestReceiveValidSignatureEnqueuesJob(t *testing.T) {
	server, store, hook := setup(t)
	body := []byte(`{"event":"issue.updated"}`)
	sig := crypto.SignWebhook(body, []byte(hook.Secret))

	req := httptest.NewRequest(http.MethodPost, "/receive/"+hook.Token, bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	w := httptest.NewRecorder()

	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	updated, err := store.GetWebhookByToken(context.Background(), hook.Token)
	require.NoError(t, err)
	require.Equal(t, 1, updated.TriggerCount)
	require.NotNil(t, updated.LastTriggeredAt)
}

func TestReceiveAliasSignatureHeaderAccepted(t *testing.T) {
	server, _, hook := setup(t)
	body := []byte(`{"event":"issue.updated"}`)
	sig := crypto.SignWebhook(body, []byte(hook.Secret))

	req := httptest.NewRequest(http.MethodPost, "/receive/"+hook.Token, bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sig)
	w := httptest.NewRecorder()

	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestReceiveInvalidSignatureRejected(t *testing.T) {
	server, _, hook := setup(t)
	body := []byte(`{"event":"issue.updated"}`)

	req := httptest.NewRequest(http.MethodPost, "/receive/"+hook.Token, bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()

	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReceiveUnknownTokenNotFound(t *testing.T) {
	server, _, _ := setup(t)
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/receive/does-not-exist", bytes.NewReader(body))
	w := httptest.NewRecorder()

	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReceiveInactiveWebhookNotFound(t *testing.T) {
	server, store, hook := setup(t)
	hook.Active = false
	require.NoError(t, store.CreateWebhook(context.Background(), hook))

	body := []byte(`{}`)
	sig := crypto.SignWebhook(body, []byte(hook.Secret))
	req := httptest.NewRequest(http.MethodPost, "/receive/"+hook.Token, bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	w := httptest.NewRecorder()

	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
