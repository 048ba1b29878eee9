package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncmesh/syncmesh/internal/types"
)

func TestConnectorCRUD(t *testing.T) {
	s := New("")
	ctx := context.Background()

	c := &types.Connector{Name: "ado", Kind: "azuredevops", Active: true}
	require.NoError(t, s.CreateConnector(ctx, c))
	require.NotEmpty(t, c.ID)

	got, err := s.GetConnector(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "ado", got.Name)

	got.Name = "ado-renamed"
	require.NoError(t, s.UpdateConnector(ctx, got))

	reloaded, err := s.GetConnector(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "ado-renamed", reloaded.Name)

	require.NoError(t, s.DeleteConnector(ctx, c.ID))
	_, err = s.GetConnector(ctx, c.ID)
	require.Error(t, err)
}

func TestUpsertSyncedItemIsIdempotent(t *testing.T) {
	s := New("")
	ctx := context.Background()

	item := &types.SyncedItem{
		SyncConfigID:      "cfg-1",
		SourceConnectorID: "conn-a",
		TargetConnectorID: "conn-b",
		SourceItemID:      "123",
		TargetItemID:      "456",
		FirstSyncedAt:     time.Now(),
		LastSyncedAt:      time.Now(),
		SyncCount:         1,
		Status:            types.SyncedItemSynced,
	}
	require.NoError(t, s.UpsertSyncedItem(ctx, item))

	item.SyncCount = 2
	require.NoError(t, s.UpsertSyncedItem(ctx, item))

	all, err := s.ListSyncedItems(ctx, "cfg-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 2, all[0].SyncCount)
}

func TestAppendVersionIsMonotonic(t *testing.T) {
	s := New("")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := &types.WorkItemVersion{
			SyncConfigID:   "cfg-1",
			ConnectorID:    "conn-1",
			WorkItemID:     "item-1",
			FieldsSnapshot: `{"title":"x"}`,
			Hash:           "deadbeef",
		}
		require.NoError(t, s.AppendVersion(ctx, v))
		require.Equal(t, i+1, v.Version)
	}

	latest, err := s.LatestVersion(ctx, "cfg-1", "conn-1", "item-1")
	require.NoError(t, err)
	require.Equal(t, 3, latest.Version)
}

func TestListPendingLinksScopedToConfig(t *testing.T) {
	s := New("")
	ctx := context.Background()

	item := &types.SyncedItem{SyncConfigID: "cfg-1", SourceConnectorID: "a", TargetConnectorID: "b", SourceItemID: "1"}
	require.NoError(t, s.UpsertSyncedItem(ctx, item))

	link := &types.SyncedLink{SyncedItemID: item.ID, SourceLinkedItemID: "2", RelationKind: "blocks", Status: types.SyncedItemPending}
	require.NoError(t, s.UpsertSyncedLink(ctx, link))

	pending, err := s.ListPendingLinks(ctx, "cfg-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	pending, err = s.ListPendingLinks(ctx, "cfg-other")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestWebhookDeliveryRecordsAndBumpsCounter(t *testing.T) {
	s := New("")
	ctx := context.Background()

	w := &types.Webhook{Name: "hook", SyncConfigID: "cfg-1", Token: "tok-123", Secret: "shh", Active: true}
	require.NoError(t, s.CreateWebhook(ctx, w))

	w.TriggerCount = 1
	now := time.Now()
	w.LastTriggeredAt = &now
	d := &types.WebhookDelivery{WebhookID: w.ID, ReceivedAt: now, SignatureValid: true, Status: types.DeliveryAccepted}
	require.NoError(t, s.RecordWebhookDelivery(ctx, w, d))

	reloaded, err := s.GetWebhookByToken(ctx, "tok-123")
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.TriggerCount)
}
