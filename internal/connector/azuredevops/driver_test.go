package azuredevops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncmesh/syncmesh/internal/connector"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectRequiresCredentials(t *testing.T) {
	d := &Driver{cfg: connector.Config{BaseURL: "https://dev.azure.com/acme", Endpoint: "Widgets"}}
	err := d.Connect(context.Background())
	require.Error(t, err)
}

func TestGetWorkItemMapsFields(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(workItem{
			ID:  42,
			Rev: 3,
			Fields: map[string]interface{}{
				"System.Title":        "Fix the thing",
				"System.WorkItemType": "Bug",
			},
		})
	})

	d := &Driver{cfg: connector.Config{BaseURL: srv.URL, Endpoint: "Widgets", Credentials: map[string]string{"token": "pat"}}}
	require.NoError(t, d.Connect(context.Background()))

	wi, err := d.GetWorkItem(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "42", wi.ID)
	require.Equal(t, "Bug", wi.Type)
	require.Equal(t, "Fix the thing", wi.Fields["System.Title"])
}

func TestCapabilitiesAdvertiseBidirectional(t *testing.T) {
	d := &Driver{}
	caps := d.Capabilities()
	require.True(t, caps.Bidirectional)
	require.True(t, caps.Create)
	require.True(t, caps.Webhooks)
	require.False(t, caps.Realtime)
}

func TestCategorizeState(t *testing.T) {
	require.Equal(t, "proposed", categorizeState("New"))
	require.Equal(t, "in_progress", categorizeState("Active"))
	require.Equal(t, "completed", categorizeState("Closed"))
	require.Equal(t, "removed", categorizeState("Removed"))
}

func TestTransformFieldValueUnwrapsAssignee(t *testing.T) {
	d := &Driver{}
	out := d.TransformFieldValue(connector.RefAssignee, map[string]interface{}{"displayName": "Ada Lovelace", "uniqueName": "ada@acme.com"}, "azuredevops")
	require.Equal(t, "Ada Lovelace", out)
}
