// Package storage defines the persistence interface for every entity in
// the data model (§3) and the transactional guarantees callers may rely on
// (§5): atomic metadata upserts, atomic execution-summary updates, and
// strictly monotonic version numbering under a single transaction.
package storage

import (
	"context"

	"github.com/syncmesh/syncmesh/internal/types"
)

// Store is the full persistence surface the rest of syncmesh depends on.
// The dolt-backed implementation (internal/storage/dolt) and the in-memory
// implementation (internal/storage/memory, used by tests) both satisfy it.
type Store interface {
	// Connectors
	CreateConnector(ctx context.Context, c *types.Connector) error
	GetConnector(ctx context.Context, id string) (*types.Connector, error)
	UpdateConnector(ctx context.Context, c *types.Connector) error
	DeleteConnector(ctx context.Context, id string) error
	ListConnectors(ctx context.Context) ([]*types.Connector, error)

	// Discovery metadata
	SaveDiscoveredMetadata(ctx context.Context, connectorID string, wts []types.WorkItemType, fields []types.Field, statuses []types.Status) error
	ListWorkItemTypes(ctx context.Context, connectorID string) ([]types.WorkItemType, error)
	ListFields(ctx context.Context, connectorID, typeID string) ([]types.Field, error)
	ListStatuses(ctx context.Context, connectorID, typeID string) ([]types.Status, error)
	GetWorkItemTypeByName(ctx context.Context, connectorID, name string) (*types.WorkItemType, error)
	GetWorkItemTypeByID(ctx context.Context, id string) (*types.WorkItemType, error)
	GetFieldByReference(ctx context.Context, connectorID, typeID, reference string) (*types.Field, error)
	GetFieldByID(ctx context.Context, id string) (*types.Field, error)
	GetStatusByID(ctx context.Context, id string) (*types.Status, error)

	// Sync configs
	CreateSyncConfig(ctx context.Context, c *types.SyncConfig) error
	GetSyncConfig(ctx context.Context, id string) (*types.SyncConfig, error)
	UpdateSyncConfig(ctx context.Context, c *types.SyncConfig) error
	DeleteSyncConfig(ctx context.Context, id string) error
	ListSyncConfigs(ctx context.Context) ([]*types.SyncConfig, error)
	ListActiveScheduledConfigs(ctx context.Context) ([]*types.SyncConfig, error)
	SetLastSyncAt(ctx context.Context, configID string, t types.SyncConfig) error

	// Mappings
	CreateTypeMapping(ctx context.Context, m *types.TypeMapping) error
	CreateFieldMapping(ctx context.Context, m *types.FieldMapping) error
	CreateStatusMapping(ctx context.Context, m *types.StatusMapping) error
	LoadMappings(ctx context.Context, configID string) (*MappingSet, error)

	// Synced items (identity map)
	GetSyncedItemBySource(ctx context.Context, configID, sourceConnectorID, sourceItemID string) (*types.SyncedItem, error)
	UpsertSyncedItem(ctx context.Context, item *types.SyncedItem) error
	ListSyncedItems(ctx context.Context, configID string) ([]*types.SyncedItem, error)

	GetSyncedCommentBySource(ctx context.Context, syncedItemID, sourceCommentID string) (*types.SyncedComment, error)
	UpsertSyncedComment(ctx context.Context, c *types.SyncedComment) error

	GetSyncedLinkBySource(ctx context.Context, syncedItemID, sourceLinkedItemID string) (*types.SyncedLink, error)
	UpsertSyncedLink(ctx context.Context, l *types.SyncedLink) error
	ListPendingLinks(ctx context.Context, configID string) ([]*types.SyncedLink, error)

	// Versions
	LatestVersion(ctx context.Context, configID, connectorID, workItemID string) (*types.WorkItemVersion, error)
	AppendVersion(ctx context.Context, v *types.WorkItemVersion) error

	// Conflicts
	SaveConflicts(ctx context.Context, conflicts []*types.SyncConflict) error
	GetConflict(ctx context.Context, id string) (*types.SyncConflict, error)
	UpdateConflict(ctx context.Context, c *types.SyncConflict) error
	SaveResolution(ctx context.Context, r *types.ConflictResolution) error
	ListUnresolvedConflicts(ctx context.Context, configID string) ([]*types.SyncConflict, error)

	// Executions
	CreateExecution(ctx context.Context, e *types.SyncExecution) error
	UpdateExecution(ctx context.Context, e *types.SyncExecution) error
	GetExecution(ctx context.Context, id string) (*types.SyncExecution, error)
	AppendSyncError(ctx context.Context, e *types.SyncError) error

	// Webhooks
	CreateWebhook(ctx context.Context, w *types.Webhook) error
	GetWebhookByToken(ctx context.Context, token string) (*types.Webhook, error)
	RecordWebhookDelivery(ctx context.Context, w *types.Webhook, d *types.WebhookDelivery) error

	// Generic config (used by connector drivers for fallback settings)
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	Close() error
}

// MappingSet is the single joined read the mapping engine caches (§4.F):
// every type/field/status mapping belonging to one sync configuration.
type MappingSet struct {
	Types    []types.TypeMapping
	Fields   map[string][]types.FieldMapping  // keyed by TypeMappingID
	Statuses map[string][]types.StatusMapping // keyed by TypeMappingID
}
