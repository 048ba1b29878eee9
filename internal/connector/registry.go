package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/syncmesh/syncmesh/internal/crypto"
	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

// drivers holds driver-name -> constructor, mirroring the teacher's
// tracker.Register/tracker.Get pattern (internal/tracker).
var (
	driversMu sync.RWMutex
	drivers   = map[string]Constructor{}
)

// Register adds a driver constructor under name. Intended to be called from
// an adapter package's init(), e.g. azuredevops.init() -> connector.Register("azuredevops", ...).
func Register(name string, ctor Constructor) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = ctor
}

func lookupDriver(name string) (Constructor, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	ctor, ok := drivers[name]
	return ctor, ok
}

// Registry instantiates and caches Connector instances from stored
// configuration (§4.D), decrypting credentials via the crypto vault.
type Registry struct {
	store storage.Store
	vault *crypto.Vault

	mu    sync.Mutex
	cache map[string]Connector
}

// NewRegistry constructs a Registry backed by store and vault.
func NewRegistry(store storage.Store, vault *crypto.Vault) *Registry {
	return &Registry{
		store: store,
		vault: vault,
		cache: make(map[string]Connector),
	}
}

// Get resolves a Connector by connector id: loads the row, refuses if
// inactive, decrypts credentials, constructs the driver, and caches the
// instance keyed by id.
func (r *Registry) Get(ctx context.Context, connectorID string) (Connector, error) {
	r.mu.Lock()
	if c, ok := r.cache[connectorID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	row, err := r.store.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, fmt.Errorf("connector registry: load %s: %w", connectorID, err)
	}
	if !row.Active {
		return nil, &synerr.ConfigurationError{Reason: fmt.Sprintf("connector %s is inactive", connectorID)}
	}

	ctor, ok := lookupDriver(row.Kind)
	if !ok {
		return nil, &synerr.ConfigurationError{Reason: fmt.Sprintf("unknown connector kind %q", row.Kind)}
	}

	creds, err := r.decryptCredentials(row)
	if err != nil {
		return nil, err
	}

	inst := ctor(Config{
		ConnectorID: row.ID,
		BaseURL:     row.BaseURL,
		Endpoint:    row.Endpoint,
		AuthKind:    string(row.AuthKind),
		Credentials: creds,
		Metadata:    row.Metadata,
	})

	r.mu.Lock()
	r.cache[connectorID] = inst
	r.mu.Unlock()

	return inst, nil
}

// decryptCredentials unpacks the stored "k1=v1;k2=v2" blob after decryption.
// Returns *crypto.CredentialDecryptError if the vault cannot authenticate it.
func (r *Registry) decryptCredentials(row *types.Connector) (map[string]string, error) {
	if row.EncryptedCredentials == "" {
		return map[string]string{}, nil
	}
	plain, err := r.vault.DecryptString(row.EncryptedCredentials)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, kv := range strings.Split(plain, ";") {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

// ClearCache invalidates the cached instance for connectorID — called on
// config update or delete.
func (r *Registry) ClearCache(connectorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, connectorID)
}

// DiscoveredMetadata is the composite result of walking one connector's
// types, fields, and statuses.
type DiscoveredMetadata struct {
	Types    []types.WorkItemType
	Fields   []types.Field
	Statuses []types.Status
}

// DiscoverMetadata walks a connector's work-item types and, for each type,
// loads its fields and statuses in parallel, returning the composite.
func (r *Registry) DiscoverMetadata(ctx context.Context, connectorID string) (*DiscoveredMetadata, error) {
	drv, err := r.Get(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	rawTypes, err := drv.GetWorkItemTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("connector registry: discover types: %w", err)
	}

	result := &DiscoveredMetadata{}
	for _, rt := range rawTypes {
		result.Types = append(result.Types, types.WorkItemType{
			ConnectorID: connectorID,
			TypeName:    rt.TypeName,
			TypeID:      rt.TypeID,
		})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, rt := range rawTypes {
		wg.Add(1)
		go func(typeID string) {
			defer wg.Done()

			fields, ferr := drv.GetFields(ctx, typeID)
			statuses, serr := drv.GetStatuses(ctx, typeID)

			mu.Lock()
			defer mu.Unlock()
			if ferr != nil && firstErr == nil {
				firstErr = fmt.Errorf("discover fields for %s: %w", typeID, ferr)
			}
			if serr != nil && firstErr == nil {
				firstErr = fmt.Errorf("discover statuses for %s: %w", typeID, serr)
			}
			for _, f := range fields {
				result.Fields = append(result.Fields, types.Field{
					ConnectorID:     connectorID,
					TypeID:          typeID,
					ReferenceName:   f.ReferenceName,
					DisplayName:     f.DisplayName,
					DataType:        types.DataType(f.DataType),
					Required:        f.Required,
					ReadOnly:        f.ReadOnly,
					AllowedValues:   f.AllowedValues,
					DefaultValue:    f.DefaultValue,
					SuggestionScore: scoreField(f),
				})
			}
			for _, s := range statuses {
				result.Statuses = append(result.Statuses, types.Status{
					ConnectorID: connectorID,
					TypeID:      typeID,
					Name:        s.Name,
					Value:       s.Value,
					Category:    types.StatusCategory(s.Category),
					SortOrder:   s.SortOrder,
				})
			}
		}(rt.TypeID)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	return result, nil
}

// commonCoreReferences get a suggestion-score bonus: they are the fields a
// human would map first when wiring up a new sync configuration.
var commonCoreReferences = map[string]bool{
	"title": true, "description": true, "state": true,
	"status": true, "priority": true, "type": true,
}

// scoreField computes the 0-100 suggestion score used to pre-rank
// field-mapping suggestions during discovery (§4.D).
func scoreField(f FieldMeta) int {
	score := 0
	ref := strings.ToLower(f.ReferenceName)
	if commonCoreReferences[ref] {
		score += 50
	}
	if f.Required {
		score += 30
	}
	if f.ReadOnly {
		score -= 40
	}
	switch types.DataType(f.DataType) {
	case types.DataString, types.DataBoolean, types.DataPicklist:
		score += 20
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// SaveDiscoveredMetadata persists a DiscoveredMetadata composite atomically,
// upserting by (connectorId, typeName) and (typeId, fieldReference)/(typeId, statusName).
func (r *Registry) SaveDiscoveredMetadata(ctx context.Context, connectorID string, md *DiscoveredMetadata) error {
	return r.store.SaveDiscoveredMetadata(ctx, connectorID, md.Types, md.Fields, md.Statuses)
}
