// Package memory implements storage.Store entirely in process memory.
// It exists for engine/unit tests that need a real Store without a
// database, mirroring the teacher's internal/storage/memory package used
// by its own webhook and tracker tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

// Store is an in-memory implementation of storage.Store, safe for
// concurrent use. All mutation goes through a single mutex; this is
// deliberately unoptimized since it only ever backs tests.
type Store struct {
	mu sync.Mutex

	connectors map[string]*types.Connector
	workTypes  map[string][]types.WorkItemType // by connectorID
	fields     map[string][]types.Field        // by connectorID
	statuses   map[string][]types.Status        // by connectorID

	configs       map[string]*types.SyncConfig
	typeMappings  map[string]*types.TypeMapping  // by id
	fieldMappings map[string][]types.FieldMapping // by typeMappingID
	statusMappings map[string][]types.StatusMapping // by typeMappingID

	syncedItems    map[string]*types.SyncedItem    // by id
	syncedComments map[string]*types.SyncedComment // by id
	syncedLinks    map[string]*types.SyncedLink    // by id

	versions map[string][]*types.WorkItemVersion // by config|connector|item

	conflicts   map[string]*types.SyncConflict
	resolutions []*types.ConflictResolution

	executions []*types.SyncExecution
	syncErrors []*types.SyncError

	webhooks  map[string]*types.Webhook // by token
	deliveries []*types.WebhookDelivery

	kv map[string]string
}

// New returns an empty in-memory store. The argument is accepted for
// symmetry with dolt.Open(dsn) and ignored.
func New(_ string) *Store {
	return &Store{
		connectors:     map[string]*types.Connector{},
		workTypes:      map[string][]types.WorkItemType{},
		fields:         map[string][]types.Field{},
		statuses:       map[string][]types.Status{},
		configs:        map[string]*types.SyncConfig{},
		typeMappings:   map[string]*types.TypeMapping{},
		fieldMappings:  map[string][]types.FieldMapping{},
		statusMappings: map[string][]types.StatusMapping{},
		syncedItems:    map[string]*types.SyncedItem{},
		syncedComments: map[string]*types.SyncedComment{},
		syncedLinks:    map[string]*types.SyncedLink{},
		versions:       map[string][]*types.WorkItemVersion{},
		conflicts:      map[string]*types.SyncConflict{},
		webhooks:       map[string]*types.Webhook{},
		kv:             map[string]string{},
	}
}

func newID() string { return uuid.NewString() }

func (s *Store) Close() error { return nil }

// --- Connectors ---

func (s *Store) CreateConnector(_ context.Context, c *types.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	cp := *c
	s.connectors[c.ID] = &cp
	return nil
}

func (s *Store) GetConnector(_ context.Context, id string) (*types.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[id]
	if !ok {
		return nil, synerr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateConnector(_ context.Context, c *types.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connectors[c.ID]; !ok {
		return synerr.ErrNotFound
	}
	cp := *c
	s.connectors[c.ID] = &cp
	return nil
}

func (s *Store) DeleteConnector(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connectors, id)
	delete(s.workTypes, id)
	delete(s.fields, id)
	delete(s.statuses, id)
	return nil
}

func (s *Store) ListConnectors(_ context.Context) ([]*types.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Discovery metadata ---

func (s *Store) SaveDiscoveredMetadata(_ context.Context, connectorID string, wts []types.WorkItemType, fields []types.Field, statuses []types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existingTypes := s.workTypes[connectorID]
	byName := map[string]int{}
	for i, t := range existingTypes {
		byName[t.TypeName] = i
	}
	for _, t := range wts {
		if t.ID == "" {
			t.ID = newID()
		}
		if idx, ok := byName[t.TypeName]; ok {
			existingTypes[idx] = t
		} else {
			existingTypes = append(existingTypes, t)
		}
	}
	s.workTypes[connectorID] = existingTypes

	existingFields := s.fields[connectorID]
	byRef := map[string]int{}
	for i, f := range existingFields {
		byRef[f.TypeID+"|"+f.ReferenceName] = i
	}
	for _, f := range fields {
		if f.ID == "" {
			f.ID = newID()
		}
		key := f.TypeID + "|" + f.ReferenceName
		if idx, ok := byRef[key]; ok {
			existingFields[idx] = f
		} else {
			existingFields = append(existingFields, f)
		}
	}
	s.fields[connectorID] = existingFields

	existingStatuses := s.statuses[connectorID]
	byStatusName := map[string]int{}
	for i, st := range existingStatuses {
		byStatusName[st.TypeID+"|"+st.Name] = i
	}
	for _, st := range statuses {
		if st.ID == "" {
			st.ID = newID()
		}
		key := st.TypeID + "|" + st.Name
		if idx, ok := byStatusName[key]; ok {
			existingStatuses[idx] = st
		} else {
			existingStatuses = append(existingStatuses, st)
		}
	}
	s.statuses[connectorID] = existingStatuses

	return nil
}

func (s *Store) ListWorkItemTypes(_ context.Context, connectorID string) ([]types.WorkItemType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.WorkItemType{}, s.workTypes[connectorID]...), nil
}

func (s *Store) ListFields(_ context.Context, connectorID, typeID string) ([]types.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Field
	for _, f := range s.fields[connectorID] {
		if f.TypeID == typeID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) ListStatuses(_ context.Context, connectorID, typeID string) ([]types.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Status
	for _, st := range s.statuses[connectorID] {
		if st.TypeID == typeID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) GetWorkItemTypeByName(_ context.Context, connectorID, name string) (*types.WorkItemType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.workTypes[connectorID] {
		if t.TypeName == name {
			cp := t
			return &cp, nil
		}
	}
	return nil, synerr.ErrNotFound
}

func (s *Store) GetFieldByReference(_ context.Context, connectorID, typeID, reference string) (*types.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fields[connectorID] {
		if f.TypeID == typeID && f.ReferenceName == reference {
			cp := f
			return &cp, nil
		}
	}
	return nil, synerr.ErrNotFound
}

func (s *Store) GetWorkItemTypeByID(_ context.Context, id string) (*types.WorkItemType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.workTypes {
		for _, t := range ts {
			if t.ID == id {
				cp := t
				return &cp, nil
			}
		}
	}
	return nil, synerr.ErrNotFound
}

func (s *Store) GetStatusByID(_ context.Context, id string) (*types.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sts := range s.statuses {
		for _, st := range sts {
			if st.ID == id {
				cp := st
				return &cp, nil
			}
		}
	}
	return nil, synerr.ErrNotFound
}

func (s *Store) GetFieldByID(_ context.Context, id string) (*types.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fs := range s.fields {
		for _, f := range fs {
			if f.ID == id {
				cp := f
				return &cp, nil
			}
		}
	}
	return nil, synerr.ErrNotFound
}

// --- Sync configs ---

func (s *Store) CreateSyncConfig(_ context.Context, c *types.SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	cp := *c
	s.configs[c.ID] = &cp
	return nil
}

func (s *Store) GetSyncConfig(_ context.Context, id string) (*types.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok {
		return nil, synerr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateSyncConfig(_ context.Context, c *types.SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[c.ID]; !ok {
		return synerr.ErrNotFound
	}
	cp := *c
	s.configs[c.ID] = &cp
	return nil
}

func (s *Store) DeleteSyncConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, id)
	return nil
}

func (s *Store) ListSyncConfigs(_ context.Context) ([]*types.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.SyncConfig, 0, len(s.configs))
	for _, c := range s.configs {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListActiveScheduledConfigs(ctx context.Context) ([]*types.SyncConfig, error) {
	all, err := s.ListSyncConfigs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.SyncConfig
	for _, c := range all {
		if c.Active && c.TriggerKind == types.TriggerScheduled && c.CronExpr != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) SetLastSyncAt(_ context.Context, configID string, snapshot types.SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[configID]
	if !ok {
		return synerr.ErrNotFound
	}
	c.LastSyncAt = snapshot.LastSyncAt
	return nil
}

// --- Mappings ---

func (s *Store) CreateTypeMapping(_ context.Context, m *types.TypeMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = newID()
	}
	cp := *m
	s.typeMappings[m.ID] = &cp
	return nil
}

func (s *Store) CreateFieldMapping(_ context.Context, m *types.FieldMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = newID()
	}
	s.fieldMappings[m.TypeMappingID] = append(s.fieldMappings[m.TypeMappingID], *m)
	return nil
}

func (s *Store) CreateStatusMapping(_ context.Context, m *types.StatusMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = newID()
	}
	s.statusMappings[m.TypeMappingID] = append(s.statusMappings[m.TypeMappingID], *m)
	return nil
}

func (s *Store) LoadMappings(_ context.Context, configID string) (*storage.MappingSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := &storage.MappingSet{
		Fields:   map[string][]types.FieldMapping{},
		Statuses: map[string][]types.StatusMapping{},
	}
	for _, tm := range s.typeMappings {
		if tm.SyncConfigID != configID {
			continue
		}
		set.Types = append(set.Types, *tm)
		set.Fields[tm.ID] = append([]types.FieldMapping{}, s.fieldMappings[tm.ID]...)
		set.Statuses[tm.ID] = append([]types.StatusMapping{}, s.statusMappings[tm.ID]...)
	}
	sort.Slice(set.Types, func(i, j int) bool { return set.Types[i].ID < set.Types[j].ID })
	return set, nil
}

// --- Synced items ---

func syncedItemKey(configID, sourceConnectorID, sourceItemID string) string {
	return configID + "|" + sourceConnectorID + "|" + sourceItemID
}

func (s *Store) GetSyncedItemBySource(_ context.Context, configID, sourceConnectorID, sourceItemID string) (*types.SyncedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.syncedItems {
		if it.SyncConfigID == configID && it.SourceConnectorID == sourceConnectorID && it.SourceItemID == sourceItemID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, synerr.ErrNotFound
}

func (s *Store) UpsertSyncedItem(_ context.Context, item *types.SyncedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, it := range s.syncedItems {
		if it.SyncConfigID == item.SyncConfigID && it.SourceConnectorID == item.SourceConnectorID && it.SourceItemID == item.SourceItemID {
			if item.ID == "" {
				item.ID = id
			} else if item.ID != id {
				return synerr.ErrConflictRow
			}
			cp := *item
			s.syncedItems[id] = &cp
			return nil
		}
	}
	if item.ID == "" {
		item.ID = newID()
	}
	cp := *item
	s.syncedItems[item.ID] = &cp
	return nil
}

func (s *Store) ListSyncedItems(_ context.Context, configID string) ([]*types.SyncedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.SyncedItem
	for _, it := range s.syncedItems {
		if it.SyncConfigID == configID {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceItemID < out[j].SourceItemID })
	return out, nil
}

func (s *Store) GetSyncedCommentBySource(_ context.Context, syncedItemID, sourceCommentID string) (*types.SyncedComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.syncedComments {
		if c.SyncedItemID == syncedItemID && c.SourceCommentID == sourceCommentID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, synerr.ErrNotFound
}

func (s *Store) UpsertSyncedComment(_ context.Context, c *types.SyncedComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	cp := *c
	s.syncedComments[c.ID] = &cp
	return nil
}

func (s *Store) GetSyncedLinkBySource(_ context.Context, syncedItemID, sourceLinkedItemID string) (*types.SyncedLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.syncedLinks {
		if l.SyncedItemID == syncedItemID && l.SourceLinkedItemID == sourceLinkedItemID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, synerr.ErrNotFound
}

func (s *Store) UpsertSyncedLink(_ context.Context, l *types.SyncedLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.syncedLinks {
		if existing.SyncedItemID == l.SyncedItemID && existing.SourceLinkedItemID == l.SourceLinkedItemID {
			if l.ID == "" {
				l.ID = id
			}
			cp := *l
			s.syncedLinks[id] = &cp
			return nil
		}
	}
	if l.ID == "" {
		l.ID = newID()
	}
	cp := *l
	s.syncedLinks[l.ID] = &cp
	return nil
}

func (s *Store) ListPendingLinks(_ context.Context, configID string) ([]*types.SyncedLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	itemIDs := map[string]bool{}
	for _, it := range s.syncedItems {
		if it.SyncConfigID == configID {
			itemIDs[it.ID] = true
		}
	}
	var out []*types.SyncedLink
	for _, l := range s.syncedLinks {
		if l.Status == types.SyncedItemPending && itemIDs[l.SyncedItemID] {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Versions ---

func versionKey(configID, connectorID, workItemID string) string {
	return configID + "|" + connectorID + "|" + workItemID
}

func (s *Store) LatestVersion(_ context.Context, configID, connectorID, workItemID string) (*types.WorkItemVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.versions[versionKey(configID, connectorID, workItemID)]
	if len(list) == 0 {
		return nil, synerr.ErrNotFound
	}
	latest := list[0]
	for _, v := range list {
		if v.Version > latest.Version {
			latest = v
		}
	}
	cp := *latest
	return &cp, nil
}

// AppendVersion assigns the next monotonic version number under the
// store's single mutex, matching §5's "strictly monotonic under a
// database-level transaction" requirement.
func (s *Store) AppendVersion(_ context.Context, v *types.WorkItemVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey(v.SyncConfigID, v.ConnectorID, v.WorkItemID)
	list := s.versions[key]
	max := 0
	for _, existing := range list {
		if existing.Version > max {
			max = existing.Version
		}
	}
	v.Version = max + 1
	if v.ID == "" {
		v.ID = newID()
	}
	if v.CapturedAt.IsZero() {
		v.CapturedAt = time.Now()
	}
	cp := *v
	s.versions[key] = append(list, &cp)
	return nil
}

// --- Conflicts ---

func (s *Store) SaveConflicts(_ context.Context, conflicts []*types.SyncConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range conflicts {
		if c.ID == "" {
			c.ID = newID()
		}
		if c.Status == "" {
			c.Status = types.ConflictUnresolved
		}
		cp := *c
		s.conflicts[c.ID] = &cp
	}
	return nil
}

func (s *Store) GetConflict(_ context.Context, id string) (*types.SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, synerr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateConflict(_ context.Context, c *types.SyncConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conflicts[c.ID]; !ok {
		return synerr.ErrNotFound
	}
	cp := *c
	s.conflicts[c.ID] = &cp
	return nil
}

func (s *Store) SaveResolution(_ context.Context, r *types.ConflictResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	s.resolutions = append(s.resolutions, r)
	return nil
}

func (s *Store) ListUnresolvedConflicts(_ context.Context, configID string) ([]*types.SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.SyncConflict
	for _, c := range s.conflicts {
		if c.SyncConfigID == configID && c.Status == types.ConflictUnresolved {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Executions ---

func (s *Store) CreateExecution(_ context.Context, e *types.SyncExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	cp := *e
	s.executions = append(s.executions, &cp)
	return nil
}

func (s *Store) UpdateExecution(_ context.Context, e *types.SyncExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.executions {
		if existing.ID == e.ID {
			cp := *e
			s.executions[i] = &cp
			return nil
		}
	}
	return synerr.ErrNotFound
}

func (s *Store) GetExecution(_ context.Context, id string) (*types.SyncExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.executions {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, synerr.ErrNotFound
}

func (s *Store) AppendSyncError(_ context.Context, e *types.SyncError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	s.syncErrors = append(s.syncErrors, e)
	return nil
}

// --- Webhooks ---

func (s *Store) CreateWebhook(_ context.Context, w *types.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = newID()
	}
	cp := *w
	s.webhooks[w.Token] = &cp
	return nil
}

func (s *Store) GetWebhookByToken(_ context.Context, token string) (*types.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[token]
	if !ok {
		return nil, synerr.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) RecordWebhookDelivery(_ context.Context, w *types.Webhook, d *types.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = newID()
	}
	s.deliveries = append(s.deliveries, d)
	if existing, ok := s.webhooks[w.Token]; ok {
		existing.TriggerCount = w.TriggerCount
		existing.LastTriggeredAt = w.LastTriggeredAt
	}
	return nil
}

// --- Generic config ---

func (s *Store) GetConfig(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv[key], nil
}

func (s *Store) SetConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

var _ storage.Store = (*Store)(nil)
