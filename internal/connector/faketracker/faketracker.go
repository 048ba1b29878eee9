// Package faketracker is an in-memory connector.Connector used by engine,
// queue, and scheduler tests that need a real driver without a live remote
// tracker, mirroring the teacher's storage/memory pattern one layer up the
// stack.
package faketracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/synerr"
)

func init() {
	connector.Register("faketracker", func(cfg connector.Config) connector.Connector {
		return New(cfg.ConnectorID)
	})
}

// Driver is a fully in-process connector.Connector backed by maps, built
// to be seeded directly by tests via SeedType/SeedItem rather than through
// Connect.
type Driver struct {
	name string

	mu       sync.Mutex
	items    map[string]*connector.WorkItem
	comments map[string][]connector.Comment
	links    map[string][]connector.Relation
	types    []connector.WorkItemTypeMeta
	statuses map[string][]connector.StatusMeta
	fields   map[string][]connector.FieldMeta
	nextID   int

	caps       connector.Capabilities
	connectErr error
	failGetIDs map[string]bool
	itemDelay  time.Duration
}

// New returns an empty Driver. name prefixes the ids CreateWorkItem assigns
// ("<name>-<n>") and appears in its URLs and NotSupported errors.
func New(name string) *Driver {
	return &Driver{
		name:     name,
		items:    map[string]*connector.WorkItem{},
		comments: map[string][]connector.Comment{},
		links:    map[string][]connector.Relation{},
		statuses: map[string][]connector.StatusMeta{},
		fields:   map[string][]connector.FieldMeta{},
		caps: connector.Capabilities{
			Create: true, Update: true, Delete: true, Query: true,
			Comments: true, Links: true, History: false, Bidirectional: true,
		},
		failGetIDs: map[string]bool{},
	}
}

// SeedType registers a work item type with its fields/statuses for discovery.
func (d *Driver) SeedType(typeName string, fields []connector.FieldMeta, statuses []connector.StatusMeta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.types = append(d.types, connector.WorkItemTypeMeta{TypeID: typeName, TypeName: typeName})
	d.fields[typeName] = fields
	d.statuses[typeName] = statuses
}

// SeedItem inserts or overwrites a work item by id.
func (d *Driver) SeedItem(item connector.WorkItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := item
	d.items[item.ID] = &cp
}

// FailGet forces GetWorkItem(id) to return an error, simulating a deleted
// or unreachable remote item for deletion-conflict tests.
func (d *Driver) FailGet(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failGetIDs[id] = true
}

// SetCapabilities overrides the default capability matrix.
func (d *Driver) SetCapabilities(c connector.Capabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = c
}

// SetConnectError makes Connect fail, for registry/engine error-path tests.
func (d *Driver) SetConnectError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// SetItemDelay makes GetWorkItem, CreateWorkItem and UpdateWorkItem pause
// for delay (honoring ctx cancellation)
// before returning, simulating a slow remote call so tests can observe
// mid-execution cancellation between item iterations.
func (d *Driver) SetItemDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.itemDelay = delay
}

func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectErr
}

func (d *Driver) TestConnection(ctx context.Context) (connector.TestResult, error) {
	return connector.TestResult{Success: true, Message: "ok"}, nil
}

func (d *Driver) GetWorkItemTypes(ctx context.Context) ([]connector.WorkItemTypeMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]connector.WorkItemTypeMeta{}, d.types...), nil
}

func (d *Driver) GetStatuses(ctx context.Context, typeID string) ([]connector.StatusMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]connector.StatusMeta{}, d.statuses[typeID]...), nil
}

func (d *Driver) GetFields(ctx context.Context, typeID string) ([]connector.FieldMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]connector.FieldMeta{}, d.fields[typeID]...), nil
}

// waitItemDelay pauses for the configured itemDelay, honoring ctx
// cancellation, before a simulated remote call proceeds.
func (d *Driver) waitItemDelay(ctx context.Context) error {
	d.mu.Lock()
	delay := d.itemDelay
	d.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) GetWorkItem(ctx context.Context, id string) (*connector.WorkItem, error) {
	if err := d.waitItemDelay(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failGetIDs[id] {
		return nil, &synerr.ItemNotFound{ItemID: id}
	}
	item, ok := d.items[id]
	if !ok {
		return nil, &synerr.ItemNotFound{ItemID: id}
	}
	cp := *item
	return &cp, nil
}

// QueryWorkItems ignores filter and returns every item not marked by
// FailGet, sorted by id, standing in for a driver-native query form.
func (d *Driver) QueryWorkItems(ctx context.Context, filter string) ([]connector.WorkItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]connector.WorkItem, 0, len(d.items))
	for _, it := range d.items {
		if d.failGetIDs[it.ID] {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Driver) CreateWorkItem(ctx context.Context, typ string, fields map[string]interface{}) (*connector.WorkItem, error) {
	if err := d.waitItemDelay(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("%s-%d", d.name, d.nextID)
	item := &connector.WorkItem{ID: id, Type: typ, Rev: "1", Fields: copyFields(fields)}
	d.items[id] = item
	cp := *item
	return &cp, nil
}

func (d *Driver) UpdateWorkItem(ctx context.Context, id string, fields map[string]interface{}) (*connector.WorkItem, error) {
	if err := d.waitItemDelay(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.items[id]
	if !ok {
		return nil, &synerr.ItemNotFound{ItemID: id}
	}
	if item.Fields == nil {
		item.Fields = map[string]interface{}{}
	}
	for k, v := range fields {
		item.Fields[k] = v
	}
	item.Rev = fmt.Sprintf("%v", revNext(item.Rev))
	cp := *item
	return &cp, nil
}

func (d *Driver) DeleteWorkItem(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, id)
	return nil
}

func (d *Driver) GetComments(ctx context.Context, workItemID string) ([]connector.Comment, error) {
	if !d.caps.Comments {
		return nil, &synerr.NotSupported{Connector: d.name, Operation: "comments"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]connector.Comment{}, d.comments[workItemID]...), nil
}

func (d *Driver) AddComment(ctx context.Context, workItemID string, text string) (*connector.Comment, error) {
	if !d.caps.Comments {
		return nil, &synerr.NotSupported{Connector: d.name, Operation: "comments"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	c := connector.Comment{ID: fmt.Sprintf("c-%d", d.nextID), Author: "faketracker", Text: text}
	d.comments[workItemID] = append(d.comments[workItemID], c)
	return &c, nil
}

func (d *Driver) GetWorkItemRelations(ctx context.Context, workItemID string) ([]connector.Relation, error) {
	if !d.caps.Links {
		return nil, &synerr.NotSupported{Connector: d.name, Operation: "links"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]connector.Relation{}, d.links[workItemID]...), nil
}

func (d *Driver) AddWorkItemRelation(ctx context.Context, workItemID string, rel connector.Relation) error {
	if !d.caps.Links {
		return &synerr.NotSupported{Connector: d.name, Operation: "links"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links[workItemID] = append(d.links[workItemID], rel)
	return nil
}

func (d *Driver) GetHistory(ctx context.Context, workItemID string) ([]connector.WorkItem, error) {
	return nil, &synerr.NotSupported{Connector: d.name, Operation: "history"}
}

func (d *Driver) GetWorkItemURL(workItemID string) string {
	return fmt.Sprintf("fake://%s/%s", d.name, workItemID)
}

func (d *Driver) TransformFieldValue(reference string, value interface{}, sourceKind string) interface{} {
	return value
}

func (d *Driver) Capabilities() connector.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func revNext(rev string) int {
	n := 0
	fmt.Sscanf(rev, "%d", &n)
	return n + 1
}
