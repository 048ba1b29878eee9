package servicedeskplus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/syncmesh/syncmesh/internal/connector"
)

func init() {
	connector.Register("servicedeskplus", func(cfg connector.Config) connector.Connector {
		return &Driver{cfg: cfg}
	})
}

// Driver implements connector.Connector against ServiceDesk Plus. Unlike
// Azure DevOps, ServiceDesk Plus has essentially one work item type
// ("request"), so GetWorkItemTypes returns a single synthetic entry and
// GetStatuses/GetFields ignore their typeID argument.
type Driver struct {
	cfg    connector.Config
	client *Client
}

const requestTypeID = "request"

func (d *Driver) Connect(ctx context.Context) error {
	key, ok := d.cfg.Credentials["technician_key"]
	if !ok || key == "" {
		return fmt.Errorf("servicedeskplus: missing credential %q", "technician_key")
	}
	if d.cfg.BaseURL == "" {
		return fmt.Errorf("servicedeskplus: base_url is required")
	}
	d.client = NewClient(d.cfg.BaseURL, key)
	return nil
}

func (d *Driver) TestConnection(ctx context.Context) (connector.TestResult, error) {
	if d.client == nil {
		if err := d.Connect(ctx); err != nil {
			return connector.TestResult{Success: false, Message: err.Error()}, nil
		}
	}
	statuses, err := d.client.ListStatuses(ctx)
	if err != nil {
		return connector.TestResult{Success: false, Message: err.Error()}, nil
	}
	return connector.TestResult{Success: true, Message: "connected", Details: map[string]string{"statuses": fmt.Sprintf("%d", len(statuses))}}, nil
}

func (d *Driver) GetWorkItemTypes(ctx context.Context) ([]connector.WorkItemTypeMeta, error) {
	return []connector.WorkItemTypeMeta{{TypeID: requestTypeID, TypeName: "Request"}}, nil
}

func (d *Driver) GetStatuses(ctx context.Context, typeID string) ([]connector.StatusMeta, error) {
	statuses, err := d.client.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]connector.StatusMeta, 0, len(statuses))
	for i, s := range statuses {
		name := stringField(s, "name")
		out = append(out, connector.StatusMeta{
			Name:      name,
			Value:     name,
			Category:  categorizeStatus(name),
			SortOrder: i,
		})
	}
	return out, nil
}

func categorizeStatus(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "open") || strings.Contains(lower, "new"):
		return "proposed"
	case strings.Contains(lower, "closed") || strings.Contains(lower, "resolved"):
		return "completed"
	case strings.Contains(lower, "cancel"):
		return "removed"
	default:
		return "in_progress"
	}
}

// GetFields returns the fixed set of fields ServiceDesk Plus's request
// object always exposes; unlike Azure DevOps it has no metadata endpoint
// describing custom fields per template, so this is a static catalogue of
// the core request attributes.
func (d *Driver) GetFields(ctx context.Context, typeID string) ([]connector.FieldMeta, error) {
	return []connector.FieldMeta{
		{ReferenceName: "subject", DisplayName: "Subject", DataType: "string", Required: true},
		{ReferenceName: "description", DisplayName: "Description", DataType: "html"},
		{ReferenceName: "status", DisplayName: "Status", DataType: "picklist", Required: true},
		{ReferenceName: "priority", DisplayName: "Priority", DataType: "picklist"},
		{ReferenceName: "technician", DisplayName: "Technician", DataType: "identity"},
		{ReferenceName: "requester", DisplayName: "Requester", DataType: "identity", ReadOnly: true},
		{ReferenceName: "created_time", DisplayName: "Created Time", DataType: "datetime", ReadOnly: true},
	}, nil
}

func toWorkItem(id string, req map[string]interface{}) *connector.WorkItem {
	fields := map[string]interface{}{
		"subject":     stringField(req, "subject"),
		"description": stringField(req, "description"),
		"status":      stringField(req, "status"),
		"priority":    stringField(req, "priority"),
		"technician":  stringField(req, "technician"),
		"requester":   stringField(req, "requester"),
	}
	return &connector.WorkItem{ID: id, Type: requestTypeID, Rev: stringField(req, "udf_fields"), Fields: fields}
}

func (d *Driver) GetWorkItem(ctx context.Context, id string) (*connector.WorkItem, error) {
	req, err := d.client.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return toWorkItem(id, req), nil
}

func (d *Driver) QueryWorkItems(ctx context.Context, filter string) ([]connector.WorkItem, error) {
	var filterMap map[string]interface{}
	if filter != "" {
		filterMap = map[string]interface{}{"search_criteria": filter}
	}
	reqs, err := d.client.ListRequests(ctx, filterMap)
	if err != nil {
		return nil, err
	}
	out := make([]connector.WorkItem, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, *toWorkItem(stringField(r, "id"), r))
	}
	return out, nil
}

func (d *Driver) CreateWorkItem(ctx context.Context, typ string, fields map[string]interface{}) (*connector.WorkItem, error) {
	req, err := d.client.CreateRequest(ctx, fields)
	if err != nil {
		return nil, err
	}
	return toWorkItem(stringField(req, "id"), req), nil
}

func (d *Driver) UpdateWorkItem(ctx context.Context, id string, fields map[string]interface{}) (*connector.WorkItem, error) {
	req, err := d.client.UpdateRequest(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	return toWorkItem(id, req), nil
}

func (d *Driver) DeleteWorkItem(ctx context.Context, id string) error {
	return d.client.DeleteRequest(ctx, id)
}

func (d *Driver) GetComments(ctx context.Context, workItemID string) ([]connector.Comment, error) {
	notes, err := d.client.GetNotes(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	out := make([]connector.Comment, 0, len(notes))
	for _, n := range notes {
		created, _ := time.Parse(time.RFC3339, stringField(n, "created_time"))
		out = append(out, connector.Comment{
			ID:        stringField(n, "id"),
			Author:    stringField(n, "added_by"),
			Text:      stringField(n, "description"),
			CreatedAt: created,
		})
	}
	return out, nil
}

func (d *Driver) AddComment(ctx context.Context, workItemID string, text string) (*connector.Comment, error) {
	note, err := d.client.AddNote(ctx, workItemID, text)
	if err != nil {
		return nil, err
	}
	return &connector.Comment{ID: stringField(note, "id"), Text: text}, nil
}

// ServiceDesk Plus requests do not expose a generic linking API in the same
// way Azure DevOps does; link sync is therefore not supported by this
// driver (advertised via Capabilities().Links == false).
func (d *Driver) GetWorkItemRelations(ctx context.Context, workItemID string) ([]connector.Relation, error) {
	return nil, nil
}

func (d *Driver) AddWorkItemRelation(ctx context.Context, workItemID string, rel connector.Relation) error {
	return fmt.Errorf("servicedeskplus: work item links are not supported")
}

// GetHistory is not exposed by the ServiceDesk Plus REST API in a form
// comparable to Azure DevOps's per-revision updates feed.
func (d *Driver) GetHistory(ctx context.Context, workItemID string) ([]connector.WorkItem, error) {
	return nil, nil
}

func (d *Driver) GetWorkItemURL(workItemID string) string {
	return fmt.Sprintf("%s/WorkOrder.do?woMode=viewWO&woID=%s", d.cfg.BaseURL, workItemID)
}

func (d *Driver) TransformFieldValue(reference string, value interface{}, sourceKind string) interface{} {
	return value
}

func (d *Driver) Capabilities() connector.Capabilities {
	return connector.Capabilities{
		Create:        true,
		Update:        true,
		Delete:        true,
		Query:         true,
		Comments:      true,
		Links:         false,
		History:       false,
		Bidirectional: true,
		Webhooks:      true,
		Realtime:      false,
	}
}
