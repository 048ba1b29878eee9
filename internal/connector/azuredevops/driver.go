package azuredevops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syncmesh/syncmesh/internal/connector"
)

func init() {
	connector.Register("azuredevops", func(cfg connector.Config) connector.Connector {
		return &Driver{cfg: cfg}
	})
}

// Driver implements connector.Connector against Azure DevOps Work Item
// Tracking. It authenticates with a personal access token, the only auth
// kind Azure DevOps's REST API exposes for this API surface.
type Driver struct {
	cfg    connector.Config
	client *Client
}

func (d *Driver) Connect(ctx context.Context) error {
	pat, ok := d.cfg.Credentials["token"]
	if !ok || pat == "" {
		return fmt.Errorf("azuredevops: missing credential %q", "token")
	}
	if d.cfg.BaseURL == "" {
		return fmt.Errorf("azuredevops: base_url is required (e.g. https://dev.azure.com/myorg)")
	}
	if d.cfg.Endpoint == "" {
		return fmt.Errorf("azuredevops: endpoint (project name) is required")
	}
	d.client = NewClient(d.cfg.BaseURL, d.cfg.Endpoint, pat)
	return nil
}

func (d *Driver) TestConnection(ctx context.Context) (connector.TestResult, error) {
	if d.client == nil {
		if err := d.Connect(ctx); err != nil {
			return connector.TestResult{Success: false, Message: err.Error()}, nil
		}
	}
	types, err := d.client.GetWorkItemTypes(ctx)
	if err != nil {
		return connector.TestResult{Success: false, Message: err.Error()}, nil
	}
	return connector.TestResult{
		Success: true,
		Message: "connected",
		Details: map[string]string{"work_item_types": strconv.Itoa(len(types))},
	}, nil
}

func (d *Driver) GetWorkItemTypes(ctx context.Context) ([]connector.WorkItemTypeMeta, error) {
	names, err := d.client.GetWorkItemTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]connector.WorkItemTypeMeta, 0, len(names))
	for _, n := range names {
		out = append(out, connector.WorkItemTypeMeta{TypeID: n, TypeName: n})
	}
	return out, nil
}

func (d *Driver) GetStatuses(ctx context.Context, typeID string) ([]connector.StatusMeta, error) {
	states, err := d.client.GetStates(ctx, typeID)
	if err != nil {
		return nil, err
	}
	out := make([]connector.StatusMeta, 0, len(states))
	for i, name := range states {
		out = append(out, connector.StatusMeta{
			Name:      name,
			Value:     name,
			Category:  categorizeState(name),
			SortOrder: i,
		})
	}
	return out, nil
}

// categorizeState maps Azure DevOps' free-text state names onto the
// canonical status categories by common naming convention; a precise
// mapping would require the process's work item type layout, which this
// driver does not fetch.
func categorizeState(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "new") || strings.Contains(lower, "proposed") || strings.Contains(lower, "to do"):
		return "proposed"
	case strings.Contains(lower, "done") || strings.Contains(lower, "closed") || strings.Contains(lower, "resolved") || strings.Contains(lower, "completed"):
		return "completed"
	case strings.Contains(lower, "removed") || strings.Contains(lower, "cut"):
		return "removed"
	default:
		return "in_progress"
	}
}

func (d *Driver) GetFields(ctx context.Context, typeID string) ([]connector.FieldMeta, error) {
	fields, err := d.client.GetFields(ctx, typeID)
	if err != nil {
		return nil, err
	}
	out := make([]connector.FieldMeta, 0, len(fields))
	for _, f := range fields {
		out = append(out, connector.FieldMeta{
			ReferenceName: f.ReferenceName,
			DisplayName:   f.Name,
			DataType:      "string",
			Required:      f.Required,
			ReadOnly:      f.ReadOnly,
		})
	}
	return out, nil
}

func toWorkItem(wi *workItem) *connector.WorkItem {
	typ, _ := wi.Fields["System.WorkItemType"].(string)
	return &connector.WorkItem{
		ID:     strconv.Itoa(wi.ID),
		Type:   typ,
		Rev:    strconv.Itoa(wi.Rev),
		Fields: wi.Fields,
	}
}

func (d *Driver) GetWorkItem(ctx context.Context, id string) (*connector.WorkItem, error) {
	wi, err := d.client.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return toWorkItem(wi), nil
}

func (d *Driver) QueryWorkItems(ctx context.Context, filter string) ([]connector.WorkItem, error) {
	wiql := filter
	if wiql == "" {
		wiql = fmt.Sprintf("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '%s' ORDER BY [System.ChangedDate] DESC", d.cfg.Endpoint)
	}
	items, err := d.client.QueryWorkItems(ctx, wiql)
	if err != nil {
		return nil, err
	}
	out := make([]connector.WorkItem, 0, len(items))
	for i := range items {
		out = append(out, *toWorkItem(&items[i]))
	}
	return out, nil
}

func (d *Driver) CreateWorkItem(ctx context.Context, typ string, fields map[string]interface{}) (*connector.WorkItem, error) {
	wi, err := d.client.CreateWorkItem(ctx, typ, fields)
	if err != nil {
		return nil, err
	}
	return toWorkItem(wi), nil
}

func (d *Driver) UpdateWorkItem(ctx context.Context, id string, fields map[string]interface{}) (*connector.WorkItem, error) {
	wi, err := d.client.UpdateWorkItem(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	return toWorkItem(wi), nil
}

func (d *Driver) DeleteWorkItem(ctx context.Context, id string) error {
	return d.client.DeleteWorkItem(ctx, id)
}

func (d *Driver) GetComments(ctx context.Context, workItemID string) ([]connector.Comment, error) {
	comments, err := d.client.GetComments(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	out := make([]connector.Comment, 0, len(comments))
	for _, c := range comments {
		created, _ := time.Parse(time.RFC3339, c.CreatedDate)
		out = append(out, connector.Comment{
			ID:        strconv.Itoa(c.ID),
			Author:    c.CreatedBy.DisplayName,
			Text:      c.Text,
			CreatedAt: created,
		})
	}
	return out, nil
}

func (d *Driver) AddComment(ctx context.Context, workItemID string, text string) (*connector.Comment, error) {
	c, err := d.client.AddComment(ctx, workItemID, text)
	if err != nil {
		return nil, err
	}
	return &connector.Comment{ID: strconv.Itoa(c.ID), Text: c.Text, Author: c.CreatedBy.DisplayName}, nil
}

func (d *Driver) GetWorkItemRelations(ctx context.Context, workItemID string) ([]connector.Relation, error) {
	wi, err := d.client.GetWorkItem(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	relations, _ := wi.Fields["relations"].([]interface{})
	out := make([]connector.Relation, 0, len(relations))
	for _, r := range relations {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		rel, _ := m["rel"].(string)
		url, _ := m["url"].(string)
		parts := strings.Split(url, "/")
		out = append(out, connector.Relation{LinkedWorkItemID: parts[len(parts)-1], RelationKind: rel})
	}
	return out, nil
}

func (d *Driver) AddWorkItemRelation(ctx context.Context, workItemID string, rel connector.Relation) error {
	return d.client.AddRelation(ctx, workItemID, rel.LinkedWorkItemID, rel.RelationKind)
}

func (d *Driver) GetHistory(ctx context.Context, workItemID string) ([]connector.WorkItem, error) {
	updates, err := d.client.GetUpdates(ctx, workItemID)
	if err != nil {
		return nil, err
	}
	out := make([]connector.WorkItem, 0, len(updates))
	for i := range updates {
		out = append(out, *toWorkItem(&updates[i]))
	}
	return out, nil
}

func (d *Driver) GetWorkItemURL(workItemID string) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%s", d.cfg.BaseURL, d.cfg.Endpoint, workItemID)
}

// TransformFieldValue applies driver-specific canonicalization for values
// that differ in shape between Azure DevOps and other systems (e.g. its
// assignee fields are `{displayName, uniqueName}` objects).
func (d *Driver) TransformFieldValue(reference string, value interface{}, sourceKind string) interface{} {
	if reference == connector.RefAssignee {
		if m, ok := value.(map[string]interface{}); ok {
			if name, ok := m["displayName"].(string); ok {
				return name
			}
		}
	}
	return value
}

func (d *Driver) Capabilities() connector.Capabilities {
	return connector.Capabilities{
		Create:        true,
		Update:        true,
		Delete:        true,
		Query:         true,
		Comments:      true,
		Links:         true,
		History:       true,
		Bidirectional: true,
		Webhooks:      true,
		Realtime:      false,
	}
}
