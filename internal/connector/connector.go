// Package connector defines the uniform capability surface (§4.C) that
// every remote-tracker driver implements, plus the canonical field
// reference-name vocabulary that lets heterogeneous drivers interoperate.
package connector

import (
	"context"
	"time"
)

// Identity is the canonical representation of a person/user field.
type Identity struct {
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName,omitempty"`
}

// WorkItem is the canonical form an adapter returns for one remote issue.
type WorkItem struct {
	ID     string                 `json:"id"`
	Type   string                 `json:"type"`
	Rev    string                 `json:"rev"`
	Fields map[string]interface{} `json:"fields"`
}

// Comment is the canonical form of one remote comment.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Relation is the canonical form of one remote work-item link.
type Relation struct {
	LinkedWorkItemID string `json:"linkedWorkItemId"`
	RelationKind     string `json:"relationKind"`
}

// Capabilities is the boolean matrix a driver advertises; the engine treats
// an absent optional capability as a non-fatal skip (§9).
type Capabilities struct {
	Create        bool
	Update        bool
	Delete        bool
	Query         bool
	Comments      bool
	Links         bool
	History       bool
	Bidirectional bool
	Webhooks      bool
	Realtime      bool
}

// TestResult is the outcome of a cheap connectivity check.
type TestResult struct {
	Success bool
	Message string
	Details map[string]string
}

// Canonical reference names recognized across all drivers (§4.C).
const (
	RefTitle         = "title"
	RefDescription   = "description"
	RefState         = "state"
	RefType          = "type"
	RefPriority      = "priority"
	RefAssignee      = "assignee"
	RefCreatedDate   = "createdDate"
	RefChangedDate   = "changedDate"
	RefAreaPath      = "areaPath"
	RefIterationPath = "iterationPath"
)

// Connector is the polymorphic interface every driver variant implements.
// Optional operations (comments, links, history, attachments) may return
// *synerr.NotSupported when the matching Capabilities flag is false; the
// engine checks Capabilities() before calling them rather than relying on
// dynamic dispatch (§9).
type Connector interface {
	Connect(ctx context.Context) error
	TestConnection(ctx context.Context) (TestResult, error)

	GetWorkItemTypes(ctx context.Context) ([]WorkItemTypeMeta, error)
	GetStatuses(ctx context.Context, typeID string) ([]StatusMeta, error)
	GetFields(ctx context.Context, typeID string) ([]FieldMeta, error)

	GetWorkItem(ctx context.Context, id string) (*WorkItem, error)
	QueryWorkItems(ctx context.Context, filter string) ([]WorkItem, error)

	CreateWorkItem(ctx context.Context, typ string, fields map[string]interface{}) (*WorkItem, error)
	UpdateWorkItem(ctx context.Context, id string, fields map[string]interface{}) (*WorkItem, error)
	DeleteWorkItem(ctx context.Context, id string) error

	GetComments(ctx context.Context, workItemID string) ([]Comment, error)
	AddComment(ctx context.Context, workItemID string, text string) (*Comment, error)
	GetWorkItemRelations(ctx context.Context, workItemID string) ([]Relation, error)
	AddWorkItemRelation(ctx context.Context, workItemID string, rel Relation) error
	GetHistory(ctx context.Context, workItemID string) ([]WorkItem, error)

	GetWorkItemURL(workItemID string) string
	TransformFieldValue(reference string, value interface{}, sourceKind string) interface{}
	Capabilities() Capabilities
}

// WorkItemTypeMeta, StatusMeta, and FieldMeta mirror types.WorkItemType,
// types.Status, and types.Field but are the shape a driver's discovery
// methods return before the registry persists them.
type WorkItemTypeMeta struct {
	TypeID   string
	TypeName string
}

type StatusMeta struct {
	Name      string
	Value     string
	Category  string
	SortOrder int
}

type FieldMeta struct {
	ReferenceName string
	DisplayName   string
	DataType      string
	Required      bool
	ReadOnly      bool
	AllowedValues []string
	DefaultValue  interface{}
}

// Config is the decrypted, ready-to-use configuration handed to a driver
// constructor by the registry (§4.D): base URL, project/site scoping, and
// credentials already decrypted from storage.
type Config struct {
	ConnectorID string
	BaseURL     string
	Endpoint    string
	AuthKind    string
	Credentials map[string]string // e.g. {"token": "..."} or {"username":..,"password":..}
	Metadata    map[string]string
}

// Constructor builds a fresh, unconnected driver instance from a resolved Config.
type Constructor func(cfg Config) Connector
