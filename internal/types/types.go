// Package types defines the persisted entities shared across syncmesh:
// connectors, sync configurations, mappings, the synced-item identity map,
// version snapshots, conflicts, executions, and jobs.
package types

import "time"

// AuthKind enumerates how a connector authenticates against its remote system.
type AuthKind string

const (
	AuthPAT    AuthKind = "pat"
	AuthAPIKey AuthKind = "apikey"
	AuthBasic  AuthKind = "basic"
)

// Connector is a configured remote system (one tenant/project/site of a driver kind).
type Connector struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	Kind                  string            `json:"kind"` // registered driver name, e.g. "azuredevops"
	BaseURL               string            `json:"base_url"`
	Endpoint              string            `json:"endpoint"` // project/site scoping
	AuthKind              AuthKind          `json:"auth_kind"`
	EncryptedCredentials  string            `json:"encrypted_credentials"` // hex iv||tag||ciphertext
	Active                bool              `json:"active"`
	Metadata              map[string]string `json:"metadata"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// DataType enumerates the canonical scalar kinds a Field can hold.
type DataType string

const (
	DataString   DataType = "string"
	DataInt      DataType = "int"
	DataDouble   DataType = "double"
	DataDateTime DataType = "datetime"
	DataHTML     DataType = "html"
	DataPicklist DataType = "picklist"
	DataIdentity DataType = "identity"
	DataBoolean  DataType = "boolean"
)

// StatusCategory buckets a remote status into its lifecycle stage.
type StatusCategory string

const (
	CategoryProposed   StatusCategory = "proposed"
	CategoryInProgress StatusCategory = "in_progress"
	CategoryCompleted  StatusCategory = "completed"
	CategoryRemoved    StatusCategory = "removed"
)

// WorkItemType is metadata discovered from a connector describing one issue type.
type WorkItemType struct {
	ID          string `json:"id"`
	ConnectorID string `json:"connector_id"`
	TypeName    string `json:"type_name"`
	TypeID      string `json:"type_id"` // driver-native identifier
}

// Field is metadata discovered from a connector describing one field of a type.
type Field struct {
	ID            string      `json:"id"`
	ConnectorID   string      `json:"connector_id"`
	TypeID        string      `json:"type_id"`
	ReferenceName string      `json:"reference_name"`
	DisplayName   string      `json:"display_name"`
	DataType      DataType    `json:"data_type"`
	Required      bool        `json:"required"`
	ReadOnly      bool        `json:"read_only"`
	AllowedValues []string    `json:"allowed_values,omitempty"`
	DefaultValue  interface{} `json:"default_value,omitempty"`
	// SuggestionScore ranks this field (0-100) for default field-mapping
	// suggestions; see §4.D.
	SuggestionScore int `json:"suggestion_score"`
}

// Status is metadata discovered from a connector describing one workflow state.
type Status struct {
	ID          string         `json:"id"`
	ConnectorID string         `json:"connector_id"`
	TypeID      string         `json:"type_id"`
	Name        string         `json:"name"`
	Value       string         `json:"value"`
	Category    StatusCategory `json:"category"`
	SortOrder   int            `json:"sort_order"`
}

// TriggerKind enumerates what causes a sync configuration to execute.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
	TriggerWebhook   TriggerKind = "webhook"
)

// Direction enumerates which way a sync pass copies data.
type Direction string

const (
	DirectionSourceToTarget  Direction = "source_to_target"
	DirectionTargetToSource  Direction = "target_to_source"
	DirectionBidirectional   Direction = "bidirectional"
)

// ConflictStrategy enumerates the closed set of resolution strategies (§4.H).
type ConflictStrategy string

const (
	StrategyLastWriteWins   ConflictStrategy = "last-write-wins"
	StrategySourcePriority  ConflictStrategy = "source-priority"
	StrategyTargetPriority  ConflictStrategy = "target-priority"
	StrategyMerge           ConflictStrategy = "merge"
	StrategyManual          ConflictStrategy = "manual"
)

// SyncOptions are the opt-in behaviors of a sync configuration.
type SyncOptions struct {
	SyncComments bool `json:"sync_comments"`
	SyncLinks    bool `json:"sync_links"`
}

// SyncConfig pairs a source and target connector with mapping/trigger policy.
type SyncConfig struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	SourceConnectorID  string           `json:"source_connector_id"`
	TargetConnectorID  string           `json:"target_connector_id"`
	Active             bool             `json:"active"`
	TriggerKind        TriggerKind      `json:"trigger_kind"`
	CronExpr           string           `json:"cron_expr,omitempty"`
	Direction          Direction        `json:"direction"`
	TrackVersions      bool             `json:"track_versions"`
	ConflictStrategy   ConflictStrategy `json:"conflict_strategy"`
	Options            SyncOptions      `json:"options"`
	SyncFilter         string           `json:"sync_filter,omitempty"` // opaque query JSON
	LastSyncAt         *time.Time       `json:"last_sync_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// MappingKind enumerates how a FieldMapping resolves its value (§4.F).
type MappingKind string

const (
	MappingDirect          MappingKind = "direct"
	MappingConstant        MappingKind = "constant"
	MappingTransformation  MappingKind = "transformation"
	MappingComputed        MappingKind = "computed"
)

// TypeMapping pairs a source work-item type to a target work-item type
// within one sync configuration.
type TypeMapping struct {
	ID           string `json:"id"`
	SyncConfigID string `json:"sync_config_id"`
	SourceTypeID string `json:"source_type_id"`
	TargetTypeID string `json:"target_type_id"`
	Active       bool   `json:"active"`
}

// TransformStep is one named transformation applied in a chain.
type TransformStep struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// FieldMapping maps one source field to one target field within a TypeMapping.
type FieldMapping struct {
	ID                    string          `json:"id"`
	TypeMappingID         string          `json:"type_mapping_id"`
	SourceFieldID         string          `json:"source_field_id,omitempty"`
	TargetFieldID         string          `json:"target_field_id"`
	MappingKind           MappingKind     `json:"mapping_kind"`
	ConstantValue         interface{}     `json:"constant_value,omitempty"`
	Transformation        []TransformStep `json:"transformation,omitempty"`
	ReverseTransformation []TransformStep `json:"reverse_transformation,omitempty"`
	Required              bool            `json:"required"`
}

// StatusMapping maps one source status to one target status within a TypeMapping.
type StatusMapping struct {
	ID             string `json:"id"`
	TypeMappingID  string `json:"type_mapping_id"`
	SourceStatusID string `json:"source_status_id"`
	TargetStatusID string `json:"target_status_id"`
}

// SyncItemStatus tracks the health of one cross-system identity pair.
type SyncItemStatus string

const (
	SyncedItemSynced  SyncItemStatus = "synced"
	SyncedItemPending SyncItemStatus = "pending"
	SyncedItemError   SyncItemStatus = "error"
)

// SyncedItem is the cross-system identity map row pairing a source and
// target work item for one sync configuration.
type SyncedItem struct {
	ID                string         `json:"id"`
	SyncConfigID      string         `json:"sync_config_id"`
	SourceConnectorID string         `json:"source_connector_id"`
	TargetConnectorID string         `json:"target_connector_id"`
	SourceItemID      string         `json:"source_item_id"`
	TargetItemID      string         `json:"target_item_id"`
	SourceItemType    string         `json:"source_item_type"`
	TargetItemType    string         `json:"target_item_type"`
	FirstSyncedAt     time.Time      `json:"first_synced_at"`
	LastSyncedAt      time.Time      `json:"last_synced_at"`
	SyncCount         int            `json:"sync_count"`
	Status            SyncItemStatus `json:"status"`
}

// SyncedComment maps one source comment to its mirrored target comment.
type SyncedComment struct {
	ID               string         `json:"id"`
	SyncedItemID     string         `json:"synced_item_id"`
	SourceCommentID  string         `json:"source_comment_id"`
	TargetCommentID  string         `json:"target_comment_id"`
	Status           SyncItemStatus `json:"status"`
	SyncedAt         time.Time      `json:"synced_at"`
}

// SyncedLink maps one source relation/link to its mirrored target relation.
type SyncedLink struct {
	ID                  string         `json:"id"`
	SyncedItemID        string         `json:"synced_item_id"`
	SourceLinkedItemID  string         `json:"source_linked_item_id"`
	TargetLinkedItemID  string         `json:"target_linked_item_id,omitempty"`
	RelationKind        string         `json:"relation_kind"`
	Status              SyncItemStatus `json:"status"` // synced once the counterpart is mirrored, else pending
	SyncedAt            time.Time      `json:"synced_at"`
}

// WorkItemVersion is an append-only content snapshot used as the base for
// change detection (§4.G, §9 "version store as authoritative base").
type WorkItemVersion struct {
	ID             string    `json:"id"`
	SyncConfigID   string    `json:"sync_config_id"`
	ConnectorID    string    `json:"connector_id"`
	WorkItemID     string    `json:"work_item_id"`
	Version        int       `json:"version"` // monotonic per (config, connector, item)
	Revision       string    `json:"revision,omitempty"`
	ChangedDate    *time.Time `json:"changed_date,omitempty"`
	ChangedBy      string    `json:"changed_by,omitempty"`
	FieldsSnapshot string    `json:"fields_snapshot"` // JSON
	Hash           string    `json:"hash"`            // sha256 hex of FieldsSnapshot
	ExecutionID    string    `json:"execution_id,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// ConflictKind enumerates the three kinds of divergence the detector raises.
type ConflictKind string

const (
	ConflictField     ConflictKind = "field_conflict"
	ConflictVersion   ConflictKind = "version_conflict"
	ConflictDeletion  ConflictKind = "deletion_conflict"
)

// ConflictStatusValue enumerates the lifecycle of a SyncConflict row.
type ConflictStatusValue string

const (
	ConflictUnresolved ConflictStatusValue = "unresolved"
	ConflictResolved   ConflictStatusValue = "resolved"
	ConflictIgnored    ConflictStatusValue = "ignored"
)

// SyncConflict records one divergence the engine could not silently reconcile.
type SyncConflict struct {
	ID                string               `json:"id"`
	SyncConfigID      string               `json:"sync_config_id"`
	ExecutionID       string               `json:"execution_id"`
	SourceWorkItemID  string               `json:"source_work_item_id"`
	TargetWorkItemID  string               `json:"target_work_item_id"`
	WorkItemType      string               `json:"work_item_type"`
	ConflictKind      ConflictKind         `json:"conflict_kind"`
	FieldName         string               `json:"field_name,omitempty"`
	SourceValue       interface{}          `json:"source_value,omitempty"`
	TargetValue       interface{}          `json:"target_value,omitempty"`
	BaseValue         interface{}          `json:"base_value,omitempty"`
	Status            ConflictStatusValue  `json:"status"`
	ResolutionStrategy ConflictStrategy    `json:"resolution_strategy,omitempty"`
	ResolvedValue     interface{}          `json:"resolved_value,omitempty"`
	ResolvedBy        string               `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time           `json:"resolved_at,omitempty"`
	Metadata          map[string]string    `json:"metadata,omitempty"`
	DetectedAt        time.Time            `json:"detected_at"`
}

// ConflictResolution is an audit record of one resolution attempt.
type ConflictResolution struct {
	ID                string           `json:"id"`
	ConflictID        string           `json:"conflict_id"`
	Strategy          ConflictStrategy `json:"strategy"`
	PreviousValue     interface{}      `json:"previous_value,omitempty"`
	ResolvedValue     interface{}      `json:"resolved_value,omitempty"`
	Rationale         string           `json:"rationale,omitempty"`
	AppliedToSource   bool             `json:"applied_to_source"`
	AppliedToTarget   bool             `json:"applied_to_target"`
	ApplicationResult string           `json:"application_result,omitempty"`
	ResolvedBy        string           `json:"resolved_by"`
	CreatedAt         time.Time        `json:"created_at"`
}

// ExecutionStatus enumerates the three user-visible outcomes of a sync run (§7).
type ExecutionStatus string

const (
	ExecutionRunning             ExecutionStatus = "running"
	ExecutionCompleted           ExecutionStatus = "completed"
	ExecutionCompletedWithErrors ExecutionStatus = "completed_with_errors"
	ExecutionFailed              ExecutionStatus = "failed"
)

// ExecutionTrigger enumerates the origin of a sync execution.
type ExecutionTrigger string

const (
	ExecTriggerManual    ExecutionTrigger = "manual"
	ExecTriggerScheduled ExecutionTrigger = "scheduled"
	ExecTriggerWebhook   ExecutionTrigger = "webhook"
	ExecTriggerAPI       ExecutionTrigger = "api"
)

// LogEntry is one structured line accumulated by the sync engine's logger
// and persisted with the execution row.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// SyncExecution is one end-to-end run of the sync engine for a configuration.
type SyncExecution struct {
	ID                string          `json:"id"`
	SyncConfigID      string          `json:"sync_config_id"`
	Direction         Direction       `json:"direction"`
	Trigger           ExecutionTrigger `json:"trigger"`
	Status            ExecutionStatus `json:"status"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ItemsCreated      int             `json:"items_created"`
	ItemsUpdated      int             `json:"items_updated"`
	ItemsSynced       int             `json:"items_synced"`
	ItemsFailed       int             `json:"items_failed"`
	ConflictsDetected int             `json:"conflicts_detected"`
	ConflictsResolved int             `json:"conflicts_resolved"`
	ConflictsManual   int             `json:"conflicts_manual"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	Logs              []LogEntry      `json:"logs"`
}

// SyncError is a per-item error log row linked to an execution.
type SyncError struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	ItemID      string    `json:"item_id,omitempty"`
	ErrorType   string    `json:"error_type"`
	Message     string    `json:"message"`
	Stack       string    `json:"stack,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Webhook is an inbound trigger endpoint bound to one sync configuration.
type Webhook struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	SyncConfigID    string    `json:"sync_config_id"`
	ConnectorID     string    `json:"connector_id,omitempty"`
	Token           string    `json:"token"` // opaque URL path token
	Secret          string    `json:"secret"`
	Active          bool      `json:"active"`
	EventTypes      []string  `json:"event_types"`
	TriggerCount    int       `json:"trigger_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// WebhookDeliveryStatus enumerates the outcome of one inbound delivery.
type WebhookDeliveryStatus string

const (
	DeliveryAccepted WebhookDeliveryStatus = "accepted"
	DeliveryRejected WebhookDeliveryStatus = "rejected"
)

// WebhookDelivery is an audit trail row for one inbound webhook POST.
type WebhookDelivery struct {
	ID             string                `json:"id"`
	WebhookID      string                `json:"webhook_id"`
	ReceivedAt     time.Time             `json:"received_at"`
	Headers        map[string]string     `json:"headers"`
	Payload        string                `json:"payload"`
	SignatureValid bool                  `json:"signature_valid"`
	Status         WebhookDeliveryStatus `json:"status"`
	JobID          string                `json:"job_id,omitempty"`
}

// JobState enumerates the lifecycle of a queued job (§4.J).
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobOptions carries the execute/preview options a job runs with.
type JobOptions struct {
	WorkItemIDs []string  `json:"work_item_ids,omitempty"`
	DryRun      bool      `json:"dry_run"`
	Direction   Direction `json:"direction,omitempty"`
}

// Job is one queue-resident intent to run a sync execution.
type Job struct {
	ID          string           `json:"id"`
	ConfigID    string           `json:"config_id"`
	Options     JobOptions       `json:"options"`
	State       JobState         `json:"state"`
	Trigger     ExecutionTrigger `json:"trigger"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Result      *ExecutionSummary `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Cancel      bool             `json:"-"` // in-memory cancellation flag, not persisted
}

// ExecutionSummary is the aggregate result returned by Engine.Execute.
type ExecutionSummary struct {
	ExecutionID       string        `json:"execution_id"`
	Total             int           `json:"total"`
	Created           int           `json:"created"`
	Updated           int           `json:"updated"`
	Skipped           int           `json:"skipped"`
	Errors            int           `json:"errors"`
	ConflictsDetected int           `json:"conflicts_detected"`
	ConflictsResolved int           `json:"conflicts_resolved"`
	Items             []ItemOutcome `json:"items"`
}

// ItemOutcome describes what happened to one item during execute or preview.
type ItemOutcome struct {
	SourceID     string                 `json:"source_id"`
	SourceType   string                 `json:"source_type,omitempty"`
	Title        string                 `json:"title,omitempty"`
	State        string                 `json:"state,omitempty"`
	AssignedTo   string                 `json:"assigned_to,omitempty"`
	Action       string                 `json:"action"` // create|update|skip|error, or source-to-target|target-to-source|conflict (bidirectional)
	TargetID     string                 `json:"target_id,omitempty"`
	LastSyncedAt *time.Time             `json:"last_synced_at,omitempty"`
	SyncCount    int                    `json:"sync_count,omitempty"`
	MappedFields map[string]interface{} `json:"mapped_fields,omitempty"`
	Error        string                 `json:"error,omitempty"`
}
