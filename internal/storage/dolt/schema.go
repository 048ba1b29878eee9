package dolt

import (
	"context"
	"fmt"
)

// schemaStatements creates every table in §3's data model. Statements are
// idempotent (CREATE TABLE IF NOT EXISTS) so initSchema can run on every
// Open without a separate migration runner; the teacher uses a dedicated
// migrations package because its schema has evolved across many releases,
// but this one ships as a single generation.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS connectors (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		kind VARCHAR(64) NOT NULL,
		base_url VARCHAR(1024) NOT NULL DEFAULT '',
		endpoint VARCHAR(1024) NOT NULL DEFAULT '',
		auth_kind VARCHAR(32) NOT NULL,
		encrypted_credentials TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		metadata JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS work_item_types (
		id VARCHAR(36) PRIMARY KEY,
		connector_id VARCHAR(36) NOT NULL,
		type_name VARCHAR(255) NOT NULL,
		type_id VARCHAR(255) NOT NULL,
		UNIQUE KEY uq_work_item_types (connector_id, type_name)
	)`,
	`CREATE TABLE IF NOT EXISTS fields (
		id VARCHAR(36) PRIMARY KEY,
		connector_id VARCHAR(36) NOT NULL,
		type_id VARCHAR(255) NOT NULL,
		reference_name VARCHAR(255) NOT NULL,
		display_name VARCHAR(255) NOT NULL,
		data_type VARCHAR(32) NOT NULL,
		required BOOLEAN NOT NULL DEFAULT FALSE,
		read_only BOOLEAN NOT NULL DEFAULT FALSE,
		allowed_values JSON,
		default_value JSON,
		suggestion_score INT NOT NULL DEFAULT 0,
		UNIQUE KEY uq_fields (connector_id, type_id, reference_name)
	)`,
	`CREATE TABLE IF NOT EXISTS statuses (
		id VARCHAR(36) PRIMARY KEY,
		connector_id VARCHAR(36) NOT NULL,
		type_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		value VARCHAR(255) NOT NULL,
		category VARCHAR(32) NOT NULL,
		sort_order INT NOT NULL DEFAULT 0,
		UNIQUE KEY uq_statuses (connector_id, type_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_configs (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		source_connector_id VARCHAR(36) NOT NULL,
		target_connector_id VARCHAR(36) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		trigger_kind VARCHAR(32) NOT NULL,
		cron_expr VARCHAR(128),
		direction VARCHAR(32) NOT NULL,
		track_versions BOOLEAN NOT NULL DEFAULT TRUE,
		conflict_strategy VARCHAR(32) NOT NULL,
		sync_comments BOOLEAN NOT NULL DEFAULT FALSE,
		sync_links BOOLEAN NOT NULL DEFAULT FALSE,
		sync_filter TEXT,
		last_sync_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS type_mappings (
		id VARCHAR(36) PRIMARY KEY,
		sync_config_id VARCHAR(36) NOT NULL,
		source_type_id VARCHAR(255) NOT NULL,
		target_type_id VARCHAR(255) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		KEY idx_type_mappings_config (sync_config_id)
	)`,
	`CREATE TABLE IF NOT EXISTS field_mappings (
		id VARCHAR(36) PRIMARY KEY,
		type_mapping_id VARCHAR(36) NOT NULL,
		source_field_id VARCHAR(255),
		target_field_id VARCHAR(255) NOT NULL,
		mapping_kind VARCHAR(32) NOT NULL,
		constant_value JSON,
		transformation JSON,
		reverse_transformation JSON,
		required BOOLEAN NOT NULL DEFAULT FALSE,
		KEY idx_field_mappings_type (type_mapping_id)
	)`,
	`CREATE TABLE IF NOT EXISTS status_mappings (
		id VARCHAR(36) PRIMARY KEY,
		type_mapping_id VARCHAR(36) NOT NULL,
		source_status_id VARCHAR(255) NOT NULL,
		target_status_id VARCHAR(255) NOT NULL,
		KEY idx_status_mappings_type (type_mapping_id)
	)`,
	`CREATE TABLE IF NOT EXISTS synced_items (
		id VARCHAR(36) PRIMARY KEY,
		sync_config_id VARCHAR(36) NOT NULL,
		source_connector_id VARCHAR(36) NOT NULL,
		target_connector_id VARCHAR(36) NOT NULL,
		source_item_id VARCHAR(255) NOT NULL,
		target_item_id VARCHAR(255) NOT NULL,
		source_item_type VARCHAR(255),
		target_item_type VARCHAR(255),
		first_synced_at DATETIME NOT NULL,
		last_synced_at DATETIME NOT NULL,
		sync_count INT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		UNIQUE KEY uq_synced_items (sync_config_id, source_connector_id, source_item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS synced_comments (
		id VARCHAR(36) PRIMARY KEY,
		synced_item_id VARCHAR(36) NOT NULL,
		source_comment_id VARCHAR(255) NOT NULL,
		target_comment_id VARCHAR(255),
		status VARCHAR(32) NOT NULL,
		synced_at DATETIME NOT NULL,
		UNIQUE KEY uq_synced_comments (synced_item_id, source_comment_id)
	)`,
	`CREATE TABLE IF NOT EXISTS synced_links (
		id VARCHAR(36) PRIMARY KEY,
		synced_item_id VARCHAR(36) NOT NULL,
		source_linked_item_id VARCHAR(255) NOT NULL,
		target_linked_item_id VARCHAR(255),
		relation_kind VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		synced_at DATETIME NOT NULL,
		UNIQUE KEY uq_synced_links (synced_item_id, source_linked_item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS work_item_versions (
		id VARCHAR(36) PRIMARY KEY,
		sync_config_id VARCHAR(36) NOT NULL,
		connector_id VARCHAR(36) NOT NULL,
		work_item_id VARCHAR(255) NOT NULL,
		version INT NOT NULL,
		revision VARCHAR(255),
		changed_date DATETIME NULL,
		changed_by VARCHAR(255),
		fields_snapshot JSON NOT NULL,
		hash CHAR(64) NOT NULL,
		execution_id VARCHAR(36),
		captured_at DATETIME NOT NULL,
		UNIQUE KEY uq_work_item_versions (sync_config_id, connector_id, work_item_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_conflicts (
		id VARCHAR(36) PRIMARY KEY,
		sync_config_id VARCHAR(36) NOT NULL,
		execution_id VARCHAR(36) NOT NULL,
		source_work_item_id VARCHAR(255),
		target_work_item_id VARCHAR(255),
		work_item_type VARCHAR(255),
		conflict_kind VARCHAR(32) NOT NULL,
		field_name VARCHAR(255),
		source_value JSON,
		target_value JSON,
		base_value JSON,
		status VARCHAR(32) NOT NULL,
		resolution_strategy VARCHAR(32),
		resolved_value JSON,
		resolved_by VARCHAR(255),
		resolved_at DATETIME NULL,
		metadata JSON,
		detected_at DATETIME NOT NULL,
		KEY idx_sync_conflicts_config (sync_config_id, status)
	)`,
	`CREATE TABLE IF NOT EXISTS conflict_resolutions (
		id VARCHAR(36) PRIMARY KEY,
		conflict_id VARCHAR(36) NOT NULL,
		strategy VARCHAR(32) NOT NULL,
		previous_value JSON,
		resolved_value JSON,
		rationale TEXT,
		applied_to_source BOOLEAN NOT NULL DEFAULT FALSE,
		applied_to_target BOOLEAN NOT NULL DEFAULT FALSE,
		application_result TEXT,
		resolved_by VARCHAR(255) NOT NULL,
		created_at DATETIME NOT NULL,
		KEY idx_conflict_resolutions_conflict (conflict_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_executions (
		id VARCHAR(36) PRIMARY KEY,
		sync_config_id VARCHAR(36) NOT NULL,
		direction VARCHAR(32) NOT NULL,
		trigger_kind VARCHAR(32) NOT NULL,
		status VARCHAR(32) NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		items_created INT NOT NULL DEFAULT 0,
		items_updated INT NOT NULL DEFAULT 0,
		items_synced INT NOT NULL DEFAULT 0,
		items_failed INT NOT NULL DEFAULT 0,
		conflicts_detected INT NOT NULL DEFAULT 0,
		conflicts_resolved INT NOT NULL DEFAULT 0,
		conflicts_manual INT NOT NULL DEFAULT 0,
		error_message TEXT,
		logs JSON,
		KEY idx_sync_executions_config (sync_config_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_errors (
		id VARCHAR(36) PRIMARY KEY,
		execution_id VARCHAR(36) NOT NULL,
		item_id VARCHAR(255),
		error_type VARCHAR(128) NOT NULL,
		message TEXT NOT NULL,
		stack TEXT,
		created_at DATETIME NOT NULL,
		KEY idx_sync_errors_execution (execution_id)
	)`,
	`CREATE TABLE IF NOT EXISTS webhooks (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		sync_config_id VARCHAR(36) NOT NULL,
		connector_id VARCHAR(36),
		token VARCHAR(128) NOT NULL UNIQUE,
		secret VARCHAR(255) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		event_types JSON,
		trigger_count INT NOT NULL DEFAULT 0,
		last_triggered_at DATETIME NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id VARCHAR(36) PRIMARY KEY,
		webhook_id VARCHAR(36) NOT NULL,
		received_at DATETIME NOT NULL,
		headers JSON,
		payload LONGTEXT,
		signature_valid BOOLEAN NOT NULL,
		status VARCHAR(32) NOT NULL,
		job_id VARCHAR(36),
		KEY idx_webhook_deliveries_webhook (webhook_id)
	)`,
	`CREATE TABLE IF NOT EXISTS app_config (
		config_key VARCHAR(255) PRIMARY KEY,
		config_value TEXT NOT NULL
	)`,
}

func initSchema(ctx context.Context, s *Store) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dolt: apply schema statement: %w", err)
		}
	}
	return nil
}
