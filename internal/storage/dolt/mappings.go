package dolt

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/types"
)

func (s *Store) CreateTypeMapping(ctx context.Context, m *types.TypeMapping) error {
	if m.ID == "" {
		m.ID = newEntityID()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO type_mappings (id, sync_config_id, source_type_id, target_type_id, active)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SyncConfigID, m.SourceTypeID, m.TargetTypeID, m.Active)
	return err
}

func (s *Store) CreateFieldMapping(ctx context.Context, m *types.FieldMapping) error {
	if m.ID == "" {
		m.ID = newEntityID()
	}
	constant, err := marshalJSON(m.ConstantValue)
	if err != nil {
		return fmt.Errorf("marshal constant value: %w", err)
	}
	transform, err := marshalJSON(m.Transformation)
	if err != nil {
		return fmt.Errorf("marshal transformation: %w", err)
	}
	reverse, err := marshalJSON(m.ReverseTransformation)
	if err != nil {
		return fmt.Errorf("marshal reverse transformation: %w", err)
	}
	_, err = s.execContext(ctx, `
		INSERT INTO field_mappings
			(id, type_mapping_id, source_field_id, target_field_id, mapping_kind, constant_value, transformation, reverse_transformation, required)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TypeMappingID, m.SourceFieldID, m.TargetFieldID, string(m.MappingKind),
		constant, transform, reverse, m.Required)
	return err
}

func (s *Store) CreateStatusMapping(ctx context.Context, m *types.StatusMapping) error {
	if m.ID == "" {
		m.ID = newEntityID()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO status_mappings (id, type_mapping_id, source_status_id, target_status_id)
		VALUES (?, ?, ?, ?)`,
		m.ID, m.TypeMappingID, m.SourceStatusID, m.TargetStatusID)
	return err
}

// LoadMappings reads every type/field/status mapping for one sync
// configuration in three queries, joined in memory into a MappingSet; the
// mapping engine wraps this call with a 5-minute TTL cache (§4.F) so a hot
// sync loop does not re-query on every item.
func (s *Store) LoadMappings(ctx context.Context, configID string) (*storage.MappingSet, error) {
	set := &storage.MappingSet{
		Fields:   map[string][]types.FieldMapping{},
		Statuses: map[string][]types.StatusMapping{},
	}

	typeRows, err := s.queryContext(ctx, `
		SELECT id, sync_config_id, source_type_id, target_type_id, active
		FROM type_mappings WHERE sync_config_id = ? ORDER BY id`, configID)
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()

	var typeMappingIDs []string
	for typeRows.Next() {
		var tm types.TypeMapping
		if err := typeRows.Scan(&tm.ID, &tm.SyncConfigID, &tm.SourceTypeID, &tm.TargetTypeID, &tm.Active); err != nil {
			return nil, err
		}
		set.Types = append(set.Types, tm)
		typeMappingIDs = append(typeMappingIDs, tm.ID)
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	for _, tmID := range typeMappingIDs {
		fields, err := s.loadFieldMappings(ctx, tmID)
		if err != nil {
			return nil, err
		}
		set.Fields[tmID] = fields

		statuses, err := s.loadStatusMappings(ctx, tmID)
		if err != nil {
			return nil, err
		}
		set.Statuses[tmID] = statuses
	}

	return set, nil
}

func (s *Store) loadFieldMappings(ctx context.Context, typeMappingID string) ([]types.FieldMapping, error) {
	rows, err := s.queryContext(ctx, `
		SELECT id, type_mapping_id, source_field_id, target_field_id, mapping_kind, constant_value, transformation, reverse_transformation, required
		FROM field_mappings WHERE type_mapping_id = ? ORDER BY id`, typeMappingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.FieldMapping
	for rows.Next() {
		var fm types.FieldMapping
		var kind string
		var constant, transform, reverse []byte
		var sourceField sql.NullString
		if err := rows.Scan(&fm.ID, &fm.TypeMappingID, &sourceField, &fm.TargetFieldID, &kind,
			&constant, &transform, &reverse, &fm.Required); err != nil {
			return nil, err
		}
		fm.SourceFieldID = sourceField.String
		fm.MappingKind = types.MappingKind(kind)
		if err := unmarshalJSON(constant, &fm.ConstantValue); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(transform, &fm.Transformation); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(reverse, &fm.ReverseTransformation); err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}

func (s *Store) loadStatusMappings(ctx context.Context, typeMappingID string) ([]types.StatusMapping, error) {
	rows, err := s.queryContext(ctx, `
		SELECT id, type_mapping_id, source_status_id, target_status_id
		FROM status_mappings WHERE type_mapping_id = ? ORDER BY id`, typeMappingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.StatusMapping
	for rows.Next() {
		var sm types.StatusMapping
		if err := rows.Scan(&sm.ID, &sm.TypeMappingID, &sm.SourceStatusID, &sm.TargetStatusID); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
