package dolt

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

// SaveDiscoveredMetadata upserts a driver's discovered types, fields, and
// statuses in a single transaction (§5: "discovery-metadata saves are
// atomic"), keyed for idempotent re-discovery.
func (s *Store) SaveDiscoveredMetadata(ctx context.Context, connectorID string, wts []types.WorkItemType, fields []types.Field, statuses []types.Status) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range wts {
			if t.ID == "" {
				t.ID = newEntityID()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO work_item_types (id, connector_id, type_name, type_id)
				VALUES (?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE type_id = VALUES(type_id)`,
				t.ID, connectorID, t.TypeName, t.TypeID); err != nil {
				return fmt.Errorf("upsert work item type %s: %w", t.TypeName, err)
			}
		}

		for _, f := range fields {
			if f.ID == "" {
				f.ID = newEntityID()
			}
			allowed, err := marshalJSON(f.AllowedValues)
			if err != nil {
				return err
			}
			def, err := marshalJSON(f.DefaultValue)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO fields
					(id, connector_id, type_id, reference_name, display_name, data_type, required, read_only, allowed_values, default_value, suggestion_score)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE
					display_name = VALUES(display_name),
					data_type = VALUES(data_type),
					required = VALUES(required),
					read_only = VALUES(read_only),
					allowed_values = VALUES(allowed_values),
					default_value = VALUES(default_value),
					suggestion_score = VALUES(suggestion_score)`,
				f.ID, connectorID, f.TypeID, f.ReferenceName, f.DisplayName, string(f.DataType),
				f.Required, f.ReadOnly, allowed, def, f.SuggestionScore); err != nil {
				return fmt.Errorf("upsert field %s: %w", f.ReferenceName, err)
			}
		}

		for _, st := range statuses {
			if st.ID == "" {
				st.ID = newEntityID()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO statuses (id, connector_id, type_id, name, value, category, sort_order)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE value = VALUES(value), category = VALUES(category), sort_order = VALUES(sort_order)`,
				st.ID, connectorID, st.TypeID, st.Name, st.Value, string(st.Category), st.SortOrder); err != nil {
				return fmt.Errorf("upsert status %s: %w", st.Name, err)
			}
		}

		return nil
	})
}

func (s *Store) ListWorkItemTypes(ctx context.Context, connectorID string) ([]types.WorkItemType, error) {
	rows, err := s.queryContext(ctx, `SELECT id, connector_id, type_name, type_id FROM work_item_types WHERE connector_id = ? ORDER BY type_name`, connectorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.WorkItemType
	for rows.Next() {
		var t types.WorkItemType
		if err := rows.Scan(&t.ID, &t.ConnectorID, &t.TypeName, &t.TypeID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanField(scan func(dest ...any) error) (types.Field, error) {
	var f types.Field
	var dataType string
	var allowed, def []byte
	if err := scan(&f.ID, &f.ConnectorID, &f.TypeID, &f.ReferenceName, &f.DisplayName,
		&dataType, &f.Required, &f.ReadOnly, &allowed, &def, &f.SuggestionScore); err != nil {
		return f, err
	}
	f.DataType = types.DataType(dataType)
	if err := unmarshalJSON(allowed, &f.AllowedValues); err != nil {
		return f, err
	}
	if err := unmarshalJSON(def, &f.DefaultValue); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Store) ListFields(ctx context.Context, connectorID, typeID string) ([]types.Field, error) {
	rows, err := s.queryContext(ctx, `
		SELECT id, connector_id, type_id, reference_name, display_name, data_type, required, read_only, allowed_values, default_value, suggestion_score
		FROM fields WHERE connector_id = ? AND type_id = ? ORDER BY reference_name`, connectorID, typeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Field
	for rows.Next() {
		f, err := scanField(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ListStatuses(ctx context.Context, connectorID, typeID string) ([]types.Status, error) {
	rows, err := s.queryContext(ctx, `
		SELECT id, connector_id, type_id, name, value, category, sort_order
		FROM statuses WHERE connector_id = ? AND type_id = ? ORDER BY sort_order`, connectorID, typeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Status
	for rows.Next() {
		var st types.Status
		var category string
		if err := rows.Scan(&st.ID, &st.ConnectorID, &st.TypeID, &st.Name, &st.Value, &category, &st.SortOrder); err != nil {
			return nil, err
		}
		st.Category = types.StatusCategory(category)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) GetWorkItemTypeByName(ctx context.Context, connectorID, name string) (*types.WorkItemType, error) {
	var t types.WorkItemType
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&t.ID, &t.ConnectorID, &t.TypeName, &t.TypeID)
	}, `SELECT id, connector_id, type_name, type_id FROM work_item_types WHERE connector_id = ? AND type_name = ?`, connectorID, name)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetWorkItemTypeByID resolves a TypeMapping's SourceTypeID/TargetTypeID to
// the underlying work-item type row, letting the mapping engine translate
// the source item's type name into the paired target type name (§4.F).
func (s *Store) GetWorkItemTypeByID(ctx context.Context, id string) (*types.WorkItemType, error) {
	var t types.WorkItemType
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&t.ID, &t.ConnectorID, &t.TypeName, &t.TypeID)
	}, `SELECT id, connector_id, type_name, type_id FROM work_item_types WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetStatusByID resolves a StatusMapping's SourceStatusID/TargetStatusID to
// the underlying status row (§4.F status lookup).
func (s *Store) GetStatusByID(ctx context.Context, id string) (*types.Status, error) {
	var st types.Status
	var category string
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&st.ID, &st.ConnectorID, &st.TypeID, &st.Name, &st.Value, &category, &st.SortOrder)
	}, `SELECT id, connector_id, type_id, name, value, category, sort_order FROM statuses WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Category = types.StatusCategory(category)
	return &st, nil
}

// GetFieldByID looks up a single field by its primary key, the shape the
// mapping engine needs to resolve a FieldMapping's SourceFieldID/TargetFieldID
// into the reference name it reads/writes on a canonical work item (§4.F).
func (s *Store) GetFieldByID(ctx context.Context, id string) (*types.Field, error) {
	var f types.Field
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var err error
		f, err = scanField(row.Scan)
		return err
	}, `SELECT id, connector_id, type_id, reference_name, display_name, data_type, required, read_only, allowed_values, default_value, suggestion_score
		FROM fields WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) GetFieldByReference(ctx context.Context, connectorID, typeID, reference string) (*types.Field, error) {
	var f types.Field
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		var err error
		f, err = scanField(row.Scan)
		return err
	}, `SELECT id, connector_id, type_id, reference_name, display_name, data_type, required, read_only, allowed_values, default_value, suggestion_score
		FROM fields WHERE connector_id = ? AND type_id = ? AND reference_name = ?`, connectorID, typeID, reference)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
