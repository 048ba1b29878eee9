package dolt

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

const conflictColumns = `id, sync_config_id, execution_id, source_work_item_id, target_work_item_id, work_item_type,
	conflict_kind, field_name, source_value, target_value, base_value, status, resolution_strategy,
	resolved_value, resolved_by, resolved_at, metadata, detected_at`

func scanConflict(scan func(dest ...any) error) (*types.SyncConflict, error) {
	var c types.SyncConflict
	var kind, status string
	var strategy, fieldName, resolvedBy sql.NullString
	var sourceValue, targetValue, baseValue, resolvedValue, meta []byte
	var resolvedAt sql.NullTime
	if err := scan(&c.ID, &c.SyncConfigID, &c.ExecutionID, &c.SourceWorkItemID, &c.TargetWorkItemID, &c.WorkItemType,
		&kind, &fieldName, &sourceValue, &targetValue, &baseValue, &status, &strategy,
		&resolvedValue, &resolvedBy, &resolvedAt, &meta, &c.DetectedAt); err != nil {
		return nil, err
	}
	c.ConflictKind = types.ConflictKind(kind)
	c.Status = types.ConflictStatusValue(status)
	c.ResolutionStrategy = types.ConflictStrategy(strategy.String)
	c.FieldName = fieldName.String
	c.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	if err := unmarshalJSON(sourceValue, &c.SourceValue); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(targetValue, &c.TargetValue); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(baseValue, &c.BaseValue); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(resolvedValue, &c.ResolvedValue); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SaveConflicts(ctx context.Context, conflicts []*types.SyncConflict) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range conflicts {
			if c.ID == "" {
				c.ID = newEntityID()
			}
			if c.Status == "" {
				c.Status = types.ConflictUnresolved
			}
			sourceValue, err := marshalJSON(c.SourceValue)
			if err != nil {
				return err
			}
			targetValue, err := marshalJSON(c.TargetValue)
			if err != nil {
				return err
			}
			baseValue, err := marshalJSON(c.BaseValue)
			if err != nil {
				return err
			}
			meta, err := marshalJSON(c.Metadata)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sync_conflicts
					(id, sync_config_id, execution_id, source_work_item_id, target_work_item_id, work_item_type,
					 conflict_kind, field_name, source_value, target_value, base_value, status, metadata, detected_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.SyncConfigID, c.ExecutionID, c.SourceWorkItemID, c.TargetWorkItemID, c.WorkItemType,
				string(c.ConflictKind), c.FieldName, sourceValue, targetValue, baseValue, string(c.Status), meta, c.DetectedAt,
			); err != nil {
				return fmt.Errorf("insert conflict: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetConflict(ctx context.Context, id string) (*types.SyncConflict, error) {
	var result *types.SyncConflict
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		c, err := scanConflict(row.Scan)
		if err != nil {
			return err
		}
		result = c
		return nil
	}, `SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateConflict(ctx context.Context, c *types.SyncConflict) error {
	resolvedValue, err := marshalJSON(c.ResolvedValue)
	if err != nil {
		return err
	}
	res, err := s.execContext(ctx, `
		UPDATE sync_conflicts SET status=?, resolution_strategy=?, resolved_value=?, resolved_by=?, resolved_at=?
		WHERE id=?`,
		string(c.Status), string(c.ResolutionStrategy), resolvedValue, c.ResolvedBy, c.ResolvedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return synerr.ErrNotFound
	}
	return nil
}

func (s *Store) SaveResolution(ctx context.Context, r *types.ConflictResolution) error {
	if r.ID == "" {
		r.ID = newEntityID()
	}
	previous, err := marshalJSON(r.PreviousValue)
	if err != nil {
		return err
	}
	resolved, err := marshalJSON(r.ResolvedValue)
	if err != nil {
		return err
	}
	_, err = s.execContext(ctx, `
		INSERT INTO conflict_resolutions
			(id, conflict_id, strategy, previous_value, resolved_value, rationale, applied_to_source, applied_to_target, application_result, resolved_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConflictID, string(r.Strategy), previous, resolved, r.Rationale,
		r.AppliedToSource, r.AppliedToTarget, r.ApplicationResult, r.ResolvedBy, r.CreatedAt)
	return err
}

func (s *Store) ListUnresolvedConflicts(ctx context.Context, configID string) ([]*types.SyncConflict, error) {
	rows, err := s.queryContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE sync_config_id = ? AND status = ? ORDER BY detected_at`, configID, string(types.ConflictUnresolved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
