package dolt

import (
	"context"
	"database/sql"

	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

func (s *Store) LatestVersion(ctx context.Context, configID, connectorID, workItemID string) (*types.WorkItemVersion, error) {
	var v types.WorkItemVersion
	var changedDate sql.NullTime
	var revision, changedBy, executionID sql.NullString
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&v.ID, &v.SyncConfigID, &v.ConnectorID, &v.WorkItemID, &v.Version, &revision,
			&changedDate, &changedBy, &v.FieldsSnapshot, &v.Hash, &executionID, &v.CapturedAt)
	}, `SELECT id, sync_config_id, connector_id, work_item_id, version, revision, changed_date, changed_by,
			fields_snapshot, hash, execution_id, captured_at
		FROM work_item_versions
		WHERE sync_config_id = ? AND connector_id = ? AND work_item_id = ?
		ORDER BY version DESC LIMIT 1`, configID, connectorID, workItemID)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Revision = revision.String
	v.ChangedBy = changedBy.String
	v.ExecutionID = executionID.String
	if changedDate.Valid {
		v.ChangedDate = &changedDate.Time
	}
	return &v, nil
}

// AppendVersion assigns the next version number inside a transaction that
// reads the current max and inserts in the same unit of work, giving the
// strictly-monotonic-per-(config,connector,item) guarantee §5 requires even
// under concurrent execution of the same sync configuration.
func (s *Store) AppendVersion(ctx context.Context, v *types.WorkItemVersion) error {
	if v.ID == "" {
		v.ID = newEntityID()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var max sql.NullInt64
		if err := tx.QueryRowContext(ctx, `
			SELECT MAX(version) FROM work_item_versions
			WHERE sync_config_id = ? AND connector_id = ? AND work_item_id = ?`,
			v.SyncConfigID, v.ConnectorID, v.WorkItemID).Scan(&max); err != nil {
			return err
		}
		v.Version = int(max.Int64) + 1

		_, err := tx.ExecContext(ctx, `
			INSERT INTO work_item_versions
				(id, sync_config_id, connector_id, work_item_id, version, revision, changed_date, changed_by,
				 fields_snapshot, hash, execution_id, captured_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.SyncConfigID, v.ConnectorID, v.WorkItemID, v.Version, v.Revision, v.ChangedDate, v.ChangedBy,
			v.FieldsSnapshot, v.Hash, v.ExecutionID, v.CapturedAt)
		return err
	})
}
