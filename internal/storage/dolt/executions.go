package dolt

import (
	"context"
	"database/sql"

	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

const executionColumns = `id, sync_config_id, direction, trigger_kind, status, started_at, completed_at,
	items_created, items_updated, items_synced, items_failed, conflicts_detected, conflicts_resolved,
	conflicts_manual, error_message, logs`

func scanExecution(scan func(dest ...any) error) (*types.SyncExecution, error) {
	var e types.SyncExecution
	var direction, trigger, status string
	var completedAt sql.NullTime
	var logs []byte
	if err := scan(&e.ID, &e.SyncConfigID, &direction, &trigger, &status, &e.StartedAt, &completedAt,
		&e.ItemsCreated, &e.ItemsUpdated, &e.ItemsSynced, &e.ItemsFailed, &e.ConflictsDetected,
		&e.ConflictsResolved, &e.ConflictsManual, &e.ErrorMessage, &logs); err != nil {
		return nil, err
	}
	e.Direction = types.Direction(direction)
	e.Trigger = types.ExecutionTrigger(trigger)
	e.Status = types.ExecutionStatus(status)
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	if err := unmarshalJSON(logs, &e.Logs); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) CreateExecution(ctx context.Context, e *types.SyncExecution) error {
	if e.ID == "" {
		e.ID = newEntityID()
	}
	logs, err := marshalJSON(e.Logs)
	if err != nil {
		return err
	}
	_, err = s.execContext(ctx, `
		INSERT INTO sync_executions
			(id, sync_config_id, direction, trigger_kind, status, started_at, completed_at,
			 items_created, items_updated, items_synced, items_failed, conflicts_detected, conflicts_resolved,
			 conflicts_manual, error_message, logs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SyncConfigID, string(e.Direction), string(e.Trigger), string(e.Status), e.StartedAt, e.CompletedAt,
		e.ItemsCreated, e.ItemsUpdated, e.ItemsSynced, e.ItemsFailed, e.ConflictsDetected, e.ConflictsResolved,
		e.ConflictsManual, e.ErrorMessage, logs)
	return err
}

// UpdateExecution rewrites the execution summary and its accumulated log
// entries together, so a reader never observes updated counters without the
// logs that explain them (§5 atomic execution-summary updates).
func (s *Store) UpdateExecution(ctx context.Context, e *types.SyncExecution) error {
	logs, err := marshalJSON(e.Logs)
	if err != nil {
		return err
	}
	res, err := s.execContext(ctx, `
		UPDATE sync_executions SET status=?, completed_at=?, items_created=?, items_updated=?, items_synced=?,
			items_failed=?, conflicts_detected=?, conflicts_resolved=?, conflicts_manual=?, error_message=?, logs=?
		WHERE id=?`,
		string(e.Status), e.CompletedAt, e.ItemsCreated, e.ItemsUpdated, e.ItemsSynced, e.ItemsFailed,
		e.ConflictsDetected, e.ConflictsResolved, e.ConflictsManual, e.ErrorMessage, logs, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return synerr.ErrNotFound
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*types.SyncExecution, error) {
	var result *types.SyncExecution
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		e, err := scanExecution(row.Scan)
		if err != nil {
			return err
		}
		result = e
		return nil
	}, `SELECT `+executionColumns+` FROM sync_executions WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AppendSyncError(ctx context.Context, e *types.SyncError) error {
	if e.ID == "" {
		e.ID = newEntityID()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO sync_errors (id, execution_id, item_id, error_type, message, stack, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ExecutionID, e.ItemID, e.ErrorType, e.Message, e.Stack, e.CreatedAt)
	return err
}
