package dolt

import (
	"context"
	"database/sql"

	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

func (s *Store) CreateSyncConfig(ctx context.Context, c *types.SyncConfig) error {
	_, err := s.execContext(ctx, `
		INSERT INTO sync_configs
			(id, name, source_connector_id, target_connector_id, active, trigger_kind, cron_expr,
			 direction, track_versions, conflict_strategy, sync_comments, sync_links, sync_filter,
			 last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.SourceConnectorID, c.TargetConnectorID, c.Active, string(c.TriggerKind), c.CronExpr,
		string(c.Direction), c.TrackVersions, string(c.ConflictStrategy), c.Options.SyncComments, c.Options.SyncLinks,
		c.SyncFilter, c.LastSyncAt, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func scanSyncConfig(scan func(dest ...any) error) (*types.SyncConfig, error) {
	var c types.SyncConfig
	var trigger, direction, strategy string
	if err := scan(&c.ID, &c.Name, &c.SourceConnectorID, &c.TargetConnectorID, &c.Active, &trigger, &c.CronExpr,
		&direction, &c.TrackVersions, &strategy, &c.Options.SyncComments, &c.Options.SyncLinks, &c.SyncFilter,
		&c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.TriggerKind = types.TriggerKind(trigger)
	c.Direction = types.Direction(direction)
	c.ConflictStrategy = types.ConflictStrategy(strategy)
	return &c, nil
}

const syncConfigColumns = `id, name, source_connector_id, target_connector_id, active, trigger_kind, cron_expr,
	direction, track_versions, conflict_strategy, sync_comments, sync_links, sync_filter,
	last_sync_at, created_at, updated_at`

func (s *Store) GetSyncConfig(ctx context.Context, id string) (*types.SyncConfig, error) {
	var result *types.SyncConfig
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		c, err := scanSyncConfig(row.Scan)
		if err != nil {
			return err
		}
		result = c
		return nil
	}, `SELECT `+syncConfigColumns+` FROM sync_configs WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateSyncConfig(ctx context.Context, c *types.SyncConfig) error {
	res, err := s.execContext(ctx, `
		UPDATE sync_configs SET name=?, source_connector_id=?, target_connector_id=?, active=?,
			trigger_kind=?, cron_expr=?, direction=?, track_versions=?, conflict_strategy=?,
			sync_comments=?, sync_links=?, sync_filter=?, last_sync_at=?, updated_at=?
		WHERE id=?`,
		c.Name, c.SourceConnectorID, c.TargetConnectorID, c.Active, string(c.TriggerKind), c.CronExpr,
		string(c.Direction), c.TrackVersions, string(c.ConflictStrategy), c.Options.SyncComments,
		c.Options.SyncLinks, c.SyncFilter, c.LastSyncAt, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return synerr.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSyncConfig(ctx context.Context, id string) error {
	_, err := s.execContext(ctx, `DELETE FROM sync_configs WHERE id = ?`, id)
	return err
}

func (s *Store) ListSyncConfigs(ctx context.Context) ([]*types.SyncConfig, error) {
	rows, err := s.queryContext(ctx, `SELECT `+syncConfigColumns+` FROM sync_configs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.SyncConfig
	for rows.Next() {
		c, err := scanSyncConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveScheduledConfigs(ctx context.Context) ([]*types.SyncConfig, error) {
	rows, err := s.queryContext(ctx, `SELECT `+syncConfigColumns+` FROM sync_configs
		WHERE active = TRUE AND trigger_kind = ? AND cron_expr IS NOT NULL AND cron_expr != '' ORDER BY name`,
		string(types.TriggerScheduled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.SyncConfig
	for rows.Next() {
		c, err := scanSyncConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetLastSyncAt(ctx context.Context, configID string, snapshot types.SyncConfig) error {
	res, err := s.execContext(ctx, `UPDATE sync_configs SET last_sync_at = ? WHERE id = ?`, snapshot.LastSyncAt, configID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return synerr.ErrNotFound
	}
	return nil
}
