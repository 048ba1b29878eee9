package dolt

import (
	"context"
	"database/sql"

	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

const syncedItemColumns = `id, sync_config_id, source_connector_id, target_connector_id, source_item_id,
	target_item_id, source_item_type, target_item_type, first_synced_at, last_synced_at, sync_count, status`

func scanSyncedItem(scan func(dest ...any) error) (*types.SyncedItem, error) {
	var it types.SyncedItem
	var status string
	if err := scan(&it.ID, &it.SyncConfigID, &it.SourceConnectorID, &it.TargetConnectorID, &it.SourceItemID,
		&it.TargetItemID, &it.SourceItemType, &it.TargetItemType, &it.FirstSyncedAt, &it.LastSyncedAt,
		&it.SyncCount, &status); err != nil {
		return nil, err
	}
	it.Status = types.SyncItemStatus(status)
	return &it, nil
}

func (s *Store) GetSyncedItemBySource(ctx context.Context, configID, sourceConnectorID, sourceItemID string) (*types.SyncedItem, error) {
	var result *types.SyncedItem
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		it, err := scanSyncedItem(row.Scan)
		if err != nil {
			return err
		}
		result = it
		return nil
	}, `SELECT `+syncedItemColumns+` FROM synced_items
		WHERE sync_config_id = ? AND source_connector_id = ? AND source_item_id = ?`,
		configID, sourceConnectorID, sourceItemID)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertSyncedItem inserts or updates the cross-system identity row for one
// work item pair, keyed on (config, source connector, source item) so a
// re-run of the same sync never creates a duplicate pairing (§9 idempotence).
func (s *Store) UpsertSyncedItem(ctx context.Context, item *types.SyncedItem) error {
	if item.ID == "" {
		item.ID = newEntityID()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO synced_items
			(id, sync_config_id, source_connector_id, target_connector_id, source_item_id, target_item_id,
			 source_item_type, target_item_type, first_synced_at, last_synced_at, sync_count, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			id = id,
			target_item_id = VALUES(target_item_id),
			source_item_type = VALUES(source_item_type),
			target_item_type = VALUES(target_item_type),
			last_synced_at = VALUES(last_synced_at),
			sync_count = VALUES(sync_count),
			status = VALUES(status)`,
		item.ID, item.SyncConfigID, item.SourceConnectorID, item.TargetConnectorID, item.SourceItemID, item.TargetItemID,
		item.SourceItemType, item.TargetItemType, item.FirstSyncedAt, item.LastSyncedAt, item.SyncCount, string(item.Status),
	)
	return err
}

func (s *Store) ListSyncedItems(ctx context.Context, configID string) ([]*types.SyncedItem, error) {
	rows, err := s.queryContext(ctx, `SELECT `+syncedItemColumns+` FROM synced_items WHERE sync_config_id = ? ORDER BY source_item_id`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.SyncedItem
	for rows.Next() {
		it, err := scanSyncedItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) GetSyncedCommentBySource(ctx context.Context, syncedItemID, sourceCommentID string) (*types.SyncedComment, error) {
	var c types.SyncedComment
	var status string
	var targetCommentID sql.NullString
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&c.ID, &c.SyncedItemID, &c.SourceCommentID, &targetCommentID, &status, &c.SyncedAt)
	}, `SELECT id, synced_item_id, source_comment_id, target_comment_id, status, synced_at
		FROM synced_comments WHERE synced_item_id = ? AND source_comment_id = ?`, syncedItemID, sourceCommentID)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.TargetCommentID = targetCommentID.String
	c.Status = types.SyncItemStatus(status)
	return &c, nil
}

func (s *Store) UpsertSyncedComment(ctx context.Context, c *types.SyncedComment) error {
	if c.ID == "" {
		c.ID = newEntityID()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO synced_comments (id, synced_item_id, source_comment_id, target_comment_id, status, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id, target_comment_id = VALUES(target_comment_id), status = VALUES(status), synced_at = VALUES(synced_at)`,
		c.ID, c.SyncedItemID, c.SourceCommentID, c.TargetCommentID, string(c.Status), c.SyncedAt)
	return err
}

func scanSyncedLink(scan func(dest ...any) error) (*types.SyncedLink, error) {
	var l types.SyncedLink
	var status string
	var targetID sql.NullString
	if err := scan(&l.ID, &l.SyncedItemID, &l.SourceLinkedItemID, &targetID, &l.RelationKind, &status, &l.SyncedAt); err != nil {
		return nil, err
	}
	l.TargetLinkedItemID = targetID.String
	l.Status = types.SyncItemStatus(status)
	return &l, nil
}

func (s *Store) GetSyncedLinkBySource(ctx context.Context, syncedItemID, sourceLinkedItemID string) (*types.SyncedLink, error) {
	var result *types.SyncedLink
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		l, err := scanSyncedLink(row.Scan)
		if err != nil {
			return err
		}
		result = l
		return nil
	}, `SELECT id, synced_item_id, source_linked_item_id, target_linked_item_id, relation_kind, status, synced_at
		FROM synced_links WHERE synced_item_id = ? AND source_linked_item_id = ?`, syncedItemID, sourceLinkedItemID)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertSyncedLink records a link pairing, left Pending until the
// counterpart side is also mirrored — the engine promotes it to Synced on a
// later pass once both ends exist (§4.I pending-link promotion).
func (s *Store) UpsertSyncedLink(ctx context.Context, l *types.SyncedLink) error {
	if l.ID == "" {
		l.ID = newEntityID()
	}
	_, err := s.execContext(ctx, `
		INSERT INTO synced_links (id, synced_item_id, source_linked_item_id, target_linked_item_id, relation_kind, status, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id, target_linked_item_id = VALUES(target_linked_item_id), status = VALUES(status), synced_at = VALUES(synced_at)`,
		l.ID, l.SyncedItemID, l.SourceLinkedItemID, l.TargetLinkedItemID, l.RelationKind, string(l.Status), l.SyncedAt)
	return err
}

func (s *Store) ListPendingLinks(ctx context.Context, configID string) ([]*types.SyncedLink, error) {
	rows, err := s.queryContext(ctx, `
		SELECT sl.id, sl.synced_item_id, sl.source_linked_item_id, sl.target_linked_item_id, sl.relation_kind, sl.status, sl.synced_at
		FROM synced_links sl
		JOIN synced_items si ON si.id = sl.synced_item_id
		WHERE si.sync_config_id = ? AND sl.status = ?`, configID, string(types.SyncedItemPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.SyncedLink
	for rows.Next() {
		l, err := scanSyncedLink(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
