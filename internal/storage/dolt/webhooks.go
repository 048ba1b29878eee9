package dolt

import (
	"context"
	"database/sql"

	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

func scanWebhook(scan func(dest ...any) error) (*types.Webhook, error) {
	var w types.Webhook
	var connectorID sql.NullString
	var lastTriggeredAt sql.NullTime
	var events []byte
	if err := scan(&w.ID, &w.Name, &w.SyncConfigID, &connectorID, &w.Token, &w.Secret, &w.Active,
		&events, &w.TriggerCount, &lastTriggeredAt, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.ConnectorID = connectorID.String
	if lastTriggeredAt.Valid {
		w.LastTriggeredAt = &lastTriggeredAt.Time
	}
	if err := unmarshalJSON(events, &w.EventTypes); err != nil {
		return nil, err
	}
	return &w, nil
}

const webhookColumns = `id, name, sync_config_id, connector_id, token, secret, active, event_types, trigger_count, last_triggered_at, created_at`

func (s *Store) CreateWebhook(ctx context.Context, w *types.Webhook) error {
	if w.ID == "" {
		w.ID = newEntityID()
	}
	events, err := marshalJSON(w.EventTypes)
	if err != nil {
		return err
	}
	_, err = s.execContext(ctx, `
		INSERT INTO webhooks (id, name, sync_config_id, connector_id, token, secret, active, event_types, trigger_count, last_triggered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.SyncConfigID, w.ConnectorID, w.Token, w.Secret, w.Active, events, w.TriggerCount, w.LastTriggeredAt, w.CreatedAt)
	return err
}

func (s *Store) GetWebhookByToken(ctx context.Context, token string) (*types.Webhook, error) {
	var result *types.Webhook
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		w, err := scanWebhook(row.Scan)
		if err != nil {
			return err
		}
		result = w
		return nil
	}, `SELECT `+webhookColumns+` FROM webhooks WHERE token = ?`, token)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordWebhookDelivery inserts the audit-trail row and bumps the parent
// webhook's trigger counter together in one transaction, so an accepted
// delivery always shows up in both the audit log and the counter at once.
func (s *Store) RecordWebhookDelivery(ctx context.Context, w *types.Webhook, d *types.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = newEntityID()
	}
	headers, err := marshalJSON(d.Headers)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO webhook_deliveries (id, webhook_id, received_at, headers, payload, signature_valid, status, job_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.WebhookID, d.ReceivedAt, headers, d.Payload, d.SignatureValid, string(d.Status), d.JobID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE webhooks SET trigger_count = ?, last_triggered_at = ? WHERE id = ?`,
			w.TriggerCount, w.LastTriggeredAt, w.ID)
		return err
	})
}
