package dolt

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

func (s *Store) CreateConnector(ctx context.Context, c *types.Connector) error {
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return fmt.Errorf("dolt: marshal connector metadata: %w", err)
	}
	_, err = s.execContext(ctx, `
		INSERT INTO connectors
			(id, name, kind, base_url, endpoint, auth_kind, encrypted_credentials, active, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Kind, c.BaseURL, c.Endpoint, string(c.AuthKind),
		c.EncryptedCredentials, c.Active, meta, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func scanConnector(scan func(dest ...any) error) (*types.Connector, error) {
	var c types.Connector
	var authKind string
	var meta []byte
	if err := scan(&c.ID, &c.Name, &c.Kind, &c.BaseURL, &c.Endpoint, &authKind,
		&c.EncryptedCredentials, &c.Active, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.AuthKind = types.AuthKind(authKind)
	if err := unmarshalJSON(meta, &c.Metadata); err != nil {
		return nil, fmt.Errorf("dolt: unmarshal connector metadata: %w", err)
	}
	return &c, nil
}

func (s *Store) GetConnector(ctx context.Context, id string) (*types.Connector, error) {
	var result *types.Connector
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		c, err := scanConnector(row.Scan)
		if err != nil {
			return err
		}
		result = c
		return nil
	}, `SELECT id, name, kind, base_url, endpoint, auth_kind, encrypted_credentials, active, metadata, created_at, updated_at
		FROM connectors WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, synerr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateConnector(ctx context.Context, c *types.Connector) error {
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return fmt.Errorf("dolt: marshal connector metadata: %w", err)
	}
	res, err := s.execContext(ctx, `
		UPDATE connectors SET name=?, kind=?, base_url=?, endpoint=?, auth_kind=?,
			encrypted_credentials=?, active=?, metadata=?, updated_at=?
		WHERE id=?`,
		c.Name, c.Kind, c.BaseURL, c.Endpoint, string(c.AuthKind),
		c.EncryptedCredentials, c.Active, meta, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return synerr.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConnector(ctx context.Context, id string) error {
	_, err := s.execContext(ctx, `DELETE FROM connectors WHERE id = ?`, id)
	return err
}

func (s *Store) ListConnectors(ctx context.Context) ([]*types.Connector, error) {
	rows, err := s.queryContext(ctx, `
		SELECT id, name, kind, base_url, endpoint, auth_kind, encrypted_credentials, active, metadata, created_at, updated_at
		FROM connectors ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Connector
	for rows.Next() {
		c, err := scanConnector(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
