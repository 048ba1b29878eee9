//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
)

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

// newEmbeddedMode opens (and if necessary initializes) an in-process Dolt
// database at cfg.Path using the CGO-only dolthub/driver.
func newEmbeddedMode(ctx context.Context, cfg *Config) (*Store, error) {
	if info, statErr := os.Stat(cfg.Path); statErr == nil && !info.IsDir() {
		return nil, fmt.Errorf("dolt: database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("dolt: create database directory: %w", err)
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("dolt: resolve absolute path: %w", err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s",
		absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s",
		absPath, cfg.CommitterName, cfg.CommitterEmail, cfg.Database)

	configureRetries := func(c *embedded.Config) {
		c.BackOff = newEmbeddedOpenBackoff()
	}

	if !cfg.ReadOnly {
		if err := withEmbeddedDolt(ctx, initDSN, configureRetries, func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
			return err
		}); err != nil {
			return nil, fmt.Errorf("dolt: create database: %w", err)
		}
	}

	db, connStr, connector, err := openEmbeddedConnection(dbDSN)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("dolt: ping database: %w", err)
	}

	store := &Store{
		db:                db,
		dbPath:            absPath,
		connStr:           connStr,
		embeddedConnector: connector,
		readOnly:          cfg.ReadOnly,
		serverMode:        false,
	}

	if !cfg.ReadOnly {
		if err := initSchema(ctx, store); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("dolt: init schema: %w", err)
		}
	}

	return store, nil
}

func openEmbeddedConnection(dsn string) (*sql.DB, string, *embedded.Connector, error) {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return nil, "", nil, fmt.Errorf("dolt: parse DSN: %w", err)
	}
	openCfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, "", nil, fmt.Errorf("dolt: create connector: %w", err)
	}
	db := sql.OpenDB(connector)

	// Embedded Dolt is single-writer; a single pooled connection avoids
	// concurrent-access errors against the local noms storage layer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, dsn, connector, nil
}

// withEmbeddedDolt opens a throwaway connection against dsn, runs fn, and
// closes it — used for the one-shot CREATE DATABASE step before the
// store's long-lived connection is opened.
func withEmbeddedDolt(ctx context.Context, dsn string, configure func(*embedded.Config), fn func(context.Context, *sql.DB) error) error {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("dolt: parse DSN: %w", err)
	}
	if configure != nil {
		configure(cfg)
	}
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("dolt: create connector: %w", err)
	}
	defer connector.Close()

	db := sql.OpenDB(connector)
	defer db.Close()

	return fn(ctx, db)
}
