// Package dolt implements storage.Store on top of Dolt, a versioned
// MySQL-compatible database. Two connection modes are supported:
//
//   - Embedded: in-process via github.com/dolthub/driver (requires CGO).
//   - Server: connect to a running `dolt sql-server` via the pure-Go
//     go-sql-driver/mysql client (no CGO required).
//
// Every statement goes through execContext/queryContext/queryRowContext,
// which wrap the call in an OTel span and, in server mode, retry
// transient connection errors with cenkalti/backoff.
package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSQLPort is the default dolt sql-server port.
const DefaultSQLPort = 3307

// Store implements storage.Store against a Dolt database.
type Store struct {
	db         *sql.DB
	dbPath     string
	connStr    string
	closed     atomic.Bool
	readOnly   bool
	serverMode bool

	// embeddedConnector is non-nil only in embedded mode and must be closed
	// to release the engine's filesystem locks. Typed as io.Closer so this
	// file need not import the CGO-only driver package.
	embeddedConnector io.Closer
}

// Config holds Dolt connection configuration.
type Config struct {
	Path           string // directory for the embedded database
	Database       string // database name within Dolt (default: "syncmesh")
	CommitterName  string
	CommitterEmail string
	ReadOnly       bool

	ServerMode     bool
	ServerHost     string
	ServerPort     int
	ServerUser     string
	ServerPassword string
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Database == "" {
		cfg.Database = "syncmesh"
	}
	if cfg.CommitterName == "" {
		cfg.CommitterName = "syncmesh"
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = "syncmesh@local"
	}
	if cfg.ServerMode {
		if cfg.ServerHost == "" {
			cfg.ServerHost = "127.0.0.1"
		}
		if cfg.ServerPort == 0 {
			cfg.ServerPort = DefaultSQLPort
		}
		if cfg.ServerUser == "" {
			cfg.ServerUser = "root"
		}
		if cfg.ServerPassword == "" {
			cfg.ServerPassword = os.Getenv("SYNCMESH_DOLT_PASSWORD")
		}
	}
}

// Open creates a new Dolt-backed Store. In server mode it dials a running
// dolt sql-server; otherwise it opens (and initializes, if needed) an
// embedded database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" && !cfg.ServerMode {
		return nil, fmt.Errorf("dolt: database path is required")
	}
	applyConfigDefaults(&cfg)

	if cfg.ServerMode {
		return newServerMode(ctx, &cfg)
	}
	return newEmbeddedMode(ctx, &cfg)
}

func newServerMode(ctx context.Context, cfg *Config) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.ServerUser, cfg.ServerPassword, cfg.ServerHost, cfg.ServerPort, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dolt: open server connection: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dolt: ping server: %w", err)
	}

	s := &Store{db: db, connStr: dsn, serverMode: true, readOnly: cfg.ReadOnly}
	if !cfg.ReadOnly {
		if err := initSchema(ctx, s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("dolt: init schema: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if s.db != nil {
		firstErr = s.db.Close()
	}
	if s.embeddedConnector != nil {
		if err := s.embeddedConnector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// doltTracer/doltMetrics follow the teacher's pattern of registering
// against the global OTel providers at init time so they start forwarding
// for free once a real provider is installed.
var doltTracer = otel.Tracer("github.com/syncmesh/syncmesh/storage/dolt")

var doltMetrics struct {
	retryCount metric.Int64Counter
	queryMs    metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/syncmesh/syncmesh/storage/dolt")
	doltMetrics.retryCount, _ = m.Int64Counter("syncmesh.db.retry_count",
		metric.WithDescription("SQL operations retried due to server-mode transient errors"),
		metric.WithUnit("{retry}"),
	)
	doltMetrics.queryMs, _ = m.Float64Histogram("syncmesh.db.query_ms",
		metric.WithDescription("SQL statement latency"),
		metric.WithUnit("ms"),
	)
}

const serverRetryMaxElapsed = 30 * time.Second

func newServerRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = serverRetryMaxElapsed
	return bo
}

// isRetryableError reports whether err is a transient connection error
// worth retrying in server mode. Embedded mode already retries at the
// driver level via embedded.Config.BackOff.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, substr := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"database is read only",
		"lost connection",
		"gone away",
		"i/o timeout",
		"unknown database",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}

// withRetry runs op, retrying transient errors with exponential backoff.
// Only active in server mode.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	if !s.serverMode {
		return op()
	}
	attempts := 0
	bo := newServerRetryBackoff()
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		doltMetrics.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}

func (s *Store) dbSpanAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "dolt"),
		attribute.Bool("db.readonly", s.readOnly),
		attribute.Bool("db.server_mode", s.serverMode),
	}
}

func spanSQL(q string) string {
	if len(q) > 300 {
		return q[:300] + "…"
	}
	return q
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := doltTracer.Start(ctx, "dolt.exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(s.dbSpanAttrs(),
			attribute.String("db.operation", "exec"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	start := time.Now()
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	doltMetrics.queryMs.Record(ctx, float64(time.Since(start).Milliseconds()))
	endSpan(span, err)
	return result, err
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, span := doltTracer.Start(ctx, "dolt.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(s.dbSpanAttrs(),
			attribute.String("db.operation", "query"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	start := time.Now()
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	doltMetrics.queryMs.Record(ctx, float64(time.Since(start).Milliseconds()))
	endSpan(span, err)
	return rows, err
}

func (s *Store) queryRowContext(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	ctx, span := doltTracer.Start(ctx, "dolt.query_row",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(s.dbSpanAttrs(),
			attribute.String("db.operation", "query_row"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	err := s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, args...)
		return scan(row)
	})
	endSpan(span, err)
	return err
}

// withTx runs fn inside a transaction, committing on success and rolling
// back otherwise. Used by the multi-statement writes that §5 requires to
// be atomic (discovery-metadata saves, conflict batches, webhook delivery
// plus trigger counter, version append under monotonic numbering).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
