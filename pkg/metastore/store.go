package metastore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so every query helper in
// this package can run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the meta-database connection the shard controller and migration
// orchestrator persist cluster state through.
type Store struct {
	db *sql.DB
}

// Open opens the meta-database using the pgx stdlib driver and verifies
// connectivity. dsn is the local-loopback URL spec.md §4.5 targets at the
// local-management listener.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("metastore: empty dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("metastore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metastore: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// WrapDB builds a Store around an already-open *sql.DB, letting callers (and
// tests) supply a pool opened with sqlmock or any other driver instead of
// going through Open.
func WrapDB(db *sql.DB) *Store { return &Store{db: db} }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB as a Querier for read-only callers that
// don't need a transaction.
func (s *Store) DB() Querier { return s.db }

// RunInTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise — the "commit or rollback exactly once" contract
// spec.md §5 requires of every metadata transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metastore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("metastore: commit: %w", err)
	}
	return nil
}

// Statement is one entry in an ExecuteArray batch.
type Statement struct {
	SQL  string
	Args []any
	// MinAffected, when > 0, fails the batch if fewer rows were affected
	// than expected — the "check_affected_rows" option spec.md §4.5 names.
	MinAffected int64
}

// ExecuteArray runs each statement in order against q, stopping at and
// returning the first error (spec.md §4.5's execute_array helper).
func ExecuteArray(ctx context.Context, q Querier, stmts []Statement) error {
	for i, st := range stmts {
		res, err := q.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return fmt.Errorf("metastore: statement %d: %w", i, err)
		}
		if st.MinAffected > 0 {
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("metastore: statement %d: rows affected: %w", i, err)
			}
			if n < st.MinAffected {
				return fmt.Errorf("metastore: statement %d affected %d rows, want at least %d", i, n, st.MinAffected)
			}
		}
	}
	return nil
}

// SchemaDDL creates the four meta-tables and their indexes. Column types
// target PostgreSQL, the pgx driver's native dialect.
var SchemaDDL = []Statement{
	{SQL: `CREATE TABLE IF NOT EXISTS shard_db (
		id               SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		global_dbname    TEXT NOT NULL,
		group_count      INTEGER NOT NULL,
		groupid_last_ver BIGINT NOT NULL DEFAULT 0,
		node_last_ver    BIGINT NOT NULL DEFAULT 0,
		mig_req_count    INTEGER NOT NULL DEFAULT 0,
		ddl_req_count    INTEGER NOT NULL DEFAULT 0,
		gc_req_count     INTEGER NOT NULL DEFAULT 0,
		node_status      TEXT NOT NULL DEFAULT 'ALL_VALID',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},
	{SQL: `CREATE TABLE IF NOT EXISTS shard_node (
		node_id    INTEGER PRIMARY KEY,
		local_db   TEXT NOT NULL,
		host       TEXT NOT NULL,
		port       INTEGER NOT NULL,
		status     TEXT NOT NULL,
		version    BIGINT NOT NULL,
		host_name  TEXT NOT NULL DEFAULT '',
		ha_state   TEXT NOT NULL DEFAULT ''
	)`},
	{SQL: `CREATE TABLE IF NOT EXISTS shard_groupid (
		group_id        INTEGER PRIMARY KEY,
		current_node_id INTEGER NOT NULL REFERENCES shard_node(node_id),
		version         BIGINT NOT NULL
	)`},
	{SQL: `CREATE INDEX IF NOT EXISTS idx_shard_groupid_node ON shard_groupid(current_node_id)`},
	{SQL: `CREATE TABLE IF NOT EXISTS shard_migration (
		id              BIGSERIAL PRIMARY KEY,
		group_id        INTEGER NOT NULL,
		src_node_id     INTEGER NOT NULL,
		dest_node_id    INTEGER NOT NULL,
		status          TEXT NOT NULL,
		"order"         INTEGER NOT NULL DEFAULT 0,
		shard_key_count INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		modified_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		elapsed_millis  BIGINT NOT NULL DEFAULT 0
	)`},
	{SQL: `CREATE INDEX IF NOT EXISTS idx_shard_migration_src_status_order
		ON shard_migration(src_node_id, status, "order", dest_node_id)`},
}

// CreateSchema creates the four meta-tables and their indexes if they don't
// already exist (spec.md §4.6 INIT).
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.RunInTx(ctx, func(tx *sql.Tx) error {
		return ExecuteArray(ctx, tx, SchemaDDL)
	})
}
