package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect is the SQL flavour of the connected database.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// DB wraps the history database connection.
type DB struct {
	conn    *sql.DB
	dsn     string
	dialect Dialect
	now     func() time.Time
}

// DefaultDBPath returns ~/.converge/converge.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".converge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "converge.db"), nil
}

// DialectFor picks the driver for a DSN: postgres:// URLs use pgx, anything
// else is a SQLite path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open opens or creates the database named by dsn.
func Open(dsn string) (*DB, error) {
	dialect := DialectFor(dsn)
	driver := "sqlite3"
	if dialect == Postgres {
		driver = "pgx"
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dialect == SQLite {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
		if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}
	return &DB{conn: conn, dsn: dsn, dialect: dialect, now: time.Now}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect reports which database flavour is in use.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// rebind rewrites ? placeholders as $1..$n for Postgres.
func (d *DB) rebind(q string) string {
	if d.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func (d *DB) timestamp() string {
	return d.now().UTC().Format(timeLayout)
}

// The two schemas differ only in the identity column type.
const schemaV1Template = `
CREATE TABLE IF NOT EXISTS fix_attempts (
    id            %[1]s,
    invocation_id TEXT NOT NULL,
    repo          TEXT NOT NULL,
    fingerprint   TEXT NOT NULL,
    phase         TEXT NOT NULL CHECK(phase IN ('local','ci-job','ci-run')),
    target        TEXT NOT NULL,
    attempt       INTEGER NOT NULL,
    succeeded     BOOLEAN NOT NULL,
    strategy      TEXT,
    root_cause    TEXT,
    commit_id     TEXT,
    run_id        BIGINT,
    elapsed_ms    BIGINT,
    timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fix_fingerprint ON fix_attempts(fingerprint, timestamp);

CREATE TABLE IF NOT EXISTS check_runs (
    id            %[1]s,
    invocation_id TEXT NOT NULL,
    repo          TEXT NOT NULL,
    round         INTEGER NOT NULL,
    check_name    TEXT NOT NULL,
    passed        BOOLEAN NOT NULL,
    exit_code     INTEGER,
    duration_ms   INTEGER,
    summary       TEXT,
    fingerprint   TEXT,
    timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_check_invocation ON check_runs(invocation_id, round);

CREATE TABLE IF NOT EXISTS controller_events (
    id            %[1]s,
    invocation_id TEXT NOT NULL,
    repo          TEXT NOT NULL,
    event         TEXT NOT NULL,
    phase         TEXT,
    detail        TEXT,
    timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_invocation ON controller_events(invocation_id, id);
`

func (d *DB) schemaV1() []string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == Postgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	var stmts []string
	for _, s := range strings.Split(fmt.Sprintf(schemaV1Template, id), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

const schemaVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`

// Migrate applies the database schema. It is safe to call repeatedly.
func (d *DB) Migrate() error {
	if _, err := d.conn.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var count int
	err := d.conn.QueryRow(d.rebind("SELECT COUNT(*) FROM schema_version WHERE version = ?"), 1).Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range d.schemaV1() {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.Exec(d.rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"), 1, d.timestamp()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"controller_events", "check_runs", "fix_attempts", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
