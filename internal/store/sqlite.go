// ABOUTME: SQL implementation of CredentialStore for SQLite and Postgres
// ABOUTME: Opens the database, creates the schema and rebinds placeholders per dialect

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour spoken by the underlying driver.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// timeLayout is used for every timestamp column except the audit log.
const timeLayout = time.RFC3339Nano

// SQLStore implements CredentialStore on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ CredentialStore = (*SQLStore)(nil)

// Open dispatches on driver ("sqlite" or "postgres").
// For sqlite the source is a file path; for postgres it is a DSN.
func Open(driver, source string) (*SQLStore, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(source)
	case "postgres":
		return NewPostgresStore(source)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// SQLite allows a single writer at a time
	db.SetMaxOpenConns(1)

	s := newSQLStore(db, DialectSQLite)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore connects through the pgx stdlib driver and creates the schema.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := newSQLStore(db, DialectPostgres)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized")
	return s, nil
}

func newSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "store", "dialect", dialect.String()),
	}
}

// schemaStatements is portable between SQLite and Postgres: timestamps are
// text, booleans are integers and binary values are base64 text.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		email           TEXT NOT NULL,
		name            TEXT NOT NULL,
		display_name    TEXT NOT NULL,
		organisation_id TEXT NOT NULL,
		privileges      TEXT NOT NULL DEFAULT '[]',
		created_at      TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_org ON users(email, organisation_id)`,

	`CREATE TABLE IF NOT EXISTS webauthn_credentials (
		id                          TEXT PRIMARY KEY,
		user_id                     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		authenticator_credential_id TEXT UNIQUE,
		public_key                  TEXT,
		attestation_type            TEXT NOT NULL DEFAULT '',
		transports                  TEXT NOT NULL DEFAULT '[]',
		prev_counter                BIGINT NOT NULL DEFAULT 0,
		backup_eligible             INTEGER NOT NULL DEFAULT 0,
		backup_state                INTEGER NOT NULL DEFAULT 0,
		challenge                   TEXT,
		challenge_hash              TEXT,
		challenge_expires           TEXT,
		session_data                TEXT,
		verified                    INTEGER NOT NULL DEFAULT 0,
		trusted                     INTEGER NOT NULL DEFAULT 0,
		last_used                   TEXT NOT NULL,
		last_used_ip                TEXT NOT NULL DEFAULT '',
		last_used_user_agent        TEXT NOT NULL DEFAULT '',
		device_name                 TEXT NOT NULL DEFAULT '',
		created_at                  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webauthn_user ON webauthn_credentials(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_webauthn_challenge_hash ON webauthn_credentials(challenge_hash)`,

	`CREATE TABLE IF NOT EXISTS client_credentials (
		id          TEXT PRIMARY KEY,
		client_id   TEXT NOT NULL UNIQUE,
		secret_hash TEXT NOT NULL,
		name        TEXT NOT NULL DEFAULT '',
		privileges  TEXT NOT NULL DEFAULT '[]',
		trusted     INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS token_credentials (
		id          TEXT PRIMARY KEY,
		public_key  TEXT NOT NULL,
		source_id   TEXT NOT NULL,
		source_type TEXT NOT NULL,
		updated_at  TEXT NOT NULL,

		CHECK (source_type IN ('WebAuthn', 'Client'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_token_credentials_source ON token_credentials(source_id, source_type)`,

	`CREATE TABLE IF NOT EXISTS permissions (
		id          TEXT PRIMARY KEY,
		resource    TEXT NOT NULL,
		action      TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_permissions_scope ON permissions(resource, action)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		audit_id    TEXT PRIMARY KEY,
		actor_id    TEXT NOT NULL,
		action      TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id   TEXT NOT NULL,
		ts          TEXT NOT NULL,
		detail_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id)`,
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// SQLite returns "UNIQUE constraint failed" in the error message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
