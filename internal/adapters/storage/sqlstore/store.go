// Package sqlstore persists sessions, messages, profiles and journal entries
// in the lotus_* tables. The same queries run on Postgres (lib/pq) and on
// embedded SQLite (modernc.org/sqlite); only placeholders, column types and
// timestamp encoding differ per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a Store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store implements the session, message, profile and journal ports.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// OpenPostgres connects to a Postgres database and creates missing tables.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres store needs a database URL")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return newStore(ctx, db, DialectPostgres)
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite store needs a file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// modernc serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return newStore(ctx, db, DialectSQLite)
}

func newStore(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping: %w", dialect, err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) migrate(ctx context.Context) error {
	ts, js, boolean := "TIMESTAMPTZ", "JSONB", "BOOLEAN"
	stmts := []string{}
	if s.dialect == DialectSQLite {
		ts, js, boolean = "TEXT", "TEXT", "INTEGER"
		stmts = append(stmts, `PRAGMA journal_mode=WAL;`)
	}

	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS lotus_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT 'S1',
			therapy_type TEXT NOT NULL DEFAULT 'cbt',
			is_complete %[2]s NOT NULL DEFAULT %[3]s,
			voice_mode %[2]s NOT NULL DEFAULT %[3]s,
			started_at %[1]s NOT NULL,
			updated_at %[1]s NOT NULL,
			ended_at %[1]s
		)`, ts, boolean, s.falseLiteral()),
		`CREATE INDEX IF NOT EXISTS idx_lotus_sessions_user ON lotus_sessions(user_id, started_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS lotus_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			llm_payload %s,
			created_at %s NOT NULL%s
		)`, js, ts, s.seqColumnDef()),
		`CREATE INDEX IF NOT EXISTS idx_lotus_messages_session ON lotus_messages(session_id, created_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS lotus_journal (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			therapy_type TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			reflection TEXT NOT NULL,
			final_stage TEXT NOT NULL,
			created_at %s NOT NULL
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_lotus_journal_user ON lotus_journal(user_id, created_at)`,
	)

	if s.dialect == DialectPostgres {
		// Tables created before the sequence column existed.
		stmts = append(stmts, `ALTER TABLE lotus_messages ADD COLUMN IF NOT EXISTS seq BIGSERIAL`)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.dialect, err)
		}
	}
	return nil
}

// seqColumnDef declares the insertion sequence of lotus_messages. SQLite
// uses its implicit rowid instead.
func (s *Store) seqColumnDef() string {
	if s.dialect == DialectSQLite {
		return ""
	}
	return ",\n\t\t\tseq BIGSERIAL"
}

// seqColumn orders messages that share a created_at by insertion.
func (s *Store) seqColumn() string {
	if s.dialect == DialectSQLite {
		return "rowid"
	}
	return "seq"
}

func (s *Store) falseLiteral() string {
	if s.dialect == DialectSQLite {
		return "0"
	}
	return "FALSE"
}

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

// q adapts a query written with $n placeholders to the store dialect.
func (s *Store) q(query string) string {
	if s.dialect == DialectSQLite {
		return pgPlaceholder.ReplaceAllString(query, "?$1")
	}
	return query
}

// timeLayout is fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timeArg encodes t for the dialect.
func (s *Store) timeArg(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(timeLayout)
	}
	return t.UTC()
}

func (s *Store) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.timeArg(*t)
}

// scanTime accepts the native and TEXT timestamp encodings.
type scanTime struct {
	Time  time.Time
	Valid bool
}

func (st *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		st.Time, st.Valid = time.Time{}, false
		return nil
	case time.Time:
		st.Time, st.Valid = v.UTC(), true
		return nil
	case string:
		return st.parse(v)
	case []byte:
		return st.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (st *scanTime) parse(v string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, v); err == nil {
			st.Time, st.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", v)
}

func (st scanTime) ptr() *time.Time {
	if !st.Valid {
		return nil
	}
	t := st.Time
	return &t
}
