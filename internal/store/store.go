package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

// Driver selects the SQL dialect and database/sql driver.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

var (
	// ErrAttemptNotFound is returned when a quiz attempt row does not exist.
	ErrAttemptNotFound = errors.New("quiz attempt not found")
	// ErrAttemptNotInProgress is returned when a state change requires an in-progress attempt.
	ErrAttemptNotInProgress = errors.New("quiz attempt is not in progress")
)

// Store is the relational persistence layer. All queries use $N placeholders,
// which both the sqlite and pgx drivers accept.
type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens a SQLite database at dbPath and ensures the schema exists.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open opens a database for the given driver and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "learnhub.db"
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/learnhub?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection serializes writers and keeps :memory: databases coherent.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already opened handle without running migrations.
func NewWithDB(db *sql.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// forUpdate returns a row-lock clause where the dialect supports one.
// SQLite needs none since it runs with a single connection.
func (s *Store) forUpdate() string {
	if s.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0)
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'student',
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS level_questions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	option_a TEXT NOT NULL,
	option_b TEXT NOT NULL,
	option_c TEXT NOT NULL,
	option_d TEXT NOT NULL,
	correct TEXT NOT NULL,
	band TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_id TEXT NOT NULL UNIQUE,
	user_id INTEGER NOT NULL,
	score INTEGER NOT NULL,
	level TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_levels (
	user_id INTEGER PRIMARY KEY,
	level TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quizzes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	difficulty INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quiz_questions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quiz_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	text TEXT NOT NULL,
	type INTEGER NOT NULL,
	options_json TEXT NOT NULL,
	correct_answer TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS quiz_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	quiz_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	status INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS quiz_attempts_one_open
	ON quiz_attempts (user_id, quiz_id) WHERE status = 0;

CREATE TABLE IF NOT EXISTS quiz_answers (
	attempt_id INTEGER NOT NULL,
	question_id INTEGER NOT NULL,
	raw TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS quiz_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id INTEGER NOT NULL UNIQUE,
	quiz_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	score REAL NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'student',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS level_questions (
	id BIGSERIAL PRIMARY KEY,
	text TEXT NOT NULL,
	option_a TEXT NOT NULL,
	option_b TEXT NOT NULL,
	option_c TEXT NOT NULL,
	option_d TEXT NOT NULL,
	correct TEXT NOT NULL,
	band TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_results (
	id BIGSERIAL PRIMARY KEY,
	test_id TEXT NOT NULL UNIQUE,
	user_id BIGINT NOT NULL,
	score INTEGER NOT NULL,
	level TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_levels (
	user_id BIGINT PRIMARY KEY,
	level TEXT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS quizzes (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	difficulty INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quiz_questions (
	id BIGSERIAL PRIMARY KEY,
	quiz_id BIGINT NOT NULL,
	position INTEGER NOT NULL,
	text TEXT NOT NULL,
	type INTEGER NOT NULL,
	options_json TEXT NOT NULL,
	correct_answer TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS quiz_attempts (
	id BIGSERIAL PRIMARY KEY,
	quiz_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	score DOUBLE PRECISION NOT NULL DEFAULT 0,
	status INTEGER NOT NULL DEFAULT 0,
	started_at BIGINT NOT NULL,
	completed_at BIGINT
);

CREATE UNIQUE INDEX IF NOT EXISTS quiz_attempts_one_open
	ON quiz_attempts (user_id, quiz_id) WHERE status = 0;

CREATE TABLE IF NOT EXISTS quiz_answers (
	attempt_id BIGINT NOT NULL,
	question_id BIGINT NOT NULL,
	raw TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS quiz_results (
	id BIGSERIAL PRIMARY KEY,
	attempt_id BIGINT NOT NULL UNIQUE,
	quiz_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);
`
