package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store persists resource registrations, edit history, link audit results,
// processed-course status and live file ordering.
type Store struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite":
		db, err = openSQLite(dsn)
	case "postgres":
		db, err = sqlx.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func openSQLite(dsn string) (*sqlx.DB, error) {
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == "postgres" {
		stmts = postgresSchema
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func (s *Store) timestamp() int64 {
	return s.now().Unix()
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		id INTEGER PRIMARY KEY,
		shortname TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS editables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER NOT NULL,
		resource_id INTEGER NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('editable', 'printable')),
		related_resource INTEGER,
		version TEXT NOT NULL DEFAULT 'original',
		time_created INTEGER NOT NULL,
		time_modified INTEGER NOT NULL,
		UNIQUE(course_id, resource_id),
		FOREIGN KEY(course_id, related_resource) REFERENCES editables(course_id, resource_id)
	)`,
	`CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER NOT NULL,
		resource_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		version TEXT NOT NULL,
		other TEXT NOT NULL DEFAULT '{}',
		user_id INTEGER NOT NULL DEFAULT 0,
		time_created INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS history_resource ON history(course_id, resource_id)`,
	`CREATE TABLE IF NOT EXISTS resource_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER NOT NULL,
		resource_id INTEGER NOT NULL,
		version TEXT NOT NULL,
		action TEXT NOT NULL,
		link TEXT NOT NULL,
		file TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		other TEXT NOT NULL DEFAULT '{}',
		time_created INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS resource_links_version ON resource_links(course_id, resource_id, version)`,
	`CREATE TABLE IF NOT EXISTS processed_courses (
		course_id INTEGER PRIMARY KEY,
		processed INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		time_modified INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS live_files (
		course_id INTEGER NOT NULL,
		resource_id INTEGER NOT NULL,
		filename TEXT NOT NULL,
		sortorder INTEGER NOT NULL,
		PRIMARY KEY(course_id, resource_id, filename)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		id BIGINT PRIMARY KEY,
		shortname TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS editables (
		id BIGSERIAL PRIMARY KEY,
		course_id BIGINT NOT NULL,
		resource_id BIGINT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('editable', 'printable')),
		related_resource BIGINT,
		version TEXT NOT NULL DEFAULT 'original',
		time_created BIGINT NOT NULL,
		time_modified BIGINT NOT NULL,
		UNIQUE(course_id, resource_id),
		FOREIGN KEY(course_id, related_resource) REFERENCES editables(course_id, resource_id)
	)`,
	`CREATE TABLE IF NOT EXISTS history (
		id BIGSERIAL PRIMARY KEY,
		course_id BIGINT NOT NULL,
		resource_id BIGINT NOT NULL,
		action TEXT NOT NULL,
		version TEXT NOT NULL,
		other TEXT NOT NULL DEFAULT '{}',
		user_id BIGINT NOT NULL DEFAULT 0,
		time_created BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS history_resource ON history(course_id, resource_id)`,
	`CREATE TABLE IF NOT EXISTS resource_links (
		id BIGSERIAL PRIMARY KEY,
		course_id BIGINT NOT NULL,
		resource_id BIGINT NOT NULL,
		version TEXT NOT NULL,
		action TEXT NOT NULL,
		link TEXT NOT NULL,
		file TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		other TEXT NOT NULL DEFAULT '{}',
		time_created BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS resource_links_version ON resource_links(course_id, resource_id, version)`,
	`CREATE TABLE IF NOT EXISTS processed_courses (
		course_id BIGINT PRIMARY KEY,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		message TEXT NOT NULL DEFAULT '',
		time_modified BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS live_files (
		course_id BIGINT NOT NULL,
		resource_id BIGINT NOT NULL,
		filename TEXT NOT NULL,
		sortorder INTEGER NOT NULL,
		PRIMARY KEY(course_id, resource_id, filename)
	)`,
}
