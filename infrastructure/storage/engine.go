// Package storage implements the Storage Engine (§4.1): migrations
// applied in strict numeric order, a pooled connection with foreign keys
// enabled and a small fixed connection count, and atomic backup/restore
// of the embedded SQLite file. Grounded on the teacher's
// infrastructure/database connection wiring and on rakunlabs-at's
// internal/store/sqlite3 package (the pack's one local-SQLite store),
// reworked around database/sql directly since this core has no HTTP
// gateway to delegate query building to.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/lukeeterna/fluxion-core/infrastructure/logging"
	"github.com/lukeeterna/fluxion-core/infrastructure/metrics"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// maxOpenConns is the small fixed connection count §4.1 specifies
// ("≈5") — SQLite is single-writer, but read-only queries (list/find)
// benefit from a handful of concurrent readers under WAL.
const maxOpenConns = 5

// Engine owns the pooled connection to the embedded relational store and
// the migration/backup/restore operations the rest of the core builds on.
type Engine struct {
	db      *sql.DB
	path    string
	log     *logging.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics attaches a Prometheus collector set. Passing nil (the
// zero value) disables metrics without changing behavior.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Open opens (creating if absent) the SQLite file at path, enables WAL
// journaling and foreign keys, pins the connection pool, and applies
// every embedded migration in strict numeric order.
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store at %s: %w", path, err)
	}

	e := &Engine{db: db, path: path}
	for _, opt := range opts {
		opt(e)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := e.applyMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return e, nil
}

// DB returns the pooled *sql.DB handle repositories build their queries
// against.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Path returns the primary store file's path.
func (e *Engine) Path() string {
	return e.path
}

// Close releases the connection pool.
func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.log == nil {
		return
	}
	e.log.Logger.Infof(format, args...)
}

// applyMigrations loads every *.sql file embedded under migrations/,
// sorts them by filename (numeric prefix gives strict numeric order),
// splits each into statements, and applies each statement idempotently:
// "already exists"/"duplicate column" errors are logged and ignored,
// any other error aborts startup (§4.1).
func (e *Engine) applyMigrations(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		statements := SplitStatements(string(raw))
		for _, stmt := range statements {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := e.db.ExecContext(ctx, stmt); err != nil {
				if isIgnorableMigrationError(err) {
					e.logf("migration %s: ignoring idempotent error: %v", name, err)
					e.metrics.RecordMigration("ignored")
					continue
				}
				e.metrics.RecordMigration("failed")
				return fmt.Errorf("migration %s statement %q: %w", name, stmt, err)
			}
			e.metrics.RecordMigration("applied")
		}
	}

	return nil
}

// isIgnorableMigrationError reports whether err is the kind of
// "already exists" / "duplicate column" failure that re-running a
// migration against an already-migrated database is expected to
// produce, and which §4.1 says to log and ignore rather than abort on.
func isIgnorableMigrationError(err error) bool {
	msg := strings.ToLower(err.Error())
	ignorable := []string{
		"already exists",
		"duplicate column",
		"duplicate column name",
	}
	for _, substr := range ignorable {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// SplitStatements parses a migration file into individual statements by
// tracking parenthesis depth and semicolon terminators, so multi-line
// DDL (CREATE TABLE bodies spanning several lines) is preserved intact
// rather than split mid-definition (§4.1).
func SplitStatements(sqlText string) []string {
	var statements []string
	var current strings.Builder
	depth := 0
	inSingleQuote := false
	inLineComment := false

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if inLineComment {
			current.WriteRune(r)
			if r == '\n' {
				inLineComment = false
			}
			continue
		}

		if !inSingleQuote && r == '-' && i+1 < len(runes) && runes[i+1] == '-' {
			inLineComment = true
			current.WriteRune(r)
			continue
		}

		if r == '\'' {
			inSingleQuote = !inSingleQuote
			current.WriteRune(r)
			continue
		}

		if inSingleQuote {
			current.WriteRune(r)
			continue
		}

		switch r {
		case '(':
			depth++
			current.WriteRune(r)
		case ')':
			if depth > 0 {
				depth--
			}
			current.WriteRune(r)
		case ';':
			if depth == 0 {
				statements = append(statements, current.String())
				current.Reset()
			} else {
				current.WriteRune(r)
			}
		default:
			current.WriteRune(r)
		}
	}

	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}

	return statements
}
