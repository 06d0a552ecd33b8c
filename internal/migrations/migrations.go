package migrations

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect holds the per-driver SQL differences of the journal schema
type Dialect struct {
	Name string
	// Driver is the database/sql driver name
	Driver string
	// Serial is the column definition of an auto-incrementing primary key
	Serial string
	// Time is the column type used for timestamps
	Time string
	// Returning reports whether inserts fetch the new id with RETURNING
	Returning bool
	// Numbered reports whether placeholders are $1, $2 instead of ?
	Numbered bool
}

// Supported dialects
var (
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite3",
		Serial: "INTEGER PRIMARY KEY AUTOINCREMENT",
		Time:   "DATETIME",
	}
	Postgres = Dialect{
		Name:      "postgres",
		Driver:    "postgres",
		Serial:    "BIGSERIAL PRIMARY KEY",
		Time:      "TIMESTAMPTZ",
		Returning: true,
		Numbered:  true,
	}
)

// DialectFor returns the dialect for a driver name
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Rebind rewrites ? placeholders for dialects with numbered placeholders
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
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

// expand substitutes the dialect column types into a schema statement
func (d Dialect) expand(stmt string) string {
	r := strings.NewReplacer("{{serial}}", d.Serial, "{{time}}", d.Time)
	return r.Replace(stmt)
}

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Create history table",
		Up: `
			CREATE TABLE IF NOT EXISTS history (
				id {{serial}},
				timestamp {{time}} NOT NULL,
				request_file TEXT NOT NULL,
				request_name TEXT,
				method TEXT NOT NULL,
				url TEXT NOT NULL,
				headers TEXT NOT NULL,
				body TEXT,
				response_status INTEGER NOT NULL,
				response_status_text TEXT NOT NULL,
				response_headers TEXT NOT NULL,
				response_body TEXT NOT NULL,
				duration_ms BIGINT NOT NULL,
				request_size BIGINT,
				response_size BIGINT,
				error TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp DESC);
			CREATE INDEX IF NOT EXISTS idx_history_request_file ON history(request_file);
			CREATE INDEX IF NOT EXISTS idx_history_url ON history(url);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_history_url;
			DROP INDEX IF EXISTS idx_history_request_file;
			DROP INDEX IF EXISTS idx_history_timestamp;
			DROP TABLE IF EXISTS history;
		`,
	},
	{
		Version: 2,
		Name:    "Create stress run tables",
		Up: `
			CREATE TABLE IF NOT EXISTS stress_runs (
				id {{serial}},
				name TEXT NOT NULL,
				method TEXT NOT NULL,
				url TEXT NOT NULL,
				started_at {{time}} NOT NULL,
				completed_at {{time}},
				status TEXT NOT NULL,
				concurrency INTEGER NOT NULL,
				total_requests INTEGER NOT NULL,
				completed_requests INTEGER NOT NULL DEFAULT 0,
				total_errors INTEGER NOT NULL DEFAULT 0,
				validation_errors INTEGER NOT NULL DEFAULT 0,
				avg_duration_ms REAL NOT NULL DEFAULT 0,
				min_duration_ms BIGINT NOT NULL DEFAULT 0,
				max_duration_ms BIGINT NOT NULL DEFAULT 0,
				p50_duration_ms BIGINT NOT NULL DEFAULT 0,
				p95_duration_ms BIGINT NOT NULL DEFAULT 0,
				p99_duration_ms BIGINT NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_stress_runs_started_at ON stress_runs(started_at DESC);
			CREATE TABLE IF NOT EXISTS stress_errors (
				run_id BIGINT NOT NULL REFERENCES stress_runs(id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				count INTEGER NOT NULL,
				PRIMARY KEY (run_id, kind)
			);
		`,
		Down: `
			DROP TABLE IF EXISTS stress_errors;
			DROP INDEX IF EXISTS idx_stress_runs_started_at;
			DROP TABLE IF EXISTS stress_runs;
		`,
	},
	{
		Version: 3,
		Name:    "Add composite index for per-file history listing",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_history_file_timestamp ON history(request_file, timestamp DESC);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_history_file_timestamp;
		`,
	},
}

// ensureTable creates the migrations tracking table
func ensureTable(db *sql.DB, d Dialect) error {
	_, err := db.Exec(d.expand(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at {{time}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB, d Dialect) error {
	if err := ensureTable(db, d); err != nil {
		return err
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := apply(db, d, migration); err != nil {
			return err
		}
	}

	return nil
}

func apply(db *sql.DB, d Dialect, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(d.expand(migration.Up)); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
	}
	_, err = tx.Exec(
		d.Rebind("INSERT INTO schema_migrations (version, name) VALUES (?, ?)"),
		migration.Version,
		migration.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}
	return tx.Commit()
}

// Rollback reverts applied migrations down to, but not including, target
func Rollback(db *sql.DB, d Dialect, target int) error {
	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for i := len(AllMigrations) - 1; i >= 0; i-- {
		migration := AllMigrations[i]
		if migration.Version > currentVersion || migration.Version <= target {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin rollback %d: %w", migration.Version, err)
		}
		if _, err := tx.Exec(d.expand(migration.Down)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to revert migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		if _, err := tx.Exec(d.Rebind("DELETE FROM schema_migrations WHERE version = ?"), migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to unrecord migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
