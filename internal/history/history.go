package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/studiowebux/asynchttp/internal/config"
	"github.com/studiowebux/asynchttp/internal/migrations"
	"github.com/studiowebux/asynchttp/internal/types"
)

// ErrNotFound is returned when no entry has the requested id
var ErrNotFound = errors.New("history entry not found")

const columns = `id, timestamp, request_file, COALESCE(request_name, ''), method, url, headers,
	COALESCE(body, ''), response_status, response_status_text, response_headers, response_body,
	duration_ms, COALESCE(request_size, 0), COALESCE(response_size, 0), COALESCE(error, '')`

// Manager is the exchange journal
type Manager struct {
	db      *sql.DB
	dialect migrations.Dialect
}

// NewManager opens the default sqlite journal at dbPath
func NewManager(dbPath string) (*Manager, error) {
	return Open(migrations.SQLite.Driver, dbPath)
}

// Open connects to the journal with the given driver and runs migrations
func Open(driver, dsn string) (*Manager, error) {
	dialect, err := migrations.DialectFor(driver)
	if err != nil {
		return nil, err
	}

	memory := dialect == migrations.SQLite && strings.Contains(dsn, ":memory:")
	if dialect == migrations.SQLite && !memory {
		dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
		if err := os.MkdirAll(dir, config.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if memory {
		// every new connection to :memory: is a fresh database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := migrations.Run(db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db, dialect: dialect}, nil
}

// DB exposes the underlying handle so other stores can share the journal
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Dialect returns the SQL dialect of the journal
func (m *Manager) Dialect() migrations.Dialect {
	return m.dialect
}

// NewEntry flattens an executed request definition into a journal entry
func NewEntry(requestFile string, def types.RequestDefinition, result *types.RequestResult) types.HistoryEntry {
	return types.HistoryEntry{
		Timestamp:          time.Now(),
		RequestFile:        requestFile,
		RequestName:        def.Name,
		Method:             result.Method,
		URL:                result.URL,
		Headers:            def.Headers,
		Body:               def.Body,
		ResponseStatus:     result.Status,
		ResponseStatusText: result.StatusText,
		ResponseHeaders:    result.Headers,
		ResponseBody:       result.Body,
		Duration:           result.Duration,
		RequestSize:        result.RequestSize,
		ResponseSize:       result.ResponseSize,
		Error:              result.Error,
	}
}

// Save inserts entry and returns its id
func (m *Manager) Save(ctx context.Context, entry types.HistoryEntry) (int64, error) {
	headersJSON, err := marshalHeaders(entry.Headers)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal headers: %w", err)
	}
	responseHeadersJSON, err := marshalHeaders(entry.ResponseHeaders)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal response headers: %w", err)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
		INSERT INTO history (
			timestamp, request_file, request_name, method, url, headers, body,
			response_status, response_status_text, response_headers, response_body,
			duration_ms, request_size, response_size, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		ts.UTC(),
		entry.RequestFile,
		entry.RequestName,
		entry.Method,
		entry.URL,
		headersJSON,
		entry.Body,
		entry.ResponseStatus,
		entry.ResponseStatusText,
		responseHeadersJSON,
		entry.ResponseBody,
		entry.Duration,
		int64(entry.RequestSize),
		int64(entry.ResponseSize),
		entry.Error,
	}

	id, err := m.insert(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to save history entry: %w", err)
	}
	return id, nil
}

func (m *Manager) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if m.dialect.Returning {
		var id int64
		err := m.db.QueryRowContext(ctx, m.dialect.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := m.db.ExecContext(ctx, m.dialect.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns the newest entries first. A limit of zero or less returns all.
func (m *Manager) List(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	query := "SELECT " + columns + " FROM history ORDER BY timestamp DESC, id DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := m.db.QueryContext(ctx, m.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// LoadForFile returns the entries recorded for one request file, newest first
func (m *Manager) LoadForFile(ctx context.Context, requestFile string) ([]types.HistoryEntry, error) {
	query := "SELECT " + columns + " FROM history WHERE request_file = ? ORDER BY timestamp DESC, id DESC"
	rows, err := m.db.QueryContext(ctx, m.dialect.Rebind(query), requestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Get returns a single entry
func (m *Manager) Get(ctx context.Context, id int64) (types.HistoryEntry, error) {
	query := "SELECT " + columns + " FROM history WHERE id = ?"
	rows, err := m.db.QueryContext(ctx, m.dialect.Rebind(query), id)
	if err != nil {
		return types.HistoryEntry{}, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return types.HistoryEntry{}, err
	}
	if len(entries) == 0 {
		return types.HistoryEntry{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return entries[0], nil
}

func scanEntries(rows *sql.Rows) ([]types.HistoryEntry, error) {
	var entries []types.HistoryEntry
	for rows.Next() {
		var (
			entry               types.HistoryEntry
			headersJSON         string
			responseHeadersJSON string
			requestSize         int64
			responseSize        int64
		)
		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.RequestFile,
			&entry.RequestName,
			&entry.Method,
			&entry.URL,
			&headersJSON,
			&entry.Body,
			&entry.ResponseStatus,
			&entry.ResponseStatusText,
			&responseHeadersJSON,
			&entry.ResponseBody,
			&entry.Duration,
			&requestSize,
			&responseSize,
			&entry.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if err := json.Unmarshal([]byte(headersJSON), &entry.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers of entry %d: %w", entry.ID, err)
		}
		if err := json.Unmarshal([]byte(responseHeadersJSON), &entry.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response headers of entry %d: %w", entry.ID, err)
		}
		entry.RequestSize = uint64(requestSize)
		entry.ResponseSize = uint64(responseSize)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes one entry
func (m *Manager) Delete(ctx context.Context, id int64) error {
	res, err := m.db.ExecContext(ctx, m.dialect.Rebind("DELETE FROM history WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Clear removes every entry
func (m *Manager) Clear(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// Count returns the number of entries
func (m *Manager) Count(ctx context.Context) (int, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return count, nil
}

// Export writes entries as an indented JSON array, newest first
func (m *Manager) Export(ctx context.Context, w io.Writer, limit int) error {
	entries, err := m.List(ctx, limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// Import reads a JSON array written by Export and appends the entries.
// Ids are reassigned.
func (m *Manager) Import(ctx context.Context, r io.Reader) (int, error) {
	var entries []types.HistoryEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("failed to decode history export: %w", err)
	}
	// oldest first so ids follow the original order
	for i := len(entries) - 1; i >= 0; i-- {
		if _, err := m.Save(ctx, entries[i]); err != nil {
			return len(entries) - 1 - i, err
		}
	}
	return len(entries), nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

func marshalHeaders(h types.Headers) (string, error) {
	if h == nil {
		h = types.Headers{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
