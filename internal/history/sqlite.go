package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tcgscout/tcgscout/api/schemas"
)

// timeLayout is fixed width UTC, so searched_at sorts as text in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite via modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at dbPath, creating the table if needed.
// Use ":memory:" for tests.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// SQLite allows a single writer, and an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS search_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			term         TEXT NOT NULL,
			searched_at  TEXT NOT NULL,
			result_count INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'ok'
		);
	`
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create table: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Record inserts a history entry.
func (s *SQLiteStore) Record(ctx context.Context, entry schemas.HistoryEntry) (schemas.HistoryEntry, error) {
	entry, err := normalize(entry, s.now)
	if err != nil {
		return entry, err
	}

	query := `
		INSERT INTO search_history (term, searched_at, result_count, status)
		VALUES (?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		entry.Term,
		entry.SearchedAt.Format(timeLayout),
		entry.ResultCount,
		string(entry.Status),
	)
	if err != nil {
		return entry, fmt.Errorf("history: insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return entry, fmt.Errorf("history: read inserted id: %w", err)
	}
	entry.ID = id
	return entry, nil
}

// Recent returns the newest entries first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]schemas.HistoryEntry, error) {
	query := `
		SELECT id, term, searched_at, result_count, status
		FROM search_history
		ORDER BY searched_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history: list entries: %w", err)
	}
	defer rows.Close()

	entries := []schemas.HistoryEntry{}
	for rows.Next() {
		var (
			entry      schemas.HistoryEntry
			searchedAt string
			status     string
		)
		if err := rows.Scan(&entry.ID, &entry.Term, &searchedAt, &entry.ResultCount, &status); err != nil {
			return nil, fmt.Errorf("history: scan entry: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, searchedAt)
		if err != nil {
			return nil, fmt.Errorf("history: parse searched_at %q: %w", searchedAt, err)
		}
		entry.SearchedAt = t
		entry.Status = schemas.SearchStatus(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
