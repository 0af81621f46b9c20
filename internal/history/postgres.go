package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	sqlCreateHistory = `
		CREATE TABLE IF NOT EXISTS search_history (
			id           BIGSERIAL PRIMARY KEY,
			term         TEXT NOT NULL,
			searched_at  TIMESTAMPTZ NOT NULL,
			result_count INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'ok'
		)`
	sqlInsertHistory = `
		INSERT INTO search_history (term, searched_at, result_count, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	sqlRecentHistory = `
		SELECT id, term, searched_at, result_count, status
		FROM search_history
		ORDER BY searched_at DESC, id DESC
		LIMIT $1`
)

// PostgresStore implements Store on PostgreSQL through pgx.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open pool. Call EnsureSchema before first use.
func NewPostgresStore(pool DBPool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("history"),
		now:  time.Now,
	}
}

// EnsureSchema creates the history table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateHistory); err != nil {
		return fmt.Errorf("history: create table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, entry schemas.HistoryEntry) (schemas.HistoryEntry, error) {
	entry, err := normalize(entry, s.now)
	if err != nil {
		return entry, err
	}

	row := s.pool.QueryRow(ctx, sqlInsertHistory, entry.Term, entry.SearchedAt, entry.ResultCount, string(entry.Status))
	if err := row.Scan(&entry.ID); err != nil {
		return entry, fmt.Errorf("history: insert entry: %w", err)
	}
	s.log.Debug("Recorded search.", zap.String("term", entry.Term), zap.Int64("id", entry.ID))
	return entry, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]schemas.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, sqlRecentHistory, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("history: list entries: %w", err)
	}
	defer rows.Close()

	entries := []schemas.HistoryEntry{}
	for rows.Next() {
		var (
			entry  schemas.HistoryEntry
			status string
		)
		if err := rows.Scan(&entry.ID, &entry.Term, &entry.SearchedAt, &entry.ResultCount, &status); err != nil {
			return nil, fmt.Errorf("history: scan entry: %w", err)
		}
		entry.SearchedAt = entry.SearchedAt.UTC()
		entry.Status = schemas.SearchStatus(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate rows: %w", err)
	}
	return entries, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
