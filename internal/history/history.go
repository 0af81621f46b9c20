// Package history records the search terms users submit, with their outcome.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/api/schemas"
	"github.com/tcgscout/tcgscout/internal/config"
)

// DefaultLimit is used by Recent when the caller passes a non-positive limit.
const DefaultLimit = 20

// Store persists search history entries.
type Store interface {
	// Record inserts entry and returns it with ID and SearchedAt filled in.
	Record(ctx context.Context, entry schemas.HistoryEntry) (schemas.HistoryEntry, error)
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]schemas.HistoryEntry, error)
	Close() error
}

// Open connects the backend selected by cfg.Driver and ensures the schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Debug("History store opened.", zap.String("driver", cfg.Driver), zap.String("path", cfg.Path))
		return store, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("history: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("history: ping postgres: %w", err)
		}
		store := NewPostgresStore(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Debug("History store opened.", zap.String("driver", cfg.Driver))
		return store, nil

	default:
		return nil, fmt.Errorf("history: unsupported driver %q", cfg.Driver)
	}
}

// normalize validates entry and fills the timestamp.
func normalize(entry schemas.HistoryEntry, now func() time.Time) (schemas.HistoryEntry, error) {
	entry.Term = strings.TrimSpace(entry.Term)
	if entry.Term == "" {
		return entry, fmt.Errorf("history: term is required")
	}
	if entry.Status == "" {
		entry.Status = schemas.StatusOK
	}
	if entry.SearchedAt.IsZero() {
		entry.SearchedAt = now()
	}
	entry.SearchedAt = entry.SearchedAt.UTC()
	return entry, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
