package history

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tcgscout/tcgscout/api/schemas"
)

// flexibleSQLMatcher turns a statement into a regex that ignores whitespace differences.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface, *observer.ObservedLogs) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	return NewPostgresStore(mock, zap.New(core)), mock, logs
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock, _ := newMockStore(t)

	mock.ExpectExec(flexibleSQLMatcher(sqlCreateHistory)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchemaError(t *testing.T) {
	store, mock, _ := newMockStore(t)
	dbErr := errors.New("permission denied")

	mock.ExpectExec(flexibleSQLMatcher(sqlCreateHistory)).WillReturnError(dbErr)

	err := store.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Record(t *testing.T) {
	store, mock, logs := newMockStore(t)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(flexibleSQLMatcher(sqlInsertHistory)).
		WithArgs("charizard", at, 4, "ok").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	entry, err := store.Record(context.Background(), schemas.HistoryEntry{
		Term:        " charizard ",
		SearchedAt:  at,
		ResultCount: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.ID)
	assert.Equal(t, "charizard", entry.Term)
	assert.Equal(t, schemas.StatusOK, entry.Status)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, 1, logs.FilterMessage("Recorded search.").Len())
}

func TestPostgresStore_RecordError(t *testing.T) {
	store, mock, _ := newMockStore(t)
	dbErr := errors.New("connection reset")

	mock.ExpectQuery(flexibleSQLMatcher(sqlInsertHistory)).
		WithArgs("mew", pgxmock.AnyArg(), 0, "scrape_failed").
		WillReturnError(dbErr)

	_, err := store.Record(context.Background(), schemas.HistoryEntry{Term: "mew", Status: schemas.StatusScrapeFailed})
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRejectsEmptyTerm(t *testing.T) {
	store, mock, _ := newMockStore(t)

	_, err := store.Record(context.Background(), schemas.HistoryEntry{Term: ""})
	require.Error(t, err)
	// No statement reaches the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Recent(t *testing.T) {
	store, mock, _ := newMockStore(t)
	newer := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	rows := pgxmock.NewRows([]string{"id", "term", "searched_at", "result_count", "status"}).
		AddRow(int64(2), "lugia", newer, 0, "empty").
		AddRow(int64(1), "ho-oh", older, 7, "ok")
	mock.ExpectQuery(flexibleSQLMatcher(sqlRecentHistory)).
		WithArgs(DefaultLimit).
		WillReturnRows(rows)

	entries, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, schemas.HistoryEntry{ID: 2, Term: "lugia", SearchedAt: newer, ResultCount: 0, Status: schemas.StatusEmpty}, entries[0])
	assert.Equal(t, "ho-oh", entries[1].Term)
	assert.Equal(t, 7, entries[1].ResultCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecentQueryError(t *testing.T) {
	store, mock, _ := newMockStore(t)
	dbErr := errors.New("relation does not exist")

	mock.ExpectQuery(flexibleSQLMatcher(sqlRecentHistory)).
		WithArgs(5).
		WillReturnError(dbErr)

	_, err := store.Recent(context.Background(), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
