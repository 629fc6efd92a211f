package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"Rewind/internal/domain/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T) (*PostgresResultStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewPostgresResultStore(sqlx.NewDb(db, "postgres"), time.Second)
	t.Cleanup(func() { _ = store.Close() })
	return store, mock
}

func TestPostgresSaveUpserts(t *testing.T) {
	store, mock := newPostgresMock(t)
	r := sampleResult("exp-1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO experiments")).
		WithArgs("exp-1", "fed-cut", "completed", r.CreatedAt, r.CompletedAt, 1, 1, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	store, mock := newPostgresMock(t)
	r := sampleResult("exp-1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	payload, err := json.Marshal(r)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM experiments WHERE id = $1")).
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM experiments WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	got, err := store.Get(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "fed-cut", got.Config.MarketSlug)

	_, err = store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresList(t *testing.T) {
	store, mock := newPostgresMock(t)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "market_slug", "status", "created_at", "completed_at", "total_intervals", "completed_intervals", "failed_intervals"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM experiments")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("exp-2", "fed-cut", "failed", created.Add(time.Hour), created.Add(2*time.Hour), 3, 1, 2).
			AddRow("exp-1", "fed-cut", "completed", created, created.Add(time.Hour), 3, 3, 0))

	got, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exp-2", got[0].ID)
	assert.Equal(t, models.StatusFailed, got[0].Status)
	assert.Equal(t, 2, got[0].FailedIntervals)
	assert.NoError(t, mock.ExpectationsWereMet())
}
