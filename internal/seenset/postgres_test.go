package seenset

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestPostgresAddReportsNewItem(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "seen_items")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO seen_items").
		WithArgs("https://example.com/a").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	added, err := s.Add(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAddIgnoresConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "seen_items")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO seen_items").
		WithArgs("https://example.com/a").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	added, err := s.Add(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.False(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresContains(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "seen_items")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://example.com/a").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.Contains(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresWithPool(mock, "seen; DROP TABLE users")
	require.Error(t, err)
}
