package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

func TestPostgresWriteInsertsEachRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "extracted_records")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO extracted_records").
		WithArgs([]byte(`{"title":"one"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO extracted_records").
		WithArgs([]byte(`{"title":"two"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := s.Write(context.Background(),
		pipeline.Record{"title": "one"},
		pipeline.Record{"title": "two"},
	)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteReportsPartialProgress(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "extracted_records")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO extracted_records").
		WithArgs([]byte(`{"title":"one"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO extracted_records").
		WithArgs([]byte(`{"title":"two"}`)).
		WillReturnError(errors.New("connection reset"))

	n, err := s.Write(context.Background(),
		pipeline.Record{"title": "one"},
		pipeline.Record{"title": "two"},
	)
	require.ErrorIs(t, err, pipeline.ErrStoreWrite)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLen(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock, "extracted_records")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.Len(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresWithPool(mock, "records; DROP TABLE users")
	require.Error(t, err)
}
