package extract

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

func TestJSONLLinesAreIndependent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")
	s, err := NewJSONL(path)
	require.NoError(t, err)

	n, err := s.Write(context.Background(),
		pipeline.Record{"title": "A Light in the Attic", "price": 51.77},
		pipeline.Record{"title": "Tipping the Velvet", "price": 53.74},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	// Every line must parse on its own.
	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Contains(t, rec, "title")
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestJSONLAppendsAcrossReopens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")
	ctx := context.Background()

	first, err := NewJSONL(path)
	require.NoError(t, err)
	_, err = first.Write(ctx, pipeline.Record{"run": 1})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewJSONL(path)
	require.NoError(t, err)
	_, err = second.Write(ctx, pipeline.Record{"run": 2})
	require.NoError(t, err)
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run":1`)
	assert.Contains(t, string(data), `"run":2`)
}

func TestCSVFreezesHeaderFromFirstRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.csv")
	s, err := NewCSV(path, nil)
	require.NoError(t, err)

	n, err := s.Write(context.Background(),
		pipeline.Record{"title": "Sapiens", "price": "54.23"},
		pipeline.Record{"title": "Sharp Objects", "rating": 4},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Sorted keys of the first record form the header; the second
	// record's unknown "rating" field is dropped and its missing "price"
	// is empty.
	assert.Equal(t, []string{"price", "title"}, rows[0])
	assert.Equal(t, []string{"54.23", "Sapiens"}, rows[1])
	assert.Equal(t, []string{"", "Sharp Objects"}, rows[2])
}

func TestCSVConfiguredColumns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.csv")
	s, err := NewCSV(path, []string{"title", "price", "in_stock"})
	require.NoError(t, err)

	_, err = s.Write(context.Background(), pipeline.Record{
		"price": 22.60, "title": "The Requiem Red", "in_stock": true,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"title", "price", "in_stock"}, rows[0])
	assert.Equal(t, []string{"The Requiem Red", "22.6", "true"}, rows[1])
}

func TestCSVDoesNotRepeatHeaderOnReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.csv")
	ctx := context.Background()
	cols := []string{"title"}

	first, err := NewCSV(path, cols)
	require.NoError(t, err)
	_, err = first.Write(ctx, pipeline.Record{"title": "one"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewCSV(path, cols)
	require.NoError(t, err)
	_, err = second.Write(ctx, pipeline.Record{"title": "two"})
	require.NoError(t, err)
	require.NoError(t, second.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"title"}, {"one"}, {"two"}}, rows)
}
