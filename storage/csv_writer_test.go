package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-scraper/models"
	"booking-scraper/utils"
)

func newRecord(url string, fields map[string]models.Value) *models.Record {
	r := models.NewRecord(url)
	for k, v := range fields {
		r.Fields.Set(k, v)
	}
	return r
}

func newWriter(t *testing.T, path string) *IncrementalWriter {
	t.Helper()
	w, err := NewIncrementalWriter(path, WriterOptions{
		BaseColumns: models.ReservedColumns,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

// readCSV parses path strictly: every row must match the header width.
func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriterSchemaMonotonicity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "props.csv")
	w := newWriter(t, path)
	ctx := context.Background()

	a := newRecord("https://example.test/a", map[string]models.Value{
		"x": models.Text("left"),
		"y": models.Number(2),
	})
	require.NoError(t, w.WriteBatch(ctx, []*models.Record{a}))

	b := newRecord("https://example.test/b", map[string]models.Value{
		"y": models.Number(3),
		"z": models.Number(4),
	})
	require.NoError(t, w.WriteBatch(ctx, []*models.Record{b}))

	want := append(append([]string{}, models.ReservedColumns...), "x", "y", "z")
	assert.Equal(t, want, w.Header())

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, want, rows[0])
	assert.Equal(t, []string{"left", "2", "0"}, rows[1][3:])
	assert.Equal(t, []string{"", "3", "4"}, rows[2][3:])
}

func TestWriterInitialHeaderOrder(t *testing.T) {
	assert.Equal(t,
		[]string{"property_id", "property_url", "a", "b"},
		initialHeader([]string{"b", "property_url", "a", "property_id"}, []string{"property_id", "property_url"}))
	assert.Equal(t, []string{"a", "b", "c"}, initialHeader([]string{"c", "a", "b"}, nil))
}

func TestWriterResumesExistingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.csv")
	existing := "property_id,scrape_timestamp,property_url,price\n" +
		"id-1,2025-01-01 10:00:00,https://example.test/old,450\n"
	require.NoError(t, os.WriteFile(path, []byte(existing), 0644))

	w, err := NewIncrementalWriter(path, WriterOptions{
		BaseColumns: models.ReservedColumns,
		ColumnKinds: map[string]models.Kind{"price": models.KindNumber},
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"property_id", "scrape_timestamp", "property_url", "price"}, w.Header())

	r := newRecord("https://example.test/new", map[string]models.Value{
		"title":    models.Text("Dar Anika"),
		"bedrooms": models.Unknown(models.KindNumber),
	})
	require.NoError(t, w.WriteBatch(context.Background(), []*models.Record{r}))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"property_id", "scrape_timestamp", "property_url", "price", "bedrooms", "title"}, rows[0])
	assert.Equal(t, []string{"id-1", "2025-01-01 10:00:00", "https://example.test/old", "450", "0", ""}, rows[1])
	assert.Equal(t, []string{"0", "0", "Dar Anika"}, rows[2][3:])
}

func TestWriterRepairsTornRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.csv")
	w := newWriter(t, path)
	ctx := context.Background()

	batch := []*models.Record{
		newRecord("https://example.test/1", map[string]models.Value{"title": models.Text("One")}),
		newRecord("https://example.test/2", map[string]models.Value{"title": models.Text("Two")}),
	}
	require.NoError(t, w.WriteBatch(ctx, batch))

	// A crash in the middle of the second batch leaves half a row behind.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`c0ffee,2025-01-01 10:00:00,https://example.test/3,Thr`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2 := newWriter(t, path)
	rows, err := w2.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "One", rows[0]["title"])
	assert.Equal(t, "Two", rows[1]["title"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestWriterKeepsRowsOnOneLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.csv")
	w := newWriter(t, path)
	ctx := context.Background()

	rec := newRecord("https://example.test/1", map[string]models.Value{
		"title":     models.Text("Dar\nAnika"),
		"amenities": models.Text("pool,\r\nparking\rgym"),
	})
	require.NoError(t, w.WriteBatch(ctx, []*models.Record{rec}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"), "header plus one physical row")

	// A torn follow-up batch must not take the first row with it.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`c0ffee,2025-01-01 10:00:00,https://example.test/2,"Half`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, err := newWriter(t, path).FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Dar Anika", rows[0]["title"])
	assert.Equal(t, "pool, parking gym", rows[0]["amenities"])
}

func TestWriterRepairsTornHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.csv")
	require.NoError(t, os.WriteFile(path, []byte("property_id,scrape_ti"), 0644))

	w := newWriter(t, path)
	assert.Nil(t, w.Header())

	r := newRecord("https://example.test/1", map[string]models.Value{"title": models.Text("One")})
	require.NoError(t, w.WriteBatch(context.Background(), []*models.Record{r}))
	assert.Len(t, readCSV(t, path), 2)
}

func TestWriterRetriesFailedAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.csv")
	w := newWriter(t, path)
	ctx := context.Background()

	first := newRecord("https://example.test/1", map[string]models.Value{"title": models.Text("One")})
	require.NoError(t, w.WriteBatch(ctx, []*models.Record{first}))

	calls := 0
	w.syncFile = func(f *os.File) error {
		calls++
		if calls == 1 {
			return errors.New("disk hiccup")
		}
		return f.Sync()
	}

	second := newRecord("https://example.test/2", map[string]models.Value{"title": models.Text("Two")})
	require.NoError(t, w.WriteBatch(ctx, []*models.Record{second}))

	assert.Equal(t, 2, calls)
	assert.Len(t, readCSV(t, path), 3)
}

func TestWriterReportsLostBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.csv")
	w := newWriter(t, path)
	ctx := context.Background()

	first := newRecord("https://example.test/1", map[string]models.Value{"title": models.Text("One")})
	require.NoError(t, w.WriteBatch(ctx, []*models.Record{first}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	w.syncFile = func(*os.File) error { return errors.New("disk full") }

	second := newRecord("https://example.test/2", map[string]models.Value{"title": models.Text("Two")})
	err = w.WriteBatch(ctx, []*models.Record{second})
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindWriter))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// A failed schema extension leaves the old file and header in place.
	third := newRecord("https://example.test/3", map[string]models.Value{"zone": models.Text("Gueliz")})
	require.Error(t, w.WriteBatch(ctx, []*models.Record{third}))
	assert.NotContains(t, w.Header(), "zone")
	after, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWriterConcurrentBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.csv")
	w := newWriter(t, path)
	ctx := context.Background()

	const workers, batches, perBatch = 8, 5, 3
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				var recs []*models.Record
				for n := 0; n < perBatch; n++ {
					fields := map[string]models.Value{
						"title": models.Text(fmt.Sprintf("w%d-b%d-n%d", worker, b, n)),
					}
					// Each worker contributes its own column so the schema keeps growing.
					fields[fmt.Sprintf("col_%d", worker)] = models.Number(float64(b))
					recs = append(recs, newRecord(fmt.Sprintf("https://example.test/%d/%d/%d", worker, b, n), fields))
				}
				assert.NoError(t, w.WriteBatch(ctx, recs))
			}
		}(i)
	}
	wg.Wait()

	rows := readCSV(t, path)
	require.Len(t, rows, 1+workers*batches*perBatch)
	assert.Len(t, rows[0], len(models.ReservedColumns)+1+workers)

	seen := make(map[string]bool)
	for _, row := range rows[1:] {
		assert.Len(t, row, len(rows[0]))
		seen[row[2]] = true
	}
	assert.Len(t, seen, workers*batches*perBatch)
}
