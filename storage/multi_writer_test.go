package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-scraper/models"
)

type memWriter struct {
	mu      sync.Mutex
	fail    error
	records []*models.Record
	closed  bool
}

var _ BatchWriter = (*memWriter)(nil)

func (m *memWriter) WriteBatch(ctx context.Context, records []*models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *memWriter) Close() error {
	m.closed = true
	return nil
}

func TestMultiWriterMirrorFailureIsNotLoss(t *testing.T) {
	primary := &memWriter{}
	broken := &memWriter{fail: errors.New("connection refused")}
	healthy := &memWriter{}

	w := NewMultiWriter(nil, primary, broken, healthy)
	recs := []*models.Record{models.NewRecord("https://example.test/1")}

	require.NoError(t, w.WriteBatch(context.Background(), recs))
	assert.Len(t, primary.records, 1)
	assert.Len(t, healthy.records, 1)

	require.NoError(t, w.Close())
	assert.True(t, primary.closed)
	assert.True(t, healthy.closed)
}

func TestMultiWriterPrimaryFailureSkipsMirrors(t *testing.T) {
	primary := &memWriter{fail: errors.New("disk full")}
	mirror := &memWriter{}

	w := NewMultiWriter(nil, primary, mirror)
	err := w.WriteBatch(context.Background(), []*models.Record{models.NewRecord("https://example.test/1")})
	assert.Error(t, err)
	assert.Empty(t, mirror.records)
}

func TestDecodeFields(t *testing.T) {
	row, err := decodeFields([]byte(`{"title":"Dar Anika","price":850.5,"wifi":true,"zone":null}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "Dar Anika", "price": "850.5", "wifi": "true", "zone": ""}, row)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("k", []byte("v"), time.Minute))
	got, err := c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(2 * time.Minute)
	_, err = c.Get("k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set("forever", []byte("x"), 0))
	now = now.Add(24 * time.Hour)
	_, err = c.Get("forever")
	assert.NoError(t, err)

	require.NoError(t, c.Delete("forever"))
	_, err = c.Get("forever")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
