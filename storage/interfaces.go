package storage

import (
	"context"
	"errors"
	"time"

	"booking-scraper/models"
)

// BatchWriter is the interface any record sink must satisfy. WriteBatch is
// called concurrently by workers.
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.Record) error
	Close() error
}

// RowSource reads persisted records back as column-name to cell maps.
// Used by the insight service.
type RowSource interface {
	FetchAll(ctx context.Context) ([]map[string]string, error)
}

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a small byte-value cache.
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, expiration time.Duration) error
	Delete(key string) error
}
