package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"booking-scraper/models"
)

// PostgresWriter mirrors accepted records into PostgreSQL. Fields are stored
// as JSONB so the open-ended field set needs no migrations.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS properties (
			property_id  UUID        PRIMARY KEY,
			property_url TEXT        UNIQUE NOT NULL,
			scraped_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			fields       JSONB       NOT NULL DEFAULT '{}'::jsonb
		);

		CREATE INDEX IF NOT EXISTS idx_properties_scraped_at ON properties(scraped_at);
		CREATE INDEX IF NOT EXISTS idx_properties_city       ON properties((fields->>'city'));
	`)
	return err
}

// WriteBatch upserts the batch in one statement. A URL scraped again keeps
// its original ID and takes the newer fields.
func (pw *PostgresWriter) WriteBatch(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*4)

	for idx, r := range records {
		fields, err := json.Marshal(r.Fields.Map())
		if err != nil {
			return fmt.Errorf("postgres: encode fields of %s: %w", r.SourceURL, err)
		}
		base := idx * 4
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4))
		valueArgs = append(valueArgs, r.ID, r.SourceURL, r.CapturedAt, string(fields))
	}

	query := fmt.Sprintf(`
		INSERT INTO properties (property_id, property_url, scraped_at, fields)
		VALUES %s
		ON CONFLICT (property_url) DO UPDATE
		SET scraped_at = EXCLUDED.scraped_at, fields = EXCLUDED.fields
	`, strings.Join(valueStrings, ","))

	if _, err := pw.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: upsert batch: %w", err)
	}
	return nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// FetchAll retrieves all stored properties as rows shaped like the CSV
// store's, for the insight service.
func (pw *PostgresWriter) FetchAll(ctx context.Context) ([]map[string]string, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT property_id, property_url, scraped_at, fields
		FROM properties
		ORDER BY scraped_at
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var out []map[string]string
	for rows.Next() {
		var (
			id, url string
			at      time.Time
			raw     []byte
		)
		if err := rows.Scan(&id, &url, &at, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		row, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode fields of %s: %w", url, err)
		}
		row[models.ColumnID] = id
		row[models.ColumnSourceURL] = url
		row[models.ColumnCapturedAt] = at.Format(time.DateTime)
		out = append(out, row)
	}
	return out, rows.Err()
}

// decodeFields renders a JSONB fields object as CSV-style cells.
func decodeFields(raw []byte) (map[string]string, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	row := make(map[string]string, len(fields)+3)
	for k, v := range fields {
		switch t := v.(type) {
		case nil:
			row[k] = ""
		case float64:
			row[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			row[k] = strconv.FormatBool(t)
		case string:
			row[k] = t
		default:
			row[k] = fmt.Sprint(t)
		}
	}
	return row, nil
}
