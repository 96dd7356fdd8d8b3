package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"booking-scraper/models"
	"booking-scraper/utils"
)

// WriterOptions configures an IncrementalWriter.
type WriterOptions struct {
	// BaseColumns lead a freshly created header, in this order, when present.
	BaseColumns []string
	// ColumnKinds seeds the kind of columns known before any record is seen,
	// e.g. the columns of an existing file. Unlisted columns default to text.
	ColumnKinds map[string]models.Kind
	// Attempts per batch; values below 2 are raised to 2.
	Attempts   int
	RetryDelay time.Duration
	Logger     *utils.Logger
}

// IncrementalWriter appends batches of records to a header-first CSV file.
// It is safe for concurrent use: each batch is one critical section.
//
// A batch either lands completely or not at all. Appends are a single write
// followed by fsync, rolled back by truncation on failure. A batch that adds
// columns rewrites the file to a temporary sibling and renames it into place,
// padding earlier rows with the new columns' defaults.
type IncrementalWriter struct {
	mu     sync.Mutex
	path   string
	opts   WriterOptions
	header []string
	kinds  map[string]models.Kind
	retry  *utils.RetryConfig
	logger *utils.Logger

	// syncFile is swapped in tests to inject I/O failures.
	syncFile func(*os.File) error
}

// NewIncrementalWriter opens path, creating parent directories. An existing
// file's header becomes the baseline schema, and a torn trailing row left by
// an interrupted write is cut off.
func NewIncrementalWriter(path string, opts WriterOptions) (*IncrementalWriter, error) {
	if opts.Attempts < 2 {
		opts.Attempts = 2
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	logger := opts.Logger.With("component", "csv-writer")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	w := &IncrementalWriter{
		path:     path,
		opts:     opts,
		kinds:    make(map[string]models.Kind),
		logger:   logger,
		syncFile: (*os.File).Sync,
		retry: &utils.RetryConfig{
			MaxAttempts: opts.Attempts,
			BaseDelay:   opts.RetryDelay,
			Logger:      logger,
		},
	}
	for col, k := range opts.ColumnKinds {
		w.kinds[col] = k
	}

	if err := w.load(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *IncrementalWriter) load() error {
	repaired, err := repairTail(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("csv: repair %q: %w", w.path, err)
	}
	if repaired > 0 {
		w.logger.Warn("[writer] dropped %d bytes of a torn trailing row in %s", repaired, w.path)
	}

	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("csv: open %q: %w", w.path, err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("csv: read header of %q: %w", w.path, err)
	}
	w.header = header
	w.logger.Info("[writer] resuming %s with %d columns", w.path, len(header))
	return nil
}

// repairTail truncates path after its last newline and reports how many
// bytes were dropped.
func repairTail(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}

	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := start + int64(i) + 1
			if keep == size {
				return 0, nil
			}
			return size - keep, truncateSync(f, keep)
		}
		end = start
	}
	// No complete line at all: even the header is torn.
	return size, truncateSync(f, 0)
}

func truncateSync(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return err
	}
	return f.Sync()
}

// Header returns a copy of the current column order.
func (w *IncrementalWriter) Header() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.header)
}

// WriteBatch persists records as one unit, retrying at least once. A batch
// that still fails is logged with every record's ID and URL so it can be
// recovered by hand, and the error is returned to the caller.
func (w *IncrementalWriter) WriteBatch(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.retry.Do(ctx, "csv-write-batch", func() error {
		return w.writeLocked(records)
	})
	if err != nil {
		ids := make([]string, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID+" "+r.SourceURL)
		}
		w.logger.WithError(err).ErrorFields("[writer] batch lost", map[string]any{
			"path":    w.path,
			"records": ids,
		})
		return utils.NewError(utils.KindWriter, "write-batch", w.path, err)
	}
	return nil
}

func (w *IncrementalWriter) writeLocked(records []*models.Record) error {
	kinds := make(map[string]models.Kind)
	var added []string
	known := make(map[string]bool, len(w.header))
	for _, c := range w.header {
		known[c] = true
	}
	for _, r := range records {
		for _, c := range r.Columns() {
			if k, ok := r.KindOf(c); ok {
				if _, seen := kinds[c]; !seen {
					kinds[c] = k
				}
			}
			if !known[c] {
				known[c] = true
				added = append(added, c)
			}
		}
	}

	header := w.header
	switch {
	case w.header == nil:
		header = initialHeader(added, w.opts.BaseColumns)
	case len(added) > 0:
		sort.Strings(added)
		header = append(slices.Clone(w.header), added...)
	}

	for c, k := range kinds {
		if _, ok := w.kinds[c]; !ok {
			w.kinds[c] = k
		}
	}

	var err error
	if w.header == nil || len(added) > 0 {
		err = w.rewrite(header, records)
	} else {
		err = w.append(records)
	}
	if err != nil {
		return err
	}
	if len(added) > 0 {
		w.logger.Info("[writer] schema now %d columns (+%v)", len(header), added)
	}
	w.header = header
	return nil
}

// initialHeader puts the base columns that are present first, in their
// given order, then every other column sorted.
func initialHeader(cols, base []string) []string {
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}
	header := make([]string, 0, len(cols))
	for _, b := range base {
		if present[b] {
			header = append(header, b)
			delete(present, b)
		}
	}
	rest := make([]string, 0, len(present))
	for c := range present {
		rest = append(rest, c)
	}
	sort.Strings(rest)
	return append(header, rest...)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// row renders r against header. Line breaks inside cells become spaces so
// every row stays on one physical line, which repairTail relies on.
func (w *IncrementalWriter) row(header []string, r *models.Record) []string {
	row := make([]string, len(header))
	for i, c := range header {
		if cell, ok := r.Cell(c); ok {
			row[i] = lineBreaks.Replace(cell)
			continue
		}
		row[i] = w.kinds[c].Default()
	}
	return row
}

func (w *IncrementalWriter) encode(header []string, records []*models.Record) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	for _, r := range records {
		if err := cw.Write(w.row(header, r)); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

// append writes the encoded batch with a single write call.
func (w *IncrementalWriter) append(records []*models.Record) error {
	data, err := w.encode(w.header, records)
	if err != nil {
		return fmt.Errorf("csv: encode batch: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("csv: open %q: %w", w.path, err)
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("csv: seek: %w", err)
	}

	if _, err = f.Write(data); err == nil {
		err = w.syncFile(f)
	}
	if err != nil {
		if terr := truncateSync(f, size); terr != nil {
			w.logger.Error("[writer] rollback of %s failed: %v", w.path, terr)
		}
		return fmt.Errorf("csv: append: %w", err)
	}
	return nil
}

// rewrite materialises the file under header (existing rows padded) plus
// records, then atomically replaces the original.
func (w *IncrementalWriter) rewrite(header []string, records []*models.Record) error {
	existing, err := w.readRowsLocked()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, old := range existing {
		row := make([]string, len(header))
		for i, c := range header {
			if v, ok := old[c]; ok {
				row[i] = v
			} else {
				row[i] = w.kinds[c].Default()
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv: encode: %w", err)
	}
	data, err := w.encode(header, records)
	if err != nil {
		return fmt.Errorf("csv: encode batch: %w", err)
	}
	buf.Write(data)

	tmp, err := os.CreateTemp(filepath.Dir(w.path), "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("csv: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err = tmp.Write(buf.Bytes()); err == nil {
		err = w.syncFile(tmp)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("csv: write temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("csv: replace %q: %w", w.path, err)
	}
	return nil
}

// readRowsLocked returns the data rows keyed by the current header.
func (w *IncrementalWriter) readRowsLocked() ([]map[string]string, error) {
	if w.header == nil {
		return nil, nil
	}
	f, err := os.Open(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", w.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, c := range header {
			if i < len(rec) {
				row[c] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchAll reads every persisted row back.
func (w *IncrementalWriter) FetchAll(ctx context.Context) ([]map[string]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readRowsLocked()
}

// Close is a no-op; files are opened per batch.
func (w *IncrementalWriter) Close() error {
	return nil
}
