package models

import (
	"time"

	"github.com/google/uuid"
)

// Reserved column names. Every other key in a record's Fields is a field
// declared by an extractor profile: lower snake_case, e.g. "min_price".
const (
	ColumnID         = "property_id"
	ColumnSourceURL  = "property_url"
	ColumnCapturedAt = "scrape_timestamp"
)

// ReservedColumns lists the identity columns in the order they are written.
var ReservedColumns = []string{ColumnID, ColumnCapturedAt, ColumnSourceURL}

// Record is one scraped property listing.
type Record struct {
	ID         string
	SourceURL  string
	CapturedAt time.Time
	Fields     *Fields
}

// NewRecord creates a record for sourceURL with a fresh random ID.
func NewRecord(sourceURL string) *Record {
	return &Record{
		ID:         uuid.NewString(),
		SourceURL:  sourceURL,
		CapturedAt: time.Now(),
		Fields:     NewFields(),
	}
}

// Columns returns the reserved columns followed by the field names in
// insertion order.
func (r *Record) Columns() []string {
	cols := make([]string, 0, len(ReservedColumns)+r.Fields.Len())
	cols = append(cols, ReservedColumns...)
	return append(cols, r.Fields.Keys()...)
}

// Cell returns the rendered cell for column and whether the record has it.
func (r *Record) Cell(column string) (string, bool) {
	switch column {
	case ColumnID:
		return r.ID, true
	case ColumnSourceURL:
		return r.SourceURL, true
	case ColumnCapturedAt:
		return r.CapturedAt.Format(time.DateTime), true
	}
	v, ok := r.Fields.Get(column)
	if !ok {
		return "", false
	}
	return v.String(), true
}

// KindOf returns the storage kind of column, if the record declares it.
func (r *Record) KindOf(column string) (Kind, bool) {
	switch column {
	case ColumnID, ColumnSourceURL, ColumnCapturedAt:
		return KindText, true
	}
	v, ok := r.Fields.Get(column)
	if !ok {
		return KindText, false
	}
	return v.Kind(), true
}

// Fields is an insertion-ordered field-name to value mapping.
// The field set is open ended; Set both adds and overwrites.
type Fields struct {
	keys   []string
	values map[string]Value
}

func NewFields() *Fields {
	return &Fields{values: make(map[string]Value)}
}

func (f *Fields) Set(name string, v Value) {
	if _, ok := f.values[name]; !ok {
		f.keys = append(f.keys, name)
	}
	f.values[name] = v
}

func (f *Fields) Get(name string) (Value, bool) {
	v, ok := f.values[name]
	return v, ok
}

// Present reports whether name holds a present (known, non-blank) value.
func (f *Fields) Present(name string) bool {
	v, ok := f.values[name]
	return ok && v.IsPresent()
}

func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

func (f *Fields) Len() int { return len(f.keys) }

// Map returns the fields as plain Go values, unknown as nil.
func (f *Fields) Map() map[string]any {
	m := make(map[string]any, len(f.keys))
	for _, k := range f.keys {
		m[k] = f.values[k].Interface()
	}
	return m
}
