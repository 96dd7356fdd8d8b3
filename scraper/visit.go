package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Visit is the per-URL extraction state: the page, a cached copy of its
// source and the guards for prerequisite UI actions. A Visit belongs to one
// worker and lives for one attempt at one URL.
type Visit struct {
	Page Page
	URL  string

	source    string
	sourceErr error
	loaded    bool
	doc       *goquery.Document
	done      map[string]error
	memo      map[string]memoEntry
}

type memoEntry struct {
	value any
	err   error
}

// NewVisit starts extraction state for url on page.
func NewVisit(page Page, url string) *Visit {
	return &Visit{Page: page, URL: url, done: make(map[string]error), memo: make(map[string]memoEntry)}
}

// Source returns the raw page source, fetched once per Visit.
func (v *Visit) Source(ctx context.Context) (string, error) {
	if !v.loaded {
		v.source, v.sourceErr = v.Page.RawSource(ctx)
		// A timed-out read is not cached so a later strategy may try again.
		if v.sourceErr == nil || ctx.Err() == nil {
			v.loaded = true
		}
	}
	return v.source, v.sourceErr
}

// Document returns the raw source parsed with goquery.
func (v *Visit) Document(ctx context.Context) (*goquery.Document, error) {
	if v.doc != nil {
		return v.doc, nil
	}
	src, err := v.Source(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, err
	}
	v.doc = doc
	return doc, nil
}

// Once runs action at most once per key for this Visit and replays its
// outcome afterwards, so repeated extraction attempts never click twice.
// A successful action invalidates the cached source.
func (v *Visit) Once(ctx context.Context, key string, action func(context.Context) error) error {
	if err, ok := v.done[key]; ok {
		return err
	}
	err := action(ctx)
	v.done[key] = err
	if err == nil {
		v.Invalidate()
	}
	return err
}

// Memo computes a value at most once per key for this Visit, for readings
// that feed several fields. compute may drive the page, so the cached source
// is dropped afterwards.
func (v *Visit) Memo(ctx context.Context, key string, compute func(context.Context) (any, error)) (any, error) {
	if e, ok := v.memo[key]; ok {
		return e.value, e.err
	}
	value, err := compute(ctx)
	v.memo[key] = memoEntry{value: value, err: err}
	v.Invalidate()
	return value, err
}

// Invalidate drops the cached source after the page changed.
func (v *Visit) Invalidate() {
	v.loaded = false
	v.source = ""
	v.sourceErr = nil
	v.doc = nil
}
