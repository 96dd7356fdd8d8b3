package utils

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies where in the pipeline a failure happened.
type ErrorKind string

const (
	// KindStrategy is a single extraction attempt failing. Never escapes the extractor.
	KindStrategy ErrorKind = "strategy"
	// KindRecord is a whole page failing to load or to yield an identifying field.
	KindRecord ErrorKind = "record"
	// KindWorker is a failure that escaped the per-URL loop body.
	KindWorker ErrorKind = "worker"
	// KindWriter is an I/O failure while flushing a batch.
	KindWriter ErrorKind = "writer"
	// KindDiscovery is a listing traversal stopping early.
	KindDiscovery ErrorKind = "discovery"
	// KindSetup is an unrecoverable failure before any work starts.
	KindSetup ErrorKind = "setup"
)

var (
	// ErrSessionLost means the browser session can no longer be driven.
	ErrSessionLost = errors.New("browser session lost")
	// ErrBlocked means the fetched page is a block, captcha or error page.
	ErrBlocked = errors.New("blocked or error page")
)

// ScrapeError carries the pipeline stage and the URL being processed.
type ScrapeError struct {
	Kind ErrorKind
	Op   string
	URL  string
	Err  error
	Time time.Time
}

func (e *ScrapeError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("[%s] %s %s: %v", e.Kind, e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewError wraps err with its pipeline stage.
func NewError(kind ErrorKind, op, url string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Op: op, URL: url, Err: err, Time: time.Now()}
}

// IsKind reports whether any ScrapeError in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *ScrapeError
	for err != nil {
		if !errors.As(err, &se) {
			return false
		}
		if se.Kind == kind {
			return true
		}
		err = se.Err
	}
	return false
}
