package utils

import (
	"context"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer bounds the request rate of one worker. Consecutive Wait calls are
// spaced at least min apart, plus a random jitter of up to max-min.
type Pacer struct {
	limiter *rate.Limiter
	jitter  time.Duration
}

// NewPacer creates a Pacer. A zero min disables the spacing.
func NewPacer(min, max time.Duration) *Pacer {
	limit := rate.Inf
	if min > 0 {
		limit = rate.Every(min)
	}
	jitter := max - min
	if jitter < 0 {
		jitter = 0
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1), jitter: jitter}
}

// Wait blocks until the next request may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if p.jitter > 0 {
		return Sleep(ctx, rand.N(p.jitter))
	}
	return nil
}

// Canonicalize reduces a listing URL to its identity-bearing form: scheme and
// host lower-cased, query string and fragment dropped, trailing slash trimmed.
func Canonicalize(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return strings.TrimSuffix(strings.TrimSpace(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// URLSet is a thread-safe, insertion-ordered set of listing URLs keyed by
// their canonical form. The first original URL seen for a key is the one kept.
type URLSet struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	values []string
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL's canonical form was newly added, false if
// another URL with the same canonical form is already present.
func (s *URLSet) Add(rawURL string) bool {
	key := Canonicalize(rawURL)
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	s.values = append(s.values, rawURL)
	return true
}

// Contains returns true if a URL with the same canonical form is present.
func (s *URLSet) Contains(rawURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[Canonicalize(rawURL)]
	return exists
}

// Size returns the number of unique canonical URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Values returns the original URLs in insertion order.
func (s *URLSet) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}
