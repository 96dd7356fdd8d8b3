package scraper

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"booking-scraper/models"
	"booking-scraper/utils"
)

// Status is the explicit outcome of one extraction attempt.
type Status int

const (
	// StatusFound carries a raw value.
	StatusFound Status = iota
	// StatusMissing means the strategy located nothing.
	StatusMissing
	// StatusFailed means the strategy errored, panicked or timed out.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusMissing:
		return "missing"
	default:
		return "failed"
	}
}

// Result is what a Strategy returns.
type Result struct {
	Status Status
	Raw    string
	Err    error
}

func Found(raw string) Result { return Result{Status: StatusFound, Raw: raw} }

func Missing() Result { return Result{Status: StatusMissing} }

func Failed(err error) Result { return Result{Status: StatusFailed, Err: err} }

// Strategy is one independent attempt at reading a field.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, v *Visit) Result
}

// FieldSpec declares one field: its storage kind, its strategy cascade and
// the parser that validates a raw value.
type FieldSpec struct {
	Name       string
	Kind       models.Kind
	Strategies []Strategy
	// Parse turns a raw strategy value into a typed value. An unknown or
	// blank result rejects the raw value and the cascade moves on.
	Parse func(raw string) models.Value
	// Timeout overrides the extractor's per-strategy timeout for this field.
	Timeout time.Duration
}

// Extractor runs strategy cascades with a per-strategy timeout.
type Extractor struct {
	Timeout time.Duration
	Logger  *utils.Logger
}

// NewExtractor creates an Extractor. A non-positive timeout defaults to 5s.
func NewExtractor(timeout time.Duration, logger *utils.Logger) *Extractor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Extractor{Timeout: timeout, Logger: logger}
}

// Extract tries spec's strategies strictly in order and returns the first
// found value that survives parsing. It never fails: an exhausted cascade
// yields the unknown sentinel for the field's kind.
func (e *Extractor) Extract(ctx context.Context, v *Visit, spec FieldSpec) models.Value {
	for _, s := range spec.Strategies {
		if ctx.Err() != nil {
			break
		}
		res := e.attempt(ctx, v, s, cmp.Or(spec.Timeout, e.Timeout))
		switch res.Status {
		case StatusFound:
			val := parse(spec, res.Raw)
			if val.IsPresent() || (!val.IsUnknown() && val.Kind() != models.KindText) {
				e.Logger.Debug("[extract] %s <- %s: %q", spec.Name, s.Name, res.Raw)
				return val
			}
			e.Logger.Debug("[extract] %s: %s value %q rejected by parser", spec.Name, s.Name, res.Raw)
		case StatusFailed:
			e.Logger.Debug("[extract] %s: %s failed: %v", spec.Name, s.Name, res.Err)
		}
	}
	return models.Unknown(spec.Kind)
}

func (e *Extractor) attempt(ctx context.Context, v *Visit, s Strategy, timeout time.Duration) (res Result) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = Failed(utils.NewError(utils.KindStrategy, s.Name, v.URL, fmt.Errorf("panic: %v", r)))
		}
	}()

	res = s.Run(sctx, v)
	if res.Status == StatusFound && strings.TrimSpace(res.Raw) == "" {
		return Missing()
	}
	if res.Status != StatusFound && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		return Failed(utils.NewError(utils.KindStrategy, s.Name, v.URL, context.DeadlineExceeded))
	}
	return res
}

func parse(spec FieldSpec, raw string) models.Value {
	if spec.Parse != nil {
		return spec.Parse(raw)
	}
	raw = strings.TrimSpace(raw)
	switch spec.Kind {
	case models.KindNumber, models.KindCoordinate:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Unknown(spec.Kind)
		}
		if spec.Kind == models.KindCoordinate {
			return models.Coordinate(f)
		}
		return models.Number(f)
	case models.KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return models.Unknown(spec.Kind)
		}
		return models.Bool(b)
	default:
		return models.Text(raw)
	}
}
