package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-scraper/models"
	"booking-scraper/scraper"
	"booking-scraper/utils"
)

// ErrRejected marks a record turned away by a gate. It is an expected
// outcome, not a failure.
var ErrRejected = errors.New("record rejected")

// Derived location columns.
const (
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
	ColumnAddress   = "address"
	ColumnZone      = "zone"
	ColumnCity      = "city"
)

// Profile declares what the builder extracts from one kind of detail page.
type Profile struct {
	// ReadyLocators signal the page rendered; any one is enough.
	ReadyLocators []string
	ReadyTimeout  time.Duration
	// Identity is the primary identifying field. Without it nothing is kept.
	Identity scraper.FieldSpec
	Fields   []scraper.FieldSpec
	// Coordinates yields a raw "lat,lon" pair split into the latitude and
	// longitude columns.
	Coordinates *scraper.FieldSpec
	// CategoryField names the field rewritten through Labels.
	CategoryField string
	Labels        map[string]string
	// Substance lists fields of which at least one must be present.
	Substance  []string
	Classifier Classifier
	// Dismiss clears overlays once the page is ready.
	Dismiss scraper.Prerequisite
}

// Builder turns one URL into one validated record.
type Builder struct {
	profile   Profile
	extractor *scraper.Extractor
	geocoder  Geocoder
	retry     *utils.RetryConfig
	logger    *utils.Logger
}

// NewBuilder creates a Builder. geocoder may be nil.
func NewBuilder(profile Profile, extractor *scraper.Extractor, geocoder Geocoder, retry *utils.RetryConfig, logger *utils.Logger) *Builder {
	if profile.ReadyTimeout <= 0 {
		profile.ReadyTimeout = 10 * time.Second
	}
	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Builder{
		profile:   profile,
		extractor: extractor,
		geocoder:  geocoder,
		retry:     retry,
		logger:    logger.With("component", "builder"),
	}
}

// Build loads url on page and assembles a record. It returns an error
// wrapping ErrRejected when a gate turns the record away, wrapping
// utils.ErrSessionLost when page can no longer be driven, and a KindRecord
// error when the page never loaded.
func (b *Builder) Build(ctx context.Context, page scraper.Page, url string) (*models.Record, error) {
	err := b.retry.Do(ctx, "navigate", func() error {
		return page.Navigate(ctx, url)
	})
	if err != nil {
		return nil, utils.NewError(utils.KindRecord, "navigate", url, err)
	}

	if len(b.profile.ReadyLocators) > 0 {
		ready := page.WaitUntil(ctx, func(c context.Context) bool {
			for _, loc := range b.profile.ReadyLocators {
				if scraper.Exists(c, page, loc) {
					return true
				}
			}
			return false
		}, b.profile.ReadyTimeout)
		if !ready {
			b.logger.Debug("[builder] %s: page not ready after %v, extracting anyway", url, b.profile.ReadyTimeout)
		}
	}
	if err := b.profile.Dismiss.Try(ctx, page); err != nil {
		b.logger.Debug("[builder] %s: dismissing overlays: %v", url, err)
	}

	v := scraper.NewVisit(page, url)
	rec := models.NewRecord(url)

	title := b.extract(ctx, v, b.profile.Identity)
	if !title.IsPresent() {
		return nil, fmt.Errorf("%w: no %s on %s", ErrRejected, b.profile.Identity.Name, url)
	}
	rec.Fields.Set(b.profile.Identity.Name, title)

	source, _ := v.Source(ctx)
	if ok, keyword := b.profile.Classifier.Allows(title.Str(), source); !ok {
		if keyword != "" {
			return nil, fmt.Errorf("%w: %q is excluded (%s)", ErrRejected, title.Str(), keyword)
		}
		return nil, fmt.Errorf("%w: %q matches no included category", ErrRejected, title.Str())
	}

	for _, spec := range b.profile.Fields {
		rec.Fields.Set(spec.Name, b.extract(ctx, v, spec))
	}

	if b.profile.CategoryField != "" {
		if cat, ok := rec.Fields.Get(b.profile.CategoryField); ok && cat.IsPresent() {
			rec.Fields.Set(b.profile.CategoryField, models.Text(ApplyLabels(cat.Str(), b.profile.Labels)))
		}
	}

	if b.profile.Coordinates != nil {
		b.locate(ctx, v, rec)
	}

	if !b.substantial(rec) {
		return nil, fmt.Errorf("%w: %q has none of %v", ErrRejected, title.Str(), b.profile.Substance)
	}
	return rec, nil
}

func (b *Builder) extract(ctx context.Context, v *scraper.Visit, spec scraper.FieldSpec) models.Value {
	val := b.extractor.Extract(ctx, v, spec)
	if val.Kind() == models.KindText && !val.IsUnknown() {
		cleaned := CleanText(val.Str())
		if cleaned == "" {
			return models.Unknown(models.KindText)
		}
		return models.Text(cleaned)
	}
	return val
}

// locate fills latitude and longitude, then address, zone and city from the
// geocoder. An address read from the page wins over the geocoded one.
func (b *Builder) locate(ctx context.Context, v *scraper.Visit, rec *models.Record) {
	lat, lon := models.Unknown(models.KindCoordinate), models.Unknown(models.KindCoordinate)
	raw := b.extractor.Extract(ctx, v, *b.profile.Coordinates)
	if raw.IsPresent() {
		lat, lon = ParseCoordinatePair(raw.String())
	}
	rec.Fields.Set(ColumnLatitude, lat)
	rec.Fields.Set(ColumnLongitude, lon)

	if b.geocoder == nil {
		return
	}

	address := models.Unknown(models.KindText)
	if a, ok := rec.Fields.Get(ColumnAddress); ok {
		address = a
	}
	zone, city := models.Unknown(models.KindText), models.Unknown(models.KindText)

	la, okLat := lat.Float()
	lo, okLon := lon.Float()
	if okLat && okLon {
		loc, err := b.geocoder.ReverseGeocode(ctx, la, lo)
		if err != nil {
			b.logger.Warn("[builder] geocoding %s (%v,%v) failed: %v", rec.SourceURL, la, lo, err)
		} else {
			a, z, c := LocationFields(loc)
			if !address.IsPresent() && a != "" {
				address = models.Text(a)
			}
			if z != "" {
				zone = models.Text(CleanText(z))
			}
			if c != "" {
				city = models.Text(CleanText(c))
			}
		}
	}
	rec.Fields.Set(ColumnAddress, address)
	rec.Fields.Set(ColumnZone, zone)
	rec.Fields.Set(ColumnCity, city)
}

func (b *Builder) substantial(rec *models.Record) bool {
	if len(b.profile.Substance) == 0 {
		return true
	}
	for _, f := range b.profile.Substance {
		if rec.Fields.Present(f) {
			return true
		}
	}
	return false
}
