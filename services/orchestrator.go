package services

import (
	"context"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"booking-scraper/models"
	"booking-scraper/scraper"
	"booking-scraper/storage"
	"booking-scraper/utils"
)

// Query is one destination's search-results URL.
type Query struct {
	Destination string
	URL         string
}

// SearchParams shape the search URL built for every destination.
type SearchParams struct {
	BaseURL           string
	CheckinOffsetDays int
	Nights            int
	Adults            int
	Rooms             int
	Children          int
}

// BuildSearchURLs builds one search query per destination. Check-in is
// today plus the offset; check-out follows after the given nights.
func BuildSearchURLs(destinations []string, p SearchParams, today time.Time) []Query {
	nights := max(p.Nights, 1)
	checkin := today.AddDate(0, 0, p.CheckinOffsetDays)
	checkout := checkin.AddDate(0, 0, nights)

	queries := make([]Query, 0, len(destinations))
	for _, d := range destinations {
		q := url.Values{}
		q.Set("ss", d)
		q.Set("checkin", checkin.Format(time.DateOnly))
		q.Set("checkout", checkout.Format(time.DateOnly))
		q.Set("group_adults", strconv.Itoa(max(p.Adults, 1)))
		q.Set("no_rooms", strconv.Itoa(max(p.Rooms, 1)))
		q.Set("group_children", strconv.Itoa(max(p.Children, 0)))
		queries = append(queries, Query{Destination: d, URL: p.BaseURL + "?" + q.Encode()})
	}
	return queries
}

// OrchestratorOptions configures a run.
type OrchestratorOptions struct {
	Workers          int
	URLCap           int
	DestinationPause time.Duration
	Distributor      DistributorOptions
}

// Orchestrator wires discovery, distribution and persistence into one run.
type Orchestrator struct {
	opts        OrchestratorOptions
	factory     scraper.SessionFactory
	discoverer  *scraper.Discoverer
	distributor *Distributor
	publisher   Publisher
	logger      *utils.Logger

	runID     string
	processed atomic.Int64
	persisted atomic.Int64
	total     atomic.Int64
}

// NewOrchestrator creates an Orchestrator. publisher may be nil.
func NewOrchestrator(
	opts OrchestratorOptions,
	factory scraper.SessionFactory,
	discoverer *scraper.Discoverer,
	builder RecordBuilder,
	writer storage.BatchWriter,
	publisher Publisher,
	logger *utils.Logger,
) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	o := &Orchestrator{
		opts:       opts,
		factory:    factory,
		discoverer: discoverer,
		publisher:  publisher,
		logger:     logger.With("component", "orchestrator"),
		runID:      uuid.NewString(),
	}

	distOpts := opts.Distributor
	userReport := distOpts.OnReport
	distOpts.OnReport = func(r BatchReport) {
		o.report(r)
		if userReport != nil {
			userReport(r)
		}
	}
	o.distributor = NewDistributor(factory, builder, writer, distOpts, logger)
	return o
}

// RunID identifies this run in published events.
func (o *Orchestrator) RunID() string { return o.runID }

// Progress returns how many discovered URLs workers have processed so far,
// and how many there are in total.
func (o *Orchestrator) Progress() (processed, total int) {
	return int(o.processed.Load()), int(o.total.Load())
}

func (o *Orchestrator) report(r BatchReport) {
	done := o.processed.Add(int64(r.Processed))
	o.persisted.Add(int64(r.Persisted))
	total := o.total.Load()
	o.logger.Info("[progress] %d/%d processed, %d persisted", done, total, o.persisted.Load())

	err := o.publisher.Publish(context.Background(), ProgressEvent{
		RunID:     o.runID,
		Worker:    r.Worker,
		Processed: r.Processed,
		Persisted: r.Persisted,
		Lost:      r.Lost,
		Done:      int(done),
		Total:     int(total),
		Time:      time.Now(),
	})
	if err != nil {
		o.logger.Debug("[progress] publish failed: %v", err)
	}
}

// Run discovers listing URLs for every query, then extracts and persists
// them across the configured workers. A summary is always returned. The
// error is non-nil only when no session could be opened at all.
func (o *Orchestrator) Run(ctx context.Context, queries []Query) (*models.RunSummary, error) {
	start := time.Now()
	summary := &models.RunSummary{}
	defer func() { summary.Duration = time.Since(start) }()

	for _, q := range queries {
		summary.Destinations = append(summary.Destinations, q.Destination)
	}

	urls, err := o.discover(ctx, queries)
	if err != nil {
		return summary, err
	}
	summary.Found = len(urls)
	o.total.Store(int64(len(urls)))

	if ctx.Err() != nil {
		summary.Interrupted = true
		o.logger.Warn("[orchestrator] interrupted during discovery, nothing extracted")
		return summary, nil
	}
	if len(urls) == 0 {
		o.logger.Warn("[orchestrator] no listing urls discovered")
		return summary, nil
	}

	chunks := Partition(urls, o.opts.Workers)
	o.logger.Info("[orchestrator] %d urls across %d workers", len(urls), len(chunks))

	outcomes := o.distributor.Run(ctx, chunks)
	setupFailures := 0
	for _, out := range outcomes {
		summary.Add(out)
		if utils.IsKind(out.Err, utils.KindSetup) {
			setupFailures++
		}
	}
	if ctx.Err() != nil {
		summary.Interrupted = true
	}
	if setupFailures == len(outcomes) {
		return summary, utils.NewError(utils.KindSetup, "open-sessions", "", outcomes[0].Err)
	}
	return summary, nil
}

// discover walks every query with one shared session, respecting the overall cap.
func (o *Orchestrator) discover(ctx context.Context, queries []Query) ([]string, error) {
	page, err := o.factory(ctx)
	if err != nil {
		return nil, utils.NewError(utils.KindSetup, "open-discovery-session", "", err)
	}
	defer page.Close()

	seen := utils.NewURLSet()
	for i, q := range queries {
		if o.opts.URLCap > 0 && seen.Size() >= o.opts.URLCap {
			o.logger.Info("[orchestrator] url cap %d reached, skipping remaining destinations", o.opts.URLCap)
			break
		}
		if i > 0 {
			if err := utils.Sleep(ctx, o.opts.DestinationPause); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		res := o.discoverer.Discover(ctx, page, q.URL, seen, o.opts.URLCap)
		o.logger.Info("[orchestrator] %s: %d urls over %d pages (%s)", q.Destination, len(res.URLs), res.Pages, res.Reason)
	}
	return seen.Values(), nil
}
