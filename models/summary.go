package models

import "time"

// Location is the result of a reverse-geocoding lookup.
type Location struct {
	DisplayText    string
	ZoneCandidates map[string]string
	CityCandidates map[string]string
}

// WorkerOutcome is what one worker reports when its chunk is done.
type WorkerOutcome struct {
	Worker    int
	Assigned  int
	Processed int
	Accepted  int
	Rejected  int
	Failed    int
	Persisted int
	// Lost counts accepted records that never reached the store: failed
	// flushes, or records still in flight when the worker was stopped.
	Lost        int
	Interrupted bool
	Err         error
}

// RunSummary is reported at the end of every run, even a degraded one.
type RunSummary struct {
	Destinations []string
	Found        int
	Processed    int
	Accepted     int
	Rejected     int
	Failed       int
	Persisted    int
	Lost         int
	Workers      []WorkerOutcome
	Interrupted  bool
	Duration     time.Duration
}

// Add folds one worker outcome into the totals.
func (s *RunSummary) Add(o WorkerOutcome) {
	s.Workers = append(s.Workers, o)
	s.Processed += o.Processed
	s.Accepted += o.Accepted
	s.Rejected += o.Rejected
	s.Failed += o.Failed
	s.Persisted += o.Persisted
	s.Lost += o.Lost
	if o.Interrupted {
		s.Interrupted = true
	}
}

// InsightReport holds the computed analytics over the persisted dataset.
type InsightReport struct {
	TotalListings  int
	PricedListings int
	AveragePrice   float64
	MinPrice       float64
	MaxPrice       float64
	MostExpensive  map[string]string
	TopRated       []map[string]string
	ListingsByZone map[string]int
	ListingsByCity map[string]int
	CategoryCounts map[string]int
}
