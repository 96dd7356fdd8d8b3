package services

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-scraper/models"
	"booking-scraper/utils"
)

func sampleRows() []map[string]string {
	return []map[string]string{
		{"title": "Studio A", "price": "200", "zone": "Gueliz", "city": "Marrakech", "general_review": "9.1", "category": "Apartment"},
		{"title": "Flat B", "price": "50", "zone": "Gueliz", "city": "Marrakech", "general_review": "8.5", "category": "Apartment"},
		{"title": "Loft C", "price": "0", "min_price": "120", "zone": "Hivernage", "city": "Marrakech", "general_review": "8.8", "category": "Riad"},
		{"title": "Suite D", "price": "300", "zone": "", "city": "Agadir", "general_review": "0"},
		{"title": "Flat E", "price": "", "zone": "Medina", "city": "Marrakech", "general_review": "9.4"},
	}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(utils.NewNopLogger())
	r := svc.Generate(sampleRows())
	if r.TotalListings != 5 {
		t.Errorf("TotalListings: got %d, want 5", r.TotalListings)
	}
	if r.PricedListings != 4 {
		t.Errorf("PricedListings: got %d, want 4", r.PricedListings)
	}
}

func TestInsightPrices(t *testing.T) {
	svc := NewInsightService(utils.NewNopLogger())
	r := svc.Generate(sampleRows())
	wantAvg := 167.50
	if r.AveragePrice != wantAvg {
		t.Errorf("AveragePrice: got %.2f, want %.2f", r.AveragePrice, wantAvg)
	}
	if r.MinPrice != 50 {
		t.Errorf("MinPrice: got %.2f, want 50", r.MinPrice)
	}
	if r.MaxPrice != 300 {
		t.Errorf("MaxPrice: got %.2f, want 300", r.MaxPrice)
	}
}

func TestInsightMostExpensive(t *testing.T) {
	svc := NewInsightService(utils.NewNopLogger())
	r := svc.Generate(sampleRows())
	if r.MostExpensive == nil {
		t.Fatal("MostExpensive should not be nil")
	}
	if r.MostExpensive["title"] != "Suite D" {
		t.Errorf("MostExpensive: got %q, want %q", r.MostExpensive["title"], "Suite D")
	}
}

func TestInsightTopRated(t *testing.T) {
	svc := NewInsightService(utils.NewNopLogger())
	r := svc.Generate(sampleRows())
	if len(r.TopRated) != 4 {
		t.Fatalf("TopRated len: got %d, want 4", len(r.TopRated))
	}
	if r.TopRated[0]["title"] != "Flat E" {
		t.Errorf("TopRated[0]: got %q, want Flat E", r.TopRated[0]["title"])
	}
}

func TestInsightGrouping(t *testing.T) {
	svc := NewInsightService(utils.NewNopLogger())
	r := svc.Generate(sampleRows())
	assert.Equal(t, map[string]int{"Gueliz": 2, "Hivernage": 1, "Medina": 1}, r.ListingsByZone)
	assert.Equal(t, map[string]int{"Marrakech": 4, "Agadir": 1}, r.ListingsByCity)
	assert.Equal(t, map[string]int{"Apartment": 2, "Riad": 1}, r.CategoryCounts)
}

func TestInsightEmptyInput(t *testing.T) {
	svc := NewInsightService(utils.NewNopLogger())
	r := svc.Generate(nil)
	if r.TotalListings != 0 {
		t.Errorf("expected 0 total listings for empty input")
	}
}

func TestInsightPrint(t *testing.T) {
	var buf bytes.Buffer
	svc := NewInsightServiceTo(utils.NewNopLogger(), &buf)
	svc.Print(svc.Generate(sampleRows()))
	svc.PrintSummary(&models.RunSummary{
		Destinations: []string{"Marrakesh"},
		Found:        5,
		Processed:    5,
		Persisted:    4,
		Lost:         1,
		Workers:      []models.WorkerOutcome{{Worker: 0, Assigned: 5, Processed: 5, Persisted: 4, Interrupted: true}},
		Interrupted:  true,
		Duration:     3 * time.Second,
	})

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "Suite D")
	assert.Contains(t, out, "Gueliz")
	assert.Contains(t, out, "Marrakesh")
	assert.Contains(t, out, "interrupted")
}
