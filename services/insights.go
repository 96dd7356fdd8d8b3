package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"booking-scraper/models"
	"booking-scraper/utils"
)

var (
	heading = color.New(color.FgMagenta, color.Bold)
	section = color.New(color.FgYellow, color.Bold)
	good    = color.New(color.FgGreen, color.Bold)
	bad     = color.New(color.FgRed, color.Bold)
	bold    = color.New(color.Bold)
)

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// NewInsightServiceTo prints to w instead of stdout.
func NewInsightServiceTo(logger *utils.Logger, w io.Writer) *InsightService {
	return &InsightService{logger: logger, out: w}
}

// rowPrice returns the per-night price, falling back to the cheapest room.
func rowPrice(row map[string]string) (float64, bool) {
	for _, col := range []string{"price", "min_price"} {
		if f, err := strconv.ParseFloat(row[col], 64); err == nil && f > 0 {
			return f, true
		}
	}
	return 0, false
}

func rowRating(row map[string]string) float64 {
	f, err := strconv.ParseFloat(row["general_review"], 64)
	if err != nil {
		return 0
	}
	return f
}

// Generate computes the report over persisted rows. Zero and missing values
// are left out of the statistics they would skew.
func (s *InsightService) Generate(rows []map[string]string) *models.InsightReport {
	report := &models.InsightReport{
		ListingsByZone: make(map[string]int),
		ListingsByCity: make(map[string]int),
		CategoryCounts: make(map[string]int),
	}

	if len(rows) == 0 {
		return report
	}

	report.TotalListings = len(rows)

	var rated []map[string]string
	var total float64

	for _, row := range rows {
		if price, ok := rowPrice(row); ok {
			if report.PricedListings == 0 || price < report.MinPrice {
				report.MinPrice = price
			}
			if report.PricedListings == 0 || price > report.MaxPrice {
				report.MaxPrice = price
				report.MostExpensive = row
			}
			total += price
			report.PricedListings++
		}
		if rowRating(row) > 0 {
			rated = append(rated, row)
		}
		if z := row[ColumnZone]; z != "" {
			report.ListingsByZone[z]++
		}
		if c := row[ColumnCity]; c != "" {
			report.ListingsByCity[c]++
		}
		if c := row["category"]; c != "" {
			report.CategoryCounts[c]++
		}
	}

	if report.PricedListings > 0 {
		report.AveragePrice = round2(total / float64(report.PricedListings))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}

	// Top 5 by rating
	sort.SliceStable(rated, func(i, j int) bool {
		return rowRating(rated[i]) > rowRating(rated[j])
	})
	if len(rated) > 5 {
		rated = rated[:5]
	}
	report.TopRated = rated

	s.logger.Debug("[insights] %d rows, %d priced, %d rated", report.TotalListings, report.PricedListings, len(rated))
	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	heading.Fprintf(s.out, "\n%s\n", sep)
	heading.Fprintf(s.out, "  BOOKING SCRAPE INSIGHTS\n")
	heading.Fprintf(s.out, "%s\n\n", sep)

	section.Fprintf(s.out, "  Overview\n")
	fmt.Fprintf(s.out, "  %s\n", thin)
	fmt.Fprintf(s.out, "  Properties persisted : %s\n", bold.Sprint(r.TotalListings))
	fmt.Fprintf(s.out, "  With a price         : %s\n\n", bold.Sprint(r.PricedListings))

	section.Fprintf(s.out, "  Price Statistics (per night)\n")
	fmt.Fprintf(s.out, "  %s\n", thin)
	if r.PricedListings > 0 {
		fmt.Fprintf(s.out, "  Average price : %s\n", good.Sprintf("%.2f", r.AveragePrice))
		fmt.Fprintf(s.out, "  Minimum price : %s\n", good.Sprintf("%.2f", r.MinPrice))
		fmt.Fprintf(s.out, "  Maximum price : %s\n", good.Sprintf("%.2f", r.MaxPrice))
	} else {
		fmt.Fprintf(s.out, "  No price data available\n")
	}
	fmt.Fprintln(s.out)

	if r.MostExpensive != nil {
		section.Fprintf(s.out, "  Most Expensive Property\n")
		fmt.Fprintf(s.out, "  %s\n", thin)
		fmt.Fprintf(s.out, "  %s\n", truncate(r.MostExpensive["title"], 50))
		fmt.Fprintf(s.out, "  Zone  : %s\n", r.MostExpensive[ColumnZone])
		fmt.Fprintf(s.out, "  Price : %s\n\n", bad.Sprintf("%.2f/night", r.MaxPrice))
	}

	section.Fprintf(s.out, "  Top 5 Highest Rated Properties\n")
	fmt.Fprintf(s.out, "  %s\n", thin)
	if len(r.TopRated) == 0 {
		fmt.Fprintf(s.out, "  No rated properties found\n")
	} else {
		for i, row := range r.TopRated {
			fmt.Fprintf(s.out, "  %s %-40s %s\n", bold.Sprintf("%d.", i+1),
				truncate(row["title"], 38), good.Sprintf("%.1f", rowRating(row)))
		}
	}
	fmt.Fprintln(s.out)

	s.printCounts("Properties by Zone", r.ListingsByZone)
	s.printCounts("Properties by City", r.ListingsByCity)
	s.printCounts("Properties by Category", r.CategoryCounts)

	heading.Fprintf(s.out, "%s\n\n", sep)
}

func (s *InsightService) printCounts(title string, counts map[string]int) {
	section.Fprintf(s.out, "  %s\n", title)
	fmt.Fprintf(s.out, "  %s\n", strings.Repeat("─", 54))
	if len(counts) == 0 {
		fmt.Fprintf(s.out, "  No data\n\n")
		return
	}
	type kv struct {
		key   string
		count int
	}
	var list []kv
	for k, c := range counts {
		list = append(list, kv{k, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].key < list[j].key
	})
	for _, e := range list {
		bar := strings.Repeat("█", min(e.count, 40))
		fmt.Fprintf(s.out, "  %-30s %s (%d)\n", truncate(e.key, 28), bar, e.count)
	}
	fmt.Fprintln(s.out)
}

// PrintSummary prints the run outcome, degraded or not.
func (s *InsightService) PrintSummary(sum *models.RunSummary) {
	thin := strings.Repeat("─", 54)
	section.Fprintf(s.out, "\n  Run Summary (%s)\n", sum.Duration.Round(time.Second))
	fmt.Fprintf(s.out, "  %s\n", thin)
	fmt.Fprintf(s.out, "  Destinations : %s\n", strings.Join(sum.Destinations, ", "))
	fmt.Fprintf(s.out, "  Found        : %d\n", sum.Found)
	fmt.Fprintf(s.out, "  Processed    : %d\n", sum.Processed)
	fmt.Fprintf(s.out, "  Accepted     : %s\n", good.Sprint(sum.Accepted))
	fmt.Fprintf(s.out, "  Rejected     : %d\n", sum.Rejected)
	fmt.Fprintf(s.out, "  Failed       : %d\n", sum.Failed)
	fmt.Fprintf(s.out, "  Persisted    : %s\n", good.Sprint(sum.Persisted))
	if sum.Lost > 0 {
		fmt.Fprintf(s.out, "  Lost         : %s\n", bad.Sprint(sum.Lost))
	}
	for _, w := range sum.Workers {
		status := "ok"
		switch {
		case w.Err != nil:
			status = bad.Sprint(w.Err.Error())
		case w.Interrupted:
			status = "interrupted"
		}
		fmt.Fprintf(s.out, "  worker %-2d %3d/%-3d persisted=%d  %s\n", w.Worker, w.Processed, w.Assigned, w.Persisted, status)
	}
	if sum.Interrupted {
		bad.Fprintf(s.out, "  Run was interrupted; in-flight records may be missing\n")
	}
	fmt.Fprintln(s.out)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
