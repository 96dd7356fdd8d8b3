package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"booking-scraper/models"
	"booking-scraper/storage"
	"booking-scraper/utils"
)

// Geocoder turns a coordinate pair into an address. Failures are tolerated
// by callers: the location columns just stay unknown.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (*models.Location, error)
}

var (
	// Nominatim address keys, most specific first.
	zoneKeys = []string{"neighbourhood", "suburb", "quarter", "city_district", "district"}
	cityKeys = []string{"city", "town", "municipality", "village"}

	nonLatinRegexp = regexp.MustCompile(`[^a-zA-Z0-9\s\-,.']`)
)

// NominatimGeocoder calls an OpenStreetMap Nominatim reverse endpoint. Calls
// are rate limited across all workers and answers are cached by coordinates.
type NominatimGeocoder struct {
	endpoint  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	cache     storage.Cache
	cacheTTL  time.Duration
	logger    *utils.Logger
}

// NewNominatimGeocoder creates a geocoder. rps <= 0 disables the limit;
// a nil cache disables caching.
func NewNominatimGeocoder(endpoint, userAgent string, rps float64, cache storage.Cache, logger *utils.Logger) *NominatimGeocoder {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &NominatimGeocoder{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(limit, 1),
		cache:     cache,
		cacheTTL:  30 * 24 * time.Hour,
		logger:    logger.With("component", "geocoder"),
	}
}

type nominatimResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (*models.Location, error) {
	key := cacheKey(lat, lon)
	if g.cache != nil {
		if data, err := g.cache.Get(key); err == nil {
			var resp nominatimResponse
			if json.Unmarshal(data, &resp) == nil {
				return toLocation(resp), nil
			}
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("accept-language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	res, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: unexpected status code: %d", res.StatusCode)
	}

	var resp nominatimResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("geocode: decode: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("geocode: %s", resp.Error)
	}

	if g.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := g.cache.Set(key, data, g.cacheTTL); err != nil {
				g.logger.Debug("[geocode] cache set %s: %v", key, err)
			}
		}
	}
	return toLocation(resp), nil
}

// cacheKey rounds to about 10 m, enough to share answers between listings in
// the same building. Memcache keys may not contain spaces.
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("geo:%.4f:%.4f", lat, lon)
}

func toLocation(resp nominatimResponse) *models.Location {
	loc := &models.Location{
		DisplayText:    resp.DisplayName,
		ZoneCandidates: make(map[string]string),
		CityCandidates: make(map[string]string),
	}
	for _, k := range zoneKeys {
		if v := resp.Address[k]; v != "" {
			loc.ZoneCandidates[k] = v
		}
	}
	for _, k := range cityKeys {
		if v := resp.Address[k]; v != "" {
			loc.CityCandidates[k] = v
		}
	}
	return loc
}

// LocationFields resolves a geocoding answer into the address, zone and city
// columns. Missing parts come back as empty strings.
func LocationFields(loc *models.Location) (address, zone, city string) {
	if loc == nil {
		return "", "", ""
	}
	address = strings.TrimSpace(nonLatinRegexp.ReplaceAllString(loc.DisplayText, ""))
	address = strings.Join(strings.Fields(strings.ReplaceAll(address, ",", " ")), " ")

	for _, k := range zoneKeys {
		if z := strings.TrimSpace(nonLatinRegexp.ReplaceAllString(loc.ZoneCandidates[k], "")); z != "" {
			zone = z
			break
		}
	}
	for _, k := range cityKeys {
		if c := strings.TrimSpace(loc.CityCandidates[k]); c != "" {
			city = c
			break
		}
	}
	return address, zone, city
}
