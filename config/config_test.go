package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DESTINATIONS", "WORKERS", "BATCH_SIZE", "PACE_MIN_MS", "PACE_MAX_MS", "BROWSER_BACKEND", "URL_CAP", "APARTMENTS_ONLY", "REVIEW_PAGES"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, []string{"Marrakesh"}, cfg.Destinations)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.PaceMin)
	assert.Equal(t, 2*time.Second, cfg.PaceMax)
	assert.Equal(t, 0, cfg.URLCap)
	assert.Equal(t, BackendChrome, cfg.BrowserBackend)
	assert.False(t, cfg.ApartmentsOnly)
	assert.Equal(t, 5, cfg.ReviewPages)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DESTINATIONS", " Marrakesh, Agadir ,,Fes ")
	t.Setenv("WORKERS", "6")
	t.Setenv("PACE_MIN_MS", "250")
	t.Setenv("PACE_MAX_MS", "750")
	t.Setenv("BROWSER_BACKEND", "HTTP")
	t.Setenv("APARTMENTS_ONLY", "true")
	t.Setenv("GEOCODE_RPS", "0.5")
	t.Setenv("REDIS_MAXLEN", "500")
	t.Setenv("REVIEW_PAGES", "0")
	cfg := Load()

	assert.Equal(t, []string{"Marrakesh", "Agadir", "Fes"}, cfg.Destinations)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.PaceMin)
	assert.Equal(t, 750*time.Millisecond, cfg.PaceMax)
	assert.Equal(t, BackendHTTP, cfg.BrowserBackend)
	assert.True(t, cfg.ApartmentsOnly)
	assert.Equal(t, 0.5, cfg.GeocodeRPS)
	assert.Equal(t, int64(500), cfg.RedisMaxLen)
	assert.Equal(t, 0, cfg.ReviewPages)
}

func TestValidateClamps(t *testing.T) {
	cfg := &Config{
		Workers:        0,
		BatchSize:      -2,
		URLCap:         -1,
		PaceMin:        2 * time.Second,
		PaceMax:        time.Second,
		BrowserBackend: "firefox",
		Nights:         0,
		GeocodeRPS:     -1,
		ReviewPages:    -3,
	}
	cfg.Validate()

	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, 0, cfg.URLCap)
	assert.Equal(t, 2*time.Second, cfg.PaceMax)
	assert.Equal(t, BackendChrome, cfg.BrowserBackend)
	assert.Equal(t, 1, cfg.Nights)
	assert.Equal(t, 1.0, cfg.GeocodeRPS)
	assert.Equal(t, []string{"Marrakesh"}, cfg.Destinations)
	assert.Equal(t, 5*time.Second, cfg.StrategyTimeout)
	assert.Equal(t, 0, cfg.ReviewPages)
}

func TestDSN(t *testing.T) {
	cfg := &Config{PostgresHost: "db", PostgresPort: "5433", PostgresUser: "u", PostgresPassword: "p", PostgresDB: "booking", PostgresSSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=booking sslmode=disable", cfg.DSN())
}
