package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends for BROWSER_BACKEND.
const (
	BackendChrome = "chrome"
	BackendHTTP   = "http"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Destinations     []string
	Workers          int
	BatchSize        int
	PaceMin          time.Duration
	PaceMax          time.Duration
	DestinationPause time.Duration
	URLCap           int
	ApartmentsOnly   bool

	OutputPath        string
	MaxRetries        int
	MaxDiscoveryPages int
	ReviewPages       int
	StrategyTimeout   time.Duration
	PageTimeout       time.Duration

	BrowserBackend string
	ChromeBin      string
	Headless       bool
	UserAgent      string

	SearchBaseURL     string
	CheckinOffsetDays int
	Nights            int
	Adults            int
	Rooms             int
	Children          int

	GeocodeEnabled bool
	GeocodeURL     string
	GeocodeRPS     float64

	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisAddr   string
	RedisDB     int
	RedisStream string
	RedisMaxLen int64

	MemcacheAddr string
	LogLevel     string
}

// Load reads the .env file and returns a populated, validated Config.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		Destinations:     getEnvList("DESTINATIONS", []string{"Marrakesh"}),
		Workers:          getEnvInt("WORKERS", 3),
		BatchSize:        getEnvInt("BATCH_SIZE", 5),
		PaceMin:          getEnvMillis("PACE_MIN_MS", 1000),
		PaceMax:          getEnvMillis("PACE_MAX_MS", 2000),
		DestinationPause: getEnvMillis("DESTINATION_PAUSE_MS", 3000),
		URLCap:           getEnvInt("URL_CAP", 0),
		ApartmentsOnly:   getEnvBool("APARTMENTS_ONLY", false),

		OutputPath:        getEnv("OUTPUT_PATH", "./output/booking_properties.csv"),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		MaxDiscoveryPages: getEnvInt("MAX_DISCOVERY_PAGES", 50),
		ReviewPages:       getEnvInt("REVIEW_PAGES", 5),
		StrategyTimeout:   getEnvMillis("STRATEGY_TIMEOUT_MS", 5000),
		PageTimeout:       getEnvMillis("PAGE_TIMEOUT_MS", 30000),

		BrowserBackend: strings.ToLower(getEnv("BROWSER_BACKEND", BackendChrome)),
		ChromeBin:      getEnv("CHROME_BIN", ""),
		Headless:       getEnvBool("HEADLESS", true),
		UserAgent:      getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"),

		SearchBaseURL:     getEnv("SEARCH_BASE_URL", "https://www.booking.com/searchresults.html"),
		CheckinOffsetDays: getEnvInt("CHECKIN_OFFSET_DAYS", 0),
		Nights:            getEnvInt("NIGHTS", 1),
		Adults:            getEnvInt("ADULTS", 1),
		Rooms:             getEnvInt("ROOMS", 1),
		Children:          getEnvInt("CHILDREN", 0),

		GeocodeEnabled: getEnvBool("GEOCODE_ENABLED", true),
		GeocodeURL:     getEnv("GEOCODE_URL", "https://nominatim.openstreetmap.org/reverse"),
		GeocodeRPS:     getEnvFloat("GEOCODE_RPS", 1),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "booking_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisAddr:   getEnv("REDIS_ADDR", ""),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		RedisStream: getEnv("REDIS_STREAM", "booking:progress"),
		RedisMaxLen: int64(getEnvInt("REDIS_MAXLEN", 10000)),

		MemcacheAddr: getEnv("MEMCACHE_ADDR", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
	cfg.Validate()
	return cfg
}

// Validate clamps values that make no sense into usable ones.
func (c *Config) Validate() {
	c.Workers = max(c.Workers, 1)
	c.BatchSize = max(c.BatchSize, 1)
	c.URLCap = max(c.URLCap, 0)
	c.MaxRetries = max(c.MaxRetries, 1)
	c.MaxDiscoveryPages = max(c.MaxDiscoveryPages, 1)
	c.ReviewPages = max(c.ReviewPages, 0)
	c.PaceMin = max(c.PaceMin, 0)
	if c.PaceMax < c.PaceMin {
		c.PaceMax = c.PaceMin
	}
	c.DestinationPause = max(c.DestinationPause, 0)
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 5 * time.Second
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 30 * time.Second
	}
	if c.BrowserBackend != BackendHTTP {
		c.BrowserBackend = BackendChrome
	}
	c.CheckinOffsetDays = max(c.CheckinOffsetDays, 0)
	c.Nights = max(c.Nights, 1)
	c.Adults = max(c.Adults, 1)
	c.Rooms = max(c.Rooms, 1)
	c.Children = max(c.Children, 0)
	if c.GeocodeRPS <= 0 {
		c.GeocodeRPS = 1
	}
	if len(c.Destinations) == 0 {
		c.Destinations = []string{"Marrakesh"}
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}

// getEnvList splits a comma-separated value, dropping blank items.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
