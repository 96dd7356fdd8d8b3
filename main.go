package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"booking-scraper/config"
	"booking-scraper/models"
	"booking-scraper/scraper"
	"booking-scraper/scraper/booking"
	"booking-scraper/services"
	"booking-scraper/storage"
	"booking-scraper/utils"
)

func main() {
	cfg := config.Load()
	logger := utils.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Run failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	logger.Info("=== Booking Scraping System starting ===")
	logger.Info("Config: destinations: %s | workers: %d | batch: %d | pace: %v-%v | backend: %s",
		strings.Join(cfg.Destinations, ", "), cfg.Workers, cfg.BatchSize, cfg.PaceMin, cfg.PaceMax, cfg.BrowserBackend)

	csvWriter, err := storage.NewIncrementalWriter(cfg.OutputPath, storage.WriterOptions{
		BaseColumns: models.ReservedColumns,
		Attempts:    cfg.MaxRetries,
		RetryDelay:  500 * time.Millisecond,
		Logger:      logger,
	})
	if err != nil {
		return utils.NewError(utils.KindSetup, "open-output", cfg.OutputPath, err)
	}

	var writer storage.BatchWriter = csvWriter
	var rows storage.RowSource = csvWriter
	if cfg.PostgresEnabled {
		pgWriter, err := storage.NewPostgresWriter(ctx, cfg.DSN())
		if err != nil {
			logger.Warn("PostgreSQL mirror disabled: %v", err)
		} else {
			writer = storage.NewMultiWriter(logger, csvWriter, pgWriter)
			rows = pgWriter
			logger.Info("Mirroring batches to PostgreSQL (table: properties)")
		}
	}
	defer writer.Close()

	publisher := newPublisher(ctx, cfg, logger)
	defer publisher.Close()

	retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: 2 * time.Second, Logger: logger}

	var geocoder services.Geocoder
	if cfg.GeocodeEnabled {
		geocoder = services.NewNominatimGeocoder(cfg.GeocodeURL, cfg.UserAgent, cfg.GeocodeRPS, newCache(cfg, logger), logger)
	}

	builder := services.NewBuilder(
		booking.Property(booking.PropertyOptions{
			PanelTimeout:   10 * time.Second,
			ApartmentsOnly: cfg.ApartmentsOnly,
			ReviewPages:    cfg.ReviewPages,
		}),
		scraper.NewExtractor(cfg.StrategyTimeout, logger),
		geocoder, retry, logger,
	)
	discoverer := scraper.NewDiscoverer(booking.Discovery(cfg.MaxDiscoveryPages, 15*time.Second), logger, retry)

	orch := services.NewOrchestrator(services.OrchestratorOptions{
		Workers:          cfg.Workers,
		URLCap:           cfg.URLCap,
		DestinationPause: cfg.DestinationPause,
		Distributor: services.DistributorOptions{
			BatchSize: cfg.BatchSize,
			PaceMin:   cfg.PaceMin,
			PaceMax:   cfg.PaceMax,
		},
	}, newSessionFactory(cfg), discoverer, builder, writer, publisher, logger)
	logger.Info("Run %s", orch.RunID())

	queries := services.BuildSearchURLs(cfg.Destinations, services.SearchParams{
		BaseURL:           cfg.SearchBaseURL,
		CheckinOffsetDays: cfg.CheckinOffsetDays,
		Nights:            cfg.Nights,
		Adults:            cfg.Adults,
		Rooms:             cfg.Rooms,
		Children:          cfg.Children,
	}, time.Now())

	summary, err := orch.Run(ctx, queries)
	insightSvc := services.NewInsightService(logger)
	if summary != nil {
		insightSvc.PrintSummary(summary)
	}
	if err != nil {
		return err
	}

	// The run context may already be cancelled; the report still reads the store.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	stored, err := rows.FetchAll(fetchCtx)
	if err != nil {
		logger.Error("Failed to read stored properties for insights: %v", err)
		return nil
	}

	insightSvc.Print(insightSvc.Generate(stored))
	fmt.Printf("  Done. Properties → %s\n\n", cfg.OutputPath)
	return nil
}

func newSessionFactory(cfg *config.Config) scraper.SessionFactory {
	if cfg.BrowserBackend == config.BackendHTTP {
		return scraper.NewHTTPSessionFactory(scraper.NewHTTPFetcher(cfg.PageTimeout, cfg.UserAgent))
	}
	return scraper.NewChromeSessionFactory(scraper.ChromeOptions{
		ExecPath:    cfg.ChromeBin,
		Headless:    cfg.Headless,
		UserAgent:   cfg.UserAgent,
		PageTimeout: cfg.PageTimeout,
	})
}

func newCache(cfg *config.Config, logger *utils.Logger) storage.Cache {
	if cfg.MemcacheAddr == "" {
		return storage.NewMemoryCache()
	}
	mc := storage.NewMemcacheCache(cfg.MemcacheAddr)
	if err := mc.Ping(); err != nil {
		logger.Warn("Memcache at %s unavailable, caching geocodes in process: %v", cfg.MemcacheAddr, err)
		return storage.NewMemoryCache()
	}
	return mc
}

func newPublisher(ctx context.Context, cfg *config.Config, logger *utils.Logger) services.Publisher {
	if cfg.RedisAddr == "" {
		return services.NopPublisher{}
	}
	rp := services.NewRedisPublisher(cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisMaxLen)
	if err := rp.Ping(ctx); err != nil {
		logger.Warn("Redis at %s unavailable, progress events disabled: %v", cfg.RedisAddr, err)
		rp.Close()
		return services.NopPublisher{}
	}
	logger.Info("Publishing progress to Redis stream %s", cfg.RedisStream)
	return rp
}
