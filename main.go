package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gabrrrielll/real-estate-scraper/api"
	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/helpers"
	"github.com/gabrrrielll/real-estate-scraper/internal/crawler"
	"github.com/gabrrrielll/real-estate-scraper/internal/geocode"
	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/internal/media"
	"github.com/gabrrrielll/real-estate-scraper/internal/scraper"
	"github.com/gabrrrielll/real-estate-scraper/internal/store"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/services/cache"
	"github.com/gabrrrielll/real-estate-scraper/services/lock"
	"github.com/gabrrrielll/real-estate-scraper/services/metrics"
	"github.com/gabrrrielll/real-estate-scraper/services/publisher"
	"github.com/gabrrrielll/real-estate-scraper/services/worker"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "use in-memory store, cache and lock")
	once := flag.Bool("once", false, "run a single session and exit")
	refreshURL := flag.String("refresh", "", "re-extract one listing URL and exit")
	pruneDays := flag.Int("prune-days", 0, "delete imported records older than this many days and exit")
	flag.Parse()

	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	scraperCfg, err := config.LoadScraperConfig(cfg.ScraperConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ScraperConfigPath).Msg("Failed to load scraper configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Dur("crawl_interval", cfg.CrawlInterval()).
		Int("categories", len(scraperCfg.ActiveCategories())).
		Bool("dry_run", *dryRun).
		Msg("Starting application")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := initializeServices(ctx, cfg, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	s := newScraper(cfg, scraperCfg, services)
	w := worker.NewWorker(s, services.Lock, services.Publisher, logger.ForWorker(), cfg.CrawlInterval())

	switch {
	case *refreshURL != "" || *pruneDays > 0:
		if err := runMaintenance(ctx, s, services.Lock, *refreshURL, *pruneDays); err != nil {
			log.Fatal().Err(err).Msg("Maintenance failed")
		}
		return
	case *once:
		result, err := w.RunOnce(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Run failed")
		}
		if !result.Success {
			log.Error().Str("message", result.Message).Msg("Run finished without success")
			os.Exit(1)
		}
		return
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(w, s, services.Lock, services.Metrics.Handler(), services.HealthChecks(), logger.ForAPI()).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()

	go w.Start(ctx)

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

// Services holds all the initialized services
type Services struct {
	Store     store.Store
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Lock      lock.Locker
	Metrics   *metrics.Metrics

	checks  map[string]api.HealthCheck
	cleanup []func()
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// HealthChecks returns the dependency checks served on /health
func (s *Services) HealthChecks() map[string]api.HealthCheck {
	return s.checks
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config, dryRun bool) (*Services, error) {
	services := &Services{
		Metrics: metrics.New(),
		checks:  map[string]api.HealthCheck{},
	}

	if dryRun {
		services.Store = store.NewMemoryStore()
		services.Cache = cache.NewMemoryCache()
		services.Lock = lock.NewMemoryLock()
		logger.Info("Dry run: using in-memory store, cache and lock")
		return services, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	mongoStore, err := store.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDB, logger.Default.WithFields(logger.Fields{"component": "store", "database": cfg.MongoDB}))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	services.Store = mongoStore
	services.checks["mongo"] = mongoStore.Ping
	services.cleanup = append(services.cleanup, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongoStore.Close(closeCtx)
	})
	logger.Info("Connected to MongoDB database %s", cfg.MongoDB)

	memcache := cache.NewMemcacheService(cfg.MemcacheAddr)
	services.Cache = memcache
	services.checks["memcache"] = func(ctx context.Context) error { return memcache.Ping() }
	logger.Info("Using Memcache at %s", cfg.MemcacheAddr)

	redisClient := publisher.NewRedisClient(cfg.RedisAddr, cfg.RedisDB)
	if err := redisClient.Ping(connectCtx).Err(); err != nil {
		redisClient.Close()
		services.Cleanup()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	redisPublisher := publisher.NewRedisPublisher(
		ctx,
		redisClient,
		cfg.RedisStream,
		cfg.RedisStreamCount,
		cfg.RedisStreamMaxLength,
	)
	services.Publisher = redisPublisher
	services.cleanup = append(services.cleanup, func() { redisPublisher.Close() })
	services.checks["redis"] = func(ctx context.Context) error { return redisPublisher.Ping() }
	services.Lock = lock.NewRedisLock(redisClient, cfg.RedisLockKey, cfg.RunLockTTL)
	logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
		cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)

	return services, nil
}

// newScraper wires the pipeline stages around the services
func newScraper(cfg *config.Config, scraperCfg *config.ScraperConfig, services *Services) *scraper.Scraper {
	log := logger.ForScraper()

	pageClient := helpers.NewHTTPClient(scraperCfg.RequestTimeout)
	geocoder := geocode.NewClient(
		helpers.NewHTTPClient(scraperCfg.GeocodeTimeout),
		cfg.GeocodeEndpoint,
		cfg.GeocodeLanguage,
		log.WithField("stage", "geocode"),
	)

	return scraper.New(scraperCfg, scraper.Dependencies{
		Fetcher:    crawler.NewFetcher(pageClient, scraperCfg, services.Cache, log.WithField("stage", "fetch")),
		Extractor:  crawler.NewExtractor(scraperCfg, log.WithField("stage", "extract")),
		Normalizer: mapper.NewNormalizer(scraperCfg.SpecificationsMapping, geocoder, log.WithField("stage", "normalize")),
		Acquirer:   media.NewAcquirer(pageClient, services.Store, scraperCfg, log.WithField("stage", "media")),
		Store:      services.Store,
		Cache:      services.Cache,
		Publisher:  services.Publisher,
		Recorder:   services.Metrics,
		Logger:     log,
	})
}

// runMaintenance refreshes one listing or prunes old records under the run lock
func runMaintenance(ctx context.Context, s *scraper.Scraper, locker lock.Locker, refreshURL string, pruneDays int) error {
	log := logger.ForScraper()

	release, err := locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release(context.WithoutCancel(ctx))

	if refreshURL != "" {
		result, err := s.RefreshOne(ctx, refreshURL)
		if err != nil {
			return err
		}
		log.Info().
			Str("id", result.Handle.ID).
			Bool("created", result.Created).
			Int("changes", len(result.Changes)).
			Msg("Refresh finished")
		return nil
	}

	result, err := s.Prune(ctx, time.Duration(pruneDays)*24*time.Hour)
	if err != nil {
		return err
	}
	log.Info().Int("properties", result.Properties).Int("media", result.Media).Msg("Prune finished")
	return nil
}
