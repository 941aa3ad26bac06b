package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/shop-monitor/internal/antibot"
	"github.com/maltedev/shop-monitor/internal/api"
	"github.com/maltedev/shop-monitor/internal/browser"
	"github.com/maltedev/shop-monitor/internal/captcha"
	"github.com/maltedev/shop-monitor/internal/config"
	"github.com/maltedev/shop-monitor/internal/database"
	"github.com/maltedev/shop-monitor/internal/events"
	"github.com/maltedev/shop-monitor/internal/notifier"
	"github.com/maltedev/shop-monitor/internal/pipeline"
	"github.com/maltedev/shop-monitor/internal/poller"
	"github.com/maltedev/shop-monitor/internal/ratelimit"
	"github.com/maltedev/shop-monitor/internal/scraper"
	"github.com/maltedev/shop-monitor/internal/session"
	"github.com/maltedev/shop-monitor/internal/transport"
	"github.com/maltedev/shop-monitor/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Setup logging
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis client for the change-event stream
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Raw transport with a browser TLS fingerprint
	tr, err := transport.New(transport.Options{
		TimeoutSeconds: int(cfg.Scraper.RequestTimeout.Seconds()),
		UserAgent:      cfg.Scraper.UserAgent,
		Proxy:          cfg.Scraper.Proxy,
	})
	if err != nil {
		log.Error("failed to create transport", "error", err)
		os.Exit(1)
	}

	// Host pacing, shared between the pipeline and the login flow
	limiter := ratelimit.NewKeyed(cfg.Scraper.RequestSpacing)

	// CAPTCHA transparency around outbound calls
	resolver := captcha.NewResolver(cfg.Captcha.Dir, cfg.Captcha.PathSuffix, cfg.Captcha.MaxAttempts, cfg.Scraper.RequestSpacing, tr, log)

	// Per-store authenticated sessions
	sessions := session.NewStore(cfg.Session, tr, resolver, limiter, log)
	go sessions.StartSerializer(ctx)

	// Anti-bot cookie: the inline-script fast path runs over the raw
	// transport; a headless browser takes over when enabled.
	var fetcher antibot.PageFetcher = tr
	if cfg.Browser.Enabled {
		b, err := browser.New(&browser.Options{
			Headless:       cfg.Browser.Headless,
			Timeout:        cfg.Browser.Timeout,
			UserAgent:      cfg.Scraper.UserAgent,
			AcceptLanguage: cfg.Browser.AcceptLanguage,
			Locale:         cfg.Browser.Locale,
		})
		if err != nil {
			log.Error("failed to initialize browser", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		fetcher = b
	}
	provider := antibot.NewProvider(fetcher, log)

	pipe := pipeline.New(tr, sessions, limiter, resolver, provider, cfg.Scraper.RequestTimeout, log)

	// Scrapers
	directory := scraper.NewDirectory(pipe, cfg.Scraper.DirectoryURL, log)
	stores := scraper.NewStoreScraper(pipe, directory, log)
	departments := scraper.NewDepartmentScraper(pipe, stores, cfg.Scraper.ConcurrentLimit, log)
	products := scraper.NewProductScraper(pipe, stores, departments, log)
	departments.BindProducts(products)

	// Persistence
	storeRepo := database.NewStoreRepository(db)
	deptRepo := database.NewDepartmentRepository(db)
	productRepo := database.NewProductRepository(db)

	// Push channels
	publisher := events.NewPublisher(redisClient, cfg.Redis.Stream, log)
	var productNotifier poller.ProductNotifier
	if cfg.Telegram.Enabled {
		productNotifier = notifier.NewTelegram(cfg.Telegram, log)
	}

	// Change-detection pollers
	storeMonitor := poller.NewStoreMonitor(stores, storeRepo, publisher, cfg.Scraper.PollInterval, log)
	deptMonitor := poller.NewDepartmentMonitor(departments, deptRepo, publisher, cfg.Scraper.PollInterval, cfg.Scraper.ConcurrentLimit, log)
	productMonitor := poller.NewProductMonitor(products, productRepo, publisher, productNotifier, cfg.Scraper.PollInterval, cfg.Scraper.ConcurrentLimit, log)
	go storeMonitor.Start(ctx)
	go deptMonitor.Start(ctx)
	go productMonitor.Start(ctx)

	// API
	handlers := api.NewHandlers(stores, departments, products, storeRepo, deptRepo, productRepo, resolver, log)
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handlers.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}

		if err := sessions.SerializeAll(); err != nil {
			log.Warn("final session serialization failed", "error", err)
		}
	}()

	log.Info("monitor listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
