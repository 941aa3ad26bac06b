package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/shop-monitor/internal/antibot"
	"github.com/maltedev/shop-monitor/internal/captcha"
	"github.com/maltedev/shop-monitor/internal/config"
	"github.com/maltedev/shop-monitor/internal/pipeline"
	"github.com/maltedev/shop-monitor/internal/ratelimit"
	"github.com/maltedev/shop-monitor/internal/scraper"
	"github.com/maltedev/shop-monitor/internal/session"
	"github.com/maltedev/shop-monitor/internal/transport"
	"github.com/maltedev/shop-monitor/pkg/logger"
)

// One-shot scrape of a single URL, result printed as JSON. Useful for
// checking selectors and session state without the daemon.
func main() {
	var (
		rawURL = flag.String("url", "", "page URL to scrape")
		kind   = flag.String("kind", "auto", "store, department, product, listing, departments or auto")
		force  = flag.Bool("force", false, "bypass the scrape cache")
	)
	flag.Parse()

	if *rawURL == "" {
		fmt.Fprintln(os.Stderr, "usage: scrape -url <page-url> [-kind store|department|product|listing|departments] [-force]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, "text")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr, err := transport.New(transport.Options{
		TimeoutSeconds: int(cfg.Scraper.RequestTimeout.Seconds()),
		UserAgent:      cfg.Scraper.UserAgent,
		Proxy:          cfg.Scraper.Proxy,
	})
	if err != nil {
		log.Error("failed to create transport", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewKeyed(cfg.Scraper.RequestSpacing)
	resolver := captcha.NewResolver(cfg.Captcha.Dir, cfg.Captcha.PathSuffix, cfg.Captcha.MaxAttempts, cfg.Scraper.RequestSpacing, tr, log)
	sessions := session.NewStore(cfg.Session, tr, resolver, limiter, log)
	provider := antibot.NewProvider(tr, log)
	pipe := pipeline.New(tr, sessions, limiter, resolver, provider, cfg.Scraper.RequestTimeout, log)

	directory := scraper.NewDirectory(pipe, cfg.Scraper.DirectoryURL, log)
	stores := scraper.NewStoreScraper(pipe, directory, log)
	departments := scraper.NewDepartmentScraper(pipe, stores, cfg.Scraper.ConcurrentLimit, log)
	products := scraper.NewProductScraper(pipe, stores, departments, log)
	departments.BindProducts(products)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	// Walk kinds stream one JSON document per discovered entity.
	multi := scraper.NewMultiScraper(pipe, departments, products, log)
	switch resolveKind(*kind, *rawURL) {
	case "listing":
		for product := range multi.Products(ctx, *rawURL, *force) {
			if err := enc.Encode(product); err != nil {
				log.Error("failed to encode result", "error", err)
				os.Exit(1)
			}
		}
	case "departments":
		for dept := range multi.Departments(ctx, *rawURL, *force) {
			if err := enc.Encode(dept); err != nil {
				log.Error("failed to encode result", "error", err)
				os.Exit(1)
			}
		}
	default:
		var entity interface{}
		switch resolveKind(*kind, *rawURL) {
		case "store":
			entity, err = stores.Get(ctx, *rawURL, *force)
		case "department":
			entity, err = departments.Get(ctx, *rawURL, *force, nil)
		case "product":
			entity, err = products.Get(ctx, *rawURL, *force, nil, nil, nil)
		default:
			fmt.Fprintln(os.Stderr, "unknown kind:", *kind)
			os.Exit(2)
		}
		if err != nil {
			log.Error("scrape failed", "url", *rawURL, "error", err)
			os.Exit(1)
		}
		if entity == nil {
			log.Warn("page yielded no entity", "url", *rawURL)
			os.Exit(1)
		}
		if err := enc.Encode(entity); err != nil {
			log.Error("failed to encode result", "error", err)
			os.Exit(1)
		}
	}

	if err := sessions.SerializeAll(); err != nil {
		log.Warn("session serialization failed", "error", err)
	}
}

func resolveKind(kind, rawURL string) string {
	if kind != "auto" && kind != "" {
		return kind
	}
	switch {
	case strings.Contains(rawURL, "/Item"):
		return "product"
	case strings.Contains(rawURL, "depPid="), strings.Contains(rawURL, "/Products"), scraper.IsSearchURL(rawURL):
		return "department"
	default:
		return "store"
	}
}
