package scraper

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/shop-monitor/internal/pipeline"
	"github.com/maltedev/shop-monitor/internal/session"
)

// StoreInfo is the official metadata for one store from the site's
// directory listing.
type StoreInfo struct {
	Name     string
	Province string
}

// Directory resolves store names and provinces from the site's official
// store listing, refreshed lazily once the cached copy ages out.
type Directory struct {
	pipeline *pipeline.Pipeline
	url      string
	ttl      time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	fetched time.Time
	entries map[string]StoreInfo
}

func NewDirectory(p *pipeline.Pipeline, directoryURL string, logger *slog.Logger) *Directory {
	return &Directory{
		pipeline: p,
		url:      directoryURL,
		ttl:      time.Hour,
		logger:   logger.With("component", "directory"),
		entries:  make(map[string]StoreInfo),
	}
}

// Lookup returns the official metadata for a store key, refreshing the
// directory first if the cached listing is stale. A failed refresh keeps
// serving the previous listing.
func (d *Directory) Lookup(ctx context.Context, storeKey string) (StoreInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.fetched) > d.ttl {
		if err := d.refresh(ctx); err != nil {
			d.logger.Warn("store directory refresh failed", "error", err)
		}
	}

	info, ok := d.entries[storeKey]
	return info, ok
}

func (d *Directory) refresh(ctx context.Context) error {
	if d.url == "" {
		return nil
	}
	res, err := d.pipeline.Get(ctx, d.url)
	if err != nil {
		return err
	}
	if res.Outcome != pipeline.OK {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		return err
	}

	entries := make(map[string]StoreInfo)
	doc.Find(".store-item").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Find("a").First().Attr("href")
		if !ok {
			return
		}
		key := session.Key(absoluteURL(res.FinalURL, href))
		name := strings.TrimSpace(sel.Find(".store-name").Text())
		if name == "" {
			name = strings.TrimSpace(sel.Find("a").First().Text())
		}
		if key == "" || name == "" {
			return
		}
		entries[key] = StoreInfo{
			Name:     name,
			Province: strings.TrimSpace(sel.Find(".store-province").Text()),
		}
	})

	if len(entries) > 0 {
		d.entries = entries
		d.fetched = time.Now()
	}
	return nil
}
