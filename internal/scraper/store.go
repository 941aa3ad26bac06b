package scraper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/maltedev/shop-monitor/internal/models"
	"github.com/maltedev/shop-monitor/internal/pipeline"
	"github.com/maltedev/shop-monitor/internal/session"
)

// StoreScraper turns a store's canonical listing page into a Store entity.
// A nil entity means "temporarily unknown", never "store removed".
type StoreScraper struct {
	pipeline  *pipeline.Pipeline
	directory *Directory
	cache     *Cache[*models.Store]
	logger    *slog.Logger
}

func NewStoreScraper(p *pipeline.Pipeline, directory *Directory, logger *slog.Logger) *StoreScraper {
	return &StoreScraper{
		pipeline:  p,
		directory: directory,
		cache:     NewCache[*models.Store](30 * time.Minute),
		logger:    logger.With("component", "store_scraper"),
	}
}

func (s *StoreScraper) Get(ctx context.Context, rawURL string, force bool) (*models.Store, error) {
	canonical := CanonicalizeStore(rawURL)

	if !force {
		if cached, ok := s.cache.Get(canonical); ok {
			return cached, nil
		}
	}

	store, err := s.fetch(ctx, canonical, force)
	if err != nil || store == nil {
		return nil, err
	}

	if force {
		s.cache.Set(canonical, store)
	} else {
		s.cache.Add(canonical, store)
	}
	return store, nil
}

func (s *StoreScraper) fetch(ctx context.Context, canonical string, force bool) (*models.Store, error) {
	key := session.Key(canonical)
	info, hasInfo := s.directory.Lookup(ctx, key)

	fetchURL := canonical
	if force {
		fetchURL = withQueryParam(canonical, "requestId", uuid.NewString())
	}

	res, err := s.pipeline.Get(ctx, fetchURL)
	if err != nil {
		s.logger.Warn("store fetch failed", "url", canonical, "error", err)
		return nil, nil
	}

	switch res.Outcome {
	case pipeline.SignInRedirect:
		// Needs re-auth, not a closed store.
		s.pipeline.InvalidateSession(canonical)
		return nil, nil
	case pipeline.Blocked:
		return nil, nil
	case pipeline.StoreClosed:
		if !hasInfo {
			return nil, nil
		}
		store := models.NewStore(canonical)
		store.Name = info.Name
		store.Province = info.Province
		store.IsAvailable = false
		store.Sha256 = store.Fingerprint()
		return store, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		s.logger.Warn("store parse failed", "url", canonical, "error", err)
		return nil, nil
	}

	if !isAuthenticated(doc) {
		s.pipeline.InvalidateSession(canonical)
	}

	store := models.NewStore(canonical)
	store.Name = info.Name
	store.Province = info.Province
	if store.Name == "" {
		store.Name = strings.TrimSpace(doc.Find("#lblStoreName, .store-title").First().Text())
	}
	if store.Name == "" {
		// An unnamed store never becomes an entity.
		return nil, nil
	}

	store.CategoriesCount = doc.Find("#mainMenu > li").Length()
	store.DepartmentsCount = doc.Find("#mainMenu > li ul li").Length()
	store.HasProductsInCart = cartCount(doc) > 0
	store.IsAvailable = true
	store.Sha256 = store.Fingerprint()
	return store, nil
}
