package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/maltedev/shop-monitor/internal/models"
	"github.com/maltedev/shop-monitor/internal/pipeline"
	"github.com/maltedev/shop-monitor/internal/session"
)

// currencyVariants are tried in order until a listing parses non-empty; the
// site renders an empty grid when the selected currency has no stock.
var currencyVariants = []string{"CUP", "USD"}

// DepartmentScraper turns a department listing into a Department entity,
// scraping the listed products along the way to count availability.
type DepartmentScraper struct {
	pipeline *pipeline.Pipeline
	stores   *StoreScraper
	products *ProductScraper
	cache    *Cache[*models.Department]
	fanOut   int
	logger   *slog.Logger
}

func NewDepartmentScraper(p *pipeline.Pipeline, stores *StoreScraper, fanOut int, logger *slog.Logger) *DepartmentScraper {
	if fanOut < 1 {
		fanOut = 1
	}
	return &DepartmentScraper{
		pipeline: p,
		stores:   stores,
		cache:    NewCache[*models.Department](10 * time.Second),
		fanOut:   fanOut,
		logger:   logger.With("component", "department_scraper"),
	}
}

// BindProducts wires the product scraper after construction; the two
// scrapers reference each other.
func (d *DepartmentScraper) BindProducts(products *ProductScraper) {
	d.products = products
}

// Get scrapes a department, including its product listing.
func (d *DepartmentScraper) Get(ctx context.Context, rawURL string, force bool, store *models.Store) (*models.Department, error) {
	return d.get(ctx, rawURL, force, store, true)
}

// GetShallow scrapes a department without fanning out into its products;
// used by the product scraper to resolve its parent context.
func (d *DepartmentScraper) GetShallow(ctx context.Context, rawURL string, force bool, store *models.Store) (*models.Department, error) {
	return d.get(ctx, rawURL, force, store, false)
}

func (d *DepartmentScraper) get(ctx context.Context, rawURL string, force bool, store *models.Store, withProducts bool) (*models.Department, error) {
	canonical := CanonicalizeDepartment(rawURL)
	cacheKey := canonical + cacheSuffix(store != nil, withProducts)

	if !force {
		if cached, ok := d.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	if store == nil {
		var err error
		store, err = d.stores.Get(ctx, canonical, force)
		if err != nil {
			return nil, err
		}
	}
	if store == nil || !store.IsAvailable {
		return nil, nil
	}

	dept, err := d.fetch(ctx, canonical, force, store, withProducts)
	if err != nil || dept == nil {
		return nil, err
	}

	if force {
		d.cache.Set(cacheKey, dept)
	} else {
		d.cache.Add(cacheKey, dept)
	}
	return dept, nil
}

func (d *DepartmentScraper) fetch(ctx context.Context, canonical string, force bool, store *models.Store, withProducts bool) (*models.Department, error) {
	variants := []string{canonical, withQueryParam(canonical, "page", "0")}

	for _, currency := range currencyVariants {
		d.selectCurrency(ctx, canonical, currency)

		for _, variant := range variants {
			fetchURL := variant
			if force {
				fetchURL = withQueryParam(variant, "requestId", uuid.NewString())
			}

			res, err := d.pipeline.Get(ctx, fetchURL)
			if err != nil {
				d.logger.Warn("department fetch failed", "url", variant, "error", err)
				continue
			}
			if res.Outcome == pipeline.SignInRedirect {
				d.pipeline.InvalidateSession(canonical)
				return nil, nil
			}
			if res.Outcome != pipeline.OK {
				continue
			}

			dept := d.parse(ctx, canonical, force, store, res, withProducts)
			if dept != nil {
				return dept, nil
			}
		}
	}

	return nil, nil
}

func (d *DepartmentScraper) parse(ctx context.Context, canonical string, force bool, store *models.Store, res *pipeline.Result, withProducts bool) *models.Department {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		d.logger.Warn("department parse failed", "url", canonical, "error", err)
		return nil
	}

	if !isAuthenticated(doc) {
		d.pipeline.InvalidateSession(canonical)
	}

	dept := models.NewDepartment(canonical)
	dept.Store = store.Name

	if IsSearchURL(canonical) {
		dept.Name = "Search"
		dept.Category = "Keywords: " + SearchKeywords(canonical)
	} else {
		trail := breadcrumbs(doc)
		if len(trail) >= 2 {
			dept.Name = trail[len(trail)-1]
			dept.Category = trail[len(trail)-2]
		}
	}

	if dept.Name == "" {
		// An unnamed listing never becomes an entity, same rule as stores.
		// The caller tries the next currency/page variant.
		return nil
	}
	links := productLinks(doc)

	if withProducts {
		dept.ProductsCount = d.scrapeProducts(ctx, force, store, dept, res, links)
	} else {
		dept.ProductsCount = len(links)
	}

	dept.IsAvailable = true
	dept.Sha256 = dept.Fingerprint()
	return dept
}

// scrapeProducts fans out over the listing's product links with bounded
// parallelism and counts the ones that resolve as available.
func (d *DepartmentScraper) scrapeProducts(ctx context.Context, force bool, store *models.Store, dept *models.Department, res *pipeline.Result, links []string) int {
	if d.products == nil {
		return len(links)
	}

	sem := make(chan struct{}, d.fanOut)
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0

	for _, href := range links {
		productURL := absoluteURL(res.FinalURL, href)

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			product, err := d.products.Get(ctx, productURL, force, store, dept, nil)
			if err != nil || product == nil || !product.IsAvailable {
				return
			}
			mu.Lock()
			count++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return count
}

// selectCurrency posts the currency dropdown to the store root so following
// listing fetches render in that currency. Failures are ignored; the
// variant loop simply sees the previous currency.
func (d *DepartmentScraper) selectCurrency(ctx context.Context, canonical, currency string) {
	root := CanonicalizeStore(canonical)
	form := url.Values{
		"ctl00$cboCurrency": {currency},
		"__EVENTTARGET":     {"ctl00$cboCurrency"},
	}
	if _, err := d.pipeline.PostForm(ctx, root, form); err != nil {
		d.logger.Debug("currency select failed", "store", session.Key(canonical), "currency", currency, "error", err)
	}
}

func cacheSuffix(withStore, withProducts bool) string {
	suffix := "|"
	if withStore {
		suffix += "s"
	}
	if withProducts {
		suffix += "p"
	}
	return suffix
}
