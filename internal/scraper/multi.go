package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/shop-monitor/internal/models"
	"github.com/maltedev/shop-monitor/internal/pipeline"
)

// MultiScraper enumerates the entities behind a listing page as a finite,
// non-restartable sequence delivered over a bounded channel. Pagination
// stops at the first page that yields no unseen URL.
type MultiScraper struct {
	pipeline    *pipeline.Pipeline
	departments *DepartmentScraper
	products    *ProductScraper
	logger      *slog.Logger
}

func NewMultiScraper(p *pipeline.Pipeline, departments *DepartmentScraper, products *ProductScraper, logger *slog.Logger) *MultiScraper {
	return &MultiScraper{
		pipeline:    p,
		departments: departments,
		products:    products,
		logger:      logger.With("component", "multi_scraper"),
	}
}

// Products walks the listing's pages in order, yielding each newly seen
// product exactly once. The channel closes when pagination terminates or
// the context ends.
func (m *MultiScraper) Products(ctx context.Context, listingURL string, force bool) <-chan *models.Product {
	out := make(chan *models.Product, 8)

	go func() {
		defer close(out)

		seen := make(map[string]struct{})
		for page := 0; ; page++ {
			pageURL := withQueryParam(listingURL, "page", strconv.Itoa(page))

			links, final, ok := m.fetchLinks(ctx, pageURL)
			if !ok {
				return
			}

			unseen := 0
			for _, href := range links {
				canonical := CanonicalizeProduct(absoluteURL(final, href))
				if _, dup := seen[canonical]; dup {
					continue
				}
				seen[canonical] = struct{}{}
				unseen++

				product, err := m.products.Get(ctx, canonical, force, nil, nil, nil)
				if err != nil || product == nil {
					continue
				}
				select {
				case out <- product:
				case <-ctx.Done():
					return
				}
			}

			if unseen == 0 {
				return
			}
		}
	}()

	return out
}

// Departments walks a store's navigation menu, yielding each department
// once. Departments do not paginate; the menu is the full section list.
func (m *MultiScraper) Departments(ctx context.Context, storeURL string, force bool) <-chan *models.Department {
	out := make(chan *models.Department, 8)

	go func() {
		defer close(out)

		root := CanonicalizeStore(storeURL)
		res, err := m.pipeline.Get(ctx, root)
		if err != nil || res.Outcome != pipeline.OK {
			return
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
		if err != nil {
			return
		}

		seen := make(map[string]struct{})
		var links []string
		doc.Find("#mainMenu a[href*='depPid=']").Each(func(_ int, sel *goquery.Selection) {
			if href, ok := sel.Attr("href"); ok {
				links = append(links, href)
			}
		})

		for _, href := range links {
			canonical := CanonicalizeDepartment(absoluteURL(res.FinalURL, href))
			if _, dup := seen[canonical]; dup {
				continue
			}
			seen[canonical] = struct{}{}

			dept, err := m.departments.Get(ctx, canonical, force, nil)
			if err != nil || dept == nil {
				continue
			}
			select {
			case out <- dept:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (m *MultiScraper) fetchLinks(ctx context.Context, pageURL string) ([]string, *url.URL, bool) {
	res, err := m.pipeline.Get(ctx, pageURL)
	if err != nil {
		m.logger.Warn("listing fetch failed", "url", pageURL, "error", err)
		return nil, nil, false
	}
	if res.Outcome != pipeline.OK {
		return nil, nil, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		return nil, nil, false
	}
	return productLinks(doc), res.FinalURL, true
}
