package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/maltedev/shop-monitor/internal/models"
	"github.com/maltedev/shop-monitor/internal/pipeline"
)

// priceText is "<amount> <ISO-like currency code>", e.g. "249.50 CUP".
var pricePattern = regexp.MustCompile(`^([\d]+(?:[.,]\d+)?)\s+([A-Z]{3})$`)

// ProductScraper turns a product detail page into a Product entity. When the
// session is authenticated it additionally probes the shopping cart.
type ProductScraper struct {
	pipeline    *pipeline.Pipeline
	stores      *StoreScraper
	departments *DepartmentScraper
	cache       *Cache[*models.Product]
	logger      *slog.Logger
}

func NewProductScraper(p *pipeline.Pipeline, stores *StoreScraper, departments *DepartmentScraper, logger *slog.Logger) *ProductScraper {
	return &ProductScraper{
		pipeline:    p,
		stores:      stores,
		departments: departments,
		cache:       NewCache[*models.Product](10 * time.Second),
		logger:      logger.With("component", "product_scraper"),
	}
}

// Get scrapes one product. Context entities already resolved by the caller
// are passed in to avoid re-scraping; disabled products are never added to
// the cart.
func (p *ProductScraper) Get(ctx context.Context, rawURL string, force bool, store *models.Store, dept *models.Department, disabled map[string]struct{}) (*models.Product, error) {
	canonical := CanonicalizeProduct(rawURL)
	cacheKey := canonical + cacheSuffix(store != nil, dept != nil)

	if !force {
		if cached, ok := p.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	if store == nil {
		var err error
		store, err = p.stores.Get(ctx, canonical, force)
		if err != nil {
			return nil, err
		}
	}
	if store == nil || !store.IsAvailable {
		return nil, nil
	}

	if dept == nil {
		var err error
		dept, err = p.departments.GetShallow(ctx, canonical, force, store)
		if err != nil {
			return nil, err
		}
	}
	if dept == nil || !dept.IsAvailable {
		return nil, nil
	}

	product, err := p.fetch(ctx, canonical, force, store, dept, disabled)
	if err != nil || product == nil {
		return nil, err
	}

	if force {
		p.cache.Set(cacheKey, product)
	} else {
		p.cache.Add(cacheKey, product)
	}
	return product, nil
}

func (p *ProductScraper) fetch(ctx context.Context, canonical string, force bool, store *models.Store, dept *models.Department, disabled map[string]struct{}) (*models.Product, error) {
	fetchURL := canonical
	if force {
		fetchURL = withQueryParam(canonical, "requestId", uuid.NewString())
	}

	res, err := p.pipeline.Get(ctx, fetchURL)
	if err != nil {
		p.logger.Warn("product fetch failed", "url", canonical, "error", err)
		return nil, nil
	}

	switch res.Outcome {
	case pipeline.SignInRedirect:
		p.pipeline.InvalidateSession(canonical)
		return nil, nil
	case pipeline.StoreClosed, pipeline.Blocked:
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		p.logger.Warn("product parse failed", "url", canonical, "error", err)
		return nil, nil
	}

	authenticated := isAuthenticated(doc)
	if !authenticated {
		p.pipeline.InvalidateSession(canonical)
	}

	product := models.NewProduct(canonical)
	product.Store = store.Name
	product.Department = dept.Name

	if doc.Find(".product-missing, #lblMissingProduct").Length() > 0 {
		// Out-of-stock layout carries its own selector set.
		product.Name = strings.TrimSpace(doc.Find(".product-missing h4, .product-missing .product-title").First().Text())
		product.IsAvailable = false
	} else {
		product.Name = strings.TrimSpace(doc.Find(".product-details .product-title, h1.product-title").First().Text())
		product.IsAvailable = product.Name != ""

		priceText := strings.TrimSpace(doc.Find(".product-details .product-price, span.price").First().Text())
		if m := pricePattern.FindStringSubmatch(priceText); m != nil {
			amount, parseErr := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
			if parseErr == nil {
				product.Price = amount
				product.Currency = m[2]
			}
		}
	}

	if product.Name == "" {
		return nil, nil
	}

	if authenticated && product.IsAvailable {
		if _, isDisabled := disabled[canonical]; !isDisabled {
			product.IsInCart = p.addToCart(ctx, canonical, doc)
		}
	}

	product.Sha256 = product.Fingerprint()
	return product, nil
}

// addToCart posts the page's add-to-cart form and reports whether the cart
// badge on the response counts the product in.
func (p *ProductScraper) addToCart(ctx context.Context, productURL string, doc *goquery.Document) bool {
	form := url.Values{"__EVENTTARGET": {"ctl00$MainContainer$BtnAddCart"}}
	doc.Find("input[type='hidden']").Each(func(_ int, sel *goquery.Selection) {
		if name, ok := sel.Attr("name"); ok {
			form.Set(name, sel.AttrOr("value", ""))
		}
	})

	res, err := p.pipeline.PostForm(ctx, productURL, form)
	if err != nil || res.Outcome != pipeline.OK {
		return false
	}

	respDoc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		return false
	}
	return cartCount(respDoc) > 0
}
