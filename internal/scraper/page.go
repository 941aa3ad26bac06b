package scraper

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Shared page-chrome helpers for the versioned markup the site serves.

// isAuthenticated checks the page chrome for the logged-in marker.
func isAuthenticated(doc *goquery.Document) bool {
	return doc.Find("a[href*='SignOut']").Length() > 0
}

// cartCount reads the shopping-cart badge; 0 when absent or unparseable.
func cartCount(doc *goquery.Document) int {
	text := strings.TrimSpace(doc.Find(".cart-count, #lblCartCount").First().Text())
	if text == "" {
		return 0
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return n
}

// productLinks collects product anchor hrefs from a listing page.
func productLinks(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find(".product-item a[href*='Item']").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

// breadcrumbs returns the breadcrumb anchor texts in page order.
func breadcrumbs(doc *goquery.Document) []string {
	var trail []string
	doc.Find(".breadcrumb a").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			trail = append(trail, t)
		}
	})
	return trail
}
