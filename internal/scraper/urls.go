package scraper

import (
	"net/url"
	"strings"

	"github.com/maltedev/shop-monitor/internal/session"
)

// Canonical URLs are the identity keys for entities and caches. All three
// canonicalizers are idempotent: applying one to its own output is a no-op.

// CanonicalizeProduct strips the pagination and image-index query
// parameters and the fragment from a product detail URL. The /Item path
// and product id pass through untouched.
func CanonicalizeProduct(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	q.Del("page")
	q.Del("img")
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// CanonicalizeDepartment additionally strips the product id and rewrites an
// /Item detail path to the /Products listing it belongs to.
func CanonicalizeDepartment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	q.Del("page")
	q.Del("img")
	q.Del("ProdPid")
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.Path = strings.Replace(u.Path, "/Item", "/Products", 1)
	return u.String()
}

// CanonicalizeStore rewrites any URL inside a store to the store's canonical
// listing root, /<store>/Products?depPid=0.
func CanonicalizeStore(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	key := session.Key(raw)
	if key == "" || key == u.Hostname() {
		return raw
	}

	u.Path = "/" + key + "/Products"
	u.RawQuery = "depPid=0"
	u.Fragment = ""
	return u.String()
}

// IsSearchURL reports whether a department URL is really a search-result
// listing, which has no breadcrumb trail to name it by.
func IsSearchURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, "/Search.aspx") || u.Query().Get("keywords") != ""
}

// SearchKeywords extracts the query text of a search-result URL.
func SearchKeywords(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("keywords")
}

func withQueryParam(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// absoluteURL resolves an anchor href against the page it appeared on.
func absoluteURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
