package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestIsAuthenticated(t *testing.T) {
	authed := parseHTML(t, `<nav><a href="/tienda1/SignOut.aspx">Salir</a></nav>`)
	assert.True(t, isAuthenticated(authed))

	guest := parseHTML(t, `<nav><a href="/SignIn.aspx">Entrar</a></nav>`)
	assert.False(t, isAuthenticated(guest))
}

func TestCartCount(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected int
	}{
		{name: "badge class", html: `<span class="cart-count">3</span>`, expected: 3},
		{name: "label id", html: `<span id="lblCartCount">1</span>`, expected: 1},
		{name: "missing badge", html: `<div>no cart here</div>`, expected: 0},
		{name: "unparseable badge", html: `<span class="cart-count">-</span>`, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cartCount(parseHTML(t, tt.html)))
		})
	}
}

func TestProductLinks(t *testing.T) {
	doc := parseHTML(t, `
		<div class="product-item"><a href="/tienda1/Item?ProdPid=1">Uno</a></div>
		<div class="product-item"><a href="/tienda1/Item?ProdPid=2">Dos</a></div>
		<div class="product-item"><a href="/tienda1/Products?depPid=7">Listing link</a></div>`)

	assert.Equal(t, []string{"/tienda1/Item?ProdPid=1", "/tienda1/Item?ProdPid=2"}, productLinks(doc))
}

func TestBreadcrumbs(t *testing.T) {
	doc := parseHTML(t, `
		<div class="breadcrumb">
			<a href="/tienda1">Tienda 1</a>
			<a href="/tienda1/Products?depPid=2">Alimentos</a>
			<a href="/tienda1/Products?depPid=7">Arroz</a>
		</div>`)

	assert.Equal(t, []string{"Tienda 1", "Alimentos", "Arroz"}, breadcrumbs(doc))
}

func TestPricePattern(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		amount   string
		currency string
		matches  bool
	}{
		{name: "dot decimal", text: "249.50 CUP", amount: "249.50", currency: "CUP", matches: true},
		{name: "comma decimal", text: "12,75 USD", amount: "12,75", currency: "USD", matches: true},
		{name: "integer amount", text: "150 CUP", amount: "150", currency: "CUP", matches: true},
		{name: "no currency", text: "249.50", matches: false},
		{name: "prose around price", text: "Precio: 249.50 CUP hoy", matches: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := pricePattern.FindStringSubmatch(tt.text)
			if !tt.matches {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.amount, m[1])
			assert.Equal(t, tt.currency, m[2])
		})
	}
}
