package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeProduct(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "strips pagination and image index",
			input:    "https://example.cu/tienda1/Item?ProdPid=42&page=3&img=2",
			expected: "https://example.cu/tienda1/Item?ProdPid=42",
		},
		{
			name:     "keeps product id and department",
			input:    "https://example.cu/tienda1/Item?depPid=7&ProdPid=42",
			expected: "https://example.cu/tienda1/Item?ProdPid=42&depPid=7",
		},
		{
			name:     "drops fragment",
			input:    "https://example.cu/tienda1/Item?ProdPid=42#details",
			expected: "https://example.cu/tienda1/Item?ProdPid=42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalizeProduct(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got, CanonicalizeProduct(got), "must be idempotent")
		})
	}
}

func TestCanonicalizeDepartment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "rewrites item detail to its listing",
			input:    "https://example.cu/tienda1/Item?depPid=7&ProdPid=42",
			expected: "https://example.cu/tienda1/Products?depPid=7",
		},
		{
			name:     "strips pagination",
			input:    "https://example.cu/tienda1/Products?depPid=7&page=4",
			expected: "https://example.cu/tienda1/Products?depPid=7",
		},
		{
			name:     "search listing keeps keywords",
			input:    "https://example.cu/tienda1/Search.aspx?keywords=arroz&page=2",
			expected: "https://example.cu/tienda1/Search.aspx?keywords=arroz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalizeDepartment(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got, CanonicalizeDepartment(got), "must be idempotent")
		})
	}
}

func TestCanonicalizeStore(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "product page collapses to store root",
			input:    "https://example.cu/tienda1/Item?depPid=7&ProdPid=42",
			expected: "https://example.cu/tienda1/Products?depPid=0",
		},
		{
			name:     "store root is a fixed point",
			input:    "https://example.cu/tienda1/Products?depPid=0",
			expected: "https://example.cu/tienda1/Products?depPid=0",
		},
		{
			name:     "bare host stays as is",
			input:    "https://example.cu",
			expected: "https://example.cu",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalizeStore(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got, CanonicalizeStore(got), "must be idempotent")
		})
	}
}

func TestSearchURLs(t *testing.T) {
	assert.True(t, IsSearchURL("https://example.cu/tienda1/Search.aspx?keywords=arroz"))
	assert.True(t, IsSearchURL("https://example.cu/tienda1/Products?keywords=arroz"))
	assert.False(t, IsSearchURL("https://example.cu/tienda1/Products?depPid=7"))

	assert.Equal(t, "arroz", SearchKeywords("https://example.cu/tienda1/Search.aspx?keywords=arroz"))
	assert.Equal(t, "", SearchKeywords("https://example.cu/tienda1/Products?depPid=7"))
}

func TestWithQueryParam(t *testing.T) {
	got := withQueryParam("https://example.cu/tienda1/Products?depPid=7", "requestId", "abc")
	assert.Equal(t, "https://example.cu/tienda1/Products?depPid=7&requestId=abc", got)

	// Overwrites an existing value instead of duplicating the key.
	got = withQueryParam(got, "requestId", "def")
	assert.Equal(t, "https://example.cu/tienda1/Products?depPid=7&requestId=def", got)
}
