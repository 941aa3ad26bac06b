package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprints are computed over the observable field set only: timestamps,
// enabled/read flags and database IDs stay out so that re-serializing an
// unchanged entity always yields the same hash.

type storeObservable struct {
	URL               string `json:"url"`
	Name              string `json:"name"`
	Province          string `json:"province"`
	CategoriesCount   int    `json:"categoriesCount"`
	DepartmentsCount  int    `json:"departmentsCount"`
	IsAvailable       bool   `json:"isAvailable"`
	HasProductsInCart bool   `json:"hasProductsInCart"`
}

type departmentObservable struct {
	URL           string `json:"url"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	ProductsCount int    `json:"productsCount"`
	Store         string `json:"store"`
	IsAvailable   bool   `json:"isAvailable"`
}

type productObservable struct {
	URL         string  `json:"url"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Store       string  `json:"store"`
	Department  string  `json:"department"`
	IsAvailable bool    `json:"isAvailable"`
	IsInCart    bool    `json:"isInCart"`
}

func fingerprint(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the content hash over the store's observable fields.
func (s *Store) Fingerprint() string {
	return fingerprint(storeObservable{
		URL:               s.URL,
		Name:              s.Name,
		Province:          s.Province,
		CategoriesCount:   s.CategoriesCount,
		DepartmentsCount:  s.DepartmentsCount,
		IsAvailable:       s.IsAvailable,
		HasProductsInCart: s.HasProductsInCart,
	})
}

func (d *Department) Fingerprint() string {
	return fingerprint(departmentObservable{
		URL:           d.URL,
		Name:          d.Name,
		Category:      d.Category,
		ProductsCount: d.ProductsCount,
		Store:         d.Store,
		IsAvailable:   d.IsAvailable,
	})
}

func (p *Product) Fingerprint() string {
	return fingerprint(productObservable{
		URL:         p.URL,
		Name:        p.Name,
		Price:       p.Price,
		Currency:    p.Currency,
		Store:       p.Store,
		Department:  p.Department,
		IsAvailable: p.IsAvailable,
		IsInCart:    p.IsInCart,
	})
}
