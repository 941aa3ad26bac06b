package models

import (
	"time"
)

// EntityKind discriminates the three monitored entity types in change
// events and API routes.
type EntityKind string

const (
	KindStore      EntityKind = "stores"
	KindDepartment EntityKind = "departments"
	KindProduct    EntityKind = "products"
)

// Store is one storefront, identified by its canonical listing URL.
type Store struct {
	ID                int64     `json:"id"`
	URL               string    `json:"url"`
	Name              string    `json:"name"`
	Province          string    `json:"province"`
	CategoriesCount   int       `json:"categoriesCount"`
	DepartmentsCount  int       `json:"departmentsCount"`
	IsAvailable       bool      `json:"isAvailable"`
	HasProductsInCart bool      `json:"hasProductsInCart"`
	IsEnabled         bool      `json:"isEnabled"`
	Sha256            string    `json:"sha256"`
	Added             time.Time `json:"added"`
	Updated           time.Time `json:"updated"`
	Read              time.Time `json:"read"`
}

// Department is one section of a store. The store relation is denormalized
// by name, not a foreign key.
type Department struct {
	ID            int64     `json:"id"`
	URL           string    `json:"url"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	ProductsCount int       `json:"productsCount"`
	Store         string    `json:"store"`
	IsAvailable   bool      `json:"isAvailable"`
	IsEnabled     bool      `json:"isEnabled"`
	Sha256        string    `json:"sha256"`
	Added         time.Time `json:"added"`
	Updated       time.Time `json:"updated"`
	Read          time.Time `json:"read"`
}

// Product is one purchasable item, identified by its canonical product URL
// (pagination and image-index query parameters stripped).
type Product struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Store       string    `json:"store"`
	Department  string    `json:"department"`
	IsAvailable bool      `json:"isAvailable"`
	IsInCart    bool      `json:"isInCart"`
	IsEnabled   bool      `json:"isEnabled"`
	Sha256      string    `json:"sha256"`
	Added       time.Time `json:"added"`
	Updated     time.Time `json:"updated"`
	Read        time.Time `json:"read"`
}

func NewStore(url string) *Store {
	now := time.Now()
	return &Store{URL: url, IsEnabled: true, Added: now, Updated: now, Read: now}
}

func NewDepartment(url string) *Department {
	now := time.Now()
	return &Department{URL: url, IsEnabled: true, Added: now, Updated: now, Read: now}
}

func NewProduct(url string) *Product {
	now := time.Now()
	return &Product{URL: url, IsEnabled: true, Added: now, Updated: now, Read: now}
}
