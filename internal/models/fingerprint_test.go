package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleProduct() *Product {
	p := NewProduct("https://example.cu/tienda1/Item?ProdPid=42")
	p.Name = "Arroz 1kg"
	p.Price = 150.0
	p.Currency = "CUP"
	p.Store = "Tienda 1"
	p.Department = "Alimentos"
	p.IsAvailable = true
	return p
}

func TestFingerprintStable(t *testing.T) {
	p := sampleProduct()
	assert.Equal(t, p.Fingerprint(), p.Fingerprint())

	clone := *p
	assert.Equal(t, p.Fingerprint(), clone.Fingerprint())
}

func TestFingerprintIgnoresBookkeepingFields(t *testing.T) {
	p := sampleProduct()
	before := p.Fingerprint()

	p.ID = 99
	p.IsEnabled = false
	p.Added = time.Now().Add(-time.Hour)
	p.Updated = time.Now().Add(time.Hour)
	p.Read = time.Now().Add(2 * time.Hour)
	p.Sha256 = "stale"

	assert.Equal(t, before, p.Fingerprint())
}

func TestFingerprintChangesWithObservableFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Product)
	}{
		{name: "price", mutate: func(p *Product) { p.Price = 175.0 }},
		{name: "currency", mutate: func(p *Product) { p.Currency = "USD" }},
		{name: "availability", mutate: func(p *Product) { p.IsAvailable = false }},
		{name: "cart state", mutate: func(p *Product) { p.IsInCart = true }},
		{name: "name", mutate: func(p *Product) { p.Name = "Arroz 5kg" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleProduct()
			before := p.Fingerprint()
			tt.mutate(p)
			assert.NotEqual(t, before, p.Fingerprint())
		})
	}
}

func TestStoreFingerprintCoversCounts(t *testing.T) {
	s := NewStore("https://example.cu/tienda1/Products?depPid=0")
	s.Name = "Tienda 1"
	s.Province = "La Habana"
	s.CategoriesCount = 5
	s.DepartmentsCount = 23
	s.IsAvailable = true

	before := s.Fingerprint()
	s.DepartmentsCount = 24
	assert.NotEqual(t, before, s.Fingerprint())
}

func TestDepartmentFingerprintIgnoresProductIdentityFields(t *testing.T) {
	d := NewDepartment("https://example.cu/tienda1/Products?depPid=7")
	d.Name = "Alimentos"
	d.Category = "Comida"
	d.ProductsCount = 12
	d.Store = "Tienda 1"
	d.IsAvailable = true

	before := d.Fingerprint()
	d.ID = 7
	d.Read = time.Now()
	assert.Equal(t, before, d.Fingerprint())

	d.ProductsCount = 11
	assert.NotEqual(t, before, d.Fingerprint())
}
