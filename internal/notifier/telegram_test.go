package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/shop-monitor/internal/models"
)

func TestMessageText(t *testing.T) {
	tests := []struct {
		name    string
		product *models.Product
		status  string
	}{
		{
			name: "available product with price",
			product: &models.Product{
				Name:        "Aceite de girasol 1L",
				Store:       "Tienda 1",
				Department:  "Alimentos",
				URL:         "https://example.cu/tienda1/Item?ProdPid=42",
				IsAvailable: true,
				Price:       120.50,
				Currency:    "CUP",
			},
			status: "is available at 120.50 CUP",
		},
		{
			name: "unavailable product",
			product: &models.Product{
				Name:       "Pollo entero",
				Store:      "Tienda 1",
				Department: "Carnes",
				URL:        "https://example.cu/tienda1/Item?ProdPid=7",
			},
			status: "is unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := messageText(tt.product)
			assert.Contains(t, got, tt.product.Name)
			assert.Contains(t, got, tt.product.Store+" / "+tt.product.Department)
			assert.Contains(t, got, tt.product.URL)
			assert.Contains(t, got, tt.status)
			assert.NotContains(t, got, "\u2014")
		})
	}
}

func TestMessageTextInCart(t *testing.T) {
	p := &models.Product{
		Name:        "Detergente",
		IsAvailable: true,
		IsInCart:    true,
	}
	assert.Contains(t, messageText(p), "(in cart)")
}
