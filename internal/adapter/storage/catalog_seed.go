package storage

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

// DefaultCatalog is the demo catalog loaded when SEED_CATALOG is set.
func DefaultCatalog() ([]domain.Product, []domain.Customer) {
	products := []domain.Product{
		{ID: "prod-001", Name: "Wireless Noise-Cancelling Headphones", UnitPrice: decimal.RequireFromString("349.99"), Stock: 50},
		{ID: "prod-002", Name: "Mechanical Keyboard", UnitPrice: decimal.RequireFromString("179.99"), Stock: 120},
		{ID: "prod-003", Name: "Ultrawide Curved Monitor 34\"", UnitPrice: decimal.RequireFromString("699.99"), Stock: 30},
		{ID: "prod-004", Name: "Ergonomic Office Chair", UnitPrice: decimal.RequireFromString("549.99"), Stock: 25},
		{ID: "prod-005", Name: "Smart LED Desk Lamp", UnitPrice: decimal.RequireFromString("89.99"), Stock: 200},
		{ID: "prod-006", Name: "Flash Sale Phone", UnitPrice: decimal.RequireFromString("999.00"), Stock: 1},
	}
	customers := []domain.Customer{
		{ID: "cust-001", Name: "Ada", Surname: "Lovelace"},
		{ID: "cust-002", Name: "Alan", Surname: "Turing"},
		{ID: "cust-003", Name: "Grace", Surname: "Hopper"},
	}
	return products, customers
}
