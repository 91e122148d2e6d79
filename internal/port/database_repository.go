package port

import (
	"context"
	"time"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

// Catalog resolves the references an order points at. Missing records yield domain.ErrNotFound.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
}

type ProductTable interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// ReplaceStock writes newStock only if the stored version still equals expectedVersion,
	// returning domain.ErrConflict otherwise. Staged messages are written in the same
	// transaction so they exist if and only if the decrement does.
	ReplaceStock(ctx context.Context, productID string, newStock, expectedVersion int, staged []domain.Message) error
}

type OrderTable interface {
	// InsertOrderIfAbsent reports false without error when the id already exists.
	InsertOrderIfAbsent(ctx context.Context, order domain.Order) (bool, error)

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// ReplaceOrder is a conditional replace on Version, like ReplaceStock.
	ReplaceOrder(ctx context.Context, order domain.Order, expectedVersion int) error

	DeleteOrder(ctx context.Context, orderID string) error

	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
}

type OutboxStore interface {
	PendingMessages(ctx context.Context, limit int) ([]domain.Message, error)
	MarkDispatched(ctx context.Context, seqs []int64, at time.Time) error
}

// TableStore is everything a storage backend provides.
type TableStore interface {
	Catalog
	ProductTable
	OrderTable
	OutboxStore
}
