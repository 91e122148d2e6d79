package port

import (
	"context"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

// EventPublisher hands messages to the durable queue.
type EventPublisher interface {
	Publish(ctx context.Context, msgs ...domain.Message) error
}

// OrderReader is what the convergence poller needs to observe materialized orders.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}
