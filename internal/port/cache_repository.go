package port

import (
	"context"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

type IdempotencyStore interface {
	// Reserve claims key for one request; returns false if it already exists
	Reserve(ctx context.Context, key string) (bool, error)

	// Lookup returns the stored summary, or nil while the first request is in flight
	Lookup(ctx context.Context, key string) (*domain.OrderSummary, error)

	Complete(ctx context.Context, key string, summary domain.OrderSummary) error

	// Release frees key after a failed request so the client can retry
	Release(ctx context.Context, key string) error
}

type PoisonArchive interface {
	Archive(ctx context.Context, entry domain.PoisonEntry) error
	Recent(ctx context.Context, limit int) ([]domain.PoisonEntry, error)
}
