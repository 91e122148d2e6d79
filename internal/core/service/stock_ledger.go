package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/metrics"
	"github.com/rl1809/order-pipeline/internal/port"
)

// StageFunc builds the messages to write together with a decrement. It sees the
// product snapshot the attempt is based on and may run once per attempt.
type StageFunc func(product domain.Product, newStock int) ([]domain.Message, error)

// StockLedger decrements product stock under optimistic concurrency.
type StockLedger struct {
	products    port.ProductTable
	maxAttempts int
	log         zerolog.Logger
}

func NewStockLedger(products port.ProductTable, cfg config.LedgerConfig, log zerolog.Logger) *StockLedger {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &StockLedger{
		products:    products,
		maxAttempts: attempts,
		log:         log.With().Str("component", "stock_ledger").Logger(),
	}
}

// Decrement re-reads and re-checks on every conflict, so a lost race against a
// writer that drained the stock surfaces as insufficient stock rather than a conflict.
func (l *StockLedger) Decrement(ctx context.Context, productID string, quantity int, stage StageFunc) (domain.StockChange, error) {
	if quantity < 1 {
		return domain.StockChange{}, fmt.Errorf("%w: quantity must be at least 1, got %d", domain.ErrValidation, quantity)
	}

	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.StockChange{}, err
		}

		product, err := l.products.GetProduct(ctx, productID)
		if err != nil {
			return domain.StockChange{}, fmt.Errorf("read product %s: %w", productID, err)
		}
		if product.Stock < quantity {
			return domain.StockChange{}, &domain.InsufficientStockError{
				ProductID: productID,
				Available: product.Stock,
				Requested: quantity,
			}
		}

		newStock := product.Stock - quantity
		var staged []domain.Message
		if stage != nil {
			if staged, err = stage(*product, newStock); err != nil {
				return domain.StockChange{}, fmt.Errorf("stage messages: %w", err)
			}
		}

		err = l.products.ReplaceStock(ctx, productID, newStock, product.Version, staged)
		if err == nil {
			return domain.StockChange{
				ProductID:     product.ID,
				ProductName:   product.Name,
				UnitPrice:     product.UnitPrice,
				PreviousStock: product.Stock,
				NewStock:      newStock,
				Attempts:      attempt,
			}, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.StockChange{}, fmt.Errorf("replace stock for %s: %w", productID, err)
		}

		metrics.LedgerConflicts.Inc()
		l.log.Debug().Str("product_id", productID).Int("attempt", attempt).Int("version", product.Version).Msg("stock write lost a race, retrying")
		lastErr = err
	}

	return domain.StockChange{}, fmt.Errorf("decrement product %s after %d attempts: %w", productID, l.maxAttempts, lastErr)
}
