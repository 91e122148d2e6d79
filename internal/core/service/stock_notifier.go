package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/metrics"
)

// StockNotifier reports stock changes. It has no persisted effect and never asks for redelivery.
type StockNotifier struct {
	log zerolog.Logger
}

func NewStockNotifier(log zerolog.Logger) *StockNotifier {
	return &StockNotifier{log: log.With().Str("component", "stock_notifier").Logger()}
}

func (n *StockNotifier) Handle(_ context.Context, payload []byte) error {
	var msg domain.StockUpdatedMessage
	if err := domain.DecodeMessage(payload, &msg); err != nil {
		n.log.Warn().Err(err).Msg("ignoring malformed stock notification")
		return nil
	}
	if msg.Type != domain.TypeStockUpdated || msg.ProductID == "" {
		n.log.Warn().Str("type", msg.Type).Msg("ignoring unexpected stock notification")
		return nil
	}

	metrics.StockLevel.WithLabelValues(msg.ProductID).Set(float64(msg.NewStock))
	n.log.Info().
		Str("product_id", msg.ProductID).
		Str("product_name", msg.ProductName).
		Int("previous_stock", msg.PreviousStock).
		Int("new_stock", msg.NewStock).
		Str("updated_by", msg.UpdatedBy).
		Msg("stock updated")
	return nil
}
