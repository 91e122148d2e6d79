package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/metrics"
	"github.com/rl1809/order-pipeline/internal/port"
)

// Materializer turns OrderCreated messages into the authoritative order record.
type Materializer struct {
	orders port.OrderTable
	log    zerolog.Logger
}

func NewMaterializer(orders port.OrderTable, log zerolog.Logger) *Materializer {
	return &Materializer{
		orders: orders,
		log:    log.With().Str("component", "materializer").Logger(),
	}
}

// Handle processes one order notification. Format errors are logged and swallowed so an
// unparseable payload is acknowledged; every other error is returned for redelivery.
func (m *Materializer) Handle(ctx context.Context, payload []byte) error {
	err := m.handle(ctx, payload)
	if errors.Is(err, domain.ErrMessageFormat) {
		metrics.Materialized.WithLabelValues("dropped").Inc()
		m.log.Warn().Err(err).Int("bytes", len(payload)).Msg("dropping malformed order notification")
		return nil
	}
	return err
}

func (m *Materializer) handle(ctx context.Context, payload []byte) error {
	msgType, err := domain.MessageType(payload)
	if err != nil {
		return err
	}

	switch msgType {
	case domain.TypeOrderCreated:
		var msg domain.OrderCreatedMessage
		if err := domain.DecodeMessage(payload, &msg); err != nil {
			return err
		}
		if err := msg.Validate(); err != nil {
			return err
		}
		return m.materialize(ctx, msg)
	case domain.TypeOrderStatusUpdated:
		var msg domain.OrderStatusUpdatedMessage
		if err := domain.DecodeMessage(payload, &msg); err != nil {
			return err
		}
		m.observeStatus(msg)
		return nil
	}
	return fmt.Errorf("%w: unexpected message type %q", domain.ErrMessageFormat, msgType)
}

func (m *Materializer) materialize(ctx context.Context, msg domain.OrderCreatedMessage) error {
	order := msg.Order()
	if msg.TotalMismatch() {
		m.log.Warn().Str("order_id", msg.OrderID).Float64("wire_total", msg.TotalAmount).
			Str("stored_total", order.TotalAmount.String()).Msg("order total recomputed from unit price")
	}
	created, err := m.orders.InsertOrderIfAbsent(ctx, order)
	if err != nil {
		metrics.Materialized.WithLabelValues("failed").Inc()
		return fmt.Errorf("materialize order %s: %w", msg.OrderID, err)
	}
	if !created {
		metrics.Materialized.WithLabelValues("duplicate").Inc()
		m.log.Info().Str("order_id", msg.OrderID).Msg("order already materialized, skipping redelivery")
		return nil
	}
	metrics.Materialized.WithLabelValues("created").Inc()
	m.log.Info().Str("order_id", msg.OrderID).Str("product_id", msg.ProductID).Int("quantity", msg.Quantity).Msg("order materialized")
	return nil
}

// observeStatus only reports. The status was already written by the path that emitted it.
func (m *Materializer) observeStatus(msg domain.OrderStatusUpdatedMessage) {
	metrics.Materialized.WithLabelValues("status_observed").Inc()
	m.log.Info().
		Str("order_id", msg.OrderID).
		Str("previous_status", msg.PreviousStatus).
		Str("new_status", msg.NewStatus).
		Str("updated_by", msg.UpdatedBy).
		Msg("order status updated")
}
