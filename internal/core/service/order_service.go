package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/metrics"
	"github.com/rl1809/order-pipeline/internal/port"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	intakeActor = "order-intake"
)

type CreateOrderRequest struct {
	CustomerID     string
	ProductID      string
	Quantity       int
	IdempotencyKey string
}

// matches reports whether s is the result of an identical request.
func (r CreateOrderRequest) matches(s domain.OrderSummary) bool {
	return r.CustomerID == s.CustomerID && r.ProductID == s.ProductID && r.Quantity == s.Quantity
}

// Dependencies are the collaborators of OrderService. Idempotency may be nil.
type Dependencies struct {
	Catalog     port.Catalog
	Products    port.ProductTable
	Orders      port.OrderTable
	Publisher   port.EventPublisher
	Idempotency port.IdempotencyStore
}

// OrderService accepts orders and owns the synchronous order paths.
// Creation never writes an order: it decrements stock and emits the
// OrderCreated message that the materializer turns into the record.
type OrderService struct {
	catalog     port.Catalog
	ledger      *StockLedger
	orders      port.OrderTable
	publisher   port.EventPublisher
	idempotency port.IdempotencyStore

	queues      config.QueueConfig
	useOutbox   bool
	maxAttempts int
	log         zerolog.Logger

	now   func() time.Time
	newID func() string
}

func NewOrderService(cfg config.Config, deps Dependencies, log zerolog.Logger) *OrderService {
	return &OrderService{
		catalog:     deps.Catalog,
		ledger:      NewStockLedger(deps.Products, cfg.Ledger, log),
		orders:      deps.Orders,
		publisher:   deps.Publisher,
		idempotency: deps.Idempotency,
		queues:      cfg.Queue,
		useOutbox:   cfg.Outbox.Enabled,
		maxAttempts: max(cfg.Ledger.MaxAttempts, 1),
		log:         log.With().Str("component", "order_service").Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Create accepts an order. The returned summary is not yet durable; its id is the
// id the materializer will store.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (domain.OrderSummary, error) {
	if req.IdempotencyKey == "" || s.idempotency == nil {
		return s.create(ctx, req)
	}

	key := "idempotency:" + req.IdempotencyKey
	ok, err := s.idempotency.Reserve(ctx, key)
	if err != nil {
		return domain.OrderSummary{}, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		previous, err := s.idempotency.Lookup(ctx, key)
		if err != nil {
			return domain.OrderSummary{}, fmt.Errorf("idempotency lookup failed: %w", err)
		}
		if previous == nil {
			return domain.OrderSummary{}, domain.ErrDuplicateRequest
		}
		if !req.matches(*previous) {
			return domain.OrderSummary{}, fmt.Errorf("%w: idempotency key %q was used for a different order", domain.ErrValidation, req.IdempotencyKey)
		}
		s.log.Info().Str("order_id", previous.ID).Str("idempotency_key", req.IdempotencyKey).Msg("replaying accepted order")
		return *previous, nil
	}

	summary, err := s.create(ctx, req)
	if err != nil {
		if rerr := s.idempotency.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.log.Warn().Err(rerr).Str("idempotency_key", req.IdempotencyKey).Msg("failed to release idempotency key")
		}
		return domain.OrderSummary{}, err
	}
	if cerr := s.idempotency.Complete(context.WithoutCancel(ctx), key, summary); cerr != nil {
		s.log.Warn().Err(cerr).Str("order_id", summary.ID).Msg("failed to record idempotent result")
	}
	return summary, nil
}

func (s *OrderService) create(ctx context.Context, req CreateOrderRequest) (domain.OrderSummary, error) {
	if req.Quantity < 1 {
		return s.reject("validation", fmt.Errorf("%w: quantity must be at least 1, got %d", domain.ErrValidation, req.Quantity))
	}

	customer, err := s.catalog.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return s.reject("reference", invalidReference("customer", req.CustomerID, err))
	}
	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return s.reject("reference", invalidReference("product", req.ProductID, err))
	}
	if product.Stock < req.Quantity {
		return s.reject("insufficient_stock", &domain.InsufficientStockError{
			ProductID: product.ID,
			Available: product.Stock,
			Requested: req.Quantity,
		})
	}

	orderID := s.newID()
	now := s.now().UTC()

	var (
		summary domain.OrderSummary
		staged  []domain.Message
	)
	build := func(p domain.Product, newStock int) ([]domain.Message, error) {
		summary = domain.OrderSummary{
			ID:           orderID,
			CustomerID:   customer.ID,
			CustomerName: customer.FullName(),
			ProductID:    p.ID,
			ProductName:  p.Name,
			Quantity:     req.Quantity,
			UnitPrice:    p.UnitPrice,
			TotalAmount:  domain.TotalAmount(p.UnitPrice, req.Quantity),
			OrderDateUTC: now,
			Status:       domain.OrderStatusSubmitted,
		}
		msgs, err := s.intakeMessages(summary, p, newStock, now)
		if err != nil {
			return nil, err
		}
		staged = msgs
		if !s.useOutbox {
			return nil, nil
		}
		return msgs, nil
	}

	change, err := s.ledger.Decrement(ctx, req.ProductID, req.Quantity, build)
	if err != nil {
		return s.reject(rejectReason(err), err)
	}

	if !s.useOutbox {
		if err := s.publisher.Publish(ctx, staged...); err != nil {
			metrics.EnqueueGap.Inc()
			s.log.Error().Err(err).
				Str("order_id", orderID).
				Str("product_id", change.ProductID).
				Int("quantity", req.Quantity).
				Msg("stock decremented but order messages were not enqueued")
			return domain.OrderSummary{}, domain.Transient(fmt.Errorf("enqueue order %s: %w", orderID, err))
		}
	}

	metrics.OrdersAccepted.Inc()
	s.log.Info().
		Str("order_id", orderID).
		Str("product_id", change.ProductID).
		Int("previous_stock", change.PreviousStock).
		Int("new_stock", change.NewStock).
		Int("attempts", change.Attempts).
		Msg("order accepted")
	return summary, nil
}

func (s *OrderService) intakeMessages(summary domain.OrderSummary, p domain.Product, newStock int, now time.Time) ([]domain.Message, error) {
	created, err := json.Marshal(domain.NewOrderCreatedMessage(summary))
	if err != nil {
		return nil, fmt.Errorf("marshal OrderCreated: %w", err)
	}
	stock, err := json.Marshal(domain.StockUpdatedMessage{
		Type:           domain.TypeStockUpdated,
		ProductID:      p.ID,
		ProductName:    p.Name,
		PreviousStock:  p.Stock,
		NewStock:       newStock,
		UpdatedDateUTC: now,
		UpdatedBy:      intakeActor,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal StockUpdated: %w", err)
	}

	return []domain.Message{
		{
			MessageID: uuid.NewString(),
			Topic:     s.queues.OrderNotifications,
			Key:       summary.ID,
			Type:      domain.TypeOrderCreated,
			Payload:   created,
			CreatedAt: now,
		},
		{
			MessageID: uuid.NewString(),
			Topic:     s.queues.StockNotifications,
			Key:       p.ID,
			Type:      domain.TypeStockUpdated,
			Payload:   stock,
			CreatedAt: now,
		},
	}, nil
}

// Get reads the materialized order.
func (s *OrderService) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *OrderService) List(ctx context.Context, limit int) ([]domain.Order, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return s.orders.ListOrders(ctx, limit)
}

// Delete is idempotent: deleting a missing order succeeds.
func (s *OrderService) Delete(ctx context.Context, orderID string) error {
	if err := s.orders.DeleteOrder(ctx, orderID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.log.Info().Str("order_id", orderID).Msg("order deleted")
	return nil
}

// UpdateStatus is the authoritative status change. The OrderStatusUpdated message it
// emits afterwards is for observers only and is never applied back to the record.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, status, updatedBy string) (*domain.Order, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, fmt.Errorf("%w: status is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(status) > domain.MaxStatusLength {
		return nil, fmt.Errorf("%w: status longer than %d characters", domain.ErrValidation, domain.MaxStatusLength)
	}
	if updatedBy == "" {
		updatedBy = "api"
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}

		updated := *current
		updated.Status = domain.OrderStatus(status)
		updated.Version = current.Version + 1
		updated.UpdatedAt = s.now().UTC()

		err = s.orders.ReplaceOrder(ctx, updated, current.Version)
		if err == nil {
			s.notifyStatus(ctx, current.Status, updated, updatedBy)
			return &updated, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("replace order %s: %w", orderID, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("update status of order %s after %d attempts: %w", orderID, s.maxAttempts, lastErr)
}

func (s *OrderService) notifyStatus(ctx context.Context, previous domain.OrderStatus, o domain.Order, updatedBy string) {
	payload, err := json.Marshal(domain.OrderStatusUpdatedMessage{
		Type:           domain.TypeOrderStatusUpdated,
		OrderID:        o.ID,
		PreviousStatus: string(previous),
		NewStatus:      string(o.Status),
		UpdatedDateUTC: o.UpdatedAt,
		UpdatedBy:      updatedBy,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, domain.Message{
			MessageID: uuid.NewString(),
			Topic:     s.queues.OrderNotifications,
			Key:       o.ID,
			Type:      domain.TypeOrderStatusUpdated,
			Payload:   payload,
			CreatedAt: o.UpdatedAt,
		})
	}
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", o.ID).Msg("status notification not published")
	}
}

func (s *OrderService) reject(reason string, err error) (domain.OrderSummary, error) {
	metrics.OrdersRejected.WithLabelValues(reason).Inc()
	s.log.Info().Err(err).Str("reason", reason).Msg("order rejected")
	return domain.OrderSummary{}, err
}

func invalidReference(kind, id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: unknown %s %q: %w", domain.ErrValidation, kind, id, err)
	}
	return fmt.Errorf("resolve %s %s: %w", kind, id, err)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
		return "reference"
	}
	return "error"
}
