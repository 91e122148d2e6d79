package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeOrderCreated       = "OrderCreated"
	TypeOrderStatusUpdated = "OrderStatusUpdated"
	TypeStockUpdated       = "StockUpdated"
)

// OrderCreatedMessage carries the full order snapshot computed at intake.
// It is the only source of truth for order creation.
type OrderCreatedMessage struct {
	Type         string    `json:"Type"`
	OrderID      string    `json:"OrderId"`
	CustomerID   string    `json:"CustomerId"`
	CustomerName string    `json:"CustomerName,omitempty"`
	ProductID    string    `json:"ProductId"`
	ProductName  string    `json:"ProductName"`
	Quantity     int       `json:"Quantity"`
	UnitPrice    float64   `json:"UnitPrice"`
	TotalAmount  float64   `json:"TotalAmount"`
	OrderDateUTC time.Time `json:"OrderDateUtc"`
	Status       string    `json:"Status"`
}

type OrderStatusUpdatedMessage struct {
	Type           string    `json:"Type"`
	OrderID        string    `json:"OrderId"`
	PreviousStatus string    `json:"PreviousStatus,omitempty"`
	NewStatus      string    `json:"NewStatus,omitempty"`
	UpdatedDateUTC time.Time `json:"UpdatedDateUtc"`
	UpdatedBy      string    `json:"UpdatedBy"`
}

type StockUpdatedMessage struct {
	Type           string    `json:"Type"`
	ProductID      string    `json:"ProductId"`
	ProductName    string    `json:"ProductName"`
	PreviousStock  int       `json:"PreviousStock"`
	NewStock       int       `json:"NewStock"`
	UpdatedDateUTC time.Time `json:"UpdatedDateUtc"`
	UpdatedBy      string    `json:"UpdatedBy"`
}

// NewOrderCreatedMessage snapshots an accepted order for the materializer.
func NewOrderCreatedMessage(s OrderSummary) OrderCreatedMessage {
	return OrderCreatedMessage{
		Type:         TypeOrderCreated,
		OrderID:      s.ID,
		CustomerID:   s.CustomerID,
		CustomerName: s.CustomerName,
		ProductID:    s.ProductID,
		ProductName:  s.ProductName,
		Quantity:     s.Quantity,
		UnitPrice:    s.UnitPrice.InexactFloat64(),
		TotalAmount:  s.TotalAmount.InexactFloat64(),
		OrderDateUTC: s.OrderDateUTC,
		Status:       string(s.Status),
	}
}

// Order converts the snapshot into the record the materializer stores. The total
// is recomputed from the unit price so it is exact regardless of the wire float.
func (m OrderCreatedMessage) Order() Order {
	status := OrderStatus(m.Status)
	if status == "" {
		status = OrderStatusSubmitted
	}
	unitPrice := decimal.NewFromFloat(m.UnitPrice)
	return Order{
		ID:           m.OrderID,
		CustomerID:   m.CustomerID,
		CustomerName: m.CustomerName,
		ProductID:    m.ProductID,
		ProductName:  m.ProductName,
		Quantity:     m.Quantity,
		UnitPrice:    unitPrice,
		TotalAmount:  TotalAmount(unitPrice, m.Quantity),
		OrderDateUTC: m.OrderDateUTC.UTC(),
		Status:       status,
		Version:      1,
		UpdatedAt:    m.OrderDateUTC.UTC(),
	}
}

// TotalMismatch reports whether the wire total disagrees with unit price times quantity.
func (m OrderCreatedMessage) TotalMismatch() bool {
	return !decimal.NewFromFloat(m.TotalAmount).Equal(TotalAmount(decimal.NewFromFloat(m.UnitPrice), m.Quantity))
}

// Validate rejects snapshots that can never become a valid order.
func (m OrderCreatedMessage) Validate() error {
	switch {
	case m.OrderID == "":
		return fmt.Errorf("%w: OrderId is empty", ErrMessageFormat)
	case m.ProductID == "":
		return fmt.Errorf("%w: ProductId is empty", ErrMessageFormat)
	case m.Quantity < 1:
		return fmt.Errorf("%w: Quantity %d < 1", ErrMessageFormat, m.Quantity)
	}
	return nil
}

type envelope struct {
	Type string `json:"Type"`
}

// MessageType peeks at the Type discriminator of a raw payload.
func MessageType(payload []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMessageFormat, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing Type", ErrMessageFormat)
	}
	return env.Type, nil
}

// DecodeMessage unmarshals payload into v, classifying failures as format errors.
func DecodeMessage(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMessageFormat, err)
	}
	return nil
}
