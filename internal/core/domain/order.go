package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is an open vocabulary; the constants below are the well-known values.
type OrderStatus string

const (
	OrderStatusSubmitted  OrderStatus = "Submitted"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// MaxStatusLength is the longest status, in characters, a table store must hold.
const MaxStatusLength = 32

// Order is the authoritative record written by the materializer.
type Order struct {
	ID           string
	CustomerID   string
	CustomerName string
	ProductID    string
	ProductName  string
	Quantity     int
	UnitPrice    decimal.Decimal
	TotalAmount  decimal.Decimal
	OrderDateUTC time.Time
	Status       OrderStatus
	Version      int
	UpdatedAt    time.Time
}

// OrderSummary is returned by intake before the order is durable.
type OrderSummary struct {
	ID           string
	CustomerID   string
	CustomerName string
	ProductID    string
	ProductName  string
	Quantity     int
	UnitPrice    decimal.Decimal
	TotalAmount  decimal.Decimal
	OrderDateUTC time.Time
	Status       OrderStatus
}

// TotalAmount multiplies without going through floating point.
func TotalAmount(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// Summary returns the caller-facing view of a stored order.
func (o Order) Summary() OrderSummary {
	return OrderSummary{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		CustomerName: o.CustomerName,
		ProductID:    o.ProductID,
		ProductName:  o.ProductName,
		Quantity:     o.Quantity,
		UnitPrice:    o.UnitPrice,
		TotalAmount:  o.TotalAmount,
		OrderDateUTC: o.OrderDateUTC,
		Status:       o.Status,
	}
}
