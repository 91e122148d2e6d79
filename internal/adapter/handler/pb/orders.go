// Package pb holds the orders.v1 wire types and service descriptor. Messages
// travel as JSON over gRPC using the codec registered in this package.
package pb

import "time"

type CreateOrderRequest struct {
	CustomerId     string `json:"customer_id"`
	ProductId      string `json:"product_id"`
	Quantity       int32  `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// SkipWait returns as soon as the order is accepted.
	SkipWait bool `json:"skip_wait,omitempty"`
	// PollAttempts overrides the server's convergence policy when positive.
	PollAttempts int32 `json:"poll_attempts,omitempty"`
	PollDelayMs  int32 `json:"poll_delay_ms,omitempty"`
}

func (x *CreateOrderRequest) GetCustomerId() string {
	if x == nil {
		return ""
	}
	return x.CustomerId
}

func (x *CreateOrderRequest) GetProductId() string {
	if x == nil {
		return ""
	}
	return x.ProductId
}

func (x *CreateOrderRequest) GetQuantity() int32 {
	if x == nil {
		return 0
	}
	return x.Quantity
}

type Order struct {
	OrderId      string    `json:"order_id"`
	CustomerId   string    `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	ProductId    string    `json:"product_id"`
	ProductName  string    `json:"product_name"`
	Quantity     int32     `json:"quantity"`
	UnitPrice    string    `json:"unit_price"`
	TotalAmount  string    `json:"total_amount"`
	OrderDateUtc time.Time `json:"order_date_utc"`
	Status       string    `json:"status"`
	Version      int32     `json:"version,omitempty"`
}

type OrderReply struct {
	Order   *Order `json:"order"`
	Visible bool   `json:"visible"`
}

type GetOrderRequest struct {
	OrderId string `json:"order_id"`
}

func (x *GetOrderRequest) GetOrderId() string {
	if x == nil {
		return ""
	}
	return x.OrderId
}

type UpdateOrderStatusRequest struct {
	OrderId   string `json:"order_id"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

type DeleteOrderRequest struct {
	OrderId string `json:"order_id"`
}

type DeleteOrderReply struct{}
