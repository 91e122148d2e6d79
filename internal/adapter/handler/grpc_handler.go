package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-pipeline/internal/adapter/handler/pb"
	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/core/service"
)

type GRPCHandler struct {
	pb.UnimplementedOrderServiceServer
	orderService *service.OrderService
	poller       *service.Poller
	waitOnCreate bool
}

func NewGRPCHandler(orderService *service.OrderService, poller *service.Poller, cfg config.PollConfig) *GRPCHandler {
	return &GRPCHandler{orderService: orderService, poller: poller, waitOnCreate: cfg.WaitOnCreate}
}

// NewGRPCServer registers h on a server that logs every call.
func NewGRPCServer(h *GRPCHandler, log zerolog.Logger) *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(log.With().Str("component", "grpc").Logger())))
	pb.RegisterOrderServiceServer(srv, h)
	return srv
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *pb.CreateOrderRequest) (*pb.OrderReply, error) {
	wait := h.waitOnCreate && !req.SkipWait
	policy := h.poller.DefaultPolicy()
	if req.PollAttempts > 0 {
		policy.MaxAttempts = int(req.PollAttempts)
	}
	if req.PollDelayMs > 0 {
		policy.Delay = time.Duration(req.PollDelayMs) * time.Millisecond
	}
	if err := h.poller.Check(policy); err != nil {
		return nil, grpcError(err)
	}

	summary, err := h.orderService.Create(ctx, service.CreateOrderRequest{
		CustomerID:     req.GetCustomerId(),
		ProductID:      req.GetProductId(),
		Quantity:       int(req.GetQuantity()),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, grpcError(err)
	}

	visible := false
	if wait {
		visible = h.poller.AwaitVisible(ctx, summary.ID, policy) == service.Visible
	}

	return &pb.OrderReply{Order: pbSummary(summary), Visible: visible}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *pb.GetOrderRequest) (*pb.OrderReply, error) {
	order, err := h.orderService.Get(ctx, req.GetOrderId())
	if err != nil {
		return nil, grpcError(err)
	}
	return &pb.OrderReply{Order: pbOrder(*order), Visible: true}, nil
}

func (h *GRPCHandler) UpdateOrderStatus(ctx context.Context, req *pb.UpdateOrderStatusRequest) (*pb.OrderReply, error) {
	order, err := h.orderService.UpdateStatus(ctx, req.OrderId, req.Status, req.UpdatedBy)
	if err != nil {
		return nil, grpcError(err)
	}
	return &pb.OrderReply{Order: pbOrder(*order), Visible: true}, nil
}

func (h *GRPCHandler) DeleteOrder(ctx context.Context, req *pb.DeleteOrderRequest) (*pb.DeleteOrderReply, error) {
	if err := h.orderService.Delete(ctx, req.OrderId); err != nil {
		return nil, grpcError(err)
	}
	return &pb.DeleteOrderReply{}, nil
}

func pbSummary(s domain.OrderSummary) *pb.Order {
	return &pb.Order{
		OrderId:      s.ID,
		CustomerId:   s.CustomerID,
		CustomerName: s.CustomerName,
		ProductId:    s.ProductID,
		ProductName:  s.ProductName,
		Quantity:     int32(s.Quantity),
		UnitPrice:    s.UnitPrice.String(),
		TotalAmount:  s.TotalAmount.String(),
		OrderDateUtc: s.OrderDateUTC,
		Status:       string(s.Status),
	}
}

func pbOrder(o domain.Order) *pb.Order {
	out := pbSummary(o.Summary())
	out.Version = int32(o.Version)
	return out
}

func loggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}
