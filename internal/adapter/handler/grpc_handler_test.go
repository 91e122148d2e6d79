package handler

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/order-pipeline/internal/adapter/handler/pb"
)

func newTestClient(t *testing.T, f *fixture) pb.OrderServiceClient {
	t.Helper()
	return pb.NewOrderServiceClient(newTestConn(t, f))
}

func newTestConn(t *testing.T, f *fixture) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewGRPCHandler(f.orders, f.poller, f.cfg.Poll), zerolog.Nop())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// rawCodec sends bytes as they are, like a client that never selected the JSON codec.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: cannot decode into %T", v)
	}
	*b = data
	return nil
}

func (rawCodec) Name() string { return "raw" }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

func TestGRPC_ForeignEncodingIsInvalidArgument(t *testing.T) {
	f := newFixture(t)
	conn := newTestConn(t, f)

	in := []byte{0x0a, 0x02, 'c', '1'}
	var out []byte
	err := conn.Invoke(context.Background(), pb.OrderService_CreateOrder_FullMethodName, &in, &out, grpc.CallContentSubtype("raw"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), `CallContentSubtype("json")`)
	assert.Equal(t, 5, f.stock(t))
}

func TestGRPC_CreateGetUpdateDelete(t *testing.T) {
	f := newFixture(t)
	client := newTestClient(t, f)
	ctx := context.Background()

	created, err := client.CreateOrder(ctx, &pb.CreateOrderRequest{CustomerId: "c1", ProductId: "p1", Quantity: 3})
	require.NoError(t, err)
	assert.True(t, created.Visible)
	assert.Equal(t, "59.97", created.Order.TotalAmount)
	assert.Equal(t, 2, f.stock(t))

	got, err := client.GetOrder(ctx, &pb.GetOrderRequest{OrderId: created.Order.OrderId})
	require.NoError(t, err)
	assert.Equal(t, int32(3), got.Order.Quantity)

	updated, err := client.UpdateOrderStatus(ctx, &pb.UpdateOrderStatusRequest{OrderId: created.Order.OrderId, Status: "Shipped"})
	require.NoError(t, err)
	assert.Equal(t, "Shipped", updated.Order.Status)
	assert.Equal(t, int32(2), updated.Order.Version)

	_, err = client.DeleteOrder(ctx, &pb.DeleteOrderRequest{OrderId: created.Order.OrderId})
	require.NoError(t, err)
	_, err = client.GetOrder(ctx, &pb.GetOrderRequest{OrderId: created.Order.OrderId})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_SkipWait(t *testing.T) {
	f := newFixture(t)
	f.publisher.drop = true
	client := newTestClient(t, f)

	reply, err := client.CreateOrder(context.Background(), &pb.CreateOrderRequest{CustomerId: "c1", ProductId: "p1", Quantity: 1, SkipWait: true})
	require.NoError(t, err)
	assert.False(t, reply.Visible)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		req  *pb.CreateOrderRequest
		code codes.Code
	}{
		{"insufficient stock", &pb.CreateOrderRequest{CustomerId: "c1", ProductId: "p1", Quantity: 10}, codes.FailedPrecondition},
		{"unknown customer", &pb.CreateOrderRequest{CustomerId: "zz", ProductId: "p1", Quantity: 1}, codes.InvalidArgument},
		{"zero quantity", &pb.CreateOrderRequest{CustomerId: "c1", ProductId: "p1"}, codes.InvalidArgument},
		{"wait beyond ceiling", &pb.CreateOrderRequest{CustomerId: "c1", ProductId: "p1", Quantity: 1, PollAttempts: 1000000, PollDelayMs: 86400000}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			client := newTestClient(t, f)

			_, err := client.CreateOrder(context.Background(), tt.req)
			assert.Equal(t, tt.code, status.Code(err))
			assert.Equal(t, 5, f.stock(t))
		})
	}
}
