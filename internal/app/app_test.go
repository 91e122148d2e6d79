package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-pipeline/internal/adapter/handler"
	"github.com/rl1809/order-pipeline/internal/adapter/messaging"
	"github.com/rl1809/order-pipeline/internal/adapter/storage/memory"
	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
)

const testProduct = "e2e-widget"

type pipeline struct {
	cfg    config.Config
	store  *memory.Store
	pub    *messaging.Publisher
	server *httptest.Server
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("SEED_CATALOG", "true")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("POLL_DELAY", "10ms")
	t.Setenv("POLL_MAX_ATTEMPTS", "100")
	t.Setenv("OUTBOX_INTERVAL", "5ms")
	t.Setenv("QUEUE_RETRY_INTERVAL", "1ms")

	cfg := config.Load()
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	infra, err := Connect(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)

	store := infra.Store.(*memory.Store)
	store.Seed([]domain.Product{{
		ID: testProduct, Name: "Widget", UnitPrice: decimal.RequireFromString("2.50"), Stock: 5,
	}}, nil)

	a, err := New(cfg, infra, zerolog.Nop())
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- a.RunWorkers(ctx, started) }()
	select {
	case <-started:
	case err := <-done:
		t.Fatalf("workers exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not start")
	}

	srv := httptest.NewServer(a.HTTP.Handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		infra.Close()
	})

	return &pipeline{
		cfg:    cfg,
		store:  store,
		pub:    messaging.NewPublisher(infra.Transport.Publisher),
		server: srv,
	}
}

func (p *pipeline) post(t *testing.T, path string, body any) (*http.Response, handler.CreateOrderHTTPResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(p.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out handler.CreateOrderHTTPResponse
	if resp.StatusCode == http.StatusCreated {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (p *pipeline) stock(t *testing.T, productID string) int {
	t.Helper()
	prod, err := p.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return prod.Stock
}

func (p *pipeline) publishOrderTopic(t *testing.T, payload []byte) {
	t.Helper()
	require.NoError(t, p.pub.Publish(context.Background(), domain.Message{
		Topic:   p.cfg.Queue.OrderNotifications,
		Type:    domain.TypeOrderCreated,
		Payload: payload,
	}))
}

func snapshot(t *testing.T, id string) []byte {
	t.Helper()
	price := decimal.RequireFromString("2.50")
	raw, err := json.Marshal(domain.NewOrderCreatedMessage(domain.OrderSummary{
		ID:           id,
		CustomerID:   "cust-001",
		CustomerName: "Ada Lovelace",
		ProductID:    testProduct,
		ProductName:  "Widget",
		Quantity:     1,
		UnitPrice:    price,
		TotalAmount:  price,
		OrderDateUTC: time.Now().UTC(),
		Status:       domain.OrderStatusSubmitted,
	}))
	require.NoError(t, err)
	return raw
}

func (p *pipeline) waitForOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	var found *domain.Order
	require.Eventually(t, func() bool {
		o, err := p.store.GetOrder(context.Background(), id)
		if err != nil {
			return false
		}
		found = o
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return found
}

func TestPipeline_AcceptedOrderBecomesVisible(t *testing.T) {
	p := startPipeline(t)

	resp, out := p.post(t, "/orders", handler.CreateOrderHTTPRequest{
		CustomerID: "cust-001", ProductID: testProduct, Quantity: 3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, out.Visible)
	assert.Equal(t, "Submitted", out.Order.Status)
	assert.True(t, decimal.RequireFromString("7.5").Equal(out.Order.TotalAmount))
	assert.Equal(t, 2, p.stock(t, testProduct))

	get, err := http.Get(p.server.URL + "/orders/" + out.Order.OrderID)
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)

	o := p.waitForOrder(t, out.Order.OrderID)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
	assert.Equal(t, "Ada Lovelace", o.CustomerName)
	assert.Equal(t, 3, o.Quantity)
}

func TestPipeline_InsufficientStockEnqueuesNothing(t *testing.T) {
	p := startPipeline(t)

	resp, _ := p.post(t, "/orders", handler.CreateOrderHTTPRequest{
		CustomerID: "cust-001", ProductID: testProduct, Quantity: 10,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 5, p.stock(t, testProduct))

	pending, err := p.store.PendingMessages(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	time.Sleep(50 * time.Millisecond)
	orders, err := p.store.ListOrders(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPipeline_LastUnitSoldOnce(t *testing.T) {
	p := startPipeline(t)

	body, err := json.Marshal(handler.CreateOrderHTTPRequest{CustomerID: "cust-002", ProductID: "prod-006", Quantity: 1})
	require.NoError(t, err)

	const buyers = 10
	var (
		wg       sync.WaitGroup
		statuses = make([]int, buyers)
		errs     = make([]error, buyers)
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(p.server.URL+"/orders?wait=false", "application/json", bytes.NewReader(body))
			if err != nil {
				errs[i] = err
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	counts := map[int]int{}
	for i := range buyers {
		require.NoError(t, errs[i])
		counts[statuses[i]]++
	}
	assert.Equal(t, 1, counts[http.StatusCreated])
	assert.Equal(t, buyers-1, counts[http.StatusBadRequest]+counts[http.StatusConflict])
	assert.Equal(t, 0, p.stock(t, "prod-006"))
}

func TestPipeline_RedeliveryIsIdempotent(t *testing.T) {
	p := startPipeline(t)

	payload := snapshot(t, "order-redelivered")
	p.publishOrderTopic(t, payload)
	p.publishOrderTopic(t, payload)
	p.publishOrderTopic(t, snapshot(t, "order-barrier"))

	p.waitForOrder(t, "order-barrier")
	o := p.waitForOrder(t, "order-redelivered")
	assert.Equal(t, 1, o.Version)

	orders, err := p.store.ListOrders(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestPipeline_MalformedMessageDoesNotStopConsumer(t *testing.T) {
	p := startPipeline(t)

	p.publishOrderTopic(t, []byte("{not json"))
	p.publishOrderTopic(t, []byte(`{"Type":"OrderCreated","OrderId":""}`))
	p.publishOrderTopic(t, snapshot(t, "order-after-garbage"))

	o := p.waitForOrder(t, "order-after-garbage")
	assert.Equal(t, testProduct, o.ProductID)
}

func TestPipeline_StatusMessageDoesNotMutateOrder(t *testing.T) {
	p := startPipeline(t)

	p.publishOrderTopic(t, snapshot(t, "order-status"))
	before := p.waitForOrder(t, "order-status")

	raw, err := json.Marshal(domain.OrderStatusUpdatedMessage{
		Type:           domain.TypeOrderStatusUpdated,
		OrderID:        "order-status",
		PreviousStatus: "Submitted",
		NewStatus:      "Shipped",
		UpdatedDateUTC: time.Now().UTC(),
		UpdatedBy:      "stale-writer",
	})
	require.NoError(t, err)
	require.NoError(t, p.pub.Publish(context.Background(), domain.Message{
		Topic:   p.cfg.Queue.OrderNotifications,
		Type:    domain.TypeOrderStatusUpdated,
		Payload: raw,
	}))
	p.publishOrderTopic(t, snapshot(t, "order-status-barrier"))
	p.waitForOrder(t, "order-status-barrier")

	after, err := p.store.GetOrder(context.Background(), "order-status")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, after.Status)
	assert.Equal(t, before.Version, after.Version)
}

func TestConnect_UnknownStoreDriver(t *testing.T) {
	cfg := config.Load()
	cfg.Store.Driver = "cassandra"
	_, err := Connect(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown store driver")
}
