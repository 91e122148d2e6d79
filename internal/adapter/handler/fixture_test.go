package handler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-pipeline/internal/adapter/storage"
	"github.com/rl1809/order-pipeline/internal/adapter/storage/memory"
	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/core/service"
)

// inlinePublisher delivers order notifications straight to the materializer,
// standing in for the queue. With drop set nothing is delivered.
type inlinePublisher struct {
	materializer *service.Materializer
	topic        string
	drop         bool
	err          error
}

func (p *inlinePublisher) Publish(ctx context.Context, msgs ...domain.Message) error {
	if p.err != nil {
		return p.err
	}
	for _, m := range msgs {
		if p.drop || m.Topic != p.topic {
			continue
		}
		if err := p.materializer.Handle(ctx, m.Payload); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	store     *memory.Store
	publisher *inlinePublisher
	orders    *service.OrderService
	poller    *service.Poller
	poison    *service.PoisonSink
	cfg       config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Config{
		Queue: config.QueueConfig{
			OrderNotifications: "order-notifications",
			StockNotifications: "stock-notifications",
		},
		Redis:  config.RedisConfig{IdempotencyTTL: time.Hour, PoisonListKey: "orders:poison"},
		Ledger: config.LedgerConfig{MaxAttempts: 3},
		Poll:   config.PollConfig{MaxAttempts: 3, Delay: time.Millisecond, MaxWait: time.Second, WaitOnCreate: true},
		// direct mode so the inline publisher sees messages synchronously
		Outbox: config.OutboxConfig{Enabled: false},
	}

	store := memory.New()
	store.Seed(
		[]domain.Product{{ID: "p1", Name: "Desk Lamp", UnitPrice: decimal.RequireFromString("19.99"), Stock: 5}},
		[]domain.Customer{{ID: "c1", Name: "Grace", Surname: "Hopper"}},
	)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	redisAdapter := storage.NewRedisAdapter(client, cfg.Redis)

	log := zerolog.Nop()
	pub := &inlinePublisher{materializer: service.NewMaterializer(store, log), topic: cfg.Queue.OrderNotifications}
	return &fixture{
		store:     store,
		publisher: pub,
		orders: service.NewOrderService(cfg, service.Dependencies{
			Catalog: store, Products: store, Orders: store, Publisher: pub, Idempotency: redisAdapter,
		}, log),
		poller: service.NewPoller(store, cfg.Poll, log),
		poison: service.NewPoisonSink(redisAdapter, log),
		cfg:    cfg,
	}
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("read product: %v", err)
	}
	return p.Stock
}
