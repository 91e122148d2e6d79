package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-pipeline/internal/adapter/storage/memory"
	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
)

func testConfig() config.Config {
	return config.Config{
		Queue: config.QueueConfig{
			OrderNotifications: "order-notifications",
			StockNotifications: "stock-notifications",
			PoisonSuffix:       "-poison",
		},
		Ledger: config.LedgerConfig{MaxAttempts: 3},
		Poll:   config.PollConfig{MaxAttempts: 5, Delay: time.Millisecond},
		Outbox: config.OutboxConfig{Enabled: true, Interval: 5 * time.Millisecond, BatchSize: 10},
	}
}

func newSeededStore(stock int, price string) *memory.Store {
	s := memory.New()
	s.Seed(
		[]domain.Product{{ID: "p1", Name: "Desk Lamp", UnitPrice: decimal.RequireFromString(price), Stock: stock}},
		[]domain.Customer{{ID: "c1", Name: "Grace", Surname: "Hopper"}},
	)
	return s
}

// recordingPublisher keeps everything it is asked to publish. failAfter > 0 makes
// the publish after that many successes fail.
type recordingPublisher struct {
	mu        sync.Mutex
	msgs      []domain.Message
	err       error
	failAfter int
}

func (p *recordingPublisher) Publish(_ context.Context, msgs ...domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if p.err != nil && len(p.msgs) >= p.failAfter {
			return p.err
		}
		p.msgs = append(p.msgs, m)
	}
	return nil
}

func (p *recordingPublisher) published() []domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Message(nil), p.msgs...)
}

// conflictingStore loses the first n conditional writes.
type conflictingStore struct {
	*memory.Store
	stockConflicts atomic.Int32
	orderConflicts atomic.Int32
}

func (c *conflictingStore) ReplaceStock(ctx context.Context, productID string, newStock, expectedVersion int, staged []domain.Message) error {
	if c.stockConflicts.Add(-1) >= 0 {
		return domain.ErrConflict
	}
	return c.Store.ReplaceStock(ctx, productID, newStock, expectedVersion, staged)
}

func (c *conflictingStore) ReplaceOrder(ctx context.Context, order domain.Order, expectedVersion int) error {
	if c.orderConflicts.Add(-1) >= 0 {
		return domain.ErrConflict
	}
	return c.Store.ReplaceOrder(ctx, order, expectedVersion)
}

type memIdempotency struct {
	mu      sync.Mutex
	entries map[string]*domain.OrderSummary
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{entries: make(map[string]*domain.OrderSummary)}
}

func (m *memIdempotency) Reserve(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = nil
	return true, nil
}

func (m *memIdempotency) Lookup(_ context.Context, key string) (*domain.OrderSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key], nil
}

func (m *memIdempotency) Complete(_ context.Context, key string, summary domain.OrderSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &summary
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

type failingOrders struct {
	*memory.Store
	err error
}

func (f *failingOrders) InsertOrderIfAbsent(context.Context, domain.Order) (bool, error) {
	return false, f.err
}

var errBrokerDown = errors.New("broker unavailable")
