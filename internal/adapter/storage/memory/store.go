// Package memory is an in-process table store with the same per-key conditional
// replace semantics as the MySQL adapter. It backs STORE_DRIVER=memory and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

type Store struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	customers map[string]domain.Customer
	orders    map[string]domain.Order
	outbox    []domain.Message
	nextSeq   int64
}

func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		customers: make(map[string]domain.Customer),
		orders:    make(map[string]domain.Order),
	}
}

// Seed inserts products and customers, resetting product versions to 1.
func (s *Store) Seed(products []domain.Product, customers []domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		p.Version = 1
		s.products[p.ID] = p
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) GetCustomer(_ context.Context, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) ReplaceStock(_ context.Context, productID string, newStock, expectedVersion int, staged []domain.Message) error {
	if newStock < 0 {
		return fmt.Errorf("%w: stock for %s would become %d", domain.ErrValidation, productID, newStock)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok || p.Version != expectedVersion {
		return fmt.Errorf("product %s version %d: %w", productID, expectedVersion, domain.ErrConflict)
	}
	p.Stock = newStock
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p

	for _, m := range staged {
		s.nextSeq++
		m.Seq = s.nextSeq
		s.outbox = append(s.outbox, m)
	}
	return nil
}

func (s *Store) InsertOrderIfAbsent(_ context.Context, order domain.Order) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return false, nil
	}
	if order.Version == 0 {
		order.Version = 1
	}
	s.orders[order.ID] = order
	return true, nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return &o, nil
}

func (s *Store) ReplaceOrder(_ context.Context, order domain.Order, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("order %s version %d: %w", order.ID, expectedVersion, domain.ErrConflict)
	}
	s.orders[order.ID] = order
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, orderID)
	return nil
}

func (s *Store) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	orders := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	s.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].OrderDateUTC.Equal(orders[j].OrderDateUTC) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].OrderDateUTC.After(orders[j].OrderDateUTC)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) PendingMessages(_ context.Context, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []domain.Message
	for _, m := range s.outbox {
		if m.DispatchedAt != nil {
			continue
		}
		pending = append(pending, m)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

// MarkDispatched drops the dispatched rows; nothing reads them afterwards.
func (s *Store) MarkDispatched(_ context.Context, seqs []int64, _ time.Time) error {
	marked := make(map[int64]bool, len(seqs))
	for _, seq := range seqs {
		marked[seq] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	for _, m := range s.outbox {
		if !marked[m.Seq] {
			kept = append(kept, m)
		}
	}
	clear(s.outbox[len(kept):])
	s.outbox = kept
	return nil
}
