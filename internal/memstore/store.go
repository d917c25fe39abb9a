// Package memstore keeps orders in process memory. It backs local runs
// without a database and the coordinator tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

type Store struct {
	mu     sync.RWMutex
	orders map[string]*orders.Order
}

func New() *Store {
	return &Store{orders: make(map[string]*orders.Order)}
}

func (s *Store) Create(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.ID] = clone(o)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return clone(o), nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]orders.Order, error) {
	return s.list(func(o *orders.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) ListAll(_ context.Context) ([]orders.Order, error) {
	return s.list(func(*orders.Order) bool { return true }), nil
}

// MarkPaid holds the write lock across check and set, which gives the same
// guarantee as a conditional update in a database.
func (s *Store) MarkPaid(_ context.Context, id string, paidAt time.Time, info *orders.PaymentInfo) (*orders.Order, orders.MarkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, orders.MarkUnchanged, orders.ErrOrderNotFound
	}
	switch {
	case !o.IsPaid:
		t := paidAt
		o.IsPaid = true
		o.Status = orders.StatusPaid
		o.PaidAt = &t
		o.PaymentInfo = cloneInfo(info)
		o.UpdatedAt = paidAt
		return clone(o), orders.MarkTransitioned, nil
	case info != nil && o.PaymentInfo == nil:
		o.PaymentInfo = cloneInfo(info)
		o.UpdatedAt = paidAt
		return clone(o), orders.MarkAttached, nil
	}
	return clone(o), orders.MarkUnchanged, nil
}

func (s *Store) list(keep func(*orders.Order) bool) []orders.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func clone(o *orders.Order) *orders.Order {
	c := *o
	c.Items = append([]orders.Item(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	c.PaymentInfo = cloneInfo(o.PaymentInfo)
	return &c
}

func cloneInfo(p *orders.PaymentInfo) *orders.PaymentInfo {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
