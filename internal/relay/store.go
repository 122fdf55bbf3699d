package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/livesync/internal/wire"
)

// LowStockThreshold marks active products with fewer units as low on stock.
const LowStockThreshold = 5

// collection keeps entities by id plus their insertion order.
type collection[T any] struct {
	byID  map[string]T
	order []string // oldest first
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{byID: make(map[string]T)}
}

func (c *collection[T]) put(id string, v T) {
	if _, ok := c.byID[id]; !ok {
		c.order = append(c.order, id)
	}
	c.byID[id] = v
}

func (c *collection[T]) remove(id string) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// page returns entries newest first.
func (c *collection[T]) page(page, limit int) wire.Page[T] {
	total := len(c.order)
	out := wire.Page[T]{Items: []T{}, Total: total, Page: page, Limit: limit}
	start := (page - 1) * limit
	for i := total - 1 - start; i >= 0 && len(out.Items) < limit; i-- {
		out.Items = append(out.Items, c.byID[c.order[i]])
	}
	return out
}

// Store is the relay's in-memory storefront.
type Store struct {
	mu       sync.RWMutex
	orders   *collection[wire.Order]
	products *collection[wire.Product]
	coupons  *collection[wire.Coupon]
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		orders:   newCollection[wire.Order](),
		products: newCollection[wire.Product](),
		coupons:  newCollection[wire.Coupon](),
		now:      time.Now,
	}
}

func (s *Store) PutOrder(o wire.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders.put(o.ID, o)
}

func (s *Store) Order(id string) (wire.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders.byID[id]
	return o, ok
}

// SetOrderStatus updates the status of an existing order and returns it.
func (s *Store) SetOrderStatus(id string, status wire.OrderStatus) (wire.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders.byID[id]
	if !ok {
		return wire.Order{}, false
	}
	o.Status = status
	o.UpdatedAt = s.now()
	s.orders.byID[id] = o
	return o, true
}

func (s *Store) Orders(page, limit int) wire.Page[wire.Order] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.page(page, limit)
}

// OpenOrders returns the ids of orders that are neither delivered nor
// cancelled, oldest first.
func (s *Store) OpenOrders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.orders.order {
		switch s.orders.byID[id].Status {
		case wire.OrderDelivered, wire.OrderCancelled:
		default:
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) PutProduct(p wire.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products.put(p.ID, p)
}

func (s *Store) Product(id string) (wire.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products.byID[id]
	return p, ok
}

func (s *Store) DeleteProduct(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products.remove(id)
}

func (s *Store) Products(page, limit int) wire.Page[wire.Product] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.products.page(page, limit)
}

// ProductIDs returns every product id, oldest first.
func (s *Store) ProductIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.products.order...)
}

func (s *Store) PutCoupon(c wire.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons.put(c.ID, c)
}

func (s *Store) DeleteCoupon(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons.remove(id)
}

// UseCoupon records one redemption. It fails once the usage limit is
// reached or the coupon is not active.
func (s *Store) UseCoupon(id string) (wire.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons.byID[id]
	if !ok || c.Status != wire.CouponActive {
		return wire.Coupon{}, false
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return wire.Coupon{}, false
	}
	c.UsedCount++
	c.UpdatedAt = s.now()
	s.coupons.byID[id] = c
	return c, true
}

func (s *Store) Coupons(page, limit int) wire.Page[wire.Coupon] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coupons.page(page, limit)
}

// CouponIDs returns every coupon id, oldest first.
func (s *Store) CouponIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.coupons.order...)
}

// Analytics aggregates the current store. Cancelled orders do not count
// towards revenue.
func (s *Store) Analytics() wire.Analytics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := wire.Analytics{
		Revenue:        decimal.Zero,
		OrdersByStatus: make(map[wire.OrderStatus]int),
		UpdatedAt:      s.now(),
	}
	for _, o := range s.orders.byID {
		a.OrderCount++
		a.OrdersByStatus[o.Status]++
		if o.Status != wire.OrderCancelled {
			a.Revenue = a.Revenue.Add(o.Total)
		}
	}
	for _, p := range s.products.byID {
		if p.Status != wire.ProductActive {
			continue
		}
		a.ActiveProducts++
		if p.Stock < LowStockThreshold {
			a.LowStock++
		}
	}
	for _, c := range s.coupons.byID {
		a.CouponUses += c.UsedCount
	}
	return a
}

// Apply mirrors an externally produced event into the store so that list
// endpoints agree with what was broadcast. Events that carry no entity
// state are accepted and ignored.
func (s *Store) Apply(event string, data json.RawMessage) error {
	switch event {
	case wire.EventNewOrder:
		var o wire.Order
		if err := decodeEntity(data, &o, func() string { return o.ID }); err != nil {
			return err
		}
		s.PutOrder(o)
	case wire.EventOrderStatusUpdated:
		var p wire.OrderStatusUpdatedPayload
		if err := decodeEntity(data, &p, func() string { return p.OrderID }); err != nil {
			return err
		}
		if p.Order != nil {
			s.PutOrder(*p.Order)
		} else {
			s.SetOrderStatus(p.OrderID, p.Status)
		}
	case wire.EventOrderCancelled:
		var p wire.OrderCancelledPayload
		if err := decodeEntity(data, &p, func() string { return p.OrderID }); err != nil {
			return err
		}
		s.SetOrderStatus(p.OrderID, wire.OrderCancelled)
	case wire.EventProductCreated, wire.EventProductUpdated:
		var p wire.Product
		if err := decodeEntity(data, &p, func() string { return p.ID }); err != nil {
			return err
		}
		s.PutProduct(p)
	case wire.EventProductDeleted:
		var ref wire.EntityRef
		if err := decodeEntity(data, &ref, func() string { return ref.ID }); err != nil {
			return err
		}
		s.DeleteProduct(ref.ID)
	case wire.EventCouponCreated, wire.EventCouponUpdated:
		var c wire.Coupon
		if err := decodeEntity(data, &c, func() string { return c.ID }); err != nil {
			return err
		}
		s.PutCoupon(c)
	case wire.EventCouponDeleted:
		var ref wire.EntityRef
		if err := decodeEntity(data, &ref, func() string { return ref.ID }); err != nil {
			return err
		}
		s.DeleteCoupon(ref.ID)
	case wire.EventCouponUsed:
		var p wire.CouponUsedPayload
		if err := decodeEntity(data, &p, func() string { return p.CouponID }); err != nil {
			return err
		}
		s.mu.Lock()
		if c, ok := s.coupons.byID[p.CouponID]; ok {
			c.UsedCount = p.UsedCount
			c.UpdatedAt = s.now()
			s.coupons.byID[p.CouponID] = c
		}
		s.mu.Unlock()
	}
	return nil
}

func decodeEntity(data json.RawMessage, v any, id func() string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if id() == "" {
		return fmt.Errorf("payload carries no id")
	}
	return nil
}
