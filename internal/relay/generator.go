package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/wire"
)

// Publisher sends a named event to every listener.
type Publisher interface {
	Publish(event string, payload any) error
}

// Generator simulates storefront activity. Every action mutates the store
// first and publishes afterwards, so a refetch triggered by the event always
// sees the new state.
type Generator struct {
	store    *Store
	pub      Publisher
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	faker   *gofakeit.Faker
	orderNo int
}

// NewGenerator creates a Generator. seed 0 picks a random seed.
func NewGenerator(store *Store, pub Publisher, interval time.Duration, seed uint64, log *zap.Logger) *Generator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		store:    store,
		pub:      pub,
		interval: interval,
		log:      log,
		faker:    gofakeit.New(seed),
		orderNo:  1000,
	}
}

// Seed fills the store with n products, n/3 coupons and n orders without
// publishing anything.
func (g *Generator) Seed(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < n; i++ {
		g.store.PutProduct(g.fakeProduct())
	}
	for i := 0; i < max(1, n/3); i++ {
		g.store.PutCoupon(g.fakeCoupon())
	}
	for i := 0; i < n; i++ {
		o := g.fakeOrder()
		o.Status = []wire.OrderStatus{
			wire.OrderPending, wire.OrderProcessing, wire.OrderShipped, wire.OrderDelivered,
		}[g.faker.Number(0, 3)]
		g.store.PutOrder(o)
	}
}

// Start runs Step on every tick until ctx is done.
func (g *Generator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event, err := g.Step()
			if err != nil {
				g.log.Warn("mock step failed", zap.String("event", event), zap.Error(err))
				continue
			}
			g.log.Debug("mock event", zap.String("event", event))
		}
	}
}

// Step performs one weighted random action and returns its event name.
func (g *Generator) Step() (string, error) {
	g.mu.Lock()
	roll := g.faker.Number(1, 100)
	g.mu.Unlock()

	switch {
	case roll <= 30:
		return wire.EventNewOrder, g.NewOrder()
	case roll <= 55:
		return wire.EventOrderStatusUpdated, g.AdvanceOrder()
	case roll <= 62:
		return wire.EventOrderCancelled, g.CancelOrder()
	case roll <= 72:
		return wire.EventCouponUsed, g.UseCoupon()
	case roll <= 82:
		return wire.EventProductUpdated, g.UpdateProduct()
	case roll <= 88:
		return wire.EventProductCreated, g.CreateProduct()
	case roll <= 92:
		return wire.EventProductsBulkImported, g.BulkImport()
	case roll <= 96:
		return wire.EventCouponCreated, g.CreateCoupon()
	default:
		return wire.EventProductDeleted, g.DeleteProduct()
	}
}

func (g *Generator) NewOrder() error {
	g.mu.Lock()
	o := g.fakeOrder()
	g.mu.Unlock()

	g.store.PutOrder(o)
	if err := g.pub.Publish(wire.EventNewOrder, o); err != nil {
		return err
	}
	return g.analytics("order")
}

// AdvanceOrder moves the oldest open order one step along the fulfilment
// flow. Without open orders it places a new one.
func (g *Generator) AdvanceOrder() error {
	ids := g.store.OpenOrders()
	if len(ids) == 0 {
		return g.NewOrder()
	}
	current, _ := g.store.Order(ids[0])
	o, ok := g.store.SetOrderStatus(current.ID, wire.NextOrderStatus(current.Status))
	if !ok {
		return fmt.Errorf("order %s vanished", current.ID)
	}
	return g.pub.Publish(wire.EventOrderStatusUpdated, wire.OrderStatusUpdatedPayload{
		OrderID: o.ID,
		Status:  o.Status,
		Order:   &o,
	})
}

// CancelOrder cancels a random open order.
func (g *Generator) CancelOrder() error {
	ids := g.store.OpenOrders()
	if len(ids) == 0 {
		return nil
	}
	g.mu.Lock()
	id := ids[g.faker.Number(0, len(ids)-1)]
	g.mu.Unlock()

	o, ok := g.store.SetOrderStatus(id, wire.OrderCancelled)
	if !ok {
		return fmt.Errorf("order %s vanished", id)
	}
	if err := g.pub.Publish(wire.EventOrderCancelled, wire.OrderCancelledPayload{OrderID: id, Order: &o}); err != nil {
		return err
	}
	return g.analytics("order")
}

func (g *Generator) UseCoupon() error {
	ids := g.store.CouponIDs()
	if len(ids) == 0 {
		return g.CreateCoupon()
	}
	g.mu.Lock()
	id := ids[g.faker.Number(0, len(ids)-1)]
	g.mu.Unlock()

	c, ok := g.store.UseCoupon(id)
	if !ok {
		return nil
	}
	if err := g.pub.Publish(wire.EventCouponUsed, wire.CouponUsedPayload{
		CouponID:  c.ID,
		UsedCount: c.UsedCount,
		Code:      c.Code,
	}); err != nil {
		return err
	}
	return g.analytics("coupon")
}

func (g *Generator) CreateProduct() error {
	g.mu.Lock()
	p := g.fakeProduct()
	g.mu.Unlock()

	g.store.PutProduct(p)
	return g.pub.Publish(wire.EventProductCreated, p)
}

// UpdateProduct restocks or sells down a random product.
func (g *Generator) UpdateProduct() error {
	ids := g.store.ProductIDs()
	if len(ids) == 0 {
		return g.CreateProduct()
	}
	g.mu.Lock()
	p, _ := g.store.Product(ids[g.faker.Number(0, len(ids)-1)])
	p.Stock = max(0, p.Stock+g.faker.Number(-10, 25))
	p.UpdatedAt = time.Now()
	g.mu.Unlock()

	g.store.PutProduct(p)
	return g.pub.Publish(wire.EventProductUpdated, p)
}

func (g *Generator) DeleteProduct() error {
	ids := g.store.ProductIDs()
	if len(ids) == 0 {
		return nil
	}
	id := ids[0]
	if !g.store.DeleteProduct(id) {
		return nil
	}
	if err := g.pub.Publish(wire.EventProductDeleted, wire.EntityRef{ID: id}); err != nil {
		return err
	}
	return g.analytics("product")
}

// BulkImport adds a batch of products, a few of which fail.
func (g *Generator) BulkImport() error {
	g.mu.Lock()
	total := g.faker.Number(5, 20)
	failed := g.faker.Number(0, total/4)
	products := make([]wire.Product, 0, total-failed)
	for i := 0; i < total-failed; i++ {
		products = append(products, g.fakeProduct())
	}
	g.mu.Unlock()

	for _, p := range products {
		g.store.PutProduct(p)
	}
	if err := g.pub.Publish(wire.EventProductsBulkImported, wire.BulkImportPayload{
		Success: len(products),
		Failed:  failed,
		Total:   total,
		Message: fmt.Sprintf("Imported %d of %d products", len(products), total),
	}); err != nil {
		return err
	}
	return g.analytics("product")
}

func (g *Generator) CreateCoupon() error {
	g.mu.Lock()
	c := g.fakeCoupon()
	g.mu.Unlock()

	g.store.PutCoupon(c)
	return g.pub.Publish(wire.EventCouponCreated, c)
}

func (g *Generator) analytics(kind string) error {
	return g.pub.Publish(wire.EventAnalyticsUpdated, wire.AnalyticsUpdatedPayload{Type: kind})
}

// fake* helpers expect g.mu to be held.

func (g *Generator) fakeProduct() wire.Product {
	return wire.Product{
		ID:        uuid.NewString(),
		Name:      g.faker.ProductName(),
		SKU:       "SKU-" + strings.ToUpper(g.faker.LetterN(6)),
		Category:  g.faker.ProductCategory(),
		Price:     decimal.NewFromFloat(g.faker.Price(5, 400)).Round(2),
		Stock:     g.faker.Number(0, 120),
		Status:    wire.ProductActive,
		UpdatedAt: time.Now(),
	}
}

func (g *Generator) fakeCoupon() wire.Coupon {
	kind, value := "percent", decimal.NewFromInt(int64(g.faker.Number(5, 40)))
	if g.faker.Bool() {
		kind, value = "fixed", decimal.NewFromInt(int64(g.faker.Number(5, 50)))
	}
	return wire.Coupon{
		ID:           uuid.NewString(),
		Code:         strings.ToUpper(g.faker.Word()) + strconv.Itoa(g.faker.Number(10, 99)),
		DiscountType: kind,
		Value:        value,
		UsageLimit:   g.faker.Number(50, 500),
		Status:       wire.CouponActive,
		UpdatedAt:    time.Now(),
	}
}

func (g *Generator) fakeOrder() wire.Order {
	g.orderNo++
	now := time.Now()
	o := wire.Order{
		ID:          uuid.NewString(),
		OrderNumber: strconv.Itoa(g.orderNo),
		Customer:    g.faker.Name(),
		Email:       g.faker.Email(),
		Total:       decimal.Zero,
		Status:      wire.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ids := g.store.ProductIDs()
	for i := 0; i < g.faker.Number(1, 3); i++ {
		item := wire.OrderItem{
			Name:      g.faker.ProductName(),
			Quantity:  g.faker.Number(1, 4),
			UnitPrice: decimal.NewFromFloat(g.faker.Price(5, 200)).Round(2),
		}
		if len(ids) > 0 {
			if p, ok := g.store.Product(ids[g.faker.Number(0, len(ids)-1)]); ok {
				item.ProductID, item.Name, item.UnitPrice = p.ID, p.Name, p.Price
			}
		}
		o.Items = append(o.Items, item)
		o.Total = o.Total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return o
}
