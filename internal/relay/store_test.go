package relay

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/livesync/internal/wire"
)

func orderIDs(p wire.Page[wire.Order]) []string {
	ids := make([]string, 0, len(p.Items))
	for _, o := range p.Items {
		ids = append(ids, o.ID)
	}
	return ids
}

func TestStore_OrdersNewestFirst(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"o1", "o2", "o3", "o4", "o5"} {
		s.PutOrder(wire.Order{ID: id, Status: wire.OrderPending})
	}
	// Updating an order keeps its position.
	s.PutOrder(wire.Order{ID: "o2", Status: wire.OrderShipped})

	first := s.Orders(1, 2)
	assert.Equal(t, []string{"o5", "o4"}, orderIDs(first))
	assert.Equal(t, 5, first.Total)
	assert.Equal(t, []string{"o3", "o2"}, orderIDs(s.Orders(2, 2)))
	assert.Equal(t, []string{"o1"}, orderIDs(s.Orders(3, 2)))
	assert.Empty(t, s.Orders(4, 2).Items)
	assert.NotNil(t, s.Orders(4, 2).Items, "empty pages encode as []")
}

func TestStore_SetOrderStatus(t *testing.T) {
	s := NewStore()
	s.PutOrder(wire.Order{ID: "o1", Status: wire.OrderPending})

	o, ok := s.SetOrderStatus("o1", wire.OrderProcessing)
	require.True(t, ok)
	assert.Equal(t, wire.OrderProcessing, o.Status)
	assert.False(t, o.UpdatedAt.IsZero())

	_, ok = s.SetOrderStatus("missing", wire.OrderShipped)
	assert.False(t, ok)
}

func TestStore_OpenOrders(t *testing.T) {
	s := NewStore()
	s.PutOrder(wire.Order{ID: "a", Status: wire.OrderPending})
	s.PutOrder(wire.Order{ID: "b", Status: wire.OrderDelivered})
	s.PutOrder(wire.Order{ID: "c", Status: wire.OrderShipped})
	s.PutOrder(wire.Order{ID: "d", Status: wire.OrderCancelled})

	assert.Equal(t, []string{"a", "c"}, s.OpenOrders())
}

func TestStore_UseCouponRespectsLimitAndStatus(t *testing.T) {
	s := NewStore()
	s.PutCoupon(wire.Coupon{ID: "c1", Status: wire.CouponActive, UsageLimit: 2})
	s.PutCoupon(wire.Coupon{ID: "c2", Status: wire.CouponDisabled})

	c, ok := s.UseCoupon("c1")
	require.True(t, ok)
	assert.Equal(t, 1, c.UsedCount)
	_, ok = s.UseCoupon("c1")
	require.True(t, ok)
	_, ok = s.UseCoupon("c1")
	assert.False(t, ok, "limit reached")

	_, ok = s.UseCoupon("c2")
	assert.False(t, ok, "disabled")
}

func TestStore_DeleteProduct(t *testing.T) {
	s := NewStore()
	s.PutProduct(wire.Product{ID: "p1"})
	s.PutProduct(wire.Product{ID: "p2"})

	assert.True(t, s.DeleteProduct("p1"))
	assert.False(t, s.DeleteProduct("p1"))
	assert.Equal(t, []string{"p2"}, s.ProductIDs())
	assert.Equal(t, 1, s.Products(1, 10).Total)
}

func TestStore_Analytics(t *testing.T) {
	s := NewStore()
	s.PutOrder(wire.Order{ID: "o1", Status: wire.OrderPending, Total: decimal.RequireFromString("10.50")})
	s.PutOrder(wire.Order{ID: "o2", Status: wire.OrderCancelled, Total: decimal.RequireFromString("99")})
	s.PutOrder(wire.Order{ID: "o3", Status: wire.OrderShipped, Total: decimal.RequireFromString("4.50")})
	s.PutProduct(wire.Product{ID: "p1", Status: wire.ProductActive, Stock: 2})
	s.PutProduct(wire.Product{ID: "p2", Status: wire.ProductActive, Stock: 50})
	s.PutProduct(wire.Product{ID: "p3", Status: wire.ProductArchived, Stock: 0})
	s.PutCoupon(wire.Coupon{ID: "c1", UsedCount: 3})
	s.PutCoupon(wire.Coupon{ID: "c2", UsedCount: 4})

	a := s.Analytics()
	assert.True(t, a.Revenue.Equal(decimal.NewFromInt(15)), "revenue %s", a.Revenue)
	assert.Equal(t, 3, a.OrderCount)
	assert.Equal(t, 1, a.OrdersByStatus[wire.OrderCancelled])
	assert.Equal(t, 2, a.ActiveProducts)
	assert.Equal(t, 1, a.LowStock)
	assert.Equal(t, 7, a.CouponUses)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestStore_Apply(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Apply(wire.EventNewOrder, mustJSON(t, wire.Order{ID: "o1", Status: wire.OrderPending})))
	require.NoError(t, s.Apply(wire.EventOrderStatusUpdated, mustJSON(t, wire.OrderStatusUpdatedPayload{OrderID: "o1", Status: wire.OrderShipped})))
	o, _ := s.Order("o1")
	assert.Equal(t, wire.OrderShipped, o.Status)

	require.NoError(t, s.Apply(wire.EventOrderCancelled, mustJSON(t, wire.OrderCancelledPayload{OrderID: "o1"})))
	o, _ = s.Order("o1")
	assert.Equal(t, wire.OrderCancelled, o.Status)

	require.NoError(t, s.Apply(wire.EventProductCreated, mustJSON(t, wire.Product{ID: "p1", Name: "Lamp"})))
	require.NoError(t, s.Apply(wire.EventProductUpdated, mustJSON(t, wire.Product{ID: "p1", Name: "Desk Lamp"})))
	p, _ := s.Product("p1")
	assert.Equal(t, "Desk Lamp", p.Name)
	require.NoError(t, s.Apply(wire.EventProductDeleted, mustJSON(t, wire.EntityRef{ID: "p1"})))
	_, ok := s.Product("p1")
	assert.False(t, ok)

	require.NoError(t, s.Apply(wire.EventCouponCreated, mustJSON(t, wire.Coupon{ID: "c1", Status: wire.CouponActive})))
	require.NoError(t, s.Apply(wire.EventCouponUsed, mustJSON(t, wire.CouponUsedPayload{CouponID: "c1", UsedCount: 9})))
	assert.Equal(t, 9, s.Coupons(1, 10).Items[0].UsedCount)
	require.NoError(t, s.Apply(wire.EventCouponDeleted, mustJSON(t, wire.EntityRef{ID: "c1"})))
	assert.Empty(t, s.CouponIDs())

	assert.NoError(t, s.Apply(wire.EventAnalyticsUpdated, mustJSON(t, wire.AnalyticsUpdatedPayload{Type: "order"})))
	assert.NoError(t, s.Apply(wire.EventProductsBulkImported, json.RawMessage(`{}`)))
}

func TestStore_ApplyRejectsMalformed(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.Apply(wire.EventNewOrder, json.RawMessage(`{"id":`)))
	assert.Error(t, s.Apply(wire.EventNewOrder, json.RawMessage(`{}`)))
	assert.Error(t, s.Apply(wire.EventCouponUsed, json.RawMessage(`{"usedCount":1}`)))
	assert.Equal(t, 0, s.Orders(1, 10).Total)
}
