// Package wire defines the socket envelope, the named storefront events and
// the entity and payload shapes shared by the relay and the dashboard.
package wire

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event names carried in Envelope.Event.
const (
	EventNewOrder           = "newOrder"
	EventOrderStatusUpdated = "orderStatusUpdated"
	EventOrderCancelled     = "orderCancelled"

	EventProductCreated       = "product:created"
	EventProductUpdated       = "product:updated"
	EventProductDeleted       = "product:deleted"
	EventProductsBulkImported = "products:bulk_imported"

	EventCouponCreated = "coupon:created"
	EventCouponUpdated = "coupon:updated"
	EventCouponDeleted = "coupon:deleted"
	EventCouponUsed    = "coupon:used"

	EventAnalyticsUpdated = "analytics:updated"
)

// Envelope is the frame for every message the relay pushes to a socket.
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// NextOrderStatus returns the status that follows s in the fulfilment flow,
// or s itself when s is terminal.
func NextOrderStatus(s OrderStatus) OrderStatus {
	switch s {
	case OrderPending:
		return OrderProcessing
	case OrderProcessing:
		return OrderShipped
	case OrderShipped:
		return OrderDelivered
	default:
		return s
	}
}

// OrderItem is a single order line.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Order mirrors the storefront order record.
type Order struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	Customer    string          `json:"customer"`
	Email       string          `json:"email"`
	Items       []OrderItem     `json:"items,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ProductStatus is the catalog visibility of a product.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductDraft    ProductStatus = "draft"
	ProductArchived ProductStatus = "archived"
)

// Product mirrors the storefront catalog record.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Status    ProductStatus   `json:"status"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CouponStatus is the redeemability of a coupon.
type CouponStatus string

const (
	CouponActive   CouponStatus = "active"
	CouponExpired  CouponStatus = "expired"
	CouponDisabled CouponStatus = "disabled"
)

// Coupon mirrors the storefront coupon record.
type Coupon struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	DiscountType string          `json:"discountType"` // "percent" or "fixed"
	Value        decimal.Decimal `json:"value"`
	UsageLimit   int             `json:"usageLimit"`
	UsedCount    int             `json:"usedCount"`
	Status       CouponStatus    `json:"status"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// --- event payloads ---

// OrderStatusUpdatedPayload accompanies orderStatusUpdated.
type OrderStatusUpdatedPayload struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
	Order   *Order      `json:"order,omitempty"`
}

// OrderCancelledPayload accompanies orderCancelled.
type OrderCancelledPayload struct {
	OrderID string `json:"orderId"`
	Order   *Order `json:"order,omitempty"`
}

// EntityRef identifies a deleted product or coupon.
type EntityRef struct {
	ID string `json:"id"`
}

// BulkImportPayload accompanies products:bulk_imported.
type BulkImportPayload struct {
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// CouponUsedPayload accompanies coupon:used.
type CouponUsedPayload struct {
	CouponID  string `json:"couponId"`
	UsedCount int    `json:"usedCount"`
	Code      string `json:"code"`
}

// AnalyticsUpdatedPayload accompanies analytics:updated. Type only selects
// the notification text; the aggregate is always refetched in full.
type AnalyticsUpdatedPayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// --- list responses ---

// Page is a paginated list response.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Analytics is the dashboard aggregate.
type Analytics struct {
	Revenue        decimal.Decimal     `json:"revenue"`
	OrderCount     int                 `json:"orderCount"`
	OrdersByStatus map[OrderStatus]int `json:"ordersByStatus"`
	ActiveProducts int                 `json:"activeProducts"`
	LowStock       int                 `json:"lowStock"`
	CouponUses     int                 `json:"couponUses"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}
