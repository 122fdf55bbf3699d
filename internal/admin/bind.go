package admin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storefront/livesync/internal/api"
	"github.com/storefront/livesync/internal/dispatch"
	"github.com/storefront/livesync/internal/wire"
)

var (
	errMissingID     = errors.New("payload carries no id")
	errMissingStatus = errors.New("payload carries no status")
)

// Bind registers the storefront event table on r.
func Bind(r *dispatch.Router, v *Views) {
	dispatch.On(r, wire.EventNewOrder, func(o wire.Order) error {
		if o.ID == "" {
			return errMissingID
		}
		v.Orders.ApplyCreate(o)
		v.toasts.Info(fmt.Sprintf("New order %s from %s", orderLabel(o), o.Customer))
		return nil
	})
	dispatch.On(r, wire.EventOrderStatusUpdated, func(p wire.OrderStatusUpdatedPayload) error {
		if p.OrderID == "" {
			return errMissingID
		}
		status := p.Status
		if status == "" && p.Order != nil {
			status = p.Order.Status
		}
		if status == "" {
			return errMissingStatus
		}
		v.Orders.ApplyStatusPatch(p.OrderID, string(status))
		return nil
	})
	dispatch.On(r, wire.EventOrderCancelled, func(p wire.OrderCancelledPayload) error {
		if p.OrderID == "" {
			return errMissingID
		}
		v.Orders.ApplyRemoveOrDelete(p.OrderID)
		v.toasts.Warn(fmt.Sprintf("Order %s was cancelled", p.OrderID))
		return nil
	})

	dispatch.On(r, wire.EventProductCreated, func(p wire.Product) error {
		v.Products.Refresh()
		v.toasts.Success(fmt.Sprintf("Product created: %s", p.Name))
		return nil
	})
	dispatch.On(r, wire.EventProductUpdated, func(p wire.Product) error {
		v.Products.Refresh()
		v.toasts.Info(fmt.Sprintf("Product updated: %s", p.Name))
		return nil
	})
	dispatch.On(r, wire.EventProductDeleted, func(ref wire.EntityRef) error {
		v.Products.Refresh()
		v.toasts.Info(fmt.Sprintf("Product %s deleted", ref.ID))
		return nil
	})
	dispatch.On(r, wire.EventProductsBulkImported, func(p wire.BulkImportPayload) error {
		v.Products.Refresh()
		msg := p.Message
		if msg == "" {
			msg = fmt.Sprintf("Imported %d of %d products", p.Success, p.Total)
		}
		if p.Failed > 0 {
			v.toasts.Warn(fmt.Sprintf("%s (%d failed)", msg, p.Failed))
		} else {
			v.toasts.Success(msg)
		}
		return nil
	})

	for _, name := range []string{wire.EventCouponCreated, wire.EventCouponUpdated, wire.EventCouponDeleted} {
		r.Handle(name, func(json.RawMessage) error {
			v.Coupons.Refresh()
			return nil
		})
	}
	dispatch.On(r, wire.EventCouponUsed, func(p wire.CouponUsedPayload) error {
		if p.CouponID == "" {
			return errMissingID
		}
		v.Coupons.ApplyPatch(p.CouponID, func(c wire.Coupon) wire.Coupon {
			c.UsedCount = p.UsedCount
			return c
		})
		return nil
	})

	dispatch.On(r, wire.EventAnalyticsUpdated, func(p wire.AnalyticsUpdatedPayload) error {
		v.qc.Invalidate(api.KeyAnalytics)
		v.toasts.Info(analyticsMessage(p.Type))
		return nil
	})
}

func orderLabel(o wire.Order) string {
	if o.OrderNumber != "" {
		return "#" + o.OrderNumber
	}
	return o.ID
}

func analyticsMessage(kind string) string {
	switch kind {
	case "order":
		return "Analytics refreshed after order activity"
	case "product":
		return "Analytics refreshed after catalog changes"
	case "coupon":
		return "Analytics refreshed after coupon usage"
	case "":
		return "Analytics updated"
	default:
		return fmt.Sprintf("Analytics updated (%s)", kind)
	}
}
