package api

import (
	"context"

	"github.com/storefront/livesync/internal/querycache"
)

// Query keys shared by the views and the event table.
const (
	KeyOrders    = "orders"
	KeyProducts  = "products"
	KeyCoupons   = "coupons"
	KeyAnalytics = "analytics"
)

// RegisterQueries installs the fetchers for the four keys. List keys fetch
// the first page of pageSize entries.
func RegisterQueries(qc *querycache.Cache, c *Client, pageSize int) {
	qc.Register(KeyOrders, func(ctx context.Context) (any, error) {
		p, err := c.ListOrders(ctx, 1, pageSize)
		if err != nil {
			return nil, err
		}
		return p.Items, nil
	})
	qc.Register(KeyProducts, func(ctx context.Context) (any, error) {
		p, err := c.ListProducts(ctx, 1, pageSize)
		if err != nil {
			return nil, err
		}
		return p.Items, nil
	})
	qc.Register(KeyCoupons, func(ctx context.Context) (any, error) {
		p, err := c.ListCoupons(ctx, 1, pageSize)
		if err != nil {
			return nil, err
		}
		return p.Items, nil
	})
	qc.Register(KeyAnalytics, func(ctx context.Context) (any, error) {
		return c.Analytics(ctx)
	})
}
