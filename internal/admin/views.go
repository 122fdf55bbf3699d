// Package admin assembles the dashboard's reconciled views (orders, products,
// coupons) and the analytics aggregate, and binds them to the storefront
// event stream.
package admin

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/api"
	"github.com/storefront/livesync/internal/clock"
	"github.com/storefront/livesync/internal/notify"
	"github.com/storefront/livesync/internal/querycache"
	"github.com/storefront/livesync/internal/viewcache"
	"github.com/storefront/livesync/internal/wire"
)

// Config wires Views.
type Config struct {
	Query     *querycache.Cache
	Toasts    *notify.Center
	Clock     clock.Clock
	MaxLen    int
	MarkerTTL time.Duration
	Logger    *zap.Logger
	// OnChange runs after any view, marker or aggregate change.
	OnChange func()
}

// Views owns one reconciled list per entity type. Each list is independent;
// they only share the query cache.
type Views struct {
	Orders   *viewcache.Cache[wire.Order]
	Products *viewcache.Cache[wire.Product]
	Coupons  *viewcache.Cache[wire.Coupon]

	qc       *querycache.Cache
	toasts   *notify.Center
	log      *zap.Logger
	onChange func()

	mu        sync.Mutex
	analytics *wire.Analytics
	fetchErrs map[string]error
	cancels   []func()
}

// New builds the three views and subscribes them to their query keys.
func New(cfg Config) (*Views, error) {
	if cfg.Query == nil {
		return nil, errors.New("admin: query cache is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Toasts == nil {
		cfg.Toasts = notify.NewCenter(cfg.Clock, 0, 0)
	}
	v := &Views{
		qc:        cfg.Query,
		toasts:    cfg.Toasts,
		log:       cfg.Logger,
		onChange:  cfg.OnChange,
		fetchErrs: make(map[string]error),
	}

	var err error
	v.Orders, err = viewcache.New(viewcache.Config[wire.Order]{
		QueryKey:       api.KeyOrders,
		ID:             func(o wire.Order) string { return o.ID },
		SetStatus:      func(o wire.Order, s string) wire.Order { o.Status = wire.OrderStatus(s); return o },
		TerminalStatus: string(wire.OrderCancelled),
		MaxLen:         cfg.MaxLen,
		MarkerTTL:      cfg.MarkerTTL,
		Invalidator:    cfg.Query,
		Clock:          cfg.Clock,
		OnChange:       v.changed,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	v.Products, err = viewcache.New(viewcache.Config[wire.Product]{
		QueryKey:       api.KeyProducts,
		ID:             func(p wire.Product) string { return p.ID },
		SetStatus:      func(p wire.Product, s string) wire.Product { p.Status = wire.ProductStatus(s); return p },
		TerminalStatus: string(wire.ProductArchived),
		MaxLen:         cfg.MaxLen,
		MarkerTTL:      cfg.MarkerTTL,
		Invalidator:    cfg.Query,
		Clock:          cfg.Clock,
		OnChange:       v.changed,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	v.Coupons, err = viewcache.New(viewcache.Config[wire.Coupon]{
		QueryKey:       api.KeyCoupons,
		ID:             func(c wire.Coupon) string { return c.ID },
		SetStatus:      func(c wire.Coupon, s string) wire.Coupon { c.Status = wire.CouponStatus(s); return c },
		TerminalStatus: string(wire.CouponDisabled),
		MaxLen:         cfg.MaxLen,
		MarkerTTL:      cfg.MarkerTTL,
		Invalidator:    cfg.Query,
		Clock:          cfg.Clock,
		OnChange:       v.changed,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	v.cancels = append(v.cancels,
		reconcileOn(v, api.KeyOrders, v.Orders),
		reconcileOn(v, api.KeyProducts, v.Products),
		reconcileOn(v, api.KeyCoupons, v.Coupons),
		cfg.Query.Subscribe(api.KeyAnalytics, v.applyAnalytics),
	)
	return v, nil
}

// reconcileOn feeds successful refetches of key into view.
func reconcileOn[T any](v *Views, key string, view *viewcache.Cache[T]) func() {
	return v.qc.Subscribe(key, func(r querycache.Result) {
		if r.Source != querycache.SourceFetch {
			return
		}
		if !v.recordFetch(key, r.Err) {
			return
		}
		list, ok := querycache.Typed[[]T](r)
		if !ok {
			v.log.Error("unexpected value type for query", zap.String("key", key))
			return
		}
		view.ReconcileFromServer(list, r.RequestedAt)
	})
}

// recordFetch stores the outcome of a refetch and reports whether it
// succeeded. A failed refetch leaves the optimistic list untouched.
func (v *Views) recordFetch(key string, err error) bool {
	v.mu.Lock()
	if err != nil {
		v.fetchErrs[key] = err
	} else {
		delete(v.fetchErrs, key)
	}
	v.mu.Unlock()
	if err != nil {
		v.changed()
		return false
	}
	return true
}

func (v *Views) applyAnalytics(r querycache.Result) {
	if !v.recordFetch(api.KeyAnalytics, r.Err) {
		return
	}
	a, ok := querycache.Typed[*wire.Analytics](r)
	if !ok {
		v.log.Error("unexpected value type for query", zap.String("key", api.KeyAnalytics))
		return
	}
	v.mu.Lock()
	v.analytics = a
	v.mu.Unlock()
	v.changed()
}

// Analytics returns the last fetched aggregate, or nil.
func (v *Views) Analytics() *wire.Analytics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.analytics
}

// FetchError returns the error of the last refetch of key, or nil once a
// refetch succeeded.
func (v *Views) FetchError(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fetchErrs[key]
}

// Toasts returns the notification center events report to.
func (v *Views) Toasts() *notify.Center { return v.toasts }

// Load requests every query once, for the initial fill.
func (v *Views) Load() {
	for _, key := range []string{api.KeyOrders, api.KeyProducts, api.KeyCoupons, api.KeyAnalytics} {
		v.qc.Invalidate(key)
	}
}

// Close unsubscribes from the query cache and stops marker timers.
func (v *Views) Close() {
	v.mu.Lock()
	cancels := v.cancels
	v.cancels = nil
	v.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	v.Orders.Close()
	v.Products.Close()
	v.Coupons.Close()
}

func (v *Views) changed() {
	if v.onChange != nil {
		v.onChange()
	}
}
