// Package api is the REST client the dashboard refetches list pages and the
// analytics aggregate with.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/storefront/livesync/internal/auth"
	"github.com/storefront/livesync/internal/wire"
)

var ErrUnauthorized = errors.New("api: unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client makes REST calls to the relay.
type Client struct {
	baseURL string
	tokens  auth.TokenStore
	client  *http.Client
	limiter *rate.Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRateLimit caps outgoing requests at qps with the given burst. A
// non-positive qps disables limiting.
func WithRateLimit(qps float64, burst int) Option {
	return func(c *Client) {
		if qps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(qps), max(burst, 1))
	}
}

// NewClient creates a client targeting baseURL (e.g. "http://127.0.0.1:8080").
// tokens may be nil for unauthenticated use.
func NewClient(baseURL string, tokens auth.TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOrders fetches one page of orders, newest first.
func (c *Client) ListOrders(ctx context.Context, page, limit int) (*wire.Page[wire.Order], error) {
	var out wire.Page[wire.Order]
	if err := c.get(ctx, "/api/orders", pageQuery(page, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProducts fetches one page of products.
func (c *Client) ListProducts(ctx context.Context, page, limit int) (*wire.Page[wire.Product], error) {
	var out wire.Page[wire.Product]
	if err := c.get(ctx, "/api/products", pageQuery(page, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCoupons fetches one page of coupons.
func (c *Client) ListCoupons(ctx context.Context, page, limit int) (*wire.Page[wire.Coupon], error) {
	var out wire.Page[wire.Coupon]
	if err := c.get(ctx, "/api/coupons", pageQuery(page, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Analytics fetches the dashboard aggregate.
func (c *Client) Analytics(ctx context.Context) (*wire.Analytics, error) {
	var out wire.Analytics
	if err := c.get(ctx, "/api/analytics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("GET %s: rate limit: %w", path, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setAuth(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token, ok := c.tokens.AccessToken(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
