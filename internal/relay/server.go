package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/auth"
	"github.com/storefront/livesync/internal/metrics"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxMessageSize  = 4096
)

// ServerDeps holds the collaborators of Server. Issuer may be nil, in which
// case every request is accepted.
type ServerDeps struct {
	Store          *Store
	Broadcaster    *Broadcaster
	Issuer         *auth.Issuer
	AllowedOrigins []string
	Logger         *zap.Logger
	Metrics        metrics.RelayRecorder
	Gatherer       prometheus.Gatherer
}

type Server struct {
	store          *Store
	broadcaster    *Broadcaster
	issuer         *auth.Issuer
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            *zap.Logger
	metrics        metrics.RelayRecorder
	gatherer       prometheus.Gatherer
	started        time.Time
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		store:          deps.Store,
		broadcaster:    deps.Broadcaster,
		issuer:         deps.Issuer,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            deps.Logger,
		metrics:        deps.Metrics,
		gatherer:       deps.Gatherer,
		started:        time.Now(),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}

	for _, origin := range deps.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// Routes builds the relay's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	}
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/orders", s.handleOrders)
		r.Get("/products", s.handleProducts)
		r.Get("/coupons", s.handleCoupons)
		r.Get("/analytics", s.handleAnalytics)
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authorize(r)
	if err != nil {
		s.metrics.ConnectionRejected("unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.ConnectionRejected("upgrade")
		s.log.Warn("ws upgrade error", zap.Error(err))
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.log.Warn("ws client rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	fields := []zap.Field{zap.String("remote", r.RemoteAddr)}
	if claims != nil {
		fields = append(fields, zap.String("subject", claims.Subject))
	}
	s.log.Info("ws client connected", fields...)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info("ws client disconnected", fields...)
		}()
		conn.SetReadLimit(maxMessageSize)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	page, limit, err := paging(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.store.Orders(page, limit))
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	page, limit, err := paging(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.store.Products(page, limit))
}

func (s *Server) handleCoupons(w http.ResponseWriter, r *http.Request) {
	page, limit, err := paging(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.store.Coupons(page, limit))
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Analytics())
}

// Health is the /healthz body.
type Health struct {
	Status        string  `json:"status"`
	Clients       int     `json:"clients"`
	Seq           uint64  `json:"seq"`
	UptimeSeconds int64   `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`
	RSSBytes      uint64  `json:"rssBytes,omitempty"`
	CPUPercent    float64 `json:"cpuPercent,omitempty"`
	OpenFiles     int32   `json:"openFiles,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:        "ok",
		Clients:       s.broadcaster.ClientCount(),
		Seq:           s.broadcaster.Seq(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
	if p, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfoWithContext(r.Context()); err == nil {
			h.RSSBytes = mem.RSS
		}
		if cpu, err := p.CPUPercentWithContext(r.Context()); err == nil {
			h.CPUPercent = cpu
		}
		if fds, err := p.NumFDsWithContext(r.Context()); err == nil {
			h.OpenFiles = fds
		}
	}
	writeJSON(w, h)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.authorize(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorize validates the access token from the Authorization header or the
// token query parameter. Without an issuer every request passes.
func (s *Server) authorize(r *http.Request) (*auth.Claims, error) {
	if s.issuer == nil {
		return nil, nil
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return s.issuer.Validate(token)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/ws" {
			return
		}
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

func paging(r *http.Request) (page, limit int, err error) {
	page, limit = 1, defaultPageSize
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, fmt.Errorf("invalid page %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
		limit = min(limit, maxPageSize)
	}
	return page, limit, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves handler on host:port until ctx is cancelled, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
