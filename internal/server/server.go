package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicexiaonie/order-dispenser/internal/metrics"
	"github.com/nicexiaonie/order-dispenser/internal/order"
)

// Options configures a Server.
type Options struct {
	Addr            string
	StaticDir       string
	QRDir           string
	QRURLPrefix     string
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

// Server represents the order intake HTTP server
type Server struct {
	opts     Options
	orders   *order.Service
	metrics  *metrics.Metrics
	limiter  *RateLimiter
	log      logrus.FieldLogger
	router   *mux.Router
	handler  http.Handler
	http     *http.Server
	listener net.Listener

	mu       sync.Mutex
	shutdown chan struct{}
	stopped  bool
}

// NewServer creates a new server
func NewServer(opts Options, orders *order.Service, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		opts:     opts,
		orders:   orders,
		metrics:  m,
		log:      log,
		shutdown: make(chan struct{}),
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log)
	}

	s.router = s.routes()
	s.handler = s.middleware(s.router)
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// middleware wraps the whole router so unmatched routes are traced, logged and
// counted too.
func (s *Server) middleware(next http.Handler) http.Handler {
	if s.metrics != nil {
		next = s.metrics.Instrument(next)
	}
	next = loggingMiddleware(s.log)(next)
	return requestIDMiddleware(next)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	var createOrder http.Handler = http.HandlerFunc(s.handleCreateOrder)
	if s.limiter != nil {
		createOrder = s.limiter.Handler(createOrder)
	}
	r.Handle("/api/orders", createOrder).Methods(http.MethodPost)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)

	// QR 目录可能不在静态目录下，单独挂载
	if prefix := s.opts.QRURLPrefix; prefix != "" && !strings.Contains(prefix, "://") {
		prefix = "/" + strings.Trim(prefix, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, noDirListing(http.FileServer(http.Dir(s.opts.QRDir)))))
	}
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", noDirListing(http.FileServer(http.Dir(s.opts.StaticDir)))))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start starts the server and blocks until it is stopped
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.WithField("addr", listener.Addr().String()).Info("Order server listening")

	// Handle graceful shutdown
	go s.handleShutdown()

	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Addr returns the bound address once Start has begun listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the server gracefully, waiting for in-flight requests up to the
// shutdown timeout.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.shutdown)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleShutdown handles graceful shutdown signals
func (s *Server) handleShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		s.log.Info("Shutting down server...")
		if err := s.Stop(); err != nil {
			s.log.WithError(err).Error("Graceful shutdown failed")
		}
	case <-s.shutdown:
	}
}

// noDirListing hides directory indexes; only files are served.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || r.URL.Path == "" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func indexPath(staticDir string) string {
	return filepath.Join(staticDir, "index.html")
}
