// Package http provides the webhook HTTP server.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
	"github.com/roelfdiedericks/voicerelay/internal/metrics"
	"github.com/roelfdiedericks/voicerelay/internal/relay"
)

// ackMargin leaves room to write the ack after an update uses its full budget.
const ackMargin = 10 * time.Second

const (
	HealthPath  = "/health"
	WebhookPath = "/webhook/telegram"
	MetricsPath = "/metrics"

	// SecretHeader carries the secret Telegram echoes back from setWebhook.
	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// UpdateHandler processes one decoded update. *relay.Controller implements it.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd *tele.Update) relay.Outcome
}

// Server represents the HTTP server
type Server struct {
	server   *http.Server
	handler  UpdateHandler
	metrics  *metrics.Metrics
	secret   string
	timeout  time.Duration
	listener net.Listener
	wg       sync.WaitGroup
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen        string        // Address to listen on (e.g., ":8080")
	WebhookSecret string        // Expected SecretHeader value, "" disables the check
	UpdateTimeout time.Duration // Upper bound for handling one update
}

// NewServer creates a new HTTP server instance. m may be nil, in which case
// /metrics is not served.
func NewServer(cfg ServerConfig, handler UpdateHandler, m *metrics.Metrics) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("http: update handler is required")
	}

	listen := cfg.Listen
	if listen == "" {
		listen = ":8080"
	}
	timeout := cfg.UpdateTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	L_debug("http: NewServer", "listen", listen, "secret", cfg.WebhookSecret != "", "metrics", m != nil)

	s := &Server{
		handler: handler,
		metrics: m,
		secret:  cfg.WebhookSecret,
		timeout: timeout,
	}

	s.server = &http.Server{
		Addr:         listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeout + ackMargin,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler (without a listener).
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Middleware chain: logging -> strip headers [-> request id -> secret]
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(h))
	}

	mux.HandleFunc(HealthPath, wrap(s.handleHealth))
	mux.HandleFunc(WebhookPath, wrap(s.withRequestID(s.checkSecret(s.handleWebhook))))
	if s.metrics != nil {
		mux.HandleFunc(MetricsPath, wrap(s.metrics.Handler().ServeHTTP))
	}

	return mux
}

// Start binds the listen address and serves in the background.
// Bind errors are returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && err != http.ErrServerClosed && !IsShuttingDown() {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server, waiting for in-flight
// updates until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}
