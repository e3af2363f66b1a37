// Package api provides the HTTP surface for Patchbay.
//
// It exposes the Twilio inbound/status webhooks, the authenticated worker
// trigger that drains the outbox, and the producer endpoints that feed the
// queue (direct sends, lead and quote ingestion).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/patchbay-io/patchbay/internal/outbox"
	"github.com/patchbay-io/patchbay/internal/ratelimit"
	"github.com/patchbay-io/patchbay/internal/store"
)

// Send rate limit for the producer endpoint: 10 messages per minute per tenant.
const (
	sendBucket        = "send_sms"
	sendBucketCap     = 10
	sendRefillPerSec  = 10.0 / 60.0
	readHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the Server.
type Opts struct {
	Addr string
	// WorkerToken authenticates POST /worker/outbox callers.
	WorkerToken string
	// TwilioAuthToken verifies webhook signatures. Empty disables verification.
	TwilioAuthToken string
	// PublicBaseURL, when set, is the externally visible base URL used to
	// reconstruct the signed webhook URL behind proxies.
	PublicBaseURL string
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWorkerToken sets the outbox worker trigger token.
func WithWorkerToken(token string) Option {
	return func(o *Opts) { o.WorkerToken = token }
}

// WithTwilioAuthToken sets the token used for webhook signature checks.
func WithTwilioAuthToken(token string) Option {
	return func(o *Opts) { o.TwilioAuthToken = token }
}

// WithPublicBaseURL sets the externally visible base URL.
func WithPublicBaseURL(u string) Option {
	return func(o *Opts) { o.PublicBaseURL = u }
}

// Server wires the store, dispatcher and processor behind HTTP handlers.
type Server struct {
	store      store.Store
	dispatcher outbox.Dispatcher
	processor  *outbox.Processor
	limiter    *ratelimit.Limiter
	opts       Opts

	httpServer *http.Server
}

// NewServer creates a Server, falling back to PATCHBAY_ADDR,
// OUTBOX_WORKER_TOKEN, TWILIO_AUTH_TOKEN and PUBLIC_BASE_URL environment
// variables for anything not provided via options.
func NewServer(st store.Store, dispatcher outbox.Dispatcher, processor *outbox.Processor, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("PATCHBAY_ADDR")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.WorkerToken == "" {
		cfg.WorkerToken = os.Getenv("OUTBOX_WORKER_TOKEN")
	}
	if cfg.TwilioAuthToken == "" {
		cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = os.Getenv("PUBLIC_BASE_URL")
	}
	slog.Debug("Server config loaded",
		"addr", cfg.Addr,
		"WorkerToken_set", cfg.WorkerToken != "",
		"TwilioAuthToken_set", cfg.TwilioAuthToken != "",
		"publicBaseURL", cfg.PublicBaseURL)
	return &Server{
		store:      st,
		dispatcher: dispatcher,
		processor:  processor,
		limiter:    ratelimit.NewLimiter(st),
		opts:       cfg,
	}
}

// Handler builds the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/twilio/inbound", s.inboundWebhookHandler)
	r.Post("/webhooks/twilio/status", s.statusWebhookHandler)
	r.Post("/worker/outbox", s.workerOutboxHandler)
	r.Post("/v1/messages/send", s.sendMessageHandler)
	r.Post("/v1/leads", s.ingestLeadHandler)
	r.Post("/v1/quotes", s.ingestQuoteHandler)
	r.Get("/health", s.healthHandler)

	return r
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Server.Run: shut down cleanly")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		slog.Error("Server.healthHandler: write response", "error", err)
	}
}
