// Package gateway is the ingestion edge: webhook validation, idempotency,
// durable enqueue onto the review streams, plus the live SSE surface and
// operational endpoints.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redpen-ai/redpen/internal/broker"
	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/idempotency"
	"github.com/redpen-ai/redpen/internal/metrics"
	"github.com/redpen-ai/redpen/internal/review"
)

// StateWriter is the slice of the review state store the gateway needs:
// recording that a request exists before any worker touches it.
type StateWriter interface {
	SavePending(ctx context.Context, req review.AsyncReviewRequest) error
}

// Server wires the webhook handler, SSE surface, and ops endpoints.
type Server struct {
	cfg     config.GatewayConfig
	stream  broker.Stream
	results broker.ResultStore
	keeper  *idempotency.Keeper
	states  StateWriter
	metrics *metrics.Metrics

	httpServer *http.Server
}

func NewServer(cfg config.GatewayConfig, stream broker.Stream, results broker.ResultStore, keeper *idempotency.Keeper, states StateWriter, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		stream:  stream,
		results: results,
		keeper:  keeper,
		states:  states,
		metrics: m,
	}
}

// Routes builds the mux. Exposed separately so handler tests can drive it
// through httptest without binding a port.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(correlationMiddleware)

	r.HandleFunc(s.cfg.WebhookPath, s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/reviews/{requestId}/events", s.handleReviewEvents).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("gateway listening", "addr", addr, "webhook_path", s.cfg.WebhookPath)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	// Ready means the broker answers; the idempotency keeper shares the
	// same backing store.
	if _, err := s.keeper.Exists(r.Context(), "readyz-probe"); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
