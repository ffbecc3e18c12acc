package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solforge/service/config"
	"github.com/brojonat/solforge/service/db"
	"github.com/brojonat/solforge/service/metrics"
	natspkg "github.com/brojonat/solforge/service/nats"
	"github.com/brojonat/solforge/service/priorityfee"
	"github.com/brojonat/solforge/service/privy"
	"github.com/brojonat/solforge/service/solana"
	"github.com/brojonat/solforge/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles the server's collaborators. Store, Wallet, and Assembler
// are required. The rest degrade gracefully when nil: no Bridge disables
// delegated signing, no Provider disables fee estimation, no Submitter
// falls back to direct broadcast, no Publisher skips lifecycle events,
// no SSEPublisher disables streaming, and no Metrics disables /metrics.
type Deps struct {
	Store        *db.Store
	Wallet       *solana.WalletHandle
	Assembler    *solana.Assembler
	Bridge       *privy.Bridge
	Provider     priorityfee.Provider
	Submitter    temporal.TransferSubmitter
	Publisher    natspkg.Publisher
	SSEPublisher *SSEPublisher
	Metrics      *metrics.Metrics
}

// Server is the HTTP front of the transaction service.
type Server struct {
	addr   string
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
	server *http.Server
}

// New assembles a Server from its dependencies. Routes are registered
// lazily in Start so optional deps can stay nil.
func New(addr string, cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// routes builds the full handler tree.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// instrument wraps JSON API handlers with the HTTP metrics middleware.
	// SSE handlers are never wrapped: the middleware's response writer does
	// not forward Flush.
	instrument := func(name string, h http.Handler) http.Handler {
		if s.deps.Metrics == nil {
			return h
		}
		return metrics.HTTPMetricsMiddleware(s.deps.Metrics, name)(h)
	}

	// Transfer pipeline routes
	mux.Handle("POST /api/v1/transfers", instrument("/api/v1/transfers",
		handleCreateTransfer(s.deps.Store, s.deps.Wallet, s.deps.Assembler, s.deps.Bridge, s.deps.Submitter, s.deps.Publisher, s.deps.Metrics, s.cfg, s.logger)))
	mux.Handle("GET /api/v1/transfers", instrument("/api/v1/transfers",
		handleListTransfers(s.deps.Store, s.logger)))
	mux.Handle("GET /api/v1/transfers/{id}", instrument("/api/v1/transfers/{id}",
		handleGetTransfer(s.deps.Store, s.logger)))

	// Standalone signing and broadcast for externally assembled payloads
	mux.Handle("POST /api/v1/transactions/sign", instrument("/api/v1/transactions/sign",
		handleSignTransaction(s.deps.Wallet, s.deps.Bridge, s.deps.Metrics, s.logger)))
	mux.Handle("POST /api/v1/transactions/broadcast", instrument("/api/v1/transactions/broadcast",
		handleBroadcastTransaction(s.deps.Store, s.deps.Assembler, s.deps.Submitter, s.deps.Publisher, s.logger)))

	if s.deps.Provider != nil {
		mux.Handle("GET /api/v1/fees/estimate", instrument("/api/v1/fees/estimate",
			handleEstimateFee(s.deps.Provider, s.logger)))
		s.logger.Info("fee estimation endpoint enabled", "provider", s.deps.Provider.Name())
	} else {
		s.logger.Warn("no priority fee provider configured, fee estimation endpoint disabled")
	}

	if s.deps.SSEPublisher != nil {
		mux.Handle("GET /api/v1/stream/transfers/{address}", handleStreamTransfers(s.deps.SSEPublisher, s.deps.Metrics, s.logger))
		mux.Handle("GET /api/v1/stream/transfers", handleStreamTransfers(s.deps.SSEPublisher, s.deps.Metrics, s.logger))
		s.logger.Info("transfer event streaming enabled")
	} else {
		s.logger.Warn("no SSE publisher, transfer event streaming disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start registers routes and serves until Shutdown. The write timeout
// covers JSON responses; SSE handlers clear their own deadline.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown disconnects SSE clients, then drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("draining http server")

	if s.deps.SSEPublisher != nil {
		s.deps.SSEPublisher.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware answers preflight requests and stamps CORS headers on
// everything else. The API serves browser wallets, so any origin may
// call it.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
