package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/solforge/service/config"
	"github.com/brojonat/solforge/service/db"
	"github.com/brojonat/solforge/service/metrics"
	natspkg "github.com/brojonat/solforge/service/nats"
	"github.com/brojonat/solforge/service/priorityfee"
	"github.com/brojonat/solforge/service/solana"
	"github.com/brojonat/solforge/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("worker starting",
		"task_queue", cfg.TemporalTaskQueue,
		"temporal", cfg.TemporalHost,
		"log_level", cfg.LogLevel,
	)

	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		fatal("failed to ping database", err)
	}

	// The worker may come up before the server; migrations are idempotent.
	if err := db.Migrate(ctx, dbPool); err != nil {
		fatal("failed to apply migrations", err)
	}
	store := db.NewStore(dbPool)
	logger.Info("journal database ready")

	metricsCollector := metrics.NewMetrics(nil)

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9091"
	}
	stopMetrics := serveMetrics(metricsAddr, logger)
	defer stopMetrics()

	// Activities broadcast and confirm through the same assembler the
	// server uses for synchronous requests.
	rpcClient := solana.NewRPCClient(cfg.SolanaRPCURL)
	provider, err := priorityfee.ForEndpoint(cfg.PriorityFeeProvider, cfg.SolanaRPCURL, cfg.StaticPriorityFee, logger)
	if err != nil {
		fatal("failed to configure priority fee provider", err)
	}
	assembler := solana.NewAssembler(rpcClient, provider, solana.AssemblerConfig{
		ComputeUnitMargin: cfg.ComputeUnitMargin,
		RelayFeeLamports:  cfg.RelayFeeLamports,
		SkipPreflight:     cfg.SkipPreflight,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		ConfirmInterval:   cfg.ConfirmInterval,
	}, endpointLabel(cfg.SolanaRPCURL), metricsCollector, logger)
	logger.Info("solana assembler ready", "rpc_url", cfg.SolanaRPCURL)

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		fatal("failed to create NATS publisher", err)
	}
	defer natsPublisher.Close()

	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		fatal("failed to create temporal client", err)
	}
	defer temporalClient.Close()

	// Schedule creation is idempotent and corrects the interval when it
	// drifts from config.
	if err := temporalClient.CreateReconcileSchedule(ctx, cfg.ReconcileInterval); err != nil {
		fatal("failed to create reconcile schedule", err)
	}
	logger.Info("reconcile schedule ready", "interval", cfg.ReconcileInterval)

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Store:             store,
		SolanaClient:      assembler,
		Publisher:         natsPublisher,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		fatal("failed to create temporal worker", err)
	}

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		fatal("worker failed", err)
	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())
		worker.Stop()
		logger.Info("worker stopped")
	}
}

// serveMetrics exposes the Prometheus registry on its own listener and
// returns a shutdown function.
func serveMetrics(addr string, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("metrics shutdown failed", "error", err)
		}
	}
}

// setupLogger creates a JSON logger at the configured level. Unknown
// levels fall back to info.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// endpointLabel extracts a short identifier from the Solana RPC URL for
// metrics labeling: "helius" for a Helius URL, "mainnet" for the public
// mainnet endpoint, the bare hostname when nothing matches.
func endpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}

	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "alchemy", "triton", "rpcpool"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	for _, cluster := range []string{"mainnet", "devnet", "testnet"} {
		if strings.Contains(host, cluster) {
			return cluster
		}
	}
	return host
}
