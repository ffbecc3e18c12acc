package main

import (
	"context"
	"fmt"
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
	"github.com/brojonat/solforge/service/privy"
	"github.com/brojonat/solforge/service/server"
	"github.com/brojonat/solforge/service/solana"
	"github.com/brojonat/solforge/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

// pipeline bundles the dependencies the serve and worker commands share.
type pipeline struct {
	pool      *pgxpool.Pool
	store     *db.Store
	metrics   *metrics.Metrics
	provider  priorityfee.Provider
	assembler *solana.Assembler
}

func (p *pipeline) close() {
	p.pool.Close()
}

// buildPipeline connects to Postgres, applies migrations, and stands up
// the assembly pipeline from config.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("journal database ready")

	metricsCollector := metrics.NewMetrics(nil)

	provider, err := priorityfee.ForEndpoint(cfg.PriorityFeeProvider, cfg.SolanaRPCURL, cfg.StaticPriorityFee, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to configure priority fee provider: %w", err)
	}
	assembler := solana.NewAssembler(solana.NewRPCClient(cfg.SolanaRPCURL), provider, solana.AssemblerConfig{
		ComputeUnitMargin: cfg.ComputeUnitMargin,
		RelayFeeLamports:  cfg.RelayFeeLamports,
		SkipPreflight:     cfg.SkipPreflight,
		ConfirmTimeout:    cfg.ConfirmTimeout,
		ConfirmInterval:   cfg.ConfirmInterval,
	}, endpointLabel(cfg.SolanaRPCURL), metricsCollector, logger)
	logger.Info("solana assembler ready",
		"rpc_url", cfg.SolanaRPCURL,
		"priority_fee_provider", cfg.PriorityFeeProvider,
	)

	return &pipeline{
		pool:      pool,
		store:     db.NewStore(pool),
		metrics:   metricsCollector,
		provider:  provider,
		assembler: assembler,
	}, nil
}

// buildWallet constructs the service wallet handle from config: a
// signing handle when a key is present, an address-only handle
// otherwise.
func buildWallet(cfg *config.Config) (*solana.WalletHandle, error) {
	var wallet *solana.WalletHandle
	var err error
	if cfg.SigningKey != "" {
		wallet, err = solana.NewWalletHandle(cfg.SigningKey)
	} else {
		wallet, err = solana.NewDelegatedWalletHandle(cfg.WalletAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet handle: %w", err)
	}
	if cfg.FeePayerKey != "" {
		wallet, err = wallet.WithFeePayer(cfg.FeePayerKey)
		if err != nil {
			return nil, fmt.Errorf("failed to attach fee payer: %w", err)
		}
	}
	return wallet, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the transfer HTTP server",
		Description: `Starts the HTTP API with every dependency wired: Postgres journal,
Solana assembly pipeline, NATS lifecycle events, SSE fan-out, the
Temporal submitter, and (when Privy credentials are configured) the
delegated signing bridge. Configuration comes from the environment.`,
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("server starting", "addr", cfg.ServerAddr, "log_level", cfg.LogLevel)

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			p, err := buildPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer p.close()

			wallet, err := buildWallet(cfg)
			if err != nil {
				return err
			}
			logger.Info("service wallet ready",
				"address", wallet.Pubkey().String(),
				"local_signing", wallet.CanSign(),
			)

			var bridge *privy.Bridge
			if cfg.DelegatedSigningEnabled() {
				bridge, err = privy.NewBridge(cfg.PrivyBaseURL, cfg.PrivyAppID, cfg.PrivyAppSecret, cfg.PrivySigningKey, nil, logger)
				if err != nil {
					return fmt.Errorf("failed to create privy bridge: %w", err)
				}
				logger.Info("delegated signing bridge ready")
			}

			natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
			if err != nil {
				return fmt.Errorf("failed to create NATS publisher: %w", err)
			}
			defer natsPublisher.Close()

			ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
			if err != nil {
				return fmt.Errorf("failed to create SSE publisher: %w", err)
			}
			defer ssePublisher.Close()

			temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
			if err != nil {
				return fmt.Errorf("failed to create temporal client: %w", err)
			}
			defer temporalClient.Close()

			httpServer := server.New(cfg.ServerAddr, cfg, server.Deps{
				Store:        p.store,
				Wallet:       wallet,
				Assembler:    p.assembler,
				Bridge:       bridge,
				Provider:     p.provider,
				Submitter:    temporalClient,
				Publisher:    natsPublisher,
				SSEPublisher: ssePublisher,
				Metrics:      p.metrics,
			}, logger)

			serverErrors := make(chan error, 1)
			go func() {
				serverErrors <- httpServer.Start()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)
			case sig := <-shutdown:
				logger.Info("shutting down", "signal", sig.String())

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer shutdownCancel()

				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("graceful shutdown: %w", err)
				}
				logger.Info("server stopped")
				return nil
			}
		},
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the durable submission worker",
		Description: `Starts the Temporal worker that broadcasts signed transactions,
polls for confirmation, reconciles stuck transfers on a schedule, and
publishes lifecycle events. Configuration comes from the environment.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Prometheus metrics listen address",
				EnvVars: []string{"METRICS_ADDR"},
				Value:   ":9091",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("worker starting",
				"temporal_host", cfg.TemporalHost,
				"namespace", cfg.TemporalNamespace,
				"task_queue", cfg.TemporalTaskQueue,
			)

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			p, err := buildPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer p.close()

			metricsServer := &http.Server{
				Addr:    c.String("metrics-addr"),
				Handler: promhttp.Handler(),
			}
			go func() {
				logger.Info("metrics listening", "addr", metricsServer.Addr)
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics listener failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					logger.Error("metrics shutdown failed", "error", err)
				}
			}()

			natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
			if err != nil {
				return fmt.Errorf("failed to create NATS publisher: %w", err)
			}
			defer natsPublisher.Close()

			temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
			if err != nil {
				return fmt.Errorf("failed to create temporal client: %w", err)
			}
			defer temporalClient.Close()

			if err := temporalClient.CreateReconcileSchedule(ctx, cfg.ReconcileInterval); err != nil {
				return fmt.Errorf("failed to create reconcile schedule: %w", err)
			}
			logger.Info("reconcile schedule ready", "interval", cfg.ReconcileInterval)

			worker, err := temporal.NewWorker(temporal.WorkerConfig{
				TemporalHost:      cfg.TemporalHost,
				TemporalNamespace: cfg.TemporalNamespace,
				TaskQueue:         cfg.TemporalTaskQueue,
				Store:             p.store,
				SolanaClient:      p.assembler,
				Publisher:         natsPublisher,
				Metrics:           p.metrics,
				Logger:            logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create temporal worker: %w", err)
			}

			workerErrors := make(chan error, 1)
			go func() {
				workerErrors <- worker.Start()
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-workerErrors:
				return fmt.Errorf("worker error: %w", err)
			case sig := <-shutdown:
				logger.Info("shutting down", "signal", sig.String())
				worker.Stop()
				logger.Info("worker stopped")
				return nil
			}
		},
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

// endpointLabel extracts a short identifier from the Solana RPC URL
// for metrics labeling.
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
