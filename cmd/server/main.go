package main

import (
	"context"
	"log/slog"
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
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("server starting", "addr", cfg.ServerAddr, "log_level", cfg.LogLevel)

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
	if err := db.Migrate(ctx, dbPool); err != nil {
		fatal("failed to apply migrations", err)
	}
	store := db.NewStore(dbPool)
	logger.Info("journal database ready")

	metricsCollector := metrics.NewMetrics(nil)

	// Assembly pipeline: RPC client, priority fee provider, and the
	// assembler that sizes drafts through simulation.
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
	logger.Info("solana assembler ready",
		"rpc_url", cfg.SolanaRPCURL,
		"priority_fee_provider", cfg.PriorityFeeProvider,
	)

	// The service wallet signs locally when a key is configured;
	// otherwise it is an address-only handle whose artifacts carry
	// placeholder signatures for a custodial signer to fill in.
	var wallet *solana.WalletHandle
	if cfg.SigningKey != "" {
		wallet, err = solana.NewWalletHandle(cfg.SigningKey)
	} else {
		wallet, err = solana.NewDelegatedWalletHandle(cfg.WalletAddress)
	}
	if err != nil {
		fatal("failed to create wallet handle", err)
	}
	if cfg.FeePayerKey != "" {
		wallet, err = wallet.WithFeePayer(cfg.FeePayerKey)
		if err != nil {
			fatal("failed to attach fee payer", err)
		}
	}
	logger.Info("service wallet ready",
		"address", wallet.Pubkey().String(),
		"local_signing", wallet.CanSign(),
	)

	var bridge *privy.Bridge
	if cfg.DelegatedSigningEnabled() {
		bridge, err = privy.NewBridge(cfg.PrivyBaseURL, cfg.PrivyAppID, cfg.PrivyAppSecret, cfg.PrivySigningKey, nil, logger)
		if err != nil {
			fatal("failed to create privy bridge", err)
		}
		logger.Info("delegated signing bridge ready")
	}

	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		fatal("failed to create NATS publisher", err)
	}
	defer natsPublisher.Close()

	// The SSE fan-out consumes the same stream over its own connection.
	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		fatal("failed to create SSE publisher", err)
	}
	defer ssePublisher.Close()

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

	httpServer := server.New(cfg.ServerAddr, cfg, server.Deps{
		Store:        store,
		Wallet:       wallet,
		Assembler:    assembler,
		Bridge:       bridge,
		Provider:     provider,
		Submitter:    temporalClient,
		Publisher:    natsPublisher,
		SSEPublisher: ssePublisher,
		Metrics:      metricsCollector,
	}, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		fatal("server failed", err)
	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fatal("graceful shutdown failed", err)
		}
		logger.Info("server stopped")
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
