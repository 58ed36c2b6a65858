package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chipin/chipin/service/balance"
	"github.com/chipin/chipin/service/config"
	"github.com/chipin/chipin/service/db"
	"github.com/chipin/chipin/service/metrics"
	natspkg "github.com/chipin/chipin/service/nats"
	"github.com/chipin/chipin/service/server"
	solanapkg "github.com/chipin/chipin/service/solana"
	"github.com/chipin/chipin/service/temporal"
	sdk "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment.
	// This fails fast if any required config is missing or invalid.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)

	m := metrics.NewMetrics(nil)

	// Solana chain client and transfer executor
	// Note: For premium RPC endpoints, include API key in the URL
	mint, err := sdk.PublicKeyFromBase58(cfg.USDCMintAddress)
	if err != nil {
		logger.Error("invalid USDC mint address", "error", err)
		os.Exit(1)
	}
	rpcClient := rpc.New(cfg.SolanaRPCURL)
	chain := solanapkg.NewClient(rpcClient, mint, m, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	keys, err := solanapkg.LoadKeyringFile(cfg.KeyringPath)
	if err != nil {
		logger.Error("failed to load keyring", "error", err, "path", cfg.KeyringPath)
		os.Exit(1)
	}

	feePayer, err := sdk.PrivateKeyFromSolanaKeygenFile(cfg.FeePayerKeyPath)
	if err != nil {
		logger.Error("failed to load fee payer key", "error", err, "path", cfg.FeePayerKeyPath)
		os.Exit(1)
	}

	executor, err := solanapkg.NewExecutor(solanapkg.ExecutorConfig{
		RPC:            rpcClient,
		Keys:           keys,
		Pooled:         store,
		Mint:           mint,
		Decimals:       uint8(cfg.USDCDecimals),
		FeePayer:       feePayer,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		logger.Error("failed to create transfer executor", "error", err)
		os.Exit(1)
	}

	// NATS publisher for transfer events and the live balance feed
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err, "url", cfg.NATSURL)
		os.Exit(1)
	}
	defer publisher.Close()

	feed, err := natspkg.NewBalanceFeed(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to subscribe to balance feed", "error", err)
		os.Exit(1)
	}
	defer feed.Close()

	ssePublisher, err := server.NewSSEPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to create SSE publisher", "error", err)
		os.Exit(1)
	}

	// Temporal client for uncertain-transfer reconciliation
	scheduler, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to connect to temporal", "error", err, "host", cfg.TemporalHost)
		os.Exit(1)
	}
	defer scheduler.Close()

	resolver := balance.NewResolver(balance.ResolverConfig{
		Live:    feed,
		Cached:  balance.NewCache(),
		Fetcher: chain,
		Shared:  server.NewSharedWalletReader(store, chain),
		Logger:  logger,
		Metrics: m,
	})

	engine, err := server.NewEngine(server.EngineConfig{
		Store:     store,
		Publisher: publisher,
		Scheduler: scheduler,
		Validator: executor,
		Executor:  executor,
		Chain:     chain,
		Keys:      keys,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		logger.Error("failed to create transfer engine", "error", err)
		os.Exit(1)
	}

	httpServer := server.New(cfg.ServerAddr, cfg, store, engine, resolver, scheduler, ssePublisher, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
