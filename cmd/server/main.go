package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Psalm112/Dezentra/internal/api"
	"github.com/Psalm112/Dezentra/internal/balance"
	"github.com/Psalm112/Dezentra/internal/blockchain/evm"
	"github.com/Psalm112/Dezentra/internal/clock"
	"github.com/Psalm112/Dezentra/internal/config"
	"github.com/Psalm112/Dezentra/internal/database"
	"github.com/Psalm112/Dezentra/internal/geo"
	"github.com/Psalm112/Dezentra/internal/rates"
	"github.com/Psalm112/Dezentra/internal/trade"
	"github.com/Psalm112/Dezentra/internal/wallet"
	"github.com/Psalm112/Dezentra/internal/worker"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Dezentra wallet service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.Int("num_chains", len(cfg.Chains)))

	// Connect to database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Run migrations
	migrationPath := "internal/database/migrations/001_schema.sql"
	if err := db.RunMigrations(migrationPath); err != nil {
		logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
	} else {
		logger.Info("Database migrations applied successfully")
	}

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	// Wallet provider backed by the configured signing key
	provider, err := wallet.NewKeyedProvider(cfg.Wallet, logger)
	if err != nil {
		logger.Fatal("Failed to initialize wallet provider", zap.Error(err))
	}

	// Escrow ABI bindings shared by all chains
	escrow, err := evm.NewEscrow(logger)
	if err != nil {
		logger.Fatal("Failed to parse contract ABIs", zap.Error(err))
	}

	// Per-chain EVM clients
	invokers := make(map[uint64]evm.Invoker, len(cfg.Chains))
	readers := make(map[uint64]evm.BalanceReader, len(cfg.Chains))
	checkers := make(map[uint64]worker.ReceiptChecker, len(cfg.Chains))
	clients := make([]*evm.Client, 0, len(cfg.Chains))
	for chainID := range cfg.Chains {
		chainCfg := cfg.Chains[chainID]
		client, err := evm.NewClient(&chainCfg, provider, logger)
		if err != nil {
			logger.Fatal("Failed to connect to chain",
				zap.Uint64("chain_id", chainID),
				zap.Error(err))
		}
		invokers[chainID] = client
		readers[chainID] = client
		checkers[chainID] = client
		clients = append(clients, client)
	}
	defer func() {
		for _, client := range clients {
			client.Close()
		}
	}()

	logger.Info("Chain clients initialized", zap.Int("num_chains", len(clients)))

	// Services
	clk := clock.System{}
	resolver := geo.NewResolver(cfg.Geo, db, clk, logger)
	priceSource := rates.NewHTTPPriceSource(cfg.PriceSource, logger)
	rateService := rates.NewService(cfg, priceSource, resolver, db, clk, logger)
	defer rateService.Close()

	tracker := balance.NewTracker(cfg, readers, rateService, resolver, logger)
	defer tracker.Suspend()

	session := wallet.NewSession(cfg, provider, tracker, rateService, logger)
	orchestrator := trade.NewOrchestrator(cfg, session, invokers, escrow, tracker, db, clk, logger)
	defer orchestrator.Close()

	logger.Info("Services initialized")

	// API
	apiHandler := api.NewHandler(session, orchestrator, rateService, tracker, db, logger)
	router := api.SetupRouter(apiHandler, logger)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Confirmation watcher
	watcher := worker.NewWatcher(db, checkers, logger)
	watcher.Start()

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := watcher.Shutdown(10 * time.Second); err != nil {
		logger.Error("Watcher shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
