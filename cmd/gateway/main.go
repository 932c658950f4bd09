package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rdeshpande/chat-gateway/internal/chat"
	"github.com/rdeshpande/chat-gateway/internal/config"
	"github.com/rdeshpande/chat-gateway/internal/limiter"
	"github.com/rdeshpande/chat-gateway/internal/llmconfig"
	"github.com/rdeshpande/chat-gateway/internal/provider"
	"github.com/rdeshpande/chat-gateway/internal/relay"
	"github.com/rdeshpande/chat-gateway/internal/server"
	"github.com/rdeshpande/chat-gateway/internal/storage/sqldb"
	"github.com/rdeshpande/chat-gateway/internal/telemetry"
	"github.com/rdeshpande/chat-gateway/internal/tokens"
	"github.com/rdeshpande/chat-gateway/internal/vault"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("chat-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sqldb.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	secrets := vault.NewClient(cfg.Vault.HostURL, cfg.Vault.Product, cfg.Vault.ReadKey, cfg.Vault.WriteKey)
	resolver := llmconfig.NewResolver(store, secrets, logger)

	orch := chat.NewOrchestrator(resolver, store, provider.NewRegistry(), relay.New(logger),
		chat.WithLogger(logger),
		chat.WithProviderTimeout(cfg.Provider.Timeout),
		chat.WithUsage(tokens.NewEstimator(logger)),
	)

	opts := server.Options{Port: cfg.Server.Port}
	if cfg.Redis.Addr != "" && cfg.RateLimit.TurnsPerHour > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
		opts.TurnLimiter = limiter.NewTurnLimiter(rdb, int64(cfg.RateLimit.TurnsPerHour))
		opts.TurnLimit = cfg.RateLimit.TurnsPerHour
	}

	srv := server.New(opts, server.NewHandlers(orch, resolver, logger), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("rate_limiting", opts.TurnLimiter != nil))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-sigCh:
		logger.Info("shutdown signal received, stopping gateway")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("gateway shutdown complete")
}
