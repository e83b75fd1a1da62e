package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirstok/backend/internal/barcode"
	"kasirstok/backend/internal/cache"
	"kasirstok/backend/internal/cart"
	"kasirstok/backend/internal/config"
	"kasirstok/backend/internal/httpapi"
	"kasirstok/backend/internal/logger"
	"kasirstok/backend/internal/service"
	"kasirstok/backend/internal/store"
	"kasirstok/backend/internal/store/memory"
	pgstore "kasirstok/backend/internal/store/postgres"
)

type userRepository interface {
	store.Repository
	httpapi.UserStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logger())
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo userRepository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
		if memory.UsesDefaultCredentials() {
			log.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
		}
	}

	var snapshots cart.SnapshotStore = cache.NoopCartSnapshots{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCartSnapshots(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, carts will not survive restarts", zap.Error(err))
			_ = redisCache.Close()
		} else {
			snapshots = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cart snapshots: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cart snapshots: noop")
	}

	svc := service.New(repo,
		barcode.NewGenerator(barcode.WithMaxAttempts(cfg.BarcodeMaxAttempts)),
		snapshots,
		log,
		serviceOptions(cfg))
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(log.Named("http.server")),
	}

	go func() {
		log.Info("stock ledger backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func serviceOptions(cfg config.Config) service.Options {
	return service.Options{
		PriceRoundingStep:       decimal.NewFromInt(cfg.PriceRoundingStep),
		StrictLedger:            cfg.StrictLedger,
		RestoreBulkBarcodeUnits: cfg.RestoreBulkBarcodeUnits,
		CartTTL:                 cfg.CartTTL,
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	return nil
}
