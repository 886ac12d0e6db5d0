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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/cartd"
	"finitefield.org/storefront-cartsync/internal/platform/config"
	"finitefield.org/storefront-cartsync/internal/platform/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("cartd")

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("cartd stopped with error", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	catalog := cartd.DefaultCatalog()
	if cfg.Catalog.File != "" {
		loaded, err := cartd.LoadCatalog(cfg.Catalog.File)
		if err != nil {
			return err
		}
		catalog = loaded
	}

	var store cartd.Store
	if cfg.Store.RedisURL != "" {
		redisStore, err := cartd.OpenRedisStore(ctx, cfg.Store.RedisURL, cfg.Store.TTL)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		store = redisStore
		logger.Info("using redis cart store", zap.Duration("ttl", cfg.Store.TTL))
	} else {
		store = cartd.NewMemoryStore(cfg.Store.TTL)
		logger.Info("using in-memory cart store", zap.Duration("ttl", cfg.Store.TTL))
	}

	router := cartd.NewRouter(cartd.Deps{
		Store:   store,
		Catalog: catalog,
		Storefront: cart.Storefront{
			SiteName:              cfg.Storefront.SiteName,
			WhatsApp:              cfg.Storefront.WhatsApp,
			Currency:              cfg.Storefront.Currency,
			FreeDeliveryThreshold: cfg.Storefront.FreeDeliveryThreshold,
		},
		Logger:        logger,
		CSRFHeader:    cfg.Session.CSRFHeader,
		SecureCookies: cfg.Session.Secure,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("cartd listening", zap.String("addr", server.Addr), zap.Int("products", len(catalog.Products())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
