// Package main is the entry point for the BrokerDesk billing API server.
//
// It loads configuration, connects the Postgres pool, wires the gateway
// client, transition executor and HTTP handlers, and serves requests until a
// shutdown signal arrives. Graceful shutdown drains in-flight requests before
// closing the database pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"brokerdesk/internal/api/handlers"
	"brokerdesk/internal/billing"
	"brokerdesk/internal/config"
	"brokerdesk/internal/core"
	"brokerdesk/internal/db"
	"brokerdesk/internal/external"
	"brokerdesk/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("brokerdesk billing API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Repositories share the pool through the DBTX interface.
	users := db.NewUserRepository(pool)
	profiles := db.NewBillingProfileRepository(pool, logger)
	sessions := db.NewSessionRepository(pool)

	catalog, err := billing.NewCatalog(cfg.Billing.PriceTable())
	if err != nil {
		return fmt.Errorf("building plan catalog: %w", err)
	}

	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: cfg.Billing.GatewayTimeout},
		profiles,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)

	executor := billing.NewExecutor(stripeClient, profiles, catalog, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = sessions
	srv.HealthProbes = []core.HealthProbe{&db.PoolProbe{Pool: pool}}

	billingHandler := handlers.NewBillingHandler(
		executor,
		profiles,
		billing.NewStaticPlanRegistry(),
		cfg.Server.DashboardURL,
		srv.RequireRole(types.RoleAdmin),
		srv.Validator,
		logger,
	)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		users,
		profiles,
		stripeClient,
		executor,
		catalog,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		billingHandler.RegisterRoutes,
		func(r chi.Router) { webhookHandler.RegisterRoutes(r) },
	)

	srv.MountRoutes()

	return serve(ctx, srv, cfg, logger)
}

// serve runs the HTTP server until the context is cancelled, then shuts down
// gracefully with a bounded deadline.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
