package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/salon-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/salon-booking-engine/internal/api/router"
	"github.com/wolfman30/salon-booking-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/salon-booking-engine/internal/config"
	"github.com/wolfman30/salon-booking-engine/internal/events"
	"github.com/wolfman30/salon-booking-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/salon-booking-engine/internal/http/middleware"
	"github.com/wolfman30/salon-booking-engine/internal/payments"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

func main() {
	// Load configuration
	cfg := mainconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting salon booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_store", cfg.UseMemoryStore,
	)
	if cfg.IsProduction() && cfg.ServiceJWTSecret == "" {
		logger.Error("SERVICE_JWT_SECRET is required in production")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, registry := setupMetrics()
	engine, err := bootstrap.BuildEngine(ctx, cfg, logger, registry)
	if err != nil {
		logger.Error("failed to build booking engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	limiter := httpmiddleware.NewRateLimiter(cfg.BookingRatePerSec, cfg.BookingRateBurst)
	go limiter.RunEviction(ctx, 5*time.Minute)

	inline := setupInlineWorkers(ctx, cfg, engine, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildRouter(cfg, engine, metricsHandler, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	waitForInlineWorkers(inline, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry
}

func buildRouter(cfg *appconfig.Config, engine *bootstrap.Engine, metricsHandler http.Handler, limiter *httpmiddleware.RateLimiter, logger *logging.Logger) http.Handler {
	routerCfg := &router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(engine.HealthChecks()),
		Availability:       handlers.NewAvailabilityHandler(engine.Resolver, engine.Catalog, engine.Business, cfg.BusinessID, logger),
		Appointments:       handlers.NewAppointmentsHandler(engine.Coordinator, logger),
		MetricsHandler:     metricsHandler,
		ServiceJWTSecret:   cfg.ServiceJWTSecret,
		ServiceJWTAudience: cfg.ServiceJWTAudience,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		BookingLimiter:     limiter,
	}
	if cfg.StripeSecretKey != "" {
		if cfg.StripeWebhookSecret == "" && cfg.IsProduction() {
			logger.Warn("STRIPE_WEBHOOK_SECRET missing; stripe webhooks disabled")
		} else {
			routerCfg.StripeWebhook = payments.NewStripeWebhookHandler(cfg.StripeWebhookSecret, engine.Coordinator, engine.Processed, logger)
		}
	}
	if engine.FakeCheckout != nil {
		routerCfg.FakePayments = payments.NewFakePaymentsHandler(engine.FakeCheckout, engine.Coordinator, engine.Processed, logger)
	}
	return router.New(routerCfg)
}

// setupInlineWorkers runs the lifecycle scans and outbox delivery inside the
// API process when state lives in memory, since no other process can see it.
func setupInlineWorkers(ctx context.Context, cfg *appconfig.Config, engine *bootstrap.Engine, logger *logging.Logger) *sync.WaitGroup {
	if !cfg.UseMemoryStore {
		return nil
	}
	var wg sync.WaitGroup
	worker := bootstrap.BuildLifecycleWorker(engine)
	handler, cleanup, err := bootstrap.BuildDeliveryHandler(ctx, cfg, mainconfig.LoadAWSConfig, logger)
	if err != nil {
		logger.Warn("notification transport unavailable; logging notifications", "error", err)
		handler, cleanup = events.NewLogHandler(logger), func() {}
	}
	deliverer := bootstrap.BuildDeliverer(engine, handler)

	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cleanup()
		deliverer.Start(ctx)
	}()
	logger.Info("inline lifecycle worker started", "interval", cfg.WorkerInterval)
	return &wg
}

func waitForInlineWorkers(wg *sync.WaitGroup, logger *logging.Logger) {
	if wg == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline workers stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("inline workers did not stop in time")
	}
}
