package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/salon-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/salon-booking-engine/internal/app/bootstrap"
	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMemoryStore {
		logger.Error("lifecycle worker requires DATABASE_URL; the API runs the scans inline in memory mode")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	engine, err := bootstrap.BuildEngine(ctx, cfg, logger, registry)
	if err != nil {
		logger.Error("failed to build booking engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	handler, cleanup, err := bootstrap.BuildDeliveryHandler(ctx, cfg, mainconfig.LoadAWSConfig, logger)
	if err != nil {
		logger.Error("failed to configure notification transport", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	worker := bootstrap.BuildLifecycleWorker(engine)
	deliverer := bootstrap.BuildDeliverer(engine, handler)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		deliverer.Start(ctx)
	}()

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("lifecycle worker started",
		"interval", cfg.WorkerInterval,
		"notify_transport", cfg.NotifyTransport,
		"metrics_addr", metricsSrv.Addr,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("lifecycle worker shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	wg.Wait()
}
