package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicedesk/voicedesk/internal/api"
	"github.com/voicedesk/voicedesk/internal/config"
	"github.com/voicedesk/voicedesk/internal/database"
	"github.com/voicedesk/voicedesk/internal/metrics"
	"github.com/voicedesk/voicedesk/internal/monitor"
	"github.com/voicedesk/voicedesk/internal/telephony"
	"github.com/voicedesk/voicedesk/internal/ticketing"
	"github.com/voicedesk/voicedesk/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voicedesk",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	calls := database.NewCallLogRepository(db)
	samples := database.NewMetricsRepository(db)

	// Construct the three integration services.
	tel := telephony.NewService(logger, cfg.ProbeTimeout, cfg.LivenessInterval)
	tick := ticketing.NewService(logger, cfg.TicketingTimeout)
	speech := voice.NewService(logger, cfg.SpeechTimeout,
		cfg.EngineBinDir, cfg.SpeechModelDir, cfg.AudioOutDir)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Periodic health snapshots and the incoming-call relay.
	mon := monitor.New(logger, cfg.MonitorInterval, tel, tick, speech, calls, samples)
	mon.Start(appCtx)

	// Prometheus registry with process/runtime collectors plus our own.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(tel, tick, speech, calls, time.Now()),
	)
	promHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	handler := api.NewServer(cfg, tel, tick, speech, calls, samples, promHandler)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()
	tel.Unregister()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voicedesk stopped")
}
